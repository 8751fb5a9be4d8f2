// Command fleetd is the fleet control plane's daemon entrypoint: it runs
// the Deacon's patrol loop as a long-lived background process.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/foreman-hq/fleet/internal/config"
	"github.com/foreman-hq/fleet/internal/daemon"
	"github.com/foreman-hq/fleet/internal/deacon"
	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/supervisor"
	"github.com/foreman-hq/fleet/internal/tmux"
)

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "Run the fleet control plane's Deacon patrol loop",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

var runCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal)",
	Hidden: true,
	RunE:   runForeground,
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func controlRoot() (string, error) {
	if root := os.Getenv("FLEET_ROOT"); root != "" {
		return root, nil
	}
	return os.Getwd()
}

func runStart(cmd *cobra.Command, args []string) error {
	root, err := controlRoot()
	if err != nil {
		return err
	}
	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("daemon already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}
	proc := exec.Command(exe, "run")
	proc.Dir = root
	proc.Env = append(os.Environ(), "FLEET_ROOT="+root)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	time.Sleep(200 * time.Millisecond)
	running, pid, err = daemon.IsRunning(root)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon failed to start")
	}
	fmt.Printf("daemon started (PID %d)\n", pid)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	root, err := controlRoot()
	if err != nil {
		return err
	}
	if err := daemon.StopDaemon(root); err != nil {
		return err
	}
	fmt.Println("daemon stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := controlRoot()
	if err != nil {
		return err
	}
	running, pid, err := daemon.IsRunning(root)
	if err != nil {
		return err
	}
	if !running {
		fmt.Println("daemon not running")
		return nil
	}
	state, _ := daemon.LoadState(root)
	fmt.Printf("daemon running (PID %d)\n", pid)
	if !state.StartedAt.IsZero() {
		fmt.Printf("started: %s\n", state.StartedAt.Format(time.RFC3339))
	}
	if state.TickCount > 0 {
		fmt.Printf("patrol ticks: %d (last %s)\n", state.TickCount, state.LastTick.Format(time.RFC3339))
	}
	return nil
}

// specialistBootPrompts gives each role a standing instruction to hand a
// freshly auto-initialized specialist session, since an auto-respawn has no
// caller around to supply a task-specific one.
var specialistBootPrompts = map[ids.Role]string{
	ids.RoleReview:   "You are the review-agent. Wait for tasks from the coordinator.",
	ids.RoleTest:     "You are the test-agent. Wait for tasks from the coordinator.",
	ids.RoleMerge:    "You are the merge-agent. Wait for tasks from the coordinator.",
	ids.RolePlanning: "You are the planning-agent. Wait for tasks from the coordinator.",
}

// defaultSpecialistTemplates builds the (workspace, command) the Deacon
// auto-initializes each specialist role with after a force-kill or when
// found dead out of cooldown. Specialists operate out of the control root
// rather than an issue workspace, so every role shares it.
func defaultSpecialistTemplates(root string) map[ids.Role]deacon.SpecialistTemplate {
	templates := make(map[ids.Role]deacon.SpecialistTemplate, len(ids.Roles))
	for _, role := range ids.Roles {
		templates[role] = deacon.SpecialistTemplate{
			Workspace: root,
			Cmd:       fmt.Sprintf("claude %q", specialistBootPrompts[role]),
		}
	}
	return templates
}

func runForeground(cmd *cobra.Command, args []string) error {
	root, err := controlRoot()
	if err != nil {
		return err
	}

	driver := tmux.New()
	hooks := hook.New(root)
	sup := supervisor.New(root, driver, hooks, nil)
	spec := specialist.New(root, driver, hooks)
	cfg, err := config.LoadDeaconConfig(root)
	if err != nil {
		return fmt.Errorf("loading deacon config: %w", err)
	}
	deaconMgr := deacon.NewManager(root, driver, sup, spec, hooks, cfg, defaultSpecialistTemplates(root), nil)

	d, err := daemon.New(daemon.DefaultConfig(root), deaconMgr)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}
