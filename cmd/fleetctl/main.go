// Command fleetctl is a small operator CLI over the fleet control plane's
// core library: pushing and checking hook items, spawning work agents,
// and waking specialists. It is not the external CLI surface described by
// the issue-tracker and dashboard integrations; it exists to drive the
// core library directly for local operation and tests.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/foreman-hq/fleet/internal/hook"
	"github.com/foreman-hq/fleet/internal/ids"
	"github.com/foreman-hq/fleet/internal/specialist"
	"github.com/foreman-hq/fleet/internal/statusui"
	"github.com/foreman-hq/fleet/internal/store"
	"github.com/foreman-hq/fleet/internal/supervisor"
	"github.com/foreman-hq/fleet/internal/tmux"
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Operate the fleet control plane's core library",
}

func controlRoot() (string, error) {
	if root := os.Getenv("FLEET_ROOT"); root != "" {
		return root, nil
	}
	return os.Getwd()
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Inspect and push to an agent's work hook",
}

var hookPushCmd = &cobra.Command{
	Use:   "push <agent-id> <message>",
	Short: "Push a message item onto an agent's hook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := controlRoot()
		if err != nil {
			return err
		}
		priority, err := cmd.Flags().GetString("priority")
		if err != nil {
			return err
		}
		h := hook.New(root)
		item, err := h.Push(args[0], store.HookItem{
			Type:     store.HookItemMessage,
			Priority: store.Priority(priority),
			Payload:  map[string]any{"message": args[1]},
		})
		if err != nil {
			return err
		}
		fmt.Printf("pushed %s\n", item.ID)
		return nil
	},
}

var hookCheckCmd = &cobra.Command{
	Use:   "check <agent-id>",
	Short: "Show an agent's pending hook items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := controlRoot()
		if err != nil {
			return err
		}
		h := hook.New(root)
		result, err := h.Check(args[0])
		if err != nil {
			return err
		}
		if !result.HasWork {
			fmt.Println("no pending work")
			return nil
		}
		for _, item := range result.Items {
			fmt.Printf("%s  [%s] %s\n", item.ID, item.Priority, item.Type)
		}
		return nil
	},
}

func init() {
	hookPushCmd.Flags().String("priority", string(store.PriorityNormal), "item priority (urgent|high|normal|low)")
	hookCmd.AddCommand(hookPushCmd, hookCheckCmd)
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <issue-id> <workspace>",
	Short: "Spawn a work agent for an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := controlRoot()
		if err != nil {
			return err
		}
		runtime, _ := cmd.Flags().GetString("runtime")
		model, _ := cmd.Flags().GetString("model")
		prompt, _ := cmd.Flags().GetString("prompt")

		driver := tmux.New()
		h := hook.New(root)
		sup := supervisor.New(root, driver, h, nil)
		state, err := sup.Spawn(supervisor.Options{
			IssueID:   args[0],
			Workspace: args[1],
			Runtime:   runtime,
			Model:     model,
			Prompt:    prompt,
		})
		if err != nil {
			return err
		}
		fmt.Printf("spawned %s (status=%s)\n", state.ID, state.Status)
		return nil
	},
}

func init() {
	spawnCmd.Flags().String("runtime", "claude", "assistant runtime binary")
	spawnCmd.Flags().String("model", "", "model name")
	spawnCmd.Flags().String("prompt", "", "initial prompt")
}

var wakeCmd = &cobra.Command{
	Use:   "wake <role> <issue-id> <prompt>",
	Short: "Wake a specialist with a task, queuing if it is busy",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := controlRoot()
		if err != nil {
			return err
		}
		role, err := ids.ParseRole(args[0])
		if err != nil {
			return err
		}
		priority, _ := cmd.Flags().GetString("priority")

		driver := tmux.New()
		h := hook.New(root)
		spec := specialist.New(root, driver, h)
		queued, err := spec.WakeSpecialistOrQueue(role, specialist.Task{
			IssueID:  args[1],
			Priority: store.Priority(priority),
			Prompt:   args[2],
		}, "fleetctl")
		if err != nil {
			return err
		}
		if queued {
			fmt.Println("queued")
		} else {
			fmt.Println("woken")
		}
		return nil
	},
}

func init() {
	wakeCmd.Flags().String("priority", string(store.PriorityNormal), "task priority (urgent|high|normal|low)")
	rootCmd.AddCommand(hookCmd, spawnCmd, wakeCmd, boardCmd)
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the read-only terminal status board",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := controlRoot()
		if err != nil {
			return err
		}
		driver := tmux.New()
		hooks := hook.New(root)
		sup := supervisor.New(root, driver, hooks, nil)
		spec := specialist.New(root, driver, hooks)
		collector := statusui.New(root, sup, spec)
		_, err = tea.NewProgram(statusui.NewModel(root, collector), tea.WithAltScreen()).Run()
		return err
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
