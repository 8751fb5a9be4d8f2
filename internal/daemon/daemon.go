// Package daemon wires the control plane's managers together into a
// single long-lived process: it acquires an exclusive lock, writes a PID
// file, starts the Deacon's patrol ticker, and waits on OS signals.
package daemon

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/foreman-hq/fleet/internal/deacon"
	"github.com/foreman-hq/fleet/internal/fsatomic"
)

// Config is the daemon's own process-level configuration, independent of
// the Deacon's patrol tunables.
type Config struct {
	Root     string
	LogFile  string
	PidFile  string
	LockFile string
}

// DefaultConfig derives the daemon's file locations under root/daemon/.
func DefaultConfig(root string) Config {
	dir := filepath.Join(root, "daemon")
	return Config{
		Root:     root,
		LogFile:  filepath.Join(dir, "daemon.log"),
		PidFile:  filepath.Join(dir, "daemon.pid"),
		LockFile: filepath.Join(dir, "daemon.lock"),
	}
}

// State is the daemon's own liveness record, read by `fleetd status`.
type State struct {
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	TickCount int       `json:"tickCount"`
	LastTick  time.Time `json:"lastTick"`
}

func stateFile(root string) string {
	return filepath.Join(root, "daemon", "state.json")
}

// LoadState reads the daemon's last-known state. A missing file is not an
// error: it reports a zero, not-running State.
func LoadState(root string) (State, error) {
	var s State
	if !fsatomic.Exists(stateFile(root)) {
		return s, nil
	}
	err := fsatomic.ReadJSON(stateFile(root), &s)
	return s, err
}

// SaveState persists the daemon's state atomically.
func SaveState(root string, s State) error {
	return fsatomic.WriteJSON(stateFile(root), s)
}

// Daemon is the background process: one Deacon patrol loop plus the
// signal-driven lifecycle around it.
type Daemon struct {
	config Config
	deacon *deacon.Manager
	logger *log.Logger
}

// New opens the daemon's log file and returns a Daemon ready to Run.
func New(cfg Config, deaconMgr *deacon.Manager) (*Daemon, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return &Daemon{
		config: cfg,
		deacon: deaconMgr,
		logger: log.New(logFile, "", log.LstdFlags),
	}, nil
}

// Run acquires the daemon's exclusive lock, starts the Deacon's patrol
// ticker, and blocks until a terminating signal arrives. SIGUSR1 runs one
// patrol pass immediately without waiting for the next tick; SIGINT and
// SIGTERM trigger graceful shutdown.
func (d *Daemon) Run() error {
	d.logger.Printf("daemon starting (PID %d)", os.Getpid())

	fileLock := flock.New(d.config.LockFile)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(d.config.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.config.PidFile) }()

	state := State{Running: true, PID: os.Getpid(), StartedAt: time.Now()}
	if err := SaveState(d.config.Root, state); err != nil {
		d.logger.Printf("warning: failed to save state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	d.deacon.Start()
	d.logger.Println("deacon patrol started")

	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			d.logger.Println("received SIGUSR1, running an immediate patrol pass")
			d.deacon.Tick()
			state.TickCount++
			state.LastTick = time.Now()
			if err := SaveState(d.config.Root, state); err != nil {
				d.logger.Printf("warning: failed to save state: %v", err)
			}
			continue
		}
		d.logger.Printf("received signal %v, shutting down", sig)
		break
	}

	d.deacon.Stop()
	state.Running = false
	if err := SaveState(d.config.Root, state); err != nil {
		d.logger.Printf("warning: failed to save final state: %v", err)
	}
	d.logger.Println("daemon stopped")
	return nil
}

// IsRunning checks the PID file and verifies the process is alive. The
// file lock acquired in Run is the authoritative mechanism for preventing
// duplicate daemons; this is for status checks and stale-file cleanup.
func IsRunning(root string) (bool, int, error) {
	cfg := DefaultConfig(root)
	data, err := os.ReadFile(cfg.PidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0, nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0, nil
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(cfg.PidFile)
		return false, 0, nil
	}
	return true, pid, nil
}

// StopDaemon sends SIGTERM to the running daemon and waits briefly for a
// graceful exit, force-killing it if it hasn't stopped.
func StopDaemon(root string) error {
	running, pid, err := IsRunning(root)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := process.Signal(syscall.Signal(0)); err == nil {
		_ = process.Signal(syscall.SIGKILL)
	}
	_ = os.Remove(DefaultConfig(root).PidFile)
	return nil
}
