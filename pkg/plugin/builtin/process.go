// Package builtin holds the plugins that ship with the orchestrator: a
// subprocess runtime and a log notifier. They are the fallbacks when no
// external plugin package is configured.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/agentops/ao/pkg/models"
	"github.com/agentops/ao/pkg/plugin"
)

// ErrUnknownHandle is returned for handles this runtime did not create.
var ErrUnknownHandle = errors.New("process runtime: unknown handle")

const outputBufferSize = 256 * 1024

// process tracks one spawned agent process.
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started time.Time

	mu     sync.Mutex
	output []byte
	exited bool
}

// appendOutput keeps the tail of the combined output bounded.
func (p *process) appendOutput(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = append(p.output, b...)
	if len(p.output) > outputBufferSize {
		p.output = p.output[len(p.output)-outputBufferSize:]
	}
}

// ProcessRuntime runs agents as direct child processes. It exists so the
// orchestrator works out of the box without tmux or a container engine.
type ProcessRuntime struct {
	mu        sync.Mutex
	processes map[string]*process
}

// NewProcessRuntime creates the builtin subprocess runtime.
func NewProcessRuntime() *ProcessRuntime {
	return &ProcessRuntime{processes: make(map[string]*process)}
}

func (r *ProcessRuntime) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        "process",
		Slot:        plugin.SlotRuntime,
		Version:     "1.0.0",
		Description: "runs agents as direct child processes",
	}
}

// Create launches cfg.Command through the shell in the workspace directory
// and starts collecting its combined output.
func (r *ProcessRuntime) Create(ctx context.Context, cfg plugin.RuntimeConfig) (*models.RuntimeHandle, error) {
	cmd := exec.Command("sh", "-c", cfg.Command)
	cmd.Dir = cfg.WorkspacePath
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group so Destroy can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process runtime: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process runtime: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process runtime: start %q: %w", cfg.Command, err)
	}

	proc := &process{cmd: cmd, stdin: stdin, started: time.Now()}
	id := uuid.NewString()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				proc.appendOutput(buf[:n])
			}
			if readErr != nil {
				break
			}
		}
		_ = cmd.Wait()
		proc.mu.Lock()
		proc.exited = true
		proc.mu.Unlock()
	}()

	r.mu.Lock()
	r.processes[id] = proc
	r.mu.Unlock()

	return &models.RuntimeHandle{
		ID:          id,
		RuntimeName: "process",
		Data:        map[string]any{"pid": cmd.Process.Pid},
	}, nil
}

// Destroy terminates the process group: SIGTERM, then SIGKILL after a
// short grace period.
func (r *ProcessRuntime) Destroy(ctx context.Context, handle *models.RuntimeHandle) error {
	proc, err := r.lookup(handle)
	if err != nil {
		return err
	}

	pgid := -proc.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			return ctx.Err()
		case <-deadline:
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			r.forget(handle.ID)
			return nil
		case <-tick.C:
			proc.mu.Lock()
			exited := proc.exited
			proc.mu.Unlock()
			if exited {
				r.forget(handle.ID)
				return nil
			}
		}
	}
}

// SendMessage writes msg plus a newline to the process stdin.
func (r *ProcessRuntime) SendMessage(ctx context.Context, handle *models.RuntimeHandle, msg string) error {
	proc, err := r.lookup(handle)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(proc.stdin, msg+"\n"); err != nil {
		return fmt.Errorf("process runtime: send: %w", err)
	}
	return nil
}

// Output returns the last lines of combined stdout and stderr.
func (r *ProcessRuntime) Output(ctx context.Context, handle *models.RuntimeHandle, lines int) (string, error) {
	proc, err := r.lookup(handle)
	if err != nil {
		return "", err
	}

	proc.mu.Lock()
	text := string(proc.output)
	proc.mu.Unlock()

	if lines <= 0 {
		return text, nil
	}
	all := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

func (r *ProcessRuntime) IsAlive(ctx context.Context, handle *models.RuntimeHandle) bool {
	proc, err := r.lookup(handle)
	if err != nil {
		return false
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return !proc.exited
}

// Metrics reports uptime for a live process.
func (r *ProcessRuntime) Metrics(ctx context.Context, handle *models.RuntimeHandle) (*models.RuntimeMetrics, error) {
	proc, err := r.lookup(handle)
	if err != nil {
		return nil, err
	}
	return &models.RuntimeMetrics{Uptime: time.Since(proc.started)}, nil
}

// AttachInfo points a human at the raw process.
func (r *ProcessRuntime) AttachInfo(handle *models.RuntimeHandle) (*models.AttachmentInfo, error) {
	proc, err := r.lookup(handle)
	if err != nil {
		return nil, err
	}
	pid := proc.cmd.Process.Pid
	return &models.AttachmentInfo{
		Type:    models.AttachProcess,
		Target:  fmt.Sprintf("%d", pid),
		Command: fmt.Sprintf("tail -f /proc/%d/fd/1", pid),
	}, nil
}

func (r *ProcessRuntime) lookup(handle *models.RuntimeHandle) (*process, error) {
	if handle == nil {
		return nil, ErrUnknownHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.processes[handle.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle.ID)
	}
	return proc, nil
}

func (r *ProcessRuntime) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processes, id)
}
