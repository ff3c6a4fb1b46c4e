package sandbox

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/events"
	"github.com/substratehq/playground/internal/infrastructure/logging"
)

// Process is a live process handle. Output is streamed onto the event bus
// as it arrives; ExitCode is set once the process exits.
type Process struct {
	ID        string
	Command   string
	Args      []string
	StartedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	exitCode *int
	tail     []byte
	done     chan struct{}
}

// tailLimit bounds how much recent output a process handle retains for
// post-mortem inspection (installer error classification).
const tailLimit = 64 * 1024

// Output returns the most recent output of the process, up to tailLimit.
func (p *Process) Output() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.tail))
	copy(out, p.tail)
	return out
}

func (p *Process) appendTail(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, data...)
	if len(p.tail) > tailLimit {
		p.tail = p.tail[len(p.tail)-tailLimit:]
	}
}

// ExitCode returns the exit code once the process has exited.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return 0, false
	}
	return *p.exitCode, true
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	code, _ := p.ExitCode()
	return code
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Registry tracks the live processes of one sandbox. A process is removed
// on exit or explicit kill.
type Registry struct {
	procs  sync.Map // id -> *Process
	bus    *events.Bus
	logger *logging.Logger
}

// NewRegistry creates a process registry publishing output on bus.
func NewRegistry(bus *events.Bus, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{bus: bus, logger: logger.Named("process")}
}

// Start spawns a command under a pty and registers it. The pty merges the
// process's stdout and stderr into one stream.
func (r *Registry) Start(cmd *exec.Cmd) (*Process, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	proc := &Process{
		ID:        uuid.New().String(),
		Command:   cmd.Path,
		Args:      cmd.Args,
		StartedAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
	}
	r.procs.Store(proc.ID, proc)

	go r.readOutput(proc)
	go r.monitor(proc)

	return proc, nil
}

// Get returns a live process by id.
func (r *Registry) Get(id string) (*Process, bool) {
	val, ok := r.procs.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*Process), true
}

// List returns all live processes.
func (r *Registry) List() []*Process {
	var procs []*Process
	r.procs.Range(func(_, value interface{}) bool {
		procs = append(procs, value.(*Process))
		return true
	})
	return procs
}

// Kill terminates one process and removes it from the registry.
func (r *Registry) Kill(id string) bool {
	proc, ok := r.Get(id)
	if !ok {
		return false
	}
	if err := proc.Kill(); err != nil {
		r.logger.Warn("failed to kill process", zap.String("id", id), zap.Error(err))
	}
	r.procs.Delete(id)
	return true
}

// KillAll terminates every live process.
func (r *Registry) KillAll() {
	r.procs.Range(func(key, value interface{}) bool {
		proc := value.(*Process)
		if err := proc.Kill(); err != nil {
			r.logger.Warn("failed to kill process",
				zap.String("id", proc.ID), zap.Error(err))
		}
		r.procs.Delete(key)
		return true
	})
}

// readOutput streams pty output onto the event bus until EOF.
func (r *Registry) readOutput(proc *Process) {
	buf := make([]byte, 4096)
	for {
		n, err := proc.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			proc.appendTail(data)
			if r.bus != nil {
				r.bus.Emit(events.ProcessOutput, events.ProcessOutputPayload{
					ProcessID: proc.ID,
					Stream:    "stdout",
					Data:      data,
					Timestamp: time.Now(),
				})
			}
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Debug("pty read ended", zap.String("id", proc.ID), zap.Error(err))
			}
			return
		}
	}
}

// monitor waits for process exit, records the code, and drops the handle.
func (r *Registry) monitor(proc *Process) {
	err := proc.cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	proc.mu.Lock()
	proc.exitCode = &code
	proc.mu.Unlock()
	close(proc.done)

	proc.ptmx.Close()
	r.procs.Delete(proc.ID)

	r.logger.Debug("process exited",
		zap.String("id", proc.ID),
		zap.Int("code", code),
	)
}
