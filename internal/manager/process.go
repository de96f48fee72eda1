// ABOUTME: Engine subprocess: spawn with piped stdio, forward stderr to the host log, reap on exit
// ABOUTME: Every live process is tracked in a registry so KillAll can clean up from signal handlers

package manager

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/pkg/transport"
)

// waitDelay bounds how long Wait lingers on pipes after the process exits.
const waitDelay = 2 * time.Second

type process struct {
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	conn   *transport.Conn

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// spawn starts info's binary. The process dies with ctx. stdout carries the
// protocol; stderr lines are forwarded to the host log.
func spawn(ctx context.Context, info EngineInfo) (*process, error) {
	cmd := exec.CommandContext(ctx, info.BinaryPath, info.Args...)
	cmd.Env = append(os.Environ(), info.Env...)
	setProcGroup(cmd)
	cmd.Cancel = func() error {
		return killProcGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	// Own the read ends so Wait never closes them under a pending read.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			f.Close()
		}
		return nil, fmt.Errorf("starting %s: %w", info.BinaryPath, err)
	}
	stdoutW.Close()
	stderrW.Close()

	p := &process{
		id:     info.ID,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdoutR,
		conn:   transport.New(stdoutR, stdin),
		done:   make(chan struct{}),
	}
	live.add(p)

	go forwardStderr(info.ID, stderrR)
	go func() {
		p.waitErr = cmd.Wait()
		live.remove(p)
		close(p.done)
	}()
	return p, nil
}

func forwardStderr(id string, r io.ReadCloser) {
	defer r.Close()
	logger := log.Named(id)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), transport.MaxLineSize)
	for scanner.Scan() {
		logger.Info("%s", scanner.Text())
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// kill terminates the process group. Safe to call repeatedly.
func (p *process) kill() {
	if err := killProcGroup(p.cmd); err != nil {
		log.Debug("killing engine %s: %v", p.id, err)
	}
}

// exited reports whether the process has been reaped.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// wait blocks until the process exits or d elapses.
func (p *process) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}

// release closes the host's pipe ends. The engine sees EOF on stdin.
func (p *process) release() {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.stdout.Close()
	})
}

// registry tracks every spawned, not yet reaped engine process.
type registry struct {
	mu    sync.Mutex
	procs map[*process]struct{}
}

var live = &registry{procs: map[*process]struct{}{}}

func (r *registry) add(p *process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p] = struct{}{}
}

func (r *registry) remove(p *process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, p)
}

func (r *registry) snapshot() []*process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*process, 0, len(r.procs))
	for p := range r.procs {
		out = append(out, p)
	}
	return out
}

// KillAll kills every engine process this program has spawned and not yet
// reaped, across all managers. It is meant for signal handlers and returns
// the number of processes signalled.
func KillAll() int {
	procs := live.snapshot()
	for _, p := range procs {
		p.kill()
	}
	return len(procs)
}
