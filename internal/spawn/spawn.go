// Package spawn implements the coordinator's external process launcher:
// starting a replacement node either as a local child process or, for
// a "user@host" configured node, over ssh.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Launcher starts and supervises node server processes.
type Launcher interface {
	// Launch starts the node binary for the given target, returning a
	// Process handle once the command has been started (not
	// necessarily once it has connected back to the coordinator).
	Launch(ctx context.Context, target Target) (*Process, error)
}

// Target describes where and how to launch one node.
type Target struct {
	// Host is the bare hostname ("localhost" or a remote host).
	Host string
	// User is non-empty when the node must be launched via ssh.
	User string
	// RemoteBinaryPath is the node binary's path on the remote host;
	// ignored for local targets.
	RemoteBinaryPath string
	// Args are the node CLI arguments (see spec.md §6's node CLI).
	Args []string
}

// Remote reports whether this target is launched over ssh.
func (t Target) Remote() bool { return t.User != "" }

// Process is a handle on a launched node, used to kill it during
// recovery teardown or coordinator shutdown.
type Process struct {
	cmd *exec.Cmd
	mu  sync.Mutex
}

// Kill sends SIGKILL to the process. It is safe to call more than
// once; a process already exited returns no error.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("spawn: kill: %w", err)
	}
	return nil
}

// Wait blocks until the process exits.
func (p *Process) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return cmd.Wait()
}

// PID returns the OS process id, or 0 if the process was never
// started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ProcessLauncher launches node binaries locally via exec, or
// remotely via ssh when the target names a user. stderr is copied to
// ErrWriter (when set) so a launched node's early-failure logs are
// visible from the coordinator.
type ProcessLauncher struct {
	// LocalBinaryPath is the node binary path used for localhost
	// targets.
	LocalBinaryPath string
	// ErrWriter, if non-nil, receives the launched process's stderr.
	ErrWriter io.Writer
}

// Launch starts the node process for target, local or remote.
func (l *ProcessLauncher) Launch(ctx context.Context, target Target) (*Process, error) {
	var cmd *exec.Cmd
	if target.Remote() {
		sshArgs := append([]string{fmt.Sprintf("%s@%s", target.User, target.Host), target.RemoteBinaryPath}, target.Args...)
		cmd = exec.CommandContext(ctx, "ssh", sshArgs...)
	} else {
		cmd = exec.CommandContext(ctx, l.LocalBinaryPath, target.Args...)
	}

	if l.ErrWriter != nil {
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("spawn: stderr pipe: %w", err)
		}
		go io.Copy(l.ErrWriter, stderr) //nolint:errcheck
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn: start %v: %w", target, err)
	}
	return &Process{cmd: cmd}, nil
}
