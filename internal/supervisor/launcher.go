package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// WorkerSpec identifies one worker slot.
type WorkerSpec struct {
	Index int
	Port  int
}

// Launcher builds the command for one worker process. The command must be
// created with exec.CommandContext on ctx.
type Launcher interface {
	Command(ctx context.Context, spec WorkerSpec) *exec.Cmd
}

// ExecLauncher starts Path with Args and passes the worker slot through the
// environment. Each child gets its own process group, so a terminal Ctrl-C
// reaches only the supervisor; workers stop on SIGTERM or control-pipe EOF.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
}

// SelfLauncher re-executes the running binary in worker mode.
func SelfLauncher() (ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return ExecLauncher{}, fmt.Errorf("supervisor: resolve executable: %w", err)
	}
	return ExecLauncher{Path: exe}, nil
}

func (l ExecLauncher) Command(ctx context.Context, spec WorkerSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, l.Path, l.Args...)
	env := append(os.Environ(), l.Env...)
	cmd.Env = append(env,
		EnvWorkerPort+"="+strconv.Itoa(spec.Port),
		EnvWorkerIndex+"="+strconv.Itoa(spec.Index),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}
