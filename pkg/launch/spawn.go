package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Process is a spawned instance.
type Process interface {
	Pid() int
	Wait() error
}

// Spawner starts processes.
type Spawner interface {
	Start(ctx context.Context, argv, env []string) (Process, error)
}

// ExecSpawner starts processes with os/exec, sharing the caller's stdio.
type ExecSpawner struct{}

func (ExecSpawner) Start(ctx context.Context, argv, env []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p execProcess) Wait() error { return p.cmd.Wait() }
