package dockerclient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

type CommandRunner interface {
	RunCommand(ctx context.Context, image string, argv []string) (CommandResult, error)
}

type CommandResult struct {
	ExitCode int64
	Stdout   string
	Stderr   string
}

// RunCommand runs argv inside a throwaway container of the image, overriding
// the image entrypoint, and captures both streams. A non-zero exit is a
// result, not an error: probes interpret it.
func (dc *dockerClient) RunCommand(ctx context.Context, image string, argv []string) (CommandResult, error) {
	if len(argv) == 0 {
		return CommandResult{}, fmt.Errorf("empty command")
	}

	cfg := &container.Config{
		Image:      image,
		Entrypoint: argv[:1],
		Cmd:        argv[1:],
	}

	created, err := dc.client.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, "")
	if err != nil {
		return CommandResult{}, fmt.Errorf("container create: %w", err)
	}
	id := created.ID
	defer func() {
		_ = dc.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}()

	if err := dc.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return CommandResult{}, fmt.Errorf("container start: %w", err)
	}

	var res CommandResult
	statusCh, errCh := dc.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	case err := <-errCh:
		return CommandResult{}, fmt.Errorf("container wait: %w", err)
	case st := <-statusCh:
		res.ExitCode = st.StatusCode
	}

	logs, err := dc.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return CommandResult{}, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return CommandResult{}, fmt.Errorf("demux logs: %w", err)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	return res, nil
}
