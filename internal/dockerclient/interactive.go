package dockerclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/api/types/container"
	"github.com/moby/term"
)

type InteractiveRunner interface {
	RunInteractive(ctx context.Context, image string, argv []string) (int64, error)
}

// RunInteractive emulates:
//
//	docker run --rm -it --entrypoint ARGV[0] IMAGE ARGV[1:]
//
// attaching the local terminal with a real TTY so shells and line editors
// behave, and removing the container on exit.
func (dc *dockerClient) RunInteractive(ctx context.Context, image string, argv []string) (int64, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	cfg := &container.Config{
		Image:        image,
		Entrypoint:   argv[:1],
		Cmd:          argv[1:],
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := dc.client.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, "")
	if err != nil {
		return 0, fmt.Errorf("container create: %w", err)
	}
	id := created.ID

	defer func() {
		_ = dc.client.ContainerRemove(context.Background(), id, container.RemoveOptions{
			Force: true,
		})
	}()

	// Put the local terminal in raw mode so key events reach the shell.
	inFd, isTerm := term.GetFdInfo(os.Stdin)
	var oldState *term.State
	if isTerm {
		oldState, err = term.MakeRaw(inFd)
		if err != nil {
			return 0, fmt.Errorf("make raw: %w", err)
		}
		defer term.RestoreTerminal(inFd, oldState)
	}

	// Attach BEFORE start (like docker run)
	attach, err := dc.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
		Logs:   false,
	})
	if err != nil {
		return 0, fmt.Errorf("container attach: %w", err)
	}
	defer attach.Close()

	if err := dc.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("container start: %w", err)
	}

	// Initial resize AFTER start so it takes effect immediately.
	if isTerm {
		if ws, err := term.GetWinsize(inFd); err == nil {
			_ = dc.client.ContainerResize(ctx, id, container.ResizeOptions{
				Height: uint(ws.Height),
				Width:  uint(ws.Width),
			})
		}
	}

	// Follow future resizes (SIGWINCH).
	if isTerm {
		resizeCh := make(chan os.Signal, 1)
		signal.Notify(resizeCh, syscall.SIGWINCH)
		defer signal.Stop(resizeCh)
		go func() {
			for range resizeCh {
				if ws, err := term.GetWinsize(inFd); err == nil {
					_ = dc.client.ContainerResize(context.Background(), id, container.ResizeOptions{
						Height: uint(ws.Height),
						Width:  uint(ws.Width),
					})
				}
			}
		}()
	}

	// Ctrl+C goes into the shell; SIGTERM from outside stops the container.
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGTERM)
	defer signal.Stop(stopCh)
	go func() {
		<-stopCh
		_ = dc.client.ContainerKill(context.Background(), id, "SIGTERM")
	}()

	go func() {
		_, _ = io.Copy(attach.Conn, os.Stdin)
	}()
	go func() {
		_, _ = io.Copy(os.Stdout, attach.Reader)
	}()

	statusCh, errCh := dc.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-errCh:
		return 0, fmt.Errorf("container wait: %w", err)
	case st := <-statusCh:
		return st.StatusCode, nil
	}
}
