package dockerclient

import (
	"context"
	"log/slog"

	"github.com/docker/go-sdk/client"

	"github.com/lbekk/stagemill/internal/logs"
)

type dockerClient struct {
	client client.SDKClient
}

// Engine is the surface the pipeline needs from a container engine. Split
// per concern so commands and tests take only what they use.
type Engine interface {
	ImageBuilder
	CommandRunner
	ServerRunner
	InteractiveRunner
	ImageExists(ctx context.Context, ref string) bool
	ImageID(ctx context.Context, ref string) (string, error)
}

func NewClient() (Engine, error) {
	c, err := client.New(
		context.Background(),
		client.WithLogger(slog.New(logs.SlogHandler())),
	)
	if err != nil {
		return nil, err
	}

	return &dockerClient{client: c}, nil
}

func (dc *dockerClient) ImageExists(ctx context.Context, ref string) bool {
	_, err := dc.client.ImageInspect(ctx, ref)

	return err == nil
}

func (dc *dockerClient) ImageID(ctx context.Context, ref string) (string, error) {
	inspect, err := dc.client.ImageInspect(ctx, ref)
	if err != nil {
		return "", err
	}
	return inspect.ID, nil
}
