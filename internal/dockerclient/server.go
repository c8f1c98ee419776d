package dockerclient

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

type ServerRunner interface {
	StartServer(ctx context.Context, image string, containerPort int) (*Server, error)
}

// Server is a running container with its service port published on a loopback
// host port.
type Server struct {
	ID       string
	HostPort int

	dc *dockerClient
}

// StartServer launches the image with its default entrypoint and publishes
// containerPort on a free loopback port. The caller owns the container and
// must Stop it.
func (dc *dockerClient) StartServer(ctx context.Context, image string, containerPort int) (*Server, error) {
	hostPort, err := reserveLoopbackPort()
	if err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image: image,
		ExposedPorts: nat.PortSet{
			nat.Port(strconv.Itoa(containerPort) + "/tcp"): struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(strconv.Itoa(containerPort) + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(hostPort),
				},
			},
		},
	}

	created, err := dc.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}

	srv := &Server{ID: created.ID, HostPort: hostPort, dc: dc}
	if err := dc.client.ContainerStart(ctx, srv.ID, container.StartOptions{}); err != nil {
		srv.Stop(context.Background())
		return nil, fmt.Errorf("container start: %w", err)
	}

	return srv, nil
}

// Addr is the loopback address the service port is published on.
func (s *Server) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.HostPort))
}

// Logs returns everything the server wrote so far, both streams merged in
// arrival order.
func (s *Server) Logs(ctx context.Context) (string, error) {
	rd, err := s.dc.client.ContainerLogs(ctx, s.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rd.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rd); err != nil {
		return "", fmt.Errorf("demux logs: %w", err)
	}
	return out.String(), nil
}

// Running reports whether the container process is still up.
func (s *Server) Running(ctx context.Context) bool {
	inspect, err := s.dc.client.ContainerInspect(ctx, s.ID)
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.Running
}

func (s *Server) Stop(ctx context.Context) {
	_ = s.dc.client.ContainerRemove(ctx, s.ID, container.RemoveOptions{Force: true})
}

// reserveLoopbackPort asks the kernel for a free TCP port and releases it
// right away. The engine binds it next; the gap is tolerable for local use.
func reserveLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserve port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}
