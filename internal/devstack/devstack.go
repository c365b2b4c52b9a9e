// Package devstack manages the local Redis and Postgres containers used for
// development. It is not part of the production runtime.
package devstack

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/jackzampolin/bindery/internal/config"
)

const Label = "bindery-dev"

// ContainerStatus represents the state of a managed container.
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusNotFound ContainerStatus = "not_found"
	StatusStarting ContainerStatus = "starting"
)

// spec describes one container the stack manages.
type spec struct {
	name          string
	imageName     string
	hostPort      string
	containerPort nat.Port
	env           []string
}

// Manager manages the dev container lifecycle.
type Manager struct {
	cli    *client.Client
	specs  []spec
	labels map[string]string
}

// Config holds configuration for the dev stack manager.
type Config struct {
	Dev    config.DevConfig
	Labels map[string]string // optional extra labels (used for test cleanup)
}

// New creates a Docker-backed manager for the Redis and Postgres dev
// containers described by cfg.Dev.
func New(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	specs := []spec{
		{
			name:          cfg.Dev.RedisContainer,
			imageName:     cfg.Dev.RedisImage,
			hostPort:      cfg.Dev.RedisPort,
			containerPort: nat.Port("6379/tcp"),
		},
		{
			name:          cfg.Dev.PostgresContainer,
			imageName:     cfg.Dev.PostgresImage,
			hostPort:      cfg.Dev.PostgresPort,
			containerPort: nat.Port("5432/tcp"),
			env: []string{
				"POSTGRES_USER=bindery",
				"POSTGRES_DB=bindery",
				"POSTGRES_PASSWORD=" + cfg.Dev.PostgresPassword,
			},
		},
	}

	return &Manager{cli: cli, specs: specs, labels: labels}, nil
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Start brings up every container in the stack, creating any that do not
// exist yet, and waits for each to accept connections.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	for _, s := range m.specs {
		if err := m.startOne(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Stop stops every container in the stack.
func (m *Manager) Stop(ctx context.Context) error {
	for _, s := range m.specs {
		status, containerID, err := m.containerStatus(ctx, s.name)
		if err != nil {
			return err
		}
		if status == StatusNotFound {
			continue
		}

		timeout := 10
		if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("failed to stop %s: %w", s.name, err)
		}
	}
	return nil
}

// Remove stops and removes every container in the stack.
func (m *Manager) Remove(ctx context.Context) error {
	for _, s := range m.specs {
		status, containerID, err := m.containerStatus(ctx, s.name)
		if err != nil {
			return err
		}
		if status == StatusNotFound {
			continue
		}

		if status == StatusRunning {
			timeout := 10
			if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
				return fmt.Errorf("failed to stop %s: %w", s.name, err)
			}
		}

		if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", s.name, err)
		}
	}
	return nil
}

// Status returns the status of each container keyed by container name.
func (m *Manager) Status(ctx context.Context) (map[string]ContainerStatus, error) {
	out := make(map[string]ContainerStatus, len(m.specs))
	for _, s := range m.specs {
		status, _, err := m.containerStatus(ctx, s.name)
		if err != nil {
			return nil, err
		}
		out[s.name] = status
	}
	return out, nil
}

// Logs returns the logs of the named container.
func (m *Manager) Logs(ctx context.Context, name, tail string) (string, error) {
	status, containerID, err := m.containerStatus(ctx, name)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container %s not found", name)
	}

	logs, err := m.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	logBytes, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(logBytes), nil
}

// startOne starts an existing container or creates a new one.
func (m *Manager) startOne(ctx context.Context, s spec) error {
	status, containerID, err := m.containerStatus(ctx, s.name)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning:
		return nil
	case StatusStopped:
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
		return m.waitForReady(ctx, s, 30*time.Second)
	case StatusNotFound:
		return m.createAndStart(ctx, s)
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}
}

// createAndStart creates and starts a new container from its spec.
func (m *Manager) createAndStart(ctx context.Context, s spec) error {
	if err := m.ensureImage(ctx, s.imageName); err != nil {
		return err
	}

	containerConfig := &container.Config{
		Image:  s.imageName,
		Env:    s.env,
		Labels: m.labels,
		ExposedPorts: nat.PortSet{
			s.containerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			s.containerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: s.hostPort},
			},
		},
	}

	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, s.name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}

	return m.waitForReady(ctx, s, 30*time.Second)
}

// containerStatus returns the status and ID of the named container.
func (m *Manager) containerStatus(ctx context.Context, name string) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", name)

	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

// waitForReady polls the container's published port until it accepts
// connections.
func (m *Manager) waitForReady(ctx context.Context, s spec, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", s.hostPort)

	return retry.Do(
		func() error {
			d := net.Dialer{Timeout: 2 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(1*time.Second),
	)
}

// ensureImage pulls the image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, imageName string) error {
	_, err := m.cli.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := m.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
