package docker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with utility methods.
type Client struct {
	docker *client.Client
}

var _ API = (*Client)(nil)

// NewClient creates a new Docker client wrapper and verifies the daemon is
// reachable.
func NewClient(ctx context.Context) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to Docker daemon: %w", err)
	}

	return &Client{docker: cli}, nil
}

// FindContainer resolves a container by exact name or ID prefix.
func (c *Client) FindContainer(ctx context.Context, name string) (string, bool, error) {
	containers, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return "", false, fmt.Errorf("failed to list containers: %w", err)
	}

	for _, cont := range containers {
		if cont.ID == name || strings.HasPrefix(cont.ID, name) {
			return cont.ID, true, nil
		}
		for _, containerName := range cont.Names {
			if strings.TrimPrefix(containerName, "/") == name {
				return cont.ID, true, nil
			}
		}
	}

	return "", false, nil
}

// IsContainerRunning checks if a container is currently running.
func (c *Client) IsContainerRunning(ctx context.Context, id string) (bool, error) {
	info, err := c.docker.ContainerInspect(ctx, id)
	if err != nil {
		return false, err
	}
	return info.State.Running, nil
}

// StopContainer stops a container and returns whether it was running.
func (c *Client) StopContainer(ctx context.Context, id string) (bool, error) {
	wasRunning, err := c.IsContainerRunning(ctx, id)
	if err != nil {
		return false, err
	}

	if wasRunning {
		timeout := 30 // seconds
		err = c.docker.ContainerStop(ctx, id, container.StopOptions{
			Timeout: &timeout,
		})
		if err != nil {
			return wasRunning, fmt.Errorf("failed to stop container: %w", err)
		}
	}

	return wasRunning, nil
}

// StartContainer starts a container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// ImageExists reports whether the image reference resolves locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := c.docker.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect image '%s': %w", ref, err)
	}
	return true, nil
}

// SaveImage streams the image as a tar archive into dest.
func (c *Client) SaveImage(ctx context.Context, ref string, dest io.Writer) error {
	reader, err := c.docker.ImageSave(ctx, []string{ref})
	if err != nil {
		return fmt.Errorf("failed to save image '%s': %w", ref, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			fmt.Printf("Warning: failed to close image save stream: %v\n", err)
		}
	}()

	if _, err := io.Copy(dest, reader); err != nil {
		return fmt.Errorf("failed to write image '%s': %w", ref, err)
	}
	return nil
}

// LoadImage loads an image tar archive produced by SaveImage.
func (c *Client) LoadImage(ctx context.Context, src io.Reader) error {
	resp, err := c.docker.ImageLoad(ctx, src, true)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("Warning: failed to close image load response: %v\n", err)
		}
	}()

	// Drain the response so the daemon finishes the load.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("failed to read image load response: %w", err)
	}
	return nil
}

// ComposeUp brings the service stack up in detached mode. Compose has no SDK
// surface, so this shells out to the docker CLI plugin.
func (c *Client) ComposeUp(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "up", "-d")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker compose up failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
