// Package docker wraps the Docker SDK with the narrow set of operations the
// export and restore engines need. The engines talk to the API interface so
// tests can substitute a fake without a running daemon.
package docker

import (
	"context"
	"io"
)

// API is the engine-facing surface of the Docker daemon.
type API interface {
	// FindContainer resolves a container by exact name or ID prefix.
	// Returns found=false (not an error) when no such container exists.
	FindContainer(ctx context.Context, name string) (id string, found bool, err error)

	// IsContainerRunning reports whether the container is currently running.
	IsContainerRunning(ctx context.Context, id string) (bool, error)

	// StopContainer stops the container if it is running and reports
	// whether it was running beforehand.
	StopContainer(ctx context.Context, id string) (bool, error)

	// StartContainer starts a stopped container.
	StartContainer(ctx context.Context, id string) error

	// ImageExists reports whether the image reference resolves locally.
	ImageExists(ctx context.Context, ref string) (bool, error)

	// SaveImage streams the image as a tar archive into dest.
	SaveImage(ctx context.Context, ref string, dest io.Writer) error

	// LoadImage loads an image tar archive produced by SaveImage.
	LoadImage(ctx context.Context, src io.Reader) error

	// ComposeUp brings the full service stack up in detached mode from the
	// compose file in dir.
	ComposeUp(ctx context.Context, dir string) error
}
