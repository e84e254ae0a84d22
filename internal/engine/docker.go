package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DefaultImage is the TeX Live image used when none is configured
const DefaultImage = "texlive/texlive:latest"

const workDir = "/work"

// DockerRunner runs each tool in a throwaway container with the workspace
// bind-mounted at /work.
type DockerRunner struct {
	client *client.Client
	image  string
	user   string

	mu    sync.Mutex
	ready bool
}

func NewDockerRunner(img string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if img == "" {
		img = DefaultImage
	}
	return &DockerRunner{
		client: cli,
		image:  img,
		user:   strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid()),
	}, nil
}

func (r *DockerRunner) Run(ctx context.Context, dir, tool string, args ...string) (string, error) {
	containerConfig := &container.Config{
		Image:      r.image,
		Cmd:        append([]string{tool}, args...),
		WorkingDir: workDir,
		User:       r.user,
		Env:        []string{"TEXMFVAR=/tmp/texmf-var", "HOME=/tmp"},
		Labels: map[string]string{
			"managed-by": "texbridge",
		},
		NetworkDisabled: true,
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: dir,
				Target: workDir,
			},
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	defer r.remove(resp.ID)

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	var code int64
	statusCh, errCh := r.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("failed waiting for %s: %w", tool, err)
		}
	case status := <-statusCh:
		code = status.StatusCode
	case <-ctx.Done():
		return "", ctx.Err()
	}

	output, err := r.logs(context.WithoutCancel(ctx), resp.ID)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return output, &ExitError{Tool: tool, Code: int(code)}
	}
	return output, nil
}

func (r *DockerRunner) logs(ctx context.Context, id string) (string, error) {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil && err != io.EOF {
		return out.String(), fmt.Errorf("failed to demultiplex logs: %w", err)
	}
	return out.String(), nil
}

func (r *DockerRunner) remove(id string) {
	if err := r.client.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
		log.Printf("⚠️ Failed to remove container %s: %v", id[:12], err)
	}
}

// Has reports whether the image is present. TeX Live ships every supported
// engine and bibtex.
func (r *DockerRunner) Has(ctx context.Context, tool string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return true
	}
	r.ready = r.hasImage(ctx)
	return r.ready
}

func (r *DockerRunner) hasImage(ctx context.Context) bool {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == r.image {
				return true
			}
		}
	}
	return false
}

// EnsureImage pulls the TeX image when it is not present
func (r *DockerRunner) EnsureImage(ctx context.Context) error {
	if r.hasImage(ctx) {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
	return nil
}

func (r *DockerRunner) Close() error {
	return r.client.Close()
}
