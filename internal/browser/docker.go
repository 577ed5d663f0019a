package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

// DockerLauncher spawns each worker as its own Chromium container and
// connects to it over the published CDP port.
type DockerLauncher struct {
	cli   *client.Client
	image string
}

// NewDockerLauncher builds a launcher backed by the local Docker daemon.
func NewDockerLauncher(imageRef string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerLauncher{cli: cli, image: imageRef}, nil
}

// EnsureImage pulls the browser image if it is not present locally.
func (l *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := l.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.image {
				return nil
			}
		}
	}

	reader, err := l.cli.ImagePull(ctx, l.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", l.image, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Launch creates and starts one browser container, waits for its CDP
// endpoint, and connects to it.
func (l *DockerLauncher) Launch(ctx context.Context) (Worker, error) {
	workerID := uuid.NewString()

	containerConfig := &container.Config{
		Image: l.image,
		Labels: map[string]string{
			"worker-id":  workerID,
			"managed-by": "web-pilot",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
	}

	resp, err := l.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil,
		fmt.Sprintf("worker-%s", workerID[:8]))
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspect, err := l.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		l.remove(resp.ID)
		return nil, fmt.Errorf("container %s has no published CDP port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := waitForCDP(ctx, port); err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("browser container not ready: %w", err)
	}

	controlURL := fmt.Sprintf("ws://localhost:%s", port)
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.remove(resp.ID)
		return nil, fmt.Errorf("connect to browser container: %w", err)
	}

	containerID := resp.ID
	cleanup := func() { l.remove(containerID) }
	return newChromeWorker(workerID, controlURL, browser, cleanup), nil
}

// remove stops and removes a worker container, best effort.
func (l *DockerLauncher) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopTimeout := 10
	_ = l.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = l.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{})
}

// Close releases the docker client.
func (l *DockerLauncher) Close() error {
	return l.cli.Close()
}

// waitForCDP polls the container's /json/version endpoint until the
// debugging interface answers.
func waitForCDP(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 20; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				// Give the WebSocket endpoint a moment to come up too.
				time.Sleep(500 * time.Millisecond)
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("CDP endpoint on port %s never became ready", port)
}
