package container

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// DockerFactory talks to the local Docker daemon. Images are pulled lazily
// and, when refreshImages is set, at most once per process.
type DockerFactory struct {
	cli *client.Client
	ctx context.Context
	log *logrus.Entry

	mu              sync.Mutex
	refreshedImages map[string]bool
	refreshImages   bool
}

func NewDockerFactory(refreshImages bool) (*DockerFactory, error) {
	ctx := context.Background()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	return &DockerFactory{
		cli:             cli,
		ctx:             ctx,
		log:             logrus.WithField("component", "docker"),
		refreshedImages: map[string]bool{},
		refreshImages:   refreshImages,
	}, nil
}

func (cf *DockerFactory) Create(image string, opts *ContainerOptions) (ContainerID, error) {
	if !cf.HasImage(image) {
		_ = cf.PullImage(image)
		// error ignored, as we might still have a stale copy of the image
	}

	contResources := container.Resources{Memory: opts.MemoryMB * 1048576} // convert to bytes

	resp, err := cf.cli.ContainerCreate(cf.ctx, &container.Config{
		Image:  image,
		Cmd:    opts.Cmd,
		Env:    opts.Env,
		Labels: opts.Labels,
		Tty:    false,
	}, &container.HostConfig{Resources: contResources}, nil, nil, "")

	if err != nil {
		cf.log.WithError(err).WithField("image", image).Warn("Could not create the container")
		return "", errors.Wrapf(err, "could not create container from %s", image)
	}

	return resp.ID, nil
}

func (cf *DockerFactory) CopyToContainer(contID ContainerID, content io.Reader, destPath string) error {
	return cf.cli.CopyToContainer(cf.ctx, contID, destPath, content, container.CopyToContainerOptions{})
}

func (cf *DockerFactory) Start(contID ContainerID) error {
	return cf.cli.ContainerStart(cf.ctx, contID, container.StartOptions{})
}

func (cf *DockerFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then
	// removed)
	return cf.cli.ContainerRemove(cf.ctx, contID, container.RemoveOptions{Force: true})
}

func (cf *DockerFactory) HasImage(img string) bool {
	list, err := cf.cli.ImageList(cf.ctx, image.ListOptions{
		All:     false,
		Filters: filters.NewArgs(filters.Arg("reference", img)),
	})
	if err != nil {
		cf.log.WithError(err).Warn("Image list error")
		return false
	}
	for _, summary := range list {
		for _, tag := range summary.RepoTags {
			if !strings.HasPrefix(tag, img) {
				continue
			}
			// We have the img, but we may need to refresh it
			if cf.refreshImages {
				cf.mu.Lock()
				refreshed := cf.refreshedImages[img]
				cf.mu.Unlock()
				return refreshed
			}
			return true
		}
	}
	return false
}

func (cf *DockerFactory) PullImage(img string) error {
	pullResp, err := cf.cli.ImagePull(cf.ctx, img, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "could not pull image '%s'", img)
	}

	defer func(pullResp io.ReadCloser) {
		if err := pullResp.Close(); err != nil {
			cf.log.Warn("Could not close the docker image pull response")
		}
	}(pullResp)
	// This seems to be necessary to wait for the img to be pulled:
	_, _ = io.Copy(io.Discard, pullResp)
	cf.log.WithField("image", img).Info("Pulled image")

	cf.mu.Lock()
	cf.refreshedImages[img] = true
	cf.mu.Unlock()
	return nil
}

// GetIPAddress returns the address of the container on the default bridge,
// or on the first attached network that has one.
func (cf *DockerFactory) GetIPAddress(contID ContainerID) (string, error) {
	info, err := cf.cli.ContainerInspect(cf.ctx, contID)
	if err != nil {
		return "", errors.Wrapf(err, "could not inspect container %s", contID)
	}
	if info.NetworkSettings == nil {
		return "", errors.Newf("container %s has no network settings", contID)
	}
	if ip := info.NetworkSettings.IPAddress; ip != "" {
		return ip, nil
	}
	for _, nw := range info.NetworkSettings.Networks {
		if nw != nil && nw.IPAddress != "" {
			return nw.IPAddress, nil
		}
	}
	return "", errors.Newf("container %s has no IP address", contID)
}

func (cf *DockerFactory) GetLog(contID ContainerID) (string, error) {
	logsReader, err := cf.cli.ContainerLogs(cf.ctx, contID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "can't get the logs of %s", contID)
	}
	defer logsReader.Close()
	logs, err := io.ReadAll(logsReader)
	if err != nil {
		return "", errors.Wrapf(err, "can't read the logs of %s", contID)
	}
	return string(logs), nil
}
