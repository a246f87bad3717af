package container

import (
	"io"
)

// A Factory to create and manage containers.
type Factory interface {
	Create(string, *ContainerOptions) (ContainerID, error)
	CopyToContainer(ContainerID, io.Reader, string) error
	Start(ContainerID) error
	Destroy(ContainerID) error
	HasImage(string) bool
	PullImage(string) error
	GetIPAddress(ContainerID) (string, error)
	GetLog(ContainerID) (string, error)
}

// ContainerOptions contains options for container creation.
type ContainerOptions struct {
	Cmd      []string
	Env      []string
	Labels   map[string]string
	MemoryMB int64
}

type ContainerID = string

// DownloadImage makes sure image is available locally.
func DownloadImage(cf Factory, image string, forceRefresh bool) error {
	if forceRefresh || !cf.HasImage(image) {
		return cf.PullImage(image)
	}
	return nil
}
