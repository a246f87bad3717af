package executor

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/container"
	"github.com/serverledge-faas/fnscheduler/internal/function"
)

// DockerImagePreparer makes the runtime image and the function code of a
// version available before any environment is started.
type DockerImagePreparer struct {
	factory      container.Factory
	forceRefresh bool

	mu   sync.RWMutex
	code map[string][]byte // version ARN -> tar archive
}

func NewDockerImagePreparer(factory container.Factory, forceRefresh bool) *DockerImagePreparer {
	return &DockerImagePreparer{factory: factory, forceRefresh: forceRefresh, code: map[string][]byte{}}
}

// ImageFor returns the normalised image reference used by a version.
func ImageFor(v *function.Version) (string, error) {
	info, err := container.LookupRuntime(v.Runtime)
	if err != nil {
		return "", err
	}
	ref, err := name.ParseReference(info.Image)
	if err != nil {
		return "", errors.Wrapf(err, "invalid image reference for runtime %s", v.Runtime)
	}
	return ref.Name(), nil
}

func (p *DockerImagePreparer) PrepareVersion(_ context.Context, v *function.Version) error {
	image, err := ImageFor(v)
	if err != nil {
		return err
	}
	if err := container.DownloadImage(p.factory, image, p.forceRefresh); err != nil {
		return errors.Wrapf(err, "could not prepare image for %s", v)
	}

	var archive []byte
	if len(v.TarFunctionCode) > 0 {
		archive, err = base64.StdEncoding.DecodeString(v.TarFunctionCode)
		if err != nil {
			return errors.Wrapf(err, "function code of %s is not valid base64", v)
		}
	}

	p.mu.Lock()
	p.code[v.ARN()] = archive
	p.mu.Unlock()
	logrus.WithFields(logrus.Fields{"function": v.ARN(), "image": image}).Debug("Version prepared")
	return nil
}

func (p *DockerImagePreparer) CleanupVersion(_ context.Context, v *function.Version) error {
	p.mu.Lock()
	delete(p.code, v.ARN())
	p.mu.Unlock()
	return nil
}

// Code returns the prepared code archive of a version (nil if none).
func (p *DockerImagePreparer) Code(v *function.Version) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code[v.ARN()]
}
