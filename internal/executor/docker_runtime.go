package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/container"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/node"
)

// DockerRuntime runs every environment in its own Docker container.
type DockerRuntime struct {
	factory  container.Factory
	preparer *DockerImagePreparer
	client   *retryablehttp.Client
	port     int
	log      *logrus.Entry

	mu         sync.Mutex
	containers map[string]container.ContainerID // environment ID -> container
}

func NewDockerRuntime(factory container.Factory, preparer *DockerImagePreparer) *DockerRuntime {
	log := logrus.WithField("component", "docker-runtime")

	// It is common to have a failure right after a cold start, so delivery
	// is retried with a short exponential backoff.
	client := retryablehttp.NewClient()
	client.RetryMax = 10
	client.RetryWaitMin = 25 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = config.GetMillis(config.RUNTIME_INVOKE_TIMEOUT, 10*time.Second)
	client.CheckRetry = retryOnConnectionRefused
	client.Logger = retryLogger{log}

	return &DockerRuntime{
		factory:    factory,
		preparer:   preparer,
		client:     client,
		port:       DEFAULT_EXECUTOR_PORT,
		log:        log,
		containers: map[string]container.ContainerID{},
	}
}

func sandboxEnv(env *node.Environment) []string {
	v := env.Version
	vars := map[string]string{
		ENV_ENDPOINT:       env.Endpoint,
		ENV_ENVIRONMENT_ID: env.ID,
		ENV_FUNCTION_NAME:  v.Name,
		ENV_FUNCTION_VER:   v.Qualifier,
		ENV_HANDLER:        v.Handler,
		ENV_MEMORY:         strconv.FormatInt(v.MemoryMB, 10),
		ENV_TIMEOUT:        strconv.Itoa(int(v.Timeout.Seconds())),
		ENV_INIT_TYPE:      env.InitializationType,
		ENV_LOG_GROUP:      env.LogGroupName(),
		ENV_LOG_STREAM:     env.LogStreamName(),
	}
	for k, val := range v.Environment {
		vars[k] = val
	}
	out := make([]string, 0, len(vars))
	for k, val := range vars {
		out = append(out, k+"="+val)
	}
	return out
}

func (r *DockerRuntime) Start(env *node.Environment) error {
	image, err := ImageFor(env.Version)
	if err != nil {
		return err
	}
	info, _ := container.LookupRuntime(env.Version.Runtime)

	contID, err := r.factory.Create(image, &container.ContainerOptions{
		Cmd:      info.InvocationCmd,
		Env:      sandboxEnv(env),
		Labels:   map[string]string{"fnscheduler.environment": env.ID, "fnscheduler.function": env.Version.ARN()},
		MemoryMB: env.Version.MemoryMB,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.containers[env.ID] = contID
	r.mu.Unlock()

	if code := r.preparer.Code(env.Version); len(code) > 0 {
		if err := r.factory.CopyToContainer(contID, bytes.NewReader(code), container.CodeDir); err != nil {
			return errors.Wrap(err, "failed code copy")
		}
	}

	if err := r.factory.Start(contID); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"environment": env.ID, "container": contID}).Debug("Container started")
	return nil
}

func (r *DockerRuntime) Stop(env *node.Environment) error {
	r.mu.Lock()
	contID, ok := r.containers[env.ID]
	delete(r.containers, env.ID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if logs, err := r.factory.GetLog(contID); err == nil {
		r.log.WithField("environment", env.ID).Debugf("Container output:\n%s", logs)
	}
	return r.factory.Destroy(contID)
}

// Invoke delivers the invocation to the init process. The result is reported
// back asynchronously through the executor endpoint.
func (r *DockerRuntime) Invoke(env *node.Environment, invocationID string, inv *function.Invocation) error {
	r.mu.Lock()
	contID, ok := r.containers[env.ID]
	r.mu.Unlock()
	if !ok {
		return errors.Newf("no container for environment %s", env.ID)
	}

	ipAddr, err := r.factory.GetIPAddress(contID)
	if err != nil {
		return errors.Wrap(err, "failed to retrieve IP address for container")
	}

	body, err := json.Marshal(&InvocationRequest{
		InvokeID:           invocationID,
		InvokedFunctionArn: env.Version.ARN(),
		Payload:            string(inv.Payload),
		ClientContext:      inv.ClientContext,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/invoke", ipAddr, r.port)
	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request to executor failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Newf("executor rejected invocation %s: %s", invocationID, resp.Status)
	}
	return nil
}

// retryOnConnectionRefused retries only while the worker is not listening
// yet. Any other failure may have reached the worker, and resending would
// deliver the invocation twice.
func retryOnConnectionRefused(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil && errors.Is(err, syscall.ECONNREFUSED), nil
}

type retryLogger struct {
	entry *logrus.Entry
}

func (l retryLogger) Error(msg string, kv ...interface{}) {
	l.entry.WithField("details", kv).Warn(msg)
}
func (l retryLogger) Info(msg string, kv ...interface{}) {
	l.entry.WithField("details", kv).Debug(msg)
}
func (l retryLogger) Debug(msg string, kv ...interface{}) {
	l.entry.WithField("details", kv).Debug(msg)
}
func (l retryLogger) Warn(msg string, kv ...interface{}) {
	l.entry.WithField("details", kv).Debug(msg)
}
