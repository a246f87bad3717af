package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/container"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/node"
)

type fakeFactory struct {
	mu        sync.Mutex
	created   []*container.ContainerOptions
	copied    map[container.ContainerID][]byte
	started   []container.ContainerID
	destroyed []container.ContainerID
	images    map[string]bool
	pulled    []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{copied: map[string][]byte{}, images: map[string]bool{}}
}

func (f *fakeFactory) Create(_ string, opts *container.ContainerOptions) (container.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, opts)
	return "cont-" + strconv.Itoa(len(f.created)), nil
}

func (f *fakeFactory) CopyToContainer(id container.ContainerID, r io.Reader, _ string) error {
	b, err := io.ReadAll(r)
	f.mu.Lock()
	f.copied[id] = b
	f.mu.Unlock()
	return err
}

func (f *fakeFactory) Start(id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeFactory) Destroy(id container.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
	return nil
}

func (f *fakeFactory) HasImage(img string) bool { return f.images[img] }

func (f *fakeFactory) PullImage(img string) error {
	f.pulled = append(f.pulled, img)
	f.images[img] = true
	return nil
}

func (f *fakeFactory) GetIPAddress(container.ContainerID) (string, error) { return "127.0.0.1", nil }

func (f *fakeFactory) GetLog(container.ContainerID) (string, error) { return "", nil }

func testVersion() *function.Version {
	return &function.Version{
		Name:            "echo",
		Qualifier:       "1",
		Runtime:         "python3.12",
		Handler:         "app.handler",
		MemoryMB:        256,
		TarFunctionCode: base64.StdEncoding.EncodeToString([]byte("tar-bytes")),
		Environment:     map[string]string{"FOO": "bar"},
	}
}

func TestPrepareVersionPullsAndCachesCode(t *testing.T) {
	f := newFakeFactory()
	p := NewDockerImagePreparer(f, false)
	v := testVersion()

	require.NoError(t, p.PrepareVersion(context.Background(), v))
	assert.Equal(t, []string{"public.ecr.aws/lambda/python:3.12"}, f.pulled)
	assert.Equal(t, []byte("tar-bytes"), p.Code(v))

	// already present: no second pull
	require.NoError(t, p.PrepareVersion(context.Background(), v))
	assert.Len(t, f.pulled, 1)

	require.NoError(t, p.CleanupVersion(context.Background(), v))
	assert.Nil(t, p.Code(v))
}

func TestPrepareVersionRejectsUnknownRuntime(t *testing.T) {
	p := NewDockerImagePreparer(newFakeFactory(), false)
	v := testVersion()
	v.Runtime = "cobol"
	assert.Error(t, p.PrepareVersion(context.Background(), v))
}

func TestDockerRuntimeLifecycle(t *testing.T) {
	var received InvocationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoke", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	f := newFakeFactory()
	prep := NewDockerImagePreparer(f, false)
	v := testVersion()
	require.NoError(t, prep.PrepareVersion(context.Background(), v))

	rt := NewDockerRuntime(f, prep)
	rt.port = port

	pool := node.NewEnvironmentPool(v, rt, logrus.NewEntry(logrus.StandardLogger()))
	pool.SetEndpoint("http://10.0.0.1:4000")
	env, err := pool.Provision()
	require.NoError(t, err)

	require.Len(t, f.created, 1)
	envVars := strings.Join(f.created[0].Env, "\n")
	assert.Contains(t, envVars, ENV_ENDPOINT+"=http://10.0.0.1:4000")
	assert.Contains(t, envVars, ENV_ENVIRONMENT_ID+"="+env.ID)
	assert.Contains(t, envVars, "FOO=bar")
	assert.Equal(t, int64(256), f.created[0].MemoryMB)
	assert.Equal(t, []byte("tar-bytes"), f.copied["cont-1"])
	assert.Equal(t, []string{"cont-1"}, f.started)

	require.NoError(t, pool.MarkReady(env.ID))
	got, err := pool.AcquireIdle(0)
	require.NoError(t, err)
	require.NoError(t, got.Invoke("inv-1", function.NewInvocation(nil, []byte(`{"a":1}`))))
	assert.Equal(t, "inv-1", received.InvokeID)
	assert.Equal(t, `{"a":1}`, received.Payload)
	assert.Equal(t, v.ARN(), received.InvokedFunctionArn)

	pool.StopAll()
	assert.Equal(t, []string{"cont-1"}, f.destroyed)
}

func TestDockerRuntimeInvokeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	f := newFakeFactory()
	rt := NewDockerRuntime(f, NewDockerImagePreparer(f, false))
	rt.port = port

	pool := node.NewEnvironmentPool(testVersion(), rt, logrus.NewEntry(logrus.StandardLogger()))
	env, err := pool.Provision()
	require.NoError(t, err)
	require.NoError(t, pool.MarkReady(env.ID))
	got, err := pool.AcquireIdle(0)
	require.NoError(t, err)

	assert.Error(t, got.Invoke("inv-1", function.NewInvocation(nil, nil)))
	assert.Equal(t, node.FAILED, env.Status())
}

func readyEnvironment(t *testing.T, rt *DockerRuntime) *node.Environment {
	t.Helper()
	pool := node.NewEnvironmentPool(testVersion(), rt, logrus.NewEntry(logrus.StandardLogger()))
	env, err := pool.Provision()
	require.NoError(t, err)
	require.NoError(t, pool.MarkReady(env.ID))
	got, err := pool.AcquireIdle(0)
	require.NoError(t, err)
	return got
}

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestDockerRuntimeInvokeIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	config.Set(config.RUNTIME_INVOKE_TIMEOUT, 100)
	defer config.Set(config.RUNTIME_INVOKE_TIMEOUT, 10000)

	f := newFakeFactory()
	rt := NewDockerRuntime(f, NewDockerImagePreparer(f, false))
	rt.port = serverPort(t, srv)
	env := readyEnvironment(t, rt)

	start := time.Now()
	assert.Error(t, env.Invoke("inv-1", function.NewInvocation(nil, nil)))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, node.FAILED, env.Status())
}

func TestDockerRuntimeDoesNotResendDeliveredRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFakeFactory()
	rt := NewDockerRuntime(f, NewDockerImagePreparer(f, false))
	rt.port = serverPort(t, srv)
	env := readyEnvironment(t, rt)

	assert.Error(t, env.Invoke("inv-1", function.NewInvocation(nil, nil)))
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetryOnlyWhenConnectionRefused(t *testing.T) {
	ctx := context.Background()
	refused := &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{
		Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED},
	}}

	retry, err := retryOnConnectionRefused(ctx, nil, refused)
	assert.NoError(t, err)
	assert.True(t, retry)

	retry, _ = retryOnConnectionRefused(ctx, nil, errors.New("connection reset by peer"))
	assert.False(t, retry)

	retry, _ = retryOnConnectionRefused(ctx, &http.Response{StatusCode: http.StatusBadGateway}, nil)
	assert.False(t, retry)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = retryOnConnectionRefused(cancelled, nil, refused)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}
