package endpoint

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/utils"
)

// ServiceEndpoint receives the callbacks of workers.
type ServiceEndpoint interface {
	OnResult(invocationID string, result *function.InvocationResult) error
	OnInvocationError(invocationID string, invErr *function.InvocationError) error
	OnLogs(invocationID string, logs *function.InvocationLogs) error
	OnEnvironmentReady(environmentID string) error
	OnEnvironmentError(environmentID string) error
}

// ExecutorEndpoint is the HTTP server workers report to.
type ExecutorEndpoint struct {
	port int
	host string
	sink ServiceEndpoint
	e    *echo.Echo
	log  *logrus.Entry
}

func NewExecutorEndpoint(port int, sink ServiceEndpoint) (*ExecutorEndpoint, error) {
	host := config.GetString(config.ENDPOINT_HOST, "")
	if host == "" {
		host = "127.0.0.1"
		if ip, err := utils.GetOutboundIp(); err == nil {
			host = ip.String()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	ep := &ExecutorEndpoint{
		port: port,
		host: host,
		sink: sink,
		e:    e,
		log:  logrus.WithFields(logrus.Fields{"component": "executor-endpoint", "port": port}),
	}

	e.POST("/invocations/:invoke_id/response", ep.invocationResponse)
	e.POST("/invocations/:invoke_id/error", ep.invocationError)
	e.POST("/invocations/:invoke_id/logs", ep.invocationLogs)
	e.POST("/status/:env_id/ready", ep.statusReady)
	e.POST("/status/:env_id/error", ep.statusError)

	return ep, nil
}

// URL is the address advertised to workers.
func (ep *ExecutorEndpoint) URL() string {
	return fmt.Sprintf("http://%s:%d", ep.host, ep.port)
}

// Handler exposes the router, e.g. for httptest.
func (ep *ExecutorEndpoint) Handler() http.Handler {
	return ep.e
}

// Start binds the port synchronously and serves in the background.
func (ep *ExecutorEndpoint) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", ep.port))
	if err != nil {
		return errors.Wrapf(err, "could not bind executor endpoint to port %d", ep.port)
	}
	ep.e.Listener = ln

	go func() {
		if err := ep.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ep.log.WithError(err).Error("Executor endpoint terminated")
		}
	}()
	ep.log.Debug("Executor endpoint started")
	return nil
}

func (ep *ExecutorEndpoint) Shutdown(ctx context.Context) error {
	return ep.e.Shutdown(ctx)
}

func toHTTPError(err error) error {
	if errors.Is(err, function.ErrInconsistentState) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (ep *ExecutorEndpoint) invocationResponse(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("invoke_id")
	if err := ep.sink.OnResult(id, &function.InvocationResult{InvocationID: id, Payload: body}); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (ep *ExecutorEndpoint) invocationError(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("invoke_id")

	errType, _ := jsonparser.GetString(body, "errorType")
	errMessage, _ := jsonparser.GetString(body, "errorMessage")
	ep.log.WithFields(logrus.Fields{"invocation": id, "error_type": errType}).Debugf("Function raised: %s", errMessage)

	invErr := &function.InvocationError{InvocationID: id, Payload: body}
	if logs, err := jsonparser.GetString(body, "logs"); err == nil {
		invErr.Logs = logs
	}
	if err := ep.sink.OnInvocationError(id, invErr); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (ep *ExecutorEndpoint) invocationLogs(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	logs, err := jsonparser.GetString(body, "logs")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing logs")
	}
	id := c.Param("invoke_id")
	if err := ep.sink.OnLogs(id, &function.InvocationLogs{InvocationID: id, Logs: logs}); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (ep *ExecutorEndpoint) statusReady(c echo.Context) error {
	if err := ep.sink.OnEnvironmentReady(c.Param("env_id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (ep *ExecutorEndpoint) statusError(c echo.Context) error {
	if err := ep.sink.OnEnvironmentError(c.Param("env_id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
