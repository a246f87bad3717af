package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/metrics"
	"github.com/serverledge-faas/fnscheduler/internal/scheduling"
)

// FunctionErrorHeader is set on responses whose function raised.
const FunctionErrorHeader = "X-Function-Error"

// Scheduler is the part of the version manager exposed over HTTP.
type Scheduler interface {
	Invoke(inv *function.Invocation) *scheduling.Future
	Status() scheduling.ManagerStatus
	UpdateProvisionedConcurrency(n int)
}

type Server struct {
	scheduler     Scheduler
	invokeTimeout time.Duration
}

func NewServer(s Scheduler) *Server {
	return &Server{
		scheduler:     s,
		invokeTimeout: config.GetMillis(config.API_INVOKE_TIMEOUT, 30*time.Second),
	}
}

// Register adds the public routes to e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/invoke", s.InvokeFunction)
	e.GET("/status", s.GetStatus)
	e.PUT("/provisioned-concurrency/:n", s.UpdateProvisionedConcurrency)

	if metrics.Enabled {
		e.GET("/metrics", func(c echo.Context) error {
			metrics.ScrapingHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

// InvokeFunction runs the function on the request body and waits for its result.
func (s *Server) InvokeFunction(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "could not read request body")
	}

	inv := function.NewInvocation(c.Request().Context(), payload)
	inv.ClientContext = c.Request().Header.Get("X-Client-Context")
	future := s.scheduler.Invoke(inv)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.invokeTimeout)
	defer cancel()
	res, err := future.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logrus.WithField("timeout", s.invokeTimeout).Warn("Invocation did not complete in time")
		return c.String(http.StatusGatewayTimeout, "invocation timed out")
	}
	if err != nil {
		logrus.WithError(err).Warn("Invocation failed")
		return c.String(http.StatusServiceUnavailable, err.Error())
	}

	c.Response().Header().Set("X-Invocation-Id", res.InvocationID)
	if res.IsError {
		c.Response().Header().Set(FunctionErrorHeader, "Unhandled")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, res.Payload)
}

func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Status())
}

// UpdateProvisionedConcurrency records the requested number of pre-started environments.
func (s *Server) UpdateProvisionedConcurrency(c echo.Context) error {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n < 0 {
		return c.String(http.StatusBadRequest, "invalid provisioned concurrency")
	}
	s.scheduler.UpdateProvisionedConcurrency(n)
	return c.NoContent(http.StatusAccepted)
}

func StartAPIServer(e *echo.Echo, s *Server) {
	e.Use(middleware.Recover())
	s.Register(e)

	portNumber := config.GetInt(config.API_PORT, 1323)
	e.HideBanner = true

	if err := e.Start(fmt.Sprintf(":%d", portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Fatal("shutting down the server")
	}
}

// RegisterTerminationHandler stops the version manager and the API server on
// SIGINT or SIGTERM.
func RegisterTerminationHandler(m *scheduling.VersionManager, e *echo.Echo, onExit func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		logrus.Infof("Got %s signal. Terminating...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Stop(ctx)

		if err := e.Shutdown(ctx); err != nil {
			logrus.WithError(err).Error("Could not shut down the API server")
		}
		if onExit != nil {
			onExit()
		}
		os.Exit(0)
	}()
}
