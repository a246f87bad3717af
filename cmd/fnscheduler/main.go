package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/serverledge-faas/fnscheduler/internal/api"
	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/internal/container"
	"github.com/serverledge-faas/fnscheduler/internal/executor"
	"github.com/serverledge-faas/fnscheduler/internal/function"
	"github.com/serverledge-faas/fnscheduler/internal/logs"
	"github.com/serverledge-faas/fnscheduler/internal/metrics"
	"github.com/serverledge-faas/fnscheduler/internal/scheduling"
	"github.com/serverledge-faas/fnscheduler/internal/telemetry"
)

var configFileName string

var rootCmd = &cobra.Command{
	Use:   "fnscheduler",
	Short: "Invocation scheduler for a single function version",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.ReadConfiguration(configFileName)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and its public API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFileName, "config", "c", "", "configuration file")
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	metrics.Init()

	var otelShutdown func(context.Context) error
	if config.GetBool(config.TRACING_ENABLED, false) {
		tracesOutfile := config.GetString(config.TRACING_OUTFILE, "")
		if len(tracesOutfile) < 1 {
			tracesOutfile = fmt.Sprintf("traces-%s.json", time.Now().Format("20060102-150405"))
		}
		logrus.Infof("Enabling tracing to %s", tracesOutfile)
		shutdown, err := telemetry.SetupOTelSDK(context.Background(), tracesOutfile)
		if err != nil {
			return err
		}
		otelShutdown = shutdown
	}

	factory, err := container.NewDockerFactory(config.GetBool(config.FACTORY_REFRESH_IMAGES, false))
	if err != nil {
		return err
	}
	preparer := executor.NewDockerImagePreparer(factory, config.GetBool(config.FACTORY_REFRESH_IMAGES, false))
	sink, err := logs.NewSinkFromConfig()
	if err != nil {
		return err
	}

	opts := scheduling.OptionsFromConfig()
	opts.Runtime = executor.NewDockerRuntime(factory, preparer)
	opts.Preparer = preparer
	opts.LogSink = sink

	manager := scheduling.NewVersionManager(function.VersionFromConfig(), opts)
	if err := manager.Start(context.Background()); err != nil {
		manager.Stop(context.Background())
		return err
	}

	e := echo.New()
	api.RegisterTerminationHandler(manager, e, func() {
		if otelShutdown != nil {
			if err := otelShutdown(context.Background()); err != nil {
				logrus.WithError(err).Warn("Could not flush traces")
			}
		}
	})
	api.StartAPIServer(e, api.NewServer(manager))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("fnscheduler failed")
		os.Exit(1)
	}
}
