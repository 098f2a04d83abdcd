package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joshp123/goe-bridge/internal/config"
	"github.com/joshp123/goe-bridge/internal/core"
	"github.com/joshp123/goe-bridge/internal/journal"
	"github.com/joshp123/goe-bridge/internal/logging"
	"github.com/joshp123/goe-bridge/internal/mqttbus"
	"github.com/joshp123/goe-bridge/internal/router"
	"github.com/joshp123/goe-bridge/internal/server"
	"github.com/joshp123/goe-bridge/plugins/goecharger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", envOrDefault("GOE_BRIDGE_CONFIG", config.DefaultPath()), "path to config.ini")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goe-bridge: %v\n", err)
		return 1
	}

	logger, logCloser, err := logging.New(logging.Options{
		File:   settings.Bridge.LogFile,
		Level:  settings.Bridge.LogLevel,
		Stdout: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "goe-bridge: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info().Str("config", *configPath).Msg("Start")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := goecharger.PluginOptions{}
	if settings.Bridge.JournalFile != "" {
		writer, err := journal.Open(settings.Bridge.JournalFile)
		if err != nil {
			logger.Error().Err(err).Msg("open cycle journal")
			return 1
		}
		defer writer.Close()
		opts.Journal = writer
	}

	plugin, err := goecharger.NewPlugin(ctx, settings, logger, opts)
	if err != nil {
		logger.Error().Err(err).Msg("start go-eCharger bridge")
		return 1
	}

	plugins := []core.Plugin{plugin}
	if err := core.ValidatePlugins(plugins); err != nil {
		logger.Error().Err(err).Msg("validate plugins")
		return 1
	}

	grpcServer, err := server.NewGRPCServer(settings.Bridge.GRPCAddr, logger)
	if err != nil {
		logger.Error().Err(err).Str("addr", settings.Bridge.GRPCAddr).Msg("grpc listen")
		return 1
	}
	router.RegisterPlugins(grpcServer.Server, plugins)

	metricsRegistry := core.MetricsRegistry(plugins, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "goe_bridge_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"service": plugin.Bus().Name()},
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(settings.Bridge.DashboardDir, plugins); err != nil {
		logger.Warn().Err(err).Msg("write dashboards")
	}

	httpServer := server.NewHTTPServer(settings.Bridge.HTTPAddr, router.HTTPMux(plugins, metricsRegistry))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("http serve")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc serve")
			stop()
		}
	}()

	if settings.MQTT.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runMirror(ctx, settings, plugin, logger)
		}()
	}

	logger.Info().
		Str("http", settings.Bridge.HTTPAddr).
		Str("grpc", settings.Bridge.GRPCAddr).
		Msg("Connected to device bus, switching over to poll loop")
	core.RunPlugins(ctx, plugins)

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.Stop()
	wg.Wait()
	return 0
}

// runMirror connects to the broker and mirrors the bus until ctx is done.
// It runs beside the poll loop.
func runMirror(ctx context.Context, settings config.Settings, plugin *goecharger.Plugin, logger zerolog.Logger) {
	topics := mqttbus.TopicsFor(settings.MQTT.PortalID, "evcharger", settings.DeviceInstance)
	client, err := mqttbus.Dial(mqttbus.Options{
		Broker:      settings.MQTT.Broker,
		Username:    settings.MQTT.Username,
		Password:    settings.MQTT.Password,
		ClientID:    settings.MQTT.ClientID,
		WillTopic:   topics.Notify + goecharger.PathConnected,
		WillPayload: mqttbus.WillPayload(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("mqtt mirror disabled")
		return
	}
	defer client.Close()

	logger.Info().Str("broker", settings.MQTT.Broker).Str("topic", topics.Notify).Msg("mqtt mirror started")
	if err := mqttbus.NewMirror(plugin.Bus(), client, topics, logger).Run(ctx); err != nil {
		logger.Error().Err(err).Msg("mqtt mirror stopped")
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
