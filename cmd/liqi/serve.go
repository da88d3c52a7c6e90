package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/energizer-project/liqi/internal/api"
	intcli "github.com/energizer-project/liqi/internal/cli"
	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/db"
	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/health"
	"github.com/energizer-project/liqi/internal/network"
	"github.com/energizer-project/liqi/internal/scheduler"
	"github.com/energizer-project/liqi/internal/schema"
	"github.com/energizer-project/liqi/internal/telemetry"
	"github.com/energizer-project/liqi/internal/util"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the relay listener, archive and inspection API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-console",
				Usage: "disable the interactive console on stdin",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load configuration: %v", err), 2)
	}

	logCfg := cfg.GetLogging()
	level := logCfg.Level
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if err := util.InitLogger(util.LogConfig{
		Level:      level,
		Directory:  logCfg.Directory,
		MaxBackups: logCfg.MaxBackups,
		Console:    true,
		JSON:       c.Bool("json"),
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return cli.Exit("configuration validation failed, please fix the errors above", 2)
	}

	host := util.GetHostInfo()
	log.Info().
		Str("version", version).
		Str("hostname", host.Hostname).
		Str("os", host.OS).
		Str("arch", runtime.GOARCH).
		Str("cpu", host.CPUModel).
		Int("cores", host.CPUCores).
		Msg("starting liqi")

	schemaCfg := cfg.GetSchema()
	resolver, err := schema.Load(schemaCfg.DescriptorSet, schemaCfg.ServiceIndex, schemaCfg.Namespace)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load schema: %v", err), 2)
	}

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()

	archiveCfg := cfg.GetArchive()
	captureCfg := cfg.GetCapture()
	mqttCfg := cfg.GetMQTT()
	dataDir := "."

	// Interfaces stay nil for disabled features.
	var (
		apiArchive  api.Archive
		apiSessions api.Sessions
		cliArchive  intcli.Archive
		cliSessions intcli.Sessions
		store       *db.MessageStore
		listener    *network.Listener
		mqttHandler *telemetry.MQTTHandler
		sched       *scheduler.Scheduler
		wg          sync.WaitGroup
	)
	errCh := make(chan error, 4)

	if archiveCfg.Enabled {
		store, err = db.NewMessageStore(archiveCfg.Path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to open archive: %v", err), 1)
		}
		defer store.Close()

		store.Subscribe(eventBus)
		apiArchive, cliArchive = store, store
		dataDir = filepath.Dir(archiveCfg.Path)
		sched = scheduler.NewScheduler(store, scheduler.Options{
			Retention:     time.Duration(archiveCfg.RetentionDays) * 24 * time.Hour,
			StatsInterval: time.Hour,
		})
	}

	if captureCfg.Enabled {
		listener = network.NewListener(captureCfg.ListenAddr, resolver, eventBus, network.SessionOptions{
			ReadTimeout:   time.Duration(captureCfg.ReadTimeoutSec) * time.Second,
			MaxFrameSize:  captureCfg.MaxFrameSize,
			PendingMaxAge: time.Duration(captureCfg.PendingMaxAgeSec) * time.Second,
		})
		apiSessions, cliSessions = listener.Registry(), listener.Registry()
	}

	var healthSessions health.Sessions
	if listener != nil {
		healthSessions = listener.Registry()
	}
	healthMgr := health.NewManager(health.Options{DataDir: dataDir}, healthSessions, eventBus)

	if mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	if listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil {
				errCh <- fmt.Errorf("relay listener: %w", err)
			}
		}()
	}

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(api.Deps{
			Config:   cfg,
			Resolver: resolver,
			Archive:  apiArchive,
			Sessions: apiSessions,
			Health:   healthMgr,
			Version:  version,
			DataDir:  dataDir,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("inspection API: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if sched != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
	}

	// The console goroutine is not tracked by wg: a blocked stdin read must
	// not hold up shutdown.
	quitCh := make(chan struct{})
	if !c.Bool("no-console") {
		console := intcli.NewConsole(os.Stdin, os.Stdout, cliArchive, cliSessions, eventBus, version)
		go func() {
			if console.Run(ctx) {
				close(quitCh)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("quit requested from console")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	cancel()
	eventBus.Emit(context.Background(), events.Event{Type: events.EventShutdown, Source: "main"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	if dropped := eventBus.Dropped(); dropped > 0 {
		log.Warn().Uint64("dropped", dropped).Msg("events dropped while subscribers were busy")
	}
	log.Info().Msg("liqi stopped")

	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}
