package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davebirr/WellMonitor-sub002/internal/api"
	"github.com/davebirr/WellMonitor-sub002/internal/camera"
	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/internal/monitor"
	"github.com/davebirr/WellMonitor-sub002/internal/ocr"
	"github.com/davebirr/WellMonitor-sub002/internal/relay"
	"github.com/davebirr/WellMonitor-sub002/internal/safety"
	"github.com/davebirr/WellMonitor-sub002/internal/storage/sqlite"
	"github.com/davebirr/WellMonitor-sub002/internal/telemetry"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "wellmonitor.toml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configStore := config.NewStore(cfg)

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting well monitor agent",
		logger.String("config", configPath),
		logger.String("device_id", cfg.Telemetry.DeviceID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store.
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	readings, err := sqlite.NewReadingStorage(db, log)
	if err != nil {
		return err
	}
	actions, err := sqlite.NewRelayActionStorage(db, log)
	if err != nil {
		return err
	}

	// Safety controller, with state replayed from the store so a
	// restart does not forget an in-progress fault or today's cycles.
	actuator, err := relay.NewActuator(cfg.Relay, log)
	if err != nil {
		return err
	}
	controller := safety.NewController(
		safety.ConfigFrom(cfg.Safety), actuator, actions, safety.NewLogSink(log), log)

	replayCutoff := time.Now().UTC().Add(-time.Duration(cfg.Safety.ReplayWindowMinutes) * time.Minute)
	recentReadings, err := readings.GetSince(replayCutoff)
	if err != nil {
		return err
	}
	recentActions, err := actions.GetSince(startOfDayUTC(time.Now()))
	if err != nil {
		return err
	}
	controller.Rebuild(recentReadings, recentActions)

	// Monitoring pipeline.
	source, err := camera.NewSource(cfg.Camera, log)
	if err != nil {
		return err
	}
	backends, err := buildBackends(cfg, log)
	if err != nil {
		return err
	}
	extractor, err := ocr.NewExtractor(cfg.OCR, backends, log)
	if err != nil {
		return err
	}
	loop := monitor.NewLoop(configStore, source, extractor, readings, controller, log)

	// Cloud reconciliation.
	client := telemetry.NewClient(
		cfg.Telemetry.Endpoint,
		time.Duration(cfg.Telemetry.TimeoutSeconds)*time.Second,
		cfg.Telemetry.MaxRetries,
		log)
	reconciler := telemetry.NewReconciler(ctx, cfg.Telemetry, readings, actions, client, log)
	if cfg.Telemetry.Endpoint != "" {
		if err := reconciler.Start(); err != nil {
			return err
		}
		defer reconciler.Stop()
	} else {
		log.Warn("Telemetry endpoint not configured, cloud sync disabled")
	}

	// Retention cleanup.
	janitor := sqlite.NewJanitor(ctx, readings, actions,
		time.Duration(cfg.Storage.RetentionDays)*24*time.Hour,
		time.Duration(cfg.Storage.CleanupIntervalHours)*time.Hour,
		log)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer janitor.Stop()

	// Status API.
	if cfg.Server.Enabled {
		handler := api.NewHandler(configStore, readings, actions, loop, reconciler, controller, log)
		router := api.NewRouter(handler, cfg.Server, log)
		go func() {
			if err := router.Serve(ctx); err != nil {
				log.Error("Status API stopped", logger.Error(err))
			}
		}()
	}

	// Signals: TERM/INT shut down within the grace period, HUP reloads
	// the config file into a fresh snapshot.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	for {
		select {
		case err := <-loopErr:
			if err != nil {
				// Persistence failure: crash and let the supervisor
				// restart us rather than silently losing readings.
				return err
			}
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloaded, err := config.Load(configPath)
				if err != nil {
					log.Error("Config reload failed, keeping current snapshot", logger.Error(err))
					continue
				}
				configStore.Update(reloaded)
				log.Info("Config reloaded")
				continue
			}

			log.Info("Shutdown signal received",
				logger.String("signal", sig.String()),
				logger.Duration("grace_period", shutdownGracePeriod))
			cancel()

			select {
			case err := <-loopErr:
				return err
			case <-time.After(shutdownGracePeriod):
				log.Error("Grace period expired, exiting")
				return fmt.Errorf("shutdown grace period expired")
			}
		}
	}
}

// buildBackends instantiates the configured OCR engines in priority
// order. Backend selection is a fixed variant set chosen by config, not
// a plugin mechanism.
func buildBackends(cfg *config.Config, log *logger.Logger) ([]ocr.Backend, error) {
	var backends []ocr.Backend
	for _, name := range cfg.OCR.Backends {
		switch name {
		case "tesseract":
			backends = append(backends, ocr.NewTesseractBackend(cfg.OCR.Tesseract, log))
		case "openai":
			backends = append(backends, ocr.NewOpenAIBackend(cfg.OCR.OpenAI, log))
		case "documentai":
			backends = append(backends, ocr.NewDocumentAIBackend(cfg.OCR.DocumentAI, log))
		default:
			return nil, fmt.Errorf("unknown OCR backend: %s", name)
		}
	}
	return backends, nil
}

func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
