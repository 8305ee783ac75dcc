// Command pida is the intrusion-detection agent binary. It loads a YAML
// configuration file, starts the event bus, timeline engine, folder/input/
// session producers, and the alert dispatcher with its notifiers, serves
// the HTTP/WebSocket dashboard API, and shuts down gracefully on SIGTERM or
// SIGINT.
//
// Wiring order on startup and the reverse order on shutdown follow the
// teacher's cmd/agent/main.go: configuration, then storage, then the
// components that depend on it, with the HTTP server started last and
// stopped first.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/abi50/pida/internal/bus"
	"github.com/abi50/pida/internal/config"
	"github.com/abi50/pida/internal/dispatcher"
	"github.com/abi50/pida/internal/engine"
	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/notifier"
	"github.com/abi50/pida/internal/producer/folder"
	"github.com/abi50/pida/internal/producer/input"
	"github.com/abi50/pida/internal/producer/session"
	"github.com/abi50/pida/internal/server/httpapi"
	"github.com/abi50/pida/internal/server/ws"
	"github.com/abi50/pida/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/pida/config.yaml", "path to the pida agent YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pida: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("db_path", cfg.DBPath),
		slog.String("log_level", cfg.LogLevel),
	)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.DBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	eventBus := bus.New(cfg.BusCapacity, logger)
	wsBroadcaster := ws.NewBroadcaster(logger, 0)

	// The dispatcher and its notifiers are wired before the engine so
	// onAlert has somewhere to send.
	alertDispatcher := dispatcher.New(logger)
	wireNotifiers(alertDispatcher, cfg, logger)
	alertDispatcher.AddRoute(model.SeverityInfo, "websocket", func(ctx context.Context, alert model.Alert) error {
		wsBroadcaster.BroadcastAlert(alert)
		return nil
	})

	timelineEngine := engine.New(eventBus, st, cfg.AwayWindows, func(ctx context.Context, alert model.Alert) error {
		alertDispatcher.Dispatch(ctx, alert)
		return nil
	}, logger)

	// Also fan every raw event out over the WebSocket for a live timeline
	// view, independent of whether it triggered an alert.
	eventBus.Subscribe(func(ctx context.Context, event model.TimelineEvent) error {
		wsBroadcaster.BroadcastEvent(event)
		return nil
	})

	inputProducer := input.New(eventBus, cfg.InputPollInterval, cfg.AwayWindows, logger)
	sessionProducer := session.New(eventBus, cfg.SessionPollInterval, logger)
	folderProducer := folder.New(cfg.Folders, eventBus, logger)

	httpServer := buildHTTPServer(cfg, st, wsBroadcaster, []httpapi.AwayWindowSetter{timelineEngine, inputProducer}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus.Start(ctx)
	timelineEngine.Start()
	inputProducer.Start(ctx)
	sessionProducer.Start(ctx)
	if err := folderProducer.Start(ctx); err != nil {
		logger.Error("failed to start folder producer", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", slog.Any("error", err))
	}

	// Shut down producers before the engine, and the engine before the bus,
	// so no component outlives its upstream dependency.
	folderProducer.Stop()
	sessionProducer.Stop()
	inputProducer.Stop()
	timelineEngine.Stop()
	eventBus.Stop()
	wsBroadcaster.Close()

	logger.Info("pida agent exited cleanly")
}

func wireNotifiers(d *dispatcher.Dispatcher, cfg *config.Config, logger *slog.Logger) {
	d.AddRoute(model.Severity(cfg.Alerts.LogThreshold), "log", notifier.NewLogNotifier(logger))
	d.AddRoute(model.Severity(cfg.Alerts.ToastThreshold), "toast", notifier.NewToastNotifier(nil, logger))

	if cfg.Alerts.Email.Enabled {
		emailNotifier := notifier.NewEmailNotifier(cfg.Alerts.Email, logger)
		d.AddRoute(model.Severity(cfg.Alerts.EmailThreshold), "email", emailNotifier.Notify)
	}
}

func buildHTTPServer(cfg *config.Config, st *store.Store, bc *ws.Broadcaster, awaySetters []httpapi.AwayWindowSetter, logger *slog.Logger) *http.Server {
	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		key, err := loadRSAPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey = key
	}

	apiServer := httpapi.NewServer(st, bc.ClientCount, awaySetters...)
	router := httpapi.NewRouter(apiServer, pubKey, cfg.CORSOrigins)

	wsHandler := ws.NewHandler(bc, logger, 10*time.Second, nil)

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/ws/events", wsHandler)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived.
	}
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key in %q is not RSA", path)
	}
	return rsaPub, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
