// Package main provides the office server binary: the websocket channels for
// presence, chat, room lifecycle and zones, the HTTP API, and the gRPC admin
// health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cory-johannsen/officeverse/internal/channel/chat"
	"github.com/cory-johannsen/officeverse/internal/channel/lifecycle"
	"github.com/cory-johannsen/officeverse/internal/channel/presence"
	"github.com/cory-johannsen/officeverse/internal/channel/zone"
	"github.com/cory-johannsen/officeverse/internal/completion"
	"github.com/cory-johannsen/officeverse/internal/config"
	"github.com/cory-johannsen/officeverse/internal/directory"
	"github.com/cory-johannsen/officeverse/internal/httpapi"
	"github.com/cory-johannsen/officeverse/internal/observability"
	"github.com/cory-johannsen/officeverse/internal/server"
	"github.com/cory-johannsen/officeverse/internal/storage/postgres"
	"github.com/cory-johannsen/officeverse/internal/transport/websocket"
	"github.com/cory-johannsen/officeverse/internal/zonecatalog"
)

const probeInterval = 30 * time.Second

func main() {
	start := time.Now()

	fs := pflag.NewFlagSet("officeserver", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	configPath, _ := fs.GetString("config")
	v := config.NewViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("reading config: %v", err)
	}
	if err := config.BindFlags(v, fs); err != nil {
		log.Fatalf("binding flags: %v", err)
	}
	cfg, err := config.LoadFromViper(v)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting office server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
		zap.String("directory_backend", cfg.Directory.Backend),
	)

	ctx := context.Background()

	dir, closeDir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening directory", zap.Error(err))
	}
	defer closeDir()

	zones := zonecatalog.Empty()
	if cfg.Zones.CatalogPath != "" {
		zones, err = zonecatalog.LoadFile(cfg.Zones.CatalogPath)
		if err != nil {
			logger.Fatal("loading zone catalog", zap.Error(err))
		}
		logger.Info("zone catalog loaded", zap.Int("zones", zones.Len()))
	}

	completer := completion.NewAnthropic(cfg.Completion)
	completions := completion.NewService(completer, cfg.Completion.APIKey, cfg.Completion.MaxPromptLength, logger)
	logger.Info("completion service ready",
		zap.String("provider", completer.Name()),
		zap.String("model", completer.Model()),
		zap.Bool("configured", completions.IsConfigured()),
	)

	ws := websocket.NewServer(cfg.WebSocket, logger)
	mux := http.NewServeMux()
	mux.Handle("/movement", ws.Handler("presence", presence.NewHandler(logger, presence.Options{
		ExcludeSender: cfg.Presence.ExcludeSender,
	})))
	mux.Handle("/chat", ws.Handler("chat", chat.NewHandler(logger)))
	mux.Handle("/rooms", ws.Handler("lifecycle", lifecycle.NewHandler(dir, logger)))
	mux.Handle("/zones", ws.Handler("zone", zone.NewHandler(dir, zones, logger)))
	httpapi.New(dir, completions, logger).Register(mux)

	httpSvc := server.NewHTTPService(cfg.HTTP, httpapi.CORS(cfg.WebSocket.AllowedOrigins, mux), logger)
	httpSvc.OnShutdown(ws.Shutdown)

	admin := server.NewAdmin(cfg.Admin.Addr(), logger)
	probeCtx, stopProbe := context.WithCancel(ctx)

	services := server.NewLifecycle(logger)
	services.Add("admin", admin)
	services.Add("directory-probe", &server.FuncService{
		StartFn: func() error {
			err := admin.Probe(probeCtx, server.DirectoryService, probeInterval, 5*time.Second, dir.Ping)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
		StopFn: stopProbe,
	})
	services.Add("http", httpSvc)

	logger.Info("office server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := services.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openDirectory builds the directory selected by cfg.Directory.Backend.
//
// Postcondition: The returned close func is non-nil and safe to call once.
func openDirectory(ctx context.Context, cfg config.Config, logger *zap.Logger) (directory.Directory, func(), error) {
	switch cfg.Directory.Backend {
	case config.BackendPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return postgres.NewDirectory(pool.DB(), nil), pool.Close, nil
	default:
		return directory.NewMemory(nil), func() {}, nil
	}
}
