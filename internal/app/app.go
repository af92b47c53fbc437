package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/neurobridge-chat/internal/chat/room"
	"github.com/yungbote/neurobridge-chat/internal/clients/chatapi"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

// App is the composition root of the chat client.
type App struct {
	Log      *logger.Logger
	Cfg      Config
	Metrics  *observability.Metrics
	Clients  Clients
	Identity chatapi.Identity
	Uploader *upload.Uploader
	Rooms    *room.Manager

	shutdownOtel func(context.Context) error
	cancel       context.CancelFunc
}

func New(ctx context.Context, configPath string) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log, configPath)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return NewWithConfig(ctx, log, cfg)
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	identity, err := chatapi.IdentityFromToken(cfg.API.Token)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("read session token: %w", err)
	}
	if identity.Expired(time.Now()) {
		log.Warn("Session token is expired; backend calls will be rejected", "expires_at", identity.ExpiresAt)
	}

	shutdownOtel := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.NewMetrics()

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		_ = shutdownOtel(context.Background())
		log.Sync()
		return nil, err
	}

	uploader := upload.New(clients.Objects, log, append(cfg.UploaderOptions(), upload.WithMetrics(metrics))...)
	rooms, err := room.NewManager(clients.API, clients.Push, identity.UserID, log,
		room.WithUploader(uploader),
		room.WithMetrics(metrics),
		room.WithLocation(cfg.Location()),
	)
	if err != nil {
		clients.Close()
		_ = shutdownOtel(context.Background())
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Metrics:      metrics,
		Clients:      clients,
		Identity:     identity,
		Uploader:     uploader,
		Rooms:        rooms,
		shutdownOtel: shutdownOtel,
	}, nil
}

// Start runs background services such as the metrics endpoint.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Rooms != nil {
		a.Rooms.Close()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
