package app

import (
	"context"
	"fmt"

	"github.com/yungbote/neurobridge-chat/internal/clients/chatapi"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/bus"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

type Clients struct {
	API        *chatapi.Client
	Push       bus.Bus
	Objects    upload.ObjectStore
	closeStore func() error
}

var newPushBus = bus.New

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")

	api, err := chatapi.New(log, cfg.ChatAPI(), metrics)
	if err != nil {
		return Clients{}, fmt.Errorf("init chat api client: %w", err)
	}

	objects, closeStore, err := resolveObjectStore(ctx, log, cfg, metrics)
	if err != nil {
		return Clients{}, fmt.Errorf("init object storage: %w", err)
	}

	push, err := newPushBus(ctx, log, cfg.BusOptions())
	if err != nil {
		_ = closeStore()
		return Clients{}, fmt.Errorf("init push transport %q: %w", cfg.Push.Transport, err)
	}

	return Clients{
		API:        api,
		Push:       push,
		Objects:    objects,
		closeStore: closeStore,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Push != nil {
		_ = c.Push.Close()
	}
	if c.closeStore != nil {
		_ = c.closeStore()
	}
}
