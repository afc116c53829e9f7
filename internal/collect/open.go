package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/birkenfeld/arexibo/internal/cache"
	"github.com/birkenfeld/arexibo/internal/config"
	"github.com/birkenfeld/arexibo/internal/logging"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/birkenfeld/arexibo/internal/xmds"
	"github.com/birkenfeld/arexibo/internal/xmr"
)

const downloadTimeout = 30 * time.Minute

// Options carries what Open needs beyond the configuration.
type Options struct {
	Config   config.Config
	Index    cache.Index
	Logs     *logging.Buffer
	Level    *slog.LevelVar
	Updates  chan<- model.Update
	Feedback <-chan model.Feedback
	Version  string
	Logger   *slog.Logger
}

// Open builds the protocol client, the resource cache and the push
// receiver for a configured player and registers with the CMS. The push
// receiver runs until ctx is done.
func Open(ctx context.Context, opts Options) (*Handler, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key, err := xmr.LoadOrCreateKey(cfg.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	publicKey, err := xmr.PublicKeyPEM(key)
	if err != nil {
		return nil, err
	}

	client, err := xmds.NewClient(xmds.Options{
		Address:       cfg.CMS.Address,
		ServerKey:     cfg.CMS.Key,
		HardwareKey:   cfg.CMS.HardwareKey,
		DisplayName:   cfg.CMS.DisplayName,
		Channel:       cfg.CMS.Channel(),
		PublicKey:     publicKey,
		ClientVersion: opts.Version,
		Proxy:         cfg.CMS.Proxy,
		Timeout:       cfg.HTTPTimeout,
	}, logger.With("component", "xmds"))
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, cfg.ResourceDir(), opts.Index, cache.Options{
		HTTPClient: &http.Client{Transport: client.HTTPClient().Transport, Timeout: downloadTimeout},
		Logger:     logger.With("component", "cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	h, err := New(ctx, Deps{
		CMS:          client,
		Cache:        store,
		Logs:         opts.Logs,
		Level:        opts.Level,
		Updates:      opts.Updates,
		Feedback:     opts.Feedback,
		SettingsPath: cfg.SettingsPath(),
		SchedulePath: cfg.SchedulePath(),
		AllowOffline: cfg.AllowOffline,
		Logger:       logger.With("component", "collect"),
	})
	if err != nil {
		return nil, err
	}

	if address := h.settings.XMRNetworkAddress; address != "" {
		receiver := xmr.NewReceiver(address, cfg.CMS.Channel(), key, logger.With("component", "xmr"))
		h.events = receiver.Events()
		go receiver.Run(ctx)
	} else {
		logger.Info("no push address configured, relying on collection interval")
	}
	return h, nil
}
