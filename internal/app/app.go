// Package app wires the sync components together: transport subscriptions
// feed a bounded queue, a dispatch worker decodes each delivery and routes
// it to the sender, the reconcilers, or the snapshot store.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"chatsync/pkg/backend"
	"chatsync/pkg/cache"
	"chatsync/pkg/clientlog"
	"chatsync/pkg/config"
	"chatsync/pkg/conversation"
	"chatsync/pkg/reliable"
	"chatsync/pkg/snapshot"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/timeline"
	"chatsync/pkg/transport"
)

// App owns the component graph and the dispatch worker lifecycle.
type App struct {
	cfg      *config.Config
	tr       transport.Transport
	session  *transport.Session
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	cache  *cache.Store
	be     backend.Client
	clog   *clientlog.Shipper
	sender *reliable.Sender
	conv   *conversation.Reconciler
	tl     *timeline.Reconciler
	snaps  *snapshot.Store
	queue  *transport.Queue

	stop    chan struct{}
	done    chan struct{}
	cancels []func()
}

// New builds the component graph. The transport and session are owned by
// the caller (the room layer); New never dials anything itself.
func New(cfg *config.Config, tr transport.Transport, session *transport.Session) (*App, error) {
	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	var cacheStore *cache.Store
	if cfg.Cache.Path != "" {
		cs, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		cacheStore = cs
	}

	var be backend.Client
	if cfg.Backend.BaseURL != "" {
		switch cfg.Backend.Adapter {
		case "fasthttp":
			be = backend.NewFastHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Token, nil)
		case "nethttp":
			be = backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Token, nil)
		default:
			return nil, fmt.Errorf("app: unknown backend adapter %q", cfg.Backend.Adapter)
		}
	}

	shipLevel, err := clientlog.ParseLevel(cfg.Log.ShipLevel)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	clog := clientlog.NewShipper(tr, session,
		clientlog.WithName("chatsync"),
		clientlog.WithMinLevel(shipLevel),
	)

	senderOpts := []reliable.Option{reliable.WithMetrics(metrics)}
	if cfg.Send.RateRPS > 0 {
		senderOpts = append(senderOpts, reliable.WithRateLimit(cfg.Send.RateRPS, cfg.Send.RateBurst))
	}
	sender := reliable.NewSender(tr, senderOpts...)
	sendOpts := reliable.SendOptions{Timeout: cfg.AckTimeout(), MaxRetries: cfg.Send.MaxRetries}

	var convCache conversation.Cache
	var tlCache timeline.Cache
	if cacheStore != nil {
		convCache = cacheStore
		tlCache = cacheStore
	}

	var convBackend conversation.Backend
	var tlBackend timeline.Backend
	if be != nil {
		convBackend = be
		tlBackend = be
	}

	conv := conversation.NewReconciler(convBackend, sender, session, convCache,
		conversation.WithTransport(tr),
		conversation.WithMetrics(metrics),
		conversation.WithHistoryLimit(cfg.Conversation.HistoryLimit),
		conversation.WithSendOptions(sendOpts),
	)
	tl := timeline.NewReconciler(tlBackend, tlCache,
		timeline.WithCap(cfg.Timeline.Cap),
		timeline.WithMetrics(metrics),
	)
	snaps := snapshot.NewStore(snapshot.WithMetrics(metrics))

	return &App{
		cfg:      cfg,
		tr:       tr,
		session:  session,
		registry: registry,
		metrics:  metrics,
		cache:    cacheStore,
		be:       be,
		clog:     clog,
		sender:   sender,
		conv:     conv,
		tl:       tl,
		snaps:    snaps,
		queue:    transport.NewQueue(cfg.Queue.Capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start registers topic subscriptions and runs the dispatch worker.
func (a *App) Start() {
	for _, topic := range subscribedTopics {
		a.cancels = append(a.cancels, a.tr.Subscribe(topic, a.enqueue))
	}
	go func() {
		defer close(a.done)
		a.queue.RunWorker(a.stop, a.dispatch)
	}()
}

// Stop unsubscribes, drains the queue, and waits for the worker. The cache
// closes last so in-flight persists land.
func (a *App) Stop() {
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
	close(a.stop)
	a.queue.CloseAndDrain()
	<-a.done
	a.clog.Close()
	_ = a.cache.Close()
}

// OpenConversation seeds the reconcilers from the cache, then loads
// history for both views. Cache seeding is best-effort; history errors
// are returned.
func (a *App) OpenConversation(ctx context.Context, conversationID string) error {
	a.conv.Seed(conversationID)
	a.tl.Seed(conversationID)
	if err := a.conv.LoadHistory(ctx, conversationID); err != nil {
		return err
	}
	return a.tl.LoadHistory(ctx, conversationID)
}

// StartRetention starts the cache sweep when configured. No-op without a
// cache or with retention disabled.
func (a *App) StartRetention(ctx context.Context) (context.CancelFunc, error) {
	if a.cache == nil || !a.cfg.Cache.Retention.Enabled {
		return func() {}, nil
	}
	period, err := a.cfg.RetentionPeriod()
	if err != nil {
		return nil, err
	}
	return a.cache.StartRetention(ctx, cache.RetentionConfig{
		Enabled: true,
		Cron:    a.cfg.Cache.Retention.Cron,
		Period:  period,
	})
}

// Conversation exposes the message reconciler.
func (a *App) Conversation() *conversation.Reconciler { return a.conv }

// Timeline exposes the timeline reconciler.
func (a *App) Timeline() *timeline.Reconciler { return a.tl }

// Snapshots exposes the snapshot store.
func (a *App) Snapshots() *snapshot.Store { return a.snaps }

// Sender exposes the reliable sender for direct tool invocations.
func (a *App) Sender() *reliable.Sender { return a.sender }

// ClientLog exposes the diagnostic log shipper.
func (a *App) ClientLog() *clientlog.Shipper { return a.clog }

// Registry exposes the metrics registry for the debug server.
func (a *App) Registry() *prometheus.Registry { return a.registry }
