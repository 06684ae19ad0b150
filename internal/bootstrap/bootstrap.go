// Package bootstrap assembles the storage, transport and service graph shared
// by the API and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solvejet/pixe-whatspp-sub001/internal/broker"
	"github.com/solvejet/pixe-whatspp-sub001/internal/cache"
	"github.com/solvejet/pixe-whatspp-sub001/internal/config"
	"github.com/solvejet/pixe-whatspp-sub001/internal/contentstore"
	"github.com/solvejet/pixe-whatspp-sub001/internal/events"
	"github.com/solvejet/pixe-whatspp-sub001/internal/observability"
	"github.com/solvejet/pixe-whatspp-sub001/internal/persistence"
	"github.com/solvejet/pixe-whatspp-sub001/internal/repository"
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
	"github.com/solvejet/pixe-whatspp-sub001/internal/whatsapp"
	"github.com/solvejet/pixe-whatspp-sub001/internal/worker"
)

// Container holds long-lived dependencies.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	Broker   broker.Broker
	Pool     *worker.Pool

	Conversations *service.ConversationService
	Media         *service.MediaService
	Templates     *service.TemplateService
	Messaging     *service.MessagingService
	Webhooks      *service.WebhookService
	Audit         *service.AuditService
	Dispatcher    events.Dispatcher
}

// New connects backends and builds services. Without a DSN or with Redis
// disabled the in-memory implementations are used instead.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	store := repository.NewMemoryStore()
	if pg.Enabled() {
		store = repository.NewPostgresStore(pg.PoolHandle())
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	var (
		cacheStore cache.Store   = cache.NewMemoryStore()
		queue      broker.Broker = broker.NewMemoryBroker(cfg.Queue.RetryBase())
	)
	if redis.Enabled() {
		cacheStore = cache.NewRedisStore(redis.Client, cfg.Queue.Prefix+":cache:")
		queue = broker.NewRedisBroker(redis.Client, logger, broker.RedisOptions{
			Prefix:            cfg.Queue.Prefix,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		})
	}

	content, err := contentstore.NewFSStore(cfg.Media.StorageRoot)
	if err != nil {
		pg.Close()
		redis.Close()
		return nil, fmt.Errorf("open content store: %w", err)
	}

	dispatcher := events.NewInMemoryDispatcher(func(event events.Event, err error) {
		logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	})
	graph := whatsapp.NewClient(cfg.WhatsApp, cfg.Media.DownloadMaxBytes, logger, metrics)

	pool := worker.NewPool(worker.PoolOptions{
		Name:          "webhook",
		Workers:       cfg.Webhook.Workers,
		QueueSize:     cfg.Webhook.QueueSize,
		SubmitTimeout: cfg.Webhook.SubmitTimeout(),
		TaskTimeout:   cfg.Webhook.ProcessTimeout(),
	}, logger, metrics)

	c := &Container{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    metrics,
		Postgres:   pg,
		Redis:      redis,
		Broker:     queue,
		Pool:       pool,
		Dispatcher: dispatcher,
	}

	c.Conversations = service.NewConversationService(service.ConversationDependencies{
		ConversationRepo: store.Conversations,
		MessageRepo:      store.Messages,
		Sender:           graph,
		Dispatcher:       dispatcher,
		Logger:           logger,
		WindowHours:      cfg.Conversation.WindowHours,
	})
	c.Media = service.NewMediaService(service.MediaDependencies{
		MediaRepo:  store.Media,
		Content:    content,
		Provider:   graph,
		Broker:     queue,
		Dispatcher: dispatcher,
		Logger:     logger,
		Config:     cfg.Media,
	})
	c.Templates = service.NewTemplateService(service.TemplateDependencies{
		TemplateRepo: store.Templates,
		Provider:     graph,
		Cache:        cacheStore,
		Dispatcher:   dispatcher,
		Logger:       logger,
		TTL:          cfg.Templates.CacheTTL(),
	})
	c.Messaging = service.NewMessagingService(service.MessagingDependencies{
		Conversations:   c.Conversations,
		Templates:       c.Templates,
		MediaRepo:       store.Media,
		Sender:          graph,
		Logger:          logger,
		BusinessPhoneID: graph.PhoneNumberID(),
		BulkConcurrency: cfg.Media.BulkConcurrency,
	})
	c.Webhooks = service.NewWebhookService(service.WebhookDependencies{
		AppSecret:     cfg.WhatsApp.AppSecret,
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		Pool:          pool,
		Conversations: c.Conversations,
		Media:         c.Media,
		Templates:     c.Templates,
		Logger:        logger,
		Metrics:       metrics,
	})
	c.Audit = service.NewAuditService(dispatcher, logger)
	worker.StartAuditWorker(c.Audit)

	return c, nil
}

// RunBackground consumes the media queues, keeps Redis queues moving and
// sweeps expired conversations and abandoned uploads until ctx is done.
func (c *Container) RunBackground(ctx context.Context) error {
	consumer := worker.NewQueueConsumer(c.Broker, worker.ConsumerOptions{
		ConsumersPerQueue: c.Config.Queue.ConsumersPerQueue,
		MaxRetries:        c.Config.Queue.MaxRetries,
		RetryBase:         c.Config.Queue.RetryBase(),
		RetryMax:          c.Config.Queue.RetryMax(),
		HandlerTimeout:    c.Config.Queue.VisibilityTimeout(),
	}, c.Logger, c.Metrics, c.Dispatcher)
	worker.RegisterMediaHandlers(consumer, c.Media)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx) })
	if rb, ok := c.Broker.(*broker.RedisBroker); ok {
		g.Go(func() error { return rb.Maintain(ctx, consumer.Queues()...) })
	}
	g.Go(func() error {
		return worker.RunEvery(ctx, c.Config.Conversation.SweepInterval(), "conversation-sweep", c.Logger, func(ctx context.Context) error {
			n, err := c.Conversations.SweepExpired(ctx)
			if err == nil && n > 0 {
				c.Logger.Info("expired conversations", zap.Int64("count", n))
			}
			return err
		})
	})
	g.Go(func() error {
		return worker.RunEvery(ctx, c.Config.Media.UploadLease()/2, "media-upload-sweep", c.Logger, func(ctx context.Context) error {
			_, err := c.Media.SweepStaleUploads(ctx)
			return err
		})
	})
	return g.Wait()
}

// Close drains the webhook pool and releases connections.
func (c *Container) Close(ctx context.Context) {
	if err := c.Pool.Shutdown(ctx); err != nil {
		c.Logger.Warn("webhook pool did not drain", zap.Error(err))
	}
	c.Redis.Close()
	c.Postgres.Close()
}
