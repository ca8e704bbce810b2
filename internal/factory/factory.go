package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hongson-portal/internal/auth"
	"hongson-portal/internal/client"
	"hongson-portal/internal/config"
	"hongson-portal/internal/hashing"
	"hongson-portal/internal/repository"
	"hongson-portal/internal/repository/memory"
	redisrepo "hongson-portal/internal/repository/redis"
	"hongson-portal/internal/repository/scylla"
	"hongson-portal/internal/service"
	"hongson-portal/internal/storage"
	"hongson-portal/internal/tls"
	"hongson-portal/internal/util"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	scyllaClient     *scylla.ScyllaClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	imageStore       *storage.ImageStore

	appRepository repository.AppRepository
	hasher        *hashing.Hasher
	tokenCodec    *auth.TokenCodec
	guard         *auth.Guard

	appService  *service.AppService
	authService *service.AuthService

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
	}

	if cfg.Server.EnableTLS {
		manager, err := tls.NewManager(cfg.Server)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize TLS: %w", err)
		}
		factory.tlsManager = manager
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeServices(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store", cfg.Store.Driver),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("redis_enabled", factory.redisClient != nil),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("elasticsearch_enabled", factory.esClient != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
		util.Bool("storage_enabled", factory.imageStore != nil),
	)

	return factory, nil
}

// initializeClients connects every configured backend. Failures are fatal in
// production and downgrade to warnings elsewhere.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error
	logger := util.Get()

	// ScyllaDB
	if f.config.Store.Driver == "scylla" {
		if c, err := scylla.NewScyllaClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			f.appRepository = scylla.NewAppRepository(c)
			util.Info("ScyllaDB client initialized and healthy")
		}
	}
	if f.appRepository == nil {
		if f.config.Store.Driver != "memory" {
			util.Warn("Falling back to the in-memory app store; changes will not survive a restart")
		}
		f.appRepository = memory.NewAppStore()
	}

	// Redis
	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			c.AddHook(redisrepo.NewCircuitBreakerHook())
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, logger); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	// Object storage
	if f.config.Storage.Enabled {
		if store, err := storage.NewImageStore(ctx, f.config, logger); err != nil {
			initErrors = append(initErrors, fmt.Errorf("storage: %w", err))
		} else {
			f.imageStore = store
			if err := store.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("storage health check: %w", err))
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeServices builds the session codec and the domain services on top
// of whichever clients came up.
func (f *Factory) initializeServices() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	f.tokenCodec = auth.NewTokenCodec(hasher,
		auth.WithMaxAge(f.config.Admin.SessionMaxAge),
		auth.WithSignatureCheck(f.config.Admin.VerifySignature),
	)
	f.guard = auth.NewGuard(f.tokenCodec, f.config.Admin.PathPrefix, f.CookieOptions(), util.Named("guard"))

	// Optional collaborators are only passed when present so the service
	// never sees a typed nil.
	var opts []service.AppServiceOption
	if f.kafkaProducer != nil {
		opts = append(opts, service.WithEventPublisher(f.kafkaProducer))
	}
	if f.esClient != nil {
		opts = append(opts, service.WithSearchIndexer(f.esClient))
	}
	if f.clickhouseClient != nil {
		opts = append(opts, service.WithLaunchRecorder(f.clickhouseClient))
	}
	f.appService = service.NewAppService(f.appRepository, util.Get(), opts...)

	var limiter service.LoginLimiter
	if f.redisClient != nil {
		limiter = redisrepo.NewLoginAttemptCache(f.redisClient, f.config.Admin.LoginMaxAttempts, f.config.Admin.LoginWindow)
	} else {
		limiter = service.NewLocalAttemptLimiter(f.config.Admin.LoginMaxAttempts, f.config.Admin.LoginWindow, clockwork.NewRealClock())
	}
	f.authService = service.NewAuthService(hasher, f.tokenCodec, limiter, util.Get())

	return nil
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every configured backend concurrently. A nil entry
// means the component is healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]func(context.Context) error{
		"store": f.appRepository.HealthCheck,
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = f.esClient.HealthCheck
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}
	if f.imageStore != nil {
		checks["storage"] = f.imageStore.HealthCheck
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(checks))
		g       errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			err := check(ctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// IsHealthy ignores Kafka, whose outages only delay change events.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	for name, err := range f.HealthCheck(ctx) {
		if err != nil && name != "kafka" {
			return false
		}
	}
	return true
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

// TLSManager is nil unless ENABLE_TLS is set.
func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AppService() *service.AppService {
	return f.appService
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) Guard() *auth.Guard {
	return f.guard
}

// ImageStore is nil unless STORAGE_ENABLED is set and the store came up.
func (f *Factory) ImageStore() *storage.ImageStore {
	return f.imageStore
}

func (f *Factory) CookieOptions() auth.CookieOptions {
	return auth.CookieOptions{Secure: f.config.IsProduction()}
}
