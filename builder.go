package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/keys"
	"github.com/veridine/authcore/metrics"
	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/refresh"
	"github.com/veridine/authcore/revoke"
	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// Builder assembles an Engine from already-connected store handles.
// Configure during initialization, call Build once, then treat the result
// as immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	keys   keys.Provider

	publisher   bus.Publisher
	logger      zerolog.Logger
	configStore mfa.ConfigStore
	backupStore mfa.BackupCodeStore
	trustStore  mfa.TrustStore

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithKeyProvider(provider keys.Provider) *Builder {
	b.keys = provider
	return b
}

// WithPublisher sets the event bus sink. Without one, events are dropped.
func (b *Builder) WithPublisher(p bus.Publisher) *Builder {
	b.publisher = p
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMongo wires the durable MFA stores (enrollment, backup codes,
// trusted devices) onto collections of the given database.
func (b *Builder) WithMongo(db *mongo.Database) *Builder {
	b.configStore = mfa.NewMongoConfigStore(db)
	b.backupStore = mfa.NewMongoBackupCodeStore(db)
	b.trustStore = mfa.NewMongoTrustStore(db)
	return b
}

// WithMFAStores wires custom durable store implementations.
func (b *Builder) WithMFAStores(configs mfa.ConfigStore, backups mfa.BackupCodeStore, trust mfa.TrustStore) *Builder {
	b.configStore = configs
	b.backupStore = backups
	b.trustStore = trust
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatency = enabled
	return b
}

// Build validates the configuration, wires every engine, and returns the
// facade. The builder cannot be reused.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.keys == nil {
		return nil, errors.New("key provider required")
	}
	if cfg.SessionTombstoneTTL <= 0 {
		cfg.SessionTombstoneTTL = 24 * time.Hour
	}
	if cfg.Janitor.Interval <= 0 {
		cfg.Janitor.Interval = 10 * time.Minute
	}
	if len(cfg.Janitor.Tenants) == 0 {
		cfg.Janitor.Tenants = []string{""}
	}

	m := metrics.New(cfg.Metrics)

	publisher := b.publisher
	if publisher == nil {
		publisher = bus.NoOpPublisher{}
	}
	pump := bus.NewPump(cfg.Events, publisher)

	revocations, err := revoke.NewEngine(cfg.Revocation, b.redis, pump, m)
	if err != nil {
		pump.Close()
		return nil, err
	}

	tokens, err := token.NewEngine(cfg.Token, b.keys, revocations, m)
	if err != nil {
		pump.Close()
		return nil, err
	}

	refreshStore := refresh.NewStore(b.redis, cfg.RefreshKeyPrefix)
	refreshEngine, err := refresh.NewEngine(cfg.Refresh, refreshStore, pump, m)
	if err != nil {
		pump.Close()
		return nil, err
	}

	// A terminated session's tokens must be dead before the record goes.
	// The flag outlives the longest token that could be bound to the
	// session, so the revocation check stays authoritative for all of
	// them.
	revokerTTL := cfg.Token.RefreshTTL
	if cfg.Session.TTL > revokerTTL {
		revokerTTL = cfg.Session.TTL
	}
	revoker := &sessionTokenRevoker{revocations: revocations, ttl: revokerTTL}

	sessionStore := session.NewStore(b.redis, cfg.SessionKeyPrefix, cfg.SessionTombstoneTTL)
	sessions, err := session.NewEngine(cfg.Session, sessionStore, revoker, pump, m)
	if err != nil {
		pump.Close()
		return nil, err
	}

	configStore := b.configStore
	backupStore := b.backupStore
	trustStore := b.trustStore
	if configStore == nil {
		// No durable store wired: keep MFA functional in-process. Multi-
		// instance deployments must wire WithMongo or WithMFAStores.
		configStore = mfa.NewMemoryConfigStore()
		backupStore = mfa.NewMemoryBackupCodeStore()
		trustStore = mfa.NewMemoryTrustStore()
	}

	challengeStore := mfa.NewChallengeStore(b.redis, cfg.ChallengeKeyPrefix)
	mfaEngine, err := mfa.NewEngine(cfg.MFA, challengeStore, configStore, backupStore, trustStore, pump, m)
	if err != nil {
		pump.Close()
		return nil, err
	}

	b.built = true

	return &Engine{
		cfg:         cfg,
		log:         b.logger,
		pump:        pump,
		metrics:     m,
		tokens:      tokens,
		revocations: revocations,
		refresh:     refreshEngine,
		sessions:    sessions,
		mfa:         mfaEngine,
	}, nil
}
