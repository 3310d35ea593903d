package linkAuth

import (
	"errors"
	"time"

	"github.com/MrEthical07/linkAuth/entitlement"
	"github.com/MrEthical07/linkAuth/internal/accounts"
	internalaudit "github.com/MrEthical07/linkAuth/internal/audit"
	internalflows "github.com/MrEthical07/linkAuth/internal/flows"
	"github.com/MrEthical07/linkAuth/internal/otp"
	"github.com/MrEthical07/linkAuth/internal/rate"
	"github.com/MrEthical07/linkAuth/internal/secretbox"
	"github.com/MrEthical07/linkAuth/internal/stores"
	"github.com/MrEthical07/linkAuth/jwt"
	"github.com/MrEthical07/linkAuth/password"
	"github.com/MrEthical07/linkAuth/permission"
	"github.com/MrEthical07/linkAuth/refresh"
	"github.com/MrEthical07/linkAuth/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// dummyPassword is hashed once at build time so that logins for unknown
// users spend the same argon2 work as real ones.
const dummyPassword = "linkauth-timing-equalizer-0"

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	mailer    Mailer
	auditSink AuditSink
	logger    zerolog.Logger
	now       func() time.Time

	roles *permission.RoleManager
	table *entitlement.Table

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing refresh tokens, two-factor sessions and
// rate counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the entity store holding users.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures that do not
// fail the calling operation.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRoles replaces the default role grants. The manager's registry is
// used to decode stored permissions.
func (b *Builder) WithRoles(rm *permission.RoleManager) *Builder {
	b.roles = rm
	return b
}

// WithEntitlementTable replaces the default tier table.
func (b *Builder) WithEntitlementTable(t *entitlement.Table) *Builder {
	b.table = t
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("entity store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	roles := b.roles
	if roles == nil {
		roles = permission.DefaultRoles(permission.DefaultRegistry())
	}
	table := b.table
	if table == nil {
		table = entitlement.DefaultTable()
	}

	verifier, err := password.NewVerifier(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, _, err := verifier.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	box, err := secretbox.New(cfg.TwoFactor.EncryptionKey)
	if err != nil {
		return nil, err
	}
	totp, err := otp.New(otp.Params{
		Issuer:    cfg.TwoFactor.Issuer,
		Digits:    cfg.TwoFactor.Digits,
		Period:    cfg.TwoFactor.Period,
		Skew:      cfg.TwoFactor.Skew,
		Algorithm: cfg.TwoFactor.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		now:        now,
		logger:     b.logger,
		mailer:     b.mailer,
		roles:      roles,
		table:      table,
		resolver:   entitlement.Resolver{GracePeriod: cfg.Entitlement.GracePeriod},
		users:      accounts.NewRepository(b.store, roles.Registry(), now),
		refresh:    refresh.NewStore(b.redis, refresh.WithTTL(cfg.Refresh.TTL), refresh.WithClock(now)),
		challenges: stores.NewTwoFactorStore(b.redis, cfg.TwoFactor.RedisPrefix, now),
		limiter:    rate.New(b.redis, now),
		box:        box,
		verifier:   verifier,
		dummyHash:  dummyHash,
		jwtManager: jm,
		totp:       totp,
		metrics:    NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}
	engine.flows = internalflows.New(engine.flowDeps())

	b.built = true
	return engine, nil
}
