package charityauth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/charityauth/captcha"
	"github.com/MrEthical07/charityauth/fraud"
	"github.com/MrEthical07/charityauth/identity"
	"github.com/MrEthical07/charityauth/internal/limiters"
	"github.com/MrEthical07/charityauth/jwt"
	"github.com/MrEthical07/charityauth/kv"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/password"
	"github.com/MrEthical07/charityauth/twofactor"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	kv     kv.Store

	store     AccountStore
	transport otp.Transport
	notifier  Notifier
	captcha   CaptchaVerifier
	identity  IdentityVerifier
	auditSink AuditSink
	logger    *zap.Logger

	clock   func() time.Time
	sleeper func(context.Context, time.Duration) error

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs OTP codes, counters and throttles with Redis. Keys are
// prefixed with Config.KeyPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKVStore sets the short-lived key-value store directly. It takes
// precedence over WithRedis.
func (b *Builder) WithKVStore(store kv.Store) *Builder {
	b.kv = store
	return b
}

func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.store = store
	return b
}

// WithOTPTransport sets the SMS transport. Without one, messages are logged,
// which is only suitable for development.
func (b *Builder) WithOTPTransport(t otp.Transport) *Builder {
	b.transport = t
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithCaptchaVerifier overrides the reCAPTCHA verifier built from
// Config.Captcha.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithIdentityVerifier overrides the Google verifier built from
// Config.External.
func (b *Builder) WithIdentityVerifier(v IdentityVerifier) *Builder {
	b.identity = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for lockout windows, token stamps and audit
// timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithSleeper replaces the failed-login delay. Tests pass a no-op.
func (b *Builder) WithSleeper(sleep func(context.Context, time.Duration) error) *Builder {
	b.sleeper = sleep
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("account store required")
	}

	store := b.kv
	if store == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or kv store required")
		}
		store = kv.NewRedis(b.redis, cfg.KeyPrefix)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		store:    b.store,
		kv:       store,
		notifier: b.notifier,
		logger:   logger,
		clock:    clock,
		newID:    uuid.NewString,
	}

	// -------- CREDENTIALS --------
	argon, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	hasher := &password.Multi{Primary: argon}
	if cfg.Password.BcryptCost > 0 {
		legacy, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, err
		}
		hasher.Legacy = legacy
	}
	engine.hasher = hasher
	if engine.dummyHash, err = hasher.Hash(uuid.NewString()); err != nil {
		return nil, err
	}
	if cfg.Password.MaxConcurrentHashes > 0 {
		engine.hashSem = make(chan struct{}, cfg.Password.MaxConcurrentHashes)
	}
	engine.changePolicy = password.StrictPolicy()
	engine.registerPolicy = password.StrictPolicy()
	if cfg.Password.LightRegistration {
		engine.registerPolicy = password.RegistrationPolicy()
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm.WithClock(clock)

	// -------- ONE-TIME CODES --------
	transport := b.transport
	if transport == nil {
		logger.Warn("no otp transport configured, codes are written to the log")
		transport = otp.NewLogTransport(logger.Named("otp"))
	}
	channel, err := otp.New(store, transport, otp.Config{
		Digits:        cfg.OTP.Digits,
		TTL:           cfg.OTP.TTL,
		MaxAttempts:   cfg.OTP.MaxAttempts,
		MessageFormat: cfg.OTP.MessageFormat,
	})
	if err != nil {
		return nil, err
	}
	engine.otp = channel

	// -------- LOCKOUT --------
	guard, err := lockout.NewGuard(cfg.Lockout)
	if err != nil {
		return nil, err
	}
	if b.sleeper != nil {
		guard = guard.WithSleeper(b.sleeper)
	}
	engine.guard = guard

	// -------- TWO-FACTOR --------
	tp, err := twofactor.NewTOTP(twofactor.TOTPConfig{Issuer: cfg.TwoFactor.Issuer, Skew: 1})
	if err != nil {
		return nil, err
	}
	engine.totp = tp

	// -------- REGISTRATION SAFEGUARDS --------
	if cfg.Fraud.Enabled {
		engine.fraud = fraud.NewAssessor(store, cfg.Fraud)
	}
	engine.captcha = b.captcha
	if engine.captcha == nil && cfg.Captcha.Enabled {
		rc, err := captcha.NewReCaptcha(&http.Client{Timeout: cfg.Captcha.Timeout}, cfg.Captcha)
		if err != nil {
			return nil, err
		}
		engine.captcha = rc
	}
	engine.identity = b.identity
	if engine.identity == nil && cfg.External.Enabled {
		g, err := identity.NewGoogle(&http.Client{Timeout: cfg.External.Timeout}, cfg.External)
		if err != nil {
			return nil, err
		}
		engine.identity = g
	}

	engine.registrationLimiter = limiters.NewRegistrationLimiter(store, limiters.RegistrationConfig{
		EnableIdentifierThrottle: cfg.Registration.EnableIdentifierThrottle,
		EnableIPThrottle:         cfg.Registration.EnableIPThrottle,
		MaxAttempts:              cfg.Registration.MaxAttempts,
		Cooldown:                 cfg.Registration.Cooldown,
	})
	engine.otpLimiter = limiters.NewOTPRequestLimiter(store, limiters.OTPRequestConfig{
		EnableIdentifierThrottle: cfg.OTP.EnableIdentifierThrottle,
		EnableIPThrottle:         cfg.OTP.EnableIPThrottle,
		MaxRequests:              cfg.OTP.MaxRequests,
		Window:                   cfg.OTP.RequestWindow,
	})
	engine.twoFactorLimiter = limiters.NewTwoFactorLimiter(store, limiters.TwoFactorConfig{
		MaxAttempts: cfg.TwoFactor.MaxAttempts,
		Cooldown:    cfg.TwoFactor.Cooldown,
	})

	engine.allowedRoles = make(map[Role]struct{}, len(cfg.Registration.AllowedRoles))
	for _, r := range cfg.Registration.AllowedRoles {
		engine.allowedRoles[r] = struct{}{}
	}

	// -------- OBSERVABILITY --------
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
