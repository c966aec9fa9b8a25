package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ledgerguard/backend/internal/audit"
	auditrepo "ledgerguard/backend/internal/audit/repository"
	"ledgerguard/backend/internal/cache"
	"ledgerguard/backend/internal/config"
	"ledgerguard/backend/internal/db"
	"ledgerguard/backend/internal/facade"
	facadehandler "ledgerguard/backend/internal/facade/handler"
	healthhandler "ledgerguard/backend/internal/health/handler"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/policy/engine"
	policyrepo "ledgerguard/backend/internal/policy/repository"
	"ledgerguard/backend/internal/ratelimit"
	"ledgerguard/backend/internal/risk"
	"ledgerguard/backend/internal/security"
	"ledgerguard/backend/internal/server"
	sessionrepo "ledgerguard/backend/internal/session/repository"
	sessionservice "ledgerguard/backend/internal/session/service"
	"ledgerguard/backend/internal/telemetry"
	telemetryotel "ledgerguard/backend/internal/telemetry/otel"
	"ledgerguard/backend/internal/telemetry/producer"
	userrepo "ledgerguard/backend/internal/user/repository"
)

const (
	shutdownDrainDuration = 15 * time.Second
	bucketCleanupInterval = time.Minute
	bucketIdleTTL         = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog := logger.Init(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server exited", zap.Error(err))
	}
}

// stores holds the backends selected by config. Nil fields are unused.
type stores struct {
	db       *sql.DB
	redis    *cache.RedisClient
	audit    auditrepo.Repository
	sessions sessionrepo.Repository
	users    userrepo.Repository
	policies policyrepo.Repository
}

func (s *stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Settings{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	st, err := openStores(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer st.close()

	auditLog := audit.NewLogger(st.audit, zlog)
	sessions := sessionservice.NewManager(st.sessions,
		sessionservice.Config{MaxAge: cfg.MaxAge(), IdleTimeout: cfg.IdleTimeout()}, zlog)

	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AlertKafkaTopic, zlog); kp != nil {
		defer func() { _ = kp.Close() }()
		emitters = append(emitters, kp)
	}
	assessor := risk.NewAssessor(auditLog, sessions, st.users, risk.Thresholds{
		Window:       cfg.Window(),
		FailedLogins: cfg.RiskFailedLoginThreshold,
		DistinctIPs:  cfg.RiskDistinctIPThreshold,
	}, zlog, risk.WithEmitter(emitters), risk.WithMetrics(metrics))

	limiter := newLimiter(cfg, st, auditLog)
	if sw, ok := limiter.(*ratelimit.SlidingWindow); ok {
		go sweepLoop(ctx, sw, max(cfg.LoginWindow(), cfg.PasswordWindow()))
	}

	policy, err := engine.NewOPAEvaluator(ctx, st.policies, zlog)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	tokens, err := newTokenProvider(cfg, zlog)
	if err != nil {
		return err
	}

	var binder *security.CSRFBinder
	if cfg.CSRFMode == config.CSRFModeHMAC {
		if binder, err = security.NewCSRFBinder(cfg.CSRFSecret); err != nil {
			return err
		}
	}

	svc := facade.NewService(facade.Deps{
		Sessions: sessions,
		Audit:    auditLog,
		Recorder: assessor,
		Accounts: assessor,
		Users:    st.users,
		Hasher:   security.NewHasher(cfg.BcryptCost),
		Tokens:   tokens,
		Limiter:  limiter,
		Policy:   policy,
		CSRF:     binder,
		Metrics:  metrics,
		Limits: facade.Limits{
			Login:          cfg.LoginRateLimit,
			LoginWindow:    cfg.LoginWindow(),
			Password:       cfg.PasswordRateLimit,
			PasswordWindow: cfg.PasswordWindow(),
		},
	}, zlog)

	var dbPinger, cachePinger healthhandler.Pinger
	if st.db != nil {
		dbPinger = st.db
	}
	if st.redis != nil {
		cachePinger = healthhandler.PingFunc(st.redis.HealthCheck)
	}

	bucket := ratelimit.NewKeyedTokenBucket(cfg.HTTPRatePerSecond, cfg.HTTPRateBurst, bucketIdleTTL)
	go bucket.Run(ctx, bucketCleanupInterval)

	router := server.NewRouter(server.Deps{
		Security: facadehandler.New(svc, zlog),
		Health:   healthhandler.New(dbPinger, cachePinger, policy),
		Tokens:   tokens,
		Sessions: svc,
		Limiter:  bucket,
		CSRF:     binder,
		CSRFMode: cfg.CSRFMode,
		Origins:  cfg.CORSOrigins(),
		Timeout:  cfg.Timeout(),
		Metrics:  metrics,
		Log:      zlog,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", cfg.HTTPAddr),
			zap.String("storage", cfg.StorageBackend), zap.String("sessions", cfg.SessionBackend()),
			zap.String("rate_limit", cfg.RateLimitBackend), zap.String("csrf_mode", cfg.CSRFMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	zlog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainDuration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	zlog.Info("http server stopped")
	if err := telemetry.Drain(shutdownCtx); err != nil {
		zlog.Warn("alerts still in flight at shutdown", zap.Error(err))
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (*stores, error) {
	st := &stores{}
	var err error
	needsDB := cfg.StorageBackend == config.BackendPostgres || cfg.SessionBackend() == config.BackendPostgres
	if needsDB {
		if st.db, err = db.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}
	if cfg.SessionBackend() == config.BackendRedis || cfg.RateLimitBackend == config.BackendRedis {
		if st.redis, err = cache.NewRedisClient(ctx, cfg.RedisURL, zlog); err != nil {
			st.close()
			return nil, err
		}
	}

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		key, err := cfg.FieldKey()
		if err != nil {
			st.close()
			return nil, err
		}
		var cipher auditrepo.Cipher
		if key != nil {
			fc, err := security.NewFieldCipher(key)
			if err != nil {
				st.close()
				return nil, err
			}
			cipher = fc
		}
		st.audit = auditrepo.NewPostgresRepository(st.db, cipher)
		st.users = userrepo.NewPostgresRepository(st.db)
		st.policies = policyrepo.NewPostgresRepository(st.db)
	default:
		zlog.Warn("using in-memory storage; data is lost on restart")
		st.audit = auditrepo.NewMemoryRepository()
		st.users = userrepo.NewMemoryRepository()
		st.policies = policyrepo.NewMemoryRepository()
	}

	switch cfg.SessionBackend() {
	case config.BackendPostgres:
		st.sessions = sessionrepo.NewPostgresRepository(st.db)
	case config.BackendRedis:
		st.sessions = sessionrepo.NewRedisRepository(st.redis.Client)
	default:
		st.sessions = sessionrepo.NewMemoryRepository()
	}
	return st, nil
}

func newLimiter(cfg *config.Config, st *stores, counter ratelimit.ActionCounter) ratelimit.Limiter {
	switch cfg.RateLimitBackend {
	case config.BackendRedis:
		return ratelimit.NewRedisSlidingWindow(st.redis.Client, nil)
	case config.BackendHistory:
		return ratelimit.NewHistoryLimiter(counter, nil)
	default:
		return ratelimit.NewSlidingWindow(nil)
	}
}

// sweepLoop drops in-memory windows idle longer than maxAge until ctx is done.
func sweepLoop(ctx context.Context, sw *ratelimit.SlidingWindow, maxAge time.Duration) {
	t := time.NewTicker(bucketCleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sw.Sweep(maxAge)
		}
	}
}

// newTokenProvider loads the configured signing keys. Outside production, missing keys get an
// ephemeral ES256 pair so tokens do not survive a restart.
func newTokenProvider(cfg *config.Config, zlog *zap.Logger) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		priv, pub, err := security.GenerateEphemeralKey()
		if err != nil {
			return nil, fmt.Errorf("jwt: generate key: %w", err)
		}
		zlog.Warn("JWT keys not configured; using an ephemeral signing key")
		return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
	}
	priv, pub, err := security.LoadSigningKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}
