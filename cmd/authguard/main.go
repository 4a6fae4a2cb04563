package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/blogpress/authguard/internal/db"
	"github.com/blogpress/authguard/pkg/audit"
	auditapi "github.com/blogpress/authguard/pkg/audit/api"
	"github.com/blogpress/authguard/pkg/authflow"
	authflowapi "github.com/blogpress/authguard/pkg/authflow/api"
	"github.com/blogpress/authguard/pkg/device"
	deviceapi "github.com/blogpress/authguard/pkg/device/api"
	"github.com/blogpress/authguard/pkg/directory"
	"github.com/blogpress/authguard/pkg/geoip"
	"github.com/blogpress/authguard/pkg/mfa"
	"github.com/blogpress/authguard/pkg/notification"
	"github.com/blogpress/authguard/pkg/passkey"
	"github.com/blogpress/authguard/pkg/recovery"
	"github.com/blogpress/authguard/pkg/risk"
	"github.com/blogpress/authguard/pkg/totp"
)

type ServerConfig struct {
	Host string `env:"AUTHGUARD_HOST" env-default:"localhost"`
	Port uint16 `env:"AUTHGUARD_PORT" env-default:"4000"`
}

type JwtConfig struct {
	Secret string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
}

type RedisConfig struct {
	// Addr empty means in-memory stores; set it to share replay guards,
	// ceremonies, and lockouts across instances.
	Addr     string `env:"AUTHGUARD_REDIS_ADDR" env-default:""`
	Password string `env:"AUTHGUARD_REDIS_PASSWORD" env-default:""`
	DB       int    `env:"AUTHGUARD_REDIS_DB" env-default:"0"`
}

type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:""`
	Password string `env:"EMAIL_PASSWORD" env-default:""`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
}

type WebAuthnConfig struct {
	RPDisplayName string `env:"WEBAUTHN_RP_DISPLAY_NAME" env-default:"AuthGuard"`
	RPID          string `env:"WEBAUTHN_RP_ID" env-default:"localhost"`
	RPOrigin      string `env:"WEBAUTHN_RP_ORIGIN" env-default:"http://localhost:4000"`
}

type PolicyConfig struct {
	Issuer             string `env:"TOTP_ISSUER" env-default:"AuthGuard"`
	LockoutThreshold   int    `env:"LOCKOUT_THRESHOLD" env-default:"5"`
	LockoutWindowMin   int    `env:"LOCKOUT_WINDOW_MINUTES" env-default:"15"`
	LockoutCooldownMin int    `env:"LOCKOUT_COOLDOWN_MINUTES" env-default:"15"`
	FallbackEmailOTP   bool   `env:"FALLBACK_EMAIL_OTP" env-default:"true"`
}

type SeedUserConfig struct {
	// Optional bootstrap user for standalone deployments; production embeds
	// the subsystem behind a real directory.
	ID           string `env:"SEED_USER_ID" env-default:""`
	Username     string `env:"SEED_USER_USERNAME" env-default:""`
	Email        string `env:"SEED_USER_EMAIL" env-default:""`
	PasswordHash string `env:"SEED_USER_PASSWORD_HASH" env-default:""`
}

type Config struct {
	ServerConfig   ServerConfig
	DbConfig       db.Config
	JwtConfig      JwtConfig
	RedisConfig    RedisConfig
	EmailConfig    EmailConfig
	WebAuthnConfig WebAuthnConfig
	PolicyConfig   PolicyConfig
	SeedUserConfig SeedUserConfig
}

// bcryptVerifier is the standalone password re-authentication backend.
// Embedded deployments plug in their own identity provider instead.
type bcryptVerifier struct {
	hashes map[uuid.UUID]string
}

func (v *bcryptVerifier) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) (bool, error) {
	hash, ok := v.hashes[userID]
	if !ok {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil, nil
}

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded configuration from .env file")
	}

	config := Config{}
	if err := cleanenv.ReadEnv(&config); err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, config.DbConfig)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.RunMigrations(config.DbConfig); err != nil {
		slog.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}

	// Stores: Redis when configured, in-memory otherwise.
	var (
		usedCodes     totp.UsedStepStore    = totp.NewInMemUsedStepStore()
		usedPasscodes totp.UsedStepStore    = totp.NewInMemUsedStepStore()
		ceremonies    passkey.CeremonyStore = passkey.NewInMemCeremonyStore()
		lockouts      authflow.LockoutStore = authflow.NewInMemLockoutStore()
	)
	if config.RedisConfig.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisConfig.Addr,
			Password: config.RedisConfig.Password,
			DB:       config.RedisConfig.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		usedCodes = totp.NewRedisUsedStepStore(client)
		usedPasscodes = totp.NewRedisUsedStepStore(client)
		ceremonies = passkey.NewRedisCeremonyStore(client)
		lockouts = authflow.NewRedisLockoutStore(client)
		slog.Info("using redis-backed stores", "addr", config.RedisConfig.Addr)
	}

	enrollments := mfa.NewPostgresEnrollmentRepository(pool)
	events := audit.NewPostgresEventRepository(pool)
	trusts := device.NewPostgresTrustRepository(pool)
	credentials := passkey.NewPostgresCredentialRepository(pool)
	recoveryCodes := recovery.NewPostgresCodeRepository(pool)

	auditService := audit.NewService(events)
	deviceService := device.NewDeviceService(trusts, auditService)
	recoveryService := recovery.NewService(recoveryCodes)
	geoResolver := geoip.NewNoopResolver()
	riskEngine := risk.NewEngine(events, deviceService, geoResolver, risk.DefaultThresholds())

	passkeyService, err := passkey.NewService(passkey.Config{
		RPDisplayName: config.WebAuthnConfig.RPDisplayName,
		RPID:          config.WebAuthnConfig.RPID,
		RPOrigins:     []string{config.WebAuthnConfig.RPOrigin},
	}, credentials, ceremonies)
	if err != nil {
		slog.Error("failed to create webauthn service", "err", err)
		os.Exit(1)
	}

	emailNotifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
		Host:     config.EmailConfig.Host,
		Port:     config.EmailConfig.Port,
		TLS:      config.EmailConfig.TLS,
		Username: config.EmailConfig.Username,
		Password: config.EmailConfig.Password,
		From:     config.EmailConfig.From,
	})
	if err != nil {
		slog.Error("failed to create email notifier", "err", err)
		os.Exit(1)
	}
	notifier := notification.NewManager()
	if err := notifier.DefaultTemplates(); err != nil {
		slog.Error("failed to register notification templates", "err", err)
		os.Exit(1)
	}
	notifier.RegisterNotifier(notification.ChannelEmail, emailNotifier)

	users := directory.NewInMemDirectory()
	passwords := &bcryptVerifier{hashes: make(map[uuid.UUID]string)}
	seedUser(config.SeedUserConfig, users, passwords)

	codes := totp.NewEngine(config.PolicyConfig.Issuer, usedCodes)
	passcodes := totp.NewEngine(config.PolicyConfig.Issuer, usedPasscodes, totp.WithPeriod(totp.PasscodePeriod))

	flow := authflow.NewService(authflow.Deps{
		Codes:       codes,
		Passcodes:   passcodes,
		Recovery:    recoveryService,
		Passkeys:    passkeyService,
		Devices:     deviceService,
		RiskEngine:  riskEngine,
		Audit:       auditService,
		Enrollments: enrollments,
		Directory:   users,
		Geo:         geoResolver,
		Lockouts:    lockouts,
		Notifier:    notifier,
		Passwords:   passwords,
	}, authflow.Policy{
		Lockout: authflow.LockoutPolicy{
			Threshold: config.PolicyConfig.LockoutThreshold,
			Window:    time.Duration(config.PolicyConfig.LockoutWindowMin) * time.Minute,
			Cooldown:  time.Duration(config.PolicyConfig.LockoutCooldownMin) * time.Minute,
		},
		FallbackEmailOTP: config.PolicyConfig.FallbackEmailOTP,
	})

	tokenAuth := jwtauth.New("HS256", []byte(config.JwtConfig.Secret), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator(tokenAuth))

		r.Mount("/api/2fa", authflowapi.Routes(authflowapi.NewHandle(flow)))
		r.Mount("/api/devices", deviceapi.Routes(deviceapi.NewHandle(deviceService)))
		r.Mount("/api/audit", auditapi.Routes(auditapi.NewHandle(auditService)))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("%s:%d", config.ServerConfig.Host, config.ServerConfig.Port)
	slog.Info("starting authguard", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func seedUser(cfg SeedUserConfig, users *directory.InMemDirectory, passwords *bcryptVerifier) {
	if cfg.ID == "" {
		return
	}
	userID, err := uuid.Parse(cfg.ID)
	if err != nil {
		slog.Error("invalid seed user id", "err", err)
		return
	}
	users.AddUser(directory.User{
		ID:       userID,
		Username: cfg.Username,
		Email:    cfg.Email,
	})
	if cfg.PasswordHash != "" {
		passwords.hashes[userID] = cfg.PasswordHash
	}
	slog.Info("seeded bootstrap user", "userID", userID)
}
