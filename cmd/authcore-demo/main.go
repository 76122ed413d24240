// Command authcore-demo wires the engine against real or embedded
// backends and walks the full lifecycle: login, validate, refresh, reuse
// detection, MFA challenge, logout.
//
// Configuration is taken from the environment:
//
//	REDIS_ADDR   redis address; empty starts an embedded miniredis
//	MONGO_URI    mongo connection string; empty uses in-memory MFA stores
//	NATS_URL     nats server; empty drops events
//	LOG_LEVEL    zerolog level (default "info")
package main

import (
	"context"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/veridine/authcore"
	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/keys"
	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/session"
)

type config struct {
	RedisAddr string `env:"REDIS_ADDR"`
	MongoURI  string `env:"MONGO_URI"`
	MongoDB   string `env:"MONGO_DB" envDefault:"authcore"`
	NATSURL   string `env:"NATS_URL"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	ctx := context.Background()

	// ---------- redis ----------
	addr := cfg.RedisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded redis")
		}
		defer mr.Close()
		addr = mr.Addr()
		log.Info().Str("addr", addr).Msg("using embedded redis")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	// ---------- signing keys ----------
	platform, err := keys.GenerateKeyPair("platform-1")
	if err != nil {
		log.Fatal().Err(err).Msg("key generation failed")
	}
	provider, err := keys.NewStaticProvider(platform, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("key provider init failed")
	}

	// ---------- builder ----------
	builder := authcore.New().
		WithRedis(rdb).
		WithKeyProvider(provider).
		WithLogger(log)

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect failed")
		}
		defer nc.Close()
		builder = builder.WithPublisher(bus.NewNATSPublisher(nc))
		log.Info().Str("url", cfg.NATSURL).Msg("publishing events to nats")
	}

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal().Err(err).Msg("mongo connect failed")
		}
		defer func() { _ = client.Disconnect(ctx) }()
		builder = builder.WithMongo(client.Database(cfg.MongoDB))
		log.Info().Str("db", cfg.MongoDB).Msg("using mongo mfa stores")
	}

	engine, err := builder.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("engine build failed")
	}
	defer engine.Close()

	if err := engine.StartJanitor(); err != nil {
		log.Fatal().Err(err).Msg("janitor start failed")
	}

	// ---------- walk the lifecycle ----------
	login, err := engine.IssueSession(ctx, authcore.LoginRequest{
		UserID:   "user-1",
		TenantID: "tenant-a",
		Scopes:   []string{"read", "write"},
		Device: session.Device{
			ID:          "dev-1",
			Type:        "desktop",
			UserAgent:   "demo/1.0",
			Fingerprint: "fp-demo",
		},
		IP:       "203.0.113.10",
		Location: &session.GeoLocation{Country: "DE", Region: "BE", City: "Berlin"},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}
	log.Info().
		Str("session_id", login.Session.ID).
		Int("risk_score", login.RiskScore).
		Msg("session issued")

	bind := session.BindingContext{Fingerprint: "fp-demo", IP: "203.0.113.10"}
	if _, err := engine.ValidateAccess(ctx, login.AccessToken, bind); err != nil {
		log.Fatal().Err(err).Msg("access validation failed")
	}
	log.Info().Msg("access token validated")

	rotated, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		log.Fatal().Err(err).Msg("refresh failed")
	}
	log.Info().Msg("token pair rotated")

	// Replaying the consumed token must burn the family.
	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		log.Info().Str("code", authcore.Code(err)).Msg("replay rejected")
	}
	if _, err := engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		log.Info().Str("code", authcore.Code(err)).Msg("family member rejected after reuse")
	}

	// ---------- mfa ----------
	secret, uri, err := engine.EnrollTOTP(ctx, "tenant-a", "user-1", "user-1@example.com")
	if err != nil {
		log.Fatal().Err(err).Msg("totp enrollment failed")
	}
	log.Info().Str("uri", uri).Msg("totp enrolled")
	_ = secret

	codes, err := engine.GenerateBackupCodes(ctx, "tenant-a", "user-1")
	if err != nil {
		log.Fatal().Err(err).Msg("backup code generation failed")
	}

	challenge, err := engine.CreateMFAChallenge(ctx, mfa.ChallengeRequest{
		UserID:    "user-1",
		TenantID:  "tenant-a",
		SessionID: login.Session.ID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("challenge creation failed")
	}
	log.Info().
		Str("challenge_id", challenge.ID).
		Interface("available", challenge.Available).
		Msg("mfa challenge created")

	verified, err := engine.VerifyMFA(ctx, mfa.VerifyRequest{
		ChallengeID: challenge.ID,
		Method:      mfa.MethodBackupCode,
		Code:        codes[0],
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mfa verification failed")
	}
	log.Info().Str("method", string(verified.Method)).Msg("mfa verified")

	// ---------- logout ----------
	if err := engine.Logout(ctx, "tenant-a", login.Session.ID); err != nil {
		log.Fatal().Err(err).Msg("logout failed")
	}
	if _, err := engine.ValidateAccess(ctx, rotated.AccessToken, bind); err != nil {
		log.Info().Str("code", authcore.Code(err)).Msg("access rejected after logout")
	}

	snap := engine.MetricsSnapshot()
	log.Info().Int("counters", len(snap.Counters)).Msg("demo complete")

	time.Sleep(100 * time.Millisecond) // let the pump flush
}
