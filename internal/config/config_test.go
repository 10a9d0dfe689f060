package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QR_CLOCK_SKEW", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := config.Load()
	assert.Equal(t, 10*time.Second, cfg.QRClockSkew)
	assert.Equal(t, time.Hour, cfg.QRActivityTTL)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QR_CLOCK_SKEW", "15s")
	t.Setenv("QR_ACTIVITY_TTL", "not-a-duration")
	t.Setenv("DB_AUTO_MIGRATE", "no")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("APP_TIMEZONE", "Asia/Jakarta")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://hr.example.com, ,http://localhost:3000")

	cfg := config.Load()
	assert.Equal(t, 15*time.Second, cfg.QRClockSkew)
	assert.Equal(t, time.Hour, cfg.QRActivityTTL, "invalid values fall back")
	assert.False(t, cfg.DBAutoMigrate)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://hr.example.com", "http://localhost:3000"}, cfg.CORSOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestNeedsRedis(t *testing.T) {
	cfg := config.App{StoreBackend: "memory", ReplayBackend: "memory", QueueBackend: "memory", DirectorySeed: "seed.yaml"}
	assert.False(t, cfg.NeedsRedis())

	cfg.StoreBackend = "postgres"
	assert.False(t, cfg.NeedsRedis(), "a seeded directory is not cached")

	cfg.DirectorySeed = ""
	assert.True(t, cfg.NeedsRedis(), "the postgres directory is cached in redis")

	cfg = config.App{ReplayBackend: "redis"}
	assert.True(t, cfg.NeedsRedis())
}

func TestValidate(t *testing.T) {
	base := func() config.App {
		return config.App{
			Env:           "dev",
			QRSigningKey:  "k",
			JWTSigningKey: "j",
			QRActivityTTL: time.Hour,
			StoreBackend:  "memory",
			ReplayBackend: "memory",
			QueueBackend:  "memory",
			DirectorySeed: "seed.yaml",
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.App)
		ok     bool
	}{
		{"dev accepts a short key", func(a *config.App) {}, true},
		{"empty key", func(a *config.App) { a.QRSigningKey = "" }, false},
		{"production needs a long key", func(a *config.App) { a.Env = "production" }, false},
		{"production with a real key", func(a *config.App) {
			a.Env = "production"
			a.QRSigningKey = "0123456789abcdef0123456789abcdef"
		}, true},
		{"negative skew", func(a *config.App) { a.QRClockSkew = -time.Second }, false},
		{"unknown zone", func(a *config.App) { a.Timezone = "Mars/Olympus" }, false},
		{"redis store", func(a *config.App) { a.StoreBackend = "redis" }, false},
		{"unknown queue", func(a *config.App) { a.QueueBackend = "kafka" }, false},
		{"memory store without seed", func(a *config.App) { a.DirectorySeed = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := base()
			tt.mutate(&a)
			err := a.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
