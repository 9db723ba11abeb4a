package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries the engine policy knobs. Defaults mirror the production
// values: week-long sessions with a one-day rolling renewal, mandatory
// email verification, and auto-linking restricted to trusted providers.
type Config struct {
	SigningKey string `env:"AUTH_SIGNING_KEY"`
	Issuer     string `env:"AUTH_ISSUER" envDefault:"better-auth-postgres-starter"`
	BaseURL    string `env:"AUTH_BASE_URL" envDefault:"http://localhost:3000"`

	SessionLifetime  time.Duration `env:"AUTH_SESSION_LIFETIME" envDefault:"168h"`
	SessionUpdateAge time.Duration `env:"AUTH_SESSION_UPDATE_AGE" envDefault:"24h"`

	VerifyTokenTTL    time.Duration `env:"AUTH_VERIFY_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL     time.Duration `env:"AUTH_RESET_TOKEN_TTL" envDefault:"1h"`
	MagicLinkTokenTTL time.Duration `env:"AUTH_MAGIC_LINK_TTL" envDefault:"15m"`

	// DisableEmailVerification turns off the sign-in gating on verified
	// emails. The zero value keeps verification mandatory.
	DisableEmailVerification bool `env:"AUTH_DISABLE_EMAIL_VERIFICATION"`

	TrustedProviders     []string `env:"AUTH_TRUSTED_PROVIDERS" envDefault:"github,google,email-password"`
	AllowDifferentEmails bool     `env:"AUTH_ALLOW_DIFFERENT_EMAILS" envDefault:"true"`
}

// ConfigFromEnv parses the configuration from environment variables.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// DefaultConfig returns the policy defaults without touching the environment.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SessionLifetime <= 0 {
		c.SessionLifetime = 7 * 24 * time.Hour
	}
	if c.SessionUpdateAge <= 0 {
		c.SessionUpdateAge = 24 * time.Hour
	}
	if c.VerifyTokenTTL <= 0 {
		c.VerifyTokenTTL = 24 * time.Hour
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = time.Hour
	}
	if c.MagicLinkTokenTTL <= 0 {
		c.MagicLinkTokenTTL = 15 * time.Minute
	}
	if len(c.TrustedProviders) == 0 {
		c.TrustedProviders = []string{"github", "google", "email-password"}
	}
	return c
}

// LinkingPolicy derives the account-linking policy from the config.
func (c Config) LinkingPolicy() LinkingPolicy {
	return LinkingPolicy{
		TrustedProviders:     c.TrustedProviders,
		AllowDifferentEmails: c.AllowDifferentEmails,
		AllowSignup:          true,
	}
}
