package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/privatechat-app/privatechat-server/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort    int
	AdminPort   int
	TrustedHops int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// document store + chat fan-out
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string

	// object storage for private media
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	SignedURLTTL time.Duration

	// sessions
	SessionSecret         string
	SessionSecretSSMParam string
	SessionTTL            time.Duration

	// administrator credential pair; no literal fallback anywhere,
	// startup refuses to proceed without a value (or an SSM source)
	AdminHandle           string
	AdminPasswordHash     string
	AdminPasswordSSMParam string

	// generative media collaborator (watermarking, title generation)
	GenEndpoint string
	GenModel    string
	GenTimeout  time.Duration

	// optional admin notifications
	TelegramBotToken string
	TelegramChatID   int64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies for client IP resolution")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.DatabaseDSN, "database-dsn", "", "postgres DSN for the document store (required)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for chat message fan-out (required)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password (empty for none)")

	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "S3 bucket holding private media objects (required)")
	fs.StringVar(&c.S3Region, "s3-region", "us-east-2", "S3 region")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "S3 base endpoint override (MinIO/dev; empty for AWS)")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", "", "static S3 access key (empty to use default credential chain)")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", "", "static S3 secret key")
	fs.DurationVar(&c.SignedURLTTL, "signed-url-ttl", 15*time.Minute, "validity window for presigned media URLs")

	fs.StringVar(&c.SessionSecret, "session-secret", "", "HMAC secret for session cookies (required unless -session-secret-ssm-param)")
	fs.StringVar(&c.SessionSecretSSMParam, "session-secret-ssm-param", "", "SSM parameter to load the session secret from at startup")
	fs.DurationVar(&c.SessionTTL, "session-ttl", 5*24*time.Hour, "session cookie lifetime")

	fs.StringVar(&c.AdminHandle, "admin-handle", "", "administrator handle (required)")
	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", "", "bcrypt hash of the administrator password (required unless -admin-password-ssm-param)")
	fs.StringVar(&c.AdminPasswordSSMParam, "admin-password-ssm-param", "", "SSM parameter to load the admin password hash from at startup")

	fs.StringVar(&c.GenEndpoint, "gen-endpoint", "", "generative media service base URL (required)")
	fs.StringVar(&c.GenModel, "gen-model", "media-overlay-v2", "generative media model identifier")
	fs.DurationVar(&c.GenTimeout, "gen-timeout", 60*time.Second, "per-call timeout for the generative media service")

	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "telegram bot token for admin notifications (empty to disable)")
	fs.Int64Var(&c.TelegramChatID, "telegram-chat-id", 0, "telegram chat id to notify")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
// The admin credential pair and session secret fail closed: there is no
// default, and startup must not proceed without them.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Collaborators
	if c.DatabaseDSN == "" {
		errs = append(errs, fmt.Errorf("DATABASE_DSN is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required"))
	} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
		errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
	}
	if c.S3Bucket == "" {
		errs = append(errs, fmt.Errorf("S3_BUCKET is required"))
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		errs = append(errs, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
	}
	if c.SignedURLTTL < time.Minute || c.SignedURLTTL > time.Hour {
		errs = append(errs, fmt.Errorf("SIGNED_URL_TTL must be 1m..1h (got %s)", c.SignedURLTTL))
	}

	// Sessions fail closed
	if c.SessionSecret == "" && c.SessionSecretSSMParam == "" {
		errs = append(errs, fmt.Errorf("SESSION_SECRET (or SESSION_SECRET_SSM_PARAM) is required"))
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least 32 bytes (got %d)", len(c.SessionSecret)))
	}
	if c.SessionTTL < time.Hour || c.SessionTTL > 14*24*time.Hour {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be 1h..336h (got %s)", c.SessionTTL))
	}

	// Admin credential pair fails closed
	if c.AdminHandle == "" {
		errs = append(errs, fmt.Errorf("ADMIN_HANDLE is required"))
	}
	if c.AdminPasswordHash == "" && c.AdminPasswordSSMParam == "" {
		errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH (or ADMIN_PASSWORD_SSM_PARAM) is required"))
	}
	if c.AdminPasswordHash != "" && !strings.HasPrefix(c.AdminPasswordHash, "$2") {
		errs = append(errs, fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash"))
	}

	// Generative media collaborator
	if c.GenEndpoint == "" {
		errs = append(errs, fmt.Errorf("GEN_ENDPOINT is required"))
	} else if u, err := url.Parse(c.GenEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("GEN_ENDPOINT must be a URL (got %q)", c.GenEndpoint))
	}
	if c.GenTimeout < time.Second || c.GenTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("GEN_TIMEOUT must be 1s..5m (got %s)", c.GenTimeout))
	}

	// Telegram notifier is optional but must be fully configured when on
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID required when TELEGRAM_BOT_TOKEN is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
