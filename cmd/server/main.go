package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/privatechat-app/privatechat-server/internal/account"
	"github.com/privatechat-app/privatechat-server/internal/api"
	"github.com/privatechat-app/privatechat-server/internal/cfg"
	"github.com/privatechat-app/privatechat-server/internal/chat"
	"github.com/privatechat-app/privatechat-server/internal/genmedia"
	"github.com/privatechat-app/privatechat-server/internal/health"
	"github.com/privatechat-app/privatechat-server/internal/httpmw"
	"github.com/privatechat-app/privatechat-server/internal/httpserver"
	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/media"
	"github.com/privatechat-app/privatechat-server/internal/metrics"
	"github.com/privatechat-app/privatechat-server/internal/notify"
	"github.com/privatechat-app/privatechat-server/internal/opshttp"
	"github.com/privatechat-app/privatechat-server/internal/otelx"
	"github.com/privatechat-app/privatechat-server/internal/policy"
	"github.com/privatechat-app/privatechat-server/internal/prof"
	"github.com/privatechat-app/privatechat-server/internal/ratelimit"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/signer"
	"github.com/privatechat-app/privatechat-server/internal/store"
	v "github.com/privatechat-app/privatechat-server/internal/version"
	"github.com/privatechat-app/privatechat-server/internal/viewflow"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is a dev convenience; absence is not an error
	_ = godotenv.Load()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s %s (commit=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "PRIVCHAT_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"redis_addr", conf.RedisAddr,
		"s3_bucket", conf.S3Bucket,
		"s3_endpoint", conf.S3Endpoint,
		"gen_endpoint", conf.GenEndpoint,
		"gen_model", conf.GenModel,
		"signed_url_ttl", conf.SignedURLTTL,
		"session_ttl", conf.SessionTTL,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// secrets sourced from SSM replace their config placeholders before
	// anything that uses them is constructed
	if conf.SessionSecretSSMParam != "" || conf.AdminPasswordSSMParam != "" {
		if err := loadSSMSecrets(ctx, &conf); err != nil {
			L.Error(ctx, err, "failed to load secrets from SSM")
			os.Exit(1)
		}
	}
	if len(conf.SessionSecret) < 32 {
		L.Error(ctx, xerrors.New("session secret shorter than 32 bytes"), "refusing to start")
		os.Exit(1)
	}
	if conf.AdminPasswordHash == "" {
		L.Error(ctx, xerrors.New("admin password hash empty"), "refusing to start")
		os.Exit(1)
	}

	if err := store.Migrate(ctx, conf.DatabaseDSN); err != nil {
		L.Error(ctx, err, "database migration failed")
		os.Exit(1)
	}
	st, err := store.Open(ctx, conf.DatabaseDSN)
	if err != nil {
		L.Error(ctx, err, "database connection failed")
		os.Exit(1)
	}
	defer st.Close()
	L.Info(ctx, "postgres connected, migrations applied")

	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
	})
	defer rdb.Close()
	bus := chat.NewBus(rdb)
	if err := bus.ReadinessProbe(ctx); err != nil {
		L.Error(ctx, err, "redis connection failed", "redis_addr", conf.RedisAddr)
		os.Exit(1)
	}
	L.Info(ctx, "redis connected")

	sessions := session.NewManager(conf.SessionSecret, conf.SessionTTL)

	var notifier *notify.Notifier
	if conf.TelegramBotToken != "" {
		notifier, err = notify.New(conf.TelegramBotToken, conf.TelegramChatID, L, m)
		if err != nil {
			// notifications are best-effort; run without them
			L.Error(ctx, err, "telegram notifier init failed, continuing without notifications")
			notifier = nil
		} else {
			L.Info(ctx, "telegram notifier connected")
		}
	}

	accounts := account.NewService(st.Users, sessions, notifier, m, account.AdminCredentials{
		Handle:       conf.AdminHandle,
		PasswordHash: conf.AdminPasswordHash,
	})

	authz := policy.NewAuthorizer(st.Content)

	urlSigner, err := signer.New(ctx, signer.Config{
		Bucket:    conf.S3Bucket,
		Region:    conf.S3Region,
		Endpoint:  conf.S3Endpoint,
		AccessKey: conf.S3AccessKey,
		SecretKey: conf.S3SecretKey,
		TTL:       conf.SignedURLTTL,
	}, m)
	if err != nil {
		L.Error(ctx, err, "s3 signer init failed")
		os.Exit(1)
	}

	fetcher := media.NewFetcher(&http.Client{}, 0)
	gen := genmedia.NewClient(conf.GenEndpoint, conf.GenModel, &http.Client{}, conf.GenTimeout, m)

	viewer := viewflow.New(authz, st.Content, urlSigner, fetcher, gen, m)

	chatSvc := chat.NewService(st.Messages, authz, bus, notifier, m)
	hub := chat.NewHub(bus, authz, m)

	apiHandler := api.New(api.Deps{
		Accounts: accounts,
		Sessions: sessions,
		Content:  st.Content,
		Users:    st.Users,
		Viewer:   viewer,
		Chat:     chatSvc,
		Hub:      hub,
		Titles:   gen,
		Authz:    authz,
		Notifier: notifier,
		Logger:   L,
	})

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		st.ReadinessProbe(),
		health.CheckFunc(bus.ReadinessProbe),
	)

	limiter := ratelimit.New(ctx,
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    apiHandler.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		// the view endpoint waits on the generative service
		WriteTimeout: conf.GenTimeout + 30*time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness first so the load balancer drains us
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining for 15s")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// loadSSMSecrets resolves SSM-sourced secrets into the config in place.
func loadSSMSecrets(ctx context.Context, conf *cfg.App) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := ssm.NewFromConfig(awsCfg)

	fetch := func(param string) (string, error) {
		withDecryption := true
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           &param,
			WithDecryption: &withDecryption,
		})
		if err != nil {
			return "", fmt.Errorf("get parameter %s: %w", param, err)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return "", fmt.Errorf("parameter %s has no value", param)
		}
		return *out.Parameter.Value, nil
	}

	if conf.SessionSecretSSMParam != "" {
		if conf.SessionSecret, err = fetch(conf.SessionSecretSSMParam); err != nil {
			return err
		}
	}
	if conf.AdminPasswordSSMParam != "" {
		if conf.AdminPasswordHash, err = fetch(conf.AdminPasswordSSMParam); err != nil {
			return err
		}
	}
	return nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
