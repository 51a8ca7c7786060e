package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/oauth-issuer"
	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/security"
	"github.com/giantswarm/oauth-issuer/server"
	"github.com/giantswarm/oauth-issuer/token"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization and token endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "listen address")
	flags.String("issuer", "", "issuer URL placed in tokens and metadata (https unless localhost)")
	flags.String("login-url", server.DefaultLoginURL, "where the authorization endpoint redirects with code and state")
	flags.String("signing-secret", "", "HS256 signing secret (at least 32 bytes)")
	flags.Duration("access-token-ttl", token.DefaultAccessTokenTTL, "access token lifetime")
	flags.Duration("refresh-token-ttl", token.DefaultRefreshTokenTTL, "refresh token lifetime")
	flags.Duration("code-ttl", server.DefaultAuthorizationCodeTTL*time.Second, "authorization code lifetime")
	flags.Bool("refresh-one-time-use", false, "reject a refresh token after its first use")
	flags.Bool("allow-missing-pkce", false, "accept authorization requests without a code_challenge (insecure)")
	flags.Bool("allow-insecure-http", false, "permit an http issuer on a non-localhost host")
	flags.StringSlice("seed-client", nil, "client to register at startup as client_id=redirect_uri (repeatable)")
	flags.Float64("rate-limit", 10, "requests per second per client IP (0 disables)")
	flags.Int("rate-burst", 20, "rate limit burst per client IP")
	flags.Bool("trust-proxy", false, "derive client IPs from X-Forwarded-For")
	flags.Int("trusted-proxy-count", 1, "number of reverse proxies in front of the issuer")
	flags.StringSlice("cors-origins", nil, "origins allowed to call the token endpoint from a browser")
	flags.Bool("metrics", false, "enable OpenTelemetry instrumentation and serve Prometheus metrics")
	flags.Bool("audit", true, "emit security audit events")
	bindFlags(v, flags)

	return cmd
}

// serveConfig is the resolved configuration of the serve command
type serveConfig struct {
	Listen         string
	Server         server.Config
	Token          token.Config
	Handler        oauth.HandlerConfig
	RateLimit      float64
	RateBurst      int
	OneTimeRefresh bool
	Metrics        bool
	Audit          bool
	SeedClients    []string
}

// loadServeConfig reads and validates the serve keys
func loadServeConfig(v *viper.Viper) (*serveConfig, error) {
	secret := v.GetString("signing-secret")
	if secret == "" {
		return nil, fmt.Errorf("signing-secret is required (flag --signing-secret or %s_SIGNING_SECRET)", envPrefix)
	}
	if len(secret) < token.MinSecretLength {
		return nil, token.ErrSecretTooShort
	}

	codeTTL := v.GetDuration("code-ttl")
	if codeTTL < time.Second {
		return nil, fmt.Errorf("code-ttl must be at least 1s, got %s", codeTTL)
	}
	if codeTTL%time.Second != 0 {
		return nil, fmt.Errorf("code-ttl must be a whole number of seconds, got %s", codeTTL)
	}
	if v.GetDuration("access-token-ttl") <= 0 || v.GetDuration("refresh-token-ttl") <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	if v.GetFloat64("rate-limit") < 0 {
		return nil, fmt.Errorf("rate-limit must not be negative")
	}

	issuer := v.GetString("issuer")

	return &serveConfig{
		Listen: v.GetString("listen"),
		Server: server.Config{
			Issuer:               issuer,
			LoginURL:             v.GetString("login-url"),
			AuthorizationCodeTTL: int64(codeTTL / time.Second),
			AllowMissingPKCE:     v.GetBool("allow-missing-pkce"),
			AllowInsecureHTTP:    v.GetBool("allow-insecure-http"),
		},
		Token: token.Config{
			Secret:          []byte(secret),
			Issuer:          issuer,
			AccessTokenTTL:  v.GetDuration("access-token-ttl"),
			RefreshTokenTTL: v.GetDuration("refresh-token-ttl"),
		},
		Handler: oauth.HandlerConfig{
			TrustProxy:        v.GetBool("trust-proxy"),
			TrustedProxyCount: v.GetInt("trusted-proxy-count"),
			CORS: oauth.CORSConfig{
				AllowedOrigins: v.GetStringSlice("cors-origins"),
			},
		},
		RateLimit:      v.GetFloat64("rate-limit"),
		RateBurst:      v.GetInt("rate-burst"),
		OneTimeRefresh: v.GetBool("refresh-one-time-use"),
		Metrics:        v.GetBool("metrics"),
		Audit:          v.GetBool("audit"),
		SeedClients:    v.GetStringSlice("seed-client"),
	}, nil
}

// newHTTPServer builds the listener-side server. Request contexts derive from
// context.Background so Shutdown can drain in-flight requests after a signal.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, v *viper.Viper) error {
	logger, err := newLogger(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg, err := loadServeConfig(v)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion:     version,
		Enabled:            cfg.Metrics,
		PrometheusExporter: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	b, err := openBackend(ctx, v, logger, inst)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer b.close()

	if err := seedClients(ctx, b.clients, cfg.SeedClients); err != nil {
		return err
	}

	minter, err := token.New(cfg.Token)
	if err != nil {
		return fmt.Errorf("init token minter: %w", err)
	}

	srv, err := server.New(b.clients, b.codes, minter, &cfg.Server, logger)
	if err != nil {
		return err
	}
	srv.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, cfg.Audit))
	if cfg.OneTimeRefresh {
		srv.SetRefreshTokenLedger(b.ledger)
	}

	handlerCfg := cfg.Handler
	if cfg.RateLimit > 0 {
		limiter := security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
			Logger:            logger,
		})
		defer limiter.Stop()
		handlerCfg.RateLimiter = limiter
	}

	var metricsHandler http.Handler
	if cfg.Metrics {
		metricsHandler = inst.PrometheusHandler()
	}

	handler := oauth.NewHandler(srv, &handlerCfg, logger)

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go b.runPurge(purgeCtx, purgeInterval, logger)

	httpServer := newHTTPServer(cfg.Listen, handler.Routes(metricsHandler))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting OAuth issuer",
			"listen", cfg.Listen,
			"issuer", cfg.Server.Issuer,
			"storage", b.kind,
			"one_time_refresh", cfg.OneTimeRefresh,
			"metrics", cfg.Metrics)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down OAuth issuer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
