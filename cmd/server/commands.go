package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sakif/inmyopinion/internal/auth"
	"github.com/sakif/inmyopinion/internal/config"
	"github.com/sakif/inmyopinion/internal/mail"
	"github.com/sakif/inmyopinion/internal/payment"
	sqliteRepo "github.com/sakif/inmyopinion/internal/repository/sqlite"
	"github.com/sakif/inmyopinion/internal/server"
	"github.com/sakif/inmyopinion/internal/service"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	envFile string
	helpEnv bool
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "server",
		Short: "InMyOpinion blog and portfolio API",
		// PersistentPreRunE runs before every subcommand, so each one starts
		// with a validated config and a logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.helpEnv {
				return nil
			}
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVar(&a.helpEnv, "help-env", false, "describe every environment variable and exit")

	serve := newServeCmd(a)
	root.AddCommand(serve, newMigrateCmd(a), newCreateAdminCmd(a))

	// Running the binary with no subcommand serves.
	root.RunE = serve.RunE
	return root
}

// newLogger builds the slog logger described by LOG_LEVEL and LOG_FORMAT.
//
// Log levels (from least to most severe): Debug → Info → Warn → Error.
// JSON output is meant for log shippers; text is easier to read locally.
func newLogger(c config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// withEnvHelp wraps a subcommand so --help-env prints the environment
// reference instead of running it. Config is not loaded in that case.
func (a *app) withEnvHelp(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if !a.helpEnv {
			return run(cmd, args)
		}
		usage, err := config.Usage()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), usage)
		return nil
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: a.withEnvHelp(func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		}),
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if ctx == nil {
		ctx = context.Background()
	}

	// Ensure the data directory exists.
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	// === MAIL ===
	// Microsoft Graph when the Azure app registration is configured;
	// otherwise every email is only logged.
	var mailer mail.Sender = mail.NewLogSender(logger)
	if cfg.Mail.GraphEnabled() {
		mailer = mail.NewGraphSender(ctx, mail.GraphConfig{
			TenantID:     cfg.Mail.TenantID,
			ClientID:     cfg.Mail.ClientID,
			ClientSecret: cfg.Mail.ClientSecret,
			From:         cfg.Mail.From,
			RatePerSec:   cfg.Mail.RatePerSec,
		}, logger)
	} else {
		logger.Warn("AZURE_* not set, emails will only be logged")
	}

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, payment endpoints will return errors")
	}
	gateway := payment.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil, logger)

	deps := server.Deps{
		Tokens:    tokens,
		Passwords: auth.NewPasswordServiceWithCost(cfg.BcryptCost),
		Mailer:    mailer,
		Gateway:   gateway,
		Registry:  prometheus.NewRegistry(),
	}

	// === REDIS ===
	// Optional. With several API instances behind a load balancer the rate
	// limits must be shared, otherwise each instance counts on its own.
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		deps.Redis = rdb
		logger.Info("rate limits stored in redis", slog.String("addr", cfg.Redis.Addr))
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		DBPath:         cfg.DBPath,
		AllowedOrigins: cfg.AllowedOrigins(),
		FrontendURL:    cfg.FrontendURL,
		AdminEmail:     cfg.AdminEmail,
		ContactEmail:   cfg.Mail.From,
	}, deps, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: a.withEnvHelp(func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
			db, err := sqliteRepo.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.Migrate()
			if err != nil {
				return err
			}
			a.logger.Info("database migrated",
				slog.String("database", a.cfg.DBPath),
				slog.Uint64("version", uint64(version)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		}),
	}
}

func newCreateAdminCmd(a *app) *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the admin account, or promote an existing user",
		RunE: a.withEnvHelp(func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				email = a.cfg.AdminEmail
			}
			if email == "" {
				return fmt.Errorf("--email or ADMIN_EMAIL is required")
			}

			db, err := sqliteRepo.New(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			tokens, err := auth.NewTokenService(a.cfg.JWTSecret, a.cfg.TokenTTL)
			if err != nil {
				return err
			}
			svc := service.NewAuthService(db.Users(), tokens,
				auth.NewPasswordServiceWithCost(a.cfg.BcryptCost),
				mail.NewLogSender(a.logger),
				service.AuthConfig{AdminEmail: email, SiteURL: a.cfg.FrontendURL},
				a.logger,
			)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			user, err := svc.EnsureAdmin(ctx, name, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s) ready\n", user.Email, user.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "Admin", "display name for a new account")
	cmd.Flags().StringVar(&email, "email", "", "admin email (defaults to ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "password for a new account")
	return cmd
}
