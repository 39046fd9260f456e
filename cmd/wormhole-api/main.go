package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/config"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/database"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/media"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/oplog"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/server"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wormhole-api",
		Short: "Wormhole realtime chat backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMintTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated CORS origins")
	cmd.PersistentFlags().Int("notify-workers", defaults.GetInt("notify.workers"), "Notification worker count")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "notify.workers", "notify-workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newMintTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mint-token <user-id>",
		Short: "Print a signed token for the given user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        "wormhole-api",
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	metricSet := metrics.New()
	hub := realtime.NewHub(realtime.HubConfig{Logger: logger, Observer: metricSet})

	spaceService, err := spaces.NewService(spaces.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	recorder, err := oplog.NewRecorder(oplog.RecorderConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Database: db,
		Presence: hub,
		Senders: notify.NewSenders(notify.SenderConfig{
			Timeout:          appConfig.Notify.Timeout,
			PushbearEndpoint: appConfig.Notify.PushbearEndpoint,
			PushdeerEndpoint: appConfig.Notify.PushdeerEndpoint,
		}),
		Observer:    metricSet,
		Logger:      logger,
		MaxAttempts: appConfig.Notify.MaxAttempts,
	})
	if err != nil {
		return err
	}
	queue, err := notify.NewQueue(notify.QueueConfig{
		Handler:  dispatcher,
		Workers:  appConfig.Notify.Workers,
		Size:     appConfig.Notify.QueueSize,
		Observer: metricSet,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	notifyService, err := notify.NewService(notify.ServiceConfig{
		Database:   db,
		Spaces:     spaceService,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database: db,
		Hub:      hub,
		Spaces:   spaceService,
		Media: media.NewResolver(media.Config{
			BaseURL:       appConfig.MediaBaseURL,
			ChatProcess:   appConfig.MediaProcessChat,
			AvatarProcess: appConfig.MediaProcessAvatar,
		}),
		Notifier: queue,
		Recorder: recorder,
		Observer: metricSet,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	resolver, err := auth.NewResolver(auth.ResolverConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		UserHeaders:   appConfig.UserHeaders,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Resolver:       resolver,
		Spaces:         spaceService,
		Chat:           chatService,
		Notify:         notifyService,
		Hub:            hub,
		Metrics:        metricSet,
		AllowedOrigins: appConfig.AllowedOrigins,
		UserHeaders:    appConfig.UserHeaders,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal so Stop can drain buffered events.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	queue.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		queue.Stop()
		return err
	case err := <-errCh:
		queue.Stop()
		return err
	}
}
