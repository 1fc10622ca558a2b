package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/attendance"
	"github.com/MarcoPoloResearchLab/cadence/internal/config"
	"github.com/MarcoPoloResearchLab/cadence/internal/database"
	"github.com/MarcoPoloResearchLab/cadence/internal/logging"
	"github.com/MarcoPoloResearchLab/cadence/internal/milestone"
	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/server"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence-api",
		Short: "Cadence attendance accounting service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Admin token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Admin token signing secret (overrides env)")
	cmd.PersistentFlags().String("owner-user-id", defaults.GetString("owner.user_id"), "Connector-side owner user id")
	cmd.PersistentFlags().String("trigger-word", defaults.GetString("trigger.word"), "Message trigger word")
	cmd.PersistentFlags().String("default-timezone", defaults.GetString("channel.default_timezone"), "Default channel timezone")
	cmd.PersistentFlags().String("default-language", defaults.GetString("channel.default_language"), "Default channel language tag")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "owner.user_id", "owner-user-id")
	bindFlag(cmd, "trigger.word", "trigger-word")
	bindFlag(cmd, "channel.default_timezone", "default-timezone")
	bindFlag(cmd, "channel.default_language", "default-language")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	rosterService, err := roster.NewService(roster.ServiceConfig{
		Database:        db,
		DefaultTimezone: appConfig.DefaultTimezone,
		DefaultLanguage: appConfig.DefaultLanguage,
		OwnerUserID:     appConfig.OwnerUserID,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	streakEngine, err := streak.NewEngine(streak.EngineConfig{Database: db})
	if err != nil {
		return err
	}

	recorder, err := attendance.NewRecorder(attendance.RecorderConfig{
		Database: db,
		Roster:   rosterService,
		Streaks:  streakEngine,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	queries, err := attendance.NewQueries(db)
	if err != nil {
		return err
	}

	backfill, err := attendance.NewBackfill(attendance.BackfillConfig{
		Database:    db,
		Roster:      rosterService,
		Streaks:     streakEngine,
		TriggerWord: appConfig.TriggerWord,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	tokenManager := server.NewTokenIssuer(server.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "cadence-auth",
		Audience:      "cadence-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	detector := milestone.NewDetector(milestone.DetectorConfig{
		IDs:    milestone.NewUUIDProvider(),
		Logger: logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Roster:      rosterService,
		Recorder:    recorder,
		Queries:     queries,
		Backfill:    backfill,
		Streaks:     streakEngine,
		Milestones:  detector,
		Tokens:      tokenManager,
		Notifier:    server.NewLogNotifier(logger),
		TriggerWord: appConfig.TriggerWord,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
