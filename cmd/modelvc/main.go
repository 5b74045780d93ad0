package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/modelvc/internal/auth"
	"github.com/rpattn/modelvc/internal/config"
	"github.com/rpattn/modelvc/internal/db"
	"github.com/rpattn/modelvc/internal/domain"
	"github.com/rpattn/modelvc/internal/entity"
	"github.com/rpattn/modelvc/internal/logging"
	"github.com/rpattn/modelvc/internal/repository"
)

var (
	configPath string
	appFlag    string
	userFlag   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "modelvc",
	Short:         "Version control for application data models",
	Long:          "Edit entity drafts, inspect pending changes and commit or discard them per application.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// env bundles what a command needs once configuration is loaded.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	conn    *db.Connection
	service *entity.Service
}

func (r *env) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
	_ = r.logger.Sync()
}

func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.File != "" {
		logger.Debug("config loaded", zap.String("file", cfg.File))
	}
	return cfg, logger, nil
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &env{cfg: cfg, logger: logger}

	var store repository.Store
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using the in-memory store, changes are lost on exit")
		store = repository.NewMemoryStore()
	default:
		conn, err := db.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		rt.conn = conn
		store = repository.NewPostgresStore(conn, logger)
	}

	rt.service = entity.NewService(store,
		entity.WithLogger(logger),
		entity.WithAllowedActions(cfg.AllowedActions),
	)
	return rt, nil
}

func appID() (uuid.UUID, error) {
	if appFlag == "" {
		return uuid.Nil, fmt.Errorf("--app is required")
	}
	id, err := uuid.Parse(appFlag)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --app: %w", err)
	}
	return id, nil
}

func currentUser() (domain.User, error) {
	if userFlag == "" {
		return domain.User{}, fmt.Errorf("--user is required")
	}
	id, err := uuid.Parse(userFlag)
	if err != nil {
		return domain.User{}, fmt.Errorf("invalid --user: %w", err)
	}
	return domain.User{ID: id}, nil
}

// withEnv opens an env for the duration of one command. A given --app
// scopes the command context to that application.
func withEnv(fn func(cmd *cobra.Command, args []string, rt *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if appFlag != "" {
			app, err := appID()
			if err != nil {
				return err
			}
			cmd.SetContext(auth.ContextWithAppID(cmd.Context(), app))
		}

		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd, args, rt)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&appFlag, "app", os.Getenv("MODELVC_APP"), "Application id")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", os.Getenv("MODELVC_USER"), "Acting user id")

	rootCmd.AddCommand(migrateCmd, initCmd, pendingCmd, commitCmd, discardCmd, diffCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
