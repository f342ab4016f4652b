package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"groupdrive/internal/auth"
	"groupdrive/internal/config"
	"groupdrive/internal/database"
	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
	"groupdrive/internal/service"
	"groupdrive/internal/service/s3"
)

var (
	configPath string
	actingUser string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "groupdrive",
	Short:         "Shared group file storage with versioned trash",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".app.env", "path to config file")
	rootCmd.PersistentFlags().StringVar(&actingUser, "as", "", "id of the user performing the operation")
}

// app собранный движок: база, песочницы, репозитории и сервисы
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	logger   *slog.Logger
	registry *prometheus.Registry

	resolver *auth.Resolver
	perms    *service.PermissionService
	groups   *service.GroupService
	catalog  *service.CatalogService
	files    *service.FileService
	folders  *service.FolderService
	trash    *service.TrashService
	archiver *s3.Archiver
}

// newApp читает конфигурацию и собирает движок. Вызывающий обязан вызвать Close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	logger := newLogger(cfg.Logging)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	live, shadow, err := openSandboxes(cfg.Storage)
	if err != nil {
		db.Close()
		return nil, err
	}

	var (
		registry *prometheus.Registry
		m        = metrics.NewNoop()
	)
	if cfg.Server.MetricsEnabled {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	var (
		archiver service.Archiver
		archive  *s3.Archiver
	)
	if cfg.Archive.Enabled {
		archive, err = newArchiver(ctx, cfg.Archive, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		archiver = archive
	}

	userRepo := repository.NewUserRepository(db)
	adminRepo := repository.NewAdminRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	metadataRepo := repository.NewMetadataRepository(db)
	trashRepo := repository.NewTrashRepository(db)
	historyRepo := repository.NewWorkHistoryRepository(db)

	clock := service.RealClock{}
	locker := service.NewPathLocker()

	groups := service.NewGroupService(groupRepo, userRepo, live, clock, logger)
	perms := service.NewPermissionService(groups, groupRepo, userRepo, metadataRepo, live, clock, logger)

	return &app{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		registry: registry,
		resolver: auth.NewResolver(userRepo, adminRepo),
		perms:    perms,
		groups:   groups,
		catalog:  service.NewCatalogService(live, perms, m, logger),
		files:    service.NewFileService(live, perms, historyRepo, locker, clock, m, logger),
		folders:  service.NewFolderService(live, perms, historyRepo, locker, clock, m, logger),
		trash: service.NewTrashService(live, shadow, trashRepo, metadataRepo, historyRepo, groupRepo,
			perms, locker, archiver, clock, m, logger, cfg.Trash.RetentionPeriod),
		archiver: archive,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// principal пользователь из флага --as
func (a *app) principal(ctx context.Context) (domain.CurrentUser, error) {
	if actingUser == "" {
		return domain.CurrentUser{}, fmt.Errorf("--as <user-id> is required for this command")
	}
	user, err := a.resolver.CurrentUser(ctx, actingUser)
	if err != nil {
		return domain.CurrentUser{}, err
	}
	return *user, nil
}

// openSandboxes создаёт корень хранилища, папку groups и теневой корень
func openSandboxes(cfg config.StorageConfig) (*sandbox.Sandbox, *sandbox.Sandbox, error) {
	for _, dir := range []string{cfg.RootDir, cfg.DeletedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	live, err := sandbox.NewOs(cfg.RootDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage root: %w", err)
	}
	if err := live.MkdirAll(domain.GroupsFolder); err != nil {
		return nil, nil, fmt.Errorf("failed to create groups directory: %w", err)
	}
	shadow, err := sandbox.NewOs(cfg.DeletedDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open deleted files root: %w", err)
	}
	return live, shadow, nil
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*s3.Archiver, error) {
	conf := s3.NewConfig(cfg)
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive config: %w", err)
	}
	client, err := s3.NewClient(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return s3.NewArchiver(client, cfg.Prefix, cfg.AgeRecipient, logger)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// withApp запускает fn с собранным движком
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
