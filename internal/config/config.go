package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Trash    TrashConfig    `mapstructure:"Trash"`
	Archive  ArchiveConfig  `mapstructure:"Archive"`
	Logging  LoggingConfig  `mapstructure:"Logging"`
}

type ServerConfig struct {
	Port           string `mapstructure:"Port" validate:"required,numeric"`
	GRPCPort       string `mapstructure:"GRPCPort" validate:"required,numeric"`
	MetricsEnabled bool   `mapstructure:"MetricsEnabled"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"Driver" validate:"required,oneof=postgres sqlite3"`
	Host            string        `mapstructure:"Host" validate:"required_if=Driver postgres"`
	Port            string        `mapstructure:"Port" validate:"required_if=Driver postgres"`
	User            string        `mapstructure:"User" validate:"required_if=Driver postgres"`
	Password        string        `mapstructure:"Password"`
	Name            string        `mapstructure:"Name" validate:"required_if=Driver postgres"`
	SSLMode         string        `mapstructure:"SSLMode"`
	Path            string        `mapstructure:"Path" validate:"required_if=Driver sqlite3"`
	MaxOpenConns    int           `mapstructure:"MaxOpenConns" validate:"gte=0"`
	ConnectAttempts int           `mapstructure:"ConnectAttempts" validate:"gte=1"`
	ConnectDelay    time.Duration `mapstructure:"ConnectDelay"`
}

// StorageConfig корень хранилища и корень теневого дерева удалённых файлов
type StorageConfig struct {
	RootDir    string `mapstructure:"RootDir" validate:"required"`
	DeletedDir string `mapstructure:"DeletedDir" validate:"required,nefield=RootDir"`
}

type TrashConfig struct {
	RetentionPeriod time.Duration `mapstructure:"RetentionPeriod" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"CleanupInterval" validate:"gt=0"`
}

// ArchiveConfig S3-архив для файлов, окончательно удаляемых из корзины
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"Enabled"`
	Endpoint        string `mapstructure:"Endpoint" validate:"omitempty,url"`
	Region          string `mapstructure:"Region" validate:"required_if=Enabled true"`
	Bucket          string `mapstructure:"Bucket" validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"AccessKeyID" validate:"required_if=Enabled true"`
	SecretAccessKey string `mapstructure:"SecretAccessKey" validate:"required_if=Enabled true"`
	Prefix          string `mapstructure:"Prefix"`
	AgeRecipient    string `mapstructure:"AgeRecipient"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"Level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"Format" validate:"oneof=text json"`
}

var envBindings = map[string]string{
	"Server.Port":              "HTTP_PORT",
	"Server.GRPCPort":          "GRPC_PORT",
	"Server.MetricsEnabled":    "METRICS_ENABLED",
	"Database.Driver":          "DATABASE_DRIVER",
	"Database.Host":            "DATABASE_HOST",
	"Database.Port":            "DATABASE_PORT",
	"Database.User":            "DATABASE_USER",
	"Database.Password":        "DATABASE_PASSWORD",
	"Database.Name":            "DATABASE_NAME",
	"Database.SSLMode":         "DATABASE_SSLMODE",
	"Database.Path":            "DATABASE_PATH",
	"Database.MaxOpenConns":    "DATABASE_MAX_OPEN_CONNS",
	"Storage.RootDir":          "STORAGE_ROOT_DIR",
	"Storage.DeletedDir":       "STORAGE_DELETED_DIR",
	"Trash.RetentionPeriod":    "TRASH_RETENTION_PERIOD",
	"Trash.CleanupInterval":    "TRASH_CLEANUP_INTERVAL",
	"Archive.Enabled":          "ARCHIVE_ENABLED",
	"Archive.Endpoint":         "ARCHIVE_ENDPOINT",
	"Archive.Region":           "ARCHIVE_REGION",
	"Archive.Bucket":           "ARCHIVE_BUCKET",
	"Archive.AccessKeyID":      "ARCHIVE_ACCESS_KEY_ID",
	"Archive.SecretAccessKey":  "ARCHIVE_SECRET_ACCESS_KEY",
	"Archive.Prefix":           "ARCHIVE_PREFIX",
	"Archive.AgeRecipient":     "ARCHIVE_AGE_RECIPIENT",
	"Logging.Level":            "LOG_LEVEL",
	"Logging.Format":           "LOG_FORMAT",
	"Database.ConnectAttempts": "DATABASE_CONNECT_ATTEMPTS",
	"Database.ConnectDelay":    "DATABASE_CONNECT_DELAY",
}

var validate = validator.New()

// NewConfig читает конфигурацию из файла path и переменных окружения.
// Отсутствующий файл не является ошибкой: используются только переменные окружения.
func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.GRPCPort", "50051")
	v.SetDefault("Server.MetricsEnabled", true)
	v.SetDefault("Database.Driver", "postgres")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MaxOpenConns", 25)
	v.SetDefault("Database.ConnectAttempts", 5)
	v.SetDefault("Database.ConnectDelay", 5*time.Second)
	v.SetDefault("Storage.RootDir", "./storage/files")
	v.SetDefault("Storage.DeletedDir", "./storage/deleted_files")
	v.SetDefault("Trash.RetentionPeriod", 30*24*time.Hour)
	v.SetDefault("Trash.CleanupInterval", time.Hour)
	v.SetDefault("Archive.Prefix", "trash-archive")
	v.SetDefault("Logging.Level", "info")
	v.SetDefault("Logging.Format", "text")
}

// Validate проверяет конфигурацию по тегам validate
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required":
		return fmt.Errorf("invalid config: %s is required", field)
	case "required_if":
		return fmt.Errorf("invalid config: %s is required when %s", field, strings.Replace(e.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Errorf("invalid config: %s must be one of [%s], got %q", field, e.Param(), e.Value())
	default:
		return fmt.Errorf("invalid config: %s failed on '%s' (value: %v)", field, e.Tag(), e.Value())
	}
}

// GetDSN строка подключения для выбранного драйвера
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite3" {
		q := url.Values{}
		q.Set("_foreign_keys", "on")
		q.Set("_busy_timeout", "5000")
		q.Set("_journal_mode", "WAL")
		q.Set("_txlock", "immediate")
		return fmt.Sprintf("file:%s?%s", c.Path, q.Encode())
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
