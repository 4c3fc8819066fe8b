package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
)

const (
	DefaultBatchSize      = 1000
	DefaultWorkers        = 4
	DefaultExportInterval = 24 * time.Hour
	DefaultLogLevel       = "info"
)

// DatabaseConfig holds the source database connection settings
type DatabaseConfig struct {
	Type             DatabaseType
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	ConnectionString string
}

// Config holds the application configuration
type Config struct {
	// Feature flags
	ExportEnabled          bool
	ClearFilesBeforeUpload bool

	// Source database
	Database DatabaseConfig

	// Table catalog
	TablesFile string

	// S3 settings
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Endpoint        string

	// Pipeline settings
	BatchSize           int
	Workers             int
	ExportInterval      time.Duration
	QueuePath           string
	SingleChainPerTable bool
	TempDir             string

	// Notification settings
	WebhookURL      string
	NotifyOnSuccess bool
	NotifyOnFailure bool
	SummaryFile     string

	// Observability
	LogLevel      string
	LogFile       string
	MetricsStdout bool
	TracesStdout  bool
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ExportEnabled = getInputBool("export_enabled", false)
	cfg.ClearFilesBeforeUpload = getInputBool("clear_files_before_upload", false)

	db, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	cfg.Database = *db

	cfg.TablesFile = getInput("tables_file")

	// S3 settings
	cfg.S3Bucket = getInput("s3_bucket")
	cfg.S3Region = getInput("s3_region")
	cfg.S3AccessKeyID = getInput("s3_access_key_id")
	cfg.S3SecretAccessKey = getInput("s3_secret_access_key")
	cfg.S3Endpoint = getInput("s3_endpoint")

	// Pipeline settings
	cfg.BatchSize = getInputInt("batch_size", DefaultBatchSize)
	cfg.Workers = getInputInt("workers", DefaultWorkers)
	cfg.ExportInterval = getInputDuration("export_interval", DefaultExportInterval)
	cfg.QueuePath = getInput("queue_path")
	cfg.SingleChainPerTable = getInputBool("single_chain_per_table", false)
	cfg.TempDir = getInput("temp_dir")

	// Notification settings
	cfg.WebhookURL = getInput("webhook_url")
	cfg.NotifyOnSuccess = getInputBool("notify_on_success", true)
	cfg.NotifyOnFailure = getInputBool("notify_on_failure", true)
	cfg.SummaryFile = getInput("summary_file")

	cfg.LogLevel = strings.ToLower(getInput("log_level"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.LogFile = getInput("log_file")
	cfg.MetricsStdout = getInputBool("metrics_stdout", false)
	cfg.TracesStdout = getInputBool("traces_stdout", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDatabaseConfig reads DATABASE_URL and DATABASE_TYPE
func loadDatabaseConfig() (*DatabaseConfig, error) {
	connStr := getInput("database_url")
	if connStr == "" {
		return nil, fmt.Errorf("database_url is required")
	}

	dbType, err := parseDatabaseType(getInput("database_type"), connStr)
	if err != nil {
		return nil, err
	}

	parsed, err := parseConnectionString(connStr, dbType)
	if err != nil {
		return nil, err
	}

	return &DatabaseConfig{
		Type:             dbType,
		Host:             parsed.Host,
		Port:             parsed.Port,
		Name:             parsed.Name,
		User:             parsed.User,
		Password:         parsed.Password,
		ConnectionString: connStr,
	}, nil
}

// parseDatabaseType resolves the explicit type, falling back to the URL scheme
func parseDatabaseType(explicit, connStr string) (DatabaseType, error) {
	value := strings.ToLower(explicit)
	if value == "" {
		if u, err := url.Parse(connStr); err == nil {
			value = strings.ToLower(u.Scheme)
		}
	}

	switch value {
	case "postgres", "postgresql", "":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", value)
	}
}

// parsedConnection holds components extracted from a connection string
type parsedConnection struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// parseConnectionString extracts host, port, user, password, and database name from a connection URL
func parseConnectionString(connStr string, dbType DatabaseType) (*parsedConnection, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	parsed := &parsedConnection{
		Port: defaultPort(dbType),
	}

	parsed.Host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			parsed.Port = port
		}
	}

	if u.User != nil {
		parsed.User = u.User.Username()
		if pwd, ok := u.User.Password(); ok {
			parsed.Password = pwd
		}
	}

	parsed.Name = strings.TrimPrefix(u.Path, "/")

	return parsed, nil
}

func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database name could not be determined from database_url")
	}
	if c.Database.Type == DatabaseTypeMySQL && c.Database.Host == "" {
		return fmt.Errorf("host could not be parsed from database_url")
	}

	if c.TablesFile == "" {
		return fmt.Errorf("tables_file is required")
	}

	if c.S3Bucket == "" {
		return fmt.Errorf("s3_bucket is required")
	}
	if c.S3Region == "" {
		return fmt.Errorf("s3_region is required")
	}
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return fmt.Errorf("s3_access_key_id and s3_secret_access_key must be set together")
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive, got %s", c.ExportInterval)
	}

	return nil
}

func (c *Config) HasStaticCredentials() bool {
	return c.S3AccessKeyID != "" && c.S3SecretAccessKey != ""
}

func (c *Config) HasPersistentQueue() bool {
	return c.QueuePath != ""
}

func getInput(name string) string {
	// First try regular env var (for local development)
	envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if val := os.Getenv(envName); val != "" {
		return strings.TrimSpace(val)
	}
	// Fall back to INPUT_ prefixed (GitHub Actions convention)
	return strings.TrimSpace(os.Getenv("INPUT_" + envName))
}

func getInputInt(name string, defaultVal int) int {
	val := getInput(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getInputBool(name string, defaultVal bool) bool {
	val := strings.ToLower(getInput(name))
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "yes" || val == "1"
}

func getInputDuration(name string, defaultVal time.Duration) time.Duration {
	val := getInput(name)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func defaultPort(dbType DatabaseType) int {
	switch dbType {
	case DatabaseTypePostgres:
		return 5432
	case DatabaseTypeMySQL:
		return 3306
	default:
		return 0
	}
}
