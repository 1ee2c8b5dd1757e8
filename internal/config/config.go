package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Realtime RealtimeConfig `mapstructure:"realtime" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// AuthRateLimit is the sustained number of requests per second a single client
	// may send to the public auth endpoints. AuthRateBurst bounds short spikes.
	AuthRateLimit float64 `mapstructure:"auth_rate_limit" validate:"gt=0"`
	AuthRateBurst int     `mapstructure:"auth_rate_burst" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
	BCryptCost           int    `mapstructure:"bcrypt_cost"            validate:"gte=4,lte=31"`
}

// StorageConfig controls where uploaded task documents are kept and how
// they are exposed.
type StorageConfig struct {
	UploadsDir   string `mapstructure:"uploads_dir"   validate:"required"`
	PublicPrefix string `mapstructure:"public_prefix" validate:"required,startswith=/"`
	MaxFileSize  int64  `mapstructure:"max_file_size" validate:"gt=0"`
}

// RealtimeConfig configures the task event broadcast layer.
type RealtimeConfig struct {
	Backend        string   `mapstructure:"backend"         validate:"required,oneof=memory redis"`
	RedisURL       string   `mapstructure:"redis_url"       validate:"required_if=Backend redis"`
	QueueSize      int      `mapstructure:"queue_size"      validate:"gt=0"`
	WorkerCount    int      `mapstructure:"worker_count"    validate:"gt=0"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}
