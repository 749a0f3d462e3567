package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	BaseURL         string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ScraperConfig struct {
	ConcurrentLimit   int
	SearchWorkers     int
	StartDelayMin     time.Duration
	StartDelayMax     time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	NavigationTimeout time.Duration
	ImageMode         string
	GeocoderURL       string
	GeocoderTimeout   time.Duration
	GeocoderRate      float64
}

type BrowserConfig struct {
	Headless       bool
	UserDataDir    string
	ExtensionDir   string
	Extension      string
	Timeout        time.Duration
	UserAgent      string
	AcceptLanguage string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	StreamMax int64
}

// Enabled reports whether status events are published.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type StorageConfig struct {
	Type      string
	File      string
	OutputDir string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	port := getIntOrDefault("PORT", 3001)
	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			BaseURL:         getEnvOrDefault("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
			AllowedOrigins:  getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			ConcurrentLimit:   getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 5),
			SearchWorkers:     getIntOrDefault("SCRAPER_SEARCH_WORKERS", 7),
			StartDelayMin:     getDurationOrDefault("SCRAPER_START_DELAY_MIN", 500*time.Millisecond),
			StartDelayMax:     getDurationOrDefault("SCRAPER_START_DELAY_MAX", 500*time.Millisecond),
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:        getDurationOrDefault("SCRAPER_RETRY_DELAY", time.Second),
			NavigationTimeout: getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 60*time.Second),
			ImageMode:         getEnvOrDefault("SCRAPER_IMAGE_MODE", "single"),
			GeocoderURL:       getEnvOrDefault("GEOCODER_URL", "https://postcodes.io"),
			GeocoderTimeout:   getDurationOrDefault("GEOCODER_TIMEOUT", 10*time.Second),
			GeocoderRate:      getFloatOrDefault("GEOCODER_RATE_LIMIT", 5),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			UserDataDir:    getEnvOrDefault("BROWSER_USER_DATA_DIR", "user-data-dir"),
			ExtensionDir:   getEnvOrDefault("BROWSER_EXTENSION_DIR", ""),
			Extension:      getEnvOrDefault("BROWSER_EXTENSION", ""),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "places_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:      getEnvOrDefault("REDIS_ADDR", ""),
			Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:        getIntOrDefault("REDIS_DB", 0),
			Stream:    getEnvOrDefault("REDIS_STREAM", "stream:scrape_status"),
			StreamMax: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
		},
		Storage: StorageConfig{
			Type:      getEnvOrDefault("STORAGE_TYPE", "file"),
			File:      getEnvOrDefault("STORAGE_FILE", "data/requests.json"),
			OutputDir: getEnvOrDefault("OUTPUT_DIR", "public"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.SearchWorkers < 1 {
		return fmt.Errorf("SCRAPER_SEARCH_WORKERS must be at least 1")
	}

	if c.Scraper.StartDelayMin > c.Scraper.StartDelayMax {
		return fmt.Errorf("SCRAPER_START_DELAY_MIN cannot be greater than SCRAPER_START_DELAY_MAX")
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	switch c.Storage.Type {
	case "file":
		if c.Storage.File == "" {
			return fmt.Errorf("STORAGE_FILE is required for file storage")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host and name are required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Logging.Format)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
