// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// EnvPrefix prefixes every environment override, e.g. MCPDISPATCH_HTTP_PORT.
	EnvPrefix = "MCPDISPATCH"
	// Context7KeyEnv is the conventional variable holding the Context7 API key.
	Context7KeyEnv = "CONTEXT7_API_KEY"

	TransportStdio = "stdio"
	TransportHTTP  = "http"

	WeatherMock      = "mock"
	WeatherOpenMeteo = "openmeteo"
)

// Config represents the top-level application configuration.
type Config struct {
	LogLevel       string         `mapstructure:"logLevel" json:"logLevel"`
	LogFile        string         `mapstructure:"logFile" json:"logFile,omitempty"`
	Debug          bool           `mapstructure:"debug" json:"debug"`
	Transport      string         `mapstructure:"transport" json:"transport"`
	HandlerTimeout int            `mapstructure:"handlerTimeout" json:"handlerTimeout"`
	HTTP           HTTPConfig     `mapstructure:"http" json:"http"`
	Stdio          StdioConfig    `mapstructure:"stdio" json:"stdio"`
	Weather        WeatherConfig  `mapstructure:"weather" json:"weather"`
	Fetch          FetchConfig    `mapstructure:"fetch" json:"fetch"`
	Docs           DocsConfig     `mapstructure:"docs" json:"docs"`
	Context7       Context7Config `mapstructure:"context7" json:"context7"`
	ConfigPath     string         `mapstructure:"-" json:"-"`
}

// HTTPConfig configures the request/response transport.
type HTTPConfig struct {
	Host            string   `mapstructure:"host" json:"host"`
	Port            int      `mapstructure:"port" json:"port"`
	MaxBodyBytes    int64    `mapstructure:"maxBodyBytes" json:"maxBodyBytes"`
	AllowedOrigins  []string `mapstructure:"allowedOrigins" json:"allowedOrigins"`
	AuthToken       string   `mapstructure:"authToken" json:"authToken,omitempty"`
	ShutdownTimeout int      `mapstructure:"shutdownTimeout" json:"shutdownTimeout"`
}

// StdioConfig configures the pipe transport.
type StdioConfig struct {
	MaxMessageBytes int `mapstructure:"maxMessageBytes" json:"maxMessageBytes"`
}

// WeatherConfig selects and configures the weather source.
type WeatherConfig struct {
	Provider    string `mapstructure:"provider" json:"provider"`
	GeocodeURL  string `mapstructure:"geocodeURL" json:"geocodeURL,omitempty"`
	ForecastURL string `mapstructure:"forecastURL" json:"forecastURL,omitempty"`
}

// FetchConfig configures web page fetching.
type FetchConfig struct {
	ReaderURL string `mapstructure:"readerURL" json:"readerURL"`
	Timeout   int    `mapstructure:"timeout" json:"timeout"`
	Retries   int    `mapstructure:"retries" json:"retries"`
	CacheTTL  int    `mapstructure:"cacheTTL" json:"cacheTTL"`
	MaxBytes  int64  `mapstructure:"maxBytes" json:"maxBytes"`
}

// DocsConfig locates the documentation corpus.
type DocsConfig struct {
	CorpusPath   string   `mapstructure:"corpusPath" json:"corpusPath,omitempty"`
	ArchiveURL   string   `mapstructure:"archiveURL" json:"archiveURL"`
	CacheDir     string   `mapstructure:"cacheDir" json:"cacheDir"`
	Extensions   []string `mapstructure:"extensions" json:"extensions"`
	Exclude      []string `mapstructure:"exclude" json:"exclude,omitempty"`
	BuildTimeout int      `mapstructure:"buildTimeout" json:"buildTimeout"`
}

// Context7Config configures the Context7 documentation client.
type Context7Config struct {
	BaseURL           string `mapstructure:"baseURL" json:"baseURL"`
	APIKey            string `mapstructure:"apiKey" json:"apiKey,omitempty"`
	RequestsPerMinute int    `mapstructure:"requestsPerMinute" json:"requestsPerMinute"`
	Retries           int    `mapstructure:"retries" json:"retries"`
	CacheSize         int    `mapstructure:"cacheSize" json:"cacheSize"`
}

// SetDefaults registers every known key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFile", "")
	v.SetDefault("debug", false)
	v.SetDefault("transport", TransportStdio)
	v.SetDefault("handlerTimeout", 20)

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8000)
	v.SetDefault("http.maxBodyBytes", 1<<20)
	v.SetDefault("http.allowedOrigins", []string{"*"})
	v.SetDefault("http.authToken", "")
	v.SetDefault("http.shutdownTimeout", 10)

	v.SetDefault("stdio.maxMessageBytes", 4<<20)

	v.SetDefault("weather.provider", WeatherMock)
	v.SetDefault("weather.geocodeURL", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("weather.forecastURL", "https://api.open-meteo.com/v1/forecast")

	v.SetDefault("fetch.readerURL", "https://r.jina.ai/")
	v.SetDefault("fetch.timeout", 10)
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.cacheTTL", 300)
	v.SetDefault("fetch.maxBytes", 5<<20)

	v.SetDefault("docs.corpusPath", "")
	v.SetDefault("docs.archiveURL", "https://github.com/jlowin/fastmcp/archive/refs/heads/main.zip")
	v.SetDefault("docs.cacheDir", ".cache")
	v.SetDefault("docs.extensions", []string{".md", ".mdx"})
	v.SetDefault("docs.exclude", []string{})
	v.SetDefault("docs.buildTimeout", 120)

	v.SetDefault("context7.baseURL", "https://api.context7.com")
	v.SetDefault("context7.apiKey", "")
	v.SetDefault("context7.requestsPerMinute", 50)
	v.SetDefault("context7.retries", 3)
	v.SetDefault("context7.cacheSize", 128)
}

// NewViper returns a viper instance with defaults and environment overrides
// wired: MCPDISPATCH_<KEY> with dots replaced by underscores, plus
// CONTEXT7_API_KEY for the Context7 key.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("context7.apiKey", EnvPrefix+"_CONTEXT7_APIKEY", Context7KeyEnv)
	return v
}

// Load reads path into v (a missing file leaves the defaults in place) and
// returns the decoded configuration. An empty path uses DefaultConfigPath.
func Load(v *viper.Viper, path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)

	loaded := path
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
		}
		loaded = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not decode configuration: %w", err)
	}
	cfg.ConfigPath = loaded
	return cfg, nil
}

// Validate reports the first setting that cannot be served.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}
	if c.HandlerTimeout <= 0 {
		return errors.New("handlerTimeout must be positive")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.maxBodyBytes must be positive")
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		return errors.New("http.allowedOrigins must list at least one origin")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http.shutdownTimeout must be positive")
	}
	if c.Stdio.MaxMessageBytes <= 0 {
		return errors.New("stdio.maxMessageBytes must be positive")
	}
	switch c.Weather.Provider {
	case WeatherMock, WeatherOpenMeteo:
	default:
		return fmt.Errorf("weather.provider must be %q or %q, got %q", WeatherMock, WeatherOpenMeteo, c.Weather.Provider)
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.Retries < 0 {
		return errors.New("fetch.retries must not be negative")
	}
	if c.Fetch.MaxBytes <= 0 {
		return errors.New("fetch.maxBytes must be positive")
	}
	if c.Docs.BuildTimeout <= 0 {
		return errors.New("docs.buildTimeout must be positive")
	}
	if c.Context7.RequestsPerMinute <= 0 {
		return errors.New("context7.requestsPerMinute must be positive")
	}
	if c.Context7.Retries < 0 {
		return errors.New("context7.retries must not be negative")
	}
	return nil
}

// EffectiveLogLevel returns debug when Debug is set, otherwise LogLevel.
func (c Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// HandlerTimeoutDuration returns the per-call dispatcher timeout.
func (c Config) HandlerTimeoutDuration() time.Duration { return seconds(c.HandlerTimeout) }

// ShutdownTimeoutDuration returns the HTTP graceful shutdown bound.
func (c HTTPConfig) ShutdownTimeoutDuration() time.Duration { return seconds(c.ShutdownTimeout) }

// TimeoutDuration returns the per-fetch timeout.
func (c FetchConfig) TimeoutDuration() time.Duration { return seconds(c.Timeout) }

// CacheTTLDuration returns the page cache TTL; zero disables the cache.
func (c FetchConfig) CacheTTLDuration() time.Duration { return seconds(c.CacheTTL) }

// BuildTimeoutDuration returns the doc index build bound.
func (c DocsConfig) BuildTimeoutDuration() time.Duration { return seconds(c.BuildTimeout) }

// Enabled reports whether a Context7 key is configured.
func (c Context7Config) Enabled() bool { return strings.TrimSpace(c.APIKey) != "" }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
