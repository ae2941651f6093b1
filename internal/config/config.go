package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"github.com/meshsync-dev/meshsync/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "meshsync.json"

	// DefaultPort is the default relay listen port.
	DefaultPort = 9090

	// DefaultHost is the default relay listen host.
	DefaultHost = "0.0.0.0"

	// DefaultMetricsPath is the default Prometheus scrape path.
	DefaultMetricsPath = "/metrics"

	// DefaultHealthPath is the default health check path.
	DefaultHealthPath = "/healthz"

	// DefaultShutdownTimeout bounds graceful shutdown, in seconds.
	DefaultShutdownTimeout = 15
)

// Config represents the complete meshsync.json configuration.
type Config struct {
	// Name is the deployment name.
	Name string `json:"name,omitempty"`

	// Version is the deployment version.
	Version string `json:"version,omitempty"`

	// Server contains relay listen configuration.
	Server ServerConfig `json:"server,omitempty"`

	// App contains application endpoint configuration.
	App AppConfig `json:"app,omitempty"`

	// Transport contains WebSocket tuning.
	Transport TransportConfig `json:"transport,omitempty"`

	// Observability contains metrics and tracing switches.
	Observability ObservabilityConfig `json:"observability,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains relay listen settings.
type ServerConfig struct {
	// Port is the port to listen on.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// AllowedOrigins lists origins permitted to open WebSocket
	// connections. Empty means same-origin only; "*" allows any.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// StaticDir is a directory of host content served under /static/.
	// Empty disables static serving.
	StaticDir string `json:"staticDir,omitempty"`

	// ShutdownTimeout is the graceful shutdown bound in seconds.
	ShutdownTimeout int `json:"shutdownTimeout,omitempty"`
}

// AppConfig contains application endpoint settings.
type AppConfig struct {
	// Endpoint is the ws:// or wss:// URL of the application. The
	// session id is appended as a query parameter when dialing.
	Endpoint string `json:"endpoint,omitempty"`

	// SessionParam is the query parameter carrying the session id.
	SessionParam string `json:"sessionParam,omitempty"`

	// Headers are extra HTTP headers sent when dialing the application.
	Headers map[string]string `json:"headers,omitempty"`
}

// TransportConfig contains WebSocket tuning.
type TransportConfig struct {
	// WriteTimeoutSeconds bounds a single frame write.
	WriteTimeoutSeconds int `json:"writeTimeoutSeconds,omitempty"`

	// PongTimeoutSeconds is how long a connection may stay silent
	// before it is considered dead. Zero disables the check.
	PongTimeoutSeconds int `json:"pongTimeoutSeconds,omitempty"`
}

// ObservabilityConfig contains metrics and tracing switches.
type ObservabilityConfig struct {
	// Metrics exposes Prometheus metrics on the metrics path.
	Metrics bool `json:"metrics,omitempty"`

	// MetricsPath is the Prometheus scrape path.
	MetricsPath string `json:"metricsPath,omitempty"`

	// HealthPath is the health check path.
	HealthPath string `json:"healthPath,omitempty"`

	// Tracing emits OpenTelemetry spans for protocol traffic.
	Tracing bool `json:"tracing,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Version: "0.1.0",
		Server: ServerConfig{
			Port:            DefaultPort,
			Host:            DefaultHost,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		App: AppConfig{
			SessionParam: "sessionId",
		},
		Transport: TransportConfig{
			WriteTimeoutSeconds: 10,
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			MetricsPath: DefaultMetricsPath,
			HealthPath:  DefaultHealthPath,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for meshsync.json in the directory.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E100").
				WithDetail("No meshsync.json found in " + filepath.Dir(path)).
				WithSuggestion("Create meshsync.json or pass --config with the file's location")
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E101").
			WithDetail("Failed to parse meshsync.json: " + err.Error()).
			WithSuggestion("Check that meshsync.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E101").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E101").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.App.SessionParam == "" {
		c.App.SessionParam = "sessionId"
	}

	if c.Transport.WriteTimeoutSeconds == 0 {
		c.Transport.WriteTimeoutSeconds = 10
	}

	if c.Observability.MetricsPath == "" {
		c.Observability.MetricsPath = DefaultMetricsPath
	}
	if c.Observability.HealthPath == "" {
		c.Observability.HealthPath = DefaultHealthPath
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("E102").
			WithDetail("Port must be between 0 and 65535")
	}
	if c.App.Endpoint == "" {
		return errors.New("E103").
			WithSuggestion("Set app.endpoint in meshsync.json or pass --app")
	}
	u, err := url.Parse(c.App.Endpoint)
	if err != nil {
		return errors.New("E104").Wrap(err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("E104").
			WithDetail("Got scheme " + u.Scheme + ", want ws or wss")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("E105").
			WithDetail("Got " + c.Log.Level)
	}
	return nil
}

// ListenAddress returns the address string for the relay listener.
func (c *Config) ListenAddress() string {
	return c.Server.Host + ":" + itoa(c.Server.Port)
}

// AppURL returns the application endpoint URL for a session id.
func (c *Config) AppURL(sessionID string) (string, error) {
	u, err := url.Parse(c.App.Endpoint)
	if err != nil {
		return "", errors.New("E104").Wrap(err)
	}
	q := u.Query()
	q.Set(c.App.SessionParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OriginAllowed reports whether an Origin header value may connect.
// An empty allow list defers to the WebSocket library's same-origin
// check.
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindProjectRoot walks up directories to find the deployment root.
// Returns the directory containing meshsync.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E100").
				WithDetail("No meshsync.json found in " + startDir + " or any parent directory").
				WithSuggestion("Create meshsync.json at the deployment root")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}

// itoa converts int to string without importing strconv.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	// Reverse
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
