package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPort              = 8282
	DefaultCompletionTimeout = 1000
	DefaultResolveCacheSize  = 512
	DefaultConnectTimeout    = 10000

	// ContextProviderName is the provider_order entry for the document
	// identifier provider.
	ContextProviderName = "context"
)

type App struct {
	Port      int    `yaml:"port"`
	DebugHTTP bool   `yaml:"debug_http,omitempty"` // Log full request/response bodies
	LogLevel  string `yaml:"log_level,omitempty"`  // debug, info, warn, error (default: info)
	LogFile   string `yaml:"log_file,omitempty"`
}

// CompletionConfig holds the reconciliation settings.
type CompletionConfig struct {
	TimeoutMs              int  `yaml:"timeout_ms"`
	ResolveCacheSize       int  `yaml:"resolve_cache_size"`
	DisableContextProvider bool `yaml:"disable_context_provider,omitempty"`

	// ProviderOrder lists language server names and "context" in the order
	// their completions win de-duplication. Unlisted providers follow.
	ProviderOrder []string `yaml:"provider_order,omitempty"`
}

// Timeout returns the reconciliation-wide fetch timeout.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LanguageServer describes one language server reachable over the network.
type LanguageServer struct {
	// URL is ws://, wss:// or tcp://host:port.
	URL                   string                 `yaml:"url"`
	RootURI               string                 `yaml:"root_uri"`
	LanguageIDs           []string               `yaml:"language_ids"`
	Settings              map[string]interface{} `yaml:"settings,omitempty"`
	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`
	TraceRPC              bool                   `yaml:"trace_rpc,omitempty"`
	ConnectTimeoutMs      int                    `yaml:"connect_timeout_ms,omitempty"`

	// DialRetries is how many times a failed dial is retried with backoff.
	DialRetries int `yaml:"dial_retries,omitempty"`
}

func (ls LanguageServer) ConnectTimeout() time.Duration {
	return time.Duration(ls.ConnectTimeoutMs) * time.Millisecond
}

func (ls LanguageServer) Serves(languageID string) bool {
	for _, id := range ls.LanguageIDs {
		if id == languageID {
			return true
		}
	}
	return false
}

// LanguageServersConfig maps a server name to its settings.
type LanguageServersConfig map[string]LanguageServer

// Names returns the configured server names in sorted order.
func (lsc LanguageServersConfig) Names() []string {
	names := make([]string, 0, len(lsc))
	for name := range lsc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForLanguage returns the sorted names of servers handling languageID.
func (lsc LanguageServersConfig) ForLanguage(languageID string) []string {
	var names []string
	for _, name := range lsc.Names() {
		if lsc[name].Serves(languageID) {
			names = append(names, name)
		}
	}
	return names
}

type Config struct {
	App             App                   `yaml:"app"`
	Completion      CompletionConfig      `yaml:"completion"`
	LanguageServers LanguageServersConfig `yaml:"language_servers"`
}

// expandEnvVars expands environment variables in the given string
// Supports formats: ${VAR}, $VAR, ${VAR:-default}
func expandEnvVars(s string) string {
	// Pattern for ${VAR:-default} or ${VAR}
	reBraces := regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)
	s = reBraces.ReplaceAllStringFunc(s, func(match string) string {
		parts := reBraces.FindStringSubmatch(match)
		if len(parts) >= 2 {
			varName := parts[1]
			defaultValue := ""
			if len(parts) >= 4 {
				defaultValue = parts[3]
			}
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultValue
		}
		return match
	})

	// Pattern for $VAR (without braces)
	reSimple := regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	s = reSimple.ReplaceAllStringFunc(s, func(match string) string {
		parts := reSimple.FindStringSubmatch(match)
		if len(parts) >= 2 {
			if val, ok := os.LookupEnv(parts[1]); ok {
				return val
			}
		}
		return match
	})

	return s
}

func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes, defaults and validates a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, ls := range cfg.LanguageServers {
		ls.Settings = normalizeMap(ls.Settings)
		ls.InitializationOptions = normalizeMap(ls.InitializationOptions)
		cfg.LanguageServers[name] = ls
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = DefaultPort
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Completion.TimeoutMs == 0 {
		c.Completion.TimeoutMs = DefaultCompletionTimeout
	}
	if c.Completion.ResolveCacheSize == 0 {
		c.Completion.ResolveCacheSize = DefaultResolveCacheSize
	}
	for name, ls := range c.LanguageServers {
		if ls.ConnectTimeoutMs == 0 {
			ls.ConnectTimeoutMs = DefaultConnectTimeout
		}
		c.LanguageServers[name] = ls
	}
}

func (c *Config) validate() error {
	if c.Completion.TimeoutMs < 0 {
		return fmt.Errorf("completion.timeout_ms must be positive, got %d", c.Completion.TimeoutMs)
	}
	if c.Completion.ResolveCacheSize < 0 {
		return fmt.Errorf("completion.resolve_cache_size must not be negative")
	}

	for _, name := range c.LanguageServers.Names() {
		ls := c.LanguageServers[name]
		if ls.URL == "" {
			return fmt.Errorf("language server '%s': url is required", name)
		}
		u, err := url.Parse(ls.URL)
		if err != nil {
			return fmt.Errorf("language server '%s': invalid url: %w", name, err)
		}
		switch u.Scheme {
		case "ws", "wss", "tcp":
		default:
			return fmt.Errorf("language server '%s': unsupported url scheme %q", name, u.Scheme)
		}
		if ls.DialRetries < 0 {
			return fmt.Errorf("language server '%s': dial_retries must not be negative", name)
		}
		if len(ls.LanguageIDs) == 0 {
			return fmt.Errorf("language server '%s': language_ids must not be empty", name)
		}
	}

	for _, entry := range c.Completion.ProviderOrder {
		if entry == ContextProviderName {
			continue
		}
		if _, ok := c.LanguageServers[entry]; !ok {
			return fmt.Errorf("completion.provider_order: unknown provider %q", entry)
		}
	}
	return nil
}

// normalizeMap converts the map[interface{}]interface{} values yaml.v2
// produces into JSON-encodable map[string]interface{} values.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return out
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
