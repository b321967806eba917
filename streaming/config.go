package streaming

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultConnectTimeout    = 20 * time.Second
	DefaultReadTimeout       = 120 * time.Second
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultHandshakeInterval = time.Second
	DefaultLoginEndpoint     = "https://login.salesforce.com"
	DefaultSoapPartnerURI    = "/services/Soap/u/22.0/"
	DefaultStreamingURI      = "/cometd/23.0"
)

// Duration is a time.Duration that decodes from Go duration strings ("20s")
// or from integer milliseconds (20000).
type Duration time.Duration

// Std returns the value as a time.Duration.
func (duration Duration) Std() time.Duration { return time.Duration(duration) }

func parseDuration(text string) (Duration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	if millis, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Duration(time.Duration(millis) * time.Millisecond), nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	return Duration(parsed), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (duration *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (duration Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(duration).String(), nil
}

// Decode implements envdecode.Decoder.
func (duration *Duration) Decode(text string) error {
	parsed, err := parseDuration(text)
	if err != nil {
		return err
	}
	*duration = parsed
	return nil
}

// Config holds everything a session needs to log in and stream.
type Config struct {
	Channel           string   `yaml:"channel" env:"FORCE_CHANNEL"`
	ConnectTimeout    Duration `yaml:"connectTimeout" env:"FORCE_CONNECT_TIMEOUT"`
	LoginEndpoint     string   `yaml:"loginEndpoint" env:"FORCE_LOGIN_ENDPOINT"`
	Password          string   `yaml:"password" env:"FORCE_PASSWORD"`
	ReadTimeout       Duration `yaml:"readTimeout" env:"FORCE_READ_TIMEOUT"`
	SoapPartnerURI    string   `yaml:"soapPartnerUri" env:"FORCE_SOAP_PARTNER_URI"`
	StreamingURI      string   `yaml:"streamingUri" env:"FORCE_STREAMING_URI"`
	Username          string   `yaml:"username" env:"FORCE_USERNAME"`
	Debug             bool     `yaml:"debug" env:"FORCE_DEBUG"`
	HandshakeTimeout  Duration `yaml:"handshakeTimeout" env:"FORCE_HANDSHAKE_TIMEOUT"`
	HandshakeInterval Duration `yaml:"handshakeInterval" env:"FORCE_HANDSHAKE_INTERVAL"`
}

// DefaultConfig returns a Config with every optional field populated.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    Duration(DefaultConnectTimeout),
		LoginEndpoint:     DefaultLoginEndpoint,
		ReadTimeout:       Duration(DefaultReadTimeout),
		SoapPartnerURI:    DefaultSoapPartnerURI,
		StreamingURI:      DefaultStreamingURI,
		HandshakeTimeout:  Duration(DefaultHandshakeTimeout),
		HandshakeInterval: Duration(DefaultHandshakeInterval),
	}
}

// LoadConfig reads a YAML file over DefaultConfig and then applies FORCE_*
// environment overrides.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes the same way LoadConfig does.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, NewError(InvalidConfigError, "decoding yaml", err)
	}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, NewError(InvalidConfigError, "decoding environment", err)
	}
	return cfg, nil
}

// withDefaults fills zero-valued optional fields.
func (cfg Config) withDefaults() Config {
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.LoginEndpoint == "" {
		cfg.LoginEndpoint = defaults.LoginEndpoint
	}
	if cfg.SoapPartnerURI == "" {
		cfg.SoapPartnerURI = defaults.SoapPartnerURI
	}
	if cfg.StreamingURI == "" {
		cfg.StreamingURI = defaults.StreamingURI
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.HandshakeInterval <= 0 {
		cfg.HandshakeInterval = defaults.HandshakeInterval
	}
	return cfg
}

// Validate checks the fields needed for a SOAP login.
func (cfg Config) Validate() error {
	if cfg.Username == "" {
		return NewError(InvalidConfigError, "username is required")
	}
	if cfg.Password == "" {
		return NewError(InvalidConfigError, "password is required")
	}
	endpoint, err := url.Parse(cfg.LoginEndpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return NewError(InvalidConfigError, fmt.Sprintf("invalid login endpoint %q", cfg.LoginEndpoint))
	}
	if cfg.Channel != "" && !strings.HasPrefix(cfg.Channel, "/") {
		return NewError(InvalidConfigError, fmt.Sprintf("channel %q must start with '/'", cfg.Channel))
	}
	return nil
}

// LoginURL is the SOAP partner endpoint.
func (cfg Config) LoginURL() string {
	return strings.TrimRight(cfg.LoginEndpoint, "/") + cfg.SoapPartnerURI
}

// StreamingURL joins a service host with the streaming path.
func (cfg Config) StreamingURL(serviceHost string) string {
	return strings.TrimRight(serviceHost, "/") + cfg.StreamingURI
}

// String renders the config without the password.
func (cfg Config) String() string {
	password := ""
	if cfg.Password != "" {
		password = "****"
	}
	return fmt.Sprintf("Config{login=%s%s user=%s password=%s channel=%s streaming=%s connect=%s read=%s debug=%t}",
		cfg.LoginEndpoint, cfg.SoapPartnerURI, cfg.Username, password, cfg.Channel, cfg.StreamingURI,
		cfg.ConnectTimeout.Std(), cfg.ReadTimeout.Std(), cfg.Debug)
}
