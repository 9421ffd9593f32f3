package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v2"
)

const (
	// ConfigPathEnv overrides the default config file location.
	ConfigPathEnv = "OWNERS_NOTIFY_CONFIG"
	// KeyringService is the keyring service name used for the SMTP password.
	KeyringService = "owners-notify"

	defaultConfigPath    = "./config.yaml"
	defaultListenAddress = ":8080"
	defaultReplyHandler  = "private"
	defaultStoreDSN      = "file:owners-notify.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

// keyringGet is replaced in tests.
var keyringGet = keyring.Get

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	TLSCertFile   string `yaml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile"`
	// RateLimit is the number of API requests allowed per second and client IP.
	// Zero uses the default.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
	// Timeouts of the HTTP server. Nil uses the defaults.
	Timeouts *ServerTimeouts `yaml:"timeouts,omitempty"`
	// ShutdownTimeout bounds the graceful shutdown, e.g. "30s".
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`
}

const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	DefaultShutdownTimeout   = 30 * time.Second
)

// ServerTimeouts holds duration strings ("30s", "2m") for the HTTP server.
// Empty, unparsable or non-positive values fall back to the defaults.
type ServerTimeouts struct {
	ReadTimeout       string `yaml:"readTimeout,omitempty"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout,omitempty"`
	WriteTimeout      string `yaml:"writeTimeout,omitempty"`
	IdleTimeout       string `yaml:"idleTimeout,omitempty"`
	MaxHeaderBytes    int    `yaml:"maxHeaderBytes,omitempty"`
}

func (t *ServerTimeouts) GetReadTimeout() time.Duration {
	if t == nil {
		return DefaultReadTimeout
	}
	return parseDurationOrDefault(t.ReadTimeout, DefaultReadTimeout)
}

func (t *ServerTimeouts) GetReadHeaderTimeout() time.Duration {
	if t == nil {
		return DefaultReadHeaderTimeout
	}
	return parseDurationOrDefault(t.ReadHeaderTimeout, DefaultReadHeaderTimeout)
}

func (t *ServerTimeouts) GetWriteTimeout() time.Duration {
	if t == nil {
		return DefaultWriteTimeout
	}
	return parseDurationOrDefault(t.WriteTimeout, DefaultWriteTimeout)
}

func (t *ServerTimeouts) GetIdleTimeout() time.Duration {
	if t == nil {
		return DefaultIdleTimeout
	}
	return parseDurationOrDefault(t.IdleTimeout, DefaultIdleTimeout)
}

func (t *ServerTimeouts) GetMaxHeaderBytes() int {
	if t == nil || t.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return t.MaxHeaderBytes
}

// GetServerTimeouts never returns nil.
func (s Server) GetServerTimeouts() *ServerTimeouts {
	if s.Timeouts == nil {
		return &ServerTimeouts{}
	}
	return s.Timeouts
}

func (s Server) GetShutdownTimeout() time.Duration {
	return parseDurationOrDefault(s.ShutdownTimeout, DefaultShutdownTimeout)
}

func parseDurationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

type Mail struct {
	// Disabled turns delivery off; prepared mails are still stored in the outbox.
	Disabled bool `yaml:"disabled"`

	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	// PasswordFromKeyring reads the SMTP password for User from the OS keyring
	// when Password is empty.
	PasswordFromKeyring bool `yaml:"passwordFromKeyring"`

	SenderAddress string `yaml:"senderAddress"`
	SenderName    string `yaml:"senderName"`

	// ThreadDomain is the domain part of generated Message-ID headers.
	ThreadDomain string `yaml:"threadDomain"`
	// VarySubjects sends the vary-subject ("[Changed]") instead of the stable one.
	VarySubjects bool `yaml:"varySubjects"`

	RetryCount     int `yaml:"retryCount"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
	QueueSize      int `yaml:"queueSize"`
}

type Notify struct {
	// SubjectPrefix is prepended to every subject, e.g. "[Package]".
	SubjectPrefix string `yaml:"subjectPrefix"`
	// BaseURL is the production base URL that detail links are built on.
	BaseURL string `yaml:"baseURL"`
	// ReplyHandler names the reply handler implementation ("public" or "private").
	ReplyHandler string `yaml:"replyHandler"`
	// ReplyDomain is the domain of generated reply addresses.
	ReplyDomain string `yaml:"replyDomain"`
	// ReplySecret keys the signatures of private reply addresses.
	ReplySecret string `yaml:"replySecret"`
}

type Store struct {
	DSN string `yaml:"dsn"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type KafkaAudit struct {
	Brokers []string `yaml:"brokers"`
	// Topic receives every event whose family has no entry in Topics.
	Topic string `yaml:"topic"`
	// Topics routes event families ("notification", "mail", "system") to
	// their own topics.
	Topics      map[string]string `yaml:"topics"`
	Compression string            `yaml:"compression"`
	TLS         *KafkaTLS         `yaml:"tls"`
	SASL        *KafkaSASL        `yaml:"sasl"`
}

type WebhookAudit struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type Audit struct {
	Enabled bool          `yaml:"enabled"`
	Kafka   *KafkaAudit   `yaml:"kafka"`
	Webhook *WebhookAudit `yaml:"webhook"`
}

type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "otlp" (default), "stdout" or "none".
	Exporter string            `yaml:"exporter"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	// SamplingRate is the fraction of traces sampled, 0 to 1.
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server  Server  `yaml:"server"`
	Mail    Mail    `yaml:"mail"`
	Notify  Notify  `yaml:"notify"`
	Store   Store   `yaml:"store"`
	Audit   Audit   `yaml:"audit"`
	Tracing Tracing `yaml:"tracing"`
}

// ConfigurationError reports an absent or invalid configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Load loads the configuration from a file path.
// If configPath is empty, OWNERS_NOTIFY_CONFIG is used, then "./config.yaml".
func Load(configPath ...string) (Config, error) {
	var path string
	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv(ConfigPathEnv) != "":
		path = os.Getenv(ConfigPathEnv)
	default:
		path = defaultConfigPath
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open owners-notify config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return config, nil
}

// Defaults fills unset values.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = defaultListenAddress
	}
	if c.Notify.ReplyHandler == "" {
		c.Notify.ReplyHandler = defaultReplyHandler
	}
	if c.Store.DSN == "" {
		c.Store.DSN = defaultStoreDSN
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 25
	}
	if c.Mail.SenderAddress == "" {
		c.Mail.SenderAddress = "noreply@owners.local"
	}
	if c.Mail.SenderName == "" {
		c.Mail.SenderName = "Owners"
	}
	if c.Mail.ThreadDomain == "" {
		c.Mail.ThreadDomain = domainOf(c.Mail.SenderAddress)
	}
	if c.Notify.ReplyDomain == "" {
		c.Notify.ReplyDomain = c.Mail.ThreadDomain
	}
	if c.Mail.RetryCount <= 0 {
		c.Mail.RetryCount = 3
	}
	if c.Mail.RetryBackoffMs <= 0 {
		c.Mail.RetryBackoffMs = 100
	}
	if c.Mail.QueueSize <= 0 {
		c.Mail.QueueSize = 1000
	}
	if c.Tracing.Enabled && c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

// Validate checks the values that composition and delivery cannot work without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Notify.BaseURL) == "" {
		return &ConfigurationError{Field: "notify.baseURL", Reason: "must be set"}
	}
	if strings.TrimSpace(c.Notify.ReplyHandler) == "" {
		return &ConfigurationError{Field: "notify.replyHandler", Reason: "must be set"}
	}
	if c.Notify.ReplyHandler == "private" && c.Notify.ReplySecret == "" {
		return &ConfigurationError{Field: "notify.replySecret", Reason: "required by the private reply handler"}
	}
	if !c.Mail.Disabled && c.Mail.Host == "" {
		return &ConfigurationError{Field: "mail.host", Reason: "must be set unless mail is disabled"}
	}
	if c.Mail.Port < 0 || c.Mail.Port > 65535 {
		return &ConfigurationError{Field: "mail.port", Reason: fmt.Sprintf("%d is out of range", c.Mail.Port)}
	}
	if c.Audit.Kafka != nil {
		if len(c.Audit.Kafka.Brokers) == 0 {
			return &ConfigurationError{Field: "audit.kafka.brokers", Reason: "at least one broker is required"}
		}
		if c.Audit.Kafka.Topic == "" {
			return &ConfigurationError{Field: "audit.kafka.topic", Reason: "must be set"}
		}
		for family, topic := range c.Audit.Kafka.Topics {
			switch family {
			case "notification", "mail", "system":
			default:
				return &ConfigurationError{Field: "audit.kafka.topics", Reason: fmt.Sprintf("unknown event family %q", family)}
			}
			if topic == "" {
				return &ConfigurationError{Field: "audit.kafka.topics", Reason: fmt.Sprintf("topic for %q is empty", family)}
			}
		}
	}
	if c.Audit.Webhook != nil && c.Audit.Webhook.URL == "" {
		return &ConfigurationError{Field: "audit.webhook.url", Reason: "must be set"}
	}
	return nil
}

// ResolveSecrets fills the SMTP password from the OS keyring when requested.
func (c *Config) ResolveSecrets() error {
	if !c.Mail.PasswordFromKeyring || c.Mail.Password != "" {
		return nil
	}
	if c.Mail.User == "" {
		return &ConfigurationError{Field: "mail.user", Reason: "required to look up the password in the keyring"}
	}
	password, err := keyringGet(KeyringService, c.Mail.User)
	if err != nil {
		return fmt.Errorf("reading SMTP password for %s from keyring: %w", c.Mail.User, err)
	}
	c.Mail.Password = password
	return nil
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "owners.local"
}
