package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
)

// DefaultFile is the config file read when --config is not given.
const DefaultFile = "config.json"

// Registry providers accepted by Config.Registry.
const (
	RegistryMandrill = "mandrill"
	RegistryPostmark = "postmark"
)

// ErrInvalidConfig is returned when a loaded config fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the pipeline configuration. It is loaded once per process and
// never mutated afterwards.
type Config struct {
	AWS         AWSConfig      `json:"aws,optional"`
	Litmus      LitmusConfig   `json:"litmus,optional"`
	MandrillKey string         `json:"mandrill_key,optional"`
	Postmark    PostmarkConfig `json:"postmark,optional"`
	Registry    string         `json:"registry,default=mandrill"`
	SMTP        SMTPConfig     `json:"smtp,optional"`
	Paths       PathsConfig    `json:"paths"`
	Server      ServerConfig   `json:"server"`
}

// AWSConfig holds object storage credentials and the public asset URL.
type AWSConfig struct {
	Key              string  `json:"key,optional"`
	Secret           string  `json:"secret,optional"`
	Region           string  `json:"region,optional"`
	Bucket           string  `json:"bucket,optional"`
	Endpoint         string  `json:"endpoint,optional"`
	URL              string  `json:"url,optional"`
	PathStyle        bool    `json:"pathStyle,optional"`
	Prefix           string  `json:"prefix,optional"`
	UploadsPerSecond float64 `json:"uploadsPerSecond,optional"`
}

// LitmusConfig holds the rendering-test service credentials.
type LitmusConfig struct {
	Username     string   `json:"username,optional"`
	Password     string   `json:"password,optional"`
	URL          string   `json:"url,optional"`
	Subject      string   `json:"subject,optional"`
	Applications []string `json:"applications,optional"`
}

// PostmarkConfig holds Postmark API tokens for the template registry.
type PostmarkConfig struct {
	ServerToken  string `json:"serverToken,optional"`
	AccountToken string `json:"accountToken,optional"`
}

// SMTPConfig holds settings for test sends.
type SMTPConfig struct {
	Host      string `json:"host,default=smtp.gmail.com"`
	Port      string `json:"port,default=587"`
	Username  string `json:"username,optional"`
	Password  string `json:"password,optional"`
	FromEmail string `json:"fromEmail,optional"`
	FromName  string `json:"fromName,optional"`
}

// PathsConfig holds the source and output locations of the pipeline.
type PathsConfig struct {
	Pages        string   `json:"pages,default=src/pages"`
	Layouts      string   `json:"layouts,default=src/layouts"`
	Partials     string   `json:"partials,default=src/partials"`
	Styles       string   `json:"styles,default=src/assets/scss"`
	StyleEntry   string   `json:"styleEntry,default=src/assets/scss/app.scss"`
	SassIncludes []string `json:"sassIncludes,optional"`
	SassBinary   string   `json:"sassBinary,optional"`
	Images       string   `json:"images,default=src/assets/img"`
	Preview      string   `json:"preview,default=preview"`
	Fixtures     string   `json:"fixtures,default=src/fixtures"`
	Dist         string   `json:"dist,default=dist"`
}

// ServerConfig holds the preview server address.
type ServerConfig struct {
	Host string `json:"host,default=localhost"`
	Port int    `json:"port,default=3000"`
}

// Load reads the config file at path. A missing file yields a config made of
// defaults only, so builds work without any credentials.
func Load(path string) (Config, error) {
	var c Config

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := conf.FillDefault(&c); err != nil {
			return Config{}, fmt.Errorf("fill config defaults: %w", err)
		}
		return c, nil
	}

	if err := conf.Load(path, &c, conf.UseEnv()); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks cross-field constraints the tags cannot express.
func (c Config) Validate() error {
	switch c.Registry {
	case RegistryMandrill, RegistryPostmark:
	default:
		return fmt.Errorf("%w: unknown registry %q", ErrInvalidConfig, c.Registry)
	}
	return nil
}

// AssetURL returns the public base URL images are served from once
// published. ok is false when no aws.url is configured.
func (c Config) AssetURL() (url string, ok bool) {
	url = strings.TrimSpace(c.AWS.URL)
	return url, url != ""
}

// HasAWSCredentials reports whether static object storage credentials are set.
func (c Config) HasAWSCredentials() bool {
	return c.AWS.Key != "" && c.AWS.Secret != ""
}
