package integration

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRequestsPerMinute = 100
	DefaultEnvironment       = "production"

	// NoRetries disables retries. A zero RetryAttempts means the default.
	NoRetries = -1
)

// Credentials holds every credential field a carrier may need. Which ones are
// required depends on the carrier's auth method.
type Credentials struct {
	APIKey        string `yaml:"apiKey" json:"apiKey,omitempty"`
	APIKeyHeader  string `yaml:"apiKeyHeader" json:"apiKeyHeader,omitempty"`
	APISecret     string `yaml:"apiSecret" json:"apiSecret,omitempty"`
	Username      string `yaml:"username" json:"username,omitempty"`
	Password      string `yaml:"password" json:"password,omitempty"`
	ClientID      string `yaml:"clientId" json:"clientId,omitempty"`
	ClientSecret  string `yaml:"clientSecret" json:"clientSecret,omitempty"`
	AccessToken   string `yaml:"accessToken" json:"accessToken,omitempty"`
	CustomerID    string `yaml:"customerId" json:"customerId,omitempty"`
	AccountNumber string `yaml:"accountNumber" json:"accountNumber,omitempty"`
	TokenURL      string `yaml:"tokenUrl" json:"tokenUrl,omitempty" validate:"omitempty,url"`
}

// EDIConfig holds interchange envelope identifiers for EDI carriers.
type EDIConfig struct {
	Version            string `yaml:"version" json:"version,omitempty"`
	SenderID           string `yaml:"senderId" json:"senderId,omitempty"`
	ReceiverID         string `yaml:"receiverId" json:"receiverId,omitempty"`
	SenderQualifier    string `yaml:"senderQualifier" json:"senderQualifier,omitempty"`
	ReceiverQualifier  string `yaml:"receiverQualifier" json:"receiverQualifier,omitempty"`
	DefaultTransaction string `yaml:"defaultTransaction" json:"defaultTransaction,omitempty"`
}

// Config is the immutable connector configuration.
type Config struct {
	CarrierID         string        `yaml:"carrierId" json:"carrierId" validate:"required,alphanum"`
	Name              string        `yaml:"name" json:"name"`
	BaseURL           string        `yaml:"baseUrl" json:"baseUrl" validate:"required,url"`
	Credentials       Credentials   `yaml:"credentials" json:"credentials"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout,omitempty" validate:"gte=0"`
	RetryAttempts     int           `yaml:"retryAttempts" json:"retryAttempts,omitempty" validate:"gte=-1,lte=10"`
	RequestsPerMinute int           `yaml:"requestsPerMinute" json:"requestsPerMinute,omitempty" validate:"gte=0"`
	Environment       string        `yaml:"environment" json:"environment,omitempty" validate:"omitempty,oneof=production sandbox staging development test"`
	WebhookSecret     string        `yaml:"webhookSecret" json:"webhookSecret,omitempty"`

	// Generic carriers only.
	AuthMethod    string             `yaml:"authMethod" json:"authMethod,omitempty" validate:"omitempty,oneof=api-key basic bearer oauth2 custom custom-hook"`
	DataFormat    string             `yaml:"dataFormat" json:"dataFormat,omitempty" validate:"omitempty,oneof=json xml csv edi"`
	Headers       map[string]string  `yaml:"headers" json:"headers,omitempty"`
	Endpoints     map[string]string  `yaml:"endpoints" json:"endpoints,omitempty"`
	EDI           EDIConfig          `yaml:"edi" json:"edi,omitempty"`
	Mappings      map[string]Mapping `yaml:"mappings" json:"mappings,omitempty"`
	StatusMapping map[string]string  `yaml:"statusMapping" json:"statusMapping,omitempty"`
}

// WithDefaults fills unset tunables.
func (c Config) WithDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.Name == "" {
		c.Name = c.CarrierID
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Merge overlays non-zero fields of o onto c. Used to combine built-in carrier
// defaults with operator supplied settings.
func (c Config) Merge(o Config) Config {
	if o.CarrierID != "" {
		c.CarrierID = o.CarrierID
	}
	if o.Name != "" {
		c.Name = o.Name
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Credentials != (Credentials{}) {
		c.Credentials = o.Credentials
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.RetryAttempts != 0 {
		c.RetryAttempts = o.RetryAttempts
	}
	if o.RequestsPerMinute != 0 {
		c.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.Environment != "" {
		c.Environment = o.Environment
	}
	if o.WebhookSecret != "" {
		c.WebhookSecret = o.WebhookSecret
	}
	if o.AuthMethod != "" {
		c.AuthMethod = o.AuthMethod
	}
	if o.DataFormat != "" {
		c.DataFormat = o.DataFormat
	}
	if o.Headers != nil {
		c.Headers = o.Headers
	}
	if o.Endpoints != nil {
		c.Endpoints = o.Endpoints
	}
	if o.EDI != (EDIConfig{}) {
		c.EDI = o.EDI
	}
	if o.Mappings != nil {
		c.Mappings = o.Mappings
	}
	if o.StatusMapping != nil {
		c.StatusMapping = o.StatusMapping
	}
	return c
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks the struct tags on Config.
func (c Config) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
