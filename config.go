package wacloud

import (
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/nyaruka/ezconf"
)

var validate = validator.New()

// Config is our top level configuration object
type Config struct {
	PhoneID           string `validate:"required" help:"the ID of the business phone number to send and receive with"`
	Token             string `validate:"required" help:"the access token used to authenticate against the Graph API"`
	BusinessAccountID string `help:"the WhatsApp Business Account ID, required for template and flow management"`
	AppID             string `help:"the Meta app ID, required for callback URL registration and resumable uploads"`
	AppSecret         string `help:"the Meta app secret, required to validate webhook signatures"`

	VerifyToken           string `help:"the token echoed back during webhook subscription verification"`
	WebhookEndpoint       string `help:"the path webhook routes are mounted on"`
	CallbackURL           string `help:"the public URL to register as the app's callback URL on startup, empty to skip registration"`
	WebhookChallengeDelay int    `help:"seconds to wait before answering the subscription challenge, giving the app time to finish starting"`

	BusinessPrivateKey         string `help:"PEM encoded RSA private key for flow endpoint encryption"`
	BusinessPrivateKeyPassword string `help:"password of the private key PEM, empty for unencrypted keys"`

	BaseURL    string `validate:"omitempty,url" help:"the Graph API base URL, empty for the default"`
	APIVersion string `help:"the Graph API version to call"`

	FilterUpdates        bool `help:"whether to skip updates addressed to other phone numbers of the same WABA"`
	ContinueHandling     bool `help:"whether handlers pass updates on to later handlers by default"`
	SkipDuplicateUpdates bool `help:"whether retried webhook deliveries are collapsed while the original is still being handled"`
	ValidateUpdates      bool `help:"whether webhook signatures are validated against the app secret"`

	MaxBodyBytes int64 `help:"the maximum webhook body size in bytes"`
	DedupeTTL    int   `help:"seconds a webhook dedupe key lives before the TTL backstop expires it"`

	Address   string `help:"the network interface address the webhook server will bind to"`
	Port      int    `help:"the port the webhook server will listen on"`
	SentryDSN string `help:"the DSN used for logging errors to Sentry"`
	LogLevel  string `help:"the logging level to use"`
	Version   string `help:"the version reported in logs"`

	// WebhookFields is the list of webhook fields subscribed to during
	// callback URL registration, empty means messages only
	WebhookFields []string
}

// NewConfig returns a new default configuration object
func NewConfig() *Config {
	return &Config{
		VerifyToken:           "",
		WebhookEndpoint:       "/",
		WebhookChallengeDelay: 0,

		BaseURL:    "https://graph.facebook.com",
		APIVersion: "23.0",

		FilterUpdates:        true,
		ContinueHandling:     false,
		SkipDuplicateUpdates: true,
		ValidateUpdates:      true,

		MaxBodyBytes: 1024 * 1024,
		DedupeTTL:    300,

		Address:  "",
		Port:     8080,
		LogLevel: "info",
		Version:  "Dev",

		WebhookFields: []string{"messages"},
	}
}

// LoadConfig loads our configuration from the passed in filename
func LoadConfig(filename string) *Config {
	config := NewConfig()
	loader := ezconf.NewLoader(
		config,
		"wacloud", "WACloud - a WhatsApp Cloud API client",
		[]string{filename},
	)

	loader.MustLoad()
	return config
}

// Validate validates the config
func (c *Config) Validate() error {
	return validate.Struct(c)
}
