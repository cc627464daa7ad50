package wacloud

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tulua/wacloud/events"
	"github.com/tulua/wacloud/flows"
	"github.com/tulua/wacloud/graph"
	"github.com/tulua/wacloud/listeners"
	"github.com/tulua/wacloud/webhooks"
)

// Client ties the pieces together: the Graph API façade for outbound calls,
// the webhook server for inbound updates, the handler registry and the
// listener coordinator. A Client serves one business phone number.
type Client struct {
	cfg *Config
	log *slog.Logger

	graph     *graph.Client
	handlers  *webhooks.Registry
	listeners *listeners.Registry
	server    *webhooks.Server

	privateKey *rsa.PrivateKey
}

// NewClient creates a client from the passed in config, which must at least
// carry the phone ID and an access token.
func NewClient(cfg *Config, log *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		cfg:       cfg,
		log:       log,
		graph:     graph.NewClient(http.DefaultClient, cfg.BaseURL, cfg.APIVersion, cfg.Token, log),
		handlers:  webhooks.NewRegistry(cfg.ContinueHandling, log),
		listeners: listeners.NewRegistry(log),
	}

	filterPhoneID := ""
	if cfg.FilterUpdates {
		filterPhoneID = cfg.PhoneID
	}
	decoder := events.NewDecoder(filterPhoneID, log)

	c.server = webhooks.NewServer(webhooks.Options{
		Address:            cfg.Address,
		Port:               cfg.Port,
		Endpoint:           cfg.WebhookEndpoint,
		VerifyToken:        cfg.VerifyToken,
		AppSecret:          cfg.AppSecret,
		ValidateSignatures: cfg.ValidateUpdates,
		SkipDuplicates:     cfg.SkipDuplicateUpdates,
		ChallengeDelay:     time.Duration(cfg.WebhookChallengeDelay) * time.Second,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		DedupeTTL:          time.Duration(cfg.DedupeTTL) * time.Second,
	}, c.handlers, c.listeners, decoder, log)

	if cfg.BusinessPrivateKey != "" {
		key, err := flows.ParsePrivateKey([]byte(cfg.BusinessPrivateKey), cfg.BusinessPrivateKeyPassword)
		if err != nil {
			return nil, fmt.Errorf("error loading business private key: %w", err)
		}
		c.privateKey = key
	}

	return c, nil
}

// Graph exposes the typed Graph API client for calls the shortcuts don't
// cover.
func (c *Client) Graph() *graph.Client { return c.graph }

// Listeners exposes the listener registry for custom rendezvous.
func (c *Client) Listeners() *listeners.Registry { return c.listeners }

// Webhooks exposes the webhook server, mainly to mount it into an existing
// HTTP server via Handler.
func (c *Client) Webhooks() *webhooks.Server { return c.server }

// On registers a handler for updates of the given kind.
func (c *Client) On(kind events.Kind, fn webhooks.HandlerFunc, filters ...webhooks.FilterFunc) {
	c.handlers.On(kind, fn, filters...)
}

// OnRaw registers a handler for raw notification bodies.
func (c *Client) OnRaw(fn webhooks.RawHandlerFunc) {
	c.handlers.OnRaw(fn)
}

// OnFlow mounts a flow data endpoint on the webhook server at the given
// path. Requires a business private key, either configured on the client or
// set per endpoint in opts. Passing nil opts keeps the default behavior.
func (c *Client) OnFlow(path string, handler flows.Handler, opts *flows.EndpointOptions) error {
	if c.privateKey == nil && (opts == nil || opts.PrivateKey == nil) {
		return fmt.Errorf("flow endpoint requires a business private key")
	}
	c.server.Router().Method("POST", path, flows.NewEndpoint(c.privateKey, handler, opts, c.log))
	return nil
}

// Start brings up the webhook server and, when a callback URL is configured,
// registers it with the app.
func (c *Client) Start(ctx context.Context) error {
	c.server.Start()

	if c.cfg.CallbackURL != "" {
		if err := c.RegisterCallbackURL(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop shuts down the webhook server, waits out in-flight update handling
// and releases every blocked listener.
func (c *Client) Stop(ctx context.Context) error {
	err := c.server.Stop(ctx)
	c.listeners.Stop()
	return err
}

// RegisterCallbackURL points the app's webhook subscription at the
// configured callback URL. Registration triggers a challenge against the
// webhook server, so it must already be started.
func (c *Client) RegisterCallbackURL(ctx context.Context) error {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return fmt.Errorf("callback URL registration requires app ID and app secret")
	}

	appToken := c.cfg.AppID + "|" + c.cfg.AppSecret
	if err := c.graph.SetCallbackURL(ctx, c.cfg.AppID, appToken, c.cfg.CallbackURL, c.cfg.VerifyToken, c.cfg.WebhookFields); err != nil {
		return fmt.Errorf("error registering callback URL: %w", err)
	}

	c.log.Info("callback URL registered", "url", c.cfg.CallbackURL)
	return nil
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.graph.MarkRead(ctx, c.cfg.PhoneID, messageID, false)
}

// IndicateTyping marks an inbound message as read and shows a typing
// indicator until a reply is sent or 25 seconds pass.
func (c *Client) IndicateTyping(ctx context.Context, messageID string) error {
	return c.graph.MarkRead(ctx, c.cfg.PhoneID, messageID, true)
}
