package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/schema"
	"github.com/patrickmn/go-cache"
	"github.com/tulua/wacloud/events"
	"github.com/tulua/wacloud/listeners"
	"github.com/tulua/wacloud/utils"
)

// Options configures the webhook server.
type Options struct {
	Address  string
	Port     int
	Endpoint string

	VerifyToken        string
	AppSecret          string
	ValidateSignatures bool
	SkipDuplicates     bool
	ChallengeDelay     time.Duration
	MaxBodyBytes       int64
	DedupeTTL          time.Duration
}

// Server receives webhook notifications, verifies them, decodes them and
// feeds the resulting updates to the listener registry and the handler
// registry. It responds 200 as soon as an update is queued; handling happens
// on its own goroutine.
type Server struct {
	opts      Options
	registry  *Registry
	listeners *listeners.Registry
	decoder   *events.Decoder
	log       *slog.Logger

	router     *chi.Mux
	httpServer *http.Server

	// seen tracks in-flight notification keys so retried deliveries of a
	// notification still being handled are dropped
	seen *cache.Cache

	waitGroup sync.WaitGroup
}

var formDecoder = schema.NewDecoder()

func init() {
	formDecoder.IgnoreUnknownKeys(true)
	formDecoder.SetAliasTag("name")
}

func NewServer(opts Options, registry *Registry, listenerRegistry *listeners.Registry, decoder *events.Decoder, log *slog.Logger) *Server {
	if opts.Endpoint == "" {
		opts.Endpoint = "/"
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 1024 * 1024
	}
	if opts.DedupeTTL == 0 {
		opts.DedupeTTL = 5 * time.Minute
	}

	s := &Server{
		opts:      opts,
		registry:  registry,
		listeners: listenerRegistry,
		decoder:   decoder,
		log:       log.With("comp", "webhooks"),
		seen:      cache.New(opts.DedupeTTL, time.Minute),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get(opts.Endpoint, s.handleChallenge)
	router.Post(opts.Endpoint, s.handleNotification)

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Router exposes the underlying router so callers can mount extra routes,
// flow data endpoints in particular.
func (s *Server) Router() *chi.Mux { return s.router }

// Handler returns the server as an http.Handler, for callers running their
// own HTTP server instead of Start.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening in a background goroutine.
func (s *Server) Start() {
	s.log.Info("starting webhook server", "address", s.httpServer.Addr, "endpoint", s.opts.Endpoint)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("webhook server error", "error", err)
		}
	}()
}

// Stop shuts down the HTTP server and waits for in-flight update handling to
// finish.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.waitGroup.Wait()
	return err
}

// challengeForm is the subscription verification query WhatsApp sends when a
// callback URL is registered.
type challengeForm struct {
	Mode        string `name:"hub.mode"`
	VerifyToken string `name:"hub.verify_token"`
	Challenge   string `name:"hub.challenge"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	form := &challengeForm{}
	if err := formDecoder.Decode(form, r.URL.Query()); err != nil {
		http.Error(w, "error decoding challenge", http.StatusBadRequest)
		return
	}

	if form.Mode != "subscribe" || !utils.SecretEqual(form.VerifyToken, s.opts.VerifyToken) {
		s.log.Warn("challenge with wrong verify token", "mode", form.Mode)
		http.Error(w, "verify token mismatch", http.StatusForbidden)
		return
	}

	// registration can arrive before the rest of the app is ready to
	// receive updates, an optional delay holds it off
	if s.opts.ChallengeDelay > 0 {
		time.Sleep(s.opts.ChallengeDelay)
	}

	s.log.Info("webhook subscription verified")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(form.Challenge))
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(signatureHeader)

	if s.opts.ValidateSignatures && !verifySignature(s.opts.AppSecret, body, signature) {
		s.log.Warn("notification with invalid signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// the signature doubles as a dedupe key, falling back to a body hash
	// for deployments without signature validation
	key := signature
	if key == "" {
		sum := sha256.Sum256(body)
		key = hex.EncodeToString(sum[:])
	}

	if s.opts.SkipDuplicates {
		if err := s.seen.Add(key, true, cache.DefaultExpiration); err != nil {
			s.log.Debug("skipping duplicate notification")
			s.respondOK(w)
			return
		}
	}

	updates, err := s.decoder.Decode(body)
	if err != nil {
		s.log.Warn("error decoding notification", "error", err)
		if s.opts.SkipDuplicates {
			s.seen.Delete(key)
		}
		http.Error(w, "error decoding notification", http.StatusBadRequest)
		return
	}

	s.waitGroup.Add(1)
	go s.process(key, body, updates)

	s.respondOK(w)
}

// process feeds updates to listeners and handlers, then raw handlers, then
// releases the dedupe key so the TTL is only a backstop.
func (s *Server) process(key string, body []byte, updates []events.Update) {
	defer s.waitGroup.Done()

	ctx := context.Background()

	for _, update := range updates {
		// an update consumed by a listener only goes on to the typed
		// handlers when continue handling is on
		if s.listeners.Resolve(update) && !s.registry.continueDefault {
			continue
		}
		s.registry.Dispatch(ctx, update)
	}

	s.registry.DispatchRaw(ctx, body)

	if s.opts.SkipDuplicates {
		s.seen.Delete(key)
	}
}

func (s *Server) respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
