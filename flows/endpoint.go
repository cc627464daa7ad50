package flows

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/nyaruka/gocommon/jsonx"
	validator "gopkg.in/go-playground/validator.v9"
)

// maxRequestBytes caps flow endpoint request bodies, which are small JSON
// documents even with embedded images.
const maxRequestBytes = 1024 * 1024

var validate = validator.New()

// Request is a decrypted data exchange request from a flow.
type Request struct {
	Version   string         `json:"version"`
	Action    string         `json:"action"`
	Screen    string         `json:"screen"`
	Data      map[string]any `json:"data"`
	FlowToken string         `json:"flow_token"`
}

// Response is what a handler returns for a data exchange request: the screen
// to navigate to and the data to hydrate it with. Version is stamped from the
// request when left empty.
type Response struct {
	Version string         `json:"version"`
	Screen  string         `json:"screen,omitempty"`
	Data    map[string]any `json:"data"`
}

// defaultVersion is used when the request carries no data API version to
// echo.
const defaultVersion = "3.0"

// Handler processes a flow data exchange. Returning an error produces a 500,
// which the client surfaces as a generic failure on the flow screen.
type Handler func(ctx context.Context, req *Request) (*Response, error)

// EndpointOptions adjust how an endpoint treats the traffic that isn't a
// regular data exchange. The zero value answers health checks itself,
// acknowledges client error notifications and turns handler errors into 500s.
type EndpointOptions struct {
	// PrivateKey overrides the client wide business key for this endpoint
	PrivateKey *rsa.PrivateKey

	// PassHealthChecks forwards ping requests to the handler instead of
	// answering them with an active status
	PassHealthChecks bool

	// PassErrorNotifications forwards client error notifications to the
	// handler instead of acknowledging them
	PassErrorNotifications bool

	// AcknowledgeHandlerErrors answers a failed handler with the generic
	// error acknowledgment instead of a 500
	AcknowledgeHandlerErrors bool
}

// Endpoint is the HTTP handler for a flow's data endpoint. It owns the
// decrypt, dispatch, encrypt cycle.
type Endpoint struct {
	key     *rsa.PrivateKey
	handler Handler
	opts    *EndpointOptions
	log     *slog.Logger
}

func NewEndpoint(key *rsa.PrivateKey, handler Handler, opts *EndpointOptions, log *slog.Logger) *Endpoint {
	if opts == nil {
		opts = &EndpointOptions{}
	}
	if opts.PrivateKey != nil {
		key = opts.PrivateKey
	}
	return &Endpoint{key: key, handler: handler, opts: opts, log: log.With("comp", "flows")}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	env := &envelope{}
	if err := json.Unmarshal(body, env); err != nil {
		http.Error(w, "error parsing request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(env); err != nil {
		http.Error(w, "incomplete request body", http.StatusBadRequest)
		return
	}

	// a 421 tells WhatsApp to refetch our public key, which covers both
	// tampered payloads and a rotated key pair
	clear, sess, err := decryptEnvelope(e.key, env)
	if err != nil {
		e.log.Warn("flow request failed decryption", "error", err)
		w.WriteHeader(http.StatusMisdirectedRequest)
		return
	}

	request := &Request{}
	if err := json.Unmarshal(clear, request); err != nil {
		http.Error(w, "error parsing flow data", http.StatusBadRequest)
		return
	}

	response := e.process(r.Context(), request)
	if response == nil {
		http.Error(w, "error handling flow data exchange", http.StatusInternalServerError)
		return
	}

	sealed, err := encryptResponse(sess, jsonx.MustMarshal(response))
	if err != nil {
		http.Error(w, "error encrypting response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(sealed))
}

func (e *Endpoint) process(ctx context.Context, request *Request) *Response {
	if request.Action == "ping" && !e.opts.PassHealthChecks {
		return e.respond(request, &Response{Data: map[string]any{"status": "active"}})
	}

	if errMsg, found := request.Data["error"]; found && !e.opts.PassErrorNotifications {
		e.log.Warn("flow client reported error", "flow_error", errMsg, "flow_token", request.FlowToken)
		return e.respond(request, &Response{Data: map[string]any{"acknowledged": true}})
	}

	if e.handler == nil {
		e.log.Error("flow data exchange received but no handler registered", "action", request.Action)
		return nil
	}

	response, err := e.handler(ctx, request)
	if err != nil {
		e.log.Error("error handling flow data exchange", "action", request.Action, "screen", request.Screen, "error", err)
		if e.opts.AcknowledgeHandlerErrors {
			return e.respond(request, &Response{Data: map[string]any{"acknowledged": true}})
		}
		return nil
	}
	if response == nil {
		return nil
	}
	return e.respond(request, response)
}

// respond stamps the data API version on a response, echoing the request's.
func (e *Endpoint) respond(request *Request, response *Response) *Response {
	if response.Version == "" {
		response.Version = request.Version
	}
	if response.Version == "" {
		response.Version = defaultVersion
	}
	return response
}
