package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nyaruka/gocommon/httpx"
	"github.com/nyaruka/gocommon/jsonx"
)

// DefaultBaseURL is the Graph API host. Overridable for tests and proxies.
const DefaultBaseURL = "https://graph.facebook.com"

// maxResponseBytes caps how much of a Graph response we read, generous enough
// for template listings but a guard against runaway bodies.
const maxResponseBytes = 10 * 1024 * 1024

// Client is a thin typed wrapper over the Graph API endpoints the library
// uses. It adds auth headers and error decoding, nothing else: no retries, no
// backoff, no caching.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	version     string
	accessToken string
	log         *slog.Logger
}

func NewClient(httpClient *http.Client, baseURL, version, accessToken string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		version:     version,
		accessToken: accessToken,
		log:         log.With("comp", "graph"),
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/v%s/%s", c.baseURL, c.version, path)
}

// request performs a Graph call and decodes the response into response if
// non-nil. Non-2xx responses are decoded into *Error.
func (c *Client) request(ctx context.Context, method, path string, payload, response any) error {
	var body io.Reader
	headers := map[string]string{"Authorization": "Bearer " + c.accessToken}
	if payload != nil {
		body = bytes.NewReader(jsonx.MustMarshal(payload))
		headers["Content-Type"] = "application/json"
	}

	req, err := httpx.NewRequest(method, c.url(path), body, headers)
	if err != nil {
		return err
	}

	return c.do(req.WithContext(ctx), response)
}

func (c *Client) do(req *http.Request, response any) error {
	trace, err := httpx.DoTrace(c.httpClient, req, nil, nil, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("error making graph request: %w", err)
	}

	if trace.Response.StatusCode/100 != 2 {
		envelope := &struct {
			Error *Error `json:"error"`
		}{}
		if jsonErr := json.Unmarshal(trace.ResponseBody, envelope); jsonErr != nil || envelope.Error == nil {
			return fmt.Errorf("graph request returned status %d", trace.Response.StatusCode)
		}
		return envelope.Error
	}

	if response != nil {
		if err := json.Unmarshal(trace.ResponseBody, response); err != nil {
			return fmt.Errorf("error parsing graph response: %w", err)
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// Messages
//-----------------------------------------------------------------------------

// SendResponse is the Graph response to a message send.
type SendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status"`
	} `json:"messages"`
}

// ID returns the wamid of the first sent message.
func (r *SendResponse) ID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// SendMessage posts a message payload to the phone number's messages
// endpoint.
func (c *Client) SendMessage(ctx context.Context, phoneID string, payload any) (*SendResponse, error) {
	response := &SendResponse{}
	if err := c.request(ctx, "POST", phoneID+"/messages", payload, response); err != nil {
		return nil, err
	}
	return response, nil
}

// SendMarketingMessage posts a message through the Marketing Messages Lite
// endpoint instead of the regular one.
func (c *Client) SendMarketingMessage(ctx context.Context, phoneID string, payload any) (*SendResponse, error) {
	response := &SendResponse{}
	if err := c.request(ctx, "POST", phoneID+"/marketing_messages", payload, response); err != nil {
		return nil, err
	}
	return response, nil
}

// MarkRead marks an inbound message as read, optionally showing a typing
// indicator that lasts until a reply is sent or 25 seconds pass.
func (c *Client) MarkRead(ctx context.Context, phoneID, messageID string, typing bool) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	if typing {
		payload["typing_indicator"] = map[string]string{"type": "text"}
	}
	return c.request(ctx, "POST", phoneID+"/messages", payload, nil)
}

//-----------------------------------------------------------------------------
// Media
//-----------------------------------------------------------------------------

// MediaInfo is the metadata and short-lived download URL of an uploaded
// media object. The URL expires 5 minutes after retrieval.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// UploadMedia uploads media to the phone number for later sending and
// returns its media ID.
func (c *Client) UploadMedia(ctx context.Context, phoneID, filename, mimeType string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	form.WriteField("messaging_product", "whatsapp")
	form.WriteField("type", mimeType)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	part.Write(data)
	form.Close()

	req, err := httpx.NewRequest("POST", c.url(phoneID+"/media"), body, map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  form.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}

	response := &struct {
		ID string `json:"id"`
	}{}
	if err := c.do(req.WithContext(ctx), response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// GetMediaInfo fetches the metadata and download URL for a media ID.
func (c *Client) GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	info := &MediaInfo{}
	if err := c.request(ctx, "GET", mediaID, nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// DownloadMedia fetches media content from a URL returned by GetMediaInfo.
// The bearer token is required, the URL alone is not enough.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := httpx.NewRequest("GET", mediaURL, nil, map[string]string{"Authorization": "Bearer " + c.accessToken})
	if err != nil {
		return nil, err
	}

	trace, err := httpx.DoTrace(c.httpClient, req.WithContext(ctx), nil, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("error downloading media: %w", err)
	}
	if trace.Response.StatusCode/100 != 2 {
		return nil, fmt.Errorf("media download returned status %d", trace.Response.StatusCode)
	}
	return trace.ResponseBody, nil
}

// DeleteMedia deletes an uploaded media object.
func (c *Client) DeleteMedia(ctx context.Context, mediaID string) error {
	return c.request(ctx, "DELETE", mediaID, nil, nil)
}

//-----------------------------------------------------------------------------
// Resumable uploads (for template example media)
//-----------------------------------------------------------------------------

// UploadFile pushes a file through the app's resumable upload endpoint and
// returns the handle used to reference it in template example headers.
func (c *Client) UploadFile(ctx context.Context, appID, filename, mimeType string, data []byte) (string, error) {
	params := url.Values{}
	params.Set("file_name", filename)
	params.Set("file_length", strconv.Itoa(len(data)))
	params.Set("file_type", mimeType)

	session := &struct {
		ID string `json:"id"`
	}{}
	if err := c.request(ctx, "POST", appID+"/uploads?"+params.Encode(), nil, session); err != nil {
		return "", err
	}

	req, err := httpx.NewRequest("POST", c.url(session.ID), bytes.NewReader(data), map[string]string{
		"Authorization": "OAuth " + c.accessToken,
		"file_offset":   "0",
	})
	if err != nil {
		return "", err
	}

	response := &struct {
		Handle string `json:"h"`
	}{}
	if err := c.do(req.WithContext(ctx), response); err != nil {
		return "", err
	}
	return response.Handle, nil
}

//-----------------------------------------------------------------------------
// Templates
//-----------------------------------------------------------------------------

// TemplateResult is the Graph response to template create and update calls.
type TemplateResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Category string `json:"category"`
}

// CreateTemplate submits a new template for review under the WABA.
func (c *Client) CreateTemplate(ctx context.Context, wabaID string, template any) (*TemplateResult, error) {
	result := &TemplateResult{}
	if err := c.request(ctx, "POST", wabaID+"/message_templates", template, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTemplates fetches one page of the WABA's templates into results, which
// receives the raw data array. A non-empty after cursor continues a previous
// page.
func (c *Client) ListTemplates(ctx context.Context, wabaID string, limit int, after string, results any) (next string, err error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if after != "" {
		params.Set("after", after)
	}

	page := &struct {
		Data   json.RawMessage `json:"data"`
		Paging struct {
			Cursors struct {
				After string `json:"after"`
			} `json:"cursors"`
			Next string `json:"next"`
		} `json:"paging"`
	}{}

	path := wabaID + "/message_templates"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	if err := c.request(ctx, "GET", path, nil, page); err != nil {
		return "", err
	}
	if results != nil {
		if err := json.Unmarshal(page.Data, results); err != nil {
			return "", fmt.Errorf("error parsing template listing: %w", err)
		}
	}
	if page.Paging.Next == "" {
		return "", nil
	}
	return page.Paging.Cursors.After, nil
}

// UpdateTemplate edits an existing template's components or category.
func (c *Client) UpdateTemplate(ctx context.Context, templateID string, fields any) error {
	return c.request(ctx, "POST", templateID, fields, nil)
}

// DeleteTemplate deletes a template by name, and optionally by ID to remove
// a single language rather than the whole name group.
func (c *Client) DeleteTemplate(ctx context.Context, wabaID, name, templateID string) error {
	params := url.Values{}
	params.Set("name", name)
	if templateID != "" {
		params.Set("hsm_id", templateID)
	}
	return c.request(ctx, "DELETE", wabaID+"/message_templates?"+params.Encode(), nil, nil)
}

// UnpauseTemplate lifts a quality pause from a template.
func (c *Client) UnpauseTemplate(ctx context.Context, templateID string) error {
	return c.request(ctx, "POST", templateID+"/unpause", nil, nil)
}

// MigrateTemplates copies approved templates from another WABA, keeping
// their approval status.
func (c *Client) MigrateTemplates(ctx context.Context, wabaID, sourceWABAID string, pageNumber int) error {
	params := url.Values{}
	params.Set("source_waba_id", sourceWABAID)
	if pageNumber > 0 {
		params.Set("page_number", strconv.Itoa(pageNumber))
	}
	return c.request(ctx, "POST", wabaID+"/migrate_message_templates?"+params.Encode(), nil, nil)
}

// UpsertAuthTemplates creates or updates authentication templates across
// several languages in one call.
func (c *Client) UpsertAuthTemplates(ctx context.Context, wabaID string, payload any) error {
	return c.request(ctx, "POST", wabaID+"/upsert_message_templates", payload, nil)
}

//-----------------------------------------------------------------------------
// Flows
//-----------------------------------------------------------------------------

// FlowInfo is the metadata of a flow.
type FlowInfo struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Status           string   `json:"status"`
	Categories       []string `json:"categories"`
	JSONVersion      string   `json:"json_version"`
	EndpointURI      string   `json:"endpoint_uri"`
	ValidationErrors []struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"validation_errors"`
}

// CreateFlow creates a draft flow under the WABA.
func (c *Client) CreateFlow(ctx context.Context, wabaID string, payload any) (string, error) {
	response := &struct {
		ID string `json:"id"`
	}{}
	if err := c.request(ctx, "POST", wabaID+"/flows", payload, response); err != nil {
		return "", err
	}
	return response.ID, nil
}

// GetFlow fetches a flow's metadata.
func (c *Client) GetFlow(ctx context.Context, flowID string) (*FlowInfo, error) {
	info := &FlowInfo{}
	path := flowID + "?fields=id,name,status,categories,json_version,endpoint_uri,validation_errors"
	if err := c.request(ctx, "GET", path, nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

// UpdateFlowMetadata updates a flow's name, categories or endpoint URI.
func (c *Client) UpdateFlowMetadata(ctx context.Context, flowID string, fields any) error {
	return c.request(ctx, "POST", flowID, fields, nil)
}

// UpdateFlowJSON replaces the flow's JSON definition.
func (c *Client) UpdateFlowJSON(ctx context.Context, flowID string, flowJSON []byte) error {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	form.WriteField("name", "flow.json")
	form.WriteField("asset_type", "FLOW_JSON")

	part, err := form.CreateFormFile("file", "flow.json")
	if err != nil {
		return err
	}
	part.Write(flowJSON)
	form.Close()

	req, err := httpx.NewRequest("POST", c.url(flowID+"/assets"), body, map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  form.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	return c.do(req.WithContext(ctx), nil)
}

// PublishFlow publishes a draft flow, making it sendable and immutable.
func (c *Client) PublishFlow(ctx context.Context, flowID string) error {
	return c.request(ctx, "POST", flowID+"/publish", nil, nil)
}

// DeleteFlow deletes a flow, which is only possible while it is a draft.
func (c *Client) DeleteFlow(ctx context.Context, flowID string) error {
	return c.request(ctx, "DELETE", flowID, nil, nil)
}

// DeprecateFlow deprecates a published flow.
func (c *Client) DeprecateFlow(ctx context.Context, flowID string) error {
	return c.request(ctx, "POST", flowID+"/deprecate", nil, nil)
}

//-----------------------------------------------------------------------------
// App subscriptions and phone registration
//-----------------------------------------------------------------------------

// SetCallbackURL points the app's webhook subscription for WABA events at
// callbackURL. It authenticates with the app access token
// ("app_id|app_secret"), not the regular bearer token. Registration triggers
// a challenge GET against the URL.
func (c *Client) SetCallbackURL(ctx context.Context, appID, appToken, callbackURL, verifyToken string, fields []string) error {
	payload := map[string]any{
		"object":       "whatsapp_business_account",
		"callback_url": callbackURL,
		"verify_token": verifyToken,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}

	req, err := httpx.NewRequest("POST", c.url(appID+"/subscriptions"), bytes.NewReader(jsonx.MustMarshal(payload)), map[string]string{
		"Authorization": "Bearer " + appToken,
		"Content-Type":  "application/json",
	})
	if err != nil {
		return err
	}
	return c.do(req.WithContext(ctx), nil)
}

// SubscribeApp subscribes the app to the WABA so its webhook events are
// delivered to the app's callback URL.
func (c *Client) SubscribeApp(ctx context.Context, wabaID string) error {
	return c.request(ctx, "POST", wabaID+"/subscribed_apps", nil, nil)
}

// Register registers the phone number for Cloud API use with its two-step
// verification PIN.
func (c *Client) Register(ctx context.Context, phoneID, pin string) error {
	return c.request(ctx, "POST", phoneID+"/register", map[string]string{
		"messaging_product": "whatsapp",
		"pin":               pin,
	}, nil)
}

// Deregister removes the phone number from Cloud API use.
func (c *Client) Deregister(ctx context.Context, phoneID string) error {
	return c.request(ctx, "POST", phoneID+"/deregister", nil, nil)
}

//-----------------------------------------------------------------------------
// Calls
//-----------------------------------------------------------------------------

// CallSession is the SDP exchange payload for call actions.
type CallSession struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

// CallAction performs a call action: pre_accept, accept, reject or
// terminate. Session is required for pre_accept and accept.
func (c *Client) CallAction(ctx context.Context, phoneID, callID, action string, session *CallSession) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"call_id":           callID,
		"action":            action,
	}
	if session != nil {
		payload["session"] = session
	}
	return c.request(ctx, "POST", phoneID+"/calls", payload, nil)
}
