package wacloud

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/tulua/wacloud/templates"
	"github.com/tulua/wacloud/tracker"
	"github.com/tulua/wacloud/utils"
)

// SendOptions are the cross-cutting options of a send: quoting an earlier
// message, attaching callback data and routing.
type SendOptions struct {
	// ReplyTo quotes the message with this ID
	ReplyTo string

	// Trackers are encoded into biz_opaque_callback_data and echoed back
	// on the message's status updates
	Trackers []tracker.Data

	// PreviewURL renders a preview for the first URL in a text body
	PreviewURL bool

	// Marketing routes the send through the Marketing Messages Lite
	// endpoint
	Marketing bool
}

// messagePayload is the wire shape of an outbound message.
type messagePayload struct {
	MessagingProduct      string        `json:"messaging_product"`
	RecipientType         string        `json:"recipient_type,omitempty"`
	To                    string        `json:"to"`
	Type                  string        `json:"type"`
	Context               *replyContext `json:"context,omitempty"`
	BizOpaqueCallbackData string        `json:"biz_opaque_callback_data,omitempty"`

	Text        *textPayload        `json:"text,omitempty"`
	Image       *mediaRef           `json:"image,omitempty"`
	Video       *mediaRef           `json:"video,omitempty"`
	Audio       *mediaRef           `json:"audio,omitempty"`
	Document    *mediaRef           `json:"document,omitempty"`
	Sticker     *mediaRef           `json:"sticker,omitempty"`
	Location    *locationPayload    `json:"location,omitempty"`
	Contacts    []ContactCard       `json:"contacts,omitempty"`
	Reaction    *reactionPayload    `json:"reaction,omitempty"`
	Interactive *interactivePayload `json:"interactive,omitempty"`
	Template    *templates.Send     `json:"template,omitempty"`
}

type replyContext struct {
	MessageID string `json:"message_id"`
}

type textPayload struct {
	Body       string `json:"body" validate:"required,max=4096"`
	PreviewURL bool   `json:"preview_url"`
}

type locationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type reactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type interactivePayload struct {
	Type   string             `json:"type"`
	Header *interactiveHeader `json:"header,omitempty"`
	Body   *interactiveText   `json:"body,omitempty"`
	Footer *interactiveText   `json:"footer,omitempty"`
	Action *interactiveAction `json:"action"`
}

type interactiveHeader struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Image    *mediaRef `json:"image,omitempty"`
	Video    *mediaRef `json:"video,omitempty"`
	Document *mediaRef `json:"document,omitempty"`
}

type interactiveText struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Buttons           []wireReplyButton `json:"buttons,omitempty"`
	Button            string            `json:"button,omitempty"`
	Sections          []wireSection     `json:"sections,omitempty"`
	CatalogID         string            `json:"catalog_id,omitempty"`
	ProductRetailerID string            `json:"product_retailer_id,omitempty"`
	Name              string            `json:"name,omitempty"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
}

type wireReplyButton struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type wireSection struct {
	Title        string            `json:"title,omitempty"`
	Rows         []wireSectionRow  `json:"rows,omitempty"`
	ProductItems []wireProductItem `json:"product_items,omitempty"`
}

type wireSectionRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type wireProductItem struct {
	ProductRetailerID string `json:"product_retailer_id"`
}

func newPayload(to, msgType string) *messagePayload {
	return &messagePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             msgType,
	}
}

// send applies options, validates and posts the payload, routing through the
// marketing endpoint when asked.
func (c *Client) send(ctx context.Context, payload *messagePayload, opts *SendOptions) (*SentMessage, error) {
	if opts != nil {
		if opts.ReplyTo != "" {
			payload.Context = &replyContext{MessageID: opts.ReplyTo}
		}
		if len(opts.Trackers) > 0 {
			encoded, err := tracker.Encode(opts.Trackers...)
			if err != nil {
				return nil, err
			}
			payload.BizOpaqueCallbackData = encoded
		}
	}

	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	sendFn := c.graph.SendMessage
	if opts != nil && opts.Marketing {
		sendFn = c.graph.SendMarketingMessage
	}

	resp, err := sendFn(ctx, c.cfg.PhoneID, payload)
	if err != nil {
		return nil, err
	}

	return c.newSentMessage(resp.ID(), payload.To), nil
}

// SendText sends a plain text message. Control characters are stripped from
// the body before sending.
func (c *Client) SendText(ctx context.Context, to, text string, opts *SendOptions) (*SentMessage, error) {
	payload := newPayload(to, "text")
	payload.Text = &textPayload{Body: utils.CleanString(text)}
	if opts != nil {
		payload.Text.PreviewURL = opts.PreviewURL
	}
	return c.send(ctx, payload, opts)
}

// SendImage sends an image with an optional caption.
func (c *Client) SendImage(ctx context.Context, to string, media *Media, caption string, opts *SendOptions) (*SentMessage, error) {
	ref, err := c.resolveMedia(ctx, media)
	if err != nil {
		return nil, err
	}
	ref.Caption = caption
	ref.Filename = ""

	payload := newPayload(to, "image")
	payload.Image = ref
	return c.send(ctx, payload, opts)
}

// SendVideo sends a video with an optional caption.
func (c *Client) SendVideo(ctx context.Context, to string, media *Media, caption string, opts *SendOptions) (*SentMessage, error) {
	ref, err := c.resolveMedia(ctx, media)
	if err != nil {
		return nil, err
	}
	ref.Caption = caption
	ref.Filename = ""

	payload := newPayload(to, "video")
	payload.Video = ref
	return c.send(ctx, payload, opts)
}

// SendAudio sends an audio message. Audio takes no caption.
func (c *Client) SendAudio(ctx context.Context, to string, media *Media, opts *SendOptions) (*SentMessage, error) {
	ref, err := c.resolveMedia(ctx, media)
	if err != nil {
		return nil, err
	}
	ref.Filename = ""

	payload := newPayload(to, "audio")
	payload.Audio = ref
	return c.send(ctx, payload, opts)
}

// SendDocument sends a document, shown with its filename.
func (c *Client) SendDocument(ctx context.Context, to string, media *Media, caption string, opts *SendOptions) (*SentMessage, error) {
	ref, err := c.resolveMedia(ctx, media)
	if err != nil {
		return nil, err
	}
	ref.Caption = caption

	payload := newPayload(to, "document")
	payload.Document = ref
	return c.send(ctx, payload, opts)
}

// SendSticker sends a webp sticker. Stickers take no caption.
func (c *Client) SendSticker(ctx context.Context, to string, media *Media, opts *SendOptions) (*SentMessage, error) {
	ref, err := c.resolveMedia(ctx, media)
	if err != nil {
		return nil, err
	}
	ref.Filename = ""

	payload := newPayload(to, "sticker")
	payload.Sticker = ref
	return c.send(ctx, payload, opts)
}

// SendLocation sends a location pin.
func (c *Client) SendLocation(ctx context.Context, to string, latitude, longitude float64, name, address string, opts *SendOptions) (*SentMessage, error) {
	payload := newPayload(to, "location")
	payload.Location = &locationPayload{Latitude: latitude, Longitude: longitude, Name: name, Address: address}
	return c.send(ctx, payload, opts)
}

// ContactCard is an outbound shared contact.
type ContactCard struct {
	Name struct {
		FormattedName string `json:"formatted_name" validate:"required"`
		FirstName     string `json:"first_name,omitempty"`
		LastName      string `json:"last_name,omitempty"`
	} `json:"name"`
	Phones []ContactCardPhone `json:"phones,omitempty"`
	Emails []ContactCardEmail `json:"emails,omitempty"`
	Org    *ContactCardOrg    `json:"org,omitempty"`
}

type ContactCardPhone struct {
	Phone string `json:"phone"`
	Type  string `json:"type,omitempty"`
	WaID  string `json:"wa_id,omitempty"`
}

type ContactCardEmail struct {
	Email string `json:"email"`
	Type  string `json:"type,omitempty"`
}

type ContactCardOrg struct {
	Company string `json:"company,omitempty"`
}

// SendContacts sends one or more contact cards.
func (c *Client) SendContacts(ctx context.Context, to string, contacts []ContactCard, opts *SendOptions) (*SentMessage, error) {
	payload := newPayload(to, "contacts")
	payload.Contacts = contacts
	return c.send(ctx, payload, opts)
}

// SendReaction reacts to a message with an emoji. An empty emoji removes a
// previous reaction.
func (c *Client) SendReaction(ctx context.Context, to, messageID, emoji string) (*SentMessage, error) {
	payload := newPayload(to, "reaction")
	payload.Reaction = &reactionPayload{MessageID: messageID, Emoji: emoji}
	return c.send(ctx, payload, nil)
}

// ReplyButton is one button of a buttons message. Data is the callback data
// echoed back when the button is pressed.
type ReplyButton struct {
	Title string `validate:"required,max=20"`
	Data  string `validate:"required,max=256"`
}

// Buttons is an interactive message with up to three reply buttons.
type Buttons struct {
	Header      string        `validate:"max=60"`
	HeaderMedia *Media        `validate:"-"`
	Body        string        `validate:"required,max=1024"`
	Footer      string        `validate:"max=60"`
	Buttons     []ReplyButton `validate:"required,min=1,max=3,dive"`
}

// SendButtons sends a reply buttons message.
func (c *Client) SendButtons(ctx context.Context, to string, msg *Buttons, opts *SendOptions) (*SentMessage, error) {
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid buttons message: %w", err)
	}

	action := &interactiveAction{}
	for _, b := range msg.Buttons {
		wire := wireReplyButton{Type: "reply"}
		wire.Reply.ID = b.Data
		wire.Reply.Title = b.Title
		action.Buttons = append(action.Buttons, wire)
	}

	interactive := &interactivePayload{
		Type:   "button",
		Body:   &interactiveText{Text: msg.Body},
		Action: action,
	}
	header, err := c.buildHeader(ctx, msg.Header, msg.HeaderMedia)
	if err != nil {
		return nil, err
	}
	interactive.Header = header
	if msg.Footer != "" {
		interactive.Footer = &interactiveText{Text: msg.Footer}
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = interactive
	return c.send(ctx, payload, opts)
}

// SectionRow is one selectable row of a list message.
type SectionRow struct {
	Data        string `validate:"required,max=200"`
	Title       string `validate:"required,max=24"`
	Description string `validate:"max=72"`
}

// Section is one section of a list message.
type Section struct {
	Title string       `validate:"max=24"`
	Rows  []SectionRow `validate:"required,min=1,dive"`
}

// List is an interactive message opening a section list.
type List struct {
	Header     string    `validate:"max=60"`
	Body       string    `validate:"required,max=4096"`
	Footer     string    `validate:"max=60"`
	ButtonText string    `validate:"required,max=20"`
	Sections   []Section `validate:"required,min=1,max=10,dive"`
}

// SendList sends a section list message. At most ten rows are allowed across
// all sections.
func (c *Client) SendList(ctx context.Context, to string, msg *List, opts *SendOptions) (*SentMessage, error) {
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid list message: %w", err)
	}

	rows := 0
	action := &interactiveAction{Button: msg.ButtonText}
	for _, s := range msg.Sections {
		wire := wireSection{Title: s.Title}
		for _, r := range s.Rows {
			wire.Rows = append(wire.Rows, wireSectionRow{ID: r.Data, Title: r.Title, Description: r.Description})
		}
		rows += len(s.Rows)
		action.Sections = append(action.Sections, wire)
	}
	if rows > 10 {
		return nil, fmt.Errorf("invalid list message: %d rows across sections, max is 10", rows)
	}

	interactive := &interactivePayload{
		Type:   "list",
		Body:   &interactiveText{Text: msg.Body},
		Action: action,
	}
	if msg.Header != "" {
		interactive.Header = &interactiveHeader{Type: "text", Text: msg.Header}
	}
	if msg.Footer != "" {
		interactive.Footer = &interactiveText{Text: msg.Footer}
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = interactive
	return c.send(ctx, payload, opts)
}

// RequestLocation asks the user to share their location with a dedicated
// button.
func (c *Client) RequestLocation(ctx context.Context, to, body string, opts *SendOptions) (*SentMessage, error) {
	payload := newPayload(to, "interactive")
	payload.Interactive = &interactivePayload{
		Type:   "location_request_message",
		Body:   &interactiveText{Text: body},
		Action: &interactiveAction{Name: "send_location"},
	}
	return c.send(ctx, payload, opts)
}

// Flow is an interactive message opening a flow.
type Flow struct {
	Header     string `validate:"max=60"`
	Body       string `validate:"required,max=1024"`
	Footer     string `validate:"max=60"`
	ButtonText string `validate:"required,max=20"`

	FlowID   string `validate:"required"`
	Token    string
	Draft    bool
	Screen   string
	Data     map[string]any
}

// SendFlow sends a message opening a flow. Token identifies the session in
// flow endpoint requests and the eventual completion update.
func (c *Client) SendFlow(ctx context.Context, to string, msg *Flow, opts *SendOptions) (*SentMessage, error) {
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("invalid flow message: %w", err)
	}

	parameters := map[string]any{
		"flow_message_version": "3",
		"flow_id":              msg.FlowID,
		"flow_cta":             msg.ButtonText,
	}
	if msg.Token != "" {
		parameters["flow_token"] = msg.Token
	}
	if msg.Draft {
		parameters["mode"] = "draft"
	}
	if msg.Screen != "" {
		parameters["flow_action"] = "navigate"
		payload := map[string]any{"screen": msg.Screen}
		if msg.Data != nil {
			payload["data"] = msg.Data
		}
		parameters["flow_action_payload"] = payload
	}

	interactive := &interactivePayload{
		Type:   "flow",
		Body:   &interactiveText{Text: msg.Body},
		Action: &interactiveAction{Name: "flow", Parameters: parameters},
	}
	if msg.Header != "" {
		interactive.Header = &interactiveHeader{Type: "text", Text: msg.Header}
	}
	if msg.Footer != "" {
		interactive.Footer = &interactiveText{Text: msg.Footer}
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = interactive
	return c.send(ctx, payload, opts)
}

// SendCatalog sends a message opening the business's whole catalog.
func (c *Client) SendCatalog(ctx context.Context, to, body, thumbnailRetailerID string, opts *SendOptions) (*SentMessage, error) {
	action := &interactiveAction{Name: "catalog_message"}
	if thumbnailRetailerID != "" {
		action.Parameters = map[string]any{"thumbnail_product_retailer_id": thumbnailRetailerID}
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = &interactivePayload{
		Type:   "catalog_message",
		Body:   &interactiveText{Text: body},
		Action: action,
	}
	return c.send(ctx, payload, opts)
}

// SendProduct sends a single product message from a catalog.
func (c *Client) SendProduct(ctx context.Context, to, catalogID, retailerID, body string, opts *SendOptions) (*SentMessage, error) {
	interactive := &interactivePayload{
		Type:   "product",
		Action: &interactiveAction{CatalogID: catalogID, ProductRetailerID: retailerID},
	}
	if body != "" {
		interactive.Body = &interactiveText{Text: body}
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = interactive
	return c.send(ctx, payload, opts)
}

// ProductSection is one section of a multi product message.
type ProductSection struct {
	Title       string   `validate:"max=24"`
	RetailerIDs []string `validate:"required,min=1"`
}

// SendProducts sends a multi product message listing up to 30 catalog items.
func (c *Client) SendProducts(ctx context.Context, to, catalogID, header, body string, sections []ProductSection, opts *SendOptions) (*SentMessage, error) {
	action := &interactiveAction{CatalogID: catalogID}
	for _, s := range sections {
		wire := wireSection{Title: s.Title}
		for _, id := range s.RetailerIDs {
			wire.ProductItems = append(wire.ProductItems, wireProductItem{ProductRetailerID: id})
		}
		action.Sections = append(action.Sections, wire)
	}

	payload := newPayload(to, "interactive")
	payload.Interactive = &interactivePayload{
		Type:   "product_list",
		Header: &interactiveHeader{Type: "text", Text: header},
		Body:   &interactiveText{Text: body},
		Action: action,
	}
	return c.send(ctx, payload, opts)
}

// SendCallPermissionRequest asks the user to allow the business to call
// them.
func (c *Client) SendCallPermissionRequest(ctx context.Context, to, body string, opts *SendOptions) (*SentMessage, error) {
	payload := newPayload(to, "interactive")
	payload.Interactive = &interactivePayload{
		Type:   "call_permission_request",
		Body:   &interactiveText{Text: body},
		Action: &interactiveAction{Name: "call_permission_request"},
	}
	return c.send(ctx, payload, opts)
}

// SendTemplate sends a template message built with the templates package.
func (c *Client) SendTemplate(ctx context.Context, to string, template *templates.Send, opts *SendOptions) (*SentMessage, error) {
	if err := validate.Struct(template); err != nil {
		return nil, fmt.Errorf("invalid template message: %w", err)
	}

	payload := newPayload(to, "template")
	payload.Template = template
	return c.send(ctx, payload, opts)
}

// buildHeader builds an interactive header from text or media, whichever is
// given.
func (c *Client) buildHeader(ctx context.Context, text string, media *Media) (*interactiveHeader, error) {
	if media != nil {
		ref, err := c.resolveMedia(ctx, media)
		if err != nil {
			return nil, err
		}
		switch headerMediaType(media, ref) {
		case "video":
			ref.Filename = ""
			return &interactiveHeader{Type: "video", Video: ref}, nil
		case "document":
			return &interactiveHeader{Type: "document", Document: ref}, nil
		default:
			ref.Filename = ""
			return &interactiveHeader{Type: "image", Image: ref}, nil
		}
	}
	if text != "" {
		return &interactiveHeader{Type: "text", Text: text}, nil
	}
	return nil, nil
}

// headerMediaType classifies header media as image, video or document, from
// the declared MIME type or failing that the filename extension.
func headerMediaType(media *Media, ref *mediaRef) string {
	mimeType := media.MimeType
	if mimeType == "" {
		for _, name := range []string{media.Filename, ref.Filename, media.Path} {
			ext := strings.TrimPrefix(filepath.Ext(name), ".")
			if ext == "" {
				continue
			}
			if kind := filetype.GetType(ext); kind != filetype.Unknown {
				mimeType = kind.MIME.Value
				break
			}
		}
	}

	switch {
	case mimeType == "" || strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "document"
	}
}
