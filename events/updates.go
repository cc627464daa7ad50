package events

import (
	"time"
)

// Kind identifies the variant of a decoded update.
type Kind string

const (
	KindMessage            Kind = "message"
	KindCallbackButton     Kind = "callback_button"
	KindCallbackSelection  Kind = "callback_selection"
	KindFlowCompletion     Kind = "flow_completion"
	KindMessageStatus      Kind = "message_status"
	KindChatOpened         Kind = "chat_opened"
	KindPhoneNumberChange  Kind = "phone_number_change"
	KindIdentityChange     Kind = "identity_change"
	KindTemplateStatus     Kind = "template_status"
	KindTemplateQuality    Kind = "template_quality"
	KindTemplateCategory   Kind = "template_category"
	KindTemplateComponents Kind = "template_components"
	KindCallEvent          Kind = "call_event"
	KindUserPreferences    Kind = "user_preferences"
)

// Field returns the webhook change field that updates of this kind arrive on.
func (k Kind) Field() string {
	switch k {
	case KindTemplateStatus:
		return "message_template_status_update"
	case KindTemplateQuality:
		return "message_template_quality_update"
	case KindTemplateCategory:
		return "message_template_category_update"
	case KindTemplateComponents:
		return "message_template_components_update"
	case KindCallEvent:
		return "calls"
	case KindUserPreferences:
		return "user_preferences"
	default:
		return "messages"
	}
}

// Update is a single decoded webhook update.
type Update interface {
	UpdateKind() Kind
}

// UserScoped is implemented by updates belonging to a conversation between an
// end user and one of the business's phone numbers. The listener coordinator
// keys its rendezvous on this pair.
type UserScoped interface {
	Update
	UserWaID() string
	BusinessPhoneID() string
}

// TemplateScoped is implemented by updates about a specific message template.
type TemplateScoped interface {
	Update
	TemplateID() int64
}

// User is the end user on the other side of a conversation.
type User struct {
	WaID string
	Name string
}

// Metadata identifies the business phone number an update arrived on.
type Metadata struct {
	DisplayPhoneNumber string
	PhoneNumberID      string
}

// Context is present when a message replies to or interacts with an earlier
// message.
type Context struct {
	MessageID                 string
	From                      string
	Forwarded                 bool
	FrequentlyForwarded       bool
	ReferredProductCatalogID  string
	ReferredProductRetailerID string
}

// Error is a provider error attached to an update.
type Error struct {
	Code    int
	Title   string
	Message string
	Details string
}

// MessageType is the inbound message payload variant.
type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypeImage          MessageType = "image"
	MessageTypeVideo          MessageType = "video"
	MessageTypeSticker        MessageType = "sticker"
	MessageTypeDocument       MessageType = "document"
	MessageTypeAudio          MessageType = "audio"
	MessageTypeVoice          MessageType = "voice"
	MessageTypeReaction       MessageType = "reaction"
	MessageTypeLocation       MessageType = "location"
	MessageTypeContacts       MessageType = "contacts"
	MessageTypeOrder          MessageType = "order"
	MessageTypeUnsupported    MessageType = "unsupported"
)

// mediaTypes are the message types whose payload is downloadable media.
var mediaTypes = map[MessageType]bool{
	MessageTypeImage:    true,
	MessageTypeVideo:    true,
	MessageTypeSticker:  true,
	MessageTypeDocument: true,
	MessageTypeAudio:    true,
	MessageTypeVoice:    true,
}

// Media is an inbound media payload. The ID must be resolved to a signed URL
// and downloaded with a bearer token within 5 minutes of resolving.
type Media struct {
	ID       string
	MimeType string
	SHA256   string
	Caption  string
	Filename string
	Voice    bool
	Animated bool
}

// Location is an inbound location payload.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Reaction is an inbound reaction payload. An empty emoji removes a previous
// reaction.
type Reaction struct {
	MessageID string
	Emoji     string
}

// SharedContact is one entry of an inbound contacts payload.
type SharedContact struct {
	FormattedName string
	FirstName     string
	LastName      string
	Company       string
	Phones        []ContactPhone
	Emails        []ContactEmail
}

type ContactPhone struct {
	Phone string
	Type  string
	WaID  string
}

type ContactEmail struct {
	Email string
	Type  string
}

// Order is an inbound order payload from a catalog.
type Order struct {
	CatalogID string
	Text      string
	Products  []OrderProduct
}

type OrderProduct struct {
	RetailerID string
	Quantity   int
	ItemPrice  string
	Currency   string
}

// Message is an inbound user message of any non-interactive type.
type Message struct {
	ID        string
	From      User
	Metadata  Metadata
	Timestamp time.Time
	Type      MessageType
	Context   *Context

	// exactly one of the payload fields below is set, according to Type
	Text     string
	Media    *Media
	Location *Location
	Contacts []SharedContact
	Reaction *Reaction
	Order    *Order

	Errors []Error
}

func (m *Message) UpdateKind() Kind        { return KindMessage }
func (m *Message) UserWaID() string        { return m.From.WaID }
func (m *Message) BusinessPhoneID() string { return m.Metadata.PhoneNumberID }

// HasMedia reports whether the message carries downloadable media. It is
// equivalent to Media being non-nil.
func (m *Message) HasMedia() bool { return mediaTypes[m.Type] }

// CallbackButton is a press of a reply button, either on an interactive
// message (interactive.button_reply) or on a template quick-reply (button).
type CallbackButton struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time
	Context   *Context

	// Data is the button's callback data, set by the sender of the button
	Data  string
	Title string
}

func (c *CallbackButton) UpdateKind() Kind        { return KindCallbackButton }
func (c *CallbackButton) UserWaID() string        { return c.From.WaID }
func (c *CallbackButton) BusinessPhoneID() string { return c.Metadata.PhoneNumberID }

// CallbackSelection is a selection of a section list row
// (interactive.list_reply).
type CallbackSelection struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time
	Context   *Context

	Data        string
	Title       string
	Description string
}

func (c *CallbackSelection) UpdateKind() Kind        { return KindCallbackSelection }
func (c *CallbackSelection) UserWaID() string        { return c.From.WaID }
func (c *CallbackSelection) BusinessPhoneID() string { return c.Metadata.PhoneNumberID }

// FlowCompletion is a completed flow (interactive.nfm_reply). Token is
// occasionally absent on iOS clients.
type FlowCompletion struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time
	Context   *Context

	Name     string
	Body     string
	Token    string
	Response map[string]any
}

func (f *FlowCompletion) UpdateKind() Kind        { return KindFlowCompletion }
func (f *FlowCompletion) UserWaID() string        { return f.From.WaID }
func (f *FlowCompletion) BusinessPhoneID() string { return f.Metadata.PhoneNumberID }

// StatusType is the delivery state reported by a message status update.
type StatusType string

const (
	StatusSent      StatusType = "sent"
	StatusDelivered StatusType = "delivered"
	StatusRead      StatusType = "read"
	StatusFailed    StatusType = "failed"
	StatusDeleted   StatusType = "deleted"
)

// Conversation describes the billing conversation a status belongs to.
type Conversation struct {
	ID         string
	OriginType string
	Expiration time.Time
}

// Pricing is the billing information attached to some statuses.
type Pricing struct {
	Model    string
	Billable bool
	Category string
}

// MessageStatus reports the delivery state of a message the business sent.
type MessageStatus struct {
	MessageID string
	Recipient User
	Metadata  Metadata
	Timestamp time.Time
	Status    StatusType

	Conversation *Conversation
	Pricing      *Pricing

	// Tracker is the biz_opaque_callback_data attached to the send, if any
	Tracker string

	Errors []Error
}

func (s *MessageStatus) UpdateKind() Kind        { return KindMessageStatus }
func (s *MessageStatus) UserWaID() string        { return s.Recipient.WaID }
func (s *MessageStatus) BusinessPhoneID() string { return s.Metadata.PhoneNumberID }

// ChatOpened is sent when a user opens a chat with the business for the first
// time (type request_welcome).
type ChatOpened struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time
}

func (c *ChatOpened) UpdateKind() Kind        { return KindChatOpened }
func (c *ChatOpened) UserWaID() string        { return c.From.WaID }
func (c *ChatOpened) BusinessPhoneID() string { return c.Metadata.PhoneNumberID }

// PhoneNumberChange is a system message reporting the user changed their
// phone number.
type PhoneNumberChange struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time

	Body    string
	OldWaID string
	NewWaID string
}

func (p *PhoneNumberChange) UpdateKind() Kind        { return KindPhoneNumberChange }
func (p *PhoneNumberChange) UserWaID() string        { return p.From.WaID }
func (p *PhoneNumberChange) BusinessPhoneID() string { return p.Metadata.PhoneNumberID }

// IdentityChange is a system message reporting the user changed their profile
// identity.
type IdentityChange struct {
	MessageID string
	From      User
	Metadata  Metadata
	Timestamp time.Time

	Body         string
	Hash         string
	Acknowledged bool
	CreatedAt    time.Time
}

func (i *IdentityChange) UpdateKind() Kind        { return KindIdentityChange }
func (i *IdentityChange) UserWaID() string        { return i.From.WaID }
func (i *IdentityChange) BusinessPhoneID() string { return i.Metadata.PhoneNumberID }

// TemplateEvent is the shared part of template lifecycle updates.
type TemplateEvent struct {
	WABAID   string
	ID       int64
	Name     string
	Language string
}

func (t *TemplateEvent) TemplateID() int64 { return t.ID }

// TemplateStatusUpdate reports an approval state change of a template.
type TemplateStatusUpdate struct {
	TemplateEvent

	Event       string
	Reason      string
	DisableDate string
}

func (t *TemplateStatusUpdate) UpdateKind() Kind { return KindTemplateStatus }

// TemplateQualityUpdate reports a quality score change of a template.
type TemplateQualityUpdate struct {
	TemplateEvent

	NewQuality      string
	PreviousQuality string
}

func (t *TemplateQualityUpdate) UpdateKind() Kind { return KindTemplateQuality }

// TemplateCategoryUpdate reports a category change of a template.
type TemplateCategoryUpdate struct {
	TemplateEvent

	NewCategory      string
	PreviousCategory string
	CorrectCategory  string
}

func (t *TemplateCategoryUpdate) UpdateKind() Kind { return KindTemplateCategory }

// TemplateComponentsUpdate reports a components change of a template.
type TemplateComponentsUpdate struct {
	TemplateEvent

	Element string
	Title   string
	Footer  string
}

func (t *TemplateComponentsUpdate) UpdateKind() Kind { return KindTemplateComponents }

// CallEvent reports the state of a business call.
type CallEvent struct {
	CallID    string
	From      User
	Metadata  Metadata
	Timestamp time.Time

	Event     string
	Direction string
	Status    string
	SDPType   string
	SDP       string
}

func (c *CallEvent) UpdateKind() Kind        { return KindCallEvent }
func (c *CallEvent) UserWaID() string        { return c.From.WaID }
func (c *CallEvent) BusinessPhoneID() string { return c.Metadata.PhoneNumberID }

// UserPreferences reports a user opting in or out of marketing messages.
type UserPreferences struct {
	WaID      string
	Metadata  Metadata
	Timestamp time.Time

	Detail   string
	Category string
	Value    string
}

func (u *UserPreferences) UpdateKind() Kind        { return KindUserPreferences }
func (u *UserPreferences) UserWaID() string        { return u.WaID }
func (u *UserPreferences) BusinessPhoneID() string { return u.Metadata.PhoneNumberID }
