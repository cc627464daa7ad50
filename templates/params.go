package templates

// Send is the template object of an outbound template message: which
// template, in which language, with which parameter values.
type Send struct {
	Name       string          `json:"name" validate:"required"`
	Language   Language        `json:"language"`
	Components []SendComponent `json:"components,omitempty"`
}

type Language struct {
	Code   string `json:"code"`
	Policy string `json:"policy,omitempty"`
}

func NewSend(name, language string, components ...SendComponent) *Send {
	return &Send{Name: name, Language: Language{Code: language}, Components: components}
}

// SendComponent fills one declared component with values.
type SendComponent struct {
	Type       string  `json:"type"`
	SubType    string  `json:"sub_type,omitempty"`
	Index      *int    `json:"index,omitempty"`
	Parameters []Param `json:"parameters"`
}

// HeaderParams fills the header variable or media slot.
func HeaderParams(params ...Param) SendComponent {
	return SendComponent{Type: "header", Parameters: params}
}

// BodyParams fills the body variables, positionally or by name depending on
// how the params were built.
func BodyParams(params ...Param) SendComponent {
	return SendComponent{Type: "body", Parameters: params}
}

// QuickReplyParam attaches callback data to the quick reply button at index.
func QuickReplyParam(index int, callbackData string) SendComponent {
	return SendComponent{
		Type:       "button",
		SubType:    "quick_reply",
		Index:      &index,
		Parameters: []Param{{Type: "payload", Payload: callbackData}},
	}
}

// URLParam fills the variable of the URL button at index.
func URLParam(index int, value string) SendComponent {
	return SendComponent{
		Type:       "button",
		SubType:    "url",
		Index:      &index,
		Parameters: []Param{{Type: "text", Text: value}},
	}
}

// CopyCodeParam fills the code of the copy code button at index.
func CopyCodeParam(index int, code string) SendComponent {
	return SendComponent{
		Type:       "button",
		SubType:    "copy_code",
		Index:      &index,
		Parameters: []Param{{Type: "coupon_code", CouponCode: code}},
	}
}

// OTPParam fills the one-time password of an authentication template, which
// rides on the url button at index 0.
func OTPParam(code string) []SendComponent {
	return []SendComponent{
		BodyParams(Text(code)),
		URLParam(0, code),
	}
}

// FlowParam attaches a flow token and optional initial screen data to the
// flow button at index.
func FlowParam(index int, flowToken string, actionData map[string]any) SendComponent {
	return SendComponent{
		Type:    "button",
		SubType: "flow",
		Index:   &index,
		Parameters: []Param{{
			Type:   "action",
			Action: &FlowAction{FlowToken: flowToken, FlowActionData: actionData},
		}},
	}
}

// Param is a single value for a template variable.
type Param struct {
	Type          string `json:"type"`
	ParameterName string `json:"parameter_name,omitempty"`

	Text       string         `json:"text,omitempty"`
	Payload    string         `json:"payload,omitempty"`
	CouponCode string         `json:"coupon_code,omitempty"`
	Currency   *CurrencyValue `json:"currency,omitempty"`
	DateTime   *DateTimeValue `json:"date_time,omitempty"`
	Image      *MediaValue    `json:"image,omitempty"`
	Video      *MediaValue    `json:"video,omitempty"`
	Document   *MediaValue    `json:"document,omitempty"`
	Location   *LocationValue `json:"location,omitempty"`
	Action     *FlowAction    `json:"action,omitempty"`
}

type CurrencyValue struct {
	FallbackValue string `json:"fallback_value"`
	Code          string `json:"code"`
	Amount1000    int64  `json:"amount_1000"`
}

type DateTimeValue struct {
	FallbackValue string `json:"fallback_value"`
}

type MediaValue struct {
	ID   string `json:"id,omitempty"`
	Link string `json:"link,omitempty"`
}

type LocationValue struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type FlowAction struct {
	FlowToken      string         `json:"flow_token,omitempty"`
	FlowActionData map[string]any `json:"flow_action_data,omitempty"`
}

// Text is a positional text value.
func Text(value string) Param {
	return Param{Type: "text", Text: value}
}

// NamedText is a text value for the named variable.
func NamedText(name, value string) Param {
	return Param{Type: "text", ParameterName: name, Text: value}
}

// Currency is a localized currency value.
func Currency(fallback, code string, amount1000 int64) Param {
	return Param{Type: "currency", Currency: &CurrencyValue{FallbackValue: fallback, Code: code, Amount1000: amount1000}}
}

// DateTime is a date value, rendered from its fallback text only.
func DateTime(fallback string) Param {
	return Param{Type: "date_time", DateTime: &DateTimeValue{FallbackValue: fallback}}
}

// ImageID fills an image header from an uploaded media ID.
func ImageID(mediaID string) Param {
	return Param{Type: "image", Image: &MediaValue{ID: mediaID}}
}

// ImageLink fills an image header from a public URL.
func ImageLink(link string) Param {
	return Param{Type: "image", Image: &MediaValue{Link: link}}
}

// VideoID fills a video header from an uploaded media ID.
func VideoID(mediaID string) Param {
	return Param{Type: "video", Video: &MediaValue{ID: mediaID}}
}

// DocumentID fills a document header from an uploaded media ID.
func DocumentID(mediaID string) Param {
	return Param{Type: "document", Document: &MediaValue{ID: mediaID}}
}

// Location fills a location header.
func Location(latitude, longitude float64, name, address string) Param {
	return Param{Type: "location", Location: &LocationValue{Latitude: latitude, Longitude: longitude, Name: name, Address: address}}
}
