package templates

// Category is a template's messaging category, which drives pricing and
// review criteria.
type Category string

const (
	CategoryMarketing      Category = "MARKETING"
	CategoryUtility        Category = "UTILITY"
	CategoryAuthentication Category = "AUTHENTICATION"
)

// Status is a template's review state.
type Status string

const (
	StatusApproved        Status = "APPROVED"
	StatusPending         Status = "PENDING"
	StatusRejected        Status = "REJECTED"
	StatusInAppeal        Status = "IN_APPEAL"
	StatusPaused          Status = "PAUSED"
	StatusDisabled        Status = "DISABLED"
	StatusPendingDeletion Status = "PENDING_DELETION"
	StatusDeleted         Status = "DELETED"
	StatusReinstated      Status = "REINSTATED"
	StatusFlagged         Status = "FLAGGED"
	StatusLimitExceeded   Status = "LIMIT_EXCEEDED"
	StatusLocked          Status = "LOCKED"
)

// Quality is a template's delivery quality score.
type Quality string

const (
	QualityGreen   Quality = "GREEN"
	QualityYellow  Quality = "YELLOW"
	QualityRed     Quality = "RED"
	QualityUnknown Quality = "UNKNOWN"
)

// Template is a declaration submitted for review. Build it with NewTemplate
// and the component helpers, then pass it to the graph client.
type Template struct {
	Name       string      `json:"name" validate:"required,max=512"`
	Language   string      `json:"language" validate:"required"`
	Category   Category    `json:"category" validate:"required"`
	Components []Component `json:"components" validate:"required,dive"`

	// library templates are created by name reference instead of components
	LibraryTemplateName string `json:"library_template_name,omitempty"`
}

func NewTemplate(name, language string, category Category, components ...Component) *Template {
	return &Template{Name: name, Language: language, Category: category, Components: components}
}

// Component is one block of a template declaration.
type Component struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`

	Example *Example `json:"example,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`

	// authentication template knobs
	AddSecurityRecommendation bool `json:"add_security_recommendation,omitempty"`
	CodeExpirationMinutes     int  `json:"code_expiration_minutes,omitempty"`
}

// Example carries the sample values reviewers see for variables and media.
type Example struct {
	HeaderText   []string   `json:"header_text,omitempty"`
	BodyText     [][]string `json:"body_text,omitempty"`
	HeaderHandle []string   `json:"header_handle,omitempty"`
}

// TextHeader declares a text header, optionally with one variable whose
// sample value is given in example.
func TextHeader(text string, example ...string) Component {
	c := Component{Type: "HEADER", Format: "TEXT", Text: text}
	if len(example) > 0 {
		c.Example = &Example{HeaderText: example}
	}
	return c
}

// MediaHeader declares an image, video or document header. The handle comes
// from a resumable upload of the example file.
func MediaHeader(format, handle string) Component {
	return Component{Type: "HEADER", Format: format, Example: &Example{HeaderHandle: []string{handle}}}
}

// LocationHeader declares a location header.
func LocationHeader() Component {
	return Component{Type: "HEADER", Format: "LOCATION"}
}

// Body declares the body text. Sample values for its variables go in
// example, one per variable in order.
func Body(text string, example ...string) Component {
	c := Component{Type: "BODY", Text: text}
	if len(example) > 0 {
		c.Example = &Example{BodyText: [][]string{example}}
	}
	return c
}

// AuthBody declares the body of an authentication template, which has fixed
// provider text.
func AuthBody(securityRecommendation bool) Component {
	return Component{Type: "BODY", AddSecurityRecommendation: securityRecommendation}
}

// Footer declares the footer text.
func Footer(text string) Component {
	return Component{Type: "FOOTER", Text: text}
}

// AuthFooter declares an authentication footer showing the code expiration.
func AuthFooter(expirationMinutes int) Component {
	return Component{Type: "FOOTER", CodeExpirationMinutes: expirationMinutes}
}

// Buttons declares the button block.
func Buttons(buttons ...Button) Component {
	return Component{Type: "BUTTONS", Buttons: buttons}
}

// Button is one button of a template declaration.
type Button struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	URL         string   `json:"url,omitempty"`
	Example     []string `json:"example,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	FlowID      string   `json:"flow_id,omitempty"`

	// one-time password buttons
	OTPType              string   `json:"otp_type,omitempty"`
	AutofillText         string   `json:"autofill_text,omitempty"`
	PackageName          string   `json:"package_name,omitempty"`
	SignatureHash        string   `json:"signature_hash,omitempty"`
	ZeroTapTermsAccepted bool     `json:"zero_tap_terms_accepted,omitempty"`
	SupportedApps        []SignedApp `json:"supported_apps,omitempty"`
}

// SignedApp identifies an Android app allowed to receive one-tap and
// zero-tap codes.
type SignedApp struct {
	PackageName   string `json:"package_name"`
	SignatureHash string `json:"signature_hash"`
}

// QuickReplyButton declares a quick reply button. The pressed button arrives
// as a callback with the declared callback data.
func QuickReplyButton(text string) Button {
	return Button{Type: "QUICK_REPLY", Text: text}
}

// URLButton declares a URL button. The URL may end in one variable, whose
// sample value is given in example.
func URLButton(text, url string, example ...string) Button {
	return Button{Type: "URL", Text: text, URL: url, Example: example}
}

// PhoneNumberButton declares a call button.
func PhoneNumberButton(text, phoneNumber string) Button {
	return Button{Type: "PHONE_NUMBER", Text: text, PhoneNumber: phoneNumber}
}

// CopyCodeButton declares a copy code button for coupon or auth codes.
func CopyCodeButton(exampleCode string) Button {
	return Button{Type: "COPY_CODE", Example: []string{exampleCode}}
}

// FlowButton declares a button that opens a flow.
func FlowButton(text, flowID string) Button {
	return Button{Type: "FLOW", Text: text, FlowID: flowID}
}

// OTPCopyCodeButton declares the copy code delivery of an authentication
// template.
func OTPCopyCodeButton(text string) Button {
	return Button{Type: "OTP", OTPType: "COPY_CODE", Text: text}
}

// OTPOneTapButton declares one-tap autofill delivery, falling back to copy
// code when the app is missing.
func OTPOneTapButton(text, autofillText string, apps ...SignedApp) Button {
	return Button{Type: "OTP", OTPType: "ONE_TAP", Text: text, AutofillText: autofillText, SupportedApps: apps}
}

// OTPZeroTapButton declares zero-tap delivery, which requires the terms to
// be accepted.
func OTPZeroTapButton(text, autofillText string, apps ...SignedApp) Button {
	return Button{Type: "OTP", OTPType: "ZERO_TAP", Text: text, AutofillText: autofillText, ZeroTapTermsAccepted: true, SupportedApps: apps}
}

// AuthTemplateUpsert creates or updates an authentication template across
// several languages in one call, the shape the bulk upsert endpoint takes.
type AuthTemplateUpsert struct {
	Name       string      `json:"name" validate:"required"`
	Languages  []string    `json:"languages" validate:"required,min=1"`
	Category   Category    `json:"category"`
	Components []Component `json:"components"`
}

func NewAuthTemplateUpsert(name string, languages []string, components ...Component) *AuthTemplateUpsert {
	return &AuthTemplateUpsert{
		Name:       name,
		Languages:  languages,
		Category:   CategoryAuthentication,
		Components: components,
	}
}
