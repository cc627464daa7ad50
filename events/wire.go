package events

import "encoding/json"

// Wire shapes for webhook notification payloads, see
// https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/components#notification-payload-object

type Notification struct {
	Object string  `json:"object" validate:"required"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value is the union of everything a change can carry; which parts are
// populated depends on the change's field.
type Value struct {
	MessagingProduct string        `json:"messaging_product,omitempty"`
	Metadata         *wireMetadata `json:"metadata,omitempty"`
	Contacts         []wireContact `json:"contacts,omitempty"`
	Messages         []wireMessage `json:"messages,omitempty"`
	Statuses         []wireStatus  `json:"statuses,omitempty"`
	Errors           []wireError   `json:"errors,omitempty"`

	// template events carry their fields directly on the value
	Event                   string            `json:"event,omitempty"`
	MessageTemplateID       int64             `json:"message_template_id,omitempty"`
	MessageTemplateName     string            `json:"message_template_name,omitempty"`
	MessageTemplateLanguage string            `json:"message_template_language,omitempty"`
	Reason                  string            `json:"reason,omitempty"`
	DisableInfo             *wireDisableInfo  `json:"disable_info,omitempty"`
	OtherInfo               *wireOtherInfo    `json:"other_info,omitempty"`
	NewQualityScore         string            `json:"new_quality_score,omitempty"`
	PreviousQualityScore    string            `json:"previous_quality_score,omitempty"`
	NewCategory             string            `json:"new_category,omitempty"`
	PreviousCategory        string            `json:"previous_category,omitempty"`
	CorrectCategory         string            `json:"correct_category,omitempty"`
	MessageTemplateElement  string            `json:"message_template_element,omitempty"`
	MessageTemplateTitle    string            `json:"message_template_title,omitempty"`
	MessageTemplateFooter   string            `json:"message_template_footer,omitempty"`
	MessageTemplateButtons  []json.RawMessage `json:"message_template_buttons,omitempty"`

	// calls field
	Calls []wireCall `json:"calls,omitempty"`

	// user_preferences field
	UserPreferences []wireUserPreference `json:"user_preferences,omitempty"`
}

type wireDisableInfo struct {
	DisableDate string `json:"disable_date"`
}

type wireOtherInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type wireMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type wireContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type wireError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	ErrorData *struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

// see https://developers.facebook.com/docs/whatsapp/cloud-api/reference/media#example-2
type wireMedia struct {
	ID       string `json:"id"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Voice    bool   `json:"voice"`
	Animated bool   `json:"animated"`
}

type wireContext struct {
	Forwarded           bool   `json:"forwarded"`
	FrequentlyForwarded bool   `json:"frequently_forwarded"`
	From                string `json:"from"`
	ID                  string `json:"id"`
	ReferredProduct     *struct {
		CatalogID         string `json:"catalog_id"`
		ProductRetailerID string `json:"product_retailer_id"`
	} `json:"referred_product"`
}

type wireMessage struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	Timestamp string       `json:"timestamp"`
	Type      string       `json:"type"`
	Context   *wireContext `json:"context"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *wireMedia `json:"image"`
	Video    *wireMedia `json:"video"`
	Sticker  *wireMedia `json:"sticker"`
	Document *wireMedia `json:"document"`
	Audio    *wireMedia `json:"audio"`
	Voice    *wireMedia `json:"voice"`
	Reaction *struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	} `json:"reaction"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
	Contacts []wireSharedContact `json:"contacts"`
	Order    *struct {
		CatalogID    string `json:"catalog_id"`
		Text         string `json:"text"`
		ProductItems []struct {
			ProductRetailerID string `json:"product_retailer_id"`
			Quantity          int    `json:"quantity,string"`
			ItemPrice         string `json:"item_price"`
			Currency          string `json:"currency"`
		} `json:"product_items"`
	} `json:"order"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
		NFMReply *struct {
			Name         string `json:"name"`
			Body         string `json:"body"`
			ResponseJSON string `json:"response_json"`
		} `json:"nfm_reply"`
	} `json:"interactive"`
	System *struct {
		Type     string `json:"type"`
		Body     string `json:"body"`
		Identity string `json:"identity"`
		WaID     string `json:"wa_id"`
		NewWaID  string `json:"new_wa_id"`
		Customer string `json:"customer"`
	} `json:"system"`
	Identity *struct {
		Acknowledged     bool   `json:"acknowledged"`
		CreatedTimestamp int64  `json:"created_timestamp"`
		Hash             string `json:"hash"`
	} `json:"identity"`
	Errors []wireError `json:"errors"`
}

type wireSharedContact struct {
	Name *struct {
		FormattedName string `json:"formatted_name"`
		FirstName     string `json:"first_name"`
		LastName      string `json:"last_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
		Type  string `json:"type"`
		WaID  string `json:"wa_id"`
	} `json:"phones"`
	Emails []struct {
		Email string `json:"email"`
		Type  string `json:"type"`
	} `json:"emails"`
	Org *struct {
		Company string `json:"company"`
	} `json:"org"`
}

// see https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/payload-examples#message-status-updates
type wireStatus struct {
	ID           string `json:"id"`
	RecipientID  string `json:"recipient_id"`
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	Conversation *struct {
		ID     string `json:"id"`
		Origin *struct {
			Type string `json:"type"`
		} `json:"origin"`
		ExpirationTimestamp string `json:"expiration_timestamp"`
	} `json:"conversation"`
	Pricing *struct {
		PricingModel string `json:"pricing_model"`
		Billable     bool   `json:"billable"`
		Category     string `json:"category"`
	} `json:"pricing"`
	BizOpaqueCallbackData string      `json:"biz_opaque_callback_data"`
	Errors                []wireError `json:"errors"`
}

type wireCall struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
	Session   *struct {
		SDPType string `json:"sdp_type"`
		SDP     string `json:"sdp"`
	} `json:"session"`
}

type wireUserPreference struct {
	WaID      string `json:"wa_id"`
	Detail    string `json:"detail"`
	Category  string `json:"category"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}
