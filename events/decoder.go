package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// notificationObject is the only envelope object the Cloud API sends for
// business accounts.
const notificationObject = "whatsapp_business_account"

// Decoder turns raw webhook notification bodies into typed updates.
type Decoder struct {
	phoneID string
	log     *slog.Logger
}

// NewDecoder creates a decoder. If phoneID is non-empty, changes addressed to
// a different business phone number are skipped, which matters for WABAs with
// more than one number sharing a callback URL.
func NewDecoder(phoneID string, log *slog.Logger) *Decoder {
	return &Decoder{phoneID: phoneID, log: log.With("comp", "decoder")}
}

// Decode parses a notification body into the updates it carries, preserving
// their order. Every entry and every change is walked, since batched
// notifications routinely carry more than one of each. Payload variants the
// decoder doesn't know are logged and skipped rather than failing the whole
// notification.
func (d *Decoder) Decode(body []byte) ([]Update, error) {
	notif := &Notification{}
	if err := json.Unmarshal(body, notif); err != nil {
		return nil, fmt.Errorf("error parsing notification: %w", err)
	}
	if notif.Object != notificationObject {
		return nil, fmt.Errorf("unexpected notification object %q", notif.Object)
	}

	var updates []Update

	for _, entry := range notif.Entry {
		for _, change := range entry.Changes {
			if d.phoneID != "" && change.Value.Metadata != nil && change.Value.Metadata.PhoneNumberID != d.phoneID {
				d.log.Debug("skipping change for other phone number", "phone_number_id", change.Value.Metadata.PhoneNumberID)
				continue
			}

			updates = append(updates, d.decodeChange(entry, change)...)
		}
	}

	return updates, nil
}

func (d *Decoder) decodeChange(entry Entry, change Change) []Update {
	switch change.Field {
	case "messages":
		return d.decodeMessagesChange(change.Value)
	case "message_template_status_update":
		return []Update{d.decodeTemplateStatus(entry, change.Value)}
	case "message_template_quality_update":
		return []Update{&TemplateQualityUpdate{
			TemplateEvent:   templateEvent(entry, change.Value),
			NewQuality:      change.Value.NewQualityScore,
			PreviousQuality: change.Value.PreviousQualityScore,
		}}
	case "message_template_category_update":
		return []Update{&TemplateCategoryUpdate{
			TemplateEvent:    templateEvent(entry, change.Value),
			NewCategory:      change.Value.NewCategory,
			PreviousCategory: change.Value.PreviousCategory,
			CorrectCategory:  change.Value.CorrectCategory,
		}}
	case "message_template_components_update":
		return []Update{&TemplateComponentsUpdate{
			TemplateEvent: templateEvent(entry, change.Value),
			Element:       change.Value.MessageTemplateElement,
			Title:         change.Value.MessageTemplateTitle,
			Footer:        change.Value.MessageTemplateFooter,
		}}
	case "calls":
		return d.decodeCalls(change.Value)
	case "user_preferences":
		return d.decodeUserPreferences(change.Value)
	default:
		d.log.Warn("unknown change field", "field", change.Field)
		return nil
	}
}

// decodeMessagesChange handles the messages field, whose value can carry
// inbound messages, statuses or both. Messages are decoded before statuses so
// a reply always precedes the read receipt it triggered.
func (d *Decoder) decodeMessagesChange(value Value) []Update {
	var metadata Metadata
	if value.Metadata != nil {
		metadata = Metadata{
			DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
			PhoneNumberID:      value.Metadata.PhoneNumberID,
		}
	}

	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	var updates []Update

	for _, msg := range value.Messages {
		update := d.decodeMessage(msg, metadata, names)
		if update != nil {
			updates = append(updates, update)
		}
	}

	for _, status := range value.Statuses {
		updates = append(updates, decodeStatus(status, metadata))
	}

	return updates
}

func (d *Decoder) decodeMessage(msg wireMessage, metadata Metadata, names map[string]string) Update {
	from := User{WaID: msg.From, Name: names[msg.From]}
	ts := parseTimestamp(msg.Timestamp)
	ctx := decodeContext(msg.Context)

	switch msg.Type {
	case "text":
		m := newMessage(msg, from, metadata, ts, ctx, MessageTypeText)
		if msg.Text != nil {
			m.Text = msg.Text.Body
		}
		return m

	case "image":
		return newMediaMessage(msg, from, metadata, ts, ctx, MessageTypeImage, msg.Image)
	case "video":
		return newMediaMessage(msg, from, metadata, ts, ctx, MessageTypeVideo, msg.Video)
	case "sticker":
		return newMediaMessage(msg, from, metadata, ts, ctx, MessageTypeSticker, msg.Sticker)
	case "document":
		return newMediaMessage(msg, from, metadata, ts, ctx, MessageTypeDocument, msg.Document)

	case "audio":
		// voice notes arrive as audio with the voice flag set
		media := msg.Audio
		if media == nil {
			media = msg.Voice
		}
		mtype := MessageTypeAudio
		if media != nil && media.Voice {
			mtype = MessageTypeVoice
		}
		return newMediaMessage(msg, from, metadata, ts, ctx, mtype, media)

	case "reaction":
		m := newMessage(msg, from, metadata, ts, ctx, MessageTypeReaction)
		if msg.Reaction != nil {
			m.Reaction = &Reaction{MessageID: msg.Reaction.MessageID, Emoji: msg.Reaction.Emoji}
		}
		return m

	case "location":
		m := newMessage(msg, from, metadata, ts, ctx, MessageTypeLocation)
		if msg.Location != nil {
			m.Location = &Location{
				Latitude:  msg.Location.Latitude,
				Longitude: msg.Location.Longitude,
				Name:      msg.Location.Name,
				Address:   msg.Location.Address,
			}
		}
		return m

	case "contacts":
		m := newMessage(msg, from, metadata, ts, ctx, MessageTypeContacts)
		m.Contacts = decodeSharedContacts(msg.Contacts)
		return m

	case "order":
		m := newMessage(msg, from, metadata, ts, ctx, MessageTypeOrder)
		if msg.Order != nil {
			order := &Order{CatalogID: msg.Order.CatalogID, Text: msg.Order.Text}
			for _, p := range msg.Order.ProductItems {
				order.Products = append(order.Products, OrderProduct{
					RetailerID: p.ProductRetailerID,
					Quantity:   p.Quantity,
					ItemPrice:  p.ItemPrice,
					Currency:   p.Currency,
				})
			}
			m.Order = order
		}
		return m

	case "button":
		// quick reply press on a template message
		cb := &CallbackButton{MessageID: msg.ID, From: from, Metadata: metadata, Timestamp: ts, Context: ctx}
		if msg.Button != nil {
			cb.Data = msg.Button.Payload
			cb.Title = msg.Button.Text
		}
		return cb

	case "interactive":
		return d.decodeInteractive(msg, from, metadata, ts, ctx)

	case "request_welcome":
		return &ChatOpened{MessageID: msg.ID, From: from, Metadata: metadata, Timestamp: ts}

	case "system":
		return d.decodeSystem(msg, from, metadata, ts)

	case "unsupported":
		return newMessage(msg, from, metadata, ts, ctx, MessageTypeUnsupported)

	default:
		d.log.Warn("unknown message type", "type", msg.Type, "id", msg.ID)
		return nil
	}
}

func (d *Decoder) decodeInteractive(msg wireMessage, from User, metadata Metadata, ts time.Time, ctx *Context) Update {
	if msg.Interactive == nil {
		d.log.Warn("interactive message without payload", "id", msg.ID)
		return nil
	}

	switch msg.Interactive.Type {
	case "button_reply":
		cb := &CallbackButton{MessageID: msg.ID, From: from, Metadata: metadata, Timestamp: ts, Context: ctx}
		if r := msg.Interactive.ButtonReply; r != nil {
			cb.Data = r.ID
			cb.Title = r.Title
		}
		return cb

	case "list_reply":
		cs := &CallbackSelection{MessageID: msg.ID, From: from, Metadata: metadata, Timestamp: ts, Context: ctx}
		if r := msg.Interactive.ListReply; r != nil {
			cs.Data = r.ID
			cs.Title = r.Title
			cs.Description = r.Description
		}
		return cs

	case "nfm_reply":
		fc := &FlowCompletion{MessageID: msg.ID, From: from, Metadata: metadata, Timestamp: ts, Context: ctx}
		if r := msg.Interactive.NFMReply; r != nil {
			fc.Name = r.Name
			fc.Body = r.Body
			if r.ResponseJSON != "" {
				response := map[string]any{}
				if err := json.Unmarshal([]byte(r.ResponseJSON), &response); err != nil {
					d.log.Warn("error parsing flow response", "id", msg.ID, "error", err)
				} else {
					// flow_token is missing from some iOS clients
					if token, ok := response["flow_token"].(string); ok {
						fc.Token = token
					}
					fc.Response = response
				}
			}
		}
		return fc

	default:
		d.log.Warn("unknown interactive type", "type", msg.Interactive.Type, "id", msg.ID)
		return nil
	}
}

func (d *Decoder) decodeSystem(msg wireMessage, from User, metadata Metadata, ts time.Time) Update {
	if msg.System == nil {
		d.log.Warn("system message without payload", "id", msg.ID)
		return nil
	}

	switch msg.System.Type {
	case "user_changed_number", "customer_changed_number":
		oldID := msg.System.WaID
		if oldID == "" {
			oldID = msg.From
		}
		return &PhoneNumberChange{
			MessageID: msg.ID,
			From:      from,
			Metadata:  metadata,
			Timestamp: ts,
			Body:      msg.System.Body,
			OldWaID:   oldID,
			NewWaID:   msg.System.NewWaID,
		}

	case "customer_identity_changed", "user_identity_changed":
		ic := &IdentityChange{
			MessageID: msg.ID,
			From:      from,
			Metadata:  metadata,
			Timestamp: ts,
			Body:      msg.System.Body,
			Hash:      msg.System.Identity,
		}
		if msg.Identity != nil {
			ic.Hash = msg.Identity.Hash
			ic.Acknowledged = msg.Identity.Acknowledged
			ic.CreatedAt = time.Unix(msg.Identity.CreatedTimestamp, 0).UTC()
		}
		return ic

	default:
		d.log.Warn("unknown system message type", "type", msg.System.Type, "id", msg.ID)
		return nil
	}
}

func decodeStatus(status wireStatus, metadata Metadata) *MessageStatus {
	s := &MessageStatus{
		MessageID: status.ID,
		Recipient: User{WaID: status.RecipientID},
		Metadata:  metadata,
		Timestamp: parseTimestamp(status.Timestamp),
		Status:    StatusType(status.Status),
		Tracker:   status.BizOpaqueCallbackData,
		Errors:    decodeErrors(status.Errors),
	}

	if status.Conversation != nil {
		conv := &Conversation{ID: status.Conversation.ID}
		if status.Conversation.Origin != nil {
			conv.OriginType = status.Conversation.Origin.Type
		}
		if status.Conversation.ExpirationTimestamp != "" {
			conv.Expiration = parseTimestamp(status.Conversation.ExpirationTimestamp)
		}
		s.Conversation = conv
	}
	if status.Pricing != nil {
		s.Pricing = &Pricing{
			Model:    status.Pricing.PricingModel,
			Billable: status.Pricing.Billable,
			Category: status.Pricing.Category,
		}
	}

	return s
}

func (d *Decoder) decodeTemplateStatus(entry Entry, value Value) Update {
	u := &TemplateStatusUpdate{
		TemplateEvent: templateEvent(entry, value),
		Event:         value.Event,
		Reason:        value.Reason,
	}
	if value.DisableInfo != nil {
		u.DisableDate = value.DisableInfo.DisableDate
	}
	return u
}

func (d *Decoder) decodeCalls(value Value) []Update {
	var metadata Metadata
	if value.Metadata != nil {
		metadata = Metadata{
			DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
			PhoneNumberID:      value.Metadata.PhoneNumberID,
		}
	}

	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	updates := make([]Update, len(value.Calls))
	for i, call := range value.Calls {
		ev := &CallEvent{
			CallID:    call.ID,
			From:      User{WaID: call.From, Name: names[call.From]},
			Metadata:  metadata,
			Timestamp: parseTimestamp(call.Timestamp),
			Event:     call.Event,
			Direction: call.Direction,
			Status:    call.Status,
		}
		if call.Session != nil {
			ev.SDPType = call.Session.SDPType
			ev.SDP = call.Session.SDP
		}
		updates[i] = ev
	}
	return updates
}

func (d *Decoder) decodeUserPreferences(value Value) []Update {
	var metadata Metadata
	if value.Metadata != nil {
		metadata = Metadata{
			DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
			PhoneNumberID:      value.Metadata.PhoneNumberID,
		}
	}

	updates := make([]Update, len(value.UserPreferences))
	for i, pref := range value.UserPreferences {
		updates[i] = &UserPreferences{
			WaID:      pref.WaID,
			Metadata:  metadata,
			Timestamp: parseTimestamp(pref.Timestamp),
			Detail:    pref.Detail,
			Category:  pref.Category,
			Value:     pref.Value,
		}
	}
	return updates
}

func newMessage(msg wireMessage, from User, metadata Metadata, ts time.Time, ctx *Context, mtype MessageType) *Message {
	return &Message{
		ID:        msg.ID,
		From:      from,
		Metadata:  metadata,
		Timestamp: ts,
		Type:      mtype,
		Context:   ctx,
		Errors:    decodeErrors(msg.Errors),
	}
}

func newMediaMessage(msg wireMessage, from User, metadata Metadata, ts time.Time, ctx *Context, mtype MessageType, media *wireMedia) *Message {
	m := newMessage(msg, from, metadata, ts, ctx, mtype)
	if media != nil {
		m.Media = &Media{
			ID:       media.ID,
			MimeType: media.MimeType,
			SHA256:   media.SHA256,
			Caption:  media.Caption,
			Filename: media.Filename,
			Voice:    media.Voice,
			Animated: media.Animated,
		}
	}
	return m
}

func decodeContext(ctx *wireContext) *Context {
	if ctx == nil {
		return nil
	}
	c := &Context{
		MessageID:           ctx.ID,
		From:                ctx.From,
		Forwarded:           ctx.Forwarded,
		FrequentlyForwarded: ctx.FrequentlyForwarded,
	}
	if ctx.ReferredProduct != nil {
		c.ReferredProductCatalogID = ctx.ReferredProduct.CatalogID
		c.ReferredProductRetailerID = ctx.ReferredProduct.ProductRetailerID
	}
	return c
}

func decodeErrors(errors []wireError) []Error {
	if len(errors) == 0 {
		return nil
	}
	decoded := make([]Error, len(errors))
	for i, e := range errors {
		decoded[i] = Error{Code: e.Code, Title: e.Title, Message: e.Message}
		if e.ErrorData != nil {
			decoded[i].Details = e.ErrorData.Details
		}
	}
	return decoded
}

func decodeSharedContacts(contacts []wireSharedContact) []SharedContact {
	decoded := make([]SharedContact, len(contacts))
	for i, c := range contacts {
		sc := SharedContact{}
		if c.Name != nil {
			sc.FormattedName = c.Name.FormattedName
			sc.FirstName = c.Name.FirstName
			sc.LastName = c.Name.LastName
		}
		if c.Org != nil {
			sc.Company = c.Org.Company
		}
		for _, p := range c.Phones {
			sc.Phones = append(sc.Phones, ContactPhone{Phone: p.Phone, Type: p.Type, WaID: p.WaID})
		}
		for _, e := range c.Emails {
			sc.Emails = append(sc.Emails, ContactEmail{Email: e.Email, Type: e.Type})
		}
		decoded[i] = sc
	}
	return decoded
}

func templateEvent(entry Entry, value Value) TemplateEvent {
	return TemplateEvent{
		WABAID:   entry.ID,
		ID:       value.MessageTemplateID,
		Name:     value.MessageTemplateName,
		Language: value.MessageTemplateLanguage,
	}
}

// parseTimestamp converts the epoch-second strings the Cloud API uses into
// UTC times. Malformed values yield the zero time rather than an error.
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
