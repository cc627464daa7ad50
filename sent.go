package wacloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/tulua/wacloud/events"
	"github.com/tulua/wacloud/listeners"
)

// SentMessage is the handle returned by every send. Its wait methods block
// on the listener registry until the conversation produces the update they
// describe.
type SentMessage struct {
	client *Client

	// ID is the wamid assigned by the provider
	ID string

	// Recipient is the wa_id the message was sent to
	Recipient string
}

func (c *Client) newSentMessage(id, recipient string) *SentMessage {
	return &SentMessage{client: c, ID: id, Recipient: recipient}
}

func (m *SentMessage) identifier() listeners.Identifier {
	return listeners.UserUpdate{Sender: m.Recipient, Recipient: m.client.cfg.PhoneID}
}

// repliesTo matches updates whose reply context quotes this message.
func (m *SentMessage) repliesTo(ctx *events.Context) bool {
	return ctx != nil && ctx.MessageID == m.ID
}

// WaitForReply blocks until the recipient sends any message back. Deadline
// and cancelation come from the context.
func (m *SentMessage) WaitForReply(ctx context.Context) (*events.Message, error) {
	update, err := m.client.listeners.Listen(ctx, m.identifier(), func(u events.Update) bool {
		_, ok := u.(*events.Message)
		return ok
	}, nil)
	if err != nil {
		return nil, err
	}
	return update.(*events.Message), nil
}

// WaitForClick blocks until the recipient presses a button on this message.
func (m *SentMessage) WaitForClick(ctx context.Context) (*events.CallbackButton, error) {
	update, err := m.client.listeners.Listen(ctx, m.identifier(), func(u events.Update) bool {
		cb, ok := u.(*events.CallbackButton)
		return ok && m.repliesTo(cb.Context)
	}, nil)
	if err != nil {
		return nil, err
	}
	return update.(*events.CallbackButton), nil
}

// WaitForSelection blocks until the recipient picks a row from this
// message's list.
func (m *SentMessage) WaitForSelection(ctx context.Context) (*events.CallbackSelection, error) {
	update, err := m.client.listeners.Listen(ctx, m.identifier(), func(u events.Update) bool {
		cs, ok := u.(*events.CallbackSelection)
		return ok && m.repliesTo(cs.Context)
	}, nil)
	if err != nil {
		return nil, err
	}
	return update.(*events.CallbackSelection), nil
}

// WaitForCompletion blocks until the recipient completes this message's
// flow.
func (m *SentMessage) WaitForCompletion(ctx context.Context) (*events.FlowCompletion, error) {
	update, err := m.client.listeners.Listen(ctx, m.identifier(), func(u events.Update) bool {
		fc, ok := u.(*events.FlowCompletion)
		return ok && m.repliesTo(fc.Context)
	}, nil)
	if err != nil {
		return nil, err
	}
	return update.(*events.FlowCompletion), nil
}

// WaitUntilDelivered blocks until this message is reported delivered. A
// failed status terminates the wait with an error carrying the provider's
// reason.
func (m *SentMessage) WaitUntilDelivered(ctx context.Context) (*events.MessageStatus, error) {
	return m.waitForStatus(ctx, events.StatusDelivered)
}

// WaitUntilRead blocks until this message is reported read.
func (m *SentMessage) WaitUntilRead(ctx context.Context) (*events.MessageStatus, error) {
	return m.waitForStatus(ctx, events.StatusRead)
}

func (m *SentMessage) waitForStatus(ctx context.Context, wanted events.StatusType) (*events.MessageStatus, error) {
	update, err := m.client.listeners.Listen(ctx, m.identifier(),
		func(u events.Update) bool {
			s, ok := u.(*events.MessageStatus)
			return ok && s.MessageID == m.ID && s.Status == wanted
		},
		func(u events.Update) bool {
			s, ok := u.(*events.MessageStatus)
			return ok && s.MessageID == m.ID && s.Status == events.StatusFailed
		},
	)
	if err != nil {
		cancelErr := &listeners.CanceledError{}
		if errors.As(err, &cancelErr) {
			failed := cancelErr.Update.(*events.MessageStatus)
			if len(failed.Errors) > 0 {
				return failed, fmt.Errorf("message failed: %s", failed.Errors[0].Message)
			}
			return failed, fmt.Errorf("message failed")
		}
		return nil, err
	}
	return update.(*events.MessageStatus), nil
}
