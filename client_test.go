package wacloud_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/buger/jsonparser"
	"github.com/nyaruka/gocommon/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wacloud "github.com/tulua/wacloud"
	"github.com/tulua/wacloud/events"
	"github.com/tulua/wacloud/flows"
)

func notification(value string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "waba1", "changes": [{"field": "messages", "value": %s}]}]
	}`, value)
}

var replyNotification = notification(`{
	"messaging_product": "whatsapp",
	"metadata": {"display_phone_number": "15550001111", "phone_number_id": "12345"},
	"contacts": [{"profile": {"name": "Bob"}, "wa_id": "5678"}],
	"messages": [{"from": "5678", "id": "wamid.in2", "timestamp": "1690000000", "type": "text", "text": {"body": "yes please"}}]
}`)

var deliveredNotification = notification(`{
	"messaging_product": "whatsapp",
	"metadata": {"display_phone_number": "15550001111", "phone_number_id": "12345"},
	"statuses": [{"id": "wamid.out1", "status": "delivered", "timestamp": "1690000001", "recipient_id": "5678"}]
}`)

var failedNotification = notification(`{
	"messaging_product": "whatsapp",
	"metadata": {"display_phone_number": "15550001111", "phone_number_id": "12345"},
	"statuses": [{"id": "wamid.out1", "status": "failed", "timestamp": "1690000001", "recipient_id": "5678",
		"errors": [{"code": 131026, "title": "Message undeliverable", "message": "Message undeliverable"}]}]
}`)

func postUpdate(c *wacloud.Client, body string) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	c.Webhooks().Handler().ServeHTTP(w, req)
}

// postWhenWaiting delivers a notification once a listener is registered.
func postWhenWaiting(c *wacloud.Client, body string) {
	go func() {
		for c.Listeners().Waiting() == 0 {
			time.Sleep(time.Millisecond)
		}
		postUpdate(c, body)
	}()
}

func TestWaitForReply(t *testing.T) {
	defer httpx.SetRequestor(httpx.DefaultRequestor)
	httpx.SetRequestor(httpx.NewMockRequestor(map[string][]*httpx.MockResponse{
		messagesURL: {
			httpx.NewMockResponse(200, nil, []byte(sentResponse)),
		},
	}))

	c := newTestClient(t)

	sent, err := c.SendText(context.Background(), "5678", "confirm?", nil)
	require.NoError(t, err)

	postWhenWaiting(c, replyNotification)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := sent.WaitForReply(ctx)
	require.NoError(t, err)
	assert.Equal(t, "yes please", reply.Text)
	assert.Equal(t, "5678", reply.From.WaID)
	assert.Equal(t, "Bob", reply.From.Name)
}

func TestWaitUntilDelivered(t *testing.T) {
	defer httpx.SetRequestor(httpx.DefaultRequestor)
	httpx.SetRequestor(httpx.NewMockRequestor(map[string][]*httpx.MockResponse{
		messagesURL: {
			httpx.NewMockResponse(200, nil, []byte(sentResponse)),
			httpx.NewMockResponse(200, nil, []byte(sentResponse)),
		},
	}))

	c := newTestClient(t)

	sent, err := c.SendText(context.Background(), "5678", "on its way", nil)
	require.NoError(t, err)

	postWhenWaiting(c, deliveredNotification)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, err := sent.WaitUntilDelivered(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.StatusDelivered, status.Status)
	assert.Equal(t, "wamid.out1", status.MessageID)

	// a failed status ends the wait with the provider's reason
	sent, err = c.SendText(context.Background(), "5678", "doomed", nil)
	require.NoError(t, err)

	postWhenWaiting(c, failedNotification)

	status, err = sent.WaitUntilDelivered(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Message undeliverable")
	require.NotNil(t, status)
	assert.Equal(t, events.StatusFailed, status.Status)
}

func TestHandlerDispatchFromWebhook(t *testing.T) {
	c := newTestClient(t)

	handled := make(chan *events.Message, 1)
	c.On(events.KindMessage, func(ctx context.Context, update events.Update) error {
		handled <- update.(*events.Message)
		return nil
	})

	raw := make(chan []byte, 1)
	c.OnRaw(func(ctx context.Context, body []byte) {
		raw <- body
	})

	postUpdate(c, replyNotification)

	select {
	case msg := <-handled:
		assert.Equal(t, "yes please", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	select {
	case body := <-raw:
		object, err := jsonparser.GetString(body, "object")
		require.NoError(t, err)
		assert.Equal(t, "whatsapp_business_account", object)
	case <-time.After(2 * time.Second):
		t.Fatal("raw handler was not called")
	}
}

func TestRegisterCallbackURL(t *testing.T) {
	defer httpx.SetRequestor(httpx.DefaultRequestor)
	mock := httpx.NewMockRequestor(map[string][]*httpx.MockResponse{
		"https://graph.facebook.com/v23.0/app1/subscriptions": {
			httpx.NewMockResponse(200, nil, []byte(`{"success": true}`)),
		},
	})
	httpx.SetRequestor(mock)

	cfg := wacloud.NewConfig()
	cfg.PhoneID = "12345"
	cfg.Token = "token123"
	cfg.AppID = "app1"
	cfg.AppSecret = "secret1"
	cfg.VerifyToken = "verify1"
	cfg.CallbackURL = "https://bot.example.com/webhooks"

	c, err := wacloud.NewClient(cfg, slog.Default())
	require.NoError(t, err)

	require.NoError(t, c.RegisterCallbackURL(context.Background()))

	requests := mock.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer app1|secret1", requests[0].Header.Get("Authorization"))
	assert.JSONEq(t, `{
		"object": "whatsapp_business_account",
		"callback_url": "https://bot.example.com/webhooks",
		"verify_token": "verify1",
		"fields": ["messages"]
	}`, requestBody(t, requests[0]))

	// registration needs app credentials
	cfg = wacloud.NewConfig()
	cfg.PhoneID = "12345"
	cfg.Token = "token123"
	cfg.CallbackURL = "https://bot.example.com/webhooks"

	c, err = wacloud.NewClient(cfg, slog.Default())
	require.NoError(t, err)
	assert.Error(t, c.RegisterCallbackURL(context.Background()))
}

func TestOnFlowRequiresKey(t *testing.T) {
	c := newTestClient(t)

	handler := func(ctx context.Context, req *flows.Request) (*flows.Response, error) {
		return &flows.Response{Screen: "WELCOME"}, nil
	}

	assert.Error(t, c.OnFlow("/flows/booking", handler, nil))

	// a per endpoint key satisfies the requirement without a client wide one
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	assert.NoError(t, c.OnFlow("/flows/booking", handler, &flows.EndpointOptions{PrivateKey: key}))
}

func TestIndicateTyping(t *testing.T) {
	defer httpx.SetRequestor(httpx.DefaultRequestor)
	mock := httpx.NewMockRequestor(map[string][]*httpx.MockResponse{
		messagesURL: {
			httpx.NewMockResponse(200, nil, []byte(`{"success": true}`)),
		},
	})
	httpx.SetRequestor(mock)

	c := newTestClient(t)

	require.NoError(t, c.IndicateTyping(context.Background(), "wamid.in1"))

	requests := mock.Requests()
	require.Len(t, requests, 1)
	assert.JSONEq(t, `{
		"messaging_product": "whatsapp",
		"status": "read",
		"message_id": "wamid.in1",
		"typing_indicator": {"type": "text"}
	}`, requestBody(t, requests[0]))
}
