package listeners_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tulua/wacloud/events"
	"github.com/tulua/wacloud/listeners"
)

func textMessage(from, phoneID, text string) *events.Message {
	return &events.Message{
		ID:       "wamid." + text,
		From:     events.User{WaID: from},
		Metadata: events.Metadata{PhoneNumberID: phoneID},
		Type:     events.MessageTypeText,
		Text:     text,
	}
}

func waitForWaiting(t *testing.T, r *listeners.Registry, n int) {
	for i := 0; i < 100; i++ {
		if r.Waiting() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d waiting listeners", n)
}

func TestListenResolve(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())

	type result struct {
		update events.Update
		err    error
	}
	results := make(chan result, 1)

	go func() {
		update, err := r.Listen(context.Background(), listeners.UserUpdate{Sender: "5678", Recipient: "12345"}, nil, nil)
		results <- result{update, err}
	}()
	waitForWaiting(t, r, 1)

	// update for another conversation is not consumed
	assert.False(t, r.Resolve(textMessage("9999", "12345", "other user")))

	msg := textMessage("5678", "12345", "hi")
	assert.True(t, r.Resolve(msg))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, msg, res.update)
	assert.Equal(t, 0, r.Waiting())

	// listener is one-shot, a second update finds nobody
	assert.False(t, r.Resolve(textMessage("5678", "12345", "again")))
}

func TestListenFilter(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())

	onlyYes := func(u events.Update) bool {
		m, ok := u.(*events.Message)
		return ok && m.Text == "yes"
	}

	results := make(chan events.Update, 1)
	go func() {
		update, _ := r.Listen(context.Background(), listeners.UserUpdate{Sender: "5678", Recipient: "12345"}, onlyYes, nil)
		results <- update
	}()
	waitForWaiting(t, r, 1)

	// non-matching update passes through without resolving the listener
	assert.False(t, r.Resolve(textMessage("5678", "12345", "no")))
	assert.Equal(t, 1, r.Waiting())

	assert.True(t, r.Resolve(textMessage("5678", "12345", "yes")))
	update := <-results
	assert.Equal(t, "yes", update.(*events.Message).Text)
}

func TestListenFIFO(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())
	id := listeners.UserUpdate{Sender: "5678", Recipient: "12345"}

	first := make(chan events.Update, 1)
	go func() {
		update, _ := r.Listen(context.Background(), id, nil, nil)
		first <- update
	}()
	waitForWaiting(t, r, 1)

	second := make(chan events.Update, 1)
	go func() {
		update, _ := r.Listen(context.Background(), id, nil, nil)
		second <- update
	}()
	waitForWaiting(t, r, 2)

	r.Resolve(textMessage("5678", "12345", "one"))
	assert.Equal(t, "one", (<-first).(*events.Message).Text)

	r.Resolve(textMessage("5678", "12345", "two"))
	assert.Equal(t, "two", (<-second).(*events.Message).Text)
}

func TestListenCancel(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())
	id := listeners.UserUpdate{Sender: "5678", Recipient: "12345"}

	isStop := func(u events.Update) bool {
		m, ok := u.(*events.Message)
		return ok && m.Text == "stop"
	}

	canceled := make(chan error, 1)
	go func() {
		_, err := r.Listen(context.Background(), id, nil, isStop)
		canceled <- err
	}()
	waitForWaiting(t, r, 1)

	// a second listener behind the canceled one still gets the update
	behind := make(chan events.Update, 1)
	go func() {
		update, _ := r.Listen(context.Background(), id, nil, nil)
		behind <- update
	}()
	waitForWaiting(t, r, 2)

	msg := textMessage("5678", "12345", "stop")
	assert.True(t, r.Resolve(msg))

	err := <-canceled
	cancelErr := &listeners.CanceledError{}
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, msg, cancelErr.Update)

	assert.Equal(t, msg, <-behind)
}

func TestListenTimeout(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Listen(ctx, listeners.UserUpdate{Sender: "5678", Recipient: "12345"}, nil, nil)
	assert.ErrorIs(t, err, listeners.ErrTimeout)
	assert.Equal(t, 0, r.Waiting())
}

func TestListenStop(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Listen(context.Background(), listeners.TemplateStatus{TemplateID: 42}, nil, nil)
			errs <- err
		}()
	}
	waitForWaiting(t, r, 2)

	r.Stop()
	wg.Wait()

	assert.ErrorIs(t, <-errs, listeners.ErrStopped)
	assert.ErrorIs(t, <-errs, listeners.ErrStopped)

	// registry rejects new listeners once stopped
	_, err := r.Listen(context.Background(), listeners.TemplateStatus{TemplateID: 42}, nil, nil)
	assert.ErrorIs(t, err, listeners.ErrStopped)

	r.Stop() // idempotent
}

func TestFilterPanicIsNonMatch(t *testing.T) {
	r := listeners.NewRegistry(slog.Default())
	id := listeners.UserUpdate{Sender: "5678", Recipient: "12345"}

	panicky := func(events.Update) bool { panic("boom") }

	go r.Listen(context.Background(), id, panicky, nil)
	waitForWaiting(t, r, 1)

	assert.False(t, r.Resolve(textMessage("5678", "12345", "hi")))
	assert.Equal(t, 1, r.Waiting())
}

func TestIdentifierFor(t *testing.T) {
	id, ok := listeners.IdentifierFor(textMessage("5678", "12345", "hi"))
	assert.True(t, ok)
	assert.Equal(t, listeners.UserUpdate{Sender: "5678", Recipient: "12345"}, id)

	id, ok = listeners.IdentifierFor(&events.TemplateStatusUpdate{TemplateEvent: events.TemplateEvent{ID: 42}})
	assert.True(t, ok)
	assert.Equal(t, listeners.TemplateStatus{TemplateID: 42}, id)

	_, ok = listeners.IdentifierFor(&events.UserPreferences{WaID: "5678"})
	assert.True(t, ok)
}
