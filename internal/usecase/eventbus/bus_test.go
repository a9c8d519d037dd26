package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glyph-ide/internal/domain"
)

func collect() (domain.EventHandler, func() []domain.Event) {
	var mu sync.Mutex
	var events []domain.Event
	handler := func(_ context.Context, e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	return handler, func() []domain.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.Event, len(events))
		copy(out, events)
		return out
	}
}

func TestBus_TypedSubscription(t *testing.T) {
	bus := New(slog.Default())
	handler, got := collect()
	bus.Subscribe(domain.EventExtensionActivated, handler)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventExtensionActivated, Extension: "acme.fmt"})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventExtensionDeactivated, Extension: "acme.fmt"})
	bus.Close()

	events := got()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventExtensionActivated, events[0].Type)
}

func TestBus_SubscribeAllReceivesEverything(t *testing.T) {
	bus := New(slog.Default())
	handler, got := collect()
	bus.SubscribeAll(handler)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventPermissionGranted})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	bus.Close()

	assert.Len(t, got(), 2)
}

func TestBus_StampsIDAndTimestamp(t *testing.T) {
	bus := New(slog.Default())
	handler, got := collect()
	bus.SubscribeAll(handler)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	bus.Close()

	events := got()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEmpty(t, events[1].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(slog.Default())
	handler, got := collect()
	unsub := bus.Subscribe(domain.EventUINotification, handler)

	unsub()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	bus.Close()

	assert.Empty(t, got())
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := New(slog.Default())
	bus.Subscribe(domain.EventUINotification, func(context.Context, domain.Event) {
		panic("handler bug")
	})
	handler, got := collect()
	bus.Subscribe(domain.EventUINotification, handler)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	bus.Close()

	assert.Len(t, got(), 1)
}

func TestBus_PublishAfterCloseDropped(t *testing.T) {
	bus := New(slog.Default())
	handler, got := collect()
	bus.SubscribeAll(handler)

	bus.Close()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventUINotification})
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, got())
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := New(slog.Default())
	bus.Close()
	bus.Close()
}
