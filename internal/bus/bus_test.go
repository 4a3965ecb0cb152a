package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunfall-smp/perkbridge/internal/domain"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	got := make(chan domain.ChatEvent, 1)
	_, err = b.Subscribe(domain.SubjectChat, func(data []byte) {
		var ev domain.ChatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Errorf("decoding event: %v", err)
			return
		}
		got <- ev
	})
	require.NoError(t, err)

	sent := domain.ChatEvent{
		Handle:    "Alice",
		Message:   "!heal",
		Raw:       "<Alice> !heal",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, b.Publish(domain.SubjectChat, sent))
	require.NoError(t, b.Flush())

	select {
	case ev := <-got:
		assert.Equal(t, sent.Handle, ev.Handle)
		assert.Equal(t, sent.Message, ev.Message)
		assert.Equal(t, sent.Raw, ev.Raw)
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestSubjectsAreIndependent(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	chat := make(chan struct{}, 1)
	_, err = b.Subscribe(domain.SubjectChat, func([]byte) { chat <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, b.Publish(domain.SubjectJoin, domain.PresenceEvent{Handle: "Alice"}))
	require.NoError(t, b.Flush())

	select {
	case <-chat:
		t.Fatal("join event leaked onto the chat subject")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRejectsUnencodableValue(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	assert.Error(t, b.Publish("test.subject", make(chan int)))
}
