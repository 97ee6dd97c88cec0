package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SendReceive(t *testing.T) {
	hub := NewHub(2)
	require.NoError(t, hub.Register("extractor"))
	require.NoError(t, hub.Register("notetaker"))
	assert.Error(t, hub.Register("extractor"))

	msg := Message{From: "extractor", To: "notetaker",
		Payload: map[string]interface{}{"rows": 3}}
	require.NoError(t, hub.Send(msg))

	got, err := hub.Receive(context.Background(), "notetaker", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "extractor", got.From)
	assert.Equal(t, 3, got.Payload["rows"])
}

func TestHub_Errors(t *testing.T) {
	hub := NewHub(1)
	require.NoError(t, hub.Register("a"))

	assert.Error(t, hub.Send(Message{To: "nobody"}))

	require.NoError(t, hub.Send(Message{To: "a"}))
	assert.Error(t, hub.Send(Message{To: "a"}), "full inbox rejects instead of blocking")

	_, err := hub.Receive(context.Background(), "nobody", time.Millisecond)
	assert.Error(t, err)
}

func TestHub_ReceiveTimeout(t *testing.T) {
	hub := NewHub(1)
	require.NoError(t, hub.Register("a"))

	start := time.Now()
	_, err := hub.Receive(context.Background(), "a", 20*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestState(t *testing.T) {
	s := NewState()
	s.Set("phase", "ingest")

	v, ok := s.Get("phase")
	assert.True(t, ok)
	assert.Equal(t, "ingest", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	snap := s.Snapshot()
	snap["phase"] = "mutated"
	v, _ = s.Get("phase")
	assert.Equal(t, "ingest", v, "snapshot is a copy")
}
