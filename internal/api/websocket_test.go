package api

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tritex/internal/events"
)

func TestHubAuthenticateBindsOnce(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	client := &WSClient{send: make(chan []byte, 4), hub: hub}

	hub.authenticate(client, "alice")
	hub.authenticate(client, "alice")

	hub.mu.RLock()
	require.Len(t, hub.userClients["alice"], 1)
	hub.mu.RUnlock()

	// One binding means one delivery.
	hub.SendToUser("alice", events.Event{
		Type:      events.TypeOrder,
		UserID:    "alice",
		Timestamp: time.Now().UTC(),
	})
	assert.Len(t, client.send, 1)
}

func TestHubAuthenticateMovesBinding(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	client := &WSClient{send: make(chan []byte, 4), hub: hub}

	hub.authenticate(client, "alice")
	hub.authenticate(client, "bob")

	hub.mu.RLock()
	assert.Empty(t, hub.userClients["alice"])
	require.Len(t, hub.userClients["bob"], 1)
	hub.mu.RUnlock()
	assert.Equal(t, "bob", client.userID)
}
