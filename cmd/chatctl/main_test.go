package main

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/nexus-im/chatsync/internal/protocol"
)

var me = protocol.Sender{ID: "me", Name: "Me"}

func TestConfirmedIdEchoed(t *testing.T) {
	messages := []protocol.Message{
		{ID: "m1", Sender: me, Text: "hello"},
		{ID: "m2", Sender: me, Text: "hello", ClientID: "temp-1"},
	}
	id, ok := confirmedId(messages, "temp-1", me, "hello")
	assert.Equal(t, ok, true)
	assert.Equal(t, id, "m2")
}

func TestConfirmedIdWithoutEcho(t *testing.T) {
	messages := []protocol.Message{
		{ID: "m1", Sender: me, Text: "hello"},
		{ID: "m2", Sender: protocol.Sender{ID: "u1"}, Text: "hello"},
		{ID: "m3", Sender: me, Text: "hello"},
		{ID: "m4", Sender: me, Text: "other"},
	}
	id, ok := confirmedId(messages, "temp-1", me, "hello")
	assert.Equal(t, ok, true)
	assert.Equal(t, id, "m3")
}

func TestConfirmedIdRejected(t *testing.T) {
	// rolled back, nothing durable from this sender with this text
	messages := []protocol.Message{
		{ID: "m1", Sender: protocol.Sender{ID: "u1"}, Text: "hello"},
		{ID: "m2", Sender: me, Text: "other"},
	}
	_, ok := confirmedId(messages, "temp-1", me, "hello")
	assert.Equal(t, ok, false)

	_, ok = confirmedId(nil, "temp-1", me, "hello")
	assert.Equal(t, ok, false)

	// a durable match that echoes another send does not count
	messages = []protocol.Message{
		{ID: "m3", Sender: me, Text: "hello", ClientID: "temp-0"},
	}
	_, ok = confirmedId(messages, "temp-1", me, "hello")
	assert.Equal(t, ok, false)
}

func TestConfirmedIdStillProvisional(t *testing.T) {
	messages := []protocol.Message{
		{ID: "m1", Sender: me, Text: "hello"},
		{ID: "temp-1", Sender: me, Text: "hello"},
	}
	_, ok := confirmedId(messages, "temp-1", me, "hello")
	assert.Equal(t, ok, false)
}
