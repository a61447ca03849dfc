package protocol

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeDecode(t *testing.T) {
	b, err := Encode(EventSendMessage, &SendMessage{ChatID: "c1", Text: "hello", ClientID: "temp-1"})
	assert.Equal(t, err, nil)

	env, err := Decode(b)
	assert.Equal(t, err, nil)
	assert.Equal(t, env.Event, EventSendMessage)

	var send SendMessage
	assert.Equal(t, env.Unmarshal(&send), nil)
	assert.Equal(t, send.ChatID, "c1")
	assert.Equal(t, send.Text, "hello")
	assert.Equal(t, send.ClientID, "temp-1")
}

func TestEncodeStringPayload(t *testing.T) {
	b, err := Encode(EventJoinChat, "c1")
	assert.Equal(t, err, nil)
	assert.Equal(t, string(b), `{"event":"join-chat","data":"c1"}`)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"data":1}`))
	assert.Equal(t, err, ErrMissingEvent)

	_, err = Decode([]byte(`not json`))
	assert.NotEqual(t, err, nil)

	env, err := Decode([]byte(`{"event":"typing"}`))
	assert.Equal(t, err, nil)
	var typing Typing
	assert.NotEqual(t, env.Unmarshal(&typing), nil)
}

func TestSenderAcceptsIdOrObject(t *testing.T) {
	var populated Message
	err := json.Unmarshal([]byte(`{"_id":"m1","chat":"c1","sender":{"_id":"u1","name":"Ana"},"text":"hi"}`), &populated)
	assert.Equal(t, err, nil)
	assert.Equal(t, populated.Sender.ID, "u1")
	assert.Equal(t, populated.Sender.Name, "Ana")

	var bare Message
	err = json.Unmarshal([]byte(`{"_id":"m2","chat":"c1","sender":"u2","text":"hi"}`), &bare)
	assert.Equal(t, err, nil)
	assert.Equal(t, bare.Sender.ID, "u2")
	assert.Equal(t, bare.Sender.Name, "")
}

func TestProvisionalIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewProvisionalID()
		assert.Equal(t, IsProvisional(id), true)
		assert.Equal(t, seen[id], false)
		seen[id] = true
	}
	assert.Equal(t, IsProvisional("m1"), false)
	assert.Equal(t, (&Message{ID: "temp-x"}).Provisional(), true)
}
