// Package relay is a chat server speaking the event protocol: it tracks who is
// online, persists messages and fans events out to conversation members.
package relay

import (
	"context"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/nexus-im/chatsync/internal/protocol"
	"github.com/nexus-im/chatsync/store/conversation"
)

type Settings struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func DefaultSettings() *Settings {
	return &Settings{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

type inboundEvent struct {
	client *Client
	env    *protocol.Envelope
}

// Hub owns every connected client. All client and presence state is confined
// to the Run goroutine.
type Hub struct {
	store    conversation.Store
	settings *Settings

	clients map[*Client]bool
	// user id -> connections of the user
	users map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan *inboundEvent
	done       chan struct{}
}

func NewHub(store conversation.Store, settings *Settings) *Hub {
	return &Hub{
		store:      store,
		settings:   settings,
		clients:    map[*Client]bool{},
		users:      map[string]map[*Client]bool{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundEvent),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case in := <-h.inbound:
			if h.clients[in.client] {
				h.handle(ctx, in.client, in.env)
			}
		}
	}
}

// Register hands client to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) receive(client *Client, env *protocol.Envelope) {
	select {
	case h.inbound <- &inboundEvent{client: client, env: env}:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	h.clients[client] = true
	connections, ok := h.users[client.userID]
	if !ok {
		connections = map[*Client]bool{}
		h.users[client.userID] = connections
	}
	connections[client] = true
	glog.Infof("[hub]+%s (%d connections)", client.userID, len(connections))

	userIDs := make([]string, 0, len(h.users))
	for userID := range h.users {
		userIDs = append(userIDs, userID)
	}
	slices.Sort(userIDs)
	h.deliver(client, protocol.EventOnlineUsers, &protocol.OnlineUsers{UserIDs: userIDs})

	if len(connections) == 1 {
		h.broadcast(protocol.EventUserOnline, &protocol.UserPresence{UserID: client.userID}, client.userID)
	}
}

func (h *Hub) remove(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	connections := h.users[client.userID]
	delete(connections, client)
	glog.Infof("[hub]-%s (%d connections)", client.userID, len(connections))
	if len(connections) == 0 {
		delete(h.users, client.userID)
		h.broadcast(protocol.EventUserOffline, &protocol.UserPresence{UserID: client.userID}, client.userID)
	}
}

// broadcast sends to every client not belonging to exceptUserID.
func (h *Hub) broadcast(event string, data any, exceptUserID string) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		glog.Errorf("[hub]encode %s error = %s", event, err)
		return
	}
	for client := range h.clients {
		if client.userID != exceptUserID {
			h.write(client, frame)
		}
	}
}

// deliverToUsers sends to every connection of each of userIDs.
func (h *Hub) deliverToUsers(userIDs []string, event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		glog.Errorf("[hub]encode %s error = %s", event, err)
		return
	}
	for _, userID := range userIDs {
		for client := range h.users[userID] {
			h.write(client, frame)
		}
	}
}

func (h *Hub) deliver(client *Client, event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		glog.Errorf("[hub]encode %s error = %s", event, err)
		return
	}
	h.write(client, frame)
}

// write queues frame for client. A client that cannot keep up is dropped.
func (h *Hub) write(client *Client, frame []byte) {
	if !h.clients[client] {
		return
	}
	select {
	case client.send <- frame:
	default:
		glog.Infof("[hub]drop slow client %s", client.userID)
		h.remove(client)
	}
}
