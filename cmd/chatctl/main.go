package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"golang.org/x/exp/slices"
	"golang.org/x/term"

	"github.com/nexus-im/chatsync/internal/auth"
	"github.com/nexus-im/chatsync/internal/cache"
	"github.com/nexus-im/chatsync/internal/engine"
	"github.com/nexus-im/chatsync/internal/protocol"
	"github.com/nexus-im/chatsync/internal/transport"
)

const ChatCtlVersion = "0.0.1"

const defaultUrl = "ws://localhost:8080/ws"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Chat sync control.

The server url defaults to $CHATSYNC_URL, then ws://localhost:8080/ws.
The token defaults to $CHATSYNC_JWT, then is read from the terminal.

Usage:
    chatctl token [--secret=<secret>] [--validity=<validity>] <user_id> [<name>]
    chatctl listen [--url=<url>] [--jwt=<jwt>] [--chat=<chat_id>] [--v=<level>]
    chatctl send [--url=<url>] [--jwt=<jwt>] --chat=<chat_id> [--timeout=<timeout>] [--v=<level>]
        <message>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --secret=<secret>        Token signing secret. Defaults to $JWT_SECRET.
    --validity=<validity>    Token validity [default: 24h].
    --url=<url>              Server websocket url.
    --jwt=<jwt>              Session token.
    --chat=<chat_id>         Chat to join.
    --timeout=<timeout>      Wait this long for the send to settle [default: 10s].
    --v=<level>              Log verbosity.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChatCtlVersion)
	if err != nil {
		panic(err)
	}

	if level, _ := opts.String("--v"); level != "" {
		flag.Set("logtostderr", "true")
		flag.Set("v", level)
	}
	defer glog.Flush()

	if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if listen_, _ := opts.Bool("listen"); listen_ {
		listen(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	}
}

// mint a development token
func token(opts docopt.Opts) {
	secret, _ := opts.String("--secret")
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		Err.Fatalf("No signing secret. Set --secret or JWT_SECRET.")
	}
	validityStr, _ := opts.String("--validity")
	validity, err := time.ParseDuration(validityStr)
	if err != nil {
		Err.Fatalf("Bad validity: %s", err)
	}
	userId, _ := opts.String("<user_id>")
	name, _ := opts.String("<name>")
	if name == "" {
		name = userId
	}

	jwt, err := auth.NewAuthenticator(secret, "chatsync", validity).GenerateToken(userId, name)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	Out.Printf("%s", jwt)
}

// print presence, typing, unread and message changes until interrupted
func listen(opts docopt.Opts) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newClient(ctx, opts)
	defer client.engine.Disconnect()

	if chatId, _ := opts.String("--chat"); chatId != "" {
		client.engine.JoinChat(chatId)
	}

	var last string
	printed := map[string]int{}
	for {
		changed := client.engine.Changed()

		snapshot := client.engine.Snapshot()
		if line := formatSnapshot(snapshot); line != last {
			Out.Printf("%s", line)
			last = line
		}
		for _, key := range client.cache.Keys(cache.CollectionMessages) {
			messages, _ := cache.Get[[]protocol.Message](client.cache, key)
			start := printed[key.ID]
			if len(messages) < start {
				// provisional messages were replaced or rolled back
				start = 0
				for start < len(messages) && !messages[start].Provisional() {
					start++
				}
			}
			for _, m := range messages[start:] {
				Out.Printf("%s", formatMessage(m))
			}
			printed[key.ID] = len(messages)
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-client.keys:
		}
	}
}

// send a message and wait until the server confirms or rejects it
func send(opts docopt.Opts) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	timeoutStr, _ := opts.String("--timeout")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		Err.Fatalf("Bad timeout: %s", err)
	}
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	client := newClient(ctx, opts)
	defer client.engine.Disconnect()

	if !client.waitFor(ctx, func() bool {
		return client.engine.Connected()
	}) {
		Err.Fatalf("Could not connect.")
	}

	chatId, _ := opts.String("--chat")
	text, _ := opts.String("<message>")
	client.engine.JoinChat(chatId)
	clientId := client.engine.SendMessage(chatId, text, client.sender)
	if clientId == "" {
		Err.Fatalf("Not connected.")
	}

	if !client.waitFor(ctx, func() bool {
		return len(client.engine.PendingSends()) == 0
	}) {
		Err.Fatalf("Timed out waiting for %s.", clientId)
	}

	messages, _ := cache.Get[[]protocol.Message](client.cache, cache.MessagesKey(chatId))
	if id, ok := confirmedId(messages, clientId, client.sender, text); ok {
		Out.Printf("%s", id)
		return
	}
	Err.Fatalf("Send %s was rejected.", clientId)
}

// confirmedId finds the durable message a settled send became. A server that
// does not echo the client id is matched on sender and text once the
// provisional message is gone.
func confirmedId(messages []protocol.Message, clientId string, sender protocol.Sender, text string) (string, bool) {
	for _, m := range messages {
		if m.ClientID == clientId {
			return m.ID, true
		}
	}
	for _, m := range messages {
		if m.ID == clientId {
			return "", false
		}
	}
	for i := len(messages) - 1; 0 <= i; i-- {
		m := messages[i]
		if !m.Provisional() && m.ClientID == "" && m.Sender.ID == sender.ID && m.Text == text {
			return m.ID, true
		}
	}
	return "", false
}

type client struct {
	engine *engine.Engine
	cache  *cache.Memory
	sender protocol.Sender
	keys   chan cache.Key
}

func newClient(ctx context.Context, opts docopt.Opts) *client {
	url, _ := opts.String("--url")
	if url == "" {
		url = os.Getenv("CHATSYNC_URL")
	}
	if url == "" {
		url = defaultUrl
	}

	jwt := readJwt(opts)
	claims, err := auth.ParseUnverified(jwt)
	if err != nil {
		Err.Fatalf("Bad token: %s", err)
	}

	c := &client{
		engine: engine.NewWithDefaults(ctx, transport.NewWebsocketDialer(url)),
		cache:  cache.NewMemory(),
		sender: protocol.Sender{
			ID:   claims.UserID,
			Name: claims.Username,
		},
		keys: make(chan cache.Key, 1),
	}
	// the watcher runs under the engine lock; only signal here
	c.cache.Watch(func(key cache.Key) {
		select {
		case c.keys <- key:
		default:
		}
	})
	c.engine.Connect(jwt, c.cache)
	return c
}

func (c *client) waitFor(ctx context.Context, cond func() bool) bool {
	for {
		changed := c.engine.Changed()
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-changed:
		}
	}
}

func readJwt(opts docopt.Opts) string {
	jwt, _ := opts.String("--jwt")
	if jwt == "" {
		jwt = os.Getenv("CHATSYNC_JWT")
	}
	if jwt == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "jwt: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("%s", err)
		}
		jwt = strings.TrimSpace(string(b))
	}
	if jwt == "" {
		Err.Fatalf("No token. Set --jwt or CHATSYNC_JWT.")
	}
	return jwt
}

func formatSnapshot(snapshot *engine.Snapshot) string {
	typing := []string{}
	for chatId, userId := range snapshot.Typing {
		typing = append(typing, fmt.Sprintf("%s@%s", userId, chatId))
	}
	slices.Sort(typing)
	return fmt.Sprintf(
		"[%s] online=%v typing=%v unread=%v focus=%s",
		snapshot.State,
		snapshot.OnlineUsers,
		typing,
		snapshot.UnreadChats,
		snapshot.FocusedChat,
	)
}

func formatMessage(m protocol.Message) string {
	status := ""
	if m.Provisional() {
		status = " (sending)"
	}
	name := m.Sender.Name
	if name == "" {
		name = m.Sender.ID
	}
	return fmt.Sprintf("%s %s: %s%s", m.ChatID, name, m.Text, status)
}
