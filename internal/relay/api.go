package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nexus-im/chatsync/internal/auth"
	"github.com/nexus-im/chatsync/store/conversation"
)

var errNoToken = errors.New("no token")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the hub and the conversation api over http.
type Server struct {
	hub           *Hub
	authenticator *auth.Authenticator
	store         conversation.Store
}

func NewServer(hub *Hub, authenticator *auth.Authenticator, store conversation.Store) *Server {
	return &Server{
		hub:           hub,
		authenticator: authenticator,
		store:         store,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, r)
			glog.V(1).Infof("[http]%s %s %d %s", r.Method, r.URL.Path, m.Code, m.Duration)
		})
	})

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWs)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodPost).Path("/api/login").HandlerFunc(s.handleLogin)
	r.Methods(http.MethodPost).Path("/api/conversations").HandlerFunc(s.handleCreateConversation)
	return r
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	claims, err := s.authenticator.ValidateToken(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[http]upgrade error = %s", err)
		return
	}
	client := newClient(s.hub, conn, claims.UserID, claims.Username)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		glog.Infof("[http]health check write error = %s", err)
	}
}

// handleLogin issues a development token for a username. There is no
// password check.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	userID := "user_" + req.Username
	token, err := s.authenticator.GenerateToken(userID, req.Username)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": userID,
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	var req struct {
		Type      string   `json:"type"`
		UserID    string   `json:"user_id"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var members []string
	switch req.Type {
	case string(conversation.TypeP2P):
		if req.UserID == "" {
			http.Error(w, "user_id is required for p2p conversations", http.StatusBadRequest)
			return
		}
		var existing *conversation.Conversation
		if req.UserID == userID {
			existing, err = s.store.GetSelfP2P(r.Context(), userID)
		} else {
			existing, err = s.store.GetP2PBetween(r.Context(), userID, req.UserID)
		}
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"conversation_id": existing.ID,
				"created":         false,
			})
			return
		}
		if !errors.Is(err, conversation.ErrConversationNotFound) {
			http.Error(w, "Failed to look up conversation", http.StatusInternalServerError)
			return
		}
		members = []string{userID}
		if req.UserID != userID {
			members = append(members, req.UserID)
		}

	case string(conversation.TypeGroup):
		if len(req.MemberIDs) == 0 {
			http.Error(w, "member_ids is required for group conversations", http.StatusBadRequest)
			return
		}
		members = []string{userID}
		for _, id := range req.MemberIDs {
			if id != "" && !conversation.IsMember(members, id) {
				members = append(members, id)
			}
		}

	default:
		http.Error(w, "Invalid conversation type", http.StatusBadRequest)
		return
	}

	convo := &conversation.Conversation{
		Type:      conversation.Type(req.Type),
		CreatedBy: userID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateConversation(r.Context(), convo, members); err != nil {
		glog.Errorf("[http]create conversation error = %s", err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"conversation_id": convo.ID,
		"created":         true,
	})
}

func (s *Server) authenticate(r *http.Request) (*auth.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errNoToken
	}
	return s.authenticator.ValidateToken(token)
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Infof("[http]response write error = %s", err)
	}
}
