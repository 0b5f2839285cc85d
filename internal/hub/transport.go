package hub

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"

	"foodbridge/internal/access"
	"foodbridge/internal/feed"
	"foodbridge/internal/models"
	"foodbridge/internal/session"
	"foodbridge/internal/store"
)

type Profiles interface {
	GetHotelByIdentity(ctx context.Context, identityID string) (models.HotelProfile, error)
	GetAgentByIdentity(ctx context.Context, identityID string) (models.AgentProfile, error)
}

// Authorize resolves the event scope of the caller behind a handshake.
type Authorize func(r *http.Request) (feed.Scope, error)

// ScopeAuthorizer authenticates the handshake token and maps the identity to
// the profile its scope is keyed on.
func ScopeAuthorizer(auth *session.Authenticator, profiles Profiles) Authorize {
	return func(r *http.Request) (feed.Scope, error) {
		state, err := auth.StateFromRequest(r)
		if err != nil {
			return feed.Scope{}, err
		}
		if state.Identity == nil {
			return feed.Scope{}, access.ErrAuthenticationRequired
		}
		if state.RolePending {
			return feed.Scope{}, session.ErrRolePending
		}
		identity := state.Identity
		switch identity.Role {
		case models.RoleAdmin:
			return feed.Scope{Role: models.RoleAdmin}, nil
		case models.RoleHotel:
			hotel, err := profiles.GetHotelByIdentity(r.Context(), identity.ID)
			if err != nil {
				return feed.Scope{}, err
			}
			return feed.Scope{Role: models.RoleHotel, ProfileID: hotel.HotelID}, nil
		case models.RoleAgent:
			agent, err := profiles.GetAgentByIdentity(r.Context(), identity.ID)
			if err != nil {
				return feed.Scope{}, err
			}
			return feed.Scope{Role: models.RoleAgent, ProfileID: agent.AgentID}, nil
		default:
			return feed.Scope{}, access.ErrRoleMismatch
		}
	}
}

type conn interface {
	Recv() (string, error)
	Send(string) error
}

// SockJSHandler serves SockJS clients under prefix.
func SockJSHandler(h *Hub, prefix string, authorize Authorize) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(sess sockjs.Session) {
		scope, err := authorize(sess.Request())
		if err != nil {
			code, reason := closeReason(err)
			_ = sess.Close(code, reason)
			return
		}
		serve(h, sess, scope)
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves plain WebSocket clients. The token is checked
// before the upgrade so failures are ordinary HTTP errors.
func WebSocketHandler(h *Hub, authorize Authorize) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := authorize(r)
		if err != nil {
			status, reason := httpReason(err)
			if status == http.StatusServiceUnavailable {
				w.Header().Set("Retry-After", "1")
			}
			http.Error(w, reason, status)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		defer ws.Close()
		serve(h, wsConn{ws}, scope)
	})
}

type wsConn struct {
	ws *websocket.Conn
}

func (c wsConn) Recv() (string, error) {
	_, data, err := c.ws.ReadMessage()
	return string(data), err
}

func (c wsConn) Send(msg string) error {
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func serve(h *Hub, c conn, scope feed.Scope) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16), Scope: scope}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := c.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := c.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.Focus(client, "")
		} else {
			h.Focus(client, parsed.ReportID)
		}
	}
}

func closeReason(err error) (uint32, string) {
	switch {
	case errors.Is(err, access.ErrAuthenticationRequired):
		return 4001, "authentication required"
	case errors.Is(err, access.ErrRoleMismatch), errors.Is(err, store.ErrProfileNotFound):
		return 4003, "access denied"
	case errors.Is(err, session.ErrRolePending):
		return 4009, "role pending"
	default:
		log.Printf("realtime authorize error: %v", err)
		return 4500, "scope lookup failed"
	}
}

func httpReason(err error) (int, string) {
	switch {
	case errors.Is(err, access.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, access.ErrRoleMismatch), errors.Is(err, store.ErrProfileNotFound):
		return http.StatusForbidden, "access denied"
	default:
		log.Printf("realtime authorize error: %v", err)
		return http.StatusServiceUnavailable, "scope lookup failed"
	}
}
