package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"foodbridge/internal/feed"
	"foodbridge/internal/models"
	"foodbridge/internal/session"
	"foodbridge/internal/store"
	"foodbridge/internal/store/memory"
)

func event(reportID, hotelID, agentID, from, to string) store.ChangeEvent {
	return store.ChangeEvent{
		EventID:    "e-" + reportID + "-" + to,
		Type:       store.EventReportUpdated,
		ReportID:   reportID,
		HotelID:    hotelID,
		AgentID:    agentID,
		FromStatus: from,
		ToStatus:   to,
		Report:     models.FoodReport{ReportID: reportID, HotelID: hotelID, Status: to},
	}
}

func register(h *Hub, id string, scope feed.Scope) *Client {
	client := &Client{ID: id, Send: make(chan []byte, 4), Scope: scope}
	h.Register(client)
	return client
}

func received(client *Client) int {
	return len(client.Send)
}

func TestBroadcastFiltersByScope(t *testing.T) {
	h := New()
	admin := register(h, "admin", feed.Scope{Role: models.RoleAdmin})
	owner := register(h, "owner", feed.Scope{Role: models.RoleHotel, ProfileID: "h1"})
	other := register(h, "other", feed.Scope{Role: models.RoleHotel, ProfileID: "h2"})
	agent := register(h, "agent", feed.Scope{Role: models.RoleAgent, ProfileID: "a1"})
	bystander := register(h, "bystander", feed.Scope{Role: models.RoleAgent, ProfileID: "a2"})

	h.Broadcast(event("r1", "h1", "a1", models.StatusNew, models.StatusAssigned))

	want := map[*Client]int{admin: 1, owner: 1, other: 0, agent: 1, bystander: 0}
	for client, n := range want {
		if got := received(client); got != n {
			t.Fatalf("client %s: expected %d messages, got %d", client.ID, n, got)
		}
	}

	var env Envelope
	if err := json.Unmarshal(<-owner.Send, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.ReportID != "r1" || env.FromStatus != models.StatusNew || env.ToStatus != models.StatusAssigned {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestFocusNarrowsToOneReport(t *testing.T) {
	h := New()
	client := register(h, "admin", feed.Scope{Role: models.RoleAdmin})
	h.Focus(client, "r2")

	h.Broadcast(event("r1", "h1", "", "", models.StatusNew))
	h.Broadcast(event("r2", "h1", "", "", models.StatusNew))
	if received(client) != 1 {
		t.Fatalf("expected only r2, got %d messages", received(client))
	}
}

func TestBroadcastDropsForSlowClients(t *testing.T) {
	h := New()
	client := &Client{ID: "slow", Send: make(chan []byte, 1), Scope: feed.Scope{Role: models.RoleAdmin}}
	h.Register(client)
	h.Broadcast(event("r1", "h1", "", "", models.StatusNew))
	h.Broadcast(event("r2", "h1", "", "", models.StatusNew))
	if received(client) != 1 {
		t.Fatalf("expected one buffered message")
	}
	h.Unregister(client)
	h.Unregister(client)
	if h.Len() != 0 {
		t.Fatalf("expected client removed")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","report_id":"r1"}`))
	if !ok || msg.ReportID != "r1" {
		t.Fatalf("unexpected parse %+v %v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"shout"}`)); ok {
		t.Fatalf("unknown action must be rejected")
	}
	if _, ok := ParseSubscribe([]byte(`nope`)); ok {
		t.Fatalf("invalid json must be rejected")
	}
}

type scriptedConn struct {
	in   chan string
	sent chan string
}

func (c *scriptedConn) Recv() (string, error) {
	msg, ok := <-c.in
	if !ok {
		return "", io.EOF
	}
	return msg, nil
}

func (c *scriptedConn) Send(msg string) error {
	c.sent <- msg
	return nil
}

func TestServeHandlesSubscriptions(t *testing.T) {
	h := New()
	c := &scriptedConn{in: make(chan string), sent: make(chan string, 4)}
	done := make(chan struct{})
	go func() {
		serve(h, c, feed.Scope{Role: models.RoleAdmin})
		close(done)
	}()

	c.in <- `{"action":"subscribe","report_id":"r2"}`
	c.in <- `ignored`
	h.Broadcast(event("r1", "h1", "", "", models.StatusNew))
	h.Broadcast(event("r2", "h1", "", "", models.StatusNew))

	select {
	case msg := <-c.sent:
		if !strings.Contains(msg, `"report_id":"r2"`) {
			t.Fatalf("unexpected message %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered")
	}

	close(c.in)
	<-done
	if h.Len() != 0 {
		t.Fatalf("client should be unregistered on disconnect")
	}
}

func newAuthorizer(t *testing.T) (Authorize, *session.Verifier, string) {
	t.Helper()
	st := memory.New(memory.Options{})
	ctx := context.Background()
	if err := st.SetRole(ctx, "hotel-identity", models.RoleHotel); err != nil {
		t.Fatalf("set role: %v", err)
	}
	hotel, err := st.SaveHotel(ctx, models.HotelProfile{IdentityID: "hotel-identity", Name: "Taj", Area: "Colaba"})
	if err != nil {
		t.Fatalf("save hotel: %v", err)
	}
	if err := st.SetRole(ctx, "agent-identity", models.RoleAgent); err != nil {
		t.Fatalf("set role: %v", err)
	}
	verifier := session.NewVerifier("secret", "")
	auth := session.NewAuthenticator(verifier, session.NewResolver(st, time.Minute, time.Second))
	return ScopeAuthorizer(auth, st), verifier, hotel.HotelID
}

func TestScopeAuthorizer(t *testing.T) {
	authorize, verifier, hotelID := newAuthorizer(t)

	hotelToken, _ := verifier.Issue("hotel-identity", "", time.Minute)
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+hotelToken, nil)
	scope, err := authorize(req)
	if err != nil || scope.Role != models.RoleHotel || scope.ProfileID != hotelID {
		t.Fatalf("unexpected scope %+v err=%v", scope, err)
	}

	if _, err := authorize(httptest.NewRequest(http.MethodGet, "/ws", nil)); err == nil {
		t.Fatalf("expected authentication error")
	}

	agentToken, _ := verifier.Issue("agent-identity", "", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+agentToken)
	if _, err := authorize(req); !errors.Is(err, store.ErrProfileNotFound) {
		t.Fatalf("agent without profile should be rejected, got %v", err)
	}

	strangerToken, _ := verifier.Issue("stranger", "", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/ws?access_token="+strangerToken, nil)
	if code, _ := closeReason(func() error { _, err := authorize(req); return err }()); code != 4003 {
		t.Fatalf("identity without role should close with 4003, got %d", code)
	}
}

func TestWebSocketHandlerRejectsAnonymous(t *testing.T) {
	authorize, _, _ := newAuthorizer(t)
	rec := httptest.NewRecorder()
	WebSocketHandler(New(), authorize).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebSocketDeliversScopedEvents(t *testing.T) {
	authorize, verifier, hotelID := newAuthorizer(t)
	h := New()
	server := httptest.NewServer(WebSocketHandler(h, authorize))
	defer server.Close()

	token, _ := verifier.Issue("hotel-identity", "", time.Minute)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?access_token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast(event("other", "h9", "", "", models.StatusNew))
	h.Broadcast(event("mine", hotelID, "", "", models.StatusNew))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ReportID != "mine" {
		t.Fatalf("expected only own report, got %+v", env)
	}
}
