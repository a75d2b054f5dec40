package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
)

// fakeAuthorizer allows the (consultation, user) pairs it holds.
type fakeAuthorizer struct {
	parties map[int64][]int64
}

func (f *fakeAuthorizer) AuthorizeParty(_ context.Context, consultationID, userID int64) error {
	members, ok := f.parties[consultationID]
	if !ok {
		return apperror.NotFound("consultation")
	}
	for _, id := range members {
		if id == userID {
			return nil
		}
	}
	return apperror.ErrForbidden
}

func newTestClient(id string, userID int64, topics ...string) *Client {
	return &Client{ID: id, UserID: userID, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestConsultationTopic(t *testing.T) {
	if got := ConsultationTopic(42); got != "consultation:42" {
		t.Errorf("expected consultation:42, got %s", got)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("client-1", 1, ConsultationTopic(7))

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(ConsultationTopic(7)) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(ConsultationTopic(7)))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(ConsultationTopic(7)) != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.TopicCount(ConsultationTopic(7)))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// A second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newTestClient("sub-1", 1, ConsultationTopic(1))
	other := newTestClient("sub-2", 2, ConsultationTopic(2))
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast(ConsultationTopic(1), Event{
		Type:           EventMessageCreated,
		Topic:          ConsultationTopic(1),
		ConsultationID: 1,
		Timestamp:      time.Now(),
	})

	select {
	case msg := <-subscriber.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if received.Type != EventMessageCreated || received.ConsultationID != 1 {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("client on another consultation should not receive the event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast(ConsultationTopic(99), Event{Type: EventMessageCreated})
}

func TestHub_BroadcastSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{"t"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast("t", Event{Type: "a"})
	hub.Broadcast("t", Event{Type: "b"})

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(client.Send))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("dyn", 1)
	hub.Register(client)

	hub.Subscribe(client, []string{ConsultationTopic(1), ConsultationTopic(2)})
	hub.Subscribe(client, []string{ConsultationTopic(1)})
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", client.Topics)
	}

	hub.Unsubscribe(client, []string{ConsultationTopic(1)})
	if hub.TopicCount(ConsultationTopic(1)) != 0 {
		t.Fatal("expected no subscribers on consultation 1")
	}
	if hub.TopicCount(ConsultationTopic(2)) != 1 {
		t.Fatal("expected subscriber on consultation 2")
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic remaining, got %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	const n = 100

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = newTestClient("concurrent-"+strconv.Itoa(i), int64(i), "shared")
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(c *Client) {
			defer wg.Done()
			hub.Register(c)
			hub.Unregister(c)
		}(clients[i])
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("shared") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.TopicCount("shared"))
	}
}

func TestHub_PublishImplementsEventPublisher(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient("pub", 1, ConsultationTopic(5))
	hub.Register(client)

	var publisher EventPublisher = hub
	err := publisher.Publish(context.Background(), Event{
		Type:           EventMessageCreated,
		Topic:          ConsultationTopic(5),
		ConsultationID: 5,
		Data:           json.RawMessage(`{"description":"hello"}`),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-client.Send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		var data map[string]string
		if err := json.Unmarshal(received.Data, &data); err != nil {
			t.Fatalf("failed to unmarshal data: %v", err)
		}
		if data["description"] != "hello" {
			t.Fatalf("expected description hello, got %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive published event")
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func newTestHandler(hub *Hub) *WebSocketHandler {
	authz := &fakeAuthorizer{parties: map[int64][]int64{
		10: {1, 2},
		11: {3, 4},
	}}
	return NewWebSocketHandler(hub, authz, []string{"http://localhost:3000"}, zerolog.Nop())
}

func TestWebSocketHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	newTestHandler(NewHub(zerolog.Nop())).RegisterRoutes(e.Group(""))

	for _, r := range e.Routes() {
		if r.Path == "/ws" && r.Method == http.MethodGet {
			return
		}
	}
	t.Fatal("expected GET /ws route to be registered")
}

func TestWebSocketHandler_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := newTestHandler(hub)
	client := newTestClient("p", 1)
	hub.Register(client)

	handler.ProcessMessage(context.Background(), client, ClientMessage{
		Action:          "subscribe",
		ConsultationIDs: []int64{10, 11, 12},
	})
	if hub.TopicCount(ConsultationTopic(10)) != 1 {
		t.Fatal("expected subscription to own consultation")
	}
	if hub.TopicCount(ConsultationTopic(11)) != 0 {
		t.Fatal("subscription to another user's consultation must be refused")
	}
	if hub.TopicCount(ConsultationTopic(12)) != 0 {
		t.Fatal("subscription to a missing consultation must be refused")
	}

	handler.ProcessMessage(context.Background(), client, ClientMessage{
		Action:          "unsubscribe",
		ConsultationIDs: []int64{10},
	})
	if hub.TopicCount(ConsultationTopic(10)) != 0 {
		t.Fatal("expected unsubscribe to remove the topic")
	}
}

func TestWebSocketHandler_HandleConnect_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		user   *auth.User
		query  string
		status int
	}{
		{"no session", nil, "consultation=10", http.StatusFound},
		{"bad id", &auth.User{ID: 1}, "consultation=abc", http.StatusBadRequest},
		{"not a party", &auth.User{ID: 3}, "consultation=10", http.StatusForbidden},
		{"missing consultation", &auth.User{ID: 1}, "consultation=404", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zerolog.Nop())
			handler := newTestHandler(hub)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.user != nil {
				req = req.WithContext(auth.WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := handler.HandleConnect(c)
			status := rec.Code
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			if status != tt.status {
				t.Fatalf("expected %d, got %d (err=%v)", tt.status, status, err)
			}
			if hub.ClientCount() != 0 {
				t.Fatal("rejected request must not register a client")
			}
		})
	}
}

func TestWebSocketHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := newTestHandler(NewHub(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?consultation=10", nil)
	req = req.WithContext(auth.WithUser(req.Context(), &auth.User{ID: 1}))
	rec := httptest.NewRecorder()

	err := handler.HandleConnect(e.NewContext(req, rec))
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000/"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
	if !check(req) {
		t.Error("request without Origin should pass")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !check(req) {
		t.Error("configured origin should pass")
	}
	req.Header.Set("Origin", "http://api.example.com")
	if !check(req) {
		t.Error("same-host origin should pass")
	}
	req.Header.Set("Origin", "http://evil.example.net")
	if check(req) {
		t.Error("foreign origin should be refused")
	}
	if !originChecker([]string{"*"})(req) {
		t.Error("wildcard should accept any origin")
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := newTestHandler(hub)

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), &auth.User{ID: 2})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	handler.RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?consultation=10"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(ConsultationTopic(10)) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(ConsultationTopic(10)) != 1 {
		t.Fatal("expected the connection to be subscribed to consultation 10")
	}

	// A subscription to someone else's consultation is ignored.
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", ConsultationIDs: []int64{11}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if hub.TopicCount(ConsultationTopic(11)) != 0 {
		t.Fatal("expected subscription to consultation 11 to be refused")
	}

	hub.Broadcast(ConsultationTopic(10), Event{
		Type:           EventMessageCreated,
		Topic:          ConsultationTopic(10),
		ConsultationID: 10,
		Timestamp:      time.Now(),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != EventMessageCreated || received.ConsultationID != 10 {
		t.Fatalf("unexpected event %+v", received)
	}
}
