package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-quiz/backend/internal/auth"
	"github.com/aura-quiz/backend/internal/quiz"
)

func localClient(hub *Hub, channelID, id string) *Client {
	c := &Client{ID: id, ChannelID: channelID, hub: hub, send: make(chan WSMessage, 8)}
	hub.Register(c)
	return c
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func TestGateway_LocalHub(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	gw := NewGateway(hub, false)
	ctx := context.Background()

	_, err := gw.SendQuestion(ctx, "room", quiz.OutgoingQuestion{Text: "Q?", Options: []string{"a", "b"}})
	require.ErrorIs(t, err, ErrNoListeners)

	c := localClient(hub, "room", "c1")
	other := localClient(hub, "elsewhere", "c2")

	pollID, err := gw.SendQuestion(ctx, "room", quiz.OutgoingQuestion{Text: "Q?", Options: []string{"a", "b"}, OpenFor: 20 * time.Second})
	require.NoError(t, err)
	require.NotEmpty(t, pollID)

	msg := receive(t, c)
	assert.Equal(t, EventQuestion, msg.Event)
	var ev QuestionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, pollID, ev.PollID)
	assert.Equal(t, []string{"a", "b"}, ev.Options)
	assert.Equal(t, 20, ev.OpenForSeconds)

	require.NoError(t, gw.CloseQuestion(ctx, "room", pollID))
	assert.Equal(t, EventQuestionClosed, receive(t, c).Event)

	require.NoError(t, gw.SendMessage(ctx, "room", "hello"))
	msg = receive(t, c)
	assert.Equal(t, EventMessage, msg.Event)
	assert.JSONEq(t, `{"text":"hello"}`, string(msg.Data))

	assert.Empty(t, other.send)

	hub.Unregister(c)
	assert.Zero(t, hub.ChannelSize("room"))
	assert.ErrorIs(t, gw.SendMessage(ctx, "room", "bye"), ErrNoListeners)
}

func TestGateway_ThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bridge := NewRedisPubSub(client, zap.NewNop())
	t.Cleanup(bridge.Close)
	hub := NewHub(zap.NewNop(), bridge, bridge)
	gw := NewGateway(hub, true)

	c := localClient(hub, "room", "c1")
	require.NoError(t, gw.SendMessage(context.Background(), "room", "via redis"))

	msg := receive(t, c)
	assert.Equal(t, EventMessage, msg.Event)
	assert.JSONEq(t, `{"text":"via redis"}`, string(msg.Data))

	select {
	case dup := <-c.send:
		t.Fatalf("duplicate delivery: %+v", dup)
	case <-time.After(100 * time.Millisecond):
	}
	hub.Unregister(c)
}

func TestRedisPubSub_RoutesByChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	bridge := NewRedisPubSub(client, zap.NewNop())
	t.Cleanup(bridge.Close)

	got := make(chan string, 4)
	cancelA, err := bridge.SubscribeChannel("a", func(event string, _ []byte) { got <- "a:" + event })
	require.NoError(t, err)
	_, err = bridge.SubscribeChannel("b", func(event string, _ []byte) { got <- "b:" + event })
	require.NoError(t, err)

	require.NoError(t, bridge.PublishChannelEvent("b", "ping", []byte(`{}`)))
	select {
	case msg := <-got:
		assert.Equal(t, "b:ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancelA()
	require.NoError(t, bridge.PublishChannelEvent("a", "ping", []byte(`{}`)))
	select {
	case msg := <-got:
		t.Fatalf("cancelled handler received %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

type recordingInbound struct {
	mu      sync.Mutex
	answers []quiz.AnswerEvent
	touches int
}

func (r *recordingInbound) HandleAnswer(_ context.Context, ev quiz.AnswerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, ev)
	return nil
}

func (r *recordingInbound) Touch(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touches++
	return nil
}

type recordingRoster struct {
	mu    sync.Mutex
	names map[string]string
}

func (r *recordingRoster) Remember(_ context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = name
	return nil
}

func TestServeWs_ForwardsAnswers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtSvc := auth.NewJWTService("secret", 1)
	token, err := jwtSvc.Generate("alice", "Alice", "participant")
	require.NoError(t, err)

	hub := NewHub(zap.NewNop(), nil, nil)
	inbound := &recordingInbound{}
	roster := &recordingRoster{names: map[string]string{}}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, inbound, roster, jwtSvc, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channel_id=room&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "answer", Data: json.RawMessage(`{"poll_id":"p1","option":2}`)}))
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "typing"}))

	require.Eventually(t, func() bool {
		inbound.mu.Lock()
		defer inbound.mu.Unlock()
		return len(inbound.answers) == 1 && inbound.touches == 1
	}, 2*time.Second, 10*time.Millisecond)

	inbound.mu.Lock()
	ev := inbound.answers[0]
	inbound.mu.Unlock()
	assert.Equal(t, quiz.AnswerEvent{PollID: "p1", ParticipantID: "alice", DisplayName: "Alice", OptionIndex: 2}, ev)

	roster.mu.Lock()
	assert.Equal(t, "Alice", roster.names["alice"])
	roster.mu.Unlock()
	assert.Equal(t, 1, hub.ChannelSize("room"))
}

func TestServeWs_RejectsBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop(), nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, &recordingInbound{}, nil, auth.NewJWTService("secret", 1), zap.NewNop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ws?channel_id=room&token=nope", nil))
	assert.Equal(t, 401, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ws?token=nope", nil))
	assert.Equal(t, 400, w.Code)
}
