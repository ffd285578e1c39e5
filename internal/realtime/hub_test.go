package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/realtime/bus"
)

func realtimeTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return log
}

// dialConn spins up a real websocket pair: the wrapped server side and
// the raw client side.
func dialConn(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	log := realtimeTestLogger(t)
	upgrader := websocket.Upgrader{}
	connCh := make(chan *Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewConn(ws, log)
		go c.WritePump()
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	conn := <-connCh
	t.Cleanup(conn.Close)
	return conn, client
}

func readFrame(t *testing.T, client *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, client.ReadJSON(&frame))
	return frame
}

func TestHubDeliversToLocalSocket(t *testing.T) {
	hub := NewHub(nil, realtimeTestLogger(t))
	conn, client := dialConn(t)
	hub.Attach("user-1", domain.PlatformWeb, conn)

	msg := &domain.Message{
		ID:        uuid.New(),
		Content:   "Tu pedido está en camino.",
		CreatedAt: time.Now().UTC(),
	}
	assert.True(t, hub.Deliver("user-1", domain.PlatformWeb, msg))

	frame := readFrame(t, client)
	assert.Equal(t, FrameAgentResponse, frame.Type)
	assert.Equal(t, msg.ID.String(), frame.MessageID)
	assert.Equal(t, "Tu pedido está en camino.", frame.Text)
	assert.NotEmpty(t, frame.CreatedAt)
}

func TestHubDeliverWithoutSocketReportsUndelivered(t *testing.T) {
	hub := NewHub(nil, realtimeTestLogger(t))
	msg := &domain.Message{ID: uuid.New(), Content: "hola"}
	assert.False(t, hub.Deliver("nobody", domain.PlatformWeb, msg))
}

func TestHubDetachStopsDelivery(t *testing.T) {
	hub := NewHub(nil, realtimeTestLogger(t))
	conn, _ := dialConn(t)
	hub.Attach("user-1", domain.PlatformWeb, conn)
	hub.Detach("user-1", domain.PlatformWeb, conn)

	msg := &domain.Message{ID: uuid.New(), Content: "hola"}
	assert.False(t, hub.Deliver("user-1", domain.PlatformWeb, msg))
}

func TestHubFansOutAcrossInstances(t *testing.T) {
	shared := bus.NewLocalBus()
	hub1 := NewHub(shared, realtimeTestLogger(t))
	hub2 := NewHub(shared, realtimeTestLogger(t))

	conn, client := dialConn(t)
	hub2.Attach("user-1", domain.PlatformWeb, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub2.Run(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the subscription land

	msg := &domain.Message{ID: uuid.New(), Content: "desde otra instancia", CreatedAt: time.Now().UTC()}
	delivered := hub1.Deliver("user-1", domain.PlatformWeb, msg)
	assert.False(t, delivered, "no local socket on the publishing instance")

	frame := readFrame(t, client)
	assert.Equal(t, "desde otra instancia", frame.Text)
}

func TestHubSkipsItsOwnBroadcast(t *testing.T) {
	shared := bus.NewLocalBus()
	hub := NewHub(shared, realtimeTestLogger(t))

	conn, client := dialConn(t)
	hub.Attach("user-1", domain.PlatformWeb, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	msg := &domain.Message{ID: uuid.New(), Content: "una sola vez", CreatedAt: time.Now().UTC()}
	assert.True(t, hub.Deliver("user-1", domain.PlatformWeb, msg))

	first := readFrame(t, client)
	assert.Equal(t, "una sola vez", first.Text)

	// The instance's own bus echo must not produce a duplicate.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var dup Frame
	assert.Error(t, client.ReadJSON(&dup), "no second frame expected")
}

func TestHubAttachReplacesPreviousSocket(t *testing.T) {
	hub := NewHub(nil, realtimeTestLogger(t))
	old, _ := dialConn(t)
	fresh, client := dialConn(t)

	hub.Attach("user-1", domain.PlatformWeb, old)
	hub.Attach("user-1", domain.PlatformWeb, fresh)

	msg := &domain.Message{ID: uuid.New(), Content: "al socket nuevo", CreatedAt: time.Now().UTC()}
	assert.True(t, hub.Deliver("user-1", domain.PlatformWeb, msg))
	assert.Equal(t, "al socket nuevo", readFrame(t, client).Text)

	// The replaced socket was closed by the hub.
	assert.False(t, old.Send(SystemFrame("x")))
}

func TestReadLoopDispatchesAndRejectsBadFrames(t *testing.T) {
	conn, client := dialConn(t)

	var mu sync.Mutex
	var got []Frame
	go conn.ReadLoop(func(f Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	require.NoError(t, client.WriteJSON(Frame{Type: FrameUserMessage, Text: "hola", ClientMsgID: "c1"}))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))

	errFrame := readFrame(t, client)
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, "bad_frame", errFrame.Code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "hola", got[0].Text)
	assert.Equal(t, "c1", got[0].ClientMsgID)
	mu.Unlock()
}

func TestFrameHelpers(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	msg := &domain.Message{ID: uuid.New(), Content: "hola", CreatedAt: at}

	agent := AgentFrame(msg)
	assert.Equal(t, FrameAgentResponse, agent.Type)
	assert.Equal(t, msg.ID.String(), agent.MessageID)
	assert.Equal(t, "2026-03-10T12:00:00Z", agent.CreatedAt)

	system := SystemFrame("reconnected")
	assert.Equal(t, FrameSystem, system.Type)
	assert.Equal(t, "reconnected", system.Text)

	errFrame := ErrorFrame("overloaded", "try later")
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, "overloaded", errFrame.Code)
}
