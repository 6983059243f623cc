package mediastream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPair returns a server-side Conn and the Twilio-side client socket
func newTestPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- NewConn(ws, Config{})
	}))
	t.Cleanup(server.Close)

	twilio, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { twilio.Close() })

	select {
	case c := <-connCh:
		c.Start()
		t.Cleanup(func() { c.Close() })
		return c, twilio
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
		return nil, nil
	}
}

func nextEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for media stream event")
		return Event{}
	}
}

func TestParseInboundEvents(t *testing.T) {
	conn, twilio := newTestPair(t)

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ1","callSid":"CA1","accountSid":"AC1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},"customParameters":{"from":"+15551234567"}},"streamSid":"MZ1"}`,
		`{"event":"media","sequenceNumber":"2","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"abcd"},"streamSid":"MZ1"}`,
		`{"event":"stop","sequenceNumber":"3","stop":{"accountSid":"AC1","callSid":"CA1"},"streamSid":"MZ1"}`,
	}
	for _, f := range frames {
		require.NoError(t, twilio.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	ev := nextEvent(t, conn)
	assert.Equal(t, EventConnected, ev.Type)

	ev = nextEvent(t, conn)
	require.Equal(t, EventStart, ev.Type)
	assert.Equal(t, "MZ1", ev.Message.Start.StreamSID)
	assert.Equal(t, "CA1", ev.Message.Start.CallSID)
	assert.Equal(t, "audio/x-mulaw", ev.Message.Start.MediaFormat.Encoding)
	assert.Equal(t, 8000, ev.Message.Start.MediaFormat.SampleRate)
	assert.Equal(t, "+15551234567", ev.Message.Start.CustomParameters["from"])

	ev = nextEvent(t, conn)
	require.Equal(t, EventMedia, ev.Type)
	assert.Equal(t, "abcd", ev.Message.Media.Payload)

	ev = nextEvent(t, conn)
	assert.Equal(t, EventStop, ev.Type)
}

func TestMalformedFramesDropped(t *testing.T) {
	conn, twilio := newTestPair(t)

	bad := []string{
		`not json at all`,
		`{"sequenceNumber":"1"}`,
		`{"event":"start"}`,
		`{"event":"media"}`,
	}
	for _, f := range bad {
		require.NoError(t, twilio.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	require.NoError(t, twilio.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"media","media":{"payload":"ok"}}`)))

	ev := nextEvent(t, conn)
	require.Equal(t, EventMedia, ev.Type)
	assert.Equal(t, "ok", ev.Message.Media.Payload)
	assert.True(t, conn.IsOpen())
}

func TestUnknownEventPassedThrough(t *testing.T) {
	conn, twilio := newTestPair(t)

	require.NoError(t, twilio.WriteMessage(websocket.TextMessage, []byte(`{"event":"something_new"}`)))

	ev := nextEvent(t, conn)
	assert.Equal(t, "something_new", ev.Type)
}

func TestSendAudioFrame(t *testing.T) {
	conn, twilio := newTestPair(t)

	require.NoError(t, conn.SendAudio("S1", "xyz"))

	twilio.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := twilio.ReadMessage()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]interface{}{
		"event":     "media",
		"streamSid": "S1",
		"media":     map[string]interface{}{"payload": "xyz"},
	}, got)
}

func TestSendMarkAndClear(t *testing.T) {
	conn, twilio := newTestPair(t)

	require.NoError(t, conn.SendMark("S1", "greeting"))
	require.NoError(t, conn.SendClear("S1"))

	twilio.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := twilio.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"mark","streamSid":"S1","mark":{"name":"greeting"}}`, string(data))

	_, data, err = twilio.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"clear","streamSid":"S1"}`, string(data))
}

func TestPeerCloseEmitsClosedOnce(t *testing.T) {
	conn, twilio := newTestPair(t)

	require.NoError(t, twilio.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	ev := nextEvent(t, conn)
	assert.Equal(t, EventClosed, ev.Type)
	assert.NoError(t, ev.Err)
	assert.False(t, conn.IsOpen())

	// Sending after the peer left is silently dropped
	assert.NoError(t, conn.SendAudio("S1", "late"))

	select {
	case ev := <-conn.Events():
		t.Fatalf("unexpected second event %q", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, twilio := newTestPair(t)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.False(t, conn.IsOpen())
	assert.NoError(t, conn.SendAudio("S1", "after-close"))

	// Twilio side observes the close
	twilio.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := twilio.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
