package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvshift/tvshift/internal/config"
	"github.com/tvshift/tvshift/internal/protocol"
)

func startTestServer(t *testing.T) (*Server, *Registry) {
	t.Helper()

	r := testRegistry(t)
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, r, testLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
		}
	})

	return srv, r
}

// open dials the server and performs the role handshake, returning the
// connection and the session id the server acknowledged.
func open(t *testing.T, srv *Server, role Role, sessionID string) (net.Conn, string) {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	req := &protocol.Packet{
		Type: protocol.MsgOpen,
		Data: append([]byte{byte(role)}, sessionID...),
	}
	_, err = req.WriteTo(conn)
	require.NoError(t, err)

	resp, err := protocol.ReadPacket(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgAck, resp.Type)
	return conn, string(resp.Data)
}

func roundTrip(t *testing.T, conn net.Conn, req *protocol.Packet) *protocol.Packet {
	t.Helper()
	_, err := req.WriteTo(conn)
	require.NoError(t, err)
	resp, err := protocol.ReadPacket(conn)
	require.NoError(t, err)
	return resp
}

func TestOpenHandshake(t *testing.T) {
	srv, r := startTestServer(t)

	_, id := open(t, srv, RoleProducer, "session-1")
	assert.Equal(t, "session-1", id)
	assert.Equal(t, 1, r.Len())
}

func TestOpenGeneratesSessionID(t *testing.T) {
	srv, _ := startTestServer(t)

	_, id := open(t, srv, RoleConsumer, "")
	assert.NotEmpty(t, id)
}

func TestOpenRejectsUnknownRole(t *testing.T) {
	srv, _ := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := &protocol.Packet{Type: protocol.MsgOpen, Data: []byte{99}}
	resp := roundTrip(t, conn, req)
	assert.Equal(t, protocol.MsgError, resp.Type)
}

func TestProducerConsumerRoundTrip(t *testing.T) {
	srv, _ := startTestServer(t)

	producer, id := open(t, srv, RoleProducer, "rt")
	consumer, _ := open(t, srv, RoleConsumer, id)

	payload := []byte("stream bytes")
	data := protocol.NewStreamData(protocol.KindVideo, protocol.FrameKey, 90000, payload)
	_, err := data.WriteTo(producer)
	require.NoError(t, err)

	// The writer persists asynchronously; poll until the packet lands.
	readReq := &protocol.Packet{Type: protocol.MsgRead, Data: []byte{0}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := roundTrip(t, consumer, readReq)
		if resp.Type == protocol.MsgStreamData {
			assert.Equal(t, payload, resp.Data)
			assert.Equal(t, int64(90000), resp.PTS)
			assert.Equal(t, protocol.KindVideo, resp.Kind)
			assert.True(t, resp.IsKeyFrame())
			break
		}
		require.Equal(t, protocol.MsgEmpty, resp.Type)
		if time.Now().After(deadline) {
			t.Fatal("packet never became readable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Buffer drained: next read is empty.
	resp := roundTrip(t, consumer, readReq)
	assert.Equal(t, protocol.MsgEmpty, resp.Type)
}

func TestConsumerSeekAndStartPosition(t *testing.T) {
	srv, r := startTestServer(t)

	producer, id := open(t, srv, RoleProducer, "seek")
	consumer, _ := open(t, srv, RoleConsumer, id)

	for i := 0; i < 3; i++ {
		data := protocol.NewStreamData(protocol.KindVideo, protocol.FrameKey, int64(1000*(i+1)), []byte("gop"))
		_, err := data.WriteTo(producer)
		require.NoError(t, err)
	}

	q, ok := r.Get(id)
	require.True(t, ok)
	deadline := time.Now().Add(5 * time.Second)
	for q.Stats().KeyFrames < 3 {
		if time.Now().After(deadline) {
			t.Fatal("key frames never indexed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A target past the newest entry clamps to the newest key frame.
	seek := &protocol.Packet{Type: protocol.MsgSeek, PTS: time.Now().UnixMilli() + time.Hour.Milliseconds()}
	resp := roundTrip(t, consumer, seek)
	require.Equal(t, protocol.MsgSeekResult, resp.Type)
	assert.Equal(t, int64(3000), resp.PTS)

	start := roundTrip(t, consumer, &protocol.Packet{Type: protocol.MsgStartPosition})
	require.Equal(t, protocol.MsgStartPosition, start.Type)
	assert.Greater(t, start.PTS, int64(0))
}

func TestConsumerPause(t *testing.T) {
	srv, _ := startTestServer(t)

	_, id := open(t, srv, RoleProducer, "pause")
	consumer, _ := open(t, srv, RoleConsumer, id)

	pauseOn := &protocol.Packet{Type: protocol.MsgPause, Data: []byte{1}}
	resp := roundTrip(t, consumer, pauseOn)
	require.Equal(t, protocol.MsgAck, resp.Type)
	assert.Equal(t, []byte{1}, resp.Data)

	// Pausing again changes nothing.
	resp = roundTrip(t, consumer, pauseOn)
	assert.Equal(t, []byte{0}, resp.Data)

	// Reads while paused come back empty.
	read := roundTrip(t, consumer, &protocol.Packet{Type: protocol.MsgRead})
	assert.Equal(t, protocol.MsgEmpty, read.Type)
}

func TestProducerDisconnectTearsDownSession(t *testing.T) {
	srv, r := startTestServer(t)

	producer, id := open(t, srv, RoleProducer, "drop")
	require.Equal(t, 1, r.Len())

	require.NoError(t, producer.Close())

	deadline := time.Now().Add(5 * time.Second)
	for r.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not torn down after producer disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestConsumerCloseTearsDownSession(t *testing.T) {
	srv, r := startTestServer(t)

	_, id := open(t, srv, RoleProducer, "bye")
	consumer, _ := open(t, srv, RoleConsumer, id)

	resp := roundTrip(t, consumer, &protocol.Packet{Type: protocol.MsgClose})
	assert.Equal(t, protocol.MsgAck, resp.Type)
	assert.Equal(t, 0, r.Len())
}

func TestSecondConsumerRejected(t *testing.T) {
	srv, _ := startTestServer(t)

	_, id := open(t, srv, RoleConsumer, "solo")

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := &protocol.Packet{
		Type: protocol.MsgOpen,
		Data: append([]byte{byte(RoleConsumer)}, id...),
	}
	resp := roundTrip(t, conn, req)
	assert.Equal(t, protocol.MsgError, resp.Type)

	// The producer side is unaffected by the occupied consumer slot.
	_, gotID := open(t, srv, RoleProducer, id)
	assert.Equal(t, id, gotID)
}

func TestConsumerSlotFreedOnDisconnect(t *testing.T) {
	srv, _ := startTestServer(t)

	_, id := open(t, srv, RoleProducer, "retake")
	first, _ := open(t, srv, RoleConsumer, id)
	require.NoError(t, first.Close())

	// The slot frees once the server notices the disconnect.
	req := &protocol.Packet{
		Type: protocol.MsgOpen,
		Data: append([]byte{byte(RoleConsumer)}, id...),
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		resp := roundTrip(t, conn, req)
		if resp.Type == protocol.MsgAck {
			_ = conn.Close()
			break
		}
		require.Equal(t, protocol.MsgError, resp.Type)
		_ = conn.Close()
		if time.Now().After(deadline) {
			t.Fatal("consumer slot never freed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	r := testRegistry(t)
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, r, testLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	_, _ = open(t, srv, RoleProducer, "s")
	require.Equal(t, 1, r.Len())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 0, r.Len())
}
