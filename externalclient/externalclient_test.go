package externalclient

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"oretunnel/protocol"
	"oretunnel/protocol/minecraft"
	"oretunnel/registry"
)

func buildModernHandshake(hostname string, port uint16, nextState int32) []byte {
	var body bytes.Buffer
	minecraft.WriteVarInt(&body, 0)
	minecraft.WriteVarInt(&body, 47)
	minecraft.WriteVarInt(&body, int32(len(hostname)))
	body.WriteString(hostname)
	binary.Write(&body, binary.BigEndian, port)
	minecraft.WriteVarInt(&body, nextState)

	var full bytes.Buffer
	minecraft.WriteVarInt(&full, int32(body.Len()))
	full.Write(body.Bytes())
	return full.Bytes()
}

// fakeSession is the minimal stand-in for *session.Session this package
// depends on through registry.Inbox plus the unexported sessionHandle
// interface.
type fakeSession struct {
	outbox    chan<- protocol.ProxyData
	received  chan []byte
	closed    chan struct{}
	removedID chan protocol.ClientID
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		received:  make(chan []byte, 16),
		closed:    make(chan struct{}),
		removedID: make(chan protocol.ClientID, 1),
	}
}

func (f *fakeSession) AddExternalClient(outbox chan<- protocol.ProxyData) (protocol.ClientID, error) {
	f.outbox = outbox
	return 3, nil
}

func (f *fakeSession) Data(id protocol.ClientID, b []byte) {
	f.received <- append([]byte(nil), b...)
}

func (f *fakeSession) RemoveExternalClient(id protocol.ClientID) {
	select {
	case f.removedID <- id:
	default:
	}
}

func (f *fakeSession) ClientClosed(id protocol.ClientID) <-chan struct{} {
	return f.closed
}

func TestHandleRoutesKnownHostnameAndForwardsSniffedBytes(t *testing.T) {
	reg := registry.New()
	fs := newFakeSession()
	if err := reg.Register("play.example.net", fs); err != nil {
		t.Fatalf("register: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Handle(serverConn, reg, zap.NewNop())
		close(done)
	}()

	hs := buildModernHandshake("play.example.net", 25565, 2)
	go clientConn.Write(hs)

	select {
	case got := <-fs.received:
		if !bytes.Equal(got, hs) {
			t.Fatalf("forwarded bytes = %x, want %x", got, hs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sniffed bytes to be forwarded")
	}

	// Send a follow-up chunk through the established route.
	go clientConn.Write([]byte("more bytes"))
	select {
	case got := <-fs.received:
		if string(got) != "more bytes" {
			t.Fatalf("follow-up bytes = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for follow-up bytes")
	}

	clientConn.Close()
	<-done
}

func TestHandleRoutesDataFromOutboxToConn(t *testing.T) {
	reg := registry.New()
	fs := newFakeSession()
	reg.Register("play.example.net", fs)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Handle(serverConn, reg, zap.NewNop())
		close(done)
	}()

	hs := buildModernHandshake("play.example.net", 25565, 2)
	go clientConn.Write(hs)
	<-fs.received

	fs.outbox <- protocol.ProxyData{ClientID: 3, Bytes: []byte("home says hi")}

	buf := make([]byte, 64)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "home says hi" {
		t.Fatalf("got %q", buf[:n])
	}

	clientConn.Close()
	<-done
}

func TestHandleUnknownHostnameGetsOfflineStatusResponse(t *testing.T) {
	reg := registry.New()

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		Handle(serverConn, reg, zap.NewNop())
		close(done)
	}()

	hs := buildModernHandshake("nobody-home.example.net", 25565, 1) // next_state=1: Ping
	go clientConn.Write(hs)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	length, err := minecraft.ReadVarInt(clientConn)
	if err != nil {
		t.Fatalf("read response length: %v", err)
	}
	body := make([]byte, length)
	if _, err := readFull(clientConn, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if body[0] != 0x00 {
		t.Fatalf("expected packet id 0, got %x", body[0])
	}

	var status struct {
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
	}
	// body[1:] is a VarInt-length-prefixed JSON string; skip its length prefix.
	jsonStart := 1
	for jsonStart < len(body) && body[jsonStart]&0x80 != 0 {
		jsonStart++
	}
	jsonStart++
	if err := json.Unmarshal(body[jsonStart:], &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Description.Text != minecraft.OfflineMessage {
		t.Fatalf("description = %q, want %q", status.Description.Text, minecraft.OfflineMessage)
	}

	<-done
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
