package agent

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"oretunnel/auth"
	"oretunnel/protocol"
)

// fakeRendezvous plays the server half of the wire protocol directly,
// without pulling in dispatcher/session, so this test only exercises the
// agent package's own handshake and multiplexing code.
type fakeRendezvous struct {
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

func acceptFakeRendezvous(t *testing.T, ln net.Listener, suffix string) *fakeRendezvous {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}

	var magic [len(protocol.Magic)]byte
	if _, err := readFull(conn, magic[:]); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	if string(magic[:]) != protocol.Magic {
		t.Fatalf("bad magic %q", magic)
	}
	var version uint16
	if err := binary.Read(conn, binary.BigEndian, &version); err != nil {
		t.Fatalf("read version: %v", err)
	}

	dec := protocol.NewDecoder(conn)
	enc := protocol.NewEncoder(conn)

	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	hello, ok := msg.(protocol.ProxyHello)
	if !ok {
		t.Fatalf("expected ProxyHello, got %#v", msg)
	}

	if err := auth.ServerExchange(enc, dec, hello, suffix); err != nil {
		t.Fatalf("server exchange: %v", err)
	}
	if err := enc.Encode(protocol.ProxyHelloResponse{Version: protocol.ProtocolVersion}); err != nil {
		t.Fatalf("write hello response: %v", err)
	}
	return &fakeRendezvous{conn: conn, enc: enc, dec: dec}
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

func TestConnectOnceRoundTripsJoinAndData(t *testing.T) {
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer localLn.Close()

	localServerReceived := make(chan []byte, 1)
	go func() {
		conn, err := localLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		localServerReceived <- append([]byte(nil), buf[:n]...)
		conn.Write([]byte("reply-from-local-server"))
	}()

	rendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer rendLn.Close()

	pub, priv, hostname, err := auth.NewIdentity(auth.DefaultKeySuffix)
	if err != nil {
		t.Fatal(err)
	}
	_ = pub

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		seed := priv.Seed()
		done <- connectOnce(ctx, Config{
			ServerAddr: rendLn.Addr().String(),
			LocalAddr:  localLn.Addr().String(),
			Seed:       seed,
			KeySuffix:  auth.DefaultKeySuffix,
			Log:        zap.NewNop(),
		}, priv, hostname, zap.NewNop())
	}()

	rv := acceptFakeRendezvous(t, rendLn, auth.DefaultKeySuffix)
	defer rv.conn.Close()

	const clientID = protocol.ClientID(3)
	if err := rv.enc.Encode(protocol.ProxyJoin{ClientID: clientID}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	payload := []byte("hello from minecraft client")
	if err := rv.enc.Encode(protocol.ProxyData{ClientID: clientID, Bytes: payload}); err != nil {
		t.Fatalf("write data: %v", err)
	}

	select {
	case got := <-localServerReceived:
		if !bytes.Equal(got, payload) {
			t.Fatalf("local server got %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local server to receive forwarded data")
	}

	rv.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		msg, err := rv.dec.Decode()
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if data, ok := msg.(protocol.ProxyData); ok {
			if data.ClientID != clientID {
				t.Fatalf("got data for client %d, want %d", data.ClientID, clientID)
			}
			if string(data.Bytes) != "reply-from-local-server" {
				t.Fatalf("got %q", data.Bytes)
			}
			break
		}
		// keepalive pings may interleave; skip anything that isn't the
		// reply we're waiting for.
	}

	cancel()
	<-done
}

func TestHandshakeRejectsServerError(t *testing.T) {
	rendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer rendLn.Close()

	_, priv, hostname, err := auth.NewIdentity(auth.DefaultKeySuffix)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		conn, err := rendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var magic [len(protocol.Magic)]byte
		readFull(conn, magic[:])
		var version uint16
		binary.Read(conn, binary.BigEndian, &version)
		dec := protocol.NewDecoder(conn)
		enc := protocol.NewEncoder(conn)
		if _, err := dec.Decode(); err != nil {
			return
		}
		enc.Encode(protocol.ProxyError{Text: "hostname already connected"})
	}()

	conn, err := net.Dial("tcp", rendLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)
	err = handshake(conn, enc, dec, priv, hostname)
	if err == nil {
		t.Fatal("expected handshake to fail on ProxyError")
	}
}
