package minecraft

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"oretunnel/protocol"
)

func buildModernHandshake(hostname string, port uint16, nextState int32) []byte {
	var body bytes.Buffer
	body.WriteByte(0x00) // packet id
	WriteVarInt(&body, 765)
	WriteVarInt(&body, int32(len(hostname)))
	body.WriteString(hostname)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	body.Write(portBuf[:])
	WriteVarInt(&body, nextState)

	var out bytes.Buffer
	WriteVarInt(&out, int32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestSniffModernHandshake(t *testing.T) {
	buf := buildModernHandshake("localhost", 25565, 1)
	hello, err := Sniff(buf)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if hello.Variant != ModernPing || hello.Hostname != "localhost" || hello.Port != 25565 {
		t.Fatalf("unexpected hello: %#v", hello)
	}
	if hello.Consumed != len(buf) {
		t.Fatalf("consumed %d want %d", hello.Consumed, len(buf))
	}
}

func TestSniffModernHandshakeForgeSuffix(t *testing.T) {
	buf := buildModernHandshake("localhost\x00FORGE", 25565, 2)
	hello, err := Sniff(buf)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if !hello.Forge || hello.Hostname != "localhost" || hello.Variant != ModernConnect {
		t.Fatalf("unexpected hello: %#v", hello)
	}
}

func TestSniffRestartability(t *testing.T) {
	full := buildModernHandshake("example.t.test.net", 25565, 2)
	want, err := Sniff(full)
	if err != nil {
		t.Fatalf("sniff full: %v", err)
	}

	for k := 0; k < len(full); k++ {
		_, err := Sniff(full[:k])
		if err != protocol.ErrNeedMore {
			t.Fatalf("k=%d: want ErrNeedMore, got %v", k, err)
		}
	}

	got, err := Sniff(full)
	if err != nil {
		t.Fatalf("sniff full again: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatch: %#v vs %#v", got, want)
	}
}

func TestSniffLegacyConnect(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x02)
	buf.WriteByte(47) // protocol version
	buf.Write(putUTF16BEString("Notch"))
	buf.Write(putUTF16BEString("play.example.net"))
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], 25565)
	buf.Write(portBuf[:])

	hello, err := Sniff(buf.Bytes())
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if hello.Variant != LegacyConnect || hello.Hostname != "play.example.net" || hello.Port != 25565 {
		t.Fatalf("unexpected hello: %#v", hello)
	}
}

func TestSniffLegacyPing(t *testing.T) {
	hostname := "play.example.net"
	var buf bytes.Buffer
	buf.Write(legacyPingPreamble)
	restLength := uint16(7 + 2*len(hostname))
	var rl [2]byte
	binary.BigEndian.PutUint16(rl[:], restLength)
	buf.Write(rl[:])
	buf.WriteByte(74) // protocol version
	buf.Write(putUTF16BEString(hostname))
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], 25565)
	buf.Write(portBuf[:])

	hello, err := Sniff(buf.Bytes())
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if hello.Variant != LegacyPing || hello.Hostname != hostname {
		t.Fatalf("unexpected hello: %#v", hello)
	}
}

func TestVarIntBijectionSample(t *testing.T) {
	samples := []int32{0, 1, -1, 127, 128, -128, 2147483647, -2147483648, 300, -300}
	for _, v := range samples {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		if buf.Len() > MaxVarIntLength {
			t.Fatalf("value %d encoded to %d bytes, want <= %d", v, buf.Len(), MaxVarIntLength)
		}
		got, err := ReadVarInt(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("read back %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip mismatch: want %d got %d", v, got)
		}
	}
}
