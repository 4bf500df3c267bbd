package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeSlowPath serializes every Message variant except ProxyData into a
// tag byte followed by fixed-order fields. Strings use a u16 length prefix
// — this system's control plane has no Minecraft VarInt constraint, so the
// simpler fixed-width prefix is used throughout.
func encodeSlowPath(m Message) ([]byte, error) {
	var buf bytes.Buffer

	switch v := m.(type) {
	case ProxyHello:
		buf.WriteByte(byte(tagHello))
		writeU16(&buf, v.Version)
		writeString(&buf, v.Hostname)
		buf.Write(v.Auth[:])
	case ProxyAuthRequest:
		buf.WriteByte(byte(tagAuthRequest))
		buf.Write(v.Challenge[:])
	case ProxyAuthResponse:
		buf.WriteByte(byte(tagAuthResponse))
		buf.Write(v.Signature[:])
	case ProxyHelloResponse:
		buf.WriteByte(byte(tagHelloResponse))
		writeU16(&buf, v.Version)
	case ProxyError:
		buf.WriteByte(byte(tagErr))
		writeString(&buf, v.Text)
	case ProxyJoin:
		buf.WriteByte(byte(tagJoin))
		writeU16(&buf, uint16(v.ClientID))
	case ProxyDisconnect:
		buf.WriteByte(byte(tagDisconnect))
		writeU16(&buf, uint16(v.ClientID))
	case ProxyPing:
		buf.WriteByte(byte(tagPing))
		writeU16(&buf, v.Nonce)
	case ProxyPong:
		buf.WriteByte(byte(tagPong))
		writeU16(&buf, v.Nonce)
	default:
		return nil, NewError(KindMalformedFrame, fmt.Sprintf("unsupported message type %T", m))
	}

	return buf.Bytes(), nil
}

func decodeSlowPath(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, NewError(KindMalformedFrame, "empty slow-path payload")
	}
	r := bytes.NewReader(payload[1:])

	switch tag(payload[0]) {
	case tagHello:
		version, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		hostname, err := readString(r)
		if err != nil {
			return nil, malformed(err)
		}
		var auth [32]byte
		if err := readFixed(r, auth[:]); err != nil {
			return nil, malformed(err)
		}
		return ProxyHello{Version: version, Hostname: hostname, Auth: auth}, nil

	case tagAuthRequest:
		var challenge [32]byte
		if err := readFixed(r, challenge[:]); err != nil {
			return nil, malformed(err)
		}
		return ProxyAuthRequest{Challenge: challenge}, nil

	case tagAuthResponse:
		var sig [64]byte
		if err := readFixed(r, sig[:]); err != nil {
			return nil, malformed(err)
		}
		return ProxyAuthResponse{Signature: sig}, nil

	case tagHelloResponse:
		version, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyHelloResponse{Version: version}, nil

	case tagErr:
		text, err := readString(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyError{Text: text}, nil

	case tagJoin:
		id, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyJoin{ClientID: ClientID(id)}, nil

	case tagDisconnect:
		id, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyDisconnect{ClientID: ClientID(id)}, nil

	case tagPing:
		nonce, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyPing{Nonce: nonce}, nil

	case tagPong:
		nonce, err := readU16(r)
		if err != nil {
			return nil, malformed(err)
		}
		return ProxyPong{Nonce: nonce}, nil

	default:
		return nil, NewError(KindMalformedFrame, fmt.Sprintf("unknown tag 0x%02x", payload[0]))
	}
}

func malformed(err error) error {
	return WrapError(KindMalformedFrame, "truncated control message", err)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	length, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, length)
	if _, err := readExact(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFixed(r *bytes.Reader, dst []byte) error {
	_, err := readExact(r, dst)
	return err
}

func readExact(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil {
		return n, err
	}
	if n < len(dst) {
		return n, fmt.Errorf("short read: got %d want %d", n, len(dst))
	}
	return n, nil
}
