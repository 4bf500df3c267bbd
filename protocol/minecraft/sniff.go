package minecraft

import (
	"bytes"
	"strings"

	"oretunnel/protocol"
)

// Variant identifies which of the three historical Minecraft handshake
// shapes produced a Hello.
type Variant int

const (
	LegacyPing Variant = iota
	LegacyConnect
	ModernPing
	ModernConnect
	ModernUnknown
)

func (v Variant) String() string {
	switch v {
	case LegacyPing:
		return "LegacyPing"
	case LegacyConnect:
		return "LegacyConnect"
	case ModernPing:
		return "ModernPing"
	case ModernConnect:
		return "ModernConnect"
	case ModernUnknown:
		return "ModernUnknown"
	default:
		return "Unknown"
	}
}

// Hello is the result of successfully sniffing the first packet of an
// inbound connection.
type Hello struct {
	Variant         Variant
	ProtocolVersion int32
	Hostname        string
	Port            uint16
	Forge           bool

	// Consumed is the number of bytes of the input buffer this Hello used.
	// Callers that keep reading past the handshake (the external-client
	// pipe) must not replay these bytes, only anything after them.
	Consumed int
}

// legacyPingPreamble is the literal UTF-16BE "MC|PingHost" preamble that
// prefixes a legacy (pre-1.7) server list ping.
var legacyPingPreamble = []byte{
	0xFE, 0x01, 0xFA,
	0x00, 0x0B, 0x00, 0x4D, 0x00, 0x43, 0x00, 0x7C,
	0x00, 0x50, 0x00, 0x69, 0x00, 0x6E, 0x00, 0x67,
	0x00, 0x48, 0x00, 0x6F, 0x00, 0x73, 0x00, 0x74,
}

// Sniff attempts to parse the first Minecraft packet out of buf. It returns
// protocol.ErrNeedMore if buf is a valid-so-far prefix that simply hasn't
// arrived in full yet — callers should read more bytes and call Sniff again
// on the whole accumulated buffer. It returns a *protocol.Error of kind
// MalformedFrame if buf can never be a valid handshake of any variant.
func Sniff(buf []byte) (Hello, error) {
	if len(buf) == 0 {
		return Hello{}, protocol.ErrNeedMore
	}

	if bytes.HasPrefix(buf, legacyPingPreamble) || bytesNeedMorePrefix(buf, legacyPingPreamble) {
		return sniffLegacyPing(buf)
	}
	if buf[0] == 0x02 {
		return sniffLegacyConnect(buf)
	}
	return sniffModern(buf)
}

// bytesNeedMorePrefix reports whether buf is a strict prefix of full — used
// so a partially-arrived legacy preamble is treated as NeedMore rather than
// falling through to the modern parser.
func bytesNeedMorePrefix(buf, full []byte) bool {
	if len(buf) >= len(full) {
		return false
	}
	return bytes.Equal(buf, full[:len(buf)])
}

func sniffLegacyPing(buf []byte) (Hello, error) {
	pos := len(legacyPingPreamble)
	if len(buf) < pos {
		return Hello{}, protocol.ErrNeedMore
	}

	restLength, pos, err := getU16(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	protoVersion, pos, err := getByte(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	hostname, pos, err := getUTF16BEString(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	port, pos, err := getU32(buf, pos)
	if err != nil {
		return Hello{}, err
	}

	wantRest := 7 + 2*len([]rune(hostname))
	if int(restLength) != wantRest {
		return Hello{}, invalid("legacy ping rest_length mismatch")
	}

	return Hello{
		Variant:         LegacyPing,
		ProtocolVersion: int32(protoVersion),
		Hostname:        hostname,
		Port:            uint16(port),
		Consumed:        pos,
	}, nil
}

func sniffLegacyConnect(buf []byte) (Hello, error) {
	pos := 1
	protoVersion, pos, err := getByte(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	if _, pos, err = getUTF16BEString(buf, pos); err != nil { // username, unused
		return Hello{}, err
	}
	hostname, pos, err := getUTF16BEString(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	port, pos, err := getU32(buf, pos)
	if err != nil {
		return Hello{}, err
	}

	return Hello{
		Variant:         LegacyConnect,
		ProtocolVersion: int32(protoVersion),
		Hostname:        hostname,
		Port:            uint16(port),
		Consumed:        pos,
	}, nil
}

func sniffModern(buf []byte) (Hello, error) {
	packetLength, pos, err := getVarInt(buf, 0)
	if err != nil {
		return Hello{}, err
	}
	// The largest possible handshake body: four VarInts (packet id,
	// protocol version, hostname length, next state), a hostname of at most
	// 2048 bytes and the u16 port.
	const maxHandshakeBody = MaxVarIntLength*4 + 2048 + 2
	if packetLength < 0 || int(packetLength) > maxHandshakeBody {
		return Hello{}, invalid("implausible packet length")
	}
	bodyStart := pos

	packetID, pos, err := getVarInt(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	if packetID != 0 {
		return Hello{}, invalid("handshake packet id must be 0")
	}

	protoVersion, pos, err := getVarInt(buf, pos)
	if err != nil {
		return Hello{}, err
	}

	hostLen, pos, err := getVarInt(buf, pos)
	if err != nil {
		return Hello{}, err
	}
	if hostLen < 0 || hostLen > 2048 {
		return Hello{}, invalid("implausible hostname length")
	}
	hostBytes, pos, err := getBytes(buf, pos, int(hostLen))
	if err != nil {
		return Hello{}, err
	}

	port, pos, err := getU16(buf, pos)
	if err != nil {
		return Hello{}, err
	}

	nextState, pos, err := getVarInt(buf, pos)
	if err != nil {
		return Hello{}, err
	}

	if pos-bodyStart != int(packetLength) {
		return Hello{}, invalid("handshake body length does not match packet_length")
	}

	hostname, forge := stripForgeSuffix(string(hostBytes))

	variant := ModernUnknown
	switch nextState {
	case 1:
		variant = ModernPing
	case 2:
		variant = ModernConnect
	}

	return Hello{
		Variant:         variant,
		ProtocolVersion: protoVersion,
		Hostname:        hostname,
		Port:            port,
		Forge:           forge,
		Consumed:        pos,
	}, nil
}

func getByte(buf []byte, pos int) (byte, int, error) {
	if pos >= len(buf) {
		return 0, pos, protocol.ErrNeedMore
	}
	return buf[pos], pos + 1, nil
}

// stripForgeSuffix truncates hostname at its first NUL byte, which is the
// convention Forge-modded clients use to smuggle a marker after the real
// hostname in the handshake's hostname field.
func stripForgeSuffix(hostname string) (clean string, forge bool) {
	if i := strings.IndexByte(hostname, 0); i >= 0 {
		return hostname[:i], true
	}
	return hostname, false
}
