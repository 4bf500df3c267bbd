// Package minecraft implements just enough of the Minecraft wire format to
// sniff the first handshake packet of an inbound connection and to
// synthesize a "server offline" response when no backend is registered.
package minecraft

import (
	"encoding/binary"
	"io"

	"oretunnel/protocol"
)

// MaxVarIntLength is the longest a VarInt encoding of an int32 can be.
const MaxVarIntLength = 5

// WriteVarInt writes value using Minecraft's little-endian base-128
// continuation-bit encoding.
func WriteVarInt(w io.Writer, value int32) error {
	var buf [MaxVarIntLength]byte
	n := PutVarInt(buf[:], value)
	_, err := w.Write(buf[:n])
	return err
}

// PutVarInt encodes value into buf (which must be at least MaxVarIntLength
// bytes) and returns the number of bytes written.
func PutVarInt(buf []byte, value int32) int {
	uv := uint32(value)
	n := 0
	for {
		b := byte(uv & 0x7F)
		uv >>= 7
		if uv != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if uv == 0 {
			return n
		}
	}
}

// VarIntSize returns the number of bytes WriteVarInt would emit for value.
func VarIntSize(value int32) int {
	var buf [MaxVarIntLength]byte
	return PutVarInt(buf[:], value)
}

// ReadVarInt reads a VarInt from a blocking reader (used by the offline
// response writers' callers, not by the restartable sniffer).
func ReadVarInt(r io.Reader) (int32, error) {
	var value uint32
	var shift uint
	var b [1]byte

	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value |= uint32(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return int32(value), nil
		}
		shift += 7
		if shift >= 32 {
			return 0, protocol.NewError(protocol.KindMalformedFrame, "VarInt too long")
		}
	}
}

// getVarInt decodes a VarInt out of buf starting at pos without consuming
// anything from the caller's perspective. It returns protocol.ErrNeedMore if
// buf does not yet hold a complete VarInt at pos.
func getVarInt(buf []byte, pos int) (value int32, next int, err error) {
	var v uint32
	var shift uint

	for i := 0; i < MaxVarIntLength; i++ {
		if pos+i >= len(buf) {
			return 0, pos, protocol.ErrNeedMore
		}
		b := buf[pos+i]
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return int32(v), pos + i + 1, nil
		}
		shift += 7
	}
	return 0, pos, invalid("VarInt longer than 5 bytes")
}

func getU16(buf []byte, pos int) (uint16, int, error) {
	if pos+2 > len(buf) {
		return 0, pos, protocol.ErrNeedMore
	}
	return binary.BigEndian.Uint16(buf[pos : pos+2]), pos + 2, nil
}

func getU32(buf []byte, pos int) (uint32, int, error) {
	if pos+4 > len(buf) {
		return 0, pos, protocol.ErrNeedMore
	}
	return binary.BigEndian.Uint32(buf[pos : pos+4]), pos + 4, nil
}

func getBytes(buf []byte, pos, n int) ([]byte, int, error) {
	if pos+n > len(buf) {
		return nil, pos, protocol.ErrNeedMore
	}
	return buf[pos : pos+n], pos + n, nil
}

// getUTF16BEString reads a u16 big-endian char count followed by that many
// big-endian u16 code units, decoding them as UTF-16.
func getUTF16BEString(buf []byte, pos int) (string, int, error) {
	count, pos, err := getU16(buf, pos)
	if err != nil {
		return "", pos, err
	}
	raw, pos, err := getBytes(buf, pos, int(count)*2)
	if err != nil {
		return "", pos, err
	}

	units := make([]uint16, count)
	for i := 0; i < int(count); i++ {
		units[i] = binary.BigEndian.Uint16(raw[i*2 : i*2+2])
	}
	s, err := decodeUTF16(units)
	if err != nil {
		return "", pos, invalid("malformed UTF-16 surrogate pair")
	}
	return s, pos, nil
}

func decodeUTF16(units []uint16) (string, error) {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		switch {
		case u < 0xD800 || u > 0xDFFF:
			runes = append(runes, rune(u))
		case u <= 0xDBFF:
			if i+1 >= len(units) || units[i+1] < 0xDC00 || units[i+1] > 0xDFFF {
				return "", io.ErrUnexpectedEOF
			}
			lo := units[i+1]
			i++
			r := (rune(u-0xD800) << 10) | rune(lo-0xDC00)
			runes = append(runes, r+0x10000)
		default:
			return "", io.ErrUnexpectedEOF
		}
	}
	return string(runes), nil
}

// putUTF16BEString encodes s the same way a legacy client would, for use by
// the legacy kick response writer.
func putUTF16BEString(s string) []byte {
	r := []rune(s)
	out := make([]byte, 2+len(r)*2)
	binary.BigEndian.PutUint16(out[:2], uint16(len(r)))
	for i, c := range r {
		binary.BigEndian.PutUint16(out[2+i*2:4+i*2], uint16(c))
	}
	return out
}

func invalid(msg string) error {
	return protocol.NewError(protocol.KindMalformedFrame, msg)
}
