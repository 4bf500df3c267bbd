package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	fastPathFlag uint16 = 0x8000
	lengthMask   uint16 = 0x7FFF

	// MaxFramePayload is the largest value the 15-bit length field in the
	// frame header can carry. The wire layout reserves the top bit of the
	// 2-byte start word for the fast-path flag, which leaves 15 bits for
	// length — so the decoder's FrameTooLong check is enforced by the mask
	// itself rather than by a separate runtime comparison against 64 KiB.
	MaxFramePayload = int(lengthMask)

	// MaxDataBytes is the largest raw Minecraft chunk a single ProxyData
	// frame can carry once the 2-byte client ID is accounted for.
	MaxDataBytes = MaxFramePayload - 2

	headerSize = 2
)

// Decoder reads frames off a byte stream incrementally: Decode never
// consumes bytes for a frame it cannot complete, so the same underlying
// reader can be fed more bytes and retried.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 1<<16)}
}

// Decode returns the next message, ErrNeedMore if the stream does not yet
// hold a complete frame, or a *Error for a malformed frame.
func (d *Decoder) Decode() (Message, error) {
	hdr, _ := d.r.Peek(headerSize)
	if len(hdr) < headerSize {
		return nil, ErrNeedMore
	}

	start := binary.BigEndian.Uint16(hdr)
	fastPath := start&fastPathFlag != 0
	length := int(start & lengthMask)
	total := headerSize + length

	buf, _ := d.r.Peek(total)
	if len(buf) < total {
		return nil, ErrNeedMore
	}

	payload := make([]byte, length)
	copy(payload, buf[headerSize:total])
	if _, err := d.r.Discard(total); err != nil {
		return nil, WrapError(KindIO, "discard frame", err)
	}

	if fastPath {
		return decodeProxyData(payload)
	}
	return decodeSlowPath(payload)
}

func decodeProxyData(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, NewError(KindMalformedFrame, "fast-path payload shorter than client id")
	}
	return ProxyData{
		ClientID: ClientID(binary.BigEndian.Uint16(payload[:2])),
		Bytes:    payload[2:],
	}, nil
}

// Encoder writes complete frames to the underlying stream. Writes are
// batched via Feed/Flush so a session writer can coalesce several queued
// messages into one syscall (see Session.writerLoop in package session).
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, 1<<16)}
}

// Feed writes one frame into the internal buffer without flushing it to
// the underlying writer.
func (e *Encoder) Feed(m Message) error {
	if data, ok := m.(ProxyData); ok {
		return e.feedProxyData(data)
	}
	return e.feedSlowPath(m)
}

// Flush pushes any fed frames out to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// Encode is Feed immediately followed by Flush, for single-message sends.
func (e *Encoder) Encode(m Message) error {
	if err := e.Feed(m); err != nil {
		return err
	}
	return e.Flush()
}

func (e *Encoder) feedProxyData(m ProxyData) error {
	if len(m.Bytes) > MaxDataBytes {
		return NewError(KindFrameTooLong, fmt.Sprintf("proxy data %d bytes exceeds %d", len(m.Bytes), MaxDataBytes))
	}
	length := 2 + len(m.Bytes)
	start := uint16(length) | fastPathFlag

	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[:], start)
	if _, err := e.w.Write(hdr[:]); err != nil {
		return WrapError(KindIO, "write frame header", err)
	}

	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], uint16(m.ClientID))
	if _, err := e.w.Write(idBuf[:]); err != nil {
		return WrapError(KindIO, "write client id", err)
	}
	if _, err := e.w.Write(m.Bytes); err != nil {
		return WrapError(KindIO, "write proxy data", err)
	}
	return nil
}

func (e *Encoder) feedSlowPath(m Message) error {
	payload, err := encodeSlowPath(m)
	if err != nil {
		return err
	}
	if len(payload) > MaxFramePayload {
		return NewError(KindFrameTooLong, fmt.Sprintf("control message %d bytes exceeds %d", len(payload), MaxFramePayload))
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := e.w.Write(hdr[:]); err != nil {
		return WrapError(KindIO, "write frame header", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return WrapError(KindIO, "write control payload", err)
	}
	return nil
}
