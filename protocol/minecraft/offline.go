package minecraft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// OfflineMessage is shown to players when no proxy-client is registered for
// the hostname they targeted.
const OfflineMessage = "Server not online!"

type statusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type statusDescription struct {
	Text  string `json:"text"`
	Color string `json:"color"`
	Bold  bool   `json:"bold"`
}

type statusPlayers struct {
	Max    int           `json:"max"`
	Online int           `json:"online"`
	Sample []interface{} `json:"sample"`
}

type statusResponse struct {
	Version     statusVersion     `json:"version"`
	Description statusDescription `json:"description"`
	Players     statusPlayers     `json:"players"`
}

// WriteStatusResponse writes the modern-protocol status-list-ping response
// shown in a multiplayer server list when the hostname has no backend.
func WriteStatusResponse(w io.Writer) error {
	body, err := json.Marshal(statusResponse{
		Version:     statusVersion{Name: OfflineMessage, Protocol: 0},
		Description: statusDescription{Text: OfflineMessage, Color: "red", Bold: false},
		Players:     statusPlayers{Max: 0, Online: 0, Sample: []interface{}{}},
	})
	if err != nil {
		return err
	}
	return writeModernPacket(w, body)
}

// EchoStatusPing reads the client's two follow-up packets after a status
// response — the status request (length-prefixed, a single 0x00 packet id
// byte) and the ping (length-prefixed, packet id 0x01 followed by an
// 8-byte token) — and echoes the ping back unchanged, as real Minecraft
// servers do to let the client measure round-trip time.
func EchoStatusPing(r io.Reader, w io.Writer) error {
	reqLen, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	reqBody := make([]byte, reqLen)
	if _, err := io.ReadFull(r, reqBody); err != nil {
		return err
	}
	if reqLen != 1 || reqBody[0] != 0x00 {
		return invalid("expected status request packet")
	}

	pingLen, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	pingBody := make([]byte, pingLen)
	if _, err := io.ReadFull(r, pingBody); err != nil {
		return err
	}
	if pingLen != 9 || pingBody[0] != 0x01 {
		return invalid("expected ping packet")
	}

	var out bytes.Buffer
	if err := WriteVarInt(&out, pingLen); err != nil {
		return err
	}
	out.Write(pingBody)
	_, err = w.Write(out.Bytes())
	return err
}

type chatComponent struct {
	Text string `json:"text"`
}

// WriteKickResponse writes the modern-protocol login-disconnect response for
// a client that tried to join (not just ping) an unregistered hostname.
func WriteKickResponse(w io.Writer, text string) error {
	body, err := json.Marshal(chatComponent{Text: text})
	if err != nil {
		return err
	}
	return writeModernPacket(w, body)
}

func writeModernPacket(w io.Writer, jsonBody []byte) error {
	var payload bytes.Buffer
	payload.WriteByte(0x00)
	if err := WriteVarInt(&payload, int32(len(jsonBody))); err != nil {
		return err
	}
	payload.Write(jsonBody)

	var out bytes.Buffer
	if err := WriteVarInt(&out, int32(payload.Len())); err != nil {
		return err
	}
	out.Write(payload.Bytes())
	_, err := w.Write(out.Bytes())
	return err
}

// WriteLegacyKick writes a pre-1.7 "0xFF disconnect" packet. Real clients
// expect the length field to read as it would from a server that derives it
// from the message's UTF-8 byte count rather than its true UTF-16 unit
// count. The payload's leading "§" is one UTF-16 unit but two UTF-8 bytes,
// so that byte-count-minus-one value and the true unit count
// putUTF16BEString already writes happen to be the same number — no
// adjustment is needed here, unlike for a payload without a multi-byte
// character.
func WriteLegacyKick(w io.Writer, protocolVersion byte, firstLine, secondLine string) error {
	payload := fmt.Sprintf("§1\x00%d\x00%s\x00%s\x000\x000", protocolVersion, firstLine, secondLine)
	units := putUTF16BEString(payload)

	var out bytes.Buffer
	out.WriteByte(0xFF)
	out.Write(units)
	_, err := w.Write(out.Bytes())
	return err
}
