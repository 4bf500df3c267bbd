// Package auth implements the Ed25519 challenge/response exchange that
// proves a proxy-client owns the private key behind the hostname it claims.
// The public key is the hostname: there is no separate user database to
// keep in sync with the registry's single-owner enforcement.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"oretunnel/protocol"
	"oretunnel/registry"
)

// DefaultKeySuffix is appended to every key-derived hostname. Operators can
// override it per deployment through config.RendezvousConfig.
const DefaultKeySuffix = ".t.example.net"

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// HostnameForKey derives the canonical hostname for a public key: a
// lowercase base32 encoding of the raw key bytes, followed by suffix. Two
// distinct keys never collide because the encoding is injective.
func HostnameForKey(pub ed25519.PublicKey, suffix string) string {
	return strings.ToLower(encoding.EncodeToString(pub)) + suffix
}

// NewIdentity generates a fresh Ed25519 keypair for a proxy-client and
// returns the hostname it will authenticate as.
func NewIdentity(suffix string) (ed25519.PublicKey, ed25519.PrivateKey, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, "", err
	}
	return pub, priv, HostnameForKey(pub, suffix), nil
}

// ServerExchange runs the server half of the challenge/response described
// in §4.4: it has already received hello. It first checks that hello's
// hostname is the one derived from hello's public key and, if not, returns
// an AuthError without sending a challenge; otherwise it sends the
// challenge, waits for the signed response, and verifies the signature. It
// returns nil on success, an *protocol.Error (kind AuthError or
// WrongPacket) on a failed check, or the encoder's or decoder's own error
// if the exchange itself breaks off. The caller is responsible for
// writing hello's ProxyError/ProxyHelloResponse reply — ServerExchange only
// decides the outcome.
func ServerExchange(enc *protocol.Encoder, dec *protocol.Decoder, hello protocol.ProxyHello, suffix string) error {
	if len(hello.Auth) != ed25519.PublicKeySize {
		return protocol.NewError(protocol.KindAuthError, "malformed public key")
	}
	pub := ed25519.PublicKey(hello.Auth[:])

	wantHost := registry.Clean(HostnameForKey(pub, suffix))
	if registry.Clean(hello.Hostname) != wantHost {
		return protocol.NewError(protocol.KindAuthError, "hostname does not match public key")
	}

	var challenge [32]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return protocol.WrapError(protocol.KindIO, "generate challenge", err)
	}
	if err := enc.Encode(protocol.ProxyAuthRequest{Challenge: challenge}); err != nil {
		return err
	}

	msg, err := dec.Decode()
	if err != nil {
		return err
	}
	resp, ok := msg.(protocol.ProxyAuthResponse)
	if !ok {
		return protocol.NewError(protocol.KindWrongPacket, fmt.Sprintf("expected ProxyAuthResponse, got %T", msg))
	}

	if !ed25519.Verify(pub, challenge[:], resp.Signature[:]) {
		return protocol.NewError(protocol.KindAuthError, "signature verification failed")
	}
	return nil
}

// ClientExchange runs the proxy-client half: reply to the server's
// ProxyAuthRequest by signing the challenge with priv.
func ClientExchange(enc *protocol.Encoder, dec *protocol.Decoder, priv ed25519.PrivateKey) error {
	msg, err := dec.Decode()
	if err != nil {
		return err
	}
	req, ok := msg.(protocol.ProxyAuthRequest)
	if !ok {
		return protocol.NewError(protocol.KindWrongPacket, fmt.Sprintf("expected ProxyAuthRequest, got %T", msg))
	}

	sig := ed25519.Sign(priv, req.Challenge[:])
	var fixed [64]byte
	copy(fixed[:], sig)
	return enc.Encode(protocol.ProxyAuthResponse{Signature: fixed})
}
