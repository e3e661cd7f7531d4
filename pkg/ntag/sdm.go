// Package ntag verifies Secure Unique NFC (SUN) messages produced by NTAG 424 DNA tags.
//
// A tag configured for SDM mirrors its UID, its 24-bit read counter and a truncated
// AES-CMAC into the URL it emits on every read. The MAC is keyed with a per-tag key
// that the backend re-derives from a master key, so a captured URL cannot be replayed
// with a forged counter.
package ntag

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-128 key size used by NTAG 424 DNA.
	KeySize = 16
	// UIDSize is the length of a 7-byte NTAG UID.
	UIDSize = 7
	// MACSize is the length of the truncated SDMMAC mirrored into the URL.
	MACSize = 8
	// MaxCounter is the largest value of the 24-bit SDM read counter.
	MaxCounter = 0xFFFFFF
)

var (
	ErrInvalidKey     = errors.New("ntag: master key must be 16 bytes")
	ErrInvalidUID     = errors.New("ntag: uid must be 7 bytes of hex")
	ErrInvalidMAC     = errors.New("ntag: mac must be 8 bytes of hex")
	ErrCounterRange   = errors.New("ntag: counter exceeds 24 bits")
	ErrMACMismatch    = errors.New("ntag: mac mismatch")
	diversifyConstant = []byte{0x01}
)

// Verifier checks SUN MACs against per-tag keys derived from a master key.
type Verifier struct {
	masterKey []byte
}

// NewVerifier creates a verifier from a hex-encoded AES-128 master key.
func NewVerifier(masterKeyHex string) (*Verifier, error) {
	key, err := hex.DecodeString(strings.TrimSpace(masterKeyHex))
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Verifier{masterKey: key}, nil
}

// Verify returns nil when macHex is the SDMMAC the tag uidHex would emit at counter.
func (v *Verifier) Verify(uidHex string, counter uint32, macHex string) error {
	uid, err := ParseUID(uidHex)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(strings.TrimSpace(macHex))
	if err != nil || len(got) != MACSize {
		return ErrInvalidMAC
	}

	want, err := v.mac(uid, counter)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMACMismatch
	}
	return nil
}

// Sign returns the upper-case hex SDMMAC for uidHex at counter. It is used to mint
// test URLs for provisioned tags.
func (v *Verifier) Sign(uidHex string, counter uint32) (string, error) {
	uid, err := ParseUID(uidHex)
	if err != nil {
		return "", err
	}
	mac, err := v.mac(uid, counter)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(mac)), nil
}

func (v *Verifier) mac(uid []byte, counter uint32) ([]byte, error) {
	if counter > MaxCounter {
		return nil, ErrCounterRange
	}
	tagKey, err := DiversifyKey(v.masterKey, uid)
	if err != nil {
		return nil, err
	}
	sessionKey, err := CMAC(tagKey, sessionVector(uid, counter))
	if err != nil {
		return nil, err
	}
	// No file data is mirrored, so the MAC input is empty.
	full, err := CMAC(sessionKey, nil)
	if err != nil {
		return nil, err
	}
	return truncate(full), nil
}

// DiversifyKey derives the per-tag application key as AES-CMAC(master, 0x01 || UID).
func DiversifyKey(master, uid []byte) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKey
	}
	if len(uid) != UIDSize {
		return nil, ErrInvalidUID
	}
	input := make([]byte, 0, len(diversifyConstant)+len(uid))
	input = append(input, diversifyConstant...)
	input = append(input, uid...)
	return CMAC(master, input)
}

// ParseUID decodes a 14-character hex UID.
func ParseUID(uidHex string) ([]byte, error) {
	uid, err := hex.DecodeString(strings.TrimSpace(uidHex))
	if err != nil || len(uid) != UIDSize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUID, uidHex)
	}
	return uid, nil
}

// sessionVector builds SV2 = 3CC3 0001 0080 || UID || SDMReadCtr (LSB first).
func sessionVector(uid []byte, counter uint32) []byte {
	sv := []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}
	sv = append(sv, uid...)
	sv = append(sv, byte(counter), byte(counter>>8), byte(counter>>16))
	return sv
}

// truncate keeps the odd-indexed bytes of a 16-byte CMAC.
func truncate(full []byte) []byte {
	out := make([]byte, 0, MACSize)
	for i := 1; i < len(full); i += 2 {
		out = append(out, full[i])
	}
	return out
}
