// Package crypto implements the key exchange primitives of the responder:
// P-256 ephemeral keys, ECDH agreement and the AES-CMAC based key derivation.
package crypto

import (
	"crypto/aes"
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/aead/cmac"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
)

// Labels of the keys derived from the key derivation key.
const (
	LabelSMK = "SMK"
	LabelSK  = "SK"
	LabelMK  = "MK"
	LabelVK  = "VK"
)

const (
	coordinateSize = 32
	// maxKeyAttempts bounds the rejection sampling of private scalars.
	maxKeyAttempts = 64
)

// GenerateKey generates an ephemeral P-256 private key.
// Exactly 32 bytes are read from rand per attempt, so a fixed reader yields a fixed key.
func GenerateKey(rand io.Reader) (*ecdh.PrivateKey, error) {
	scalar := make([]byte, coordinateSize)
	defer Wipe(scalar)

	for i := 0; i < maxKeyAttempts; i++ {
		if _, err := io.ReadFull(rand, scalar); err != nil {
			return nil, fmt.Errorf("reading random scalar: %w", err)
		}
		// NewPrivateKey rejects zero and scalars not below the group order.
		key, err := ecdh.P256().NewPrivateKey(scalar)
		if err == nil {
			return key, nil
		}
	}
	return nil, errors.New("failed to generate a valid P-256 scalar")
}

// EncodePublicKey encodes a P-256 public key as x || y, each coordinate little endian.
func EncodePublicKey(pub *ecdh.PublicKey) types.PublicKey {
	// uncompressed encoding: 0x04 || x (big endian) || y (big endian)
	raw := pub.Bytes()

	var out types.PublicKey
	copy(out[:coordinateSize], raw[1:1+coordinateSize])
	copy(out[coordinateSize:], raw[1+coordinateSize:])
	reverse(out[:coordinateSize])
	reverse(out[coordinateSize:])
	return out
}

// ParsePublicKey decodes a little endian x || y P-256 public key.
// Points not on the curve and the point at infinity are rejected.
func ParsePublicKey(raw types.PublicKey) (*ecdh.PublicKey, error) {
	uncompressed := make([]byte, 1+types.PublicKeySize)
	uncompressed[0] = 0x04
	copy(uncompressed[1:], raw[:])
	reverse(uncompressed[1 : 1+coordinateSize])
	reverse(uncompressed[1+coordinateSize:])

	pub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("invalid P-256 public key: %w", err)
	}
	return pub, nil
}

// SharedSecret computes the x-coordinate of priv * peer, little endian.
func SharedSecret(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([coordinateSize]byte, error) {
	var shared [coordinateSize]byte
	x, err := priv.ECDH(peer)
	if err != nil {
		return shared, fmt.Errorf("computing ECDH shared secret: %w", err)
	}
	defer Wipe(x)

	copy(shared[:], x)
	reverse(shared[:])
	return shared, nil
}

// DeriveKDK derives the key derivation key: AES-CMAC with an all-zero key over the shared secret.
func DeriveKDK(shared [coordinateSize]byte) (types.Key128, error) {
	var zero types.Key128
	mac, err := CMAC(zero, shared[:])
	if err != nil {
		return types.Key128{}, fmt.Errorf("deriving KDK: %w", err)
	}
	return types.Key128(mac), nil
}

// DeriveKey derives a purpose key from the KDK:
// AES-CMAC(KDK, 0x01 || label || 0x00 || 0x80 || 0x00).
func DeriveKey(kdk types.Key128, label string) (types.Key128, error) {
	mac, err := CMAC(kdk, derivationString(label))
	if err != nil {
		return types.Key128{}, fmt.Errorf("deriving %s: %w", label, err)
	}
	return types.Key128(mac), nil
}

// CMAC computes the AES-128-CMAC of msg.
func CMAC(key types.Key128, msg []byte) (types.MAC, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return types.MAC{}, fmt.Errorf("creating AES cipher for CMAC: %w", err)
	}
	sum, err := cmac.Sum(msg, block, aes.BlockSize)
	if err != nil {
		return types.MAC{}, fmt.Errorf("computing CMAC: %w", err)
	}
	return types.MAC(sum), nil
}

// VerifyMAC recomputes the CMAC of msg and compares it to mac in constant time.
func VerifyMAC(key types.Key128, msg []byte, mac types.MAC) (bool, error) {
	expected, err := CMAC(key, msg)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected[:], mac[:]) == 1, nil
}

// ReportDataHash binds a report to an exchanged key pair:
// SHA-256(g_a || g_b) followed by 32 zero bytes.
func ReportDataHash(ga, gb types.PublicKey) types.ReportData {
	h := sha256.New()
	h.Write(ga[:])
	h.Write(gb[:])

	var reportData types.ReportData
	copy(reportData[:], h.Sum(nil))
	return reportData
}

// Wipe zeroes the provided buffer.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

func derivationString(label string) []byte {
	out := make([]byte, len(label)+4)
	out[0] = 0x01
	copy(out[1:], label)
	// out[len(label)+1] = 0x00 is the separator
	out[len(label)+2] = 0x80 // key length in bits, 0x0080 little endian
	return out
}

func reverse(b []byte) {
	for left, right := 0, len(b)-1; left < right; left, right = left+1, right-1 {
		b[left], b[right] = b[right], b[left]
	}
}
