package types

import (
	"encoding/binary"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
)

const (
	// PublicKeySize is the size of an encoded P-256 public key.
	PublicKeySize = 64
	// MACSize is the size of a message authentication code.
	MACSize = 16
	// PSSecurityPropertySize is the size of the platform service security property in message 3.
	PSSecurityPropertySize = 256

	// Msg1Size is the size of message 1.
	Msg1Size = PublicKeySize
	// Msg2HeaderSize is the size of the fixed part of message 2.
	Msg2HeaderSize = PublicKeySize + 2 + MACSize + 4
	// Msg3HeaderSize is the size of the fixed part of message 3.
	Msg3HeaderSize = MACSize + PublicKeySize + PSSecurityPropertySize + 4

	// KDFIDAESCMAC identifies the AES-CMAC based key derivation.
	KDFIDAESCMAC = 1

	// MinQuoteSize is the smallest quote that can hold a v3 header, report body,
	// signature data length and minimal ECDSA signature data.
	MinQuoteSize = Quote3MinSize + ecdsaSigDataSize + 2 + 6
	// MaxQuoteSize is the largest quote accepted by default (1 MiB).
	MaxQuoteSize = 1 << 20

	// ecdsaSigDataSize is signature (64) + attestation key (64) + QE report (384) + QE report signature (64).
	ecdsaSigDataSize = 64 + 64 + ReportBodySize + 64
)

// PublicKey is a P-256 public key, x then y, both little endian.
type PublicKey [PublicKeySize]byte

// MAC is an AES-CMAC tag.
type MAC [MACSize]byte

// QuoteBounds are the configured minimum and maximum quote sizes.
type QuoteBounds struct {
	Min uint32
	Max uint32
}

// DefaultQuoteBounds returns the default quote size bounds.
func DefaultQuoteBounds() QuoteBounds {
	return QuoteBounds{Min: MinQuoteSize, Max: MaxQuoteSize}
}

// Check returns an InvalidQuote error if size lies outside the bounds.
func (b QuoteBounds) Check(size uint32) error {
	if size < b.Min || size > b.Max {
		return status.Errorf(status.InvalidQuote, "quote size %d outside of allowed range [%d, %d]", size, b.Min, b.Max)
	}
	return nil
}

// Validate checks the bounds are usable.
func (b QuoteBounds) Validate() error {
	if b.Min == 0 {
		return status.New(status.InvalidParameter, "minimum quote size must not be 0")
	}
	if b.Min > b.Max {
		return status.Errorf(status.InvalidParameter, "minimum quote size %d exceeds maximum %d", b.Min, b.Max)
	}
	return nil
}

// Msg1 is the first message, sent by the initiator.
type Msg1 struct {
	GA PublicKey
}

// ParseMsg1 parses message 1. The input must be exactly Msg1Size bytes.
func ParseMsg1(raw []byte) (Msg1, error) {
	if len(raw) != Msg1Size {
		return Msg1{}, status.Errorf(status.InvalidParameter, "message 1 must be %d bytes (received: %d bytes)", Msg1Size, len(raw))
	}
	return Msg1{GA: PublicKey(raw)}, nil
}

// Marshal serializes message 1.
func (m *Msg1) Marshal() [Msg1Size]byte {
	return m.GA
}

// Msg2 is the second message, sent by the responder.
type Msg2 struct {
	GB    PublicKey
	KDFID uint16
	MAC   MAC
	Quote []byte
}

// MACInput returns the data covered by the message 2 MAC: g_b || kdf_id.
// The quote is not covered; its integrity is protected by its own signature.
func (m *Msg2) MACInput() []byte {
	out := make([]byte, 0, PublicKeySize+2)
	out = append(out, m.GB[:]...)
	return binary.LittleEndian.AppendUint16(out, m.KDFID)
}

// Marshal serializes message 2 including the quote.
func (m *Msg2) Marshal() []byte {
	out := make([]byte, Msg2HeaderSize+len(m.Quote))
	m.putHeader(out)
	binary.LittleEndian.PutUint32(out[82:86], uint32(len(m.Quote)))
	copy(out[Msg2HeaderSize:], m.Quote)
	return out
}

// PutHeader writes g_b, kdf_id and mac into an already allocated message 2 buffer.
// The quote size and quote in buf are left untouched.
func (m *Msg2) PutHeader(buf []byte) error {
	if len(buf) < Msg2HeaderSize {
		return status.Errorf(status.SizeMismatch, "message 2 buffer is too short (received: %d bytes)", len(buf))
	}
	m.putHeader(buf)
	return nil
}

func (m *Msg2) putHeader(buf []byte) {
	copy(buf[0:64], m.GB[:])
	binary.LittleEndian.PutUint16(buf[64:66], m.KDFID)
	copy(buf[66:82], m.MAC[:])
}

// ParseMsg2 parses message 2. The quote is copied out of raw.
func ParseMsg2(raw []byte, bounds QuoteBounds) (Msg2, error) {
	quote, err := quoteTail(raw, Msg2HeaderSize, bounds)
	if err != nil {
		return Msg2{}, err
	}
	return Msg2{
		GB:    PublicKey(raw[0:64]),
		KDFID: binary.LittleEndian.Uint16(raw[64:66]),
		MAC:   MAC(raw[66:82]),
		Quote: quote,
	}, nil
}

// Msg2Quote extracts the quote a caller placed into a message 2 buffer before the
// responder fills in the header. The size rules of ParseMsg2 apply.
func Msg2Quote(raw []byte, bounds QuoteBounds) ([]byte, error) {
	return quoteTail(raw, Msg2HeaderSize, bounds)
}

// Msg3 is the third message, sent by the initiator.
type Msg3 struct {
	MAC                MAC
	GA                 PublicKey
	PSSecurityProperty [PSSecurityPropertySize]byte
	Quote              []byte
}

// MACInput returns the data covered by the message 3 MAC: g_a || ps_security_property || quote.
func (m *Msg3) MACInput() []byte {
	out := make([]byte, 0, PublicKeySize+PSSecurityPropertySize+len(m.Quote))
	out = append(out, m.GA[:]...)
	out = append(out, m.PSSecurityProperty[:]...)
	return append(out, m.Quote...)
}

// Marshal serializes message 3 including the quote.
func (m *Msg3) Marshal() []byte {
	out := make([]byte, Msg3HeaderSize+len(m.Quote))
	copy(out[0:16], m.MAC[:])
	copy(out[16:80], m.GA[:])
	copy(out[80:336], m.PSSecurityProperty[:])
	binary.LittleEndian.PutUint32(out[336:340], uint32(len(m.Quote)))
	copy(out[Msg3HeaderSize:], m.Quote)
	return out
}

// ParseMsg3 parses message 3. All fields are copied out of raw, so raw may be
// modified by its owner afterwards without affecting the result.
func ParseMsg3(raw []byte, bounds QuoteBounds) (Msg3, error) {
	quote, err := quoteTail(raw, Msg3HeaderSize, bounds)
	if err != nil {
		return Msg3{}, err
	}
	return Msg3{
		MAC:                MAC(raw[0:16]),
		GA:                 PublicKey(raw[16:80]),
		PSSecurityProperty: [PSSecurityPropertySize]byte(raw[80:336]),
		Quote:              quote,
	}, nil
}

// quoteTail validates the quote size field stored in the last 4 bytes of the header
// and returns a copy of the quote following it.
func quoteTail(raw []byte, headerSize int, bounds QuoteBounds) ([]byte, error) {
	rawLength := len(raw)
	if rawLength < headerSize {
		return nil, status.Errorf(status.SizeMismatch, "message is too short to be parsed (requires at least: %d bytes, received: %d bytes)", headerSize, rawLength)
	}

	quoteSize := binary.LittleEndian.Uint32(raw[headerSize-4 : headerSize])
	if err := bounds.Check(quoteSize); err != nil {
		return nil, err
	}

	// Upgrade to uint64 since header + quote size could overflow uint32.
	expectedSize := uint64(headerSize) + uint64(quoteSize)
	if expectedSize != uint64(rawLength) {
		return nil, status.Errorf(status.SizeMismatch, "message size does not match the declared quote size (expected: %d bytes, got: %d bytes)", expectedSize, rawLength)
	}

	quote := make([]byte, quoteSize)
	copy(quote, raw[headerSize:])
	return quote, nil
}
