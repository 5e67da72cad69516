package types

import (
	"encoding/binary"
	"fmt"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
)

/*
   SGX (Quote 3) quote parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/master/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h

   Only the header and the report body are interpreted here. The signature data is
   opaque to the responder and verified by the quote verification enclave.
*/

const (
	// Quote3HeaderSize is the size of the quote v3 header.
	Quote3HeaderSize = 48
	// Quote3MinSize is the size of header, report body and signature data length.
	Quote3MinSize = Quote3HeaderSize + ReportBodySize + 4

	// QuoteVersion3 is the only quote version accepted.
	QuoteVersion3 = 3
	// AttestationKeyTypeECDSAP256 is the attestation key type of ECDSA-256-with-P-256 quotes.
	AttestationKeyTypeECDSAP256 = 2
)

// Quote3Header is the header of an SGX v3 quote.
type Quote3Header struct {
	Version            uint16
	AttestationKeyType uint16
	AttKeyData0        uint32 // reserved
	QESVN              uint16
	PCESVN             uint16
	VendorID           [16]byte
	UserData           [20]byte
}

// Marshal serializes a Quote3Header to its binary representation.
func (h *Quote3Header) Marshal() [Quote3HeaderSize]byte {
	var result [Quote3HeaderSize]byte
	binary.LittleEndian.PutUint16(result[0:2], h.Version)
	binary.LittleEndian.PutUint16(result[2:4], h.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], h.AttKeyData0)
	binary.LittleEndian.PutUint16(result[8:10], h.QESVN)
	binary.LittleEndian.PutUint16(result[10:12], h.PCESVN)
	copy(result[12:28], h.VendorID[:])
	copy(result[28:48], h.UserData[:])
	return result
}

// Quote3 is an SGX v3 quote.
type Quote3 struct {
	Header          Quote3Header
	Body            ReportBody
	SignatureLength uint32
	SignatureData   []byte
}

// ParseQuote parses an SGX v3 quote. The expected input is the complete quote,
// the signature data length must account for every remaining byte.
func ParseQuote(rawQuote []byte) (Quote3, error) {
	quoteLength := len(rawQuote)
	if quoteLength < Quote3MinSize {
		return Quote3{}, status.Errorf(status.InvalidQuote, "quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}

	header := Quote3Header{
		Version:            binary.LittleEndian.Uint16(rawQuote[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(rawQuote[2:4]),
		AttKeyData0:        binary.LittleEndian.Uint32(rawQuote[4:8]),
		QESVN:              binary.LittleEndian.Uint16(rawQuote[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(rawQuote[10:12]),
		VendorID:           [16]byte(rawQuote[12:28]),
		UserData:           [20]byte(rawQuote[28:48]),
	}
	if header.Version != QuoteVersion3 {
		return Quote3{}, status.Errorf(status.InvalidQuote, "quote version is not 3 (got: %d)", header.Version)
	}
	if header.AttestationKeyType != AttestationKeyTypeECDSAP256 {
		return Quote3{}, status.Errorf(status.InvalidQuote, "quote attestation key type is not ECDSA-P256 (got: %d)", header.AttestationKeyType)
	}

	body, err := ParseReportBody(rawQuote[Quote3HeaderSize : Quote3HeaderSize+ReportBodySize])
	if err != nil {
		return Quote3{}, fmt.Errorf("parsing quote body: %w", err)
	}

	signatureLength := binary.LittleEndian.Uint32(rawQuote[432:436])
	// Upgrade to uint64 since we could overflow if signatureLength is close to the top of uint32.
	expectedSize := uint64(Quote3MinSize) + uint64(signatureLength)
	if expectedSize != uint64(quoteLength) {
		return Quote3{}, status.Errorf(status.InvalidQuote, "quote SignatureLength is either incorrect or data is truncated (expected: %d bytes, got: %d bytes)", expectedSize, quoteLength)
	}

	signatureData := make([]byte, signatureLength)
	copy(signatureData, rawQuote[Quote3MinSize:])

	return Quote3{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		SignatureData:   signatureData,
	}, nil
}

// Marshal serializes a Quote3 to its binary representation.
// SignatureLength is recomputed from SignatureData.
func (q *Quote3) Marshal() []byte {
	out := make([]byte, Quote3MinSize+len(q.SignatureData))
	header := q.Header.Marshal()
	body := q.Body.Marshal()
	copy(out[0:48], header[:])
	copy(out[48:432], body[:])
	binary.LittleEndian.PutUint32(out[432:436], uint32(len(q.SignatureData)))
	copy(out[Quote3MinSize:], q.SignatureData)
	return out
}
