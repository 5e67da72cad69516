package types

import (
	"encoding/binary"
	"time"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
)

/*
   Quote verification supplemental data (leading fixed part)
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/master/QuoteVerification/QvE/Include/sgx_qve_header.h
*/

// SupplementalMinSize is the size of the fixed supplemental fields interpreted by the responder.
const SupplementalMinSize = 48

// Supplemental is the leading part of sgx_ql_qv_supplemental_t.
// Dates are seconds since the Unix epoch.
type Supplemental struct {
	Version                uint32
	EarliestIssueDate      int64
	LatestIssueDate        int64
	EarliestExpirationDate int64
	TCBLevelDateTag        int64
	PCKCRLNum              uint32
	RootCACRLNum           uint32
	TCBEvalRefNum          uint32
}

// ParseSupplemental parses supplemental data returned by the quote verification enclave.
// Trailing bytes beyond the fixed part are ignored.
func ParseSupplemental(raw []byte) (Supplemental, error) {
	if len(raw) < SupplementalMinSize {
		return Supplemental{}, status.Errorf(status.InvalidParameter, "supplemental data is too short to be parsed (received: %d bytes)", len(raw))
	}
	return Supplemental{
		Version:                binary.LittleEndian.Uint32(raw[0:4]),
		EarliestIssueDate:      int64(binary.LittleEndian.Uint64(raw[4:12])),
		LatestIssueDate:        int64(binary.LittleEndian.Uint64(raw[12:20])),
		EarliestExpirationDate: int64(binary.LittleEndian.Uint64(raw[20:28])),
		TCBLevelDateTag:        int64(binary.LittleEndian.Uint64(raw[28:36])),
		PCKCRLNum:              binary.LittleEndian.Uint32(raw[36:40]),
		RootCACRLNum:           binary.LittleEndian.Uint32(raw[40:44]),
		TCBEvalRefNum:          binary.LittleEndian.Uint32(raw[44:48]),
	}, nil
}

// Marshal serializes the fixed supplemental fields.
func (s *Supplemental) Marshal() [SupplementalMinSize]byte {
	var result [SupplementalMinSize]byte
	binary.LittleEndian.PutUint32(result[0:4], s.Version)
	binary.LittleEndian.PutUint64(result[4:12], uint64(s.EarliestIssueDate))
	binary.LittleEndian.PutUint64(result[12:20], uint64(s.LatestIssueDate))
	binary.LittleEndian.PutUint64(result[20:28], uint64(s.EarliestExpirationDate))
	binary.LittleEndian.PutUint64(result[28:36], uint64(s.TCBLevelDateTag))
	binary.LittleEndian.PutUint32(result[36:40], s.PCKCRLNum)
	binary.LittleEndian.PutUint32(result[40:44], s.RootCACRLNum)
	binary.LittleEndian.PutUint32(result[44:48], s.TCBEvalRefNum)
	return result
}

// EarliestExpiration returns the earliest expiration date of the collateral.
func (s *Supplemental) EarliestExpiration() time.Time {
	return time.Unix(s.EarliestExpirationDate, 0)
}
