package types

import (
	"encoding/binary"
	"fmt"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
)

/*
   SGX report and target info structures
   Based on:
   https://github.com/intel/linux-sgx/blob/master/common/inc/sgx_report.h
*/

const (
	// ReportBodySize is the size of an SGX report body.
	ReportBodySize = 384
	// ReportSize is the size of an SGX report: body, key id and MAC.
	ReportSize = ReportBodySize + 32 + 16
	// TargetInfoSize is the size of an SGX target info structure.
	TargetInfoSize = 512
	// ReportDataSize is the size of the user-defined report data.
	ReportDataSize = 64
	// QuoteNonceSize is the size of the anti-replay nonce.
	QuoteNonceSize = 16

	// AttributeDebug is the DEBUG flag in the first 8 bytes of the attributes.
	AttributeDebug = 0x02
)

// QuoteNonce is the anti-replay nonce issued with message 1.
type QuoteNonce [QuoteNonceSize]byte

// ReportData is the user-defined data embedded in a report.
type ReportData [ReportDataSize]byte

// Key128 is a 128 bit symmetric key.
type Key128 [16]byte

// ReportBody is the body of an SGX report (sgx_report_body_t).
type ReportBody struct {
	CPUSVN       [16]byte
	MiscSelect   uint32
	Reserved1    [12]byte
	ISVExtProdID [16]byte
	Attributes   [16]byte // flags (uint64) followed by xfrm (uint64)
	MRENCLAVE    [32]byte
	Reserved2    [32]byte
	MRSIGNER     [32]byte
	Reserved3    [32]byte
	ConfigID     [64]byte
	ISVProdID    uint16
	ISVSVN       uint16
	ConfigSVN    uint16
	Reserved4    [42]byte
	ISVFamilyID  [16]byte
	ReportData   ReportData
}

// ParseReportBody parses a 384 byte SGX report body.
func ParseReportBody(raw []byte) (ReportBody, error) {
	if len(raw) != ReportBodySize {
		return ReportBody{}, status.Errorf(status.InvalidParameter, "report body must be %d bytes (received: %d bytes)", ReportBodySize, len(raw))
	}

	return ReportBody{
		CPUSVN:       [16]byte(raw[0:16]),
		MiscSelect:   binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:    [12]byte(raw[20:32]),
		ISVExtProdID: [16]byte(raw[32:48]),
		Attributes:   [16]byte(raw[48:64]),
		MRENCLAVE:    [32]byte(raw[64:96]),
		Reserved2:    [32]byte(raw[96:128]),
		MRSIGNER:     [32]byte(raw[128:160]),
		Reserved3:    [32]byte(raw[160:192]),
		ConfigID:     [64]byte(raw[192:256]),
		ISVProdID:    binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:       binary.LittleEndian.Uint16(raw[258:260]),
		ConfigSVN:    binary.LittleEndian.Uint16(raw[260:262]),
		Reserved4:    [42]byte(raw[262:304]),
		ISVFamilyID:  [16]byte(raw[304:320]),
		ReportData:   ReportData(raw[320:384]),
	}, nil
}

// Marshal serializes a ReportBody to its binary representation found in a report or quote.
func (rb *ReportBody) Marshal() [ReportBodySize]byte {
	var result [ReportBodySize]byte
	copy(result[0:16], rb.CPUSVN[:])
	binary.LittleEndian.PutUint32(result[16:20], rb.MiscSelect)
	copy(result[20:32], rb.Reserved1[:])
	copy(result[32:48], rb.ISVExtProdID[:])
	copy(result[48:64], rb.Attributes[:])
	copy(result[64:96], rb.MRENCLAVE[:])
	copy(result[96:128], rb.Reserved2[:])
	copy(result[128:160], rb.MRSIGNER[:])
	copy(result[160:192], rb.Reserved3[:])
	copy(result[192:256], rb.ConfigID[:])
	binary.LittleEndian.PutUint16(result[256:258], rb.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], rb.ISVSVN)
	binary.LittleEndian.PutUint16(result[260:262], rb.ConfigSVN)
	copy(result[262:304], rb.Reserved4[:])
	copy(result[304:320], rb.ISVFamilyID[:])
	copy(result[320:384], rb.ReportData[:])
	return result
}

// Flags returns the attribute flags.
func (rb *ReportBody) Flags() uint64 {
	return binary.LittleEndian.Uint64(rb.Attributes[0:8])
}

// Debug reports whether the enclave was launched in debug mode.
func (rb *ReportBody) Debug() bool {
	return rb.Flags()&AttributeDebug != 0
}

// Identity extracts the identity of the enclave described by the report body.
func (rb *ReportBody) Identity() PeerIdentity {
	return PeerIdentity{
		CPUSVN:     rb.CPUSVN,
		Attributes: rb.Attributes,
		MRENCLAVE:  rb.MRENCLAVE,
		MRSIGNER:   rb.MRSIGNER,
		MiscSelect: rb.MiscSelect,
		ISVProdID:  rb.ISVProdID,
		ISVSVN:     rb.ISVSVN,
	}
}

// Report is an SGX report (sgx_report_t) produced by the hardware for a target enclave.
type Report struct {
	Body  ReportBody
	KeyID [32]byte
	MAC   [16]byte
}

// ParseReport parses a 432 byte SGX report.
func ParseReport(raw []byte) (Report, error) {
	if len(raw) != ReportSize {
		return Report{}, status.Errorf(status.InvalidParameter, "report must be %d bytes (received: %d bytes)", ReportSize, len(raw))
	}
	body, err := ParseReportBody(raw[:ReportBodySize])
	if err != nil {
		return Report{}, fmt.Errorf("parsing report body: %w", err)
	}
	return Report{
		Body:  body,
		KeyID: [32]byte(raw[384:416]),
		MAC:   [16]byte(raw[416:432]),
	}, nil
}

// Marshal serializes a Report to its binary representation.
func (r *Report) Marshal() [ReportSize]byte {
	var result [ReportSize]byte
	body := r.Body.Marshal()
	copy(result[0:384], body[:])
	copy(result[384:416], r.KeyID[:])
	copy(result[416:432], r.MAC[:])
	return result
}

// TargetInfo identifies the enclave a report is addressed to (sgx_target_info_t).
type TargetInfo struct {
	MRENCLAVE  [32]byte
	Attributes [16]byte
	Reserved1  [2]byte
	ConfigSVN  uint16
	MiscSelect uint32
	Reserved2  [8]byte
	ConfigID   [64]byte
	Reserved3  [384]byte
}

// ParseTargetInfo parses a 512 byte SGX target info structure.
func ParseTargetInfo(raw []byte) (TargetInfo, error) {
	if len(raw) != TargetInfoSize {
		return TargetInfo{}, status.Errorf(status.InvalidParameter, "target info must be %d bytes (received: %d bytes)", TargetInfoSize, len(raw))
	}
	return TargetInfo{
		MRENCLAVE:  [32]byte(raw[0:32]),
		Attributes: [16]byte(raw[32:48]),
		Reserved1:  [2]byte(raw[48:50]),
		ConfigSVN:  binary.LittleEndian.Uint16(raw[50:52]),
		MiscSelect: binary.LittleEndian.Uint32(raw[52:56]),
		Reserved2:  [8]byte(raw[56:64]),
		ConfigID:   [64]byte(raw[64:128]),
		Reserved3:  [384]byte(raw[128:512]),
	}, nil
}

// Marshal serializes a TargetInfo to its binary representation.
func (ti *TargetInfo) Marshal() [TargetInfoSize]byte {
	var result [TargetInfoSize]byte
	copy(result[0:32], ti.MRENCLAVE[:])
	copy(result[32:48], ti.Attributes[:])
	copy(result[48:50], ti.Reserved1[:])
	binary.LittleEndian.PutUint16(result[50:52], ti.ConfigSVN)
	binary.LittleEndian.PutUint32(result[52:56], ti.MiscSelect)
	copy(result[56:64], ti.Reserved2[:])
	copy(result[64:128], ti.ConfigID[:])
	copy(result[128:512], ti.Reserved3[:])
	return result
}

// ReportRequest asks the caller to produce a local report for Target carrying ReportData.
type ReportRequest struct {
	Target     TargetInfo
	ReportData ReportData
}

// PeerIdentity is the identity of a verified peer enclave (sgx_enclave_identity_t).
type PeerIdentity struct {
	CPUSVN     [16]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	MRSIGNER   [32]byte
	MiscSelect uint32
	ISVProdID  uint16
	ISVSVN     uint16
}

// Flags returns the attribute flags of the peer.
func (p *PeerIdentity) Flags() uint64 {
	return binary.LittleEndian.Uint64(p.Attributes[0:8])
}
