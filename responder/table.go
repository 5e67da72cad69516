package responder

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"go.uber.org/zap"
)

// Handle is an opaque reference to a session in a Table. 0 is never a valid handle.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// QvEInput is the verification result of the peer's quote as delivered across the trust boundary.
type QvEInput struct {
	// QvEReport is the 432 byte report of the quote verification enclave.
	QvEReport []byte
	// ExpirationTime is the time until which the result is valid, in seconds since the Unix epoch.
	ExpirationTime int64
	// CollateralExpirationStatus is non-zero if the verifier found expired collateral.
	CollateralExpirationStatus uint32
	// Verdict is the quote verification result.
	Verdict trust.Verdict
	// QvENonce is the 16 byte nonce echoed by the quote verification enclave.
	QvENonce []byte
	// Supplemental is optional. nil means absent, a non-nil empty slice is rejected.
	Supplemental []byte
}

// Table maps opaque handles to sessions. It is the only state shared between sessions.
// The table is safe for concurrent use, a single session is not: callers must not use
// the same handle concurrently.
type Table struct {
	mu       sync.Mutex
	sessions map[Handle]*Session
	capacity int

	settings *settings
	region   Region
	logger   *zap.Logger
}

// NewTable creates a session table. All external buffers are checked against region.
func NewTable(cfg Config, region Region) (*Table, error) {
	s, err := cfg.settings()
	if err != nil {
		return nil, err
	}
	if region == nil {
		return nil, status.New(status.InvalidParameter, "no region configured")
	}
	return &Table{
		sessions: make(map[Handle]*Session),
		capacity: cfg.capacity(),
		settings: s,
		region:   region,
		logger:   s.logger,
	}, nil
}

// Len returns the number of open sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Init creates a new session and returns its handle.
func (t *Table) Init() (Handle, status.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// -1 indicates infinite capacity
	if t.capacity != -1 && len(t.sessions) >= t.capacity {
		t.logger.Warn("Session table full", zap.Int("capacity", t.capacity))
		return 0, status.OutOfMemory
	}

	// Generate a non-zero unique handle. 0 is reserved.
	var handle Handle
	var raw [8]byte
	for {
		if _, err := rand.Read(raw[:]); err != nil {
			t.logger.Error("Generating session handle", zap.Error(err))
			return 0, status.Unexpected
		}
		handle = Handle(binary.BigEndian.Uint64(raw[:]))
		if handle == 0 {
			continue
		}
		if _, ok := t.sessions[handle]; !ok {
			break
		}
	}

	session, err := newSession(t.settings, t.logger.With(zap.Stringer("handle", handle)))
	if err != nil {
		t.logger.Warn("Creating session", zap.Error(err))
		return 0, status.FromError(err)
	}
	t.sessions[handle] = session
	return handle, status.Success
}

// ProcMsg1 processes message 1 for the session h. qeTarget is the target info of the quoting enclave.
func (t *Table) ProcMsg1(h Handle, msg1, qeTarget []byte) (Msg1Output, status.Code) {
	if !inEnclave(t.region, msg1, types.Msg1Size) || !inEnclave(t.region, qeTarget, types.TargetInfoSize) {
		return Msg1Output{}, status.InvalidParameter
	}
	session, code := t.get(h)
	if code != status.Success {
		return Msg1Output{}, code
	}

	parsedMsg1, err := types.ParseMsg1(msg1)
	if err != nil {
		return Msg1Output{}, status.FromError(err)
	}
	target, err := types.ParseTargetInfo(qeTarget)
	if err != nil {
		return Msg1Output{}, status.FromError(err)
	}

	out, err := session.ProcessMsg1(parsedMsg1, target)
	return out, status.FromError(err)
}

// GetMsg2 fills in the header of msg2 for the session h. qeReport is the local report
// produced by the quoting enclave for the request returned by ProcMsg1; it is verified
// with the configured ReportVerifier and must match the requested target and report data.
// msg2 must already carry the quote size and quote.
func (t *Table) GetMsg2(h Handle, qeReport, msg2 []byte) status.Code {
	if !inEnclave(t.region, qeReport, types.ReportSize) ||
		!inEitherRegion(t.region, msg2, types.Msg2HeaderSize+types.Quote3MinSize) {
		return status.InvalidParameter
	}
	session, code := t.get(h)
	if code != status.Success {
		return code
	}

	report, err := types.ParseReport(qeReport)
	if err != nil {
		return status.FromError(err)
	}
	return status.FromError(session.WriteMsg2(report, msg2))
}

// ProcMsg3 processes message 3 for the session h together with the verification result of its quote.
func (t *Table) ProcMsg3(h Handle, msg3 []byte, qve QvEInput) status.Code {
	if !inEitherRegion(t.region, msg3, types.Msg3HeaderSize+types.Quote3MinSize) ||
		!inEnclave(t.region, qve.QvEReport, types.ReportSize) ||
		!inEnclave(t.region, qve.QvENonce, types.QuoteNonceSize) {
		return status.InvalidParameter
	}
	if qve.Supplemental != nil && !inEnclave(t.region, qve.Supplemental, -1) {
		return status.InvalidParameter
	}
	session, code := t.get(h)
	if code != status.Success {
		return code
	}

	qveReport, err := types.ParseReport(qve.QvEReport)
	if err != nil {
		return status.FromError(err)
	}
	input := trust.Input{
		QvEReport:                  qveReport,
		ExpirationTime:             qve.ExpirationTime,
		CollateralExpirationStatus: qve.CollateralExpirationStatus,
		Verdict:                    qve.Verdict,
		QvENonce:                   types.QuoteNonce(qve.QvENonce),
		Supplemental:               append([]byte(nil), qve.Supplemental...),
	}
	return status.FromError(session.ProcessMsg3(msg3, input))
}

// GetPeerIdentity returns the accepted verdict and the identity of the peer verified by session h.
func (t *Table) GetPeerIdentity(h Handle) (trust.Verdict, types.PeerIdentity, status.Code) {
	session, code := t.get(h)
	if code != status.Success {
		return 0, types.PeerIdentity{}, code
	}
	verdict, identity, err := session.PeerIdentity()
	return verdict, identity, status.FromError(err)
}

// GetKeys returns a session key of session h.
func (t *Table) GetKeys(h Handle, keyType KeyType) (types.Key128, status.Code) {
	session, code := t.get(h)
	if code != status.Success {
		return types.Key128{}, code
	}
	key, err := session.Key(keyType)
	return key, status.FromError(err)
}

// Close erases and releases session h. Closing an unknown handle succeeds.
func (t *Table) Close(h Handle) status.Code {
	t.mu.Lock()
	session, ok := t.sessions[h]
	delete(t.sessions, h)
	t.mu.Unlock()

	if ok {
		session.Close()
	}
	return status.Success
}

func (t *Table) get(h Handle) (*Session, status.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[h]
	if !ok {
		return nil, status.InvalidParameter
	}
	return session, status.Success
}
