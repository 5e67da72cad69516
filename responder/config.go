package responder

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// DefaultMaxSessions is the session table capacity used when Config.MaxSessions is 0.
const DefaultMaxSessions = 256

// Config configures responder sessions.
type Config struct {
	// QuoteBounds limits the size of quotes in message 2 and message 3.
	// The zero value selects types.DefaultQuoteBounds.
	QuoteBounds types.QuoteBounds
	// Policy decides which quote verification results are trusted. Required.
	Policy trust.Policy
	// ReportVerifier verifies the local reports of the quoting enclave and of the QvE. Required.
	ReportVerifier trust.ReportVerifier
	// Clock provides trusted time. Defaults to the system clock.
	Clock clock.PassiveClock
	// Rand is the source of key material and nonces. Defaults to crypto/rand.Reader.
	// Reads by the sessions of one Table are serialized. A reader shared between
	// Tables or passed to concurrent NewSession calls must be safe for concurrent use.
	Rand io.Reader
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// MaxSessions limits the number of open handles in a Table. -1 is unlimited.
	MaxSessions int
}

// settings are the validated, defaulted parts of a Config shared by all sessions.
type settings struct {
	bounds    types.QuoteBounds
	evaluator *trust.Evaluator
	verifier  trust.ReportVerifier
	rand      io.Reader
	logger    *zap.Logger
}

// lockedReader serializes reads from a reader shared by sessions.
type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

func (c Config) settings() (*settings, error) {
	bounds := c.QuoteBounds
	if bounds == (types.QuoteBounds{}) {
		bounds = types.DefaultQuoteBounds()
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if c.MaxSessions < -1 {
		return nil, status.Errorf(status.InvalidParameter, "invalid session limit %d", c.MaxSessions)
	}

	evaluator, err := trust.NewEvaluator(c.Policy, c.ReportVerifier, c.Clock)
	if err != nil {
		return nil, err
	}

	s := &settings{
		bounds:    bounds,
		evaluator: evaluator,
		verifier:  c.ReportVerifier,
		rand:      c.Rand,
		logger:    c.Logger,
	}
	if s.rand == nil {
		s.rand = rand.Reader
	} else {
		s.rand = &lockedReader{r: s.rand}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

func (c Config) capacity() int {
	if c.MaxSessions == 0 {
		return DefaultMaxSessions
	}
	return c.MaxSessions
}
