package trust

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
)

const (
	// IntelQvEMRSIGNER is the signer measurement of Intel's quote verification enclave.
	IntelQvEMRSIGNER = "8c4f5775d796503e96137f77c68a829a0056ac8ded70140b081b094490c57bff"
	// IntelQvEISVProdID is the product id of Intel's quote verification enclave.
	IntelQvEISVProdID = 2
)

// QvEIdentity is the expected identity of the quote verification enclave.
type QvEIdentity struct {
	MRSIGNER   [32]byte
	ISVProdID  uint16
	MinISVSVN  uint16
	AllowDebug bool
}

// DefaultQvEIdentity returns the identity of Intel's production quote verification enclave.
func DefaultQvEIdentity() QvEIdentity {
	mrSigner, err := hex.DecodeString(IntelQvEMRSIGNER)
	if err != nil {
		panic(err)
	}
	return QvEIdentity{
		MRSIGNER:  [32]byte(mrSigner),
		ISVProdID: IntelQvEISVProdID,
	}
}

// Matches returns an error if the report body was not produced by the expected enclave.
func (q QvEIdentity) Matches(body types.ReportBody) error {
	if body.MRSIGNER != q.MRSIGNER {
		return fmt.Errorf("QvE MRSIGNER mismatch: expected %x, got %x", q.MRSIGNER, body.MRSIGNER)
	}
	if body.ISVProdID != q.ISVProdID {
		return fmt.Errorf("QvE ISV product id mismatch: expected %d, got %d", q.ISVProdID, body.ISVProdID)
	}
	if body.ISVSVN < q.MinISVSVN {
		return fmt.Errorf("QvE ISV SVN %d is below the minimum %d", body.ISVSVN, q.MinISVSVN)
	}
	if body.Debug() && !q.AllowDebug {
		return errors.New("QvE runs in debug mode")
	}
	return nil
}

// Policy decides which quote verification results are trusted.
// There is no default set of accepted verdicts, every deployment has to choose one.
type Policy struct {
	// AcceptedVerdicts lists the verdicts considered trustworthy.
	AcceptedVerdicts []Verdict
	// AllowExpiredCollateral accepts results for which the verifier reported expired collateral.
	AllowExpiredCollateral bool
	// MinTCBEvaluationDataNumber is the lowest accepted TCB evaluation data number
	// from the supplemental data. 0 disables the check.
	MinTCBEvaluationDataNumber uint32
	// QvE is the expected identity of the quote verification enclave. nil disables the check.
	QvE *QvEIdentity
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if len(p.AcceptedVerdicts) == 0 {
		return status.New(status.InvalidParameter, "policy accepts no quote verification verdict")
	}
	for _, verdict := range p.AcceptedVerdicts {
		if verdict.Terminal() {
			return status.Errorf(status.InvalidParameter, "verdict %s can not be accepted", verdict)
		}
	}
	return nil
}

// Accepts reports whether the verdict lies in the accepted tier set.
func (p Policy) Accepts(verdict Verdict) bool {
	if verdict.Terminal() {
		return false
	}
	for _, accepted := range p.AcceptedVerdicts {
		if accepted == verdict {
			return true
		}
	}
	return false
}
