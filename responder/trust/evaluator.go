/*
# Quote Trust Evaluation

This package decides whether the peer's quote, already verified by an external
quote verification enclave (QvE), is trusted. It never verifies quote signatures itself.

Evaluation of a QvE result follows these steps:

  - Verify the QvE report was produced on this platform, using the ReportVerifier.

  - Verify the QvE report was produced by the expected QvE (optional, see Policy.QvE).

  - Verify the nonce echoed by the QvE is the one issued for this session.

  - Verify the QvE report data commits to the quote and the verification result.

  - Check the verdict against the accepted tiers of the policy.

  - Check the expiration time and collateral status against the trusted clock.

  - Check the supplemental data, if present.

After acceptance, CheckBinding verifies the quote's report data commits to the exchanged keys.
*/
package trust

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/edgelesssys/go-dcap-mra/responder/crypto"
	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"k8s.io/utils/clock"
)

// ReportVerifier verifies a local report was produced by the hardware for the calling enclave.
type ReportVerifier interface {
	VerifyReport(report types.Report) error
}

// ReportVerifierFunc adapts a function to the ReportVerifier interface.
type ReportVerifierFunc func(report types.Report) error

// VerifyReport calls f(report).
func (f ReportVerifierFunc) VerifyReport(report types.Report) error {
	return f(report)
}

// Input is the result of the external quote verification for the peer's quote.
type Input struct {
	// QvEReport is the report of the QvE targeted at this enclave.
	QvEReport types.Report
	// ExpirationTime is the time until which the verification result is valid, in seconds since the Unix epoch.
	ExpirationTime int64
	// CollateralExpirationStatus is non-zero if the verifier found expired collateral.
	CollateralExpirationStatus uint32
	// Verdict is the quote verification result.
	Verdict Verdict
	// QvENonce is the nonce the QvE echoed into its report data.
	QvENonce types.QuoteNonce
	// Supplemental is the optional supplemental data. Empty means absent.
	Supplemental []byte
}

// Evaluator applies a Policy to quote verification results.
type Evaluator struct {
	policy   Policy
	verifier ReportVerifier
	clock    clock.PassiveClock
}

// NewEvaluator creates a new Evaluator. A nil clock uses the system clock.
func NewEvaluator(policy Policy, verifier ReportVerifier, clk clock.PassiveClock) (*Evaluator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, status.New(status.InvalidParameter, "no report verifier configured")
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Evaluator{policy: policy, verifier: verifier, clock: clk}, nil
}

// Policy returns the policy applied by the evaluator.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate decides whether the verification result in input for quote can be trusted.
// expectedNonce is the nonce issued to the peer for this session.
func (e *Evaluator) Evaluate(quote []byte, expectedNonce types.QuoteNonce, input Input) error {
	if err := e.verifier.VerifyReport(input.QvEReport); err != nil {
		return status.Errorf(status.QuoteNotTrusted, "verifying QvE report: %w", err)
	}

	if e.policy.QvE != nil {
		if err := e.policy.QvE.Matches(input.QvEReport.Body); err != nil {
			return status.Errorf(status.QuoteNotTrusted, "checking QvE identity: %w", err)
		}
	}

	if input.QvENonce != expectedNonce {
		return status.New(status.QuoteNotTrusted, "QvE nonce does not match the nonce issued for this session")
	}

	expectedReportData := QvEReportData(expectedNonce, quote, input)
	if !bytes.Equal(input.QvEReport.Body.ReportData[:], expectedReportData[:]) {
		return status.New(status.QuoteNotTrusted, "QvE report data does not commit to the quote verification result")
	}

	if !e.policy.Accepts(input.Verdict) {
		return status.Errorf(status.QuoteNotTrusted, "quote verification verdict %s is not accepted", input.Verdict)
	}

	now := e.clock.Now()
	expiration := time.Unix(input.ExpirationTime, 0)
	if now.After(expiration) {
		return status.Errorf(status.QuoteExpired, "quote verification result expired at %s", expiration.UTC().Format(time.RFC3339))
	}
	if input.CollateralExpirationStatus != 0 && !e.policy.AllowExpiredCollateral {
		return status.New(status.QuoteExpired, "quote verification collateral has expired")
	}

	if len(input.Supplemental) == 0 {
		return nil
	}
	supplemental, err := types.ParseSupplemental(input.Supplemental)
	if err != nil {
		return err
	}
	if supplemental.EarliestExpirationDate != 0 && now.After(supplemental.EarliestExpiration()) && !e.policy.AllowExpiredCollateral {
		return status.Errorf(status.QuoteExpired, "collateral expired at %s", supplemental.EarliestExpiration().UTC().Format(time.RFC3339))
	}
	if supplemental.TCBEvalRefNum < e.policy.MinTCBEvaluationDataNumber {
		return status.Errorf(status.QuoteNotTrusted, "TCB evaluation data number %d is below the minimum %d",
			supplemental.TCBEvalRefNum, e.policy.MinTCBEvaluationDataNumber)
	}
	return nil
}

// QvEReportData computes the report data a QvE embeds into its report:
// SHA-256(nonce || quote || expiration_time || collateral_status || verdict || supplemental) || 0^32.
func QvEReportData(nonce types.QuoteNonce, quote []byte, input Input) types.ReportData {
	h := sha256.New()
	h.Write(nonce[:])
	h.Write(quote)
	var fields [16]byte
	binary.LittleEndian.PutUint64(fields[0:8], uint64(input.ExpirationTime))
	binary.LittleEndian.PutUint32(fields[8:12], input.CollateralExpirationStatus)
	binary.LittleEndian.PutUint32(fields[12:16], uint32(input.Verdict))
	h.Write(fields[:])
	h.Write(input.Supplemental)

	var reportData types.ReportData
	copy(reportData[:], h.Sum(nil))
	return reportData
}

// CheckBinding verifies the report data of the peer's quote commits to the exchanged public keys.
func CheckBinding(body types.ReportBody, ga, gb types.PublicKey) error {
	expected := crypto.ReportDataHash(ga, gb)
	if !bytes.Equal(body.ReportData[:], expected[:]) {
		return status.New(status.BindingMismatch, "quote report data is not bound to the exchanged public keys")
	}
	return nil
}
