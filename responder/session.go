/*
# DCAP Mutual Remote Attestation Responder

This package implements the responder side of the mutual remote attestation key exchange.

A session moves through the following states, each operation being valid only
in the state listed before it:

	Created ──ProcessMsg1──► Msg1Processed ──GenerateMsg2──► Msg2Sent ──ProcessMsg3──► Msg3Verified
	                                                                                      │
	                                                              PeerIdentity, Key ◄─────┘

Close may be called in any state and erases all secret material.
A rejected operation never advances the state.

Sessions are single-owner. Table exposes them through opaque handles and checks every
external buffer against a Region before any protocol logic runs.
*/
package responder

import (
	"crypto/ecdh"
	"fmt"
	"io"
	"math"

	"github.com/edgelesssys/go-dcap-mra/responder/crypto"
	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"go.uber.org/zap"
)

// State is the protocol state of a session.
type State int

const (
	// StateCreated is the state of a new session.
	StateCreated State = iota
	// StateMsg1Processed is reached after message 1 was processed.
	StateMsg1Processed
	// StateMsg2Sent is reached after message 2 was generated.
	StateMsg2Sent
	// StateMsg3Verified is reached after message 3 and the peer's quote were verified.
	StateMsg3Verified
	// StateClosed is reached after Close.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateMsg1Processed:
		return "Msg1Processed"
	case StateMsg2Sent:
		return "Msg2Sent"
	case StateMsg3Verified:
		return "Msg3Verified"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// KeyType selects a session key exposed by Key.
type KeyType uint32

const (
	// KeyTypeSK is the session traffic key.
	KeyTypeSK KeyType = 1
	// KeyTypeMK is the key for further key derivation.
	KeyTypeMK KeyType = 2
	// KeyTypeVK is the auxiliary verification key.
	KeyTypeVK KeyType = 3
)

func (k KeyType) String() string {
	switch k {
	case KeyTypeSK:
		return "SK"
	case KeyTypeMK:
		return "MK"
	case KeyTypeVK:
		return "VK"
	default:
		return fmt.Sprintf("KeyType(%d)", uint32(k))
	}
}

// Msg1Output is the result of processing message 1.
type Msg1Output struct {
	// GB is the responder's ephemeral public key.
	GB types.PublicKey
	// Request asks the caller to produce a local report for the quoting enclave,
	// which is then passed to GenerateMsg2 together with the quote for it.
	Request types.ReportRequest
	// Nonce must be passed to the quote verification enclave verifying the peer's quote.
	Nonce types.QuoteNonce
}

// Session is the responder context of one key exchange.
// It must not be used concurrently.
type Session struct {
	settings *settings
	logger   *zap.Logger

	state State

	privateKey *ecdh.PrivateKey
	gb         types.PublicKey
	ga         types.PublicKey
	shared     [32]byte

	smk         types.Key128
	sk          types.Key128
	mk          types.Key128
	vk          types.Key128
	keysDerived bool

	nonce   types.QuoteNonce
	request types.ReportRequest

	expirationTime int64
	verdict        trust.Verdict
	identity       types.PeerIdentity
}

// NewSession creates a session with a fresh ephemeral key pair.
func NewSession(cfg Config) (*Session, error) {
	s, err := cfg.settings()
	if err != nil {
		return nil, err
	}
	return newSession(s, s.logger)
}

func newSession(s *settings, logger *zap.Logger) (*Session, error) {
	privateKey, err := crypto.GenerateKey(s.rand)
	if err != nil {
		return nil, status.Errorf(status.CryptoFailure, "generating ephemeral key: %w", err)
	}

	session := &Session{
		settings:   s,
		logger:     logger,
		state:      StateCreated,
		privateKey: privateKey,
		gb:         crypto.EncodePublicKey(privateKey.PublicKey()),
	}
	logger.Debug("Session created")
	return session, nil
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// ProcessMsg1 processes the initiator's message 1. target identifies the quoting enclave
// the local report must be addressed to.
func (s *Session) ProcessMsg1(msg1 types.Msg1, target types.TargetInfo) (Msg1Output, error) {
	if err := s.requireState("process message 1", StateCreated); err != nil {
		return Msg1Output{}, err
	}

	peerKey, err := crypto.ParsePublicKey(msg1.GA)
	if err != nil {
		return Msg1Output{}, s.reject("process message 1", status.Errorf(status.CryptoFailure, "parsing initiator public key: %w", err))
	}

	var nonce types.QuoteNonce
	if _, err := io.ReadFull(s.settings.rand, nonce[:]); err != nil {
		return Msg1Output{}, s.reject("process message 1", status.Errorf(status.CryptoFailure, "generating nonce: %w", err))
	}

	shared, err := crypto.SharedSecret(s.privateKey, peerKey)
	if err != nil {
		return Msg1Output{}, s.reject("process message 1", status.Errorf(status.CryptoFailure, "agreeing on shared secret: %w", err))
	}
	kdk, err := crypto.DeriveKDK(shared)
	if err != nil {
		crypto.Wipe(shared[:])
		return Msg1Output{}, s.reject("process message 1", status.Errorf(status.CryptoFailure, "%w", err))
	}
	defer crypto.Wipe(kdk[:])
	smk, err := crypto.DeriveKey(kdk, crypto.LabelSMK)
	if err != nil {
		crypto.Wipe(shared[:])
		return Msg1Output{}, s.reject("process message 1", status.Errorf(status.CryptoFailure, "%w", err))
	}

	s.ga = msg1.GA
	s.shared = shared
	s.smk = smk
	s.nonce = nonce
	s.request = types.ReportRequest{
		Target:     target,
		ReportData: crypto.ReportDataHash(s.ga, s.gb),
	}
	s.transition(StateMsg1Processed)

	return Msg1Output{GB: s.gb, Request: s.request, Nonce: nonce}, nil
}

// GenerateMsg2 generates message 2. report is the local report the quoting enclave
// produced for the request returned by ProcessMsg1, quote is the quote generated from it.
// The report must pass the configured ReportVerifier, carry the MRENCLAVE of the
// requested target and the requested report data; otherwise ReportMismatch is returned.
func (s *Session) GenerateMsg2(report types.Report, quote []byte) (types.Msg2, error) {
	if err := s.requireState("generate message 2", StateMsg1Processed); err != nil {
		return types.Msg2{}, err
	}
	if err := s.checkReport(report); err != nil {
		return types.Msg2{}, s.reject("generate message 2", err)
	}
	if uint64(len(quote)) > math.MaxUint32 {
		return types.Msg2{}, s.reject("generate message 2", status.Errorf(status.InvalidQuote, "quote size %d exceeds the quote size field", len(quote)))
	}
	if err := s.settings.bounds.Check(uint32(len(quote))); err != nil {
		return types.Msg2{}, s.reject("generate message 2", err)
	}

	msg2 := types.Msg2{Quote: append([]byte(nil), quote...)}
	if err := s.finishMsg2(&msg2); err != nil {
		return types.Msg2{}, s.reject("generate message 2", err)
	}
	return msg2, nil
}

// WriteMsg2 fills in the header of a message 2 buffer the caller allocated with the
// quote size and quote already in place. report is checked like in GenerateMsg2.
func (s *Session) WriteMsg2(report types.Report, buf []byte) error {
	if err := s.requireState("generate message 2", StateMsg1Processed); err != nil {
		return err
	}
	if err := s.checkReport(report); err != nil {
		return s.reject("generate message 2", err)
	}
	quote, err := types.Msg2Quote(buf, s.settings.bounds)
	if err != nil {
		return s.reject("generate message 2", err)
	}

	msg2 := types.Msg2{Quote: quote}
	if err := s.finishMsg2(&msg2); err != nil {
		return s.reject("generate message 2", err)
	}
	// buf was validated by Msg2Quote, so the header fits.
	return msg2.PutHeader(buf)
}

// checkReport verifies the quoting enclave's report was produced on this platform,
// by the enclave the request targeted, for the requested report data.
func (s *Session) checkReport(report types.Report) error {
	if err := s.settings.verifier.VerifyReport(report); err != nil {
		return status.Errorf(status.ReportMismatch, "verifying quoting enclave report: %w", err)
	}
	if report.Body.MRENCLAVE != s.request.Target.MRENCLAVE {
		return status.New(status.ReportMismatch, "report was not produced by the target quoting enclave")
	}
	if report.Body.ReportData != s.request.ReportData {
		return status.New(status.ReportMismatch, "report data does not match the requested report")
	}
	return nil
}

func (s *Session) finishMsg2(msg2 *types.Msg2) error {
	msg2.GB = s.gb
	msg2.KDFID = types.KDFIDAESCMAC
	mac, err := crypto.CMAC(s.smk, msg2.MACInput())
	if err != nil {
		return status.Errorf(status.CryptoFailure, "computing message 2 MAC: %w", err)
	}
	msg2.MAC = mac
	s.transition(StateMsg2Sent)
	return nil
}

// ProcessMsg3 processes the initiator's message 3 together with the result of the
// external verification of the quote it contains. On success the peer is verified
// and its identity and the session keys become available.
func (s *Session) ProcessMsg3(rawMsg3 []byte, input trust.Input) error {
	if err := s.requireState("process message 3", StateMsg2Sent); err != nil {
		return err
	}

	msg3, err := types.ParseMsg3(rawMsg3, s.settings.bounds)
	if err != nil {
		return s.reject("process message 3", err)
	}

	if msg3.GA != s.ga {
		return s.reject("process message 3", status.New(status.MacMismatch, "public key in message 3 differs from message 1"))
	}

	ok, err := crypto.VerifyMAC(s.smk, msg3.MACInput(), msg3.MAC)
	if err != nil {
		return s.reject("process message 3", status.Errorf(status.CryptoFailure, "computing message 3 MAC: %w", err))
	}
	if !ok {
		return s.reject("process message 3", status.New(status.MacVerifyFailed, "message 3 MAC verification failed"))
	}

	if err := s.deriveSessionKeys(); err != nil {
		return s.reject("process message 3", err)
	}

	if err := s.settings.evaluator.Evaluate(msg3.Quote, s.nonce, input); err != nil {
		return s.reject("process message 3", err)
	}

	quote, err := types.ParseQuote(msg3.Quote)
	if err != nil {
		return s.reject("process message 3", err)
	}
	if err := trust.CheckBinding(quote.Body, s.ga, s.gb); err != nil {
		return s.reject("process message 3", err)
	}

	s.identity = quote.Body.Identity()
	s.verdict = input.Verdict
	s.expirationTime = input.ExpirationTime
	s.transition(StateMsg3Verified)
	s.logger.Info("Peer verified",
		zap.Stringer("verdict", input.Verdict),
		zap.String("mrenclave", fmt.Sprintf("%x", s.identity.MRENCLAVE)),
		zap.String("mrsigner", fmt.Sprintf("%x", s.identity.MRSIGNER)),
		zap.Uint16("isvProdID", s.identity.ISVProdID),
		zap.Uint16("isvSVN", s.identity.ISVSVN),
	)
	return nil
}

// deriveSessionKeys derives SK, MK and VK once.
func (s *Session) deriveSessionKeys() error {
	if s.keysDerived {
		return nil
	}
	kdk, err := crypto.DeriveKDK(s.shared)
	if err != nil {
		return status.Errorf(status.CryptoFailure, "%w", err)
	}
	defer crypto.Wipe(kdk[:])

	keys := []struct {
		label string
		dst   *types.Key128
	}{
		{crypto.LabelSK, &s.sk},
		{crypto.LabelMK, &s.mk},
		{crypto.LabelVK, &s.vk},
	}
	for _, k := range keys {
		key, err := crypto.DeriveKey(kdk, k.label)
		if err != nil {
			s.wipeSessionKeys()
			return status.Errorf(status.CryptoFailure, "%w", err)
		}
		*k.dst = key
	}
	s.keysDerived = true
	return nil
}

// PeerIdentity returns the accepted verdict and the identity of the verified peer.
func (s *Session) PeerIdentity() (trust.Verdict, types.PeerIdentity, error) {
	if err := s.requireState("get peer identity", StateMsg3Verified); err != nil {
		return 0, types.PeerIdentity{}, err
	}
	return s.verdict, s.identity, nil
}

// ExpirationTime returns the expiration time of the accepted verification result,
// in seconds since the Unix epoch.
func (s *Session) ExpirationTime() (int64, error) {
	if err := s.requireState("get expiration time", StateMsg3Verified); err != nil {
		return 0, err
	}
	return s.expirationTime, nil
}

// Key returns a session key. Keys are withheld until the peer is verified.
func (s *Session) Key(keyType KeyType) (types.Key128, error) {
	if err := s.requireState("get keys", StateMsg3Verified); err != nil {
		return types.Key128{}, err
	}
	switch keyType {
	case KeyTypeSK:
		return s.sk, nil
	case KeyTypeMK:
		return s.mk, nil
	case KeyTypeVK:
		return s.vk, nil
	default:
		return types.Key128{}, status.Errorf(status.InvalidParameter, "unknown key type %s", keyType)
	}
}

// Close erases all secret material. It may be called in any state.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	// ecdh keys can not be zeroed in place, drop the reference.
	s.privateKey = nil
	crypto.Wipe(s.shared[:])
	crypto.Wipe(s.smk[:])
	s.wipeSessionKeys()
	crypto.Wipe(s.nonce[:])
	s.transition(StateClosed)
}

func (s *Session) wipeSessionKeys() {
	crypto.Wipe(s.sk[:])
	crypto.Wipe(s.mk[:])
	crypto.Wipe(s.vk[:])
	s.keysDerived = false
}

func (s *Session) requireState(operation string, want State) error {
	if s.state != want {
		return s.reject(operation, status.Errorf(status.InvalidState, "%s requires state %s (current: %s)", operation, want, s.state))
	}
	return nil
}

func (s *Session) transition(to State) {
	s.logger.Debug("Session state changed", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
}

// reject logs a rejected operation. Error messages never carry secret material.
func (s *Session) reject(operation string, err error) error {
	s.logger.Info("Operation rejected",
		zap.String("operation", operation),
		zap.Stringer("code", status.FromError(err)),
		zap.Error(err),
	)
	return err
}
