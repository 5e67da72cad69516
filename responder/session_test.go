package responder

import (
	"bytes"
	"crypto/ecdh"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/edgelesssys/go-dcap-mra/responder/crypto"
	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	// big endian private scalars
	initiatorScalar = "36c1be99fbccbec6f057dc3d39f9de69089e355e56898600b45cf22bdf560e41"
	responderScalar = "9e4b83e7bcbe3a19ac118d5056d9c51b5d672e0b4b4df9f8061b895059e0f926"
	testNonce       = "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf"

	responderPublic = "46c25c041be5fe65390f9cd71b0a656359e8def156316a4300a726ab8eb86ea40d6b405fca6192700ed19188ea6486b5fbaa1ea4a3d8bbd46152ee1f8bfc1f9d"
	msg2MAC         = "7b5dd63cbb4106fdcd81a0ebbc3fe3df"
	sessionKeySK    = "a8aa499426af3277e978d29485bc6c69"
	sessionKeyMK    = "fe96cecbcea93110612681c07fdeb38d"
	sessionKeyVK    = "1007dd6dc1870538b189ad8b59b396d2"
)

var (
	testNow       = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	peerMRENCLAVE = [32]byte{0x11, 0x22}
	peerMRSIGNER  = [32]byte{0x33, 0x44}
	qeTarget      = types.TargetInfo{MRENCLAVE: [32]byte{0x51}, MiscSelect: 1}
)

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// fixedRand yields the responder key followed by the nonce.
func fixedRand(t *testing.T) io.Reader {
	return bytes.NewReader(append(mustDecode(t, responderScalar), mustDecode(t, testNonce)...))
}

func testConfig(t *testing.T) Config {
	qve := trust.DefaultQvEIdentity()
	return Config{
		Policy: trust.Policy{
			AcceptedVerdicts: []trust.Verdict{trust.VerdictOK},
			QvE:              &qve,
		},
		ReportVerifier: trust.ReportVerifierFunc(func(types.Report) error { return nil }),
		Clock:          testclock.NewFakeClock(testNow),
		Rand:           fixedRand(t),
		Logger:         zaptest.NewLogger(t),
	}
}

// peerQuote builds a v3 quote of the initiator enclave.
func peerQuote(size int, reportData types.ReportData) []byte {
	quote := types.Quote3{
		Header: types.Quote3Header{
			Version:            types.QuoteVersion3,
			AttestationKeyType: types.AttestationKeyTypeECDSAP256,
		},
		Body: types.ReportBody{
			MRENCLAVE:  peerMRENCLAVE,
			MRSIGNER:   peerMRSIGNER,
			ISVProdID:  1,
			ISVSVN:     2,
			ReportData: reportData,
		},
		SignatureData: make([]byte, size-types.Quote3MinSize),
	}
	return quote.Marshal()
}

// qeReport returns the quoting enclave's report for the request in out.
func qeReport(out Msg1Output) types.Report {
	return types.Report{Body: types.ReportBody{
		MRENCLAVE:  out.Request.Target.MRENCLAVE,
		ReportData: out.Request.ReportData,
	}}
}

// handshake drives a session from the initiator's point of view.
type handshake struct {
	t         *testing.T
	session   *Session
	initiator *ecdh.PrivateKey
	ga        types.PublicKey
	out       Msg1Output
	msg2      types.Msg2
	smk       types.Key128
}

func newHandshake(t *testing.T, cfg Config) *handshake {
	require := require.New(t)

	session, err := NewSession(cfg)
	require.NoError(err)
	initiator, err := crypto.GenerateKey(bytes.NewReader(mustDecode(t, initiatorScalar)))
	require.NoError(err)

	return &handshake{
		t:         t,
		session:   session,
		initiator: initiator,
		ga:        crypto.EncodePublicKey(initiator.PublicKey()),
	}
}

func (h *handshake) processMsg1() {
	require := require.New(h.t)

	out, err := h.session.ProcessMsg1(types.Msg1{GA: h.ga}, qeTarget)
	require.NoError(err)
	h.out = out

	gb, err := crypto.ParsePublicKey(out.GB)
	require.NoError(err)
	shared, err := crypto.SharedSecret(h.initiator, gb)
	require.NoError(err)
	kdk, err := crypto.DeriveKDK(shared)
	require.NoError(err)
	h.smk, err = crypto.DeriveKey(kdk, crypto.LabelSMK)
	require.NoError(err)
}

func (h *handshake) generateMsg2() {
	require := require.New(h.t)

	report := qeReport(h.out)
	msg2, err := h.session.GenerateMsg2(report, bytes.Repeat([]byte{0x5A}, 4096))
	require.NoError(err)
	h.msg2 = msg2
}

// boundQuote returns a peer quote bound to the exchanged keys.
func (h *handshake) boundQuote(size int) []byte {
	return peerQuote(size, crypto.ReportDataHash(h.ga, h.out.GB))
}

// msg3 builds a correctly authenticated message 3 carrying quote.
func (h *handshake) msg3(quote []byte) []byte {
	msg3 := types.Msg3{GA: h.ga, Quote: quote}
	msg3.PSSecurityProperty[0] = 0x01
	mac, err := crypto.CMAC(h.smk, msg3.MACInput())
	require.NoError(h.t, err)
	msg3.MAC = mac
	return msg3.Marshal()
}

// qveInput builds a consistent QvE result for quote.
func (h *handshake) qveInput(quote []byte, modify func(*trust.Input)) trust.Input {
	qve := trust.DefaultQvEIdentity()
	input := trust.Input{
		QvEReport: types.Report{Body: types.ReportBody{
			MRSIGNER:  qve.MRSIGNER,
			ISVProdID: qve.ISVProdID,
		}},
		ExpirationTime: testNow.Add(365 * 24 * time.Hour).Unix(),
		Verdict:        trust.VerdictOK,
		QvENonce:       h.out.Nonce,
	}
	if modify != nil {
		modify(&input)
	}
	input.QvEReport.Body.ReportData = trust.QvEReportData(h.out.Nonce, quote, input)
	return input
}

func TestScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHandshake(t, testConfig(t))
	assert.Equal(StateCreated, h.session.State())

	h.processMsg1()
	assert.Equal(StateMsg1Processed, h.session.State())
	assert.Equal(responderPublic, hex.EncodeToString(h.out.GB[:]))
	assert.Equal(testNonce, hex.EncodeToString(h.out.Nonce[:]))
	assert.Equal(qeTarget, h.out.Request.Target)
	assert.Equal(
		"d0e8e34ca3eb26961c456484ef8bf2b14c34c627ce999d48e2bcdb55d0420b80"+"0000000000000000000000000000000000000000000000000000000000000000",
		hex.EncodeToString(h.out.Request.ReportData[:]),
	)

	h.generateMsg2()
	assert.Equal(StateMsg2Sent, h.session.State())
	assert.Equal(h.out.GB, h.msg2.GB)
	assert.EqualValues(types.KDFIDAESCMAC, h.msg2.KDFID)
	assert.Equal(msg2MAC, hex.EncodeToString(h.msg2.MAC[:]))
	assert.Len(h.msg2.Quote, 4096)

	quote := h.boundQuote(4096)
	require.NoError(h.session.ProcessMsg3(h.msg3(quote), h.qveInput(quote, nil)))
	assert.Equal(StateMsg3Verified, h.session.State())

	for keyType, want := range map[KeyType]string{
		KeyTypeSK: sessionKeySK,
		KeyTypeMK: sessionKeyMK,
		KeyTypeVK: sessionKeyVK,
	} {
		key, err := h.session.Key(keyType)
		require.NoError(err)
		assert.Equal(want, hex.EncodeToString(key[:]), keyType.String())
	}

	verdict, identity, err := h.session.PeerIdentity()
	require.NoError(err)
	assert.Equal(trust.VerdictOK, verdict)
	assert.Equal(peerMRENCLAVE, identity.MRENCLAVE)
	assert.Equal(peerMRSIGNER, identity.MRSIGNER)
	assert.EqualValues(1, identity.ISVProdID)
	assert.EqualValues(2, identity.ISVSVN)

	expiration, err := h.session.ExpirationTime()
	require.NoError(err)
	assert.Equal(testNow.Add(365*24*time.Hour).Unix(), expiration)
}

func TestMsg2MACVerifiesWithInitiatorKey(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg := testConfig(t)
	cfg.Rand = nil // random keys
	h := newHandshake(t, cfg)
	h.processMsg1()
	h.generateMsg2()

	ok, err := crypto.VerifyMAC(h.smk, h.msg2.MACInput(), h.msg2.MAC)
	require.NoError(err)
	assert.True(ok)
}

func TestMsg3MACBitFlip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHandshake(t, testConfig(t))
	h.processMsg1()
	h.generateMsg2()

	quote := h.boundQuote(types.MinQuoteSize)
	input := h.qveInput(quote, nil)
	raw := h.msg3(quote)

	for bit := 0; bit < types.MACSize*8; bit++ {
		flipped := bytes.Clone(raw)
		flipped[bit/8] ^= 1 << (bit % 8)

		err := h.session.ProcessMsg3(flipped, input)
		assert.Equal(status.MacVerifyFailed, status.FromError(err), "bit %d", bit)
		assert.Equal(StateMsg2Sent, h.session.State())
	}

	// unchanged message is still accepted
	require.NoError(h.session.ProcessMsg3(raw, input))
	assert.Equal(StateMsg3Verified, h.session.State())
}

func TestProcessMsg3Rejections(t *testing.T) {
	testCases := map[string]struct {
		configure func(cfg *Config)
		msg3      func(h *handshake) ([]byte, trust.Input)
		wantCode  status.Code
	}{
		"echoed public key differs": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				msg3 := types.Msg3{GA: h.out.GB, Quote: quote}
				mac, _ := crypto.CMAC(h.smk, msg3.MACInput())
				msg3.MAC = mac
				return msg3.Marshal(), h.qveInput(quote, nil)
			},
			wantCode: status.MacMismatch,
		},
		"security property modified": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				raw := h.msg3(quote)
				raw[100] ^= 0x01
				return raw, h.qveInput(quote, nil)
			},
			wantCode: status.MacVerifyFailed,
		},
		"quote modified": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				raw := h.msg3(quote)
				raw[len(raw)-1] ^= 0x01
				return raw, h.qveInput(quote, nil)
			},
			wantCode: status.MacVerifyFailed,
		},
		"quote below minimum size": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize - 1)
				return h.msg3(quote), h.qveInput(quote, nil)
			},
			wantCode: status.InvalidQuote,
		},
		"quote above maximum size": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(8193)
				return h.msg3(quote), h.qveInput(quote, nil)
			},
			wantCode: status.InvalidQuote,
		},
		"truncated message": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				raw := h.msg3(quote)
				return raw[:len(raw)-1], h.qveInput(quote, nil)
			},
			wantCode: status.SizeMismatch,
		},
		"verdict not accepted": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				return h.msg3(quote), h.qveInput(quote, func(i *trust.Input) {
					i.Verdict = trust.VerdictSWHardeningNeeded
				})
			},
			wantCode: status.QuoteNotTrusted,
		},
		"verification result expired": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				return h.msg3(quote), h.qveInput(quote, func(i *trust.Input) {
					i.ExpirationTime = testNow.Add(-time.Minute).Unix()
				})
			},
			wantCode: status.QuoteExpired,
		},
		"QvE report for another quote": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := h.boundQuote(types.MinQuoteSize)
				return h.msg3(quote), h.qveInput(h.boundQuote(2048), nil)
			},
			wantCode: status.QuoteNotTrusted,
		},
		"quote not bound to the exchanged keys": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := peerQuote(types.MinQuoteSize, crypto.ReportDataHash(h.out.GB, h.ga))
				return h.msg3(quote), h.qveInput(quote, nil)
			},
			wantCode: status.BindingMismatch,
		},
		"quote not parsable": {
			msg3: func(h *handshake) ([]byte, trust.Input) {
				quote := make([]byte, types.MinQuoteSize)
				return h.msg3(quote), h.qveInput(quote, nil)
			},
			wantCode: status.InvalidQuote,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			cfg := testConfig(t)
			cfg.QuoteBounds = types.QuoteBounds{Min: types.MinQuoteSize, Max: 8192}
			if tc.configure != nil {
				tc.configure(&cfg)
			}
			h := newHandshake(t, cfg)
			h.processMsg1()
			h.generateMsg2()

			raw, input := tc.msg3(h)
			err := h.session.ProcessMsg3(raw, input)
			assert.Equal(tc.wantCode, status.FromError(err))
			assert.Equal(StateMsg2Sent, h.session.State())

			_, _, err = h.session.PeerIdentity()
			assert.Equal(status.InvalidState, status.FromError(err))
			_, err = h.session.Key(KeyTypeSK)
			assert.Equal(status.InvalidState, status.FromError(err))
		})
	}
}

func TestGenerateMsg2Rejections(t *testing.T) {
	testCases := map[string]struct {
		configure func(cfg *Config)
		report    func(h *handshake) types.Report
		quote     []byte
		wantCode  status.Code
	}{
		"report not verified by the platform": {
			configure: func(cfg *Config) {
				cfg.ReportVerifier = trust.ReportVerifierFunc(func(types.Report) error {
					return errors.New("report MAC invalid")
				})
			},
			quote:    make([]byte, 4096),
			wantCode: status.ReportMismatch,
		},
		"report of another enclave than the target": {
			report: func(h *handshake) types.Report {
				report := qeReport(h.out)
				report.Body.MRENCLAVE[0] ^= 0x01
				return report
			},
			quote:    make([]byte, 4096),
			wantCode: status.ReportMismatch,
		},
		"report data mismatch": {
			report: func(h *handshake) types.Report {
				report := qeReport(h.out)
				report.Body.ReportData[0] ^= 0x01
				return report
			},
			quote:    make([]byte, 4096),
			wantCode: status.ReportMismatch,
		},
		"quote below minimum size": {
			quote:    make([]byte, types.MinQuoteSize-1),
			wantCode: status.InvalidQuote,
		},
		"quote above maximum size": {
			quote:    make([]byte, 8193),
			wantCode: status.InvalidQuote,
		},
		"no quote": {
			wantCode: status.InvalidQuote,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			cfg := testConfig(t)
			cfg.QuoteBounds = types.QuoteBounds{Min: types.MinQuoteSize, Max: 8192}
			if tc.configure != nil {
				tc.configure(&cfg)
			}
			h := newHandshake(t, cfg)
			h.processMsg1()

			report := qeReport(h.out)
			if tc.report != nil {
				report = tc.report(h)
			}
			_, err := h.session.GenerateMsg2(report, tc.quote)
			assert.Equal(tc.wantCode, status.FromError(err))
			assert.Equal(StateMsg1Processed, h.session.State())
		})
	}
}

func TestWriteMsg2(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHandshake(t, testConfig(t))
	h.processMsg1()

	quote := bytes.Repeat([]byte{0x5A}, 4096)
	buf := (&types.Msg2{Quote: quote}).Marshal()
	report := qeReport(h.out)
	require.NoError(h.session.WriteMsg2(report, buf))

	msg2, err := types.ParseMsg2(buf, types.DefaultQuoteBounds())
	require.NoError(err)
	assert.Equal(msg2MAC, hex.EncodeToString(msg2.MAC[:]))
	assert.Equal(h.out.GB, msg2.GB)
	assert.Equal(quote, msg2.Quote)
	assert.Equal(StateMsg2Sent, h.session.State())
}

func TestWriteMsg2SizeMismatch(t *testing.T) {
	assert := assert.New(t)

	h := newHandshake(t, testConfig(t))
	h.processMsg1()

	buf := (&types.Msg2{Quote: make([]byte, 4096)}).Marshal()
	report := qeReport(h.out)

	err := h.session.WriteMsg2(report, buf[:len(buf)-1])
	assert.Equal(status.SizeMismatch, status.FromError(err))
	assert.Equal(StateMsg1Processed, h.session.State())
}

func TestStateOrder(t *testing.T) {
	assert := assert.New(t)

	h := newHandshake(t, testConfig(t))
	quote := peerQuote(types.MinQuoteSize, types.ReportData{})

	_, err := h.session.GenerateMsg2(types.Report{}, quote)
	assert.Equal(status.InvalidState, status.FromError(err))
	assert.Equal(status.InvalidState, status.FromError(h.session.ProcessMsg3(quote, trust.Input{})))

	h.processMsg1()
	_, err = h.session.ProcessMsg1(types.Msg1{GA: h.ga}, qeTarget)
	assert.Equal(status.InvalidState, status.FromError(err))
	assert.Equal(status.InvalidState, status.FromError(h.session.ProcessMsg3(quote, trust.Input{})))

	h.generateMsg2()
	_, err = h.session.GenerateMsg2(qeReport(h.out), quote)
	assert.Equal(status.InvalidState, status.FromError(err))
	assert.Equal(StateMsg2Sent, h.session.State())
}

func TestKeysWithheldBeforeVerification(t *testing.T) {
	keyTypes := []KeyType{KeyTypeSK, KeyTypeMK, KeyTypeVK, KeyType(0), KeyType(4)}

	steps := map[string]func(h *handshake){
		"created":         func(*handshake) {},
		"msg1 processed":  func(h *handshake) { h.processMsg1() },
		"msg2 sent":       func(h *handshake) { h.processMsg1(); h.generateMsg2() },
		"msg3 rejected":   func(h *handshake) { h.processMsg1(); h.generateMsg2(); _ = h.session.ProcessMsg3(nil, trust.Input{}) },
		"session closed":  func(h *handshake) { h.session.Close() },
		"closed verified": func(h *handshake) { completeHandshake(h); h.session.Close() },
	}

	for name, step := range steps {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			h := newHandshake(t, testConfig(t))
			step(h)
			for _, keyType := range keyTypes {
				key, err := h.session.Key(keyType)
				assert.Equal(status.InvalidState, status.FromError(err), keyType.String())
				assert.Equal(types.Key128{}, key)
			}
		})
	}
}

func completeHandshake(h *handshake) {
	h.processMsg1()
	h.generateMsg2()
	quote := h.boundQuote(types.MinQuoteSize)
	require.NoError(h.t, h.session.ProcessMsg3(h.msg3(quote), h.qveInput(quote, nil)))
}

func TestKeyUnknownType(t *testing.T) {
	assert := assert.New(t)

	h := newHandshake(t, testConfig(t))
	completeHandshake(h)

	for _, keyType := range []KeyType{0, 4, 0xFFFFFFFF} {
		_, err := h.session.Key(keyType)
		assert.Equal(status.InvalidParameter, status.FromError(err))
	}
}

func TestPeerIdentityIdempotent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	h := newHandshake(t, testConfig(t))
	completeHandshake(h)

	verdict, identity, err := h.session.PeerIdentity()
	require.NoError(err)
	sk, err := h.session.Key(KeyTypeSK)
	require.NoError(err)
	for i := 0; i < 3; i++ {
		v, id, err := h.session.PeerIdentity()
		require.NoError(err)
		assert.Equal(verdict, v)
		assert.Equal(identity, id)

		key, err := h.session.Key(KeyTypeSK)
		require.NoError(err)
		assert.Equal(sk, key)
	}
}

func TestCloseWipesSecrets(t *testing.T) {
	assert := assert.New(t)

	h := newHandshake(t, testConfig(t))
	completeHandshake(h)

	h.session.Close()
	assert.Equal(StateClosed, h.session.State())
	assert.Nil(h.session.privateKey)
	assert.Equal([32]byte{}, h.session.shared)
	assert.Equal(types.Key128{}, h.session.smk)
	assert.Equal(types.Key128{}, h.session.sk)
	assert.Equal(types.Key128{}, h.session.mk)
	assert.Equal(types.Key128{}, h.session.vk)
	assert.Equal(types.QuoteNonce{}, h.session.nonce)

	_, _, err := h.session.PeerIdentity()
	assert.Equal(status.InvalidState, status.FromError(err))

	// closing twice is harmless
	assert.NotPanics(h.session.Close)
}

func TestProcessMsg1InvalidPeerKey(t *testing.T) {
	assert := assert.New(t)

	h := newHandshake(t, testConfig(t))
	_, err := h.session.ProcessMsg1(types.Msg1{GA: types.PublicKey{1, 2, 3}}, qeTarget)
	assert.Equal(status.CryptoFailure, status.FromError(err))
	assert.Equal(StateCreated, h.session.State())
}

func TestNewSessionErrors(t *testing.T) {
	testCases := map[string]struct {
		modify   func(*Config)
		wantCode status.Code
	}{
		"no accepted verdicts": {
			modify:   func(c *Config) { c.Policy.AcceptedVerdicts = nil },
			wantCode: status.InvalidParameter,
		},
		"no report verifier": {
			modify:   func(c *Config) { c.ReportVerifier = nil },
			wantCode: status.InvalidParameter,
		},
		"inverted quote bounds": {
			modify:   func(c *Config) { c.QuoteBounds = types.QuoteBounds{Min: 2048, Max: 1024} },
			wantCode: status.InvalidParameter,
		},
		"random source exhausted": {
			modify:   func(c *Config) { c.Rand = bytes.NewReader(nil) },
			wantCode: status.CryptoFailure,
		},
		"random source fails": {
			modify:   func(c *Config) { c.Rand = iotestErrReader{} },
			wantCode: status.CryptoFailure,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			cfg := testConfig(t)
			tc.modify(&cfg)
			_, err := NewSession(cfg)
			assert.Equal(tc.wantCode, status.FromError(err))
		})
	}
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source unavailable")
}

func TestRejectionLogging(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testConfig(t)
	cfg.Logger = zap.New(core)

	h := newHandshake(t, cfg)
	h.processMsg1()
	h.generateMsg2()

	quote := h.boundQuote(types.MinQuoteSize)
	raw := h.msg3(quote)
	raw[0] ^= 0x01
	require.Error(h.session.ProcessMsg3(raw, h.qveInput(quote, nil)))

	rejected := logs.FilterMessage("Operation rejected").All()
	require.Len(rejected, 1)
	fields := rejected[0].ContextMap()
	assert.Equal("process message 3", fields["operation"])
	assert.Equal("MacVerifyFailed", fields["code"])

	// no key material in any log entry
	for _, entry := range logs.All() {
		for _, value := range entry.ContextMap() {
			text, ok := value.(string)
			if !ok {
				continue
			}
			assert.NotContains(text, hex.EncodeToString(h.smk[:]))
		}
	}

	assert.Equal(2, logs.FilterMessage("Session state changed").Len())
}

func FuzzProcessMsg3(f *testing.F) {
	f.Add(make([]byte, types.Msg3HeaderSize+types.MinQuoteSize))
	f.Fuzz(func(t *testing.T, a []byte) {
		cfg := testConfig(t)
		cfg.Logger = zap.NewNop()
		h := newHandshake(t, cfg)
		h.processMsg1()
		h.generateMsg2()

		assert.NotPanics(t, func() { _ = h.session.ProcessMsg3(a, trust.Input{}) })
		assert.Equal(t, StateMsg2Sent, h.session.State())
	})
}
