/*
Package config reads the deployment configuration of a responder.

A configuration is a YAML document:

	maxSessions: 128
	quote:
	  minSize: 1020
	  maxSize: 1048576
	policy:
	  acceptedVerdicts: [OK, SW_HARDENING_NEEDED]
	  allowExpiredCollateral: false
	  minTCBEvaluationDataNumber: 0
	  qve:
	    mrSigner: 8c4f5775d796503e96137f77c68a829a0056ac8ded70140b081b094490c57bff
	    isvProdID: 2
	    minISVSVN: 0
	    allowDebug: false

Unknown fields are rejected. Omitted quote sizes select the defaults,
an omitted qve section selects Intel's production quote verification enclave.
*/
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edgelesssys/go-dcap-mra/responder"
	"github.com/edgelesssys/go-dcap-mra/responder/status"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of a responder configuration.
type Config struct {
	// MaxSessions limits the number of concurrently open sessions.
	// -1 allows an unlimited number of sessions, 0 selects responder.DefaultMaxSessions.
	MaxSessions int `yaml:"maxSessions"`

	Quote  Quote  `yaml:"quote"`
	Policy Policy `yaml:"policy"`
}

// Quote limits the size of quotes exchanged in message 2 and message 3.
type Quote struct {
	MinSize uint32 `yaml:"minSize"`
	MaxSize uint32 `yaml:"maxSize"`
}

// Policy decides which quote verification results are trusted.
type Policy struct {
	// AcceptedVerdicts names the accepted verdicts, e.g. OK or SW_HARDENING_NEEDED.
	// Be careful to not set this too liberally.
	AcceptedVerdicts           []string `yaml:"acceptedVerdicts"`
	AllowExpiredCollateral     bool     `yaml:"allowExpiredCollateral"`
	MinTCBEvaluationDataNumber uint32   `yaml:"minTCBEvaluationDataNumber"`
	QvE                        *QvE     `yaml:"qve"`
}

// QvE is the expected identity of the quote verification enclave.
// A qve section replaces the default identity as a whole.
type QvE struct {
	// MRSigner is hex encoded. Empty selects Intel's signer.
	MRSigner   string `yaml:"mrSigner"`
	// ISVProdID is required, 0 is rejected.
	ISVProdID  uint16 `yaml:"isvProdID"`
	MinISVSVN  uint16 `yaml:"minISVSVN"`
	AllowDebug bool   `yaml:"allowDebug"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, status.New(status.InvalidParameter, "empty configuration")
		}
		return nil, status.Errorf(status.InvalidParameter, "decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration without building a responder from it.
func (c *Config) Validate() error {
	if c.MaxSessions < -1 {
		return status.Errorf(status.InvalidParameter, "maxSessions must be -1 or greater (received: %d)", c.MaxSessions)
	}
	if err := c.QuoteBounds().Validate(); err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	policy, err := c.TrustPolicy()
	if err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// QuoteBounds returns the configured quote size bounds with defaults applied.
func (c *Config) QuoteBounds() types.QuoteBounds {
	bounds := types.DefaultQuoteBounds()
	if c.Quote.MinSize != 0 {
		bounds.Min = c.Quote.MinSize
	}
	if c.Quote.MaxSize != 0 {
		bounds.Max = c.Quote.MaxSize
	}
	return bounds
}

// TrustPolicy converts the policy section.
func (c *Config) TrustPolicy() (trust.Policy, error) {
	policy := trust.Policy{
		AllowExpiredCollateral:     c.Policy.AllowExpiredCollateral,
		MinTCBEvaluationDataNumber: c.Policy.MinTCBEvaluationDataNumber,
	}
	for _, name := range c.Policy.AcceptedVerdicts {
		verdict, err := trust.ParseVerdict(name)
		if err != nil {
			return trust.Policy{}, status.Errorf(status.InvalidParameter, "policy: %w", err)
		}
		policy.AcceptedVerdicts = append(policy.AcceptedVerdicts, verdict)
	}

	qve := trust.DefaultQvEIdentity()
	if c.Policy.QvE != nil {
		if c.Policy.QvE.MRSigner != "" {
			mrSigner, err := hex.DecodeString(c.Policy.QvE.MRSigner)
			if err != nil || len(mrSigner) != len(qve.MRSIGNER) {
				return trust.Policy{}, status.Errorf(status.InvalidParameter, "policy: qve mrSigner must be %d hex encoded bytes", len(qve.MRSIGNER))
			}
			qve.MRSIGNER = [32]byte(mrSigner)
		}
		if c.Policy.QvE.ISVProdID == 0 {
			return trust.Policy{}, status.Errorf(status.InvalidParameter, "policy: qve isvProdID must be set (Intel's QvE uses %d)", trust.IntelQvEISVProdID)
		}
		qve.ISVProdID = c.Policy.QvE.ISVProdID
		qve.MinISVSVN = c.Policy.QvE.MinISVSVN
		qve.AllowDebug = c.Policy.QvE.AllowDebug
	}
	policy.QvE = &qve
	return policy, nil
}

// Responder builds the responder configuration. The caller provides the
// platform's local report verification and, optionally, a logger.
func (c *Config) Responder(verifier trust.ReportVerifier, logger *zap.Logger) (responder.Config, error) {
	if err := c.Validate(); err != nil {
		return responder.Config{}, err
	}
	policy, err := c.TrustPolicy()
	if err != nil {
		return responder.Config{}, err
	}
	return responder.Config{
		QuoteBounds:    c.QuoteBounds(),
		Policy:         policy,
		ReportVerifier: verifier,
		Logger:         logger,
		MaxSessions:    c.MaxSessions,
	}, nil
}
