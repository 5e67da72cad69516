package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/edgelesssys/go-dcap-mra/config"
	"github.com/edgelesssys/go-dcap-mra/responder/trust"
	"github.com/edgelesssys/go-dcap-mra/responder/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	var logger *zap.Logger

	root := &cobra.Command{
		Use:          "mra",
		Short:        "Inspect DCAP mutual remote attestation messages",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				logger = zap.NewNop()
				return nil
			}
			var err error
			logger, err = zap.NewDevelopment()
			return err
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	log := func() *zap.Logger { return logger }
	root.AddCommand(checkConfigCmd(log), inspectMsg3Cmd(log), inspectQuoteCmd(log))
	return root
}

func checkConfigCmd(log func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <file>",
		Short: "Validate a responder configuration and print the effective policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			policy, err := cfg.TrustPolicy()
			if err != nil {
				return err
			}
			log().Debug("Configuration valid", zap.String("path", args[0]))

			bounds := cfg.QuoteBounds()
			view := configView{
				MaxSessions:                cfg.MaxSessions,
				MinQuoteSize:               bounds.Min,
				MaxQuoteSize:               bounds.Max,
				AcceptedVerdicts:           policy.AcceptedVerdicts,
				AllowExpiredCollateral:     policy.AllowExpiredCollateral,
				MinTCBEvaluationDataNumber: policy.MinTCBEvaluationDataNumber,
			}
			if policy.QvE != nil {
				view.QvE = &qveView{
					MRSIGNER:   hex.EncodeToString(policy.QvE.MRSIGNER[:]),
					ISVProdID:  policy.QvE.ISVProdID,
					MinISVSVN:  policy.QvE.MinISVSVN,
					AllowDebug: policy.QvE.AllowDebug,
				}
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func inspectMsg3Cmd(log func() *zap.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "inspect-msg3 <file>",
		Short: "Parse message 3 and print its header and the peer identity claimed by its quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bounds := types.DefaultQuoteBounds()
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				bounds = cfg.QuoteBounds()
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			log().Debug("Parsing message 3", zap.Int("size", len(raw)), zap.Uint32("minQuoteSize", bounds.Min), zap.Uint32("maxQuoteSize", bounds.Max))

			msg3, err := types.ParseMsg3(raw, bounds)
			if err != nil {
				return fmt.Errorf("parsing message 3: %w", err)
			}
			quote, err := types.ParseQuote(msg3.Quote)
			if err != nil {
				return fmt.Errorf("parsing quote of message 3: %w", err)
			}

			return printJSON(cmd.OutOrStdout(), msg3View{
				MAC:                hex.EncodeToString(msg3.MAC[:]),
				GA:                 hex.EncodeToString(msg3.GA[:]),
				PSSecurityProperty: hex.EncodeToString(msg3.PSSecurityProperty[:]),
				QuoteSize:          len(msg3.Quote),
				Quote:              newQuoteView(quote),
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "responder configuration providing the quote size bounds")
	return cmd
}

func inspectQuoteCmd(log func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-quote <file>",
		Short: "Parse an SGX v3 quote and print its header and report body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			log().Debug("Parsing quote", zap.Int("size", len(raw)))

			quote, err := types.ParseQuote(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), newQuoteView(quote))
		},
	}
}

type configView struct {
	MaxSessions                int             `json:"maxSessions"`
	MinQuoteSize               uint32          `json:"minQuoteSize"`
	MaxQuoteSize               uint32          `json:"maxQuoteSize"`
	AcceptedVerdicts           []trust.Verdict `json:"acceptedVerdicts"`
	AllowExpiredCollateral     bool            `json:"allowExpiredCollateral"`
	MinTCBEvaluationDataNumber uint32          `json:"minTCBEvaluationDataNumber"`
	QvE                        *qveView        `json:"qve,omitempty"`
}

type qveView struct {
	MRSIGNER   string `json:"mrSigner"`
	ISVProdID  uint16 `json:"isvProdID"`
	MinISVSVN  uint16 `json:"minISVSVN"`
	AllowDebug bool   `json:"allowDebug"`
}

type msg3View struct {
	MAC                string    `json:"mac"`
	GA                 string    `json:"ga"`
	PSSecurityProperty string    `json:"psSecurityProperty"`
	QuoteSize          int       `json:"quoteSize"`
	Quote              quoteView `json:"quote"`
}

type quoteView struct {
	Version            uint16       `json:"version"`
	AttestationKeyType uint16       `json:"attestationKeyType"`
	QESVN              uint16       `json:"qeSVN"`
	PCESVN             uint16       `json:"pceSVN"`
	VendorID           string       `json:"vendorID"`
	Identity           identityView `json:"identity"`
	Debug              bool         `json:"debug"`
	ReportData         string       `json:"reportData"`
	SignatureLength    uint32       `json:"signatureLength"`
}

type identityView struct {
	MRENCLAVE  string `json:"mrEnclave"`
	MRSIGNER   string `json:"mrSigner"`
	CPUSVN     string `json:"cpuSVN"`
	Attributes string `json:"attributes"`
	MiscSelect uint32 `json:"miscSelect"`
	ISVProdID  uint16 `json:"isvProdID"`
	ISVSVN     uint16 `json:"isvSVN"`
}

func newQuoteView(quote types.Quote3) quoteView {
	identity := quote.Body.Identity()
	return quoteView{
		Version:            quote.Header.Version,
		AttestationKeyType: quote.Header.AttestationKeyType,
		QESVN:              quote.Header.QESVN,
		PCESVN:             quote.Header.PCESVN,
		VendorID:           hex.EncodeToString(quote.Header.VendorID[:]),
		Identity: identityView{
			MRENCLAVE:  hex.EncodeToString(identity.MRENCLAVE[:]),
			MRSIGNER:   hex.EncodeToString(identity.MRSIGNER[:]),
			CPUSVN:     hex.EncodeToString(identity.CPUSVN[:]),
			Attributes: hex.EncodeToString(identity.Attributes[:]),
			MiscSelect: identity.MiscSelect,
			ISVProdID:  identity.ISVProdID,
			ISVSVN:     identity.ISVSVN,
		},
		Debug:           quote.Body.Debug(),
		ReportData:      hex.EncodeToString(quote.Body.ReportData[:]),
		SignatureLength: quote.SignatureLength,
	}
}

func printJSON(out io.Writer, v any) error {
	prettyPrint, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(prettyPrint))
	return err
}
