package trust

import (
	"fmt"
	"strings"
)

// Verdict is the quote verification result produced by the quote verification enclave (sgx_ql_qv_result_t).
type Verdict uint32

// Verdicts defined by the DCAP quote verification library.
const (
	VerdictOK                         Verdict = 0x0000
	VerdictConfigNeeded               Verdict = 0xA001
	VerdictOutOfDate                  Verdict = 0xA002
	VerdictOutOfDateConfigNeeded      Verdict = 0xA003
	VerdictInvalidSignature           Verdict = 0xA004
	VerdictRevoked                    Verdict = 0xA005
	VerdictUnspecified                Verdict = 0xA006
	VerdictSWHardeningNeeded          Verdict = 0xA007
	VerdictConfigAndSWHardeningNeeded Verdict = 0xA008
)

var verdictNames = map[Verdict]string{
	VerdictOK:                         "OK",
	VerdictConfigNeeded:               "CONFIG_NEEDED",
	VerdictOutOfDate:                  "OUT_OF_DATE",
	VerdictOutOfDateConfigNeeded:      "OUT_OF_DATE_CONFIG_NEEDED",
	VerdictInvalidSignature:           "INVALID_SIGNATURE",
	VerdictRevoked:                    "REVOKED",
	VerdictUnspecified:                "UNSPECIFIED",
	VerdictSWHardeningNeeded:          "SW_HARDENING_NEEDED",
	VerdictConfigAndSWHardeningNeeded: "CONFIG_AND_SW_HARDENING_NEEDED",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Verdict(%#x)", uint32(v))
}

// Terminal reports whether the verdict denotes a failed verification.
// Terminal verdicts and unknown values can never be accepted by a policy.
func (v Verdict) Terminal() bool {
	switch v {
	case VerdictOK, VerdictConfigNeeded, VerdictOutOfDate, VerdictOutOfDateConfigNeeded,
		VerdictSWHardeningNeeded, VerdictConfigAndSWHardeningNeeded:
		return false
	default:
		return true
	}
}

// ParseVerdict parses a verdict name like "SW_HARDENING_NEEDED". Matching is case insensitive.
func ParseVerdict(name string) (Verdict, error) {
	for verdict, verdictName := range verdictNames {
		if strings.EqualFold(verdictName, name) {
			return verdict, nil
		}
	}
	return 0, fmt.Errorf("unknown quote verification verdict %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
