package responder

// Region decides where a buffer lives relative to the trusted execution region.
// A buffer partially overlapping the trusted region must be reported by neither method.
type Region interface {
	// WithinEnclave reports whether buf lies entirely inside the trusted region.
	WithinEnclave(buf []byte) bool
	// WithinHost reports whether buf lies entirely outside the trusted region.
	WithinHost(buf []byte) bool
}

// ProcessRegion treats the whole process memory as the trusted region.
// Use it when the responder runs inside a confidential VM or an enclave
// runtime that does not expose untrusted memory to Go code.
type ProcessRegion struct{}

// WithinEnclave reports true for every non-empty buffer.
func (ProcessRegion) WithinEnclave(buf []byte) bool {
	return len(buf) > 0
}

// WithinHost always reports false.
func (ProcessRegion) WithinHost([]byte) bool {
	return false
}

// inEnclave checks an input buffer that must lie inside the trusted region.
// size < 0 accepts any non-empty length.
func inEnclave(region Region, buf []byte, size int) bool {
	if len(buf) == 0 || (size >= 0 && len(buf) != size) {
		return false
	}
	return region.WithinEnclave(buf)
}

// inEitherRegion checks a message buffer that may lie inside or outside the trusted region,
// but not across its border.
func inEitherRegion(region Region, buf []byte, minSize int) bool {
	if len(buf) < minSize || len(buf) == 0 {
		return false
	}
	return region.WithinEnclave(buf) || region.WithinHost(buf)
}
