/*
# Mutual Remote Attestation Data Types

This package contains the wire layouts exchanged by the responder and the parsing
functions validating them. All multi-byte integers are little endian.

## Message Layout

Every message consists of a fixed header optionally followed by a variable-length quote.
The quote size is an untrusted field: it is range-checked against the configured
QuoteBounds before it is used to compute any offset, and the delivered buffer must be
exactly header + quote_size bytes long.

	      Msg1                    Msg2                          Msg3
	┌──────────────────┐   ┌──────────────────────┐   ┌──────────────────────────┐
	│       g_a        │   │         g_b          │   │           mac            │
	│    (64 bytes)    │   │      (64 bytes)      │   │        (16 bytes)        │
	└──────────────────┘   ├──────────────────────┤   ├──────────────────────────┤
	                       │       kdf_id         │   │           g_a            │
	                       │      (2 bytes)       │   │        (64 bytes)        │
	                       ├──────────────────────┤   ├──────────────────────────┤
	                       │         mac          │   │   ps_security_property   │
	                       │      (16 bytes)      │   │       (256 bytes)        │
	                       ├──────────────────────┤   ├──────────────────────────┤
	                       │     quote_size       │   │        quote_size        │
	                       │      (4 bytes)       │   │        (4 bytes)         │
	                       ├──────────────────────┤   ├──────────────────────────┤
	                       │        quote         │   │          quote           │
	                       │     (quote_size)     │   │       (quote_size)       │
	                       └──────────────────────┘   └──────────────────────────┘

Public keys are P-256 points, x followed by y, each coordinate 32 bytes little endian.

## Quote Layout (v3)

Only the header and report body of a quote are interpreted by the responder.
The signature data is verified by an external quote verification enclave (QvE).

	┌─────────────────────────┐
	│      Quote3Header       │
	│       (48 bytes)        │
	├─────────────────────────┤
	│       ReportBody        │
	│      (384 bytes)        │
	├─────────────────────────┤
	│   SignatureDataLength   │
	│       (4 bytes)         │
	├─────────────────────────┤
	│     SignatureData       │
	│      (variable)         │
	└─────────────────────────┘
*/
package types
