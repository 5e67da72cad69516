// mra inspects messages and quotes of the DCAP mutual remote attestation handshake
// and validates responder configuration files.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
