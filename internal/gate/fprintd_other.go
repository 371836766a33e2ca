//go:build !linux

package gate

import (
	"context"

	"shieldd/internal/logging"
)

// Fingerprint authentication is only wired up on Linux.
func newFprintdVerifier(*logging.Logger) Verifier {
	return unavailableVerifier{}
}

type unavailableVerifier struct{}

func (unavailableVerifier) Verify(context.Context, string) Outcome {
	return OutcomeUnavailable
}

func (unavailableVerifier) Describe() string {
	return "fprintd (unsupported platform)"
}
