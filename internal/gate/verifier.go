package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"shieldd/internal/config"
	"shieldd/internal/logging"
	"shieldd/internal/security"
)

// Verifier turns a credential presentation into an Outcome. The
// credential argument carries the passphrase where one applies;
// biometric backends ignore it.
type Verifier interface {
	Verify(ctx context.Context, credential string) Outcome
	Describe() string
}

// NewVerifier builds the verifier named by the configuration.
func NewVerifier(cfg config.AuthConfig, log *logging.Logger) (Verifier, error) {
	switch cfg.Verifier {
	case "fprintd":
		return newFprintdVerifier(log), nil
	case "passphrase":
		return &PassphraseVerifier{digestHex: cfg.PassphraseSHA256}, nil
	case "none":
		return openVerifier{}, nil
	default:
		return nil, fmt.Errorf("gate: unknown verifier %q", cfg.Verifier)
	}
}

// PassphraseVerifier compares the SHA-256 of the presented passphrase
// against a configured digest in constant time.
type PassphraseVerifier struct {
	digestHex string
}

// Verify hashes the credential and compares it to the enrolled digest.
// No enrolled digest is a non-recoverable condition.
func (v *PassphraseVerifier) Verify(_ context.Context, credential string) Outcome {
	if v.digestHex == "" {
		return OutcomeUnavailable
	}
	expected, err := hex.DecodeString(v.digestHex)
	if err != nil || len(expected) != sha256.Size {
		return OutcomeUnavailable
	}

	got := sha256.Sum256([]byte(credential))
	defer security.Wipe32(&got)

	if security.ConstantTimeCompare(got[:], expected) {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func (v *PassphraseVerifier) Describe() string {
	return "passphrase"
}

// openVerifier accepts everything. Used when the deployment disables
// authentication.
type openVerifier struct{}

func (openVerifier) Verify(context.Context, string) Outcome {
	return OutcomeSuccess
}

func (openVerifier) Describe() string {
	return "none"
}
