package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
)

// Validation errors.
var (
	ErrNoLockoutTiers  = errors.New("config: auth.lockout_tiers must not be empty")
	ErrTiersNotOrdered = errors.New("config: auth.lockout_tiers must be ordered by min_attempts with non-decreasing durations")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Auth.MaxAttempts < 1 {
		return fmt.Errorf("config: auth.max_attempts must be >= 1, got %d", c.Auth.MaxAttempts)
	}

	if len(c.Auth.LockoutTiers) == 0 {
		return ErrNoLockoutTiers
	}

	// The escalation table must be a non-decreasing step function.
	prev := c.Auth.LockoutTiers[0]
	if prev.DurationSec <= 0 {
		return fmt.Errorf("config: lockout tier duration must be positive, got %d", prev.DurationSec)
	}
	for _, tier := range c.Auth.LockoutTiers[1:] {
		if tier.MinAttempts <= prev.MinAttempts || tier.DurationSec < prev.DurationSec {
			return ErrTiersNotOrdered
		}
		prev = tier
	}

	switch c.Auth.Verifier {
	case "fprintd", "passphrase", "none":
	default:
		return fmt.Errorf("config: unknown auth.verifier %q", c.Auth.Verifier)
	}

	weights := map[string]int{
		"file_weight":         c.Risk.FileWeight,
		"package_weight":      c.Risk.PackageWeight,
		"property_weight":     c.Risk.PropertyWeight,
		"kernel_root_weight":  c.Risk.KernelRootWeight,
		"cert_weight":         c.Risk.CertWeight,
		"checksum_weight":     c.Risk.ChecksumWeight,
		"token_absent_weight": c.Risk.TokenAbsentWeight,
	}
	for name, w := range weights {
		if w < 0 || w > 100 {
			return fmt.Errorf("config: risk.%s must be in 0..100, got %d", name, w)
		}
	}

	for _, u := range []string{c.Attestation.OracleURL, c.Attestation.VerifierURL} {
		if u == "" {
			continue
		}
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("config: invalid URL %q: %w", u, err)
		}
	}

	if c.Probes.ExpectedCertSHA256 != "" {
		if err := validHexDigest(c.Probes.ExpectedCertSHA256); err != nil {
			return fmt.Errorf("config: probes.expected_cert_sha256: %w", err)
		}
	}
	if c.Probes.ExpectedBinarySHA256 != "" {
		if err := validHexDigest(c.Probes.ExpectedBinarySHA256); err != nil {
			return fmt.Errorf("config: probes.expected_binary_sha256: %w", err)
		}
	}
	if c.Auth.PassphraseSHA256 != "" {
		if err := validHexDigest(c.Auth.PassphraseSHA256); err != nil {
			return fmt.Errorf("config: auth.passphrase_sha256: %w", err)
		}
	}

	return nil
}

func validHexDigest(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32-byte digest, got %d bytes", len(raw))
	}
	return nil
}

// LockoutDuration returns the cooldown for the given cumulative failure
// count according to the escalation table. Counts below the first tier
// fall back to the first tier's duration.
func (a AuthConfig) LockoutDuration(failedAttempts int) LockoutTier {
	tiers := a.LockoutTiers
	selected := tiers[0]
	for _, tier := range tiers {
		if failedAttempts >= tier.MinAttempts {
			selected = tier
		}
	}
	return selected
}
