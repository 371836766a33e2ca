// Package evaluate turns collected evidence and a token outcome into a
// deterministic integrity verdict. The same inputs always produce the
// same report; all policy lives in the weight table.
package evaluate

import (
	"time"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/probe"
)

// Verdict is the trust tier assigned to the device.
type Verdict int

const (
	Genuine Verdict = iota
	Suspicious
	Compromised
)

// String returns the verdict name used in the ledger and exports.
func (v Verdict) String() string {
	switch v {
	case Genuine:
		return "Genuine"
	case Suspicious:
		return "Suspicious"
	case Compromised:
		return "Compromised"
	default:
		return "Unknown"
	}
}

// ParseVerdict maps a stored verdict name back to its value.
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "Genuine":
		return Genuine, true
	case "Suspicious":
		return Suspicious, true
	case "Compromised":
		return Compromised, true
	default:
		return Genuine, false
	}
}

// Sentinel detail lines for findings that have no per-item path.
const (
	kernelRootDetail   = "Kernel root indicators detected"
	certMismatchDetail = "Signing certificate mismatch detected"
	checksumDetail     = "Binary checksum mismatch detected"
)

// Report is the outcome of one evaluation cycle.
type Report struct {
	Verdict     Verdict
	RiskScore   int
	Details     []string
	Token       string
	EvaluatedAt time.Time
}

// Evaluate computes the verdict for the given evidence and token
// outcome. Root tooling files, root packages, kernel indicators, and
// artifact mismatches are individually disqualifying; dangerous
// properties alone degrade to Suspicious; a missing token degrades an
// otherwise clean device to Suspicious but never to Compromised.
func Evaluate(ev *probe.Evidence, tok attest.TokenResult, now time.Time, weights config.RiskConfig) Report {
	r := Report{
		Token:       tok.Token,
		EvaluatedAt: now,
	}

	score := 0

	if len(ev.Files) > 0 {
		score += weights.FileWeight
		r.Details = append(r.Details, ev.Files...)
	}
	if len(ev.Packages) > 0 {
		score += weights.PackageWeight
		r.Details = append(r.Details, ev.Packages...)
	}
	if len(ev.Properties) > 0 {
		score += weights.PropertyWeight
		r.Details = append(r.Details, ev.Properties...)
	}
	if ev.KernelRoot {
		score += weights.KernelRootWeight
		r.Details = append(r.Details, kernelRootDetail)
	}
	if ev.CertMismatch {
		score += weights.CertWeight
		r.Details = append(r.Details, certMismatchDetail)
	}
	if ev.ChecksumMismatch {
		score += weights.ChecksumWeight
		r.Details = append(r.Details, checksumDetail)
	}

	tokenAbsent := !tok.Present()
	if tokenAbsent {
		// Token absence raises the score but adds no detail line:
		// it is an environmental condition, not a finding.
		score += weights.TokenAbsentWeight
	}

	rooted := len(ev.Files) > 0 || len(ev.Packages) > 0 || ev.KernelRoot
	tampered := ev.CertMismatch || ev.ChecksumMismatch

	switch {
	case rooted || tampered:
		r.Verdict = Compromised
	case len(ev.Properties) > 0:
		r.Verdict = Suspicious
	case tokenAbsent:
		r.Verdict = Suspicious
	default:
		r.Verdict = Genuine
	}

	r.RiskScore = clampToBand(score, r.Verdict)

	return r
}

// clampToBand forces the score into the verdict's band: Genuine is
// always 0, Suspicious occupies 1..49, Compromised 50..100.
func clampToBand(score int, v Verdict) int {
	switch v {
	case Genuine:
		return 0
	case Suspicious:
		if score < 1 {
			return 1
		}
		if score > 49 {
			return 49
		}
		return score
	default:
		if score < 50 {
			return 50
		}
		if score > 100 {
			return 100
		}
		return score
	}
}
