package evaluate

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/probe"
)

var testWeights = config.RiskConfig{
	FileWeight:        40,
	PackageWeight:     25,
	PropertyWeight:    30,
	KernelRootWeight:  20,
	CertWeight:        50,
	ChecksumWeight:    50,
	TokenAbsentWeight: 10,
}

func token() attest.TokenResult {
	return attest.TokenResult{Token: "tok"}
}

func noToken() attest.TokenResult {
	return attest.TokenResult{Err: errors.New("oracle unreachable")}
}

func TestCleanDeviceWithToken(t *testing.T) {
	r := Evaluate(&probe.Evidence{}, token(), time.Now(), testWeights)

	if r.Verdict != Genuine {
		t.Errorf("verdict = %v, want Genuine", r.Verdict)
	}
	if r.RiskScore != 0 {
		t.Errorf("score = %d, want 0", r.RiskScore)
	}
	if len(r.Details) != 0 {
		t.Errorf("details = %v, want none", r.Details)
	}
}

func TestCleanDeviceWithoutToken(t *testing.T) {
	r := Evaluate(&probe.Evidence{}, noToken(), time.Now(), testWeights)

	if r.Verdict != Suspicious {
		t.Errorf("verdict = %v, want Suspicious", r.Verdict)
	}
	if r.RiskScore != 10 {
		t.Errorf("score = %d, want 10", r.RiskScore)
	}
	if len(r.Details) != 0 {
		t.Errorf("token absence must not add a detail line, got %v", r.Details)
	}
}

func TestPropertiesAloneAreSuspicious(t *testing.T) {
	ev := &probe.Evidence{Properties: []string{"ro.debuggable=1"}}

	r := Evaluate(ev, token(), time.Now(), testWeights)

	if r.Verdict != Suspicious {
		t.Errorf("verdict = %v, want Suspicious", r.Verdict)
	}
	if r.RiskScore != 30 {
		t.Errorf("score = %d, want 30", r.RiskScore)
	}
}

func TestRootFileIsCompromised(t *testing.T) {
	ev := &probe.Evidence{Files: []string{"/system/xbin/su"}}

	r := Evaluate(ev, token(), time.Now(), testWeights)

	if r.Verdict != Compromised {
		t.Errorf("verdict = %v, want Compromised", r.Verdict)
	}
	// Single 40-point finding still lands inside the Compromised band.
	if r.RiskScore < 50 {
		t.Errorf("score = %d, want >= 50", r.RiskScore)
	}
}

func TestKernelRootWithoutToken(t *testing.T) {
	ev := &probe.Evidence{
		Files:      []string{"/sbin/.magisk"},
		KernelRoot: true,
	}

	r := Evaluate(ev, noToken(), time.Now(), testWeights)

	if r.Verdict != Compromised {
		t.Errorf("verdict = %v, want Compromised", r.Verdict)
	}
	if r.RiskScore < 50 {
		t.Errorf("score = %d, want >= 50", r.RiskScore)
	}

	want := []string{"/sbin/.magisk", "Kernel root indicators detected"}
	if diff := cmp.Diff(want, r.Details); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}
}

func TestCertMismatchIsCompromised(t *testing.T) {
	ev := &probe.Evidence{CertMismatch: true}

	r := Evaluate(ev, token(), time.Now(), testWeights)

	if r.Verdict != Compromised {
		t.Errorf("verdict = %v, want Compromised", r.Verdict)
	}
	if r.RiskScore != 50 {
		t.Errorf("score = %d, want 50", r.RiskScore)
	}
}

func TestScoreCappedAtHundred(t *testing.T) {
	ev := &probe.Evidence{
		Files:            []string{"/system/xbin/su"},
		Packages:         []string{"com.topjohnwu.magisk"},
		Properties:       []string{"ro.secure=0"},
		KernelRoot:       true,
		CertMismatch:     true,
		ChecksumMismatch: true,
	}

	r := Evaluate(ev, noToken(), time.Now(), testWeights)

	if r.RiskScore != 100 {
		t.Errorf("score = %d, want 100", r.RiskScore)
	}
}

func TestDetailsOrdering(t *testing.T) {
	ev := &probe.Evidence{
		Files:            []string{"/system/xbin/su", "/sbin/su"},
		Packages:         []string{"com.topjohnwu.magisk"},
		Properties:       []string{"ro.debuggable=1"},
		KernelRoot:       true,
		CertMismatch:     true,
		ChecksumMismatch: true,
	}

	r := Evaluate(ev, token(), time.Now(), testWeights)

	want := []string{
		"/system/xbin/su",
		"/sbin/su",
		"com.topjohnwu.magisk",
		"ro.debuggable=1",
		"Kernel root indicators detected",
		"Signing certificate mismatch detected",
		"Binary checksum mismatch detected",
	}
	if diff := cmp.Diff(want, r.Details); diff != "" {
		t.Errorf("details mismatch (-want +got):\n%s", diff)
	}
}

func TestDeterministic(t *testing.T) {
	ev := &probe.Evidence{
		Files:      []string{"/system/xbin/su"},
		Properties: []string{"ro.secure=0"},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r1 := Evaluate(ev, token(), now, testWeights)
	r2 := Evaluate(ev, token(), now, testWeights)

	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("evaluation not deterministic:\n%s", diff)
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	for _, v := range []Verdict{Genuine, Suspicious, Compromised} {
		got, ok := ParseVerdict(v.String())
		if !ok || got != v {
			t.Errorf("ParseVerdict(%q) = %v, %v", v.String(), got, ok)
		}
	}
	if _, ok := ParseVerdict("bogus"); ok {
		t.Error("ParseVerdict accepted unknown verdict")
	}
}
