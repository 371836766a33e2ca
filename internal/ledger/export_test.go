package ledger

import (
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleEntries() []HistoryEntry {
	at := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	return []HistoryEntry{
		{
			Seq:       2,
			Timestamp: at.Add(time.Minute),
			Kind:      KindLog,
			Category:  "SyncFailure",
			Message:   "verifier unreachable",
		},
		{
			Seq:       1,
			Timestamp: at,
			Kind:      KindReport,
			Verdict:   "Compromised",
			RiskScore: 70,
			Details:   []string{"/sbin/.magisk", "Kernel root indicators detected"},
			Token:     "tok",
		},
	}
}

func TestExportPlainFormat(t *testing.T) {
	out, err := ExportPlain(sampleEntries())
	if err != nil {
		t.Fatalf("ExportPlain failed: %v", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(out, &records); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	log := records[0]
	if log["type"] != "SyncFailure" || log["message"] != "verifier unreachable" {
		t.Errorf("log record = %v", log)
	}
	if log["date"] != "2026-05-01 10:31:00" {
		t.Errorf("date = %v", log["date"])
	}

	rep := records[1]
	if rep["type"] != "Compromised" {
		t.Errorf("report type = %v", rep["type"])
	}
	msg, _ := rep["message"].(string)
	if !strings.Contains(msg, "/sbin/.magisk") || !strings.Contains(msg, "Kernel root indicators detected") {
		t.Errorf("report message = %q", msg)
	}

	for _, r := range records {
		for _, field := range []string{"timestamp", "date", "type", "message"} {
			if _, ok := r[field]; !ok {
				t.Errorf("record missing field %q: %v", field, r)
			}
		}
	}
}

func TestExportEmpty(t *testing.T) {
	out, err := ExportPlain(nil)
	if err != nil {
		t.Fatalf("ExportPlain failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "[]" {
		t.Errorf("empty export = %q, want []", out)
	}
}

func TestExportEncryptedRoundTrip(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer l.Close()

	encoded, err := l.ExportEncrypted(sampleEntries())
	if err != nil {
		t.Fatalf("ExportEncrypted failed: %v", err)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("export is not valid base64: %v", err)
	}
	// nonce(12) + at least the tag(16).
	if len(blob) < 28 {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}

	plain, err := l.DecryptExport(encoded)
	if err != nil {
		t.Fatalf("DecryptExport failed: %v", err)
	}

	want, _ := ExportPlain(sampleEntries())
	if string(plain) != string(want) {
		t.Error("decrypted export differs from plain export")
	}
}

func TestExportEncryptedFreshNonce(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer l.Close()

	a, err := l.ExportEncrypted(sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.ExportEncrypted(sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two exports produced identical ciphertext")
	}
}

func TestDecryptExportRejectsTampering(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer l.Close()

	encoded, err := l.ExportEncrypted(sampleEntries())
	if err != nil {
		t.Fatal(err)
	}

	blob, _ := base64.StdEncoding.DecodeString(encoded)
	blob[len(blob)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(blob)

	if _, err := l.DecryptExport(tampered); err == nil {
		t.Error("tampered export decrypted successfully")
	}
}

func TestExportFileName(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)

	if got := ExportFileName(false, at); got != "shieldd_logs_20260501_103000.json" {
		t.Errorf("plain name = %q", got)
	}
	if got := ExportFileName(true, at); got != "shieldd_logs_20260501_103000.enc.txt" {
		t.Errorf("encrypted name = %q", got)
	}
}
