package sync

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
	"golang.org/x/crypto/curve25519"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/evaluate"
	"shieldd/internal/keystore"
	"shieldd/internal/ledger"
	"shieldd/internal/logging"
	"shieldd/internal/security"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{
		Level:  logging.LevelError,
		Format: logging.FormatText,
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fixture struct {
	svc          *attest.LocalService
	led          *ledger.Ledger
	verifierPriv []byte
	verifierPub  []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	ks, err := keystore.Open(config.KeystoreConfig{
		Provider: "software",
		SeedPath: filepath.Join(dir, "master.seed"),
	}, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ks.Close() })

	svc, err := attest.NewLocalService(ks)
	if err != nil {
		t.Fatal(err)
	}

	master, err := ks.MasterSecret()
	if err != nil {
		t.Fatal(err)
	}
	led, err := ledger.Open(config.LedgerConfig{Path: filepath.Join(dir, "ledger.db")}, master, testLogger(t))
	master.Destroy()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })

	priv, err := security.GenerateKey(curve25519.ScalarSize)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{svc: svc, led: led, verifierPriv: priv, verifierPub: pub}
}

func sampleReport() evaluate.Report {
	return evaluate.Report{
		Verdict:     evaluate.Compromised,
		RiskScore:   70,
		Details:     []string{"/sbin/.magisk", "Kernel root indicators detected"},
		Token:       "tok",
		EvaluatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// decryptBlob reverses the verifier-side envelope and returns the COSE
// message bytes.
func (f *fixture) decryptBlob(t *testing.T, blob []byte) []byte {
	t.Helper()

	if len(blob) < curve25519.ScalarSize+12+16 {
		t.Fatalf("blob too short: %d", len(blob))
	}
	ephPub := blob[:curve25519.ScalarSize]
	nonce := blob[curve25519.ScalarSize : curve25519.ScalarSize+12]
	ct := blob[curve25519.ScalarSize+12:]

	shared, err := curve25519.X25519(f.verifierPriv, ephPub)
	if err != nil {
		t.Fatal(err)
	}
	key, err := security.DeriveKeyWithLabel(shared, "verifier-wrap", 32)
	if err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		t.Fatalf("blob does not decrypt: %v", err)
	}
	return plain
}

func TestSyncDeliversSignedEncryptedReport(t *testing.T) {
	f := newFixture(t)

	var body []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(config.AttestationConfig{
		VerifierURL:       srv.URL,
		VerifierPublicKey: base64.StdEncoding.EncodeToString(f.verifierPub),
		TimeoutSec:        5,
	}, f.svc, f.led, testLogger(t))

	if err := s.Sync(context.Background(), sampleReport()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if contentType != "application/octet-stream" {
		t.Errorf("content type = %q", contentType)
	}

	// The wire blob must not expose the report.
	if bytes.Contains(body, []byte("/sbin/.magisk")) {
		t.Error("plaintext detail on the wire")
	}

	// Verifier side: decrypt, check the signature, decode the payload.
	signed := f.decryptBlob(t, body)

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		t.Fatalf("inner blob is not COSE_Sign1: %v", err)
	}

	var p struct {
		Verdict   string   `cbor:"verdict"`
		RiskScore int      `cbor:"risk_score"`
		Details   []string `cbor:"details"`
		Token     string   `cbor:"token"`
		PublicKey []byte   `cbor:"public_key"`
	}
	if err := cbor.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, f.svc.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	if p.Verdict != "Compromised" || p.RiskScore != 70 {
		t.Errorf("payload = %+v", p)
	}
	if !bytes.Equal(p.PublicKey, f.svc.PublicKey()) {
		t.Error("payload carries wrong public key")
	}

	// Outcome recorded.
	entries, err := f.led.QueryHistory(ledger.Filter{Kind: ledger.KindLog, Category: CategorySyncSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("SyncSuccess entries = %d, want 1", len(entries))
	}
}

func TestSyncRecordsFailureOnRejection(t *testing.T) {
	f := newFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(config.AttestationConfig{
		VerifierURL:       srv.URL,
		VerifierPublicKey: base64.StdEncoding.EncodeToString(f.verifierPub),
		TimeoutSec:        5,
	}, f.svc, f.led, testLogger(t))

	if err := s.Sync(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error on 500")
	}

	entries, err := f.led.QueryHistory(ledger.Filter{Kind: ledger.KindLog, Category: CategorySyncFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("SyncFailure entries = %d, want 1", len(entries))
	}
}

func TestSyncWithoutVerifierConfig(t *testing.T) {
	f := newFixture(t)

	s := New(config.AttestationConfig{}, f.svc, f.led, testLogger(t))

	if err := s.Sync(context.Background(), sampleReport()); err == nil {
		t.Fatal("expected error without verifier endpoint")
	}

	entries, err := f.led.QueryHistory(ledger.Filter{Kind: ledger.KindLog, Category: CategorySyncFailure})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("SyncFailure entries = %d, want 1", len(entries))
	}
}
