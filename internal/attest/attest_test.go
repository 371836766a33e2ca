package attest

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/veraison/go-cose"
	"golang.org/x/crypto/curve25519"

	"shieldd/internal/config"
	"shieldd/internal/keystore"
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

func testService(t *testing.T) *LocalService {
	t.Helper()
	ks, err := keystore.Open(config.KeystoreConfig{
		Provider: "software",
		SeedPath: filepath.Join(t.TempDir(), "master.seed"),
	}, testLogger(t))
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	t.Cleanup(func() { ks.Close() })

	svc, err := NewLocalService(ks)
	if err != nil {
		t.Fatalf("NewLocalService: %v", err)
	}
	return svc
}

func TestRequestToken(t *testing.T) {
	var gotBinding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ContextBinding string `json:"context_binding"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotBinding = req.ContextBinding
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := NewClient(config.AttestationConfig{OracleURL: srv.URL, TimeoutSec: 5}, testLogger(t))

	res := c.RequestToken(context.Background())
	if !res.Present() {
		t.Fatalf("expected token, got err %v", res.Err)
	}
	if res.Token != "tok-1" {
		t.Errorf("token = %q, want tok-1", res.Token)
	}
	if gotBinding == "" {
		t.Error("request carried no context binding")
	}

	// A second request must use a fresh binding.
	first := gotBinding
	c.RequestToken(context.Background())
	if gotBinding == first {
		t.Error("context binding reused across requests")
	}
}

func TestRequestTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.AttestationConfig{OracleURL: srv.URL, TimeoutSec: 5}, testLogger(t))

	res := c.RequestToken(context.Background())
	if res.Present() {
		t.Error("expected failure on 503")
	}
	if res.Err == nil {
		t.Error("expected error on 503")
	}
}

func TestRequestTokenEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	c := NewClient(config.AttestationConfig{OracleURL: srv.URL, TimeoutSec: 5}, testLogger(t))

	if res := c.RequestToken(context.Background()); res.Present() {
		t.Error("empty token must not count as present")
	}
}

func TestRequestTokenNoOracle(t *testing.T) {
	c := NewClient(config.AttestationConfig{}, testLogger(t))

	res := c.RequestToken(context.Background())
	if res.Present() {
		t.Error("expected failure without oracle URL")
	}
}

func TestSignVerifies(t *testing.T) {
	svc := testService(t)

	payload := []byte("anomaly report")
	raw, err := svc.Sign(payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		t.Fatalf("not a COSE_Sign1 message: %v", err)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Error("payload altered in envelope")
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, svc.PublicKey())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestSigningIdentityStable(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "master.seed")
	cfg := config.KeystoreConfig{Provider: "software", SeedPath: seedPath}

	ks1, err := keystore.Open(cfg, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	svc1, err := NewLocalService(ks1)
	if err != nil {
		t.Fatal(err)
	}
	ks1.Close()

	ks2, err := keystore.Open(cfg, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer ks2.Close()
	svc2, err := NewLocalService(ks2)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(svc1.PublicKey(), svc2.PublicKey()) {
		t.Error("signing identity changed across key store reopen")
	}
}

func TestEncryptForVerifierRoundTrip(t *testing.T) {
	svc := testService(t)

	verifierPriv, err := security.GenerateKey(curve25519.ScalarSize)
	if err != nil {
		t.Fatal(err)
	}
	verifierPub, err := curve25519.X25519(verifierPriv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("sealed anomaly payload")
	blob, err := svc.EncryptForVerifier(payload, verifierPub)
	if err != nil {
		t.Fatalf("EncryptForVerifier failed: %v", err)
	}

	if len(blob) < curve25519.ScalarSize+12+16 {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}

	// Decrypt the way the verifier would.
	ephPub := blob[:curve25519.ScalarSize]
	nonce := blob[curve25519.ScalarSize : curve25519.ScalarSize+12]
	ct := blob[curve25519.ScalarSize+12:]

	shared, err := curve25519.X25519(verifierPriv, ephPub)
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
		t.Fatalf("verifier-side decrypt failed: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Error("payload does not round-trip")
	}

	// Fresh ephemeral key per message.
	blob2, err := svc.EncryptForVerifier(payload, verifierPub)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(blob2[:curve25519.ScalarSize], ephPub) {
		t.Error("ephemeral key reused across messages")
	}
}

func TestEncryptForVerifierRejectsBadKey(t *testing.T) {
	svc := testService(t)

	if _, err := svc.EncryptForVerifier([]byte("x"), []byte("short")); err == nil {
		t.Error("expected error for malformed verifier key")
	}
}
