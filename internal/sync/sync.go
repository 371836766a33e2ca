// Package sync delivers anomalous integrity reports to the remote
// verifier. Delivery is fire-and-forget: the outcome lands in the
// ledger as a log entry and never blocks or fails verdict delivery.
package sync

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/evaluate"
	"shieldd/internal/ledger"
	"shieldd/internal/logging"
)

// Ledger log categories written by the syncer.
const (
	CategorySyncSuccess = "SyncSuccess"
	CategorySyncFailure = "SyncFailure"
)

var (
	// ErrNoVerifier indicates the verifier endpoint is not configured.
	ErrNoVerifier = errors.New("sync: no verifier endpoint configured")

	// ErrRejected indicates the verifier returned a non-2xx status.
	ErrRejected = errors.New("sync: verifier rejected blob")
)

// payload is the CBOR wire form of a synced report. The device public
// key lets the verifier authenticate the inner COSE envelope.
type payload struct {
	Timestamp int64    `cbor:"timestamp"`
	Verdict   string   `cbor:"verdict"`
	RiskScore int      `cbor:"risk_score"`
	Details   []string `cbor:"details"`
	Token     string   `cbor:"token"`
	PublicKey []byte   `cbor:"public_key"`
}

// Syncer pushes signed, encrypted report blobs to the verifier.
type Syncer struct {
	url         string
	verifierPub []byte
	svc         attest.Service
	led         *ledger.Ledger
	client      *http.Client
	log         *logging.Logger
}

// New builds a syncer. The verifier public key comes base64-encoded
// from the configuration; a missing key or URL makes every Sync fail
// softly with a SyncFailure log entry.
func New(cfg config.AttestationConfig, svc attest.Service, led *ledger.Ledger, log *logging.Logger) *Syncer {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	s := &Syncer{
		url:    cfg.VerifierURL,
		svc:    svc,
		led:    led,
		client: &http.Client{Timeout: timeout},
		log:    log.WithComponent("sync"),
	}

	if cfg.VerifierPublicKey != "" {
		pub, err := base64.StdEncoding.DecodeString(cfg.VerifierPublicKey)
		if err != nil {
			s.log.Error("verifier public key malformed", "error", err)
		} else {
			s.verifierPub = pub
		}
	}

	return s
}

// Sync signs and encrypts the report, POSTs the blob, and records the
// outcome in the ledger. Any 2xx response is delivery; everything else
// is failure. There is no inline retry.
func (s *Syncer) Sync(ctx context.Context, report evaluate.Report) error {
	err := s.deliver(ctx, report)
	if err != nil {
		s.log.Warn("report sync failed", "error", err)
		s.recordOutcome(CategorySyncFailure, err.Error())
		return err
	}

	s.log.Info("report synced", "verdict", report.Verdict.String())
	s.recordOutcome(CategorySyncSuccess,
		fmt.Sprintf("report delivered (verdict %s, score %d)", report.Verdict, report.RiskScore))
	return nil
}

func (s *Syncer) deliver(ctx context.Context, report evaluate.Report) error {
	if s.url == "" {
		return ErrNoVerifier
	}
	if len(s.verifierPub) == 0 {
		return attest.ErrNoVerifierKey
	}

	raw, err := cbor.Marshal(payload{
		Timestamp: report.EvaluatedAt.UnixMilli(),
		Verdict:   report.Verdict.String(),
		RiskScore: report.RiskScore,
		Details:   report.Details,
		Token:     report.Token,
		PublicKey: s.svc.PublicKey(),
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	signed, err := s.svc.Sign(raw)
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}

	blob, err := s.svc.EncryptForVerifier(signed, s.verifierPub)
	if err != nil {
		return fmt.Errorf("encrypt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post blob: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

func (s *Syncer) recordOutcome(category, message string) {
	if s.led == nil {
		return
	}
	if _, err := s.led.InsertLog(category, message, time.Now()); err != nil {
		s.log.Warn("sync outcome not recorded", "error", err)
	}
}
