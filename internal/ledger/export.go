package ledger

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shieldd/internal/security"
)

// exportRecord is the stable wire form of one exported entry. Reports
// carry their verdict in type and joined details in message; logs
// carry their category and message.
type exportRecord struct {
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
	Type      string `json:"type"`
	Message   string `json:"message"`
}

const exportDateLayout = "2006-01-02 15:04:05"

func toExportRecord(e HistoryEntry) exportRecord {
	rec := exportRecord{
		Timestamp: e.Timestamp.UnixMilli(),
		Date:      e.Timestamp.Format(exportDateLayout),
	}
	if e.Kind == KindReport {
		rec.Type = e.Verdict
		rec.Message = strings.Join(e.Details, "; ")
	} else {
		rec.Type = e.Category
		rec.Message = e.Message
	}
	return rec
}

// ExportPlain renders entries as an indented JSON array.
func ExportPlain(entries []HistoryEntry) ([]byte, error) {
	records := make([]exportRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toExportRecord(e))
	}

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ledger: encode export: %w", err)
	}
	return out, nil
}

// ExportEncrypted renders entries as the plain export, encrypts the
// result with AES-256-GCM under the export key, and returns
// base64(nonce || ciphertext || tag). Every export uses a fresh nonce.
func (l *Ledger) ExportEncrypted(entries []HistoryEntry) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return "", ErrClosed
	}

	plain, err := ExportPlain(entries)
	if err != nil {
		return "", err
	}
	defer security.Wipe(plain)

	block, err := aes.NewCipher(l.exportKey)
	if err != nil {
		return "", fmt.Errorf("ledger: export cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("ledger: export gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if err := security.GenerateSecureRandom(nonce); err != nil {
		return "", fmt.Errorf("ledger: export nonce: %w", err)
	}

	blob := make([]byte, 0, len(nonce)+len(plain)+gcm.Overhead())
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, plain, nil)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptExport reverses ExportEncrypted. It exists so an operator can
// recover an export on the machine that produced it.
func (l *Ledger) DecryptExport(encoded string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode export: %w", err)
	}

	block, err := aes.NewCipher(l.exportKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: export cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ledger: export gcm: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("ledger: export blob too short")
	}

	plain, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: export decrypt: %w", err)
	}
	return plain, nil
}

// ExportFileName builds the conventional export file name.
func ExportFileName(encrypted bool, at time.Time) string {
	ext := "json"
	if encrypted {
		ext = "enc.txt"
	}
	return fmt.Sprintf("shieldd_logs_%s.%s", at.Format("20060102_150405"), ext)
}
