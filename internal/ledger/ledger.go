// Package ledger persists integrity reports and operational log entries
// in an append-only SQLite database.
//
// Security model:
//  1. File permissions: 0600, owner only.
//  2. Confidentiality: details, tokens, and messages are sealed with
//     ChaCha20-Poly1305 under keys derived from the platform master
//     secret; the file alone reveals nothing sensitive.
//  3. Integrity: reports form an HMAC chain anchored in a dedicated
//     integrity record; log entries carry individual HMACs. Reports are
//     never deleted, so the chain never needs rebuilding; logs may be
//     cleared by the user without touching the report chain.
//  4. Fail closed: a database that fails verification opens read-only
//     and refuses every write. There is no plaintext fallback.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/chacha20poly1305"

	"shieldd/internal/config"
	"shieldd/internal/evaluate"
	"shieldd/internal/logging"
	"shieldd/internal/security"
)

// Key derivation labels. Changing one invalidates existing databases.
const (
	sealKeyLabel   = "ledger-seal"
	hmacKeyLabel   = "ledger-hmac"
	exportKeyLabel = "export"
)

var (
	// ErrCorrupted indicates the database failed integrity verification.
	ErrCorrupted = errors.New("ledger: integrity verification failed")

	// ErrReadOnly indicates a write was attempted on a corrupted database.
	ErrReadOnly = errors.New("ledger: database is read-only after integrity failure")

	// ErrClosed indicates the ledger has been closed.
	ErrClosed = errors.New("ledger: closed")
)

// Kind discriminates history entries.
type Kind string

const (
	KindReport Kind = "report"
	KindLog    Kind = "log"
)

// HistoryEntry is one decoded ledger record, report or log.
type HistoryEntry struct {
	Seq       int64
	Timestamp time.Time
	Kind      Kind

	// Report fields.
	Verdict   string
	RiskScore int
	Details   []string
	Token     string

	// Log fields.
	Category string
	Message  string
}

// Filter narrows a history query. Zero values mean no constraint.
type Filter struct {
	Kind     Kind
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

const schema = `
CREATE TABLE IF NOT EXISTS reports (
    seq           INTEGER PRIMARY KEY,
    timestamp_ns  INTEGER NOT NULL,
    verdict       TEXT NOT NULL,
    risk_score    INTEGER NOT NULL,
    details       BLOB NOT NULL,
    token         BLOB NOT NULL,
    previous_hash BLOB NOT NULL,
    chain_hash    BLOB NOT NULL,
    hmac          BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
    seq           INTEGER PRIMARY KEY,
    timestamp_ns  INTEGER NOT NULL,
    category      TEXT NOT NULL,
    message       BLOB NOT NULL,
    hmac          BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS integrity (
    id            INTEGER PRIMARY KEY CHECK (id = 1),
    chain_hash    BLOB NOT NULL,
    report_count  INTEGER NOT NULL DEFAULT 0,
    last_verified INTEGER,
    hmac          BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category);
`

// Ledger is the secure report and log store.
type Ledger struct {
	db  *sql.DB
	log *logging.Logger

	sealKey   []byte
	hmacKey   []byte
	exportKey []byte

	mu          sync.RWMutex
	lastHash    [32]byte
	reportCount int64
	readOnly    bool
	closed      bool

	subMu         sync.Mutex
	subs          map[int]chan []HistoryEntry
	nextSub       int
	snapshotLimit int
}

// Open opens or creates the ledger database. All working keys are
// derived from the master secret; the caller keeps ownership of it.
// A database that fails verification is returned usable read-only
// together with ErrCorrupted.
func Open(cfg config.LedgerConfig, master *security.SecureBytes, log *logging.Logger) (*Ledger, error) {
	sealKey, err := security.DeriveKeyWithLabel(master.Bytes(), sealKeyLabel, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("ledger: derive seal key: %w", err)
	}
	hmacKey, err := security.DeriveKeyWithLabel(master.Bytes(), hmacKeyLabel, 32)
	if err != nil {
		security.Wipe(sealKey)
		return nil, fmt.Errorf("ledger: derive hmac key: %w", err)
	}
	exportKey, err := security.DeriveKeyWithLabel(master.Bytes(), exportKeyLabel, 32)
	if err != nil {
		security.Wipe(sealKey)
		security.Wipe(hmacKey)
		return nil, fmt.Errorf("ledger: derive export key: %w", err)
	}

	l := &Ledger{
		log:       log.WithComponent("ledger"),
		sealKey:   sealKey,
		hmacKey:   hmacKey,
		exportKey: exportKey,
		subs:      make(map[int]chan []HistoryEntry),
	}

	if err := l.openDB(cfg); err != nil {
		l.wipeKeys()
		return nil, err
	}

	if err := l.verifyIntegrity(); err != nil {
		l.readOnly = true
		l.log.Error("ledger integrity verification failed, opening read-only", "error", err)
		return l, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	return l, nil
}

func (l *Ledger) openDB(cfg config.LedgerConfig) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return fmt.Errorf("ledger: create database directory: %w", err)
	}

	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}

	isNew := false
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		isNew = true
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", cfg.Path, busy)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("ledger: open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("ledger: apply schema: %w", err)
	}

	if err := os.Chmod(cfg.Path, 0600); err != nil {
		db.Close()
		return fmt.Errorf("ledger: set database permissions: %w", err)
	}

	l.db = db

	if isNew {
		return l.initializeIntegrity()
	}
	return nil
}

func (l *Ledger) initializeIntegrity() error {
	var zero [32]byte
	l.lastHash = zero

	mac := l.integrityHMAC(zero, 0)
	_, err := l.db.Exec(`
		INSERT INTO integrity (id, chain_hash, report_count, last_verified, hmac)
		VALUES (1, ?, 0, ?, ?)`,
		zero[:], time.Now().UnixNano(), mac)
	if err != nil {
		return fmt.Errorf("ledger: initialize integrity record: %w", err)
	}
	return nil
}

// verifyIntegrity recomputes the report chain and every log HMAC.
func (l *Ledger) verifyIntegrity() error {
	var chainHash, storedMAC []byte
	var reportCount int64

	err := l.db.QueryRow(`SELECT chain_hash, report_count, hmac FROM integrity WHERE id = 1`).
		Scan(&chainHash, &reportCount, &storedMAC)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("integrity record missing")
		}
		return fmt.Errorf("read integrity record: %w", err)
	}

	var expected [32]byte
	copy(expected[:], chainHash)
	if !hmac.Equal(storedMAC, l.integrityHMAC(expected, reportCount)) {
		return errors.New("integrity record HMAC mismatch")
	}

	rows, err := l.db.Query(`
		SELECT seq, timestamp_ns, verdict, risk_score, details, token, previous_hash, chain_hash, hmac
		FROM reports ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var lastHash [32]byte
	var count int64

	for rows.Next() {
		var seq, tsNs int64
		var risk int
		var verdict string
		var details, token, prevHash, recHash, recMAC []byte

		if err := rows.Scan(&seq, &tsNs, &verdict, &risk, &details, &token, &prevHash, &recHash, &recMAC); err != nil {
			return fmt.Errorf("scan report: %w", err)
		}

		if !hmac.Equal(prevHash, lastHash[:]) {
			return fmt.Errorf("chain break at report %d", seq)
		}

		computed := l.reportHash(seq, tsNs, verdict, risk, details, token, prevHash)
		if !hmac.Equal(recHash, computed[:]) {
			return fmt.Errorf("report %d hash mismatch", seq)
		}
		if !hmac.Equal(recMAC, l.reportHMAC(seq, tsNs, verdict, risk, details, token, prevHash)) {
			return fmt.Errorf("report %d HMAC mismatch", seq)
		}

		copy(lastHash[:], recHash)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reports: %w", err)
	}

	if count != reportCount {
		return fmt.Errorf("report count mismatch: recorded %d, found %d", reportCount, count)
	}
	if !hmac.Equal(chainHash, lastHash[:]) {
		return errors.New("chain hash mismatch")
	}

	logRows, err := l.db.Query(`SELECT seq, timestamp_ns, category, message, hmac FROM logs ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query logs: %w", err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var seq, tsNs int64
		var category string
		var message, recMAC []byte

		if err := logRows.Scan(&seq, &tsNs, &category, &message, &recMAC); err != nil {
			return fmt.Errorf("scan log: %w", err)
		}
		if !hmac.Equal(recMAC, l.logHMAC(seq, tsNs, category, message)) {
			return fmt.Errorf("log %d HMAC mismatch", seq)
		}
	}
	if err := logRows.Err(); err != nil {
		return fmt.Errorf("iterate logs: %w", err)
	}

	l.lastHash = lastHash
	l.reportCount = count
	return nil
}

// ReadOnly reports whether writes are refused after an integrity failure.
func (l *Ledger) ReadOnly() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.readOnly
}

// nextSeq allocates the next global sequence number across both tables.
func nextSeq(tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRow(`
		SELECT COALESCE(MAX(s), 0) + 1 FROM (
			SELECT MAX(seq) AS s FROM reports
			UNION ALL
			SELECT MAX(seq) AS s FROM logs
		)`).Scan(&seq)
	return seq, err
}

// InsertReport appends an evaluation report. Details and token are
// sealed before they touch the file; the record extends the HMAC chain.
func (l *Ledger) InsertReport(r evaluate.Report) (int64, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if l.readOnly {
		l.mu.Unlock()
		return 0, ErrReadOnly
	}

	seq, err := l.insertReportLocked(r)
	l.mu.Unlock()

	if err == nil {
		l.notifySubscribers()
	}
	return seq, err
}

func (l *Ledger) insertReportLocked(r evaluate.Report) (int64, error) {
	detailsJSON, err := json.Marshal(r.Details)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode details: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(tx)
	if err != nil {
		return 0, fmt.Errorf("ledger: allocate sequence: %w", err)
	}

	sealedDetails, err := l.seal(detailsJSON, string(KindReport), seq)
	if err != nil {
		return 0, err
	}
	sealedToken, err := l.seal([]byte(r.Token), string(KindReport)+"-token", seq)
	if err != nil {
		return 0, err
	}

	tsNs := r.EvaluatedAt.UnixNano()
	verdict := r.Verdict.String()
	prevHash := l.lastHash

	recHash := l.reportHash(seq, tsNs, verdict, r.RiskScore, sealedDetails, sealedToken, prevHash[:])
	recMAC := l.reportHMAC(seq, tsNs, verdict, r.RiskScore, sealedDetails, sealedToken, prevHash[:])

	_, err = tx.Exec(`
		INSERT INTO reports (seq, timestamp_ns, verdict, risk_score, details, token, previous_hash, chain_hash, hmac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, tsNs, verdict, r.RiskScore, sealedDetails, sealedToken, prevHash[:], recHash[:], recMAC)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert report: %w", err)
	}

	newCount := l.reportCount + 1
	newMAC := l.integrityHMAC(recHash, newCount)
	_, err = tx.Exec(`UPDATE integrity SET chain_hash = ?, report_count = ?, last_verified = ?, hmac = ? WHERE id = 1`,
		recHash[:], newCount, time.Now().UnixNano(), newMAC)
	if err != nil {
		return 0, fmt.Errorf("ledger: update integrity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}

	l.lastHash = recHash
	l.reportCount = newCount
	return seq, nil
}

// InsertLog appends an operational log entry with a sealed message.
func (l *Ledger) InsertLog(category, message string, at time.Time) (int64, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if l.readOnly {
		l.mu.Unlock()
		return 0, ErrReadOnly
	}

	seq, err := l.insertLogLocked(category, message, at)
	l.mu.Unlock()

	if err == nil {
		l.notifySubscribers()
	}
	return seq, err
}

func (l *Ledger) insertLogLocked(category, message string, at time.Time) (int64, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("ledger: begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(tx)
	if err != nil {
		return 0, fmt.Errorf("ledger: allocate sequence: %w", err)
	}

	sealed, err := l.seal([]byte(message), string(KindLog), seq)
	if err != nil {
		return 0, err
	}

	tsNs := at.UnixNano()
	mac := l.logHMAC(seq, tsNs, category, sealed)

	_, err = tx.Exec(`
		INSERT INTO logs (seq, timestamp_ns, category, message, hmac)
		VALUES (?, ?, ?, ?, ?)`,
		seq, tsNs, category, sealed, mac)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}

	return seq, nil
}

// QueryHistory returns decoded entries matching the filter, newest
// first, ties broken by insertion order.
func (l *Ledger) QueryHistory(f Filter) ([]HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	var entries []HistoryEntry

	if f.Kind == "" || f.Kind == KindReport {
		reports, err := l.queryReports(f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, reports...)
	}
	if f.Kind == "" || f.Kind == KindLog {
		logs, err := l.queryLogs(f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, logs...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Seq > entries[j].Seq
	})

	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}

	return entries, nil
}

func timeRange(f Filter) (int64, int64) {
	since := int64(0)
	if !f.Since.IsZero() {
		since = f.Since.UnixNano()
	}
	until := int64(1<<63 - 1)
	if !f.Until.IsZero() {
		until = f.Until.UnixNano()
	}
	return since, until
}

func (l *Ledger) queryReports(f Filter) ([]HistoryEntry, error) {
	since, until := timeRange(f)

	rows, err := l.db.Query(`
		SELECT seq, timestamp_ns, verdict, risk_score, details, token
		FROM reports
		WHERE timestamp_ns >= ? AND timestamp_ns <= ?
		ORDER BY timestamp_ns DESC, seq DESC`, since, until)
	if err != nil {
		return nil, fmt.Errorf("ledger: query reports: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var tsNs int64
		var sealedDetails, sealedToken []byte

		if err := rows.Scan(&e.Seq, &tsNs, &e.Verdict, &e.RiskScore, &sealedDetails, &sealedToken); err != nil {
			return nil, fmt.Errorf("ledger: scan report: %w", err)
		}

		detailsJSON, err := l.unseal(sealedDetails, string(KindReport), e.Seq)
		if err != nil {
			return nil, fmt.Errorf("ledger: unseal report %d: %w", e.Seq, err)
		}
		if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
			return nil, fmt.Errorf("ledger: decode details %d: %w", e.Seq, err)
		}
		token, err := l.unseal(sealedToken, string(KindReport)+"-token", e.Seq)
		if err != nil {
			return nil, fmt.Errorf("ledger: unseal token %d: %w", e.Seq, err)
		}

		e.Kind = KindReport
		e.Timestamp = time.Unix(0, tsNs)
		e.Token = string(token)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) queryLogs(f Filter) ([]HistoryEntry, error) {
	since, until := timeRange(f)

	query := `
		SELECT seq, timestamp_ns, category, message
		FROM logs
		WHERE timestamp_ns >= ? AND timestamp_ns <= ?`
	args := []any{since, until}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY timestamp_ns DESC, seq DESC`

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query logs: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var tsNs int64
		var sealed []byte

		if err := rows.Scan(&e.Seq, &tsNs, &e.Category, &sealed); err != nil {
			return nil, fmt.Errorf("ledger: scan log: %w", err)
		}

		message, err := l.unseal(sealed, string(KindLog), e.Seq)
		if err != nil {
			return nil, fmt.Errorf("ledger: unseal log %d: %w", e.Seq, err)
		}

		e.Kind = KindLog
		e.Timestamp = time.Unix(0, tsNs)
		e.Message = string(message)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearLogs removes all log entries. The report chain is untouched.
func (l *Ledger) ClearLogs() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.readOnly {
		l.mu.Unlock()
		return ErrReadOnly
	}

	_, err := l.db.Exec(`DELETE FROM logs`)
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("ledger: clear logs: %w", err)
	}
	l.notifySubscribers()
	return nil
}

// Subscribe returns a channel receiving a fresh history snapshot after
// every insert or clear. Slow consumers miss intermediate snapshots but
// always receive a consistent one. The returned function unsubscribes.
func (l *Ledger) Subscribe(limit int) (<-chan []HistoryEntry, func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	id := l.nextSub
	l.nextSub++

	ch := make(chan []HistoryEntry, 1)
	l.subs[id] = ch

	if limit > 0 {
		l.snapshotLimit = limit
	}

	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}

	return ch, cancel
}

func (l *Ledger) notifySubscribers() {
	l.subMu.Lock()
	if len(l.subs) == 0 {
		l.subMu.Unlock()
		return
	}
	limit := l.snapshotLimit
	l.subMu.Unlock()

	snapshot, err := l.QueryHistory(Filter{Limit: limit})
	if err != nil {
		l.log.Warn("history snapshot failed", "error", err)
		return
	}

	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		// Replace a pending snapshot instead of blocking.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Close wipes the derived keys and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.subMu.Lock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	l.subMu.Unlock()

	l.wipeKeys()
	return l.db.Close()
}

func (l *Ledger) wipeKeys() {
	security.Wipe(l.sealKey)
	security.Wipe(l.hmacKey)
	security.Wipe(l.exportKey)
}

// Sealing helpers. The AAD binds each ciphertext to its record slot so
// sealed columns cannot be swapped between rows.

func sealAAD(context string, seq int64) []byte {
	return []byte(context + ":" + strconv.FormatInt(seq, 10))
}

func (l *Ledger) seal(plaintext []byte, context string, seq int64) ([]byte, error) {
	aead, err := chacha20poly1305.New(l.sealKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: seal init: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if err := security.GenerateSecureRandom(nonce); err != nil {
		return nil, fmt.Errorf("ledger: seal nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealAAD(context, seq)), nil
}

func (l *Ledger) unseal(sealed []byte, context string, seq int64) ([]byte, error) {
	aead, err := chacha20poly1305.New(l.sealKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: unseal init: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ledger: sealed value too short")
	}

	nonce := sealed[:aead.NonceSize()]
	return aead.Open(nil, nonce, sealed[aead.NonceSize():], sealAAD(context, seq))
}

// Record hashing and HMAC helpers.

func int64Bytes(n int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func (l *Ledger) reportHash(seq, tsNs int64, verdict string, risk int, details, token, prevHash []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte("shieldd-report-v1"))
	h.Write(int64Bytes(seq))
	h.Write(int64Bytes(tsNs))
	h.Write([]byte(verdict))
	h.Write(int64Bytes(int64(risk)))
	h.Write(details)
	h.Write(token)
	h.Write(prevHash)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (l *Ledger) reportHMAC(seq, tsNs int64, verdict string, risk int, details, token, prevHash []byte) []byte {
	h := hmac.New(sha256.New, l.hmacKey)
	h.Write([]byte("shieldd-report-v1"))
	h.Write(int64Bytes(seq))
	h.Write(int64Bytes(tsNs))
	h.Write([]byte(verdict))
	h.Write(int64Bytes(int64(risk)))
	h.Write(details)
	h.Write(token)
	h.Write(prevHash)
	return h.Sum(nil)
}

func (l *Ledger) logHMAC(seq, tsNs int64, category string, message []byte) []byte {
	h := hmac.New(sha256.New, l.hmacKey)
	h.Write([]byte("shieldd-log-v1"))
	h.Write(int64Bytes(seq))
	h.Write(int64Bytes(tsNs))
	h.Write([]byte(category))
	h.Write(message)
	return h.Sum(nil)
}

func (l *Ledger) integrityHMAC(chainHash [32]byte, reportCount int64) []byte {
	h := hmac.New(sha256.New, l.hmacKey)
	h.Write([]byte("shieldd-integrity-v1"))
	h.Write(chainHash[:])
	h.Write(int64Bytes(reportCount))
	return h.Sum(nil)
}
