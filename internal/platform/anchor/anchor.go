// Package anchor records verification proofs in an append-only, hash-chained
// ledger. Each anchored subject receives a "0x"-prefixed SHA-256 proof hash
// that commits to the previous entry, so tampering with any stored entry
// breaks every hash after it.
package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrEntryNotFound = errors.New("ledger entry not found")

// Anchorer anchors a subject and returns its proof hash.
type Anchorer interface {
	Anchor(ctx context.Context, subject Subject) (string, error)
}

// Subject identifies what is being anchored.
type Subject struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Digest string `json:"digest"`
}

// Entry is a single ledger block.
type Entry struct {
	Height    int64     `json:"height"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash"`
	Subject   Subject   `json:"subject"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend persists ledger entries.
type Backend interface {
	Head() (Entry, bool, error)
	Append(e Entry) error
	Get(height int64) (Entry, error)
	ByHash(hash string) (Entry, error)
	Close() error
}

// Ledger is an Anchorer over a Backend. Appends are serialized.
type Ledger struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
}

func NewLedger(b Backend) *Ledger {
	return &Ledger{backend: b, now: time.Now}
}

// Digest returns the hex SHA-256 of the concatenated parts.
func Digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func entryHash(prev string, s Subject, ts time.Time, nonce string) string {
	payload := strings.Join([]string{
		prev,
		s.Kind,
		strconv.FormatInt(s.ID, 10),
		s.Digest,
		strconv.FormatInt(ts.UnixNano(), 10),
		nonce,
	}, "|")
	return "0x" + Digest([]byte(payload))
}

func (l *Ledger) Anchor(ctx context.Context, s Subject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Kind == "" || s.ID <= 0 {
		return "", fmt.Errorf("anchor: invalid subject %s/%d", s.Kind, s.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	head, ok, err := l.backend.Head()
	if err != nil {
		return "", fmt.Errorf("anchor: read head: %w", err)
	}
	e := Entry{Subject: s, Nonce: uuid.NewString(), Timestamp: l.now().UTC()}
	if ok {
		e.Height = head.Height + 1
		e.PrevHash = head.Hash
	}
	e.Hash = entryHash(e.PrevHash, s, e.Timestamp, e.Nonce)
	if err := l.backend.Append(e); err != nil {
		return "", fmt.Errorf("anchor: append: %w", err)
	}
	return e.Hash, nil
}

// Lookup returns the entry with the given proof hash.
func (l *Ledger) Lookup(_ context.Context, hash string) (Entry, error) {
	return l.backend.ByHash(hash)
}

// Head returns the latest entry, if any.
func (l *Ledger) Head(_ context.Context) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Head()
}

// Verify walks the ledger and recomputes every hash. It returns the number
// of entries checked.
func (l *Ledger) Verify(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, ok, err := l.backend.Head()
	if err != nil || !ok {
		return 0, err
	}
	prev := ""
	for h := int64(0); h <= head.Height; h++ {
		if err := ctx.Err(); err != nil {
			return h, err
		}
		e, err := l.backend.Get(h)
		if err != nil {
			return h, fmt.Errorf("load entry %d: %w", h, err)
		}
		if e.PrevHash != prev {
			return h, fmt.Errorf("entry %d: broken link", h)
		}
		if want := entryHash(e.PrevHash, e.Subject, e.Timestamp, e.Nonce); want != e.Hash {
			return h, fmt.Errorf("entry %d: hash mismatch", h)
		}
		prev = e.Hash
	}
	return head.Height + 1, nil
}

func (l *Ledger) Close() error {
	return l.backend.Close()
}

// ---------------------------------------------------------------------------
// In-memory backend
// ---------------------------------------------------------------------------

type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
	byHash  map[string]int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byHash: make(map[string]int64)}
}

func (m *MemoryBackend) Head() (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return m.entries[len(m.entries)-1], true, nil
}

func (m *MemoryBackend) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Height != int64(len(m.entries)) {
		return fmt.Errorf("height %d out of sequence", e.Height)
	}
	m.entries = append(m.entries, e)
	m.byHash[e.Hash] = e.Height
	return nil
}

func (m *MemoryBackend) Get(height int64) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if height < 0 || height >= int64(len(m.entries)) {
		return Entry{}, ErrEntryNotFound
	}
	return m.entries[height], nil
}

func (m *MemoryBackend) ByHash(hash string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byHash[hash]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return m.entries[h], nil
}

func (m *MemoryBackend) Close() error { return nil }
