// Package audit keeps a tamper-evident, hash-chained record of
// state-changing API calls.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the PreviousHash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// LogEntry is one link in the chain.
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

type Option func(*ChainLogger)

// WithSink writes every entry to w as a JSON line.
func WithSink(w io.Writer) Option {
	return func(c *ChainLogger) { c.sink = w }
}

func WithClock(now func() time.Time) Option {
	return func(c *ChainLogger) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *ChainLogger) { c.logger = l }
}

// ChainLogger appends entries whose hash covers the previous entry's hash, so
// editing or dropping any entry breaks every later link.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64

	sink   io.Writer
	now    func() time.Time
	logger *slog.Logger
}

func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{
		previousHash: GenesisHash,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append links payload onto the chain. A failing sink is logged; the chain
// itself still advances.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entry := &LogEntry{
		Sequence:     c.sequence,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry)
	c.previousHash = entry.Hash

	if c.sink != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			_, err = c.sink.Write(append(line, '\n'))
		}
		if err != nil {
			c.logger.Error("failed to write audit entry", "sequence", entry.Sequence, "error", err)
		}
	}
	return entry
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func entryHash(e *LogEntry) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", e.Sequence, e.PreviousHash, e.Timestamp, e.Payload)))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports whether entries form an unbroken chain. The first
// entry's PreviousHash is trusted as the anchor.
func VerifyChain(entries []*LogEntry) bool {
	for i, entry := range entries {
		if i > 0 {
			prev := entries[i-1]
			if entry.PreviousHash != prev.Hash || entry.Sequence != prev.Sequence+1 {
				return false
			}
		}
		if entryHash(entry) != entry.Hash {
			return false
		}
	}
	return true
}

// ReadEntries decodes a JSON-lines audit log written through WithSink.
func ReadEntries(r io.Reader) ([]*LogEntry, error) {
	dec := json.NewDecoder(r)
	var out []*LogEntry
	for {
		var e LogEntry
		err := dec.Decode(&e)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %d: %w", len(out)+1, err)
		}
		out = append(out, &e)
	}
}
