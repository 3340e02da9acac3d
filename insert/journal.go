package insert

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

const journalKeyPrefix = "insert"

// JournalEntry records a single accepted insertion.
type JournalEntry struct {
	Seq       uint64    `msgpack:"seq"`
	Patch     string    `msgpack:"patch"`
	Target    string    `msgpack:"target"`
	File      string    `msgpack:"file"`
	PointType string    `msgpack:"pt"`
	Line      int       `msgpack:"line"`
	RelLine   int       `msgpack:"rline,omitempty"`
	Variant   Variant   `msgpack:"variant"`
	Digest    string    `msgpack:"digest"`
	Source    string    `msgpack:"src"`
	Committed bool      `msgpack:"committed"` // false for dry runs and failed commits
	Time      time.Time `msgpack:"time"`
}

// FragmentDigest returns a short stable identifier for generated source.
func FragmentDigest(src string) string {
	sha := sha256.Sum256([]byte(src))
	return base91.StdEncoding.EncodeToString(sha[:16])
}

// Journal persists the insertions performed across runs.
type Journal struct {
	store Storage
	mu    sync.Mutex
	seq   uint64
}

// NewJournal creates a journal over the provided storage, continuing the sequence of existing entries.
func NewJournal(store Storage) (*Journal, error) {
	store = KeyPrefixStorage(store, journalKeyPrefix)
	keys, err := store.ListKeysPrefix("")
	if err != nil {
		return nil, fmt.Errorf("journal open failure: %w", err)
	}
	return &Journal{store: store, seq: uint64(len(keys))}, nil
}

// Record stores an entry, assigning its sequence number and digest.
func (j *Journal) Record(e JournalEntry) (JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	e.Seq = j.seq
	if e.Digest == "" {
		e.Digest = FragmentDigest(e.Source)
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return e, fmt.Errorf("journal encode failure: %w", err)
	} else if err := j.store.SaveState(journalKey(e.Seq), ZstdCompress(nil, b)); err != nil {
		return e, fmt.Errorf("journal write failure: %w", err)
	}
	return e, nil
}

// Entries returns every recorded entry in sequence order.
func (j *Journal) Entries() ([]JournalEntry, error) {
	keys, err := j.store.ListKeysPrefix("")
	if err != nil {
		return nil, err
	}
	entries := make([]JournalEntry, 0, len(keys))
	for _, key := range keys {
		blob, ok, err := j.store.LoadState(key)
		if err != nil {
			return nil, err
		} else if !ok {
			continue // removed concurrently
		}
		b, err := ZstdDecompress(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("journal decompress failure %s: %w", key, err)
		}
		var e JournalEntry
		if err := msgpack.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("journal decode failure %s: %w", key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear removes every entry.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq = 0
	return j.store.Clear()
}

// journalKey is zero padded so key order matches sequence order.
func journalKey(seq uint64) string {
	return fmt.Sprintf("%012d", seq)
}
