package guestquote

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageKey is the single namespaced key holding the quote list.
const StorageKey = "freightdesk.guest_quotes.v1"

// MaxEntries bounds the stored list; the oldest quotes are evicted first.
const MaxEntries = 20

// ErrKeyNotFound is returned by a KV when the key has no value.
var ErrKeyNotFound = errors.New("key not found")

// KVReader reads string values.
type KVReader interface {
	Get(key string) (string, error)
}

// KVWriter writes and deletes string values.
type KVWriter interface {
	Set(key, value string) error
	Delete(key string) error
}

// KV is the device-local key/value storage the quotes live in.
type KV interface {
	KVReader
	KVWriter
}

// State is an immutable snapshot of stored quotes, oldest first.
type State struct {
	Quotes []GuestQuote
}

// Find returns the quote with id.
func (s State) Find(id string) (GuestQuote, bool) {
	for _, q := range s.Quotes {
		if q.ID == id {
			return q, true
		}
	}
	return GuestQuote{}, false
}

// Store manages the quote list in a KV.
type Store struct {
	kv    KV
	now   func() time.Time
	newID func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides quote id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore returns a store over kv.
func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored quotes. Unparseable content is discarded and reset
// to an empty list; expired entries are dropped and the survivors written back.
func (s *Store) Load() (State, error) {
	raw, err := s.kv.Get(StorageKey)
	if errors.Is(err, ErrKeyNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read guest quotes: %w", err)
	}

	var stored []GuestQuote
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return State{}, s.write(nil)
	}

	now := s.now()
	survivors := make([]GuestQuote, 0, len(stored))
	for _, q := range stored {
		if q.ID == "" || q.Expired(now) {
			continue
		}
		survivors = append(survivors, q)
	}
	if len(survivors) != len(stored) {
		if err := s.write(survivors); err != nil {
			return State{}, err
		}
	}
	return State{Quotes: survivors}, nil
}

// Add stores a new quote for input and result and returns it.
func (s *Store) Add(input Input, result Result) (State, GuestQuote, error) {
	state, err := s.Load()
	if err != nil {
		return State{}, GuestQuote{}, err
	}
	created := s.now().UTC().Truncate(time.Millisecond)
	in, res := input, result
	q := GuestQuote{
		ID:        s.newID(),
		CreatedAt: created,
		ExpiresAt: created.Add(TTL),
		Input:     &in,
		Result:    &res,
	}
	quotes := append(append([]GuestQuote(nil), state.Quotes...), q)
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].CreatedAt.Before(quotes[j].CreatedAt) })
	if len(quotes) > MaxEntries {
		quotes = quotes[len(quotes)-MaxEntries:]
	}
	if err := s.write(quotes); err != nil {
		return State{}, GuestQuote{}, err
	}
	return State{Quotes: quotes}, q, nil
}

// Remove deletes the quote with id.
func (s *Store) Remove(id string) (State, error) {
	return s.removeWhere(func(q GuestQuote) bool { return q.ID == id })
}

// Clear deletes the key.
func (s *Store) Clear() error {
	if err := s.kv.Delete(StorageKey); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("clear guest quotes: %w", err)
	}
	return nil
}

// ApplyReport removes quotes the server attached or permanently skipped,
// keeping only those worth retrying. The key is cleared when none remain.
func (s *Store) ApplyReport(report Report) (State, error) {
	done := make(map[string]bool, len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Status == OutcomeAttached || !o.Retryable {
			done[matchKey(GuestQuote{ID: o.GuestQuoteID})] = true
		}
	}
	return s.removeWhere(func(q GuestQuote) bool { return done[matchKey(q)] })
}

func matchKey(q GuestQuote) string {
	if id := q.CanonicalID(); id != "" {
		return id
	}
	return strings.TrimSpace(q.ID)
}

func (s *Store) removeWhere(match func(GuestQuote) bool) (State, error) {
	state, err := s.Load()
	if err != nil {
		return State{}, err
	}
	kept := make([]GuestQuote, 0, len(state.Quotes))
	for _, q := range state.Quotes {
		if !match(q) {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		if err := s.Clear(); err != nil {
			return State{}, err
		}
		return State{}, nil
	}
	if len(kept) != len(state.Quotes) {
		if err := s.write(kept); err != nil {
			return State{}, err
		}
	}
	return State{Quotes: kept}, nil
}

func (s *Store) write(quotes []GuestQuote) error {
	if quotes == nil {
		quotes = []GuestQuote{}
	}
	data, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("encode guest quotes: %w", err)
	}
	if err := s.kv.Set(StorageKey, string(data)); err != nil {
		return fmt.Errorf("write guest quotes: %w", err)
	}
	return nil
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: map[string]string{}}
}

// Get implements KVReader.
func (m *MemoryKV) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set implements KVWriter.
func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete implements KVWriter.
func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
