package courseplanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const rowPrefix = "q:"

type StoreConfig struct {
	StalePeriod time.Duration
	WriteBuffer int64
	BlockCache  int64
}

// Store persists catalogue responses keyed by their encoded query. Rows are
// written once and never changed by reads; staleness is decided when a row
// is read.
type Store struct {
	db          *leveldb.DB
	stalePeriod time.Duration
	now         func() time.Time
}

// Session is a unit of work over the store. Nothing written through it is
// visible to other sessions until Commit. Only one session may be open at a
// time; Begin blocks until the previous one is committed or discarded.
type Session struct {
	tr   *leveldb.Transaction
	done bool
}

func (s *Session) Commit() error {
	if s.done {
		return fmt.Errorf("session already finished")
	}
	s.done = true
	return s.tr.Commit()
}

// Discard drops uncommitted writes. It is a no-op after Commit.
func (s *Session) Discard() {
	if s.done {
		return
	}
	s.done = true
	s.tr.Discard()
}

func OpenStore(path string, cfg StoreConfig) (*Store, error) {
	o := &opt.Options{}
	if cfg.WriteBuffer > 0 {
		o.WriteBuffer = int(cfg.WriteBuffer)
	}
	if cfg.BlockCache > 0 {
		o.BlockCacheCapacity = int(cfg.BlockCache)
	}
	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		return nil, fmt.Errorf("open cache store %s: %w", path, err)
	}
	stale := cfg.StalePeriod
	if stale <= 0 {
		stale = DefaultStalePeriod
	}
	return &Store{db: db, stalePeriod: stale, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Begin() (*Session, error) {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &Session{tr: tr}, nil
}

// IsStale reports whether ent is older than the stale period. Rows without a
// timestamp are never stale.
func (s *Store) IsStale(ent CachedResponse) bool {
	if ent.Timestamp == 0 {
		return false
	}
	return s.now().Sub(ent.StoredAt()) > s.stalePeriod
}

// Peek returns the row stored under key whether or not it is stale.
func (s *Store) Peek(sess *Session, key string) (CachedResponse, bool, error) {
	b, err := sess.tr.Get([]byte(rowPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	var ent CachedResponse
	if err := json.Unmarshal(b, &ent); err != nil {
		return CachedResponse{}, false, fmt.Errorf("decode cache row %q: %w", key, err)
	}
	return ent, true, nil
}

// Get returns the fresh row stored under key. Missing and stale rows are both
// reported as absent; stale rows are left in place.
func (s *Store) Get(sess *Session, key string) (CachedResponse, bool, error) {
	ent, ok, err := s.Peek(sess, key)
	if err != nil || !ok {
		return CachedResponse{}, false, err
	}
	if s.IsStale(ent) {
		return CachedResponse{}, false, nil
	}
	return ent, true, nil
}

// Set inserts a new row stamped with the current time. It fails with
// ErrAlreadyExists if any row, fresh or stale, already holds key.
func (s *Store) Set(sess *Session, key string, payload Payload) error {
	return s.insert(sess, s.entry(key, payload))
}

// Replace writes a row for key, overwriting any existing one.
func (s *Store) Replace(sess *Session, key string, payload Payload) error {
	return s.put(sess, s.entry(key, payload))
}

func (s *Store) entry(key string, payload Payload) CachedResponse {
	return CachedResponse{
		Query:     key,
		Timestamp: float64(s.now().UnixNano()) / 1e9,
		Response:  payload,
	}
}

func (s *Store) insert(sess *Session, ent CachedResponse) error {
	has, err := sess.tr.Has([]byte(rowPrefix+ent.Query), nil)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("inserting cache row %q: %w", ent.Query, ErrAlreadyExists)
	}
	return s.put(sess, ent)
}

func (s *Store) put(sess *Session, ent CachedResponse) error {
	b, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("encode cache row %q: %w", ent.Query, err)
	}
	return sess.tr.Put([]byte(rowPrefix+ent.Query), b, nil)
}

// PurgeStale deletes every stale row and returns how many were removed.
func (s *Store) PurgeStale(sess *Session) (int, error) {
	it := sess.tr.NewIterator(util.BytesPrefix([]byte(rowPrefix)), nil)
	var stale [][]byte
	for it.Next() {
		var ent CachedResponse
		if err := json.Unmarshal(it.Value(), &ent); err != nil {
			continue
		}
		if s.IsStale(ent) {
			stale = append(stale, append([]byte(nil), it.Key()...))
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := sess.tr.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Len counts committed rows, stale ones included.
func (s *Store) Len() (int, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(rowPrefix)), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}
