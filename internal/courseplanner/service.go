package courseplanner

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Service fetches catalogue data through the persistent cache.
type Service struct {
	cfg Config

	store     *Store
	ownsStore bool
	transport Transport

	stats    *statsCollector
	writeLog *rateLimitedLogger
	fuzzyLog *rateLimitedLogger

	// ctx is cancelled by Close and bounds background work.
	ctx       context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewService opens the cache store at cfg.Cache.Path and talks to the API
// over HTTP.
func NewService(cfg Config) (*Service, error) {
	store, err := OpenStore(cfg.Cache.Path, cfg.storeConfig())
	if err != nil {
		return nil, err
	}
	s := NewServiceWith(cfg, store, NewHTTPTransport(cfg.Timeout(), cfg.API.RetryMax))
	s.ownsStore = true
	return s, nil
}

// NewServiceWith wires a Service from an already open store and a transport.
// The caller keeps ownership of store.
func NewServiceWith(cfg Config, store *Store, transport Transport) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		store:     store,
		transport: transport,
		stats:     newStatsCollector(),
		writeLog:  newRateLimitedLogger(1 * time.Minute),
		fuzzyLog:  newRateLimitedLogger(10 * time.Second),
		stopCh:    make(chan struct{}),
	}

	if cfg.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.logStatsEveryDur)
		}()
	}
	return s
}

// Close stops background loops, aborting an in-flight warm-up, and closes the
// store if the Service opened it. Later calls return the first result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.stopCh)
		s.wg.Wait()
		if s.ownsStore {
			s.closeErr = s.store.Close()
		}
	})
	return s.closeErr
}

func (s *Service) Stats() StatsSnapshot { return s.stats.Snapshot() }

// Fetch runs FetchIn inside its own session.
func (s *Service) Fetch(ctx context.Context, q Query) (CachedResponse, error) {
	sess, err := s.store.Begin()
	if err != nil {
		return CachedResponse{}, err
	}
	defer sess.Discard()

	ent, err := s.FetchIn(ctx, sess, q)
	if err != nil {
		return CachedResponse{}, err
	}
	if err := sess.Commit(); err != nil {
		s.writeLog.Printf("cache commit failed: %v", err)
	}
	return ent, nil
}

// FetchIn answers q from the cache when a fresh row exists and from the API
// otherwise. A successful API response is written through sess; a failed
// write is logged and the fresh response returned regardless. Any status
// other than 200 is a TransportError and nothing is written.
func (s *Service) FetchIn(ctx context.Context, sess *Session, q Query) (CachedResponse, error) {
	return s.fetchIn(ctx, sess, q, nil)
}

// fetchIn is FetchIn with an accept hook run on the payload, cached or
// fetched, before it is returned. A fetched payload that accept rejects is
// not written.
func (s *Service) fetchIn(ctx context.Context, sess *Session, q Query, accept func(Payload) error) (CachedResponse, error) {
	key, err := q.Encode()
	if err != nil {
		return CachedResponse{}, err
	}

	ent, found, err := s.store.Peek(sess, key)
	if err != nil {
		return CachedResponse{}, err
	}
	if found && !s.store.IsStale(ent) {
		s.stats.Hit()
		if accept != nil {
			if err := accept(ent.Response); err != nil {
				return CachedResponse{}, err
			}
		}
		return ent, nil
	}

	status, body, err := s.transport.Get(ctx, s.cfg.API.BaseURL, key)
	if err != nil {
		s.stats.Failure()
		return CachedResponse{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if status != http.StatusOK {
		s.stats.Failure()
		return CachedResponse{}, &TransportError{StatusCode: status, URL: s.cfg.API.BaseURL + "?" + key}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return CachedResponse{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	s.stats.Miss(len(body), found)
	if accept != nil {
		if err := accept(payload); err != nil {
			return CachedResponse{}, err
		}
	}

	// stale rows are refreshed explicitly, absent ones inserted
	fresh := s.store.entry(key, payload)
	if found {
		err = s.store.put(sess, fresh)
	} else {
		err = s.store.insert(sess, fresh)
	}
	if err != nil {
		s.writeLog.Printf("cache write %s: %v", key, err)
	}
	return fresh, nil
}

// PurgeStale deletes stale cache rows in one session.
func (s *Service) PurgeStale() (int, error) {
	sess, err := s.store.Begin()
	if err != nil {
		return 0, err
	}
	defer sess.Discard()
	n, err := s.store.PurgeStale(sess)
	if err != nil {
		return 0, err
	}
	return n, sess.Commit()
}

// fetchCollection builds the collection before the response is written, so
// a payload that does not decode is never cached.
func fetchCollection[T Record](ctx context.Context, s *Service, sess *Session, q Query) (*Collection[T], error) {
	var c *Collection[T]
	_, err := s.fetchIn(ctx, sess, q, func(p Payload) error {
		rows, err := p.Rows()
		if err != nil {
			return err
		}
		c, err = NewCollection[T](rows, WithMinSimilarity(s.cfg.Lookup.MinSimilarity))
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func loadCollection[T Record](ctx context.Context, s *Service, q Query) (*Collection[T], error) {
	sess, err := s.store.Begin()
	if err != nil {
		return nil, err
	}
	defer sess.Discard()

	c, err := fetchCollection[T](ctx, s, sess, q)
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		s.writeLog.Printf("cache commit failed: %v", err)
	}
	return c, nil
}

func (s *Service) Careers(ctx context.Context) (*Collection[Career], error) {
	return loadCollection[Career](ctx, s, CareerQuery())
}

func (s *Service) Campuses(ctx context.Context) (*Collection[Campus], error) {
	return loadCollection[Campus](ctx, s, CampusQuery())
}

func (s *Service) Terms(ctx context.Context) (*Collection[Term], error) {
	return loadCollection[Term](ctx, s, TermQuery(s.cfg.Year))
}

func (s *Service) Subjects(ctx context.Context) (*Collection[Subject], error) {
	return loadCollection[Subject](ctx, s, SubjectQuery(s.cfg.Year))
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ss := s.stats.Snapshot()
			rows, err := s.store.Len()
			if err != nil {
				log.Printf("stats: count cache rows: %v", err)
			}
			log.Printf(
				"Cache: rows: %d, hits: %d, misses: %d (stale %d), failures: %d, Resp min/avg/max %s/%s/%s",
				rows,
				ss.Hits,
				ss.Misses,
				ss.Refreshes,
				ss.Failures,
				formatBytes(ss.MinRespBytes),
				formatBytes(ss.AvgRespBytes),
				formatBytes(ss.MaxRespBytes),
			)
		}
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
