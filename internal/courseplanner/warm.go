package courseplanner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Reference holds the lookup collections used to validate course filters.
type Reference struct {
	Careers  *Collection[Career]
	Campuses *Collection[Campus]
	Terms    *Collection[Term]
	Subjects *Collection[Subject]
}

// Reference loads all four reference collections in one session, so a cold
// cache is populated in a single commit. Every query is attempted; failures
// are returned together and leave the matching field nil.
func (s *Service) Reference(ctx context.Context) (Reference, error) {
	sess, err := s.store.Begin()
	if err != nil {
		return Reference{}, err
	}
	defer sess.Discard()

	var (
		ref  Reference
		merr *multierror.Error
	)
	if ref.Careers, err = fetchCollection[Career](ctx, s, sess, CareerQuery()); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("careers: %w", err))
	}
	if ref.Campuses, err = fetchCollection[Campus](ctx, s, sess, CampusQuery()); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("campuses: %w", err))
	}
	if ref.Terms, err = fetchCollection[Term](ctx, s, sess, TermQuery(s.cfg.Year)); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("terms: %w", err))
	}
	if ref.Subjects, err = fetchCollection[Subject](ctx, s, sess, SubjectQuery(s.cfg.Year)); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("subjects: %w", err))
	}

	if err := sess.Commit(); err != nil {
		s.writeLog.Printf("cache commit failed: %v", err)
	}
	return ref, merr.ErrorOrNil()
}

// Warm fills the cache with all reference data.
func (s *Service) Warm(ctx context.Context) error {
	ref, err := s.Reference(ctx)
	log.Printf("warmup: careers=%d campuses=%d terms=%d subjects=%d",
		ref.Careers.Len(), ref.Campuses.Len(), ref.Terms.Len(), ref.Subjects.Len())
	return err
}

// StartWarmup refreshes reference data now and then every period until
// Close, which also aborts a warm-up in flight. A non-positive period warms
// once.
func (s *Service) StartWarmup(period time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runOnce := func() {
			ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
			defer cancel()
			if err := s.Warm(ctx); err != nil {
				log.Printf("warmup: error: %v", err)
			}
		}

		runOnce()
		if period <= 0 {
			return
		}

		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-t.C:
				runOnce()
			}
		}
	}()
}
