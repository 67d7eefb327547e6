package courseplanner

import (
	"context"
	"fmt"
)

// CourseFilter narrows a course search. Empty fields are not sent.
type CourseFilter struct {
	Title           string
	Campus          string
	Subject         string
	CatalogueNumber string
	Term            string
	Career          string
	// Year defaults to the configured year.
	Year       int
	PageNumber int
	PageSize   int
}

// Courses searches the course catalogue. Campus, subject, term and career must
// be keys of the reference collections; anything else fails with an
// InvalidFilterError before any course request is made. A response that does
// not decode is not cached.
func (s *Service) Courses(ctx context.Context, f CourseFilter) ([]Course, error) {
	year := f.Year
	if year == 0 {
		year = s.cfg.Year
	}
	q := CourseQuery(year)
	q.CourseTitle = f.Title
	q.CatalogNbr = f.CatalogueNumber
	if f.PageNumber > 0 {
		q.PageNumber = f.PageNumber
	}
	if f.PageSize > 0 {
		q.PageSize = f.PageSize
	}

	if f.Campus != "" || f.Subject != "" || f.Term != "" || f.Career != "" {
		ref, err := s.Reference(ctx)
		if err != nil {
			return nil, err
		}
		if q.Campus, err = resolveFilter(s, ref.Campuses, "campus", f.Campus); err != nil {
			return nil, err
		}
		if q.Subject, err = resolveFilter(s, ref.Subjects, "subject", f.Subject); err != nil {
			return nil, err
		}
		if q.Term, err = resolveFilter(s, ref.Terms, "term", f.Term); err != nil {
			return nil, err
		}
		if q.Career, err = resolveFilter(s, ref.Careers, "career", f.Career); err != nil {
			return nil, err
		}
	}

	sess, err := s.store.Begin()
	if err != nil {
		return nil, err
	}
	defer sess.Discard()

	var out []Course
	_, err = s.fetchIn(ctx, sess, q, func(p Payload) (err error) {
		out, err = decodeCourses(p)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Commit(); err != nil {
		s.writeLog.Printf("cache commit failed: %v", err)
	}
	return out, nil
}

func decodeCourses(p Payload) ([]Course, error) {
	rows, err := p.Rows()
	if err != nil {
		return nil, err
	}
	out := make([]Course, 0, len(rows))
	for i, row := range rows {
		c, err := DecodeRecord[Course](row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// resolveFilter checks value against c by exact key. With a similarity floor
// configured, a near miss is corrected to the matching key instead.
func resolveFilter[T Record](s *Service, c *Collection[T], field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if _, ok := c.Get(value); ok {
		return value, nil
	}
	if s.cfg.Lookup.MinSimilarity > 0 {
		if m, ok := c.Match(value); ok {
			s.fuzzyLog.Printf("%s %q resolved to %q (similarity %.2f)", field, value, m.Key, m.Score)
			return m.Key, nil
		}
	}
	return "", &InvalidFilterError{Field: field, Value: value}
}
