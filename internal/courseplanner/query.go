package courseplanner

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
)

const (
	targetCareer  = "/system/CSP_ACAD_CAREER/queryx"
	targetCampus  = "/system/CAMPUS/queryx"
	targetSubject = "/system/SUBJECTS_BY_YEAR/queryx"
	targetTerm    = "/system/TERMS/queryx"
	targetCourse  = "/system/COURSE_SEARCH/queryx"

	maxRows         = 99999
	defaultPageSize = 9999
)

// Query is one catalogue request. Its encoded form is the identity under
// which the response is cached, so encoding must be stable.
type Query struct {
	Target  string `url:"target"`
	MaxRows int    `url:"MaxRows,omitempty"`
	Virtual string `url:"virtual,omitempty"`

	Year     int `url:"year,omitempty"`
	YearFrom int `url:"year_from,omitempty"`
	YearTo   int `url:"year_to,omitempty"`

	CourseTitle string `url:"course_title,omitempty"`
	Campus      string `url:"campus,omitempty"`
	Subject     string `url:"subject,omitempty"`
	CatalogNbr  string `url:"catalog_nbr,omitempty"`
	Term        string `url:"term,omitempty"`
	Career      string `url:"career,omitempty"`
	PageNumber  int    `url:"pagenbr,omitempty"`
	PageSize    int    `url:"pagesize,omitempty"`

	// Extra parameters override templated ones with the same name.
	Extra url.Values `url:"-"`
}

func CareerQuery() Query {
	return Query{Target: targetCareer, MaxRows: maxRows}
}

func CampusQuery() Query {
	return Query{Target: targetCampus, MaxRows: maxRows}
}

func SubjectQuery(year int) Query {
	return Query{Target: targetSubject, Virtual: "Y", YearFrom: year, YearTo: year}
}

func TermQuery(year int) Query {
	return Query{Target: targetTerm, Virtual: "Y", YearFrom: year, YearTo: year}
}

func CourseQuery(year int) Query {
	return Query{Target: targetCourse, Virtual: "Y", Year: year, PageNumber: 1, PageSize: defaultPageSize}
}

// With returns a copy of q carrying an extra parameter.
func (q Query) With(key, value string) Query {
	extra := make(url.Values, len(q.Extra)+1)
	for k, vs := range q.Extra {
		extra[k] = append([]string(nil), vs...)
	}
	extra.Set(key, value)
	q.Extra = extra
	return q
}

// Encode renders q as a query string with keys in sorted order. Slashes are
// left unescaped so target paths stay readable.
func (q Query) Encode() (string, error) {
	if q.Target == "" {
		return "", fmt.Errorf("query: target is required")
	}
	v, err := query.Values(q)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	for k, vs := range q.Extra {
		v[k] = vs
	}
	return strings.ReplaceAll(v.Encode(), "%2F", "/"), nil
}
