package courseplanner

import (
	"strconv"
	"time"
)

// Payload is a decoded JSON response body.
type Payload map[string]any

// Row is one raw record as returned under data.query.rows.
type Row map[string]any

// CachedResponse is one persisted catalogue response.
type CachedResponse struct {
	Query string `json:"query"`
	// Timestamp is seconds since the epoch (UTC) at insertion. Zero means
	// unknown; such rows never go stale.
	Timestamp float64 `json:"timestamp"`
	Response  Payload `json:"response"`
}

func (r CachedResponse) StoredAt() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

type Career struct {
	Code string `mapstructure:"FIELDVALUE" json:"code"`
	Name string `mapstructure:"XLATLONGNAME" json:"name"`
}

func (Career) Schema() Schema {
	return Schema{Name: "career", Key: "FIELDVALUE", Fields: []string{"FIELDVALUE", "XLATLONGNAME"}}
}

func (c Career) NaturalKey() string { return c.Code }

type Campus struct {
	Code        string `mapstructure:"CAMPUS" json:"code"`
	Description string `mapstructure:"DESCR" json:"description"`
}

func (Campus) Schema() Schema {
	return Schema{Name: "campus", Key: "CAMPUS", Fields: []string{"CAMPUS", "DESCR"}}
}

func (c Campus) NaturalKey() string { return c.Code }

type Term struct {
	Code         string `mapstructure:"TERM" json:"code"`
	Description  string `mapstructure:"DESCR" json:"description"`
	AcademicYear string `mapstructure:"ACAD_YEAR" json:"academic_year"`
	Current      bool   `mapstructure:"CURRENT" json:"current"`
}

func (Term) Schema() Schema {
	return Schema{Name: "term", Key: "TERM", Fields: []string{"TERM", "DESCR", "ACAD_YEAR", "CURRENT"}}
}

func (t Term) NaturalKey() string { return t.Code }

type Subject struct {
	Code        string `mapstructure:"SUBJECT" json:"code"`
	Description string `mapstructure:"DESCR" json:"description"`
}

func (Subject) Schema() Schema {
	return Schema{Name: "subject", Key: "SUBJECT", Fields: []string{"SUBJECT", "DESCR"}}
}

func (s Subject) NaturalKey() string { return s.Code }

// Course is one class offering returned by a course search.
type Course struct {
	AcademicCareer            string `mapstructure:"ACAD_CAREER" json:"academic_career"`
	AcademicCareerDescription string `mapstructure:"ACAD_CAREER_DESCR" json:"academic_career_description"`
	Campus                    string `mapstructure:"CAMPUS" json:"campus"`
	CatalogueNumber           string `mapstructure:"CATALOG_NBR" json:"catalogue_number"`
	ClassNumber               int    `mapstructure:"CLASS_NBR" json:"class_number"`
	CourseID                  string `mapstructure:"COURSE_ID" json:"course_id"`
	CourseOfferNumber         int    `mapstructure:"COURSE_OFFER_NBR" json:"course_offer_number"`
	CourseTitle               string `mapstructure:"COURSE_TITLE" json:"course_title"`
	Subject                   string `mapstructure:"SUBJECT" json:"subject"`
	Term                      string `mapstructure:"TERM" json:"term"`
	TermDescription           string `mapstructure:"TERM_DESCR" json:"term_description"`
	Units                     int    `mapstructure:"UNITS" json:"units"`
	Year                      string `mapstructure:"YEAR" json:"year"`
}

func (Course) Schema() Schema {
	return Schema{
		Name: "course",
		Key:  "CLASS_NBR",
		Fields: []string{
			"ACAD_CAREER", "ACAD_CAREER_DESCR", "CAMPUS", "CATALOG_NBR", "CLASS_NBR",
			"COURSE_ID", "COURSE_OFFER_NBR", "COURSE_TITLE", "SUBJECT", "TERM",
			"TERM_DESCR", "UNITS", "YEAR",
		},
	}
}

func (c Course) NaturalKey() string { return strconv.Itoa(c.ClassNumber) }
