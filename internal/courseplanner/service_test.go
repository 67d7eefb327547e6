package courseplanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers by the "target" parameter and records every call.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]Payload
	status    map[string]int
	calls     []url.Values
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: map[string]Payload{}, status: map[string]int{}}
}

func (f *fakeTransport) Get(_ context.Context, _ string, params string) (int, []byte, error) {
	v, err := url.ParseQuery(params)
	if err != nil {
		return 0, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, v)

	target := v.Get("target")
	if st, ok := f.status[target]; ok && st != http.StatusOK {
		return st, []byte(`{"status":"error"}`), nil
	}
	p, ok := f.responses[target]
	if !ok {
		return http.StatusNotFound, nil, nil
	}
	b, err := json.Marshal(p)
	return http.StatusOK, b, err
}

func (f *fakeTransport) callsFor(target string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, c := range f.calls {
		if c.Get("target") == target {
			out = append(out, c)
		}
	}
	return out
}

func newTestService(t *testing.T, tr Transport, opts ...func(*Config)) (*Service, *Store, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Year = 2024
	for _, o := range opts {
		o(&cfg)
	}
	store, clock := newTestStore(t, cfg.StalePeriod())
	svc := NewServiceWith(cfg, store, tr)
	t.Cleanup(func() { require.NoError(t, svc.Close()) })
	return svc, store, clock
}

func referenceTransport() *fakeTransport {
	tr := newFakeTransport()
	tr.responses[targetCareer] = careerPayload()
	tr.responses[targetCampus] = rowsPayload([]Row{
		{"CAMPUS": "NTRCE", "DESCR": "North Terrace"},
		{"CAMPUS": "ROSEW", "DESCR": "Roseworthy"},
		{"CAMPUS": "WAITE", "DESCR": "Waite"},
	})
	tr.responses[targetTerm] = rowsPayload([]Row{
		{"TERM": "4410", "DESCR": "Semester 1", "ACAD_YEAR": "2024", "CURRENT": "Y"},
		{"TERM": "4420", "DESCR": "Semester 2", "ACAD_YEAR": "2024", "CURRENT": "N"},
	})
	tr.responses[targetSubject] = rowsPayload([]Row{
		{"SUBJECT": "COMP SCI", "DESCR": "Computer Science"},
		{"SUBJECT": "MATHS", "DESCR": "Mathematics"},
	})
	tr.responses[targetCourse] = rowsPayload([]Row{
		courseRow("COMP SCI", "1102", 10234),
		courseRow("COMP SCI", "2103", 10555),
	})
	return tr
}

func TestService_FetchCachesResponses(t *testing.T) {
	tr := referenceTransport()
	svc, store, _ := newTestService(t, tr)
	ctx := context.Background()

	first, err := svc.Fetch(ctx, CareerQuery())
	require.NoError(t, err)
	second, err := svc.Fetch(ctx, CareerQuery())
	require.NoError(t, err)

	assert.Len(t, tr.callsFor(targetCareer), 1)
	assert.Equal(t, first.Query, second.Query)
	assert.Equal(t, careerPayload(), second.Response)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ss := svc.Stats()
	assert.Equal(t, uint64(1), ss.Hits)
	assert.Equal(t, uint64(1), ss.Misses)
	assert.Zero(t, ss.Refreshes)
}

func TestService_DifferentParametersAreDifferentKeys(t *testing.T) {
	tr := referenceTransport()
	svc, store, _ := newTestService(t, tr)
	ctx := context.Background()

	_, err := svc.Fetch(ctx, TermQuery(2024))
	require.NoError(t, err)
	_, err = svc.Fetch(ctx, TermQuery(2025))
	require.NoError(t, err)

	assert.Len(t, tr.callsFor(targetTerm), 2)
	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestService_StaleEntryIsRefreshed(t *testing.T) {
	tr := referenceTransport()
	svc, store, clock := newTestService(t, tr)
	ctx := context.Background()

	_, err := svc.Fetch(ctx, CampusQuery())
	require.NoError(t, err)

	clock.Advance(DefaultStalePeriod + time.Hour)
	tr.responses[targetCampus] = rowsPayload([]Row{{"CAMPUS": "ONLINE", "DESCR": "Online"}})

	ent, err := svc.Fetch(ctx, CampusQuery())
	require.NoError(t, err)
	assert.Len(t, tr.callsFor(targetCampus), 2)
	assert.Equal(t, clock.now.Unix(), ent.StoredAt().Unix())

	campuses, err := svc.Campuses(ctx)
	require.NoError(t, err)
	assert.Len(t, tr.callsFor(targetCampus), 2, "refreshed row is served from cache")
	assert.Equal(t, []string{"ONLINE"}, campuses.Keys())

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), svc.Stats().Refreshes)
}

func TestService_TransportFailureIsNotCached(t *testing.T) {
	tr := referenceTransport()
	tr.status[targetCampus] = http.StatusNotFound
	svc, store, _ := newTestService(t, tr)

	_, err := svc.Fetch(context.Background(), CampusQuery())
	require.ErrorIs(t, err, ErrTransport)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
	assert.Contains(t, terr.URL, "target=/system/CAMPUS/queryx")

	n, err := store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint64(1), svc.Stats().Failures)

	// not cached, so the next call goes to the network again
	_, err = svc.Fetch(context.Background(), CampusQuery())
	require.ErrorIs(t, err, ErrTransport)
	assert.Len(t, tr.callsFor(targetCampus), 2)
}

func TestService_InvalidPayload(t *testing.T) {
	tr := newFakeTransport()
	tr.responses[targetCareer] = Payload{"status": "success", "data": map[string]any{}}
	svc, _, _ := newTestService(t, tr)

	_, err := svc.Careers(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestService_Reference(t *testing.T) {
	tr := referenceTransport()
	svc, store, _ := newTestService(t, tr)
	ctx := context.Background()

	ref, err := svc.Reference(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, ref.Careers.Len())
	assert.Equal(t, 3, ref.Campuses.Len())
	assert.Equal(t, 2, ref.Terms.Len())
	assert.Equal(t, 2, ref.Subjects.Len())

	term, ok := ref.Terms.Lookup("4410")
	require.True(t, ok)
	assert.True(t, term.Current)

	year := tr.callsFor(targetTerm)[0]
	assert.Equal(t, "2024", year.Get("year_from"))
	assert.Equal(t, "2024", year.Get("year_to"))

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, svc.Warm(ctx))
	assert.Len(t, tr.calls, 4)
}

func TestService_ReferenceCollectsFailures(t *testing.T) {
	tr := referenceTransport()
	tr.status[targetTerm] = http.StatusInternalServerError
	delete(tr.responses, targetSubject)
	svc, store, _ := newTestService(t, tr)

	ref, err := svc.Reference(context.Background())
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.ErrorIs(t, err, ErrTransport)

	assert.Equal(t, 4, ref.Careers.Len())
	assert.Equal(t, 3, ref.Campuses.Len())
	assert.Nil(t, ref.Terms)
	assert.Nil(t, ref.Subjects)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n, "successful fetches are still committed")
}

func TestService_Courses(t *testing.T) {
	t.Run("filters are sent as given", func(t *testing.T) {
		tr := referenceTransport()
		svc, _, _ := newTestService(t, tr)

		courses, err := svc.Courses(context.Background(), CourseFilter{
			Subject: "COMP SCI",
			Campus:  "NTRCE",
			Term:    "4410",
			Title:   "Programming",
		})
		require.NoError(t, err)
		require.Len(t, courses, 2)
		assert.Equal(t, 10234, courses[0].ClassNumber)
		assert.Equal(t, "Introduction to Programming", courses[0].CourseTitle)

		calls := tr.callsFor(targetCourse)
		require.Len(t, calls, 1)
		assert.Equal(t, "NTRCE", calls[0].Get("campus"))
		assert.Equal(t, "COMP SCI", calls[0].Get("subject"))
		assert.Equal(t, "4410", calls[0].Get("term"))
		assert.Equal(t, "Programming", calls[0].Get("course_title"))
		assert.Equal(t, "2024", calls[0].Get("year"))
		assert.Empty(t, calls[0].Get("career"))
	})

	t.Run("unknown filter value is rejected without a search", func(t *testing.T) {
		testCases := []struct {
			name   string
			filter CourseFilter
			field  string
			value  string
		}{
			{name: "unrelated campus", filter: CourseFilter{Campus: "MARS"}, field: "campus", value: "MARS"},
			{name: "near miss campus", filter: CourseFilter{Campus: "NTRCEE"}, field: "campus", value: "NTRCEE"},
			{name: "wrong case subject", filter: CourseFilter{Subject: "comp sci"}, field: "subject", value: "comp sci"},
			{name: "unknown term", filter: CourseFilter{Campus: "NTRCE", Term: "9999"}, field: "term", value: "9999"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				tr := referenceTransport()
				svc, _, _ := newTestService(t, tr)

				_, err := svc.Courses(context.Background(), tc.filter)
				require.ErrorIs(t, err, ErrInvalidFilter)

				var ferr *InvalidFilterError
				require.ErrorAs(t, err, &ferr)
				assert.Equal(t, tc.field, ferr.Field)
				assert.Equal(t, tc.value, ferr.Value)
				assert.Empty(t, tr.callsFor(targetCourse))
			})
		}
	})

	t.Run("near miss is corrected above the similarity floor", func(t *testing.T) {
		tr := referenceTransport()
		svc, _, _ := newTestService(t, tr, func(c *Config) { c.Lookup.MinSimilarity = 0.7 })

		_, err := svc.Courses(context.Background(), CourseFilter{Campus: "NTRCEE"})
		require.NoError(t, err)
		calls := tr.callsFor(targetCourse)
		require.Len(t, calls, 1)
		assert.Equal(t, "NTRCE", calls[0].Get("campus"))

		_, err = svc.Courses(context.Background(), CourseFilter{Campus: "MARS"})
		require.ErrorIs(t, err, ErrInvalidFilter)
		assert.Len(t, tr.callsFor(targetCourse), 1)
	})

	t.Run("empty reference collection rejects any value", func(t *testing.T) {
		tr := referenceTransport()
		tr.responses[targetCareer] = rowsPayload(nil)
		svc, _, _ := newTestService(t, tr)

		_, err := svc.Courses(context.Background(), CourseFilter{Career: "UGRD"})
		require.ErrorIs(t, err, ErrInvalidFilter)
		assert.Empty(t, tr.callsFor(targetCourse))
	})

	t.Run("no reference lookups without filters", func(t *testing.T) {
		tr := referenceTransport()
		svc, _, _ := newTestService(t, tr)

		courses, err := svc.Courses(context.Background(), CourseFilter{Year: 2023, PageSize: 50})
		require.NoError(t, err)
		assert.Len(t, courses, 2)
		require.Len(t, tr.calls, 1)
		assert.Equal(t, "2023", tr.calls[0].Get("year"))
		assert.Equal(t, "50", tr.calls[0].Get("pagesize"))
	})
}

func TestService_UndecodableCoursesAreNotCached(t *testing.T) {
	testCases := []struct {
		name    string
		payload Payload
		wantErr error
	}{
		{
			name:    "no rows",
			payload: Payload{"status": "success", "data": map[string]any{}},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "row missing a field",
			payload: rowsPayload([]Row{{"CLASS_NBR": 10234.0, "SUBJECT": "COMP SCI"}}),
			wantErr: ErrSchemaMismatch,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newFakeTransport()
			tr.responses[targetCourse] = tc.payload
			svc, store, _ := newTestService(t, tr)
			ctx := context.Background()

			_, err := svc.Courses(ctx, CourseFilter{Title: "Programming"})
			require.ErrorIs(t, err, tc.wantErr)

			n, err := store.Len()
			require.NoError(t, err)
			assert.Zero(t, n)

			// the corrected response is fetched, not the bad one replayed
			tr.responses[targetCourse] = rowsPayload([]Row{courseRow("COMP SCI", "1102", 10234)})
			courses, err := svc.Courses(ctx, CourseFilter{Title: "Programming"})
			require.NoError(t, err)
			assert.Len(t, courses, 1)
			assert.Len(t, tr.callsFor(targetCourse), 2)
		})
	}
}

func TestService_ReferenceDoesNotCacheUndecodableRows(t *testing.T) {
	tr := referenceTransport()
	tr.responses[targetTerm] = rowsPayload([]Row{{"TERM": "4410"}})
	svc, store, _ := newTestService(t, tr)

	ref, err := svc.Reference(context.Background())
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Nil(t, ref.Terms)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestService_FetchReturnsStoredEntry(t *testing.T) {
	tr := referenceTransport()
	svc, store, clock := newTestService(t, tr)
	// every clock read moves time on
	store.now = func() time.Time {
		clock.Advance(time.Second)
		return clock.now
	}

	got, err := svc.Fetch(context.Background(), CareerQuery())
	require.NoError(t, err)

	sess := begin(t, store)
	stored, ok, err := store.Peek(sess, got.Query)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored.Timestamp, got.Timestamp)
	assert.Equal(t, stored, got)
}

func TestService_PurgeStale(t *testing.T) {
	tr := referenceTransport()
	svc, store, clock := newTestService(t, tr)
	ctx := context.Background()

	_, err := svc.Fetch(ctx, CareerQuery())
	require.NoError(t, err)
	clock.Advance(DefaultStalePeriod + time.Minute)
	_, err = svc.Fetch(ctx, CampusQuery())
	require.NoError(t, err)

	n, err := svc.PurgeStale()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
}

func TestHTTPTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Query().Get("target") {
		case targetCareer:
			assert.Equal(t, "99999", r.URL.Query().Get("MaxRows"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			b, err := json.Marshal(careerPayload())
			assert.NoError(t, err)
			_, _ = w.Write(b)
		case targetTerm:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.API.BaseURL = srv.URL + "/"
	store, _ := newTestStore(t, cfg.StalePeriod())
	svc := NewServiceWith(cfg, store, NewHTTPTransport(5*time.Second, 0))
	defer svc.Close()
	ctx := context.Background()

	careers, err := svc.Careers(ctx)
	require.NoError(t, err)
	got, ok := careers.Lookup("UGRDD")
	require.True(t, ok)
	assert.Equal(t, Career{Code: "UGRD", Name: "Undergraduate"}, got)

	_, err = svc.Careers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = svc.Campuses(ctx)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)

	_, err = svc.Terms(ctx)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusInternalServerError, terr.StatusCode)
	assert.Equal(t, int32(3), hits.Load(), "no automatic retry by default")
}
