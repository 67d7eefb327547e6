package courseplanner

import (
	"fmt"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/samber/lo"
)

const idIndex = "id"

// naturalKeyIndexer indexes records by NaturalKey.
type naturalKeyIndexer struct{}

func (naturalKeyIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	r, ok := obj.(Record)
	if !ok {
		return false, nil, fmt.Errorf("object %T does not implement Record", obj)
	}
	return true, []byte(r.NaturalKey() + "\x00"), nil
}

func (naturalKeyIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	return []byte(key + "\x00"), nil
}

type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	minSimilarity float64
}

// WithMinSimilarity rejects fuzzy matches scoring below min (0..1). The
// default of zero accepts any best match.
func WithMinSimilarity(min float64) CollectionOption {
	return func(o *collectionOptions) { o.minSimilarity = min }
}

// Collection is an immutable, key-addressable set of records built from raw
// rows. Rows sharing a natural key collapse to the last one.
type Collection[T Record] struct {
	table  string
	db     *memdb.MemDB
	size   int
	metric *metrics.Levenshtein
	opts   collectionOptions
}

// Match is the outcome of a lookup.
type Match[T Record] struct {
	Key    string
	Record T
	// Score is the similarity in [0, 1]; exact hits score 1.
	Score float64
	Exact bool
}

// NewCollection decodes rows into T and indexes them by natural key. The
// index is complete and read-only once NewCollection returns.
func NewCollection[T Record](rows []Row, opts ...CollectionOption) (*Collection[T], error) {
	var zero T
	table := zero.Schema().Name

	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: naturalKeyIndexer{},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	txn := db.Txn(true)
	defer txn.Abort()
	for i, row := range rows {
		rec, err := DecodeRecord[T](row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if err := txn.Insert(table, rec); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	txn.Commit()

	c := &Collection[T]{
		table:  table,
		db:     db,
		metric: metrics.NewLevenshtein(),
	}
	c.metric.CaseSensitive = false
	for _, o := range opts {
		o(&c.opts)
	}
	c.size = len(c.All())
	return c, nil
}

// Len is the number of distinct natural keys. A nil collection is empty.
func (c *Collection[T]) Len() int {
	if c == nil {
		return 0
	}
	return c.size
}

// All returns the records ordered by natural key.
func (c *Collection[T]) All() []T {
	txn := c.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(c.table, idIndex)
	if err != nil {
		panic(err)
	}
	var res []T
	for el := iter.Next(); el != nil; el = iter.Next() {
		res = append(res, el.(T))
	}
	return res
}

func (c *Collection[T]) Keys() []string {
	return lo.Map(c.All(), func(r T, _ int) string { return r.NaturalKey() })
}

// Get returns the record stored under exactly key.
func (c *Collection[T]) Get(key string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(c.table, idIndex, key)
	if err != nil || raw == nil {
		return zero, false
	}
	return raw.(T), true
}

// Lookup returns the record stored under key or, failing that, the record
// whose key is most similar to it.
func (c *Collection[T]) Lookup(key string) (T, bool) {
	m, ok := c.Match(key)
	return m.Record, ok
}

// Contains reports whether Lookup finds anything for key, including a fuzzy
// near miss.
func (c *Collection[T]) Contains(key string) bool {
	_, ok := c.Match(key)
	return ok
}

// Match is Lookup with the matched key and score. Exact hits never reach the
// similarity scan. Ties go to the lexicographically smallest key.
func (c *Collection[T]) Match(key string) (Match[T], bool) {
	if c == nil {
		return Match[T]{}, false
	}
	if rec, ok := c.Get(key); ok {
		return Match[T]{Key: rec.NaturalKey(), Record: rec, Score: 1, Exact: true}, true
	}

	candidates := lo.Map(c.All(), func(r T, _ int) Match[T] {
		return Match[T]{
			Key:    r.NaturalKey(),
			Record: r,
			Score:  strutil.Similarity(key, r.NaturalKey(), c.metric),
		}
	})
	if len(candidates) == 0 {
		return Match[T]{}, false
	}
	best := lo.MaxBy(candidates, func(a, b Match[T]) bool { return a.Score > b.Score })
	if best.Score < c.opts.minSimilarity {
		return Match[T]{}, false
	}
	return best, true
}
