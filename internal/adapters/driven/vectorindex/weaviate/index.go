// Package weaviate provides a vector index backed by Weaviate.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultClass        = "DeskragSegment"
	DefaultScheme       = "http"
	DefaultWriteTimeout = 10 * time.Second
)

// keyNamespace derives stable object IDs from segment keys.
var keyNamespace = uuid.MustParse("6f1c9a52-3b8e-4d0a-9c57-1e2f4b6d8a10")

// Config holds configuration for the Weaviate index.
type Config struct {
	// Host is the Weaviate host, with or without scheme.
	Host string

	// Scheme is http or https (default: http, or taken from Host).
	Scheme string

	// APIKey enables API key authentication when set.
	APIKey string

	// Class is the Weaviate class name (default: DeskragSegment). Rebuilt
	// generations live in classes derived from it.
	Class string

	// Dimensions is the fixed vector length (required).
	Dimensions int

	// Encoder, when set, makes New reject a class holding vectors from
	// another encoder.
	Encoder string

	// WriteTimeout bounds each write.
	WriteTimeout time.Duration
}

// Index stores segment vectors as Weaviate objects with external vectors.
// The live class is Class until a reindex promotes a generation class,
// recorded in the <Class>Active pointer object.
type Index struct {
	client       *weaviate.Client
	base         string
	class        string
	dims         int
	writeTimeout time.Duration
	nextSeq      atomic.Int64
}

// New connects to Weaviate, resolves the live class and creates it if it is
// missing. Stored vectors of another dimensionality or encoder are reported
// as *domain.DimensionMismatchError or *domain.EncoderMismatchError.
func New(ctx context.Context, cfg Config) (*Index, error) {
	idx, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	classes, err := idx.classes(ctx)
	if err != nil {
		return nil, err
	}
	if idx.class, err = idx.activeClass(ctx, classes); err != nil {
		return nil, err
	}
	if !classes[idx.class] {
		if err := idx.createClass(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	}
	if err := idx.checkStored(ctx, cfg.Encoder); err != nil {
		return nil, err
	}
	return idx, nil
}

func connect(cfg Config) (*Index, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate: host is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("weaviate: dimensions must be positive")
	}
	if cfg.Class == "" {
		cfg.Class = DefaultClass
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	scheme, host := splitHost(cfg.Host, cfg.Scheme)
	clientCfg := weaviate.Config{Host: host, Scheme: scheme}
	if cfg.APIKey != "" {
		clientCfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", domain.ErrVectorIndexUnavailable, err)
	}

	idx := &Index{
		client:       client,
		base:         cfg.Class,
		class:        cfg.Class,
		dims:         cfg.Dimensions,
		writeTimeout: cfg.WriteTimeout,
	}
	// Sequences only need to increase; nanosecond time survives restarts.
	idx.nextSeq.Store(time.Now().UnixNano())
	return idx, nil
}

// splitHost separates a scheme prefix from host.
func splitHost(host, scheme string) (string, string) {
	for _, s := range []string{"https", "http"} {
		if strings.HasPrefix(host, s+"://") {
			return s, strings.TrimPrefix(host, s+"://")
		}
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	return scheme, host
}

func (idx *Index) classDefinition() *models.Class {
	return &models.Class{
		Class:           idx.class,
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "segmentKey", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"text"}},
			{Name: "pageNumber", DataType: []string{"int"}},
			{Name: "segmentIndex", DataType: []string{"int"}},
			{Name: "kind", DataType: []string{"text"}},
			{Name: "encoder", DataType: []string{"text"}},
			{Name: "seq", DataType: []string{"int"}},
		},
	}
}

func (idx *Index) classes(ctx context.Context) (map[string]bool, error) {
	schema, err := idx.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get schema: %v", domain.ErrVectorIndexUnavailable, err)
	}
	out := make(map[string]bool, len(schema.Classes))
	for _, class := range schema.Classes {
		out[class.Class] = true
	}
	return out, nil
}

func (idx *Index) createClass(ctx context.Context) error {
	if err := idx.client.Schema().ClassCreator().WithClass(idx.classDefinition()).Do(ctx); err != nil {
		return fmt.Errorf("create %s class: %w", idx.class, err)
	}
	return nil
}

// checkStored compares one stored object against the configured vector
// length and encoder.
func (idx *Index) checkStored(ctx context.Context, encoder string) error {
	obj, err := idx.firstObject(ctx, nil, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}})
	if err != nil || obj == nil {
		return err
	}
	if additional, ok := obj["_additional"].(map[string]interface{}); ok {
		if vec, ok := additional["vector"].([]interface{}); ok && len(vec) > 0 && len(vec) != idx.dims {
			return &domain.DimensionMismatchError{Expected: len(vec), Got: idx.dims}
		}
	}

	if encoder == "" {
		return nil
	}
	where := filters.Where().
		WithPath([]string{"encoder"}).
		WithOperator(filters.NotEqual).
		WithValueText(encoder)
	obj, err = idx.firstObject(ctx, where, graphql.Field{Name: "encoder"})
	if err != nil || obj == nil {
		return err
	}
	stored, _ := obj["encoder"].(string)
	return &domain.EncoderMismatchError{Stored: stored, Current: encoder}
}

func (idx *Index) firstObject(
	ctx context.Context,
	where *filters.WhereBuilder,
	fields ...graphql.Field,
) (map[string]interface{}, error) {
	get := idx.client.GraphQL().Get().
		WithClassName(idx.class).
		WithFields(fields...).
		WithLimit(1)
	if where != nil {
		get = get.WithWhere(where)
	}
	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrVectorIndexUnavailable, idx.class, err)
	}
	if err := queryError("read "+idx.class, result.Errors); err != nil {
		return nil, err
	}
	items := classItems(result.Data, idx.class)
	if len(items) == 0 {
		return nil, nil
	}
	obj, _ := items[0].(map[string]interface{})
	return obj, nil
}

func classItems(data map[string]models.JSONObject, class string) []interface{} {
	getData, _ := data["Get"].(map[string]interface{})
	items, _ := getData[class].([]interface{})
	return items
}

// ObjectID returns the Weaviate object ID for a segment key.
func ObjectID(key domain.SegmentKey) string {
	return uuid.NewSHA1(keyNamespace, []byte(key.String())).String()
}

// Upsert inserts or replaces the entry for entry.Key, keeping the stored
// sequence of an existing object.
func (idx *Index) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	if entry.Key.IsZero() {
		return fmt.Errorf("%w: index entry has no key", domain.ErrInvalidInput)
	}
	if len(entry.Vector) != idx.dims {
		return &domain.DimensionMismatchError{Expected: idx.dims, Got: len(entry.Vector), Key: entry.Key}
	}

	ctx, cancel := context.WithTimeout(ctx, idx.writeTimeout)
	defer cancel()

	id := ObjectID(entry.Key)
	seq, exists, err := idx.storedSeq(ctx, id)
	if err != nil {
		return idx.writeError(ctx, err)
	}
	if !exists {
		seq = idx.nextSeq.Add(1)
	}

	props := properties(entry, seq)
	if exists {
		err = idx.client.Data().Updater().
			WithClassName(idx.class).
			WithID(id).
			WithProperties(props).
			WithVector(entry.Vector).
			Do(ctx)
	} else {
		_, err = idx.client.Data().Creator().
			WithClassName(idx.class).
			WithID(id).
			WithProperties(props).
			WithVector(entry.Vector).
			Do(ctx)
	}
	if err != nil {
		return idx.writeError(ctx, err)
	}
	return nil
}

func (idx *Index) storedSeq(ctx context.Context, id string) (int64, bool, error) {
	objects, err := idx.client.Data().ObjectsGetter().
		WithClassName(idx.class).
		WithID(id).
		Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(objects) == 0 {
		return 0, false, nil
	}
	props, ok := objects[0].Properties.(map[string]interface{})
	if !ok {
		return 0, false, nil
	}
	return toInt64(props["seq"]), true, nil
}

func properties(entry domain.IndexEntry, seq int64) map[string]interface{} {
	return map[string]interface{}{
		"segmentKey":   entry.Key.String(),
		"documentId":   entry.Key.DocumentID,
		"pageNumber":   entry.Key.PageNumber,
		"segmentIndex": entry.Key.SegmentIndex,
		"kind":         string(entry.Metadata.Kind),
		"encoder":      entry.Metadata.Encoder,
		"seq":          seq,
	}
}

func (idx *Index) writeError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: "index_write", After: idx.writeTimeout}
	}
	return fmt.Errorf("weaviate write: %w", err)
}

func isNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}

var hitFields = []graphql.Field{
	{Name: "segmentKey"},
	{Name: "kind"},
	{Name: "encoder"},
	{Name: "seq"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
}

// Search runs a nearVector query and orders hits by distance then
// sequence. When scores tie at the k-th hit the query is widened so an
// earlier-inserted tie beyond the first page is not lost.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != idx.dims {
		return nil, &domain.DimensionMismatchError{Expected: idx.dims, Got: len(query)}
	}

	limit := k
	for {
		items, err := idx.nearVector(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		ranked, err := rankHits(items)
		if err != nil {
			return nil, err
		}
		if len(items) < limit || !tiedPastK(ranked, k) {
			return topHits(ranked, k), nil
		}
		limit *= 2
	}
}

func (idx *Index) nearVector(ctx context.Context, query []float32, limit int) ([]interface{}, error) {
	result, err := idx.client.GraphQL().Get().
		WithClassName(idx.class).
		WithFields(hitFields...).
		WithNearVector(idx.client.GraphQL().NearVectorArgBuilder().WithVector(query)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrVectorIndexUnavailable, err)
	}
	if err := queryError("search", result.Errors); err != nil {
		return nil, err
	}
	return classItems(result.Data, idx.class), nil
}

// queryError turns GraphQL errors into an unavailable index error.
func queryError(op string, errs []*models.GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrVectorIndexUnavailable, op, strings.Join(msgs, "; "))
}

type rankedHit struct {
	hit driven.VectorHit
	seq int64
}

// tiedPastK reports whether the last fetched hit scores the same as the
// k-th, so more ties may follow. Zero-similarity ties are not chased.
func tiedPastK(ranked []rankedHit, k int) bool {
	if len(ranked) < k || k == 0 {
		return false
	}
	kth := ranked[k-1].hit.Similarity
	return kth > 0 && ranked[len(ranked)-1].hit.Similarity == kth
}

func topHits(ranked []rankedHit, k int) []driven.VectorHit {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	hits := make([]driven.VectorHit, len(ranked))
	for i, r := range ranked {
		hits[i] = r.hit
	}
	return hits
}

// parseHits converts GraphQL items to hits ordered by similarity then sequence.
func parseHits(items []interface{}) ([]driven.VectorHit, error) {
	ranked, err := rankHits(items)
	if err != nil {
		return nil, err
	}
	return topHits(ranked, len(ranked)), nil
}

func rankHits(items []interface{}) ([]rankedHit, error) {
	ranked := make([]rankedHit, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		keyStr, _ := obj["segmentKey"].(string)
		key, err := domain.ParseSegmentKey(keyStr)
		if err != nil {
			return nil, fmt.Errorf("weaviate hit: %w", err)
		}
		kind, _ := obj["kind"].(string)
		encoder, _ := obj["encoder"].(string)

		distance := 1.0
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				distance = d
			}
		}

		ranked = append(ranked, rankedHit{
			hit: driven.VectorHit{
				Key:        key,
				Similarity: clamp(1 - distance),
				Metadata: domain.EntryMetadata{
					DocumentID: key.DocumentID,
					PageNumber: key.PageNumber,
					Kind:       domain.SegmentKind(kind),
					Encoder:    encoder,
				},
			},
			seq: toInt64(obj["seq"]),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].hit.Similarity != ranked[j].hit.Similarity {
			return ranked[i].hit.Similarity > ranked[j].hit.Similarity
		}
		return ranked[i].seq < ranked[j].seq
	})
	return ranked, nil
}

// Remove deletes the object for key. Missing objects are ignored.
func (idx *Index) Remove(ctx context.Context, key domain.SegmentKey) error {
	ctx, cancel := context.WithTimeout(ctx, idx.writeTimeout)
	defer cancel()

	err := idx.client.Data().Deleter().
		WithClassName(idx.class).
		WithID(ObjectID(key)).
		Do(ctx)
	if err != nil && !isNotFound(err) {
		return idx.writeError(ctx, err)
	}
	return nil
}

// Has reports whether an object exists for key.
func (idx *Index) Has(ctx context.Context, key domain.SegmentKey) (bool, error) {
	ok, err := idx.client.Data().Checker().
		WithClassName(idx.class).
		WithID(ObjectID(key)).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", domain.ErrVectorIndexUnavailable, err)
	}
	return ok, nil
}

// Dimensions returns the fixed vector length.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Len returns the object count, or 0 if the aggregate query fails.
// Search reports backend failures.
func (idx *Index) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), idx.writeTimeout)
	defer cancel()

	result, err := idx.client.GraphQL().Aggregate().
		WithClassName(idx.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil || len(result.Errors) > 0 {
		return 0
	}
	return parseCount(result.Data, idx.class)
}

func parseCount(data map[string]models.JSONObject, class string) int {
	agg, _ := data["Aggregate"].(map[string]interface{})
	groups, _ := agg[class].([]interface{})
	if len(groups) == 0 {
		return 0
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	return int(toInt64(meta["count"]))
}

// Close releases resources.
func (idx *Index) Close() error {
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func clamp(sim float64) float64 {
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}
