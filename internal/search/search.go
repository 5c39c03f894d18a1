// Package search is the search indexer (§4.6): mapping setup, bulk
// indexing, and hybrid lexical+vector query assembly against
// Elasticsearch.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/olivere/elastic/v7"

	"github.com/reciperun/pipeline/internal/embed"
	"github.com/reciperun/pipeline/internal/model"
)

// DefaultBatchSize is the bulk_upsert batch size on small boxes; sync jobs
// may pass up to 1000-2000.
const DefaultBatchSize = 100

// Mode selects how Query assembles its request.
type Mode string

const (
	ModeText     Mode = "text"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Indexer wraps an Elasticsearch client bound to a single recipe index.
type Indexer struct {
	client    *elastic.Client
	indexName string
}

// New wraps an already-constructed *elastic.Client.
func New(client *elastic.Client, indexName string) *Indexer {
	return &Indexer{client: client, indexName: indexName}
}

// mapping matches §4.6: analyzed title with a keyword sub-field, analyzed
// description and instructions, a nested ingredients object, keyword
// fields for categorical metadata, numeric fields for timings and
// scores, and a dense vector field for the embedding.
const mapping = `{
	"mappings": {
		"properties": {
			"title": {
				"type": "text",
				"fields": {"keyword": {"type": "keyword"}}
			},
			"description": {"type": "text"},
			"instructions": {"type": "text"},
			"ingredients": {
				"type": "nested",
				"properties": {
					"name": {
						"type": "text",
						"fields": {"keyword": {"type": "keyword"}}
					}
				}
			},
			"difficulty": {"type": "keyword"},
			"cuisine_type": {"type": "keyword"},
			"meal_type": {"type": "keyword"},
			"dietary_tags": {"type": "keyword"},
			"prep_minutes": {"type": "integer"},
			"cook_minutes": {"type": "integer"},
			"total_minutes": {"type": "integer"},
			"source_score": {"type": "integer"},
			"source_comments_count": {"type": "integer"},
			"embedding": {
				"type": "dense_vector",
				"dims": 384
			}
		}
	}
}`

// EnsureIndex creates the index if it doesn't already exist. It never
// mutates an existing index in place — a destructive refresh is only
// ever done through RecreateIndex, which is explicit.
func (idx *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := idx.client.IndexExists(idx.indexName).Do(ctx)
	if err != nil {
		return &model.TransientError{Op: "search.ensure_index", Err: err}
	}
	if exists {
		return nil
	}

	_, err = idx.client.CreateIndex(idx.indexName).BodyString(mapping).Do(ctx)
	if err != nil {
		return &model.TransientError{Op: "search.ensure_index", Err: err}
	}
	return nil
}

// RecreateIndex deletes and recreates the index, losing all documents.
// Administrative tooling only — sync never calls this implicitly.
func (idx *Indexer) RecreateIndex(ctx context.Context) error {
	exists, err := idx.client.IndexExists(idx.indexName).Do(ctx)
	if err != nil {
		return &model.TransientError{Op: "search.recreate_index", Err: err}
	}
	if exists {
		if _, err := idx.client.DeleteIndex(idx.indexName).Do(ctx); err != nil {
			return &model.TransientError{Op: "search.recreate_index", Err: err}
		}
	}
	return idx.EnsureIndex(ctx)
}

// document is the indexed shape: the nested ingredients field needs its
// own name-bearing view rather than the full RecipeIngredient struct.
type document struct {
	Title               string              `json:"title"`
	Description         string              `json:"description,omitempty"`
	Instructions        []string            `json:"instructions,omitempty"`
	Ingredients         []ingredientDoc     `json:"ingredients,omitempty"`
	Difficulty          string              `json:"difficulty,omitempty"`
	CuisineType         string              `json:"cuisine_type,omitempty"`
	MealType            string              `json:"meal_type,omitempty"`
	DietaryTags         []string            `json:"dietary_tags,omitempty"`
	PrepMinutes         *int                `json:"prep_minutes,omitempty"`
	CookMinutes         *int                `json:"cook_minutes,omitempty"`
	TotalMinutes        *int                `json:"total_minutes,omitempty"`
	SourceScore         *int                `json:"source_score,omitempty"`
	SourceCommentsCount *int                `json:"source_comments_count,omitempty"`
	Embedding           []float32           `json:"embedding,omitempty"`
}

type ingredientDoc struct {
	Name string `json:"name"`
}

func toDocument(r *model.Recipe) document {
	ingredients := make([]ingredientDoc, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		ingredients = append(ingredients, ingredientDoc{Name: ing.Item})
	}

	embedding := r.Embedding
	if len(embedding) == 0 {
		embedding = embed.ForRecipe(r)
	}

	return document{
		Title:               r.Title,
		Description:         r.Description,
		Instructions:        r.Instructions,
		Ingredients:         ingredients,
		Difficulty:          string(r.Difficulty),
		CuisineType:         r.CuisineType,
		MealType:            string(r.MealType),
		DietaryTags:         r.DietaryTags,
		PrepMinutes:         r.PrepMinutes,
		CookMinutes:         r.CookMinutes,
		TotalMinutes:        r.TotalMinutes,
		SourceScore:         r.SourceScore,
		SourceCommentsCount: r.SourceCommentsCount,
		Embedding:           embedding,
	}
}

// BulkUpsert indexes batch in a single bulk request, using each recipe's
// identifier as the document _id.
func (idx *Indexer) BulkUpsert(ctx context.Context, batch []*model.Recipe) error {
	if len(batch) == 0 {
		return nil
	}

	bulk := idx.client.Bulk().Index(idx.indexName)
	for _, r := range batch {
		doc := toDocument(r)
		req := elastic.NewBulkIndexRequest().Id(r.Identifier.String()).Doc(doc)
		bulk = bulk.Add(req)
	}

	resp, err := bulk.Do(ctx)
	if err != nil {
		return &model.TransientError{Op: "search.bulk_upsert", Err: err}
	}
	if resp.Errors {
		return &model.TransientError{Op: "search.bulk_upsert", Err: fmt.Errorf("%d of %d documents failed", len(resp.Failed()), len(batch))}
	}
	return nil
}

// SyncResult reports the outcome of SyncAll.
type SyncResult struct {
	Success int
	Skipped int
	Failed  int
}

// RecipeSource supplies the recipes SyncAll streams in batches; the store
// adapter implements this in production, a fake implements it in tests.
type RecipeSource interface {
	AllRecipes(ctx context.Context, offset, limit int) ([]*model.Recipe, error)
}

// SyncAll streams every recipe from source in batches of batchSize and
// bulk-upserts each batch. It never deletes — administrative tooling
// handles compaction separately.
func (idx *Indexer) SyncAll(ctx context.Context, source RecipeSource, batchSize int) (*SyncResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	result := &SyncResult{}
	offset := 0
	for {
		batch, err := source.AllRecipes(ctx, offset, batchSize)
		if err != nil {
			return result, &model.TransientError{Op: "search.sync_all", Err: err}
		}
		if len(batch) == 0 {
			break
		}

		if err := idx.BulkUpsert(ctx, batch); err != nil {
			result.Failed += len(batch)
		} else {
			result.Success += len(batch)
		}

		offset += len(batch)
		if len(batch) < batchSize {
			break
		}
	}
	return result, nil
}

// DefaultHybridKNNBoost is the weight given to the vector clause relative
// to the text clause in a hybrid query when the caller doesn't set one.
const DefaultHybridKNNBoost = 0.5

// Query assembles and runs a text, semantic, or hybrid search request.
type Query struct {
	Text           string
	SemanticVector []float32
	Mode           Mode
	DifficultyEq   string
	MealTypeEq     string
	HybridBoost    float64
	From           int
	Size           int
}

// Result is one ranked hit.
type Result struct {
	Identifier string
	Score      float64
}

// Run executes q against the index.
func (idx *Indexer) Run(ctx context.Context, q Query) ([]Result, error) {
	if q.Size <= 0 {
		q.Size = 10
	}

	var esQuery elastic.Query
	switch q.Mode {
	case ModeText:
		esQuery = textQuery(q)
	case ModeSemantic:
		return idx.runKNN(ctx, q)
	case ModeHybrid:
		return idx.runHybrid(ctx, q)
	default:
		esQuery = textQuery(q)
	}

	search := idx.client.Search().Index(idx.indexName).Query(esQuery).From(q.From).Size(q.Size)
	resp, err := search.Do(ctx)
	if err != nil {
		return nil, &model.TransientError{Op: "search.query", Err: err}
	}
	return toResults(resp), nil
}

func textQuery(q Query) elastic.Query {
	bq := elastic.NewBoolQuery()
	if q.Text != "" {
		bq = bq.Must(elastic.NewMultiMatchQuery(q.Text, "title^2", "description", "ingredients.name"))
	}
	if q.DifficultyEq != "" {
		bq = bq.Filter(elastic.NewTermQuery("difficulty", q.DifficultyEq))
	}
	if q.MealTypeEq != "" {
		bq = bq.Filter(elastic.NewTermQuery("meal_type", q.MealTypeEq))
	}
	return bq
}

// hybridTextClause is the lexical half of a hybrid query: the match is a
// `should`, not a `must`, so a document the vector clause surfaces but
// the text clause doesn't match at all can still be returned (per §4.6,
// "text clause within a bool.should plus a kNN clause").
func hybridTextClause(q Query) elastic.Query {
	bq := elastic.NewBoolQuery()
	if q.Text != "" {
		bq = bq.Should(elastic.NewMultiMatchQuery(q.Text, "title^2", "description", "ingredients.name"))
	}
	if q.DifficultyEq != "" {
		bq = bq.Filter(elastic.NewTermQuery("difficulty", q.DifficultyEq))
	}
	if q.MealTypeEq != "" {
		bq = bq.Filter(elastic.NewTermQuery("meal_type", q.MealTypeEq))
	}
	return bq
}

// runHybrid combines the lexical bool.should clause with a kNN clause
// over embedding, the kNN clause carrying an adjustable boost so callers
// can tune how much weight semantic similarity gets relative to lexical
// match (§4.6, Testable Property 7, scenario E5).
func (idx *Indexer) runHybrid(ctx context.Context, q Query) ([]Result, error) {
	candidatePool := q.Size * 10
	if candidatePool < 100 {
		candidatePool = 100
	}
	boost := q.HybridBoost
	if boost <= 0 {
		boost = DefaultHybridKNNBoost
	}

	textSource, err := hybridTextClause(q).Source()
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"query": textSource,
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   q.SemanticVector,
			"k":              q.Size,
			"num_candidates": candidatePool,
			"boost":          boost,
		},
		"from": q.From,
		"size": q.Size,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := idx.client.Search().Index(idx.indexName).Source(json.RawMessage(raw)).Do(ctx)
	if err != nil {
		return nil, &model.TransientError{Op: "search.query", Err: err}
	}
	return toResults(resp), nil
}

// runKNN performs a semantic search: a kNN clause over embedding with a
// candidate pool of at least 100, per §4.6.
func (idx *Indexer) runKNN(ctx context.Context, q Query) ([]Result, error) {
	candidatePool := q.Size * 10
	if candidatePool < 100 {
		candidatePool = 100
	}

	body := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   q.SemanticVector,
			"k":              q.Size,
			"num_candidates": candidatePool,
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := idx.client.Search().Index(idx.indexName).Source(json.RawMessage(raw)).Do(ctx)
	if err != nil {
		return nil, &model.TransientError{Op: "search.query", Err: err}
	}
	return toResults(resp), nil
}

func toResults(resp *elastic.SearchResult) []Result {
	out := make([]Result, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		score := 0.0
		if hit.Score != nil {
			score = *hit.Score
		}
		out = append(out, Result{Identifier: hit.Id, Score: score})
	}
	return out
}
