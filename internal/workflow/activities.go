// Package workflow hosts the orchestrator's activities and workflows
// (§4.7): small, independently-retriable activity functions and the
// composable, replayable workflows built on top of them. All business
// logic lives here; the workflow engine supplies scheduling and retry.
package workflow

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/reciperun/pipeline/internal/bus"
	"github.com/reciperun/pipeline/internal/cache"
	"github.com/reciperun/pipeline/internal/embed"
	"github.com/reciperun/pipeline/internal/feed"
	"github.com/reciperun/pipeline/internal/identity"
	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/parse/local"
	"github.com/reciperun/pipeline/internal/parse/modelassist"
	"github.com/reciperun/pipeline/internal/parse/repair"
	"github.com/reciperun/pipeline/internal/store/postgres"
)

// RecipeStore is the subset of internal/store/postgres.Store the
// activities depend on, so tests can substitute a fake.
type RecipeStore interface {
	Create(ctx context.Context, r *model.Recipe) (*postgres.CreateResult, error)
	Update(ctx context.Context, primaryKey int64, r *model.Recipe) error
	GetByPrimaryKey(ctx context.Context, primaryKey int64) (*model.Recipe, error)
	UpdateEmbedding(ctx context.Context, primaryKey int64, embedding []float32) error
	AllRecipes(ctx context.Context, offset, limit int) ([]*model.Recipe, error)
}

// SearchIndexer is the subset of internal/search.Indexer the activities
// depend on.
type SearchIndexer interface {
	BulkUpsert(ctx context.Context, batch []*model.Recipe) error
}

// Activities bundles the dependencies every activity method closes
// over. Workers register its methods as activities; tests construct one
// directly with fakes.
type Activities struct {
	Extractor       modelassist.Extractor
	Store           RecipeStore
	Search          SearchIndexer
	Idempotency     *cache.Idempotency
	ExtractionCache *postgres.ExtractionCacheStore
	StagingDir      string
	Poller          *feed.Poller
	Producer        *bus.Producer
	Consumer        *bus.Consumer
}

// CSVEntry is one row of a process-batch input file: a raw recipe
// fragment plus the source hint identity.Identifier mixes into the
// deterministic UUID.
type CSVEntry struct {
	SourceHint string
	RawText    string
}

// ReadCSVEntries loads every row of path as a CSVEntry. The file has no
// header; column 1 is the source hint (URL or post id), column 2 is the
// raw recipe text.
func ReadCSVEntries(path string) ([]CSVEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2

	var entries []CSVEntry
	for {
		record, err := reader.Read()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		entries = append(entries, CSVEntry{SourceHint: record[0], RawText: record[1]})
	}
	return entries, nil
}

// ReadCSV is the activity form of ReadCSVEntries.
func (a *Activities) ReadCSV(ctx context.Context, path string) ([]CSVEntry, error) {
	entries, err := ReadCSVEntries(path)
	if err != nil {
		return nil, &model.TransientError{Op: "read_csv", Err: err}
	}
	return entries, nil
}

// ExtractOneResult is the outcome of ExtractOne.
type ExtractOneResult struct {
	StagedPath string
	Skipped    bool
	Reason     string
}

// ExtractOne parses a single raw recipe fragment (via the local parser,
// or the model-assisted parser when useModel is set) and stages the
// result as `<identifier>.json` under StagingDir. Retrying with the
// same entry does not rewrite the staged file: the entry is parsed again
// to derive its identifier, and if `<identifier>.json` already holds that
// identifier the activity returns its path without writing (§4.7
// idempotency).
func (a *Activities) ExtractOne(ctx context.Context, entry CSVEntry, entryIndex int, useModel bool) (*ExtractOneResult, error) {
	var r *model.Recipe
	if useModel && a.Extractor != nil {
		if cached := a.cachedExtraction(ctx, entry.SourceHint); cached != nil {
			r = cached
		} else {
			r = modelassist.ExtractRecipe(ctx, a.Extractor, entry.RawText)
			a.saveExtraction(ctx, entry.SourceHint, r)
		}
	} else {
		r = local.Parse(entry.RawText)
		repair.Recipe(r)
	}
	r.RawText = entry.RawText
	if useModel {
		r.ParsedBy = model.ParsedByModel
	} else {
		r.ParsedBy = model.ParsedByLocal
	}

	sourceHint := entry.SourceHint
	if looksLikeURL(sourceHint) {
		sourceHint = model.NormalizeURL(sourceHint)
	}
	r.Identifier = identity.Identifier(r.Title, sourceHint)

	if err := r.Validate(); err != nil {
		return &ExtractOneResult{Skipped: true, Reason: err.Error()}, nil
	}

	stagedPath := filepath.Join(a.StagingDir, r.Identifier.String()+".json")
	if existing, err := os.ReadFile(stagedPath); err == nil {
		var prior model.Recipe
		if json.Unmarshal(existing, &prior) == nil && prior.Identifier == r.Identifier {
			return &ExtractOneResult{StagedPath: stagedPath}, nil
		}
	}

	if err := os.MkdirAll(a.StagingDir, 0o755); err != nil {
		return nil, &model.TransientError{Op: "extract_one", Err: err}
	}

	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(stagedPath, raw, 0o644); err != nil {
		return nil, &model.TransientError{Op: "extract_one", Err: err}
	}

	return &ExtractOneResult{StagedPath: stagedPath}, nil
}

// cachedExtraction returns a cached model-assisted result for sourceHint
// if one exists and hasn't expired, or nil on any miss. sourceHint that
// isn't a URL (e.g. a CSV row id) never hits the cache, since there is
// nothing to normalize and dedupe against.
func (a *Activities) cachedExtraction(ctx context.Context, sourceHint string) *model.Recipe {
	if a.ExtractionCache == nil || !looksLikeURL(sourceHint) {
		return nil
	}
	entry, err := a.ExtractionCache.GetByURL(ctx, sourceHint)
	if err != nil {
		return nil
	}
	return entry.Result
}

// saveExtraction persists a model-assisted result for sourceHint so a
// later extract_one against the same source skips the LLM call.
func (a *Activities) saveExtraction(ctx context.Context, sourceHint string, r *model.Recipe) {
	if a.ExtractionCache == nil || !looksLikeURL(sourceHint) {
		return
	}
	_ = a.ExtractionCache.Set(ctx, model.NewExtractionCache(sourceHint, r))
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// LoadOneResult is the outcome of LoadOne.
type LoadOneResult struct {
	PrimaryKey     int64
	AlreadyExisted bool
	Identifier     uuid.UUID
}

// LoadOne reads a staged file and inserts it into the store, applying
// the §4.5 dedup policy. Safe to retry: a unique-constraint race or a
// repeat delivery both resolve to AlreadyExisted=true, never an error.
func (a *Activities) LoadOne(ctx context.Context, stagedPath string) (*LoadOneResult, error) {
	raw, err := os.ReadFile(stagedPath)
	if err != nil {
		return nil, &model.TransientError{Op: "load_one", Err: err}
	}

	var r model.Recipe
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &model.ValidationError{Field: "staged_file", Reason: err.Error()}
	}

	result, err := a.Store.Create(ctx, &r)
	if err != nil {
		return nil, err
	}

	return &LoadOneResult{
		PrimaryKey:     result.PrimaryKey,
		AlreadyExisted: result.AlreadyExisted,
		Identifier:     result.Identifier,
	}, nil
}

// ReloadOneResult is the outcome of ReloadOne.
type ReloadOneResult struct {
	Success bool
}

// ReloadOne re-parses the staged file behind an already-loaded recipe
// from its original RawText and writes the result back over the store
// row, the re-parse step `reload-recipe` needs ahead of sync/embed.
// RawText is staging-only (never persisted to the store), so the staged
// `<identifier>.json` file is the only place it survives after load_one
// — reload can't work from the store row alone.
func (a *Activities) ReloadOne(ctx context.Context, primaryKey int64, identifier uuid.UUID) (*ReloadOneResult, error) {
	stagedPath := filepath.Join(a.StagingDir, identifier.String()+".json")

	raw, err := os.ReadFile(stagedPath)
	if err != nil {
		return nil, &model.TransientError{Op: "reload_one", Err: err}
	}

	var staged model.Recipe
	if err := json.Unmarshal(raw, &staged); err != nil {
		return nil, &model.ValidationError{Field: "staged_file", Reason: err.Error()}
	}
	if staged.RawText == "" {
		return nil, &model.ValidationError{Field: "staged_file", Reason: "staged recipe carries no raw_text to re-parse"}
	}

	reparsed := local.Parse(staged.RawText)
	repair.Recipe(reparsed)
	reparsed.RawText = staged.RawText
	reparsed.ParsedBy = model.ParsedByLocal
	reparsed.Identifier = identifier

	if err := reparsed.Validate(); err != nil {
		return nil, &model.ValidationError{Field: "reparsed_recipe", Reason: err.Error()}
	}

	if err := a.Store.Update(ctx, primaryKey, reparsed); err != nil {
		return nil, err
	}

	restaged, err := json.MarshalIndent(reparsed, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(stagedPath, restaged, 0o644); err != nil {
		return nil, &model.TransientError{Op: "reload_one", Err: err}
	}

	return &ReloadOneResult{Success: true}, nil
}

// SyncOneResult is the outcome of SyncOne.
type SyncOneResult struct {
	Success bool
	Skipped bool
}

// SyncOne indexes a single already-loaded recipe into search.
func (a *Activities) SyncOne(ctx context.Context, primaryKey int64) (*SyncOneResult, error) {
	r, err := a.Store.GetByPrimaryKey(ctx, primaryKey)
	if err != nil {
		if err == postgres.ErrNotFound {
			return &SyncOneResult{Skipped: true}, nil
		}
		return nil, err
	}

	if err := a.Search.BulkUpsert(ctx, []*model.Recipe{r}); err != nil {
		return nil, err
	}
	return &SyncOneResult{Success: true}, nil
}

// EmbedOneResult is the outcome of EmbedOne.
type EmbedOneResult struct {
	Success bool
}

// EmbedOne (re)generates and persists the embedding for an already
// loaded recipe. Per §4.4 this is best-effort: embedding generation
// never fails the pipeline, a record without one is still valid.
func (a *Activities) EmbedOne(ctx context.Context, primaryKey int64) (*EmbedOneResult, error) {
	r, err := a.Store.GetByPrimaryKey(ctx, primaryKey)
	if err != nil {
		return nil, err
	}

	vector := embed.ForRecipe(r)
	if err := a.Store.UpdateEmbedding(ctx, primaryKey, vector); err != nil {
		return &EmbedOneResult{Success: false}, nil
	}
	return &EmbedOneResult{Success: true}, nil
}

// ScrapeFeedOnceResult is the outcome of ScrapeFeedOnce.
type ScrapeFeedOnceResult struct {
	ItemsPublished int
}

// ScrapeFeedOnce reads recent items from sourceID and publishes each as
// a bus event.
func (a *Activities) ScrapeFeedOnce(ctx context.Context, sourceID string, limit int) (*ScrapeFeedOnceResult, error) {
	items, err := a.Poller.FetchRecent(ctx, sourceID, limit)
	if err != nil {
		return nil, &model.TransientError{Op: "scrape_feed_once", Err: err}
	}

	published := 0
	for _, item := range items {
		if err := a.Producer.Publish(ctx, item); err != nil {
			return &ScrapeFeedOnceResult{ItemsPublished: published}, &model.TransientError{Op: "scrape_feed_once", Err: err}
		}
		published++
	}
	return &ScrapeFeedOnceResult{ItemsPublished: published}, nil
}

// ConsumeBusBatchResult is the outcome of ConsumeBusBatch.
type ConsumeBusBatchResult struct {
	Processed  int
	Duplicates int
	Errors     int
}

// ConsumeBusBatch reads up to maxMessages from the feed topic and loads
// each into the store, committing an offset only after its handler
// succeeds. A single message's failure does not abort the batch (§7).
func (a *Activities) ConsumeBusBatch(ctx context.Context, maxMessages int) (*ConsumeBusBatchResult, error) {
	result := &ConsumeBusBatchResult{}

	err := a.Consumer.ConsumeBatch(ctx, maxMessages, func(event feed.Event) error {
		r := local.Parse(event.Text)
		repair.Recipe(r)
		r.SourceAuthor = event.Author
		r.Identifier = identity.Identifier(r.Title, event.Author)

		if err := r.Validate(); err != nil {
			result.Errors++
			return nil
		}

		if a.Idempotency != nil && a.Idempotency.SeenRecently(ctx, r.Identifier) {
			result.Duplicates++
			return nil
		}

		createResult, err := a.Store.Create(ctx, r)
		if err != nil {
			result.Errors++
			return fmt.Errorf("load from bus: %w", err)
		}

		if createResult.AlreadyExisted {
			result.Duplicates++
		} else {
			result.Processed++
		}
		if a.Idempotency != nil {
			a.Idempotency.MarkProcessed(ctx, r.Identifier)
		}
		return nil
	})
	if err != nil {
		return result, &model.TransientError{Op: "consume_bus_batch", Err: err}
	}
	return result, nil
}

// SyncBatchResult is the outcome of one sync_search page.
type SyncBatchResult struct {
	Count int
	Done  bool
}

// SyncBatch fetches one page of recipes from the store and bulk-upserts
// it into search, the per-batch step sync_search's workflow iterates.
func (a *Activities) SyncBatch(ctx context.Context, offset, limit int) (*SyncBatchResult, error) {
	batch, err := a.Store.AllRecipes(ctx, offset, limit)
	if err != nil {
		return nil, &model.TransientError{Op: "sync_search", Err: err}
	}
	if len(batch) == 0 {
		return &SyncBatchResult{Done: true}, nil
	}

	if err := a.Search.BulkUpsert(ctx, batch); err != nil {
		return nil, err
	}
	return &SyncBatchResult{Count: len(batch), Done: len(batch) < limit}, nil
}
