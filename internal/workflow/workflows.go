package workflow

import (
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// defaultActivityOptions applies the §4.7 retry policy: three attempts,
// exponential backoff 1s/4s/16s, jittered by the SDK's default
// coefficient, a 10 minute per-attempt timeout, and validation/schema
// errors excluded from retry entirely.
func defaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 4.0,
			MaximumInterval:    16 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				"ValidationError",
				"SchemaError",
			},
		},
	}
}

// BatchResult summarizes a process-batch or load-folder run.
type BatchResult struct {
	Processed int
	Skipped   int
	Failed    int
	Reasons   []string
}

func (b *BatchResult) recordSkip(reason string) {
	b.Skipped++
	b.Reasons = append(b.Reasons, reason)
}

func (b *BatchResult) recordFail(err error) {
	b.Failed++
	b.Reasons = append(b.Reasons, err.Error())
}

// ProcessBatchSequentialInput is the input to ProcessBatchSequential.
type ProcessBatchSequentialInput struct {
	CSVPath    string
	StartIndex int
	EndIndex   int
	PaceMillis int
	UseModel   bool
	ShouldLoad bool
}

// ProcessBatchSequential walks entries [StartIndex, EndIndex] of a CSV
// one at a time, extracting (and optionally loading) each, with a
// deterministic pace delay between activities so model-assisted
// extraction stays under provider rate limits.
func ProcessBatchSequential(ctx workflow.Context, in ProcessBatchSequentialInput) (*BatchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())
	result := &BatchResult{}

	var entries []CSVEntry
	if err := workflow.ExecuteActivity(ctx, activityNameReadCSV, in.CSVPath).Get(ctx, &entries); err != nil {
		return nil, err
	}

	pace := time.Duration(in.PaceMillis) * time.Millisecond
	for i := in.StartIndex; i <= in.EndIndex && i < len(entries); i++ {
		if i > in.StartIndex && pace > 0 {
			if err := workflow.Sleep(ctx, pace); err != nil {
				return result, err
			}
		}
		processEntry(ctx, entries[i], i, in.UseModel, in.ShouldLoad, result)
	}

	return result, nil
}

// ProcessBatchParallelInput is the input to ProcessBatchParallel.
type ProcessBatchParallelInput struct {
	CSVPath    string
	StartIndex int
	EndIndex   int
	Fanout     int
	UseModel   bool
	ShouldLoad bool
}

// ProcessBatchParallel partitions [StartIndex, EndIndex] into Fanout
// contiguous chunks and runs them concurrently. A failing chunk is
// recorded in the merged result but never cancels its siblings.
func ProcessBatchParallel(ctx workflow.Context, in ProcessBatchParallelInput) (*BatchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var entries []CSVEntry
	if err := workflow.ExecuteActivity(ctx, activityNameReadCSV, in.CSVPath).Get(ctx, &entries); err != nil {
		return nil, err
	}

	fanout := in.Fanout
	if fanout < 1 {
		fanout = 1
	}

	total := in.EndIndex - in.StartIndex + 1
	if total < 1 {
		return &BatchResult{}, nil
	}
	chunkSize := (total + fanout - 1) / fanout

	results := make([]*BatchResult, fanout)

	for c := 0; c < fanout; c++ {
		start := in.StartIndex + c*chunkSize
		end := start + chunkSize - 1
		if end > in.EndIndex {
			end = in.EndIndex
		}
		if start > end {
			results[c] = &BatchResult{}
			continue
		}

		chunkIndex := c
		workflow.Go(ctx, func(gctx workflow.Context) {
			chunkResult := &BatchResult{}
			for i := start; i <= end && i < len(entries); i++ {
				processEntry(gctx, entries[i], i, in.UseModel, in.ShouldLoad, chunkResult)
			}
			results[chunkIndex] = chunkResult
		})
	}

	// workflow.Go coroutines are cooperative: they advance only while the
	// workflow function blocks. Await yields until every chunk has
	// written its result, which is what drives them all to completion.
	if err := workflow.Await(ctx, func() bool {
		for c := 0; c < fanout; c++ {
			start := in.StartIndex + c*chunkSize
			if start > in.EndIndex {
				continue
			}
			if results[c] == nil {
				return false
			}
		}
		return true
	}); err != nil {
		return nil, err
	}

	merged := &BatchResult{}
	for _, r := range results {
		if r == nil {
			continue
		}
		merged.Processed += r.Processed
		merged.Skipped += r.Skipped
		merged.Failed += r.Failed
		merged.Reasons = append(merged.Reasons, r.Reasons...)
	}
	return merged, nil
}

func processEntry(ctx workflow.Context, entry CSVEntry, index int, useModel, shouldLoad bool, result *BatchResult) {
	var extracted ExtractOneResult
	if err := workflow.ExecuteActivity(ctx, activityNameExtractOne, entry, index, useModel).Get(ctx, &extracted); err != nil {
		result.recordFail(err)
		return
	}
	if extracted.Skipped {
		result.recordSkip(extracted.Reason)
		return
	}
	if !shouldLoad {
		result.Processed++
		return
	}

	var loaded LoadOneResult
	if err := workflow.ExecuteActivity(ctx, activityNameLoadOne, extracted.StagedPath).Get(ctx, &loaded); err != nil {
		result.recordFail(err)
		return
	}
	result.Processed++
}

// LoadFolderInput is the input to LoadFolder.
type LoadFolderInput struct {
	Paths  []string
	Fanout int
}

// LoadFolder loads a fixed list of already-staged files, fanned out the
// same way ProcessBatchParallel fans out CSV entries.
func LoadFolder(ctx workflow.Context, in LoadFolderInput) (*BatchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	fanout := in.Fanout
	if fanout < 1 {
		fanout = 1
	}
	if len(in.Paths) == 0 {
		return &BatchResult{}, nil
	}
	chunkSize := (len(in.Paths) + fanout - 1) / fanout

	results := make([]*BatchResult, fanout)
	for c := 0; c < fanout; c++ {
		start := c * chunkSize
		end := start + chunkSize
		if start >= len(in.Paths) {
			results[c] = &BatchResult{}
			continue
		}
		if end > len(in.Paths) {
			end = len(in.Paths)
		}

		chunkIndex, chunkPaths := c, in.Paths[start:end]
		workflow.Go(ctx, func(gctx workflow.Context) {
			chunkResult := &BatchResult{}
			for _, path := range chunkPaths {
				var loaded LoadOneResult
				if err := workflow.ExecuteActivity(gctx, activityNameLoadOne, path).Get(gctx, &loaded); err != nil {
					chunkResult.recordFail(err)
					continue
				}
				if loaded.AlreadyExisted {
					chunkResult.recordSkip("already exists")
					continue
				}
				chunkResult.Processed++
			}
			results[chunkIndex] = chunkResult
		})
	}

	if err := workflow.Await(ctx, func() bool {
		for _, r := range results {
			if r == nil {
				return false
			}
		}
		return true
	}); err != nil {
		return nil, err
	}

	merged := &BatchResult{}
	for _, r := range results {
		merged.Processed += r.Processed
		merged.Skipped += r.Skipped
		merged.Failed += r.Failed
		merged.Reasons = append(merged.Reasons, r.Reasons...)
	}
	return merged, nil
}

// SyncSearchInput is the input to SyncSearch.
type SyncSearchInput struct {
	BatchSize int
}

// SyncSearchResult summarizes a full sync_search run.
type SyncSearchResult struct {
	Synced int
}

// SyncSearch pages through the store in BatchSize chunks, bulk-upserting
// each page into search until a short page signals the end.
func SyncSearch(ctx workflow.Context, in SyncSearchInput) (*SyncSearchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	batchSize := in.BatchSize
	if batchSize < 1 {
		batchSize = 100
	}

	result := &SyncSearchResult{}
	offset := 0
	for {
		var batch SyncBatchResult
		if err := workflow.ExecuteActivity(ctx, activityNameSyncBatch, offset, batchSize).Get(ctx, &batch); err != nil {
			return result, err
		}
		result.Synced += batch.Count
		if batch.Done {
			break
		}
		offset += batchSize
	}
	return result, nil
}

// ScrapeFeedInput is the input to ScrapeFeed.
type ScrapeFeedInput struct {
	SourceID string
	Limit    int
}

// ScrapeFeedResult is the outcome of ScrapeFeed.
type ScrapeFeedResult struct {
	ItemsPublished int
}

// ScrapeFeed is a thin, schedulable wrapper over scrape_feed_once: the
// body a Schedule Controller schedule's action points at.
func ScrapeFeed(ctx workflow.Context, in ScrapeFeedInput) (*ScrapeFeedResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var res ScrapeFeedOnceResult
	if err := workflow.ExecuteActivity(ctx, activityNameScrapeFeedOnce, in.SourceID, in.Limit).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &ScrapeFeedResult{ItemsPublished: res.ItemsPublished}, nil
}

// ReloadRecipeInput is the input to ReloadRecipe.
type ReloadRecipeInput struct {
	PrimaryKey int64
	Identifier uuid.UUID
}

// ReloadRecipeResult is the outcome of ReloadRecipe.
type ReloadRecipeResult struct {
	Reparsed bool
	Synced   bool
	Embedded bool
}

// ReloadRecipe re-parses an already-loaded recipe's staged file, writes
// the re-parsed result back over the store row, then re-syncs and
// re-embeds it: the "re-parse staged file, load, sync" operation the
// `reload-recipe` CLI subcommand drives.
func ReloadRecipe(ctx workflow.Context, in ReloadRecipeInput) (*ReloadRecipeResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var reparsed ReloadOneResult
	if err := workflow.ExecuteActivity(ctx, activityNameReloadOne, in.PrimaryKey, in.Identifier).Get(ctx, &reparsed); err != nil {
		return nil, err
	}

	var synced SyncOneResult
	if err := workflow.ExecuteActivity(ctx, activityNameSyncOne, in.PrimaryKey).Get(ctx, &synced); err != nil {
		return nil, err
	}

	var embedded EmbedOneResult
	if err := workflow.ExecuteActivity(ctx, activityNameEmbedOne, in.PrimaryKey).Get(ctx, &embedded); err != nil {
		return nil, err
	}

	return &ReloadRecipeResult{Reparsed: reparsed.Success, Synced: synced.Success, Embedded: embedded.Success}, nil
}

// ConsumeFeedInput is the input to ConsumeFeed.
type ConsumeFeedInput struct {
	MaxMessages int
}

// ConsumeFeed is a thin, schedulable wrapper over consume_bus_batch, the
// counterpart to ScrapeFeed on the consumer side of the bus.
func ConsumeFeed(ctx workflow.Context, in ConsumeFeedInput) (*ConsumeBusBatchResult, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions())

	var res ConsumeBusBatchResult
	if err := workflow.ExecuteActivity(ctx, activityNameConsumeBatch, in.MaxMessages).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Activity registration names. Declared as constants rather than taking
// method values directly so workers and tests can refer to the same
// string without importing the Activities type.
const (
	activityNameReadCSV        = "ReadCSV"
	activityNameExtractOne     = "ExtractOne"
	activityNameLoadOne        = "LoadOne"
	activityNameReloadOne      = "ReloadOne"
	activityNameSyncOne        = "SyncOne"
	activityNameEmbedOne       = "EmbedOne"
	activityNameScrapeFeedOnce = "ScrapeFeedOnce"
	activityNameConsumeBatch   = "ConsumeBusBatch"
	activityNameSyncBatch      = "SyncBatch"
)
