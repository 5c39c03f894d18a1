package workflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

// fakeActivities lets workflow tests stub extract_one/load_one without a
// live worker, database, or model provider.
type fakeActivities struct {
	extractResults map[int]*ExtractOneResult
}

func (f *fakeActivities) ReadCSV(ctx context.Context, path string) ([]CSVEntry, error) {
	return []CSVEntry{
		{SourceHint: "a", RawText: "recipe one"},
		{SourceHint: "b", RawText: "recipe two"},
		{SourceHint: "c", RawText: "not a recipe at all"},
		{SourceHint: "d", RawText: "recipe four"},
		{SourceHint: "e", RawText: "recipe five"},
	}, nil
}

func (f *fakeActivities) ExtractOne(ctx context.Context, entry CSVEntry, entryIndex int, useModel bool) (*ExtractOneResult, error) {
	if r, ok := f.extractResults[entryIndex]; ok {
		return r, nil
	}
	return &ExtractOneResult{StagedPath: entry.SourceHint + ".json"}, nil
}

func (f *fakeActivities) LoadOne(ctx context.Context, stagedPath string) (*LoadOneResult, error) {
	return &LoadOneResult{PrimaryKey: int64(len(stagedPath))}, nil
}

// newE1FakeActivities mirrors scenario E1: 5 rows, one non-recipe post
// that the extractor rejects for too few ingredients.
func newE1FakeActivities() *fakeActivities {
	return &fakeActivities{
		extractResults: map[int]*ExtractOneResult{
			2: {Skipped: true, Reason: "too few valid ingredients"},
		},
	}
}

func TestProcessBatchParallelWithLoadMatchesE1(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	fake := newE1FakeActivities()
	env.RegisterActivityWithOptions(fake.ReadCSV, activity.RegisterOptions{Name: activityNameReadCSV})
	env.RegisterActivityWithOptions(fake.ExtractOne, activity.RegisterOptions{Name: activityNameExtractOne})
	env.RegisterActivityWithOptions(fake.LoadOne, activity.RegisterOptions{Name: activityNameLoadOne})

	env.ExecuteWorkflow(ProcessBatchParallel, ProcessBatchParallelInput{
		CSVPath:    "entries.csv",
		StartIndex: 0,
		EndIndex:   4,
		Fanout:     5,
		ShouldLoad: true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	require.Equal(t, 4, result.Processed)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 0, result.Failed)
	require.Contains(t, result.Reasons, "too few valid ingredients")
}

func TestProcessBatchSequentialPacesBetweenEntries(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	fake := &fakeActivities{}
	env.RegisterActivityWithOptions(fake.ReadCSV, activity.RegisterOptions{Name: activityNameReadCSV})
	env.RegisterActivityWithOptions(fake.ExtractOne, activity.RegisterOptions{Name: activityNameExtractOne})
	env.RegisterActivityWithOptions(fake.LoadOne, activity.RegisterOptions{Name: activityNameLoadOne})

	env.ExecuteWorkflow(ProcessBatchSequential, ProcessBatchSequentialInput{
		CSVPath:    "entries.csv",
		StartIndex: 0,
		EndIndex:   1,
		PaceMillis: 1200,
		ShouldLoad: true,
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result BatchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 2, result.Processed)
}

func TestSyncSearchStopsOnShortPage(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	calls := 0
	env.RegisterActivityWithOptions(func(ctx context.Context, offset, limit int) (*SyncBatchResult, error) {
		calls++
		if offset == 0 {
			return &SyncBatchResult{Count: limit}, nil
		}
		return &SyncBatchResult{Count: 3, Done: true}, nil
	}, activity.RegisterOptions{Name: activityNameSyncBatch})

	env.ExecuteWorkflow(SyncSearch, SyncSearchInput{BatchSize: 10})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SyncSearchResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, 13, result.Synced)
	require.Equal(t, 2, calls)
}

func TestReloadRecipeRunsReparseBeforeSyncAndEmbed(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	var calls []string
	id := uuid.MustParse("6c9a6f3e-6e1d-4f0a-9c2e-1c9b8e7d5a3f")

	env.RegisterActivityWithOptions(func(ctx context.Context, primaryKey int64, identifier uuid.UUID) (*ReloadOneResult, error) {
		calls = append(calls, "reload")
		require.Equal(t, id, identifier)
		return &ReloadOneResult{Success: true}, nil
	}, activity.RegisterOptions{Name: activityNameReloadOne})

	env.RegisterActivityWithOptions(func(ctx context.Context, primaryKey int64) (*SyncOneResult, error) {
		calls = append(calls, "sync")
		return &SyncOneResult{Success: true}, nil
	}, activity.RegisterOptions{Name: activityNameSyncOne})

	env.RegisterActivityWithOptions(func(ctx context.Context, primaryKey int64) (*EmbedOneResult, error) {
		calls = append(calls, "embed")
		return &EmbedOneResult{Success: true}, nil
	}, activity.RegisterOptions{Name: activityNameEmbedOne})

	env.ExecuteWorkflow(ReloadRecipe, ReloadRecipeInput{PrimaryKey: 42, Identifier: id})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ReloadRecipeResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Reparsed)
	require.True(t, result.Synced)
	require.True(t, result.Embedded)
	require.Equal(t, []string{"reload", "sync", "embed"}, calls)
}
