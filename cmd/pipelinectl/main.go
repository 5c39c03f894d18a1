// Package main is pipelinectl, the operator CLI for the recipe pipeline:
// one subcommand per orchestrator workflow, plus a handful of read-only
// commands (get-by-identifier, search, stats) that talk to the store and
// search index directly rather than through the workflow engine.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/olivere/elastic/v7"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/reciperun/pipeline/internal/config"
	"github.com/reciperun/pipeline/internal/embed"
	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/schedule"
	"github.com/reciperun/pipeline/internal/search"
	"github.com/reciperun/pipeline/internal/store/postgres"
	pipelineworkflow "github.com/reciperun/pipeline/internal/workflow"
)

func main() {
	os.Exit(run())
}

// run builds the command tree and maps the error RunE returns to one of
// the four exit codes §6/§7 define: 0 success, 1 unrecoverable, 2
// validation failure, 3 external-service unavailable.
func run() int {
	root := newRootCmd()
	err := root.Execute()
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var vErr *model.ValidationError
	var svcErr *model.ServiceUnavailableError
	switch {
	case asValidation(err, &vErr):
		fmt.Fprintln(os.Stderr, err)
		return 2
	case asServiceUnavailable(err, &svcErr):
		fmt.Fprintln(os.Stderr, err)
		return 3
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}

func asValidation(err error, target **model.ValidationError) bool {
	v, ok := err.(*model.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func asServiceUnavailable(err error, target **model.ServiceUnavailableError) bool {
	v, ok := err.(*model.ServiceUnavailableError)
	if ok {
		*target = v
	}
	return ok
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Operate the recipe ingestion and enrichment pipeline",
	}

	root.AddCommand(
		newProcessBatchCmd(),
		newLoadFolderCmd(),
		newSyncSearchCmd(),
		newReloadRecipeCmd(),
		newGetByIdentifierCmd(),
		newSearchCmd(),
		newStatsCmd(),
		newScheduleCmd(),
	)
	return root
}

// dialTemporal connects to the workflow engine, wrapping a dial failure
// as a ServiceUnavailableError (exit code 3) rather than a generic one.
func dialTemporal(cfg *config.Config) (client.Client, error) {
	c, err := client.Dial(client.Options{HostPort: cfg.TemporalHostPort})
	if err != nil {
		return nil, &model.ServiceUnavailableError{Service: "temporal", Err: err}
	}
	return c, nil
}

func connectStore(cfg *config.Config) (*postgres.Store, *sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, &model.ServiceUnavailableError{Service: "postgres", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, &model.ServiceUnavailableError{Service: "postgres", Err: err}
	}
	return postgres.New(db), db, nil
}

func connectIndexer(cfg *config.Config) (*search.Indexer, error) {
	esClient, err := elastic.NewClient(elastic.SetURL(cfg.ElasticsearchURL), elastic.SetSniff(false))
	if err != nil {
		return nil, &model.ServiceUnavailableError{Service: "elasticsearch", Err: err}
	}
	return search.New(esClient, "recipes"), nil
}

// runWorkflowAndPrint starts wf with input, blocks for its result into
// out, and prints out as JSON on success.
func runWorkflowAndPrint(cfg *config.Config, workflowID string, wf interface{}, input interface{}, out interface{}) error {
	c, err := dialTemporal(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	started := time.Now()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.TemporalTaskQueue,
	}, wf, input)
	if err != nil {
		return &model.ServiceUnavailableError{Service: "temporal", Err: err}
	}

	if err := run.Get(ctx, out); err != nil {
		return fmt.Errorf("workflow %s failed: %w", workflowID, err)
	}

	printJSON(map[string]interface{}{
		"workflow_id": workflowID,
		"elapsed":     time.Since(started).String(),
		"result":      out,
	})
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func newProcessBatchCmd() *cobra.Command {
	var useModel bool
	var paceMillis int
	var fanout int
	var shouldLoad bool

	cmd := &cobra.Command{
		Use:   "process-batch <csv> <start> <end>",
		Short: "Extract (and optionally load) a range of CSV entries",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			csvPath := args[0]
			start, err := parseInt(args[1])
			if err != nil {
				return &model.ValidationError{Field: "start", Reason: err.Error()}
			}
			end, err := parseInt(args[2])
			if err != nil {
				return &model.ValidationError{Field: "end", Reason: err.Error()}
			}

			workflowID := fmt.Sprintf("process-batch-%d-%d-%d", time.Now().Unix(), start, end)

			if fanout > 1 {
				in := pipelineworkflow.ProcessBatchParallelInput{
					CSVPath: csvPath, StartIndex: start, EndIndex: end,
					Fanout: fanout, UseModel: useModel, ShouldLoad: shouldLoad,
				}
				var out pipelineworkflow.BatchResult
				return runWorkflowAndPrint(cfg, workflowID, pipelineworkflow.ProcessBatchParallel, in, &out)
			}

			in := pipelineworkflow.ProcessBatchSequentialInput{
				CSVPath: csvPath, StartIndex: start, EndIndex: end,
				PaceMillis: paceMillis, UseModel: useModel, ShouldLoad: shouldLoad,
			}
			var out pipelineworkflow.BatchResult
			return runWorkflowAndPrint(cfg, workflowID, pipelineworkflow.ProcessBatchSequential, in, &out)
		},
	}

	cmd.Flags().BoolVar(&useModel, "model", false, "use the model-assisted parser instead of the local one")
	cmd.Flags().IntVar(&paceMillis, "pace-ms", 0, "milliseconds to sleep between entries (sequential only)")
	cmd.Flags().IntVar(&fanout, "fanout", 1, "number of concurrent chunks; >1 runs process_batch_parallel")
	cmd.Flags().BoolVar(&shouldLoad, "load", true, "also load each extracted entry into the store")
	return cmd
}

func newLoadFolderCmd() *cobra.Command {
	var fanout int

	cmd := &cobra.Command{
		Use:   "load-folder <dir>",
		Short: "Load every staged *.json file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			dir := args[0]

			matches, err := stagedFilesIn(dir)
			if err != nil {
				return err
			}

			workflowID := fmt.Sprintf("load-folder-%d", time.Now().Unix())
			in := pipelineworkflow.LoadFolderInput{Paths: matches, Fanout: fanout}
			var out pipelineworkflow.BatchResult
			return runWorkflowAndPrint(cfg, workflowID, pipelineworkflow.LoadFolder, in, &out)
		},
	}

	cmd.Flags().IntVar(&fanout, "fanout", 4, "number of concurrent chunks")
	return cmd
}

func newSyncSearchCmd() *cobra.Command {
	var recreateIndex bool
	var batchSize int

	cmd := &cobra.Command{
		Use:   "sync-search",
		Short: "Bulk-sync the store into the search index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if recreateIndex {
				indexer, err := connectIndexer(cfg)
				if err != nil {
					return err
				}
				if err := indexer.RecreateIndex(context.Background()); err != nil {
					return err
				}
			}

			workflowID := fmt.Sprintf("sync-search-%d", time.Now().Unix())
			in := pipelineworkflow.SyncSearchInput{BatchSize: batchSize}
			var out pipelineworkflow.SyncSearchResult
			return runWorkflowAndPrint(cfg, workflowID, pipelineworkflow.SyncSearch, in, &out)
		},
	}

	cmd.Flags().BoolVar(&recreateIndex, "recreate-index", false, "drop and recreate the index before syncing")
	cmd.Flags().IntVar(&batchSize, "batch-size", search.DefaultBatchSize, "recipes per bulk_upsert call")
	return cmd
}

func newReloadRecipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload-recipe <identifier>",
		Short: "Re-parse one already-loaded recipe's staged file, then reload and resync it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return &model.ValidationError{Field: "identifier", Reason: err.Error()}
			}

			store, db, err := connectStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			pk, err := store.PrimaryKeyByIdentifier(context.Background(), id)
			if err != nil {
				return err
			}

			workflowID := fmt.Sprintf("reload-recipe-%s", id)
			in := pipelineworkflow.ReloadRecipeInput{PrimaryKey: pk, Identifier: id}
			var out pipelineworkflow.ReloadRecipeResult
			return runWorkflowAndPrint(cfg, workflowID, pipelineworkflow.ReloadRecipe, in, &out)
		},
	}
	return cmd
}

func newGetByIdentifierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-by-identifier <identifier>",
		Short: "Print the stored recipe with the given identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			id, err := uuid.Parse(args[0])
			if err != nil {
				return &model.ValidationError{Field: "identifier", Reason: err.Error()}
			}

			store, db, err := connectStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			r, err := store.GetByIdentifier(context.Background(), id)
			if err != nil {
				return err
			}
			printJSON(r)
			return nil
		},
	}
	return cmd
}

func newSearchCmd() *cobra.Command {
	var mode string
	var difficulty string
	var mealType string
	var size int
	var hybridBoost float64

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Query the search index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			indexer, err := connectIndexer(cfg)
			if err != nil {
				return err
			}

			q := search.Query{
				Text:         args[0],
				Mode:         search.Mode(mode),
				DifficultyEq: difficulty,
				MealTypeEq:   mealType,
				HybridBoost:  hybridBoost,
				Size:         size,
			}
			if q.Mode == search.ModeSemantic || q.Mode == search.ModeHybrid {
				q.SemanticVector = embed.Generate(args[0])
			}

			results, err := indexer.Run(context.Background(), q)
			if err != nil {
				return err
			}
			printJSON(results)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(search.ModeHybrid), "text|semantic|hybrid")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "filter by difficulty")
	cmd.Flags().StringVar(&mealType, "meal-type", "", "filter by meal type")
	cmd.Flags().IntVar(&size, "size", 10, "number of results")
	cmd.Flags().Float64Var(&hybridBoost, "hybrid-boost", search.DefaultHybridKNNBoost, "weight of the kNN clause in hybrid mode")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print recipe counts and category breakdowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, db, err := connectStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := store.Stats(context.Background())
			if err != nil {
				return err
			}
			printJSON(s)
			return nil
		},
	}
	return cmd
}

func newScheduleCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring workflow schedules",
	}

	root.AddCommand(
		newScheduleCreateCmd(),
		newSchedulePauseCmd(false),
		newSchedulePauseCmd(true),
		newScheduleTriggerCmd(),
		newScheduleDescribeCmd(),
		newScheduleDeleteCmd(),
	)
	return root
}

func dialController(cfg *config.Config) (client.Client, *schedule.Controller, error) {
	c, err := dialTemporal(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, schedule.NewController(c, cfg.TemporalTaskQueue), nil
}

// scheduleTarget resolves the --workflow name to the workflow function
// and default args a new schedule should invoke.
func scheduleTarget(name, sourceID string, limit, maxMessages int) (interface{}, []interface{}, error) {
	switch name {
	case "scrape-feed":
		return pipelineworkflow.ScrapeFeed, []interface{}{pipelineworkflow.ScrapeFeedInput{SourceID: sourceID, Limit: limit}}, nil
	case "consume-feed":
		return pipelineworkflow.ConsumeFeed, []interface{}{pipelineworkflow.ConsumeFeedInput{MaxMessages: maxMessages}}, nil
	case "sync-search":
		return pipelineworkflow.SyncSearch, []interface{}{pipelineworkflow.SyncSearchInput{BatchSize: search.DefaultBatchSize}}, nil
	default:
		return nil, nil, &model.ValidationError{Field: "workflow", Reason: "unknown schedule target " + name}
	}
}

func newScheduleCreateCmd() *cobra.Command {
	var workflowName, sourceID string
	var limit, maxMessages int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "create <schedule-id>",
		Short: "Create a recurring schedule for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			scheduleID := args[0]

			wf, wfArgs, err := scheduleTarget(workflowName, sourceID, limit, maxMessages)
			if err != nil {
				return err
			}

			c, ctrl, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			return ctrl.Create(context.Background(), schedule.CreateRequest{
				ScheduleID:   scheduleID,
				WorkflowID:   scheduleID + "-run",
				WorkflowType: wf,
				Args:         wfArgs,
				Interval:     interval,
			})
		},
	}

	cmd.Flags().StringVar(&workflowName, "workflow", "scrape-feed", "scrape-feed|consume-feed|sync-search")
	cmd.Flags().StringVar(&sourceID, "source", "recipes", "feed source id (scrape-feed only)")
	cmd.Flags().IntVar(&limit, "limit", 25, "items per scrape (scrape-feed only)")
	cmd.Flags().IntVar(&maxMessages, "max-messages", 100, "messages per batch (consume-feed only)")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "interval between runs")
	return cmd
}

func newSchedulePauseCmd(unpause bool) *cobra.Command {
	use, short := "pause <schedule-id>", "Pause a schedule"
	if unpause {
		use, short = "unpause <schedule-id>", "Resume a paused schedule"
	}

	var note string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			c, ctrl, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if unpause {
				return ctrl.Unpause(context.Background(), args[0], note)
			}
			return ctrl.Pause(context.Background(), args[0], note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason recorded against the schedule")
	return cmd
}

func newScheduleTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <schedule-id>",
		Short: "Run a schedule's action immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			c, ctrl, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			return ctrl.TriggerNow(context.Background(), args[0])
		},
	}
	return cmd
}

func newScheduleDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <schedule-id>",
		Short: "Print a schedule's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			c, ctrl, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			desc, err := ctrl.Describe(context.Background(), args[0])
			if err != nil {
				return err
			}
			printJSON(desc)
			return nil
		},
	}
	return cmd
}

func newScheduleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			c, ctrl, err := dialController(cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			return ctrl.Delete(context.Background(), args[0])
		},
	}
	return cmd
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func stagedFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &model.TransientError{Op: "load_folder.readdir", Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
