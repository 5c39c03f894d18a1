// Package cleanup runs the background sweep for stuck workflow
// executions and orphaned staging files described by the "Stuck-job /
// orphaned-staging-file cleanup" supplemented feature.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
)

// WorkflowClient is the subset of client.Client the sweeper depends on.
type WorkflowClient interface {
	ListWorkflow(ctx context.Context, request *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error)
	TerminateWorkflow(ctx context.Context, workflowID, runID, reason string, details ...interface{}) error
}

// ExtractionCacheSweeper is the subset of postgres.ExtractionCacheStore
// the sweeper depends on.
type ExtractionCacheSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Service sweeps for workflow executions stuck open past MaxExecutionAge,
// staged files older than twice that age (every such file, whether or not
// its run was terminated), and expired extraction-cache rows.
type Service struct {
	client          WorkflowClient
	extractionCache ExtractionCacheSweeper
	logger          *slog.Logger
	taskQueue       string
	stagingDir      string

	maxExecutionAge time.Duration
	interval        time.Duration
}

// Config holds configuration for the cleanup service.
type Config struct {
	TaskQueue       string
	StagingDir      string
	MaxExecutionAge time.Duration
	Interval        time.Duration
}

// NewService creates a new cleanup service. extractionCache may be nil,
// in which case the expired-cache sweep is skipped.
func NewService(c WorkflowClient, extractionCache ExtractionCacheSweeper, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxExecutionAge == 0 {
		cfg.MaxExecutionAge = 35 * time.Minute
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}

	return &Service{
		client:          c,
		extractionCache: extractionCache,
		logger:          logger,
		taskQueue:       cfg.TaskQueue,
		stagingDir:      cfg.StagingDir,
		maxExecutionAge: cfg.MaxExecutionAge,
		interval:        cfg.Interval,
	}
}

// Start begins the cleanup worker in the background.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("starting cleanup service",
		"staging_dir", s.stagingDir,
		"max_execution_age", s.maxExecutionAge,
		"interval", s.interval,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			s.runCleanup(ctx)
		case <-ctx.Done():
			s.logger.Info("cleanup service stopping")
			return
		}
	}
}

func (s *Service) runCleanup(ctx context.Context) {
	terminated, err := s.terminateStuckWorkflows(ctx)
	if err != nil {
		s.logger.Error("failed to sweep stuck workflows", "error", err)
	} else if terminated > 0 {
		s.logger.Info("terminated stuck workflow executions", "count", terminated)
	}

	deleted, err := s.cleanupOrphanedStagingFiles(ctx)
	if err != nil {
		s.logger.Error("failed to sweep staging files", "error", err)
	} else if deleted > 0 {
		s.logger.Info("deleted orphaned staging files", "count", deleted)
	}

	if s.extractionCache == nil {
		return
	}
	expired, err := s.extractionCache.DeleteExpired(ctx)
	if err != nil {
		s.logger.Error("failed to sweep expired extraction cache rows", "error", err)
	} else if expired > 0 {
		s.logger.Info("deleted expired extraction cache rows", "count", expired)
	}
}

// terminateStuckWorkflows finds open executions on the task queue older
// than maxExecutionAge and terminates them, mirroring the teacher's
// MarkStuckJobsAsFailed but against the workflow engine instead of a
// jobs table.
func (s *Service) terminateStuckWorkflows(ctx context.Context) (int, error) {
	query := "TaskQueue = '" + s.taskQueue + "' AND ExecutionStatus = 'Running'"
	resp, err := s.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{Query: query})
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, exec := range resp.GetExecutions() {
		startTime := exec.GetStartTime().AsTime()
		if time.Since(startTime) < s.maxExecutionAge {
			continue
		}
		if exec.GetStatus() != enums.WORKFLOW_EXECUTION_STATUS_RUNNING {
			continue
		}

		id := exec.GetExecution().GetWorkflowId()
		runID := exec.GetExecution().GetRunId()
		if err := s.client.TerminateWorkflow(ctx, id, runID, "exceeded max execution age"); err != nil {
			s.logger.Warn("failed to terminate stuck workflow", "workflow_id", id, "error", err)
			continue
		}
		terminated++
	}
	return terminated, nil
}

// cleanupOrphanedStagingFiles removes staged recipe files older than
// twice maxExecutionAge — old enough that no in-flight workflow could
// still be waiting to load them.
func (s *Service) cleanupOrphanedStagingFiles(ctx context.Context) (int, error) {
	if s.stagingDir == "" {
		return 0, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.stagingDir, "*.json"))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, path := range matches {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if time.Since(info.ModTime()) > s.maxExecutionAge*2 {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to delete staging file", "path", path, "error", err)
			} else {
				deleted++
			}
		}
	}
	return deleted, nil
}
