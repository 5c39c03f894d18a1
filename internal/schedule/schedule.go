// Package schedule wraps the Temporal Go SDK's schedule sub-API into
// the six operations the orchestrator needs for recurring workflow
// executions (§4.8): create, pause, unpause, trigger_now, describe,
// delete.
package schedule

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// DefaultOverlapPolicy skips a scheduled run that would overlap one
// already in progress, per §4.8.
const DefaultOverlapPolicy = enums.SCHEDULE_OVERLAP_POLICY_SKIP

// Controller manages recurring workflow schedules.
type Controller struct {
	schedules client.ScheduleClient
	taskQueue string
}

// NewController builds a Controller bound to a Temporal client and task
// queue.
func NewController(c client.Client, taskQueue string) *Controller {
	return &Controller{schedules: c.ScheduleClient(), taskQueue: taskQueue}
}

// CreateRequest describes a new recurring workflow execution: a
// (workflow_type, input, interval, overlap_policy) binding.
type CreateRequest struct {
	ScheduleID   string
	WorkflowID   string
	WorkflowType interface{}
	Args         []interface{}
	Interval     time.Duration
}

// Create registers a new schedule. Its overlap policy is fixed at
// DefaultOverlapPolicy; callers needing a different policy should use
// the Temporal CLI/UI directly, this controller only expresses the
// pipeline's one supported mode.
func (c *Controller) Create(ctx context.Context, req CreateRequest) error {
	_, err := c.schedules.Create(ctx, client.ScheduleOptions{
		ID: req.ScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: req.Interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        req.WorkflowID,
			Workflow:  req.WorkflowType,
			Args:      req.Args,
			TaskQueue: c.taskQueue,
		},
		Overlap: DefaultOverlapPolicy,
	})
	if err != nil {
		return fmt.Errorf("create schedule %s: %w", req.ScheduleID, err)
	}
	return nil
}

// Pause suspends future runs of a schedule, recording note as the
// reason shown in Describe output.
func (c *Controller) Pause(ctx context.Context, scheduleID, note string) error {
	return c.schedules.GetHandle(ctx, scheduleID).Pause(ctx, client.SchedulePauseOptions{Note: note})
}

// Unpause resumes a paused schedule. Temporal runs one catch-up
// execution for the most recently missed slot, never one per missed
// interval, which is what keeps E6's two-skipped-intervals case to a
// single execution.
func (c *Controller) Unpause(ctx context.Context, scheduleID, note string) error {
	return c.schedules.GetHandle(ctx, scheduleID).Unpause(ctx, client.ScheduleUnpauseOptions{Note: note})
}

// TriggerNow runs the schedule's action immediately, outside its normal
// cadence, subject to the same overlap policy as a regular tick.
func (c *Controller) TriggerNow(ctx context.Context, scheduleID string) error {
	return c.schedules.GetHandle(ctx, scheduleID).Trigger(ctx, client.ScheduleTriggerOptions{
		Overlap: DefaultOverlapPolicy,
	})
}

// Description summarizes a schedule's current state.
type Description struct {
	ScheduleID    string
	Paused        bool
	Note          string
	NextRunTimes  []time.Time
	RecentActions int
}

// Describe returns the current state of a schedule.
func (c *Controller) Describe(ctx context.Context, scheduleID string) (*Description, error) {
	desc, err := c.schedules.GetHandle(ctx, scheduleID).Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe schedule %s: %w", scheduleID, err)
	}

	return &Description{
		ScheduleID:    scheduleID,
		Paused:        desc.Schedule.State.Paused,
		Note:          desc.Schedule.State.Note,
		NextRunTimes:  desc.Info.NextActionTimes,
		RecentActions: len(desc.Info.RecentActions),
	}, nil
}

// Delete removes a schedule. It does not affect workflow executions the
// schedule already started.
func (c *Controller) Delete(ctx context.Context, scheduleID string) error {
	return c.schedules.GetHandle(ctx, scheduleID).Delete(ctx)
}
