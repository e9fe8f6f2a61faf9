package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"montage/internal/config"
	"montage/internal/logging"
	"montage/internal/remote"
	"montage/internal/services"
	"montage/internal/state"
	"montage/internal/store"
)

// Engine submits jobs and drives the poll loop.
type Engine struct {
	store    *store.Store
	api      remote.API
	registry *Registry
	cfg      config.Dispatch
	logger   *slog.Logger
}

// New builds an Engine.
func New(st *store.Store, api remote.API, registry *Registry, cfg config.Dispatch, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		api:      api,
		registry: registry,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Submit creates the remote task for a job, records the returned handle,
// moves the job to processing, and schedules the first poll. Input uploads
// are the caller's responsibility. A submission failure is terminal: the
// job goes to error and the project to failed.
func (e *Engine) Submit(ctx context.Context, job *store.Job, req remote.CreateTaskRequest) error {
	ctx = services.WithJobID(ctx, job.ID)
	log := logging.WithContext(ctx, e.logger)

	taskID, err := e.api.CreateTask(ctx, req)
	if err != nil {
		wrapped := services.Wrap(services.ErrSubmission, job.JobType, "create task", "remote submission rejected", err)
		e.failJob(ctx, job, wrapped.Error())
		return wrapped
	}

	next, err := state.ApplyJob(job.Status, state.TriggerStart)
	if err != nil {
		return services.Wrap(services.ErrValidation, job.JobType, "start job", "illegal job transition", err)
	}
	now := time.Now().UTC()
	job.Status = next
	job.RemoteTaskID = taskID
	job.SubmittedAt = &now
	job.LastRemoteStatus = string(remote.TaskPending)
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist submitted job: %w", err)
	}

	msg := &store.PollMessage{
		Pipeline:     job.Pipeline,
		JobID:        job.ID,
		JobType:      job.JobType,
		RemoteTaskID: taskID,
		DueAt:        now.Add(e.pollDelay()),
	}
	if err := e.store.EnqueuePoll(ctx, msg); err != nil {
		return fmt.Errorf("enqueue first poll: %w", err)
	}

	log.Info("job submitted",
		logging.String("job_type", job.JobType),
		logging.String("remote_task_id", taskID))
	return nil
}

// Run drives the poll loop until the context is cancelled. Claims left
// over from a previous run are released first.
func (e *Engine) Run(ctx context.Context) error {
	if released, err := e.store.ReleaseClaimedPolls(ctx); err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	} else if released > 0 {
		e.logger.Info("released stale poll claims", logging.Int64("count", released))
	}

	messages := make(chan *store.PollMessage)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				e.Process(ctx, msg)
			}
		}()
	}

	ticker := time.NewTicker(time.Duration(e.cfg.ClaimInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(messages)
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			claimed, err := e.store.ClaimDuePolls(ctx, time.Now().UTC(), e.cfg.Workers)
			if err != nil {
				e.logger.Error("claim due polls", logging.Error(err))
				continue
			}
			for _, msg := range claimed {
				select {
				case messages <- msg:
				case <-ctx.Done():
					close(messages)
					wg.Wait()
					return ctx.Err()
				}
			}
		}
	}
}

// Tick claims and processes due messages synchronously. The daemon uses
// Run; Tick exists for deterministic draining in tools and tests.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	claimed, err := e.store.ClaimDuePolls(ctx, time.Now().UTC(), e.cfg.Workers)
	if err != nil {
		return 0, err
	}
	for _, msg := range claimed {
		e.Process(ctx, msg)
	}
	return len(claimed), nil
}

// Process handles one claimed poll message.
func (e *Engine) Process(ctx context.Context, msg *store.PollMessage) {
	ctx = services.WithPipeline(ctx, string(msg.Pipeline))
	ctx = services.WithJobID(ctx, msg.JobID)
	log := logging.WithContext(ctx, e.logger)

	job, err := e.store.GetJob(ctx, msg.JobID)
	if err != nil {
		log.Error("load job for poll", logging.Error(err))
		e.release(ctx, msg)
		return
	}
	if job == nil || job.Status.IsTerminal() {
		// Redelivery after completion or a raced failure. Drop the message.
		e.drop(ctx, msg)
		return
	}

	status, err := e.api.TaskStatus(ctx, msg.RemoteTaskID)
	if err != nil {
		e.handleQueryFailure(ctx, msg, job, err, log)
		return
	}

	job.LastRemoteStatus = string(status.State)
	if err := e.store.UpdateJob(ctx, job); err != nil {
		log.Error("persist remote status", logging.Error(err))
	}

	switch {
	case status.State.Incomplete():
		e.handleIncomplete(ctx, msg, job, status, log)
	case status.State == remote.TaskCompleted:
		e.finalize(ctx, msg, job, status, log)
	default:
		// Remote failure or an unrecognized terminal state.
		detail := status.Message
		if detail == "" {
			detail = fmt.Sprintf("remote task ended in state %s", status.State)
		}
		wrapped := services.Wrap(services.ErrRemoteFailed, job.JobType, "poll task", detail, nil)
		e.failJob(ctx, job, wrapped.Error())
		e.drop(ctx, msg)
	}
}

func (e *Engine) handleQueryFailure(ctx context.Context, msg *store.PollMessage, job *store.Job, queryErr error, log *slog.Logger) {
	msg.FailureAttempts++
	if msg.FailureAttempts >= int64(e.cfg.MaxFailureAttempts) {
		wrapped := services.Wrap(services.ErrTransientPoll, job.JobType, "poll task",
			fmt.Sprintf("status query failed %d times", msg.FailureAttempts), queryErr)
		e.failJob(ctx, job, wrapped.Error())
		e.drop(ctx, msg)
		return
	}
	log.Warn("status query failed, will retry",
		logging.Int64("failure_attempts", msg.FailureAttempts),
		logging.Error(queryErr))
	if err := e.store.ReschedulePoll(ctx, msg, time.Now().UTC().Add(e.pollDelay())); err != nil {
		log.Error("reschedule poll", logging.Error(err))
	}
}

func (e *Engine) handleIncomplete(ctx context.Context, msg *store.PollMessage, job *store.Job, status remote.TaskStatus, log *slog.Logger) {
	msg.PollAttempts++
	if msg.PollAttempts >= int64(e.cfg.MaxPollAttempts) {
		wrapped := services.Wrap(services.ErrTransientPoll, job.JobType, "poll task",
			fmt.Sprintf("task still %s after %d polls", status.State, msg.PollAttempts), nil)
		e.failJob(ctx, job, wrapped.Error())
		e.drop(ctx, msg)
		return
	}
	log.Debug("task still running",
		logging.String("remote_state", string(status.State)),
		logging.Int64("poll_attempts", msg.PollAttempts))
	if err := e.store.ReschedulePoll(ctx, msg, time.Now().UTC().Add(e.pollDelay())); err != nil {
		log.Error("reschedule poll", logging.Error(err))
	}
}

func (e *Engine) finalize(ctx context.Context, msg *store.PollMessage, job *store.Job, status remote.TaskStatus, log *slog.Logger) {
	handler, ok := e.registry.Lookup(msg.Pipeline, msg.JobType)
	if !ok {
		wrapped := services.Wrap(services.ErrValidation, job.JobType, "finalize",
			fmt.Sprintf("no finalize handler for %s/%s", msg.Pipeline, msg.JobType), nil)
		e.failJob(ctx, job, wrapped.Error())
		e.drop(ctx, msg)
		return
	}

	if err := handler(ctx, job, status); err != nil {
		log.Error("finalize failed", logging.String("job_type", job.JobType), logging.Error(err))
		e.failJob(ctx, job, err.Error())
		e.drop(ctx, msg)
		return
	}
	log.Info("job finalized", logging.String("job_type", job.JobType))
	e.drop(ctx, msg)
}

// failJob moves the job to error and its project to failed. Version
// conflicts on the project write are retried against a fresh read; a
// project that already reached a terminal state is left alone.
func (e *Engine) failJob(ctx context.Context, job *store.Job, message string) {
	log := logging.WithContext(ctx, e.logger)

	next, err := state.ApplyJob(job.Status, state.TriggerFail)
	if err == nil {
		job.Status = next
	}
	job.ErrorMessage = message
	if err := e.store.UpdateJob(ctx, job); err != nil {
		log.Error("persist failed job", logging.Error(err))
	}

	for attempt := 0; attempt < 3; attempt++ {
		project, err := e.store.GetProject(ctx, job.ProjectID)
		if err != nil {
			log.Error("load project for failure", logging.Error(err))
			return
		}
		if project == nil || project.Status == state.ProjectFailed || project.Status == state.ProjectCompleted {
			return
		}
		if err := state.AdvanceProject(project.Pipeline, project.Status, state.ProjectFailed); err != nil {
			// Not failable from this state; leave the project as is.
			return
		}
		err = e.store.SetProjectStatus(ctx, project, state.ProjectFailed)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			log.Error("persist failed project", logging.Error(err))
		}
		return
	}
	log.Error("gave up failing project after repeated version conflicts",
		logging.String("project_id", job.ProjectID))
}

func (e *Engine) drop(ctx context.Context, msg *store.PollMessage) {
	if err := e.store.DeletePoll(ctx, msg.ID); err != nil {
		e.logger.Error("delete poll message", logging.Int64("message_id", msg.ID), logging.Error(err))
	}
}

func (e *Engine) release(ctx context.Context, msg *store.PollMessage) {
	if err := e.store.ReschedulePoll(ctx, msg, time.Now().UTC().Add(e.pollDelay())); err != nil {
		e.logger.Error("release poll message", logging.Int64("message_id", msg.ID), logging.Error(err))
	}
}

func (e *Engine) pollDelay() time.Duration {
	return time.Duration(e.cfg.PollDelay) * time.Second
}
