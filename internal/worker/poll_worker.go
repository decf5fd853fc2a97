package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/comfyforge/comfy-mcp/internal/client"
	"github.com/comfyforge/comfy-mcp/internal/model"
	"github.com/comfyforge/comfy-mcp/internal/service"
	"github.com/comfyforge/comfy-mcp/internal/websocket"
)

// PollWorker resumes polling for prompts that outlived the synchronous
// poll window.
type PollWorker struct {
	workflows *service.WorkflowService
	jobs      *service.JobService
	hub       *websocket.Hub
	attempts  int
}

// NewPollWorker creates a poll worker with a resume attempt budget.
func NewPollWorker(workflows *service.WorkflowService, jobs *service.JobService, hub *websocket.Hub, attempts int) *PollWorker {
	return &PollWorker{
		workflows: workflows,
		jobs:      jobs,
		hub:       hub,
		attempts:  attempts,
	}
}

// ProcessTask handles a resumed poll. Returning an error on a
// still-running prompt lets asynq retry until MaxRetry is exhausted.
func (w *PollWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PollResumePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	promptID := payload.PromptID
	log.Printf("[Poller] resuming poll for prompt %s (workflow %s)", promptID, payload.WorkflowID)
	w.hub.BroadcastProgress(promptID, 0, w.attempts, model.JobStatusRunning, "Resuming poll...")

	comfy := w.workflows.Client()
	outcome, err := comfy.Poll(ctx, promptID, w.attempts)
	if err != nil {
		return err
	}
	if err := w.jobs.UpdateAttempts(ctx, promptID, outcome.Attempts); err != nil {
		log.Printf("[Poller] failed to update attempts for %s: %v", promptID, err)
	}

	switch outcome.State {
	case client.PollFailed:
		log.Printf("[Poller] prompt %s failed: %s", promptID, outcome.Diagnostics)
		if err := w.jobs.FailJob(ctx, promptID, outcome.Diagnostics); err != nil {
			log.Printf("[Poller] failed to record failure for %s: %v", promptID, err)
		}
		w.hub.BroadcastError(promptID, "WORKFLOW_FAILED", outcome.Diagnostics)
		return nil

	case client.PollStillRunning:
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			log.Printf("[Poller] giving up on prompt %s after %d resume rounds", promptID, retried+1)
			if err := w.jobs.TimeOutJob(ctx, promptID); err != nil {
				log.Printf("[Poller] failed to record timeout for %s: %v", promptID, err)
			}
			w.hub.BroadcastError(promptID, "WORKFLOW_TIMEOUT", "workflow did not finish within the poll budget")
			return nil
		}
		return fmt.Errorf("prompt %s still running after %d attempts", promptID, outcome.Attempts)
	}

	result, err := w.workflows.FinalizeOutputs(ctx, payload.WorkflowID, promptID, outcome.Outputs, payload.PreferredKeys)
	if err != nil {
		if recErr := w.jobs.FailJob(ctx, promptID, err.Error()); recErr != nil {
			log.Printf("[Poller] failed to record failure for %s: %v", promptID, recErr)
		}
		w.hub.BroadcastError(promptID, "EXTRACTION_FAILED", err.Error())
		return nil
	}
	if err := w.jobs.CompleteJob(ctx, promptID, result); err != nil {
		log.Printf("[Poller] failed to record completion for %s: %v", promptID, err)
	}
	log.Printf("[Poller] prompt %s completed: %s", promptID, result.Filename)
	w.hub.BroadcastComplete(promptID, result)
	return nil
}
