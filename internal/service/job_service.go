package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

const (
	// TaskTypePollResume resumes polling for a prompt whose first poll
	// window ran out.
	TaskTypePollResume = "poll:resume"

	jobTTL = 24 * time.Hour
)

// PollResumePayload is the asynq task payload for a resumed poll.
type PollResumePayload struct {
	PromptID      string   `json:"prompt_id"`
	WorkflowID    string   `json:"workflow_id"`
	PreferredKeys []string `json:"preferred_keys,omitempty"`
}

// JobService persists job records in Redis and hands still-running jobs to
// the background poller. It is optional: without Redis the server still
// runs, callers just re-poll by hand.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client) *JobService {
	return &JobService{redis: redisClient, asynqClient: asynqClient}
}

func jobKey(promptID string) string {
	return "job:" + promptID
}

// TrackRunning records a job that outlived its poll window and enqueues a
// background resume.
func (s *JobService) TrackRunning(ctx context.Context, promptID, workflowID string, preferredKeys []string, attempts int) error {
	now := time.Now()
	job := &model.Job{
		PromptID:      promptID,
		WorkflowID:    workflowID,
		Status:        model.JobStatusRunning,
		PreferredKeys: preferredKeys,
		Attempts:      attempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}

	payload, err := json.Marshal(PollResumePayload{
		PromptID:      promptID,
		WorkflowID:    workflowID,
		PreferredKeys: preferredKeys,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	_, err = s.asynqClient.Enqueue(asynq.NewTask(TaskTypePollResume, payload),
		asynq.Queue("poll"),
		asynq.MaxRetry(5),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue poll resume: %w", err)
	}
	return nil
}

// GetJob loads a job record by prompt id.
func (s *JobService) GetJob(ctx context.Context, promptID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(promptID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("job not found: %s", promptID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// UpdateAttempts refreshes the attempt counter while a resumed poll runs.
func (s *JobService) UpdateAttempts(ctx context.Context, promptID string, attempts int) error {
	job, err := s.GetJob(ctx, promptID)
	if err != nil {
		return err
	}
	job.Attempts = attempts
	return s.saveJob(ctx, job)
}

// CompleteJob stores the final asset result.
func (s *JobService) CompleteJob(ctx context.Context, promptID string, result *model.RunResult) error {
	job, err := s.GetJob(ctx, promptID)
	if err != nil {
		return err
	}
	job.Status = model.JobStatusCompleted
	job.Asset = result
	return s.saveJob(ctx, job)
}

// FailJob records a terminal failure with its diagnostics.
func (s *JobService) FailJob(ctx context.Context, promptID, errMsg string) error {
	job, err := s.GetJob(ctx, promptID)
	if err != nil {
		return err
	}
	job.Status = model.JobStatusFailed
	job.Error = errMsg
	return s.saveJob(ctx, job)
}

// TimeOutJob marks a job the background poller also gave up on.
func (s *JobService) TimeOutJob(ctx context.Context, promptID string) error {
	job, err := s.GetJob(ctx, promptID)
	if err != nil {
		return err
	}
	job.Status = model.JobStatusTimedOut
	return s.saveJob(ctx, job)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.redis.Set(ctx, jobKey(job.PromptID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}
