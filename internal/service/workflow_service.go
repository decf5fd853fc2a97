package service

import (
	"context"
	"fmt"
	"log"

	"github.com/comfyforge/comfy-mcp/internal/client"
	"github.com/comfyforge/comfy-mcp/internal/config"
	"github.com/comfyforge/comfy-mcp/internal/imaging"
	"github.com/comfyforge/comfy-mcp/internal/model"
	"github.com/comfyforge/comfy-mcp/internal/registry"
	"github.com/comfyforge/comfy-mcp/internal/workflow"
)

// RunOptions tune a single workflow execution.
type RunOptions struct {
	// InlinePreview attaches a budgeted base64 thumbnail to image results.
	InlinePreview bool
	// PollAttempts overrides the configured poll budget when > 0.
	PollAttempts int
}

// WorkflowService executes workflow templates end to end: render the
// graph, submit it, poll for the result, and register the produced asset.
type WorkflowService struct {
	comfy    *client.ComfyClient
	store    *workflow.Store
	defaults *workflow.Defaults
	registry registry.Registry
	encoder  *imaging.Encoder
	jobs     *JobService
	cfg      *config.Config
}

// NewWorkflowService wires the service. jobs may be nil; without it a
// still-running prompt is reported back to the caller instead of being
// handed to the background poller.
func NewWorkflowService(
	comfy *client.ComfyClient,
	store *workflow.Store,
	defaults *workflow.Defaults,
	reg registry.Registry,
	encoder *imaging.Encoder,
	jobs *JobService,
	cfg *config.Config,
) *WorkflowService {
	return &WorkflowService{
		comfy:    comfy,
		store:    store,
		defaults: defaults,
		registry: reg,
		encoder:  encoder,
		jobs:     jobs,
		cfg:      cfg,
	}
}

func (s *WorkflowService) Store() *workflow.Store        { return s.store }
func (s *WorkflowService) Defaults() *workflow.Defaults  { return s.defaults }
func (s *WorkflowService) Registry() registry.Registry   { return s.registry }
func (s *WorkflowService) Client() *client.ComfyClient   { return s.comfy }
func (s *WorkflowService) Encoder() *imaging.Encoder     { return s.encoder }

// RunWorkflow executes a stored template by id, applying raw node input
// overrides on top of its placeholder bindings.
func (s *WorkflowService) RunWorkflow(ctx context.Context, workflowID string, overrides map[string]interface{}, opts RunOptions) (*model.RunResult, error) {
	graph, err := s.store.Load(workflowID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyOverrides(graph, workflowID, overrides, s.defaults); err != nil {
		return nil, err
	}
	preferredKeys := workflow.GuessOutputKeys(graph)
	return s.execute(ctx, workflowID, graph, preferredKeys, opts)
}

// RunDefinition executes a generated tool definition with typed arguments.
func (s *WorkflowService) RunDefinition(ctx context.Context, def workflow.Definition, args map[string]interface{}, opts RunOptions) (*model.RunResult, error) {
	graph, err := s.store.Render(def, args, s.defaults)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, def.WorkflowID, graph, def.OutputKeys, opts)
}

func (s *WorkflowService) execute(ctx context.Context, workflowID string, graph model.Graph, preferredKeys []string, opts RunOptions) (*model.RunResult, error) {
	promptID, err := s.comfy.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	log.Printf("[Workflow] submitted %s as prompt %s", workflowID, promptID)

	attempts := s.cfg.Comfy.PollAttempts
	if opts.PollAttempts > 0 {
		attempts = opts.PollAttempts
	}
	outcome, err := s.comfy.Poll(ctx, promptID, attempts)
	if err != nil {
		return nil, err
	}

	switch outcome.State {
	case client.PollFailed:
		log.Printf("[Workflow] prompt %s failed: %s", promptID, outcome.Diagnostics)
		return &model.RunResult{
			Status:     "failed",
			JobID:      promptID,
			WorkflowID: workflowID,
			Error:      outcome.Diagnostics,
		}, nil

	case client.PollStillRunning:
		msg := fmt.Sprintf("workflow still running after %d poll attempts", outcome.Attempts)
		if s.jobs != nil {
			if err := s.jobs.TrackRunning(ctx, promptID, workflowID, preferredKeys, outcome.Attempts); err != nil {
				log.Printf("[Workflow] failed to hand off prompt %s to background poller: %v", promptID, err)
			} else {
				msg += "; polling continues in the background"
			}
		}
		return &model.RunResult{
			Status:     "running",
			JobID:      promptID,
			WorkflowID: workflowID,
			Message:    msg,
		}, nil
	}

	result, err := s.FinalizeOutputs(ctx, workflowID, promptID, outcome.Outputs, preferredKeys)
	if err != nil {
		return nil, err
	}
	if opts.InlinePreview {
		s.attachPreview(ctx, result)
	}
	return result, nil
}

// FinalizeOutputs picks the produced asset out of the node outputs,
// registers it, and builds the completed result. The background poller
// uses this too after a resumed poll finishes.
func (s *WorkflowService) FinalizeOutputs(ctx context.Context, workflowID, promptID string, outputs client.NodeOutputs, preferredKeys []string) (*model.RunResult, error) {
	asset, err := client.ExtractFirstAsset(outputs, preferredKeys)
	if err != nil {
		return nil, err
	}
	assetURL := s.comfy.ViewURL(asset)
	head := s.comfy.HeadAsset(ctx, assetURL)

	mimeType := head.MimeType
	if mimeType == "" {
		mimeType = asset.MimeType()
	}
	rec := &model.AssetRecord{
		AssetURL:   assetURL,
		Filename:   asset.Filename,
		Subfolder:  asset.Subfolder,
		FolderType: asset.Kind,
		MimeType:   mimeType,
		BytesSize:  head.BytesSize,
		WorkflowID: workflowID,
		PromptID:   promptID,
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		log.Printf("[Workflow] failed to register asset for prompt %s: %v", promptID, err)
	}

	return &model.RunResult{
		Status:     "completed",
		JobID:      promptID,
		WorkflowID: workflowID,
		AssetID:    rec.AssetID,
		AssetURL:   assetURL,
		Filename:   asset.Filename,
		MimeType:   mimeType,
		BytesSize:  head.BytesSize,
	}, nil
}

// attachPreview is best effort: preview failures never fail a completed run.
func (s *WorkflowService) attachPreview(ctx context.Context, result *model.RunResult) {
	if !isImageMime(result.MimeType) {
		return
	}
	opts := imaging.PreviewOptions{
		MaxDim:      s.cfg.Preview.MaxDim,
		MaxB64Chars: s.cfg.Preview.MaxB64Chars,
		Quality:     s.cfg.Preview.StartQuality,
	}
	key := imaging.CacheKey(result.AssetURL, opts.MaxDim, opts.Quality)
	preview, err := s.encoder.EncodeSource(ctx, result.AssetURL, opts, key)
	if err != nil {
		log.Printf("[Workflow] inline preview skipped for %s: %v", result.JobID, err)
		return
	}
	result.InlinePreviewB64 = preview.B64
	result.InlinePreviewMime = preview.MimeType
}

func isImageMime(mime string) bool {
	switch mime {
	case "image/png", "image/jpeg", "image/webp", "image/gif":
		return true
	}
	return false
}
