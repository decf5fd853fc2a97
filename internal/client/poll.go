package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// PollState is the terminal classification of a poll run.
type PollState int

const (
	// PollStillRunning means the attempt budget ran out with the workflow
	// neither finished nor failed. It is an ordinary outcome, not an error:
	// long renders routinely outlive a single poll window.
	PollStillRunning PollState = iota
	PollCompleted
	PollFailed
)

func (s PollState) String() string {
	switch s {
	case PollCompleted:
		return "completed"
	case PollFailed:
		return "failed"
	default:
		return "still_running"
	}
}

// PollOutcome is the result of polling one prompt to a decision.
type PollOutcome struct {
	State       PollState
	Outputs     NodeOutputs
	Diagnostics string
	Attempts    int
}

// Poll watches the history endpoint until the prompt completes, fails, or
// the attempt budget runs out. Transient transport errors, malformed
// responses and an id missing from history all count as "still queued" and
// burn one attempt each. An error return means polling itself was aborted
// (context cancelled), never that the workflow failed.
func (c *ComfyClient) Poll(ctx context.Context, promptID string, maxAttempts int) (*PollOutcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = 30
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		entry, found, err := c.fetchHistory(ctx, promptID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[ComfyUI] Poll #%d (prompt=%s) — request error: %v", attempt, promptID, err)
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if !found {
			// Not in history yet: still queued or executing.
			if err := c.sleep(ctx, c.pollInterval); err != nil {
				return nil, err
			}
			continue
		}

		if len(entry.Error) > 0 && string(entry.Error) != "null" {
			return &PollOutcome{
				State:       PollFailed,
				Diagnostics: fmt.Sprintf("workflow failed with error: %s", string(entry.Error)),
				Attempts:    attempt,
			}, nil
		}

		info := classifyStatus(entry.Status)
		if info.kind == statusError {
			return &PollOutcome{State: PollFailed, Diagnostics: info.diagnostics, Attempts: attempt}, nil
		}

		if !entry.Outputs.Empty() {
			log.Printf("[ComfyUI] Poll #%d (prompt=%s) — completed with %d output nodes", attempt, promptID, len(entry.Outputs))
			return &PollOutcome{State: PollCompleted, Outputs: entry.Outputs, Attempts: attempt}, nil
		}

		if info.kind == statusSuccess {
			// Execution succeeded but outputs have not landed in the scoped
			// history yet. Cached executions hit this window often; give the
			// engine a moment and check the unscoped history, which has been
			// seen to carry outputs before /history/{id} does.
			log.Printf("[ComfyUI] Poll #%d (prompt=%s) — execution succeeded, waiting for outputs", attempt, promptID)
			if err := c.sleep(ctx, 3*time.Second); err != nil {
				return nil, err
			}
			if outputs := c.fetchFullHistoryOutputs(ctx, promptID); !outputs.Empty() {
				log.Printf("[ComfyUI] Found outputs in full history endpoint")
				return &PollOutcome{State: PollCompleted, Outputs: outputs, Attempts: attempt}, nil
			}
			continue
		}

		log.Printf("[ComfyUI] Poll #%d (prompt=%s) — no outputs yet", attempt, promptID)
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	log.Printf("[ComfyUI] Prompt %s still running after %d attempts", promptID, maxAttempts)
	return &PollOutcome{State: PollStillRunning, Attempts: maxAttempts}, nil
}

// fetchHistory reads /history/{id}. found is false when the id has no entry
// yet.
func (c *ComfyClient) fetchHistory(ctx context.Context, promptID string) (*historyEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("history endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	var history map[string]json.RawMessage
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, false, fmt.Errorf("invalid history response: %w", err)
	}
	raw, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	var entry historyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("invalid history entry: %w", err)
	}
	return &entry, true, nil
}

// fetchFullHistoryOutputs checks the unscoped /history for outputs of the
// given prompt. Best effort: any failure returns empty outputs.
func (c *ComfyClient) fetchFullHistoryOutputs(ctx context.Context, promptID string) NodeOutputs {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history", nil)
	if err != nil {
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[ComfyUI] Could not fetch full history: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil
	}
	if entry, ok := history[promptID]; ok {
		return entry.Outputs
	}
	return nil
}
