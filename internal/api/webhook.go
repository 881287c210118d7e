package api

import (
	"net/http"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/review"
)

// Run events that start a review. Anything else is acknowledged and ignored.
var reviewedRunEvents = map[string]bool{
	"run:finished":      true,
	"run:tracked":       true,
	"run:plan_finished": true,
}

// runEvent is the CI run notification posted to /api/v1/webhooks/run.
type runEvent struct {
	Event struct {
		Type string `json:"type"`
	} `json:"event"`
	Run struct {
		ID    string `json:"id"`
		Stack struct {
			ID string `json:"id"`
		} `json:"stack"`
		State         string   `json:"state"`
		PreviousState string   `json:"previous_state"`
		ChangedFiles  []string `json:"changed_files"`
		Commit        struct {
			SHA string `json:"sha"`
		} `json:"commit"`
		Branch    string `json:"branch"`
		Terraform struct {
			Code string `json:"code"`
		} `json:"terraform"`
	} `json:"run"`
}

func (e *runEvent) submitRequest() review.SubmitRequest {
	return review.SubmitRequest{
		SourceSnapshot: e.Run.Terraform.Code,
		Context: &models.ReviewContext{
			StackID:        e.Run.Stack.ID,
			RunID:          e.Run.ID,
			Commit:         e.Run.Commit.SHA,
			Branch:         e.Run.Branch,
			ChangedFiles:   e.Run.ChangedFiles,
			Source:         "webhook",
			RunState:       e.Run.State,
			PreviousStatus: e.Run.PreviousState,
			EventType:      e.Event.Type,
		},
	}
}

func (s *Server) runWebhook(w http.ResponseWriter, r *http.Request) {
	var ev runEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if !reviewedRunEvents[ev.Event.Type] {
		s.logger.Info("webhook event ignored", "event_type", ev.Event.Type)
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "event type " + ev.Event.Type + " not handled",
		})
		return
	}

	rec, err := s.reviews.SubmitAsync(r.Context(), ev.submitRequest())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.logger.Info("webhook review accepted",
		"review_id", rec.ReviewID, "run_id", ev.Run.ID, "stack_id", ev.Run.Stack.ID, "event_type", ev.Event.Type)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id": rec.ReviewID,
		"run_id":    ev.Run.ID,
		"version":   rec.Version,
		"status":    rec.Status,
	})
}
