package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pravatus-technologies/spreed/internal/dispatch"
	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/signaling"
	"github.com/pravatus-technologies/spreed/internal/standalone"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

type SignalingHandlers struct {
	dispatcher *dispatch.Dispatcher
	reconciler *signaling.Reconciler
	resync     standalone.Resyncer
}

func NewSignalingHandlers(dispatcher *dispatch.Dispatcher, reconciler *signaling.Reconciler, resync standalone.Resyncer) *SignalingHandlers {
	return &SignalingHandlers{
		dispatcher: dispatcher,
		reconciler: reconciler,
		resync:     resync,
	}
}

// HandleInternalSnapshot ingests a full internal-signaling snapshot for one
// conversation. The snapshot runs on the conversation's worker so it cannot
// interleave with standalone signaling events for the same token.
func (h *SignalingHandlers) HandleInternalSnapshot(w http.ResponseWriter, r *http.Request, token string) {
	var req models.SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	type result struct {
		unknown bool
		err     error
	}
	resultCh := make(chan result, 1)

	h.dispatcher.Submit(token, func(ctx context.Context) {
		unknown, err := h.reconciler.ApplyInternalSnapshot(ctx, token, req.Participants)
		if unknown && h.resync != nil {
			if err := h.resync.EnqueueResync(ctx, token); err != nil {
				logger.Error("Failed to schedule resync for conversation %s: %v", token, err)
			}
		}
		resultCh <- result{unknown: unknown, err: err}
	})

	select {
	case res := <-resultCh:
		if res.err != nil {
			logger.Error("Snapshot for conversation %s failed: %v", token, res.err)
			http.Error(w, "snapshot failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, models.SnapshotResponse{UnknownSessions: res.unknown})
	case <-r.Context().Done():
		// The snapshot still runs to completion on the worker.
		http.Error(w, "request canceled", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}
