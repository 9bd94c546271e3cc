package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pravatus-technologies/spreed/internal/database"
	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/internal/services"
	"github.com/pravatus-technologies/spreed/pkg/logger"
)

type ParticipantHandlers struct {
	conversations *services.ConversationService
}

func NewParticipantHandlers(conversations *services.ConversationService) *ParticipantHandlers {
	return &ParticipantHandlers{
		conversations: conversations,
	}
}

// ListParticipants returns the runtime attendee state of a conversation.
func (h *ParticipantHandlers) ListParticipants(w http.ResponseWriter, r *http.Request, token string) {
	attendees, err := h.conversations.ListParticipants(r.Context(), token)
	if err != nil {
		logger.Error("Error listing participants for %s: %v", token, err)
		http.Error(w, "error listing participants", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participants": attendees,
	})
}

// AddParticipant creates a durable membership and seeds the runtime store.
func (h *ParticipantHandlers) AddParticipant(w http.ResponseWriter, r *http.Request, token string) {
	var req models.AddAttendeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	attendee, err := h.conversations.AddAttendee(r.Context(), token, &req)
	if err != nil {
		logger.Error("Error adding participant to %s: %v", token, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, attendee)
}

// UpdateParticipant changes the durable role fields of one attendee.
func (h *ParticipantHandlers) UpdateParticipant(w http.ResponseWriter, r *http.Request, token string, attendeeID int64) {
	var req models.UpdateAttendeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.conversations.UpdateAttendee(r.Context(), token, attendeeID, &req); err != nil {
		if errors.Is(err, database.ErrAttendeeNotFound) {
			http.Error(w, "participant not found", http.StatusNotFound)
			return
		}
		logger.Error("Error updating participant %d in %s: %v", attendeeID, token, err)
		http.Error(w, "error updating participant", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveParticipant kicks one attendee out of the conversation.
func (h *ParticipantHandlers) RemoveParticipant(w http.ResponseWriter, r *http.Request, token string, attendeeID int64) {
	if err := h.conversations.RemoveAttendee(r.Context(), token, attendeeID); err != nil {
		logger.Error("Error removing participant %d from %s: %v", attendeeID, token, err)
		http.Error(w, "error removing participant", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncParticipants re-seeds the runtime store from the durable attendee list.
func (h *ParticipantHandlers) SyncParticipants(w http.ResponseWriter, r *http.Request, token string) {
	if err := h.conversations.SyncConversation(r.Context(), token); err != nil {
		logger.Error("Error syncing conversation %s: %v", token, err)
		http.Error(w, "error syncing conversation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
