package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type statusHistoryEntry struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	QueuedAt time.Time `json:"queued_at"`
}

type statusResponse struct {
	ChatState      string               `json:"chat_state"`
	ChatSendQueue  int                  `json:"chat_send_queue"`
	QueueDepth     int                  `json:"queue_depth"`
	QueueActive    bool                 `json:"queue_active"`
	OverlayClients int                  `json:"overlay_clients"`
	History        []statusHistoryEntry `json:"history"`
}

// HandleStatus reports the live state of the chat session, the notification
// queue, and the overlay registry, plus recent playback history.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{History: []statusHistoryEntry{}}
	if h.deps.Chat != nil {
		resp.ChatState = string(h.deps.Chat.State())
		resp.ChatSendQueue = h.deps.Chat.QueueLen()
	}
	if h.deps.Queue != nil {
		resp.QueueDepth = h.deps.Queue.Depth()
		resp.QueueActive = h.deps.Queue.Active()
		for _, n := range h.deps.Queue.History() {
			resp.History = append(resp.History, statusHistoryEntry{
				Type:     n.Type.String(),
				Text:     n.DisplayText,
				QueuedAt: n.QueuedAt,
			})
		}
	}
	if h.deps.Hub != nil {
		resp.OverlayClients = h.deps.Hub.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
