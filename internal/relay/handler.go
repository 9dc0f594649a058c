package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// result is the envelope of every successful JSON answer.
type result struct {
	Result any `json:"result"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.OrDefault(log).With(slog.String("component", "relay-http"))}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrInvalidUserID):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotAllowed):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) decodeUserID(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	var p domain.UserIDPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return 0, false
	}
	if caller := UserIDFromCtx(r.Context()); caller != 0 && caller != p.ID {
		h.fail(w, r, ErrUnauthorized)
		return 0, false
	}
	return p.ID, true
}

// POST /users/connect-admin
func (h *Handler) ConnectAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeUserID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetPresence(r.Context(), id, true); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /users/disconnect-admin
func (h *Handler) DisconnectAdmin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeUserID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetPresence(r.Context(), id, false); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /users/online-users
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Store().OnlineUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result{Result: users})
}

// GET /messages/room/{roomId}
func (h *Handler) RoomMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Store().RoomMessages(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result{Result: msgs})
}

// GET /messages/rooms/detailed?userId=
func (h *Handler) DetailedRooms(w http.ResponseWriter, r *http.Request) {
	user := UserIDFromCtx(r.Context())
	if s := r.URL.Query().Get("userId"); s != "" {
		id, err := domain.ParseUserID(s)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if user != 0 && user != id {
			h.fail(w, r, ErrUnauthorized)
			return
		}
		user = id
	}
	if user == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "userId is required"})
		return
	}

	rooms, err := h.svc.Store().DetailedRooms(r.Context(), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result{Result: rooms})
}

// POST /messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if caller := UserIDFromCtx(r.Context()); caller != 0 {
		req.SenderID = caller
	}
	if req.SenderID <= 0 {
		h.fail(w, r, domain.ErrInvalidUserID)
		return
	}

	m, err := h.svc.SendMessage(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result{Result: m})
}
