package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/propfirmflow/propfirmflow-api/pkg/auth"
	pferr "github.com/propfirmflow/propfirmflow-api/pkg/errors"
)

// maxSubscribeBodySize bounds the newsletter signup payload.
const maxSubscribeBodySize = 4 << 10

type handlers struct {
	directory  UserDirectory
	newsletter SubscriberStore
	logger     *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("PropFirmFlow API running"))
}

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	PID    int    `json:"pid"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), h.logger, w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
		PID:    os.Getpid(),
	})
}

type profileResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	UserType string    `json:"userType"`
	Picture  string    `json:"picture,omitempty"`
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	rec, ok := auth.RecordFromContext(r.Context())
	if !ok {
		writeError(r.Context(), h.logger, w, pferr.Unauthorized("no identity bound to request"))
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, profileResponse{
		ID:       rec.ID,
		Email:    rec.Email,
		Name:     rec.DisplayName,
		UserType: string(rec.Role),
		Picture:  rec.AvatarURL,
	})
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	records, err := h.directory.ListAll(r.Context())
	if err != nil {
		writeError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, records)
}

type userSyncResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	UserType string    `json:"userType"`
}

// userSync reports the record the middleware already synchronized for
// this request. The endpoint exists so clients can force a role refresh
// right after login.
func (h *handlers) userSync(w http.ResponseWriter, r *http.Request) {
	rec, ok := auth.RecordFromContext(r.Context())
	if !ok {
		writeError(r.Context(), h.logger, w, pferr.Unauthorized("no identity bound to request"))
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusOK, userSyncResponse{
		ID:       rec.ID,
		Email:    rec.Email,
		UserType: string(rec.Role),
	})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	body := http.MaxBytesReader(w, r.Body, maxSubscribeBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(r.Context(), h.logger, w,
			pferr.New(pferr.CodeValidation, "request body must be JSON with an email field"))
		return
	}

	sub, err := h.newsletter.Subscribe(r.Context(), req.Email)
	if err != nil {
		writeError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(r.Context(), h.logger, w, http.StatusCreated, sub)
}
