package httpserver

import (
	"errors"
	"io"
	"net/http"

	"okanassist/internal/assist"
	"okanassist/internal/identity"
	"okanassist/internal/repo"
)

// apiResponse is the envelope every API handler returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeFailure maps engine errors to HTTP statuses: unresolved identities
// are 401, credit denials 402, everything else 500.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var ce *assist.CreditError
	switch {
	case errors.Is(err, identity.ErrMustRegister), errors.Is(err, identity.ErrLinkFailed):
		writeStatusJSON(w, http.StatusUnauthorized, apiResponse{
			Message: "Please register first.",
			Reason:  identity.Reason(err),
		})
	case errors.As(err, &ce):
		writeStatusJSON(w, http.StatusPaymentRequired, apiResponse{
			Message: "Not enough credits. Use /upgrade for unlimited access.",
			Reason:  repo.CreditErrInsufficient,
			Data: map[string]int{
				"credits_available": ce.Available,
				"credits_needed":    ce.Needed,
			},
		})
	default:
		s.logger.Error("request failed", "error", err)
		s.metrics.Errors.WithLabelValues("http").Inc()
		writeStatusJSON(w, http.StatusInternalServerError, apiResponse{
			Message: "Internal error.",
			Reason:  "internal_error",
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := jsonDecode(r, dest); err != nil {
		writeStatusJSON(w, http.StatusBadRequest, apiResponse{Message: "malformed request body"})
		return false
	}
	return true
}

type startRequest struct {
	TelegramID string `json:"telegram_id"`
	UserID     string `json:"user_id,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Start(r.Context(), req.TelegramID, req.UserID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: out.Greeting, Data: map[string]bool{
		"registered": out.Registered,
	}})
}

type registerRequest struct {
	TelegramID string `json:"telegram_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Language   string `json:"language"`
	Timezone   string `json:"timezone"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.engine.Register(r.Context(), assist.RegisterRequest{
		TelegramID: req.TelegramID,
		Email:      req.Email,
		Name:       req.Name,
		Language:   req.Language,
		Timezone:   req.Timezone,
	})
	if err != nil {
		if errors.Is(err, repo.ErrChannelLinked) {
			writeStatusJSON(w, http.StatusConflict, apiResponse{
				Message: "This Telegram account is already linked to another user.",
			})
			return
		}
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: "Registered.", Data: id})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Start(r.Context(), req.TelegramID, "")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Data: map[string]bool{"authenticated": out.Registered}})
}

type messageRequest struct {
	TelegramID string `json:"telegram_id"`
	Text       string `json:"text"`
	Platform   string `json:"platform"`
}

func (s *Server) handleRouteMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Platform == "" {
		req.Platform = "api"
	}
	out, err := s.engine.RouteMessage(r.Context(), req.TelegramID, req.Text, req.Platform)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: out.Message, Data: out})
}

// readUpload pulls the telegram id and file out of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (telegramID string, data []byte, mimeType string, ok bool) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeStatusJSON(w, http.StatusBadRequest, apiResponse{Message: "expected multipart form"})
		return "", nil, "", false
	}
	telegramID = r.FormValue("telegram_id")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeStatusJSON(w, http.StatusBadRequest, apiResponse{Message: "missing file"})
		return "", nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, 16<<20))
	if err != nil {
		writeStatusJSON(w, http.StatusBadRequest, apiResponse{Message: "failed to read file"})
		return "", nil, "", false
	}
	mimeType = header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return telegramID, data, mimeType, true
}

func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	telegramID, data, mimeType, ok := readUpload(w, r)
	if !ok {
		return
	}
	out, err := s.engine.ProcessReceipt(r.Context(), telegramID, data, mimeType, "api")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: out.Message, Data: out})
}

func (s *Server) handleProcessStatement(w http.ResponseWriter, r *http.Request) {
	telegramID, data, mimeType, ok := readUpload(w, r)
	if !ok {
		return
	}
	out, err := s.engine.ProcessStatement(r.Context(), telegramID, data, mimeType, "api")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: out.Message, Data: out})
}

type summaryRequest struct {
	TelegramID string `json:"telegram_id"`
	Days       int    `json:"days"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Summary(r.Context(), req.TelegramID, req.Days)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Data: out})
}

type remindersRequest struct {
	TelegramID       string `json:"telegram_id"`
	IncludeCompleted bool   `json:"include_completed"`
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	var req remindersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Reminders(r.Context(), req.TelegramID, req.IncludeCompleted)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Data: out})
}

type completeReminderRequest struct {
	TelegramID string `json:"telegram_id"`
	ReminderID int64  `json:"reminder_id"`
}

func (s *Server) handleCompleteReminder(w http.ResponseWriter, r *http.Request) {
	var req completeReminderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	done, err := s.engine.CompleteReminder(r.Context(), req.TelegramID, req.ReminderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !done {
		writeStatusJSON(w, http.StatusNotFound, apiResponse{Message: "Reminder not found."})
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: "Reminder completed."})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.engine.Upgrade(r.Context(), req.TelegramID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Message: "Complete your upgrade at the checkout link.", Data: out})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	out, err := s.engine.CreditStatusByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeStatusJSON(w, http.StatusNotFound, apiResponse{Message: "Unknown user."})
			return
		}
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, apiResponse{Success: true, Data: out})
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, apiResponse{Success: true, Message: assist.Help()})
}
