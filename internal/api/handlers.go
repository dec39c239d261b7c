// internal/api/handlers.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/models"

	"github.com/go-chi/chi/v5"
)

// enqueueRequest is the POST /api/v1/notifications body.
type enqueueRequest struct {
	TenantID         string            `json:"tenantId"`
	Channel          string            `json:"channel"`
	NotificationType string            `json:"notificationType"`
	TemplateName     string            `json:"templateName"`
	RecipientAddress string            `json:"recipientAddress"`
	CorrelationID    string            `json:"correlationId"`
	Variables        map[string]string `json:"variables"`
	ScheduledFor     string            `json:"scheduledFor"`
	MaxAttempts      int               `json:"maxAttempts"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, errors.NewValidationError("request body unreadable or too large"))
		return
	}

	if err := validateEnqueueBody(body); err != nil {
		writeError(w, err)
		return
	}

	var req enqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, errors.NewValidationError(err.Error()))
		return
	}

	job := &models.NotificationJob{
		TenantID:         req.TenantID,
		Channel:          models.Channel(req.Channel),
		NotificationType: models.NotificationType(req.NotificationType),
		TemplateName:     req.TemplateName,
		Variables:        req.Variables,
		RecipientAddress: req.RecipientAddress,
		CorrelationID:    req.CorrelationID,
		MaxAttempts:      req.MaxAttempts,
	}
	if req.ScheduledFor != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			writeError(w, errors.NewValidationError("scheduledFor must be RFC 3339"))
			return
		}
		job.ScheduledFor = at.UTC()
	}

	res, err := s.queue.Enqueue(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	if res.Duplicate {
		metrics.JobsDeduplicated.WithLabelValues(req.TenantID, req.Channel, req.NotificationType).Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobId":     res.JobID,
			"duplicate": true,
		})
		return
	}

	metrics.JobsEnqueued.WithLabelValues(req.TenantID, req.Channel, req.NotificationType).Inc()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobId":     res.JobID,
		"duplicate": false,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.queue.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeError(w, errors.NewJobNotFoundError(jobID))
		return
	}

	history, err := s.tracker.History(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":     job,
		"history": history,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channel, ok := parseChannel(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, errors.NewValidationError("unknown channel"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, errors.NewValidationError("request body unreadable or too large"))
		return
	}

	signature := r.Header.Get("X-Signature")
	if err := s.processor.HandleCallback(r.Context(), channel, body, signature); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Template management ---

type templateRequest struct {
	Name              string   `json:"name"`
	Channel           string   `json:"channel"`
	BodyTemplate      string   `json:"bodyTemplate"`
	SubjectTemplate   string   `json:"subjectTemplate"`
	RequiredVariables []string `json:"requiredVariables"`
	Active            bool     `json:"active"`
	IsDefault         bool     `json:"isDefault"`
}

func (s *Server) decodeTemplate(r *http.Request) (*models.MessageTemplate, error) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	channel, ok := parseChannel(req.Channel)
	if !ok {
		return nil, errors.NewValidationError("unknown channel")
	}
	if req.Name == "" || req.BodyTemplate == "" {
		return nil, errors.NewValidationError("name and bodyTemplate are required")
	}
	return &models.MessageTemplate{
		TenantID:          chi.URLParam(r, "tenantID"),
		Name:              req.Name,
		Channel:           channel,
		BodyTemplate:      req.BodyTemplate,
		SubjectTemplate:   req.SubjectTemplate,
		RequiredVariables: req.RequiredVariables,
		Active:            req.Active,
		IsDefault:         req.IsDefault,
	}, nil
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.decodeTemplate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.templates.Create(r.Context(), tmpl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.decodeTemplate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tmpl.Name = chi.URLParam(r, "name")
	channel, ok := parseChannel(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, errors.NewValidationError("unknown channel"))
		return
	}
	tmpl.Channel = channel

	if err := s.templates.Update(r.Context(), tmpl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	channel, ok := parseChannel(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, errors.NewValidationError("unknown channel"))
		return
	}
	tmpl, err := s.templates.Get(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "name"), channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	channel, ok := parseChannel(chi.URLParam(r, "channel"))
	if !ok {
		writeError(w, errors.NewValidationError("unknown channel"))
		return
	}
	if err := s.templates.Delete(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "name"), channel); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.templates.List(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": list})
}

// --- Stats and operations ---

func (s *Server) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, errors.NewValidationError("since must be RFC 3339"))
			return
		}
		since = parsed.UTC()
	}

	stats, err := s.tracker.AggregateStats(r.Context(), chi.URLParam(r, "tenantID"), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, errors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	dead, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": dead})
}

func (s *Server) handleRequeueDead(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.RequeueDead(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.QueueDepthPending.WithLabelValues("all").Set(float64(depth.Pending))
	metrics.QueueDepthInFlight.WithLabelValues("all").Set(float64(depth.InFlight))
	writeJSON(w, http.StatusOK, depth)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.ErrorCode("INTERNAL")
	message := err.Error()

	if std, ok := errors.AsStandard(err); ok {
		code = std.Code
		message = std.Message
		if std.Details != "" {
			message = std.Message + ": " + std.Details
		}
		switch std.Code {
		case errors.ErrCodeEnqueueValidationFailed, errors.ErrCodeCallbackMalformed:
			status = http.StatusBadRequest
		case errors.ErrCodeCallbackSignatureInvalid:
			status = http.StatusUnauthorized
		case errors.ErrCodeTemplateNotFound, errors.ErrCodeJobNotFound:
			status = http.StatusNotFound
		case errors.ErrCodeTemplateConflict, errors.ErrCodeTemplateAmbiguous:
			status = http.StatusConflict
		case errors.ErrCodeQueueUnavailable, errors.ErrCodeStorageUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}
