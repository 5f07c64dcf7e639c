package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fleet-dispatch/internal/audit"
	"fleet-dispatch/internal/auth"
	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/dispatch"
	"fleet-dispatch/internal/rbac"
	"fleet-dispatch/internal/reporting"
	"fleet-dispatch/internal/telephony"
	"fleet-dispatch/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Store      batch.Store
	Dispatcher *dispatch.Dispatcher
	Ingestor   *dispatch.Ingestor
	Reports    *reporting.Service

	// Audit is best-effort; a nil service disables auditing and failures
	// never block the request.
	Audit *audit.Service

	Clock func() time.Time
}

func (h Handlers) auditOp(c *gin.Context, log func(ctx context.Context, actorID, actorRole, ip string) error) {
	if h.Audit == nil {
		return
	}
	actorID, _ := auth.OperatorID(c.Request.Context())
	actorRole, _ := auth.Role(c.Request.Context())
	if err := log(context.WithoutCancel(c.Request.Context()), actorID, actorRole, c.ClientIP()); err != nil {
		logger.From(c.Request.Context()).Warn("audit append failed", "err", err)
	}
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.OperatorID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Batches ---

type createBatchRequest struct {
	Name string                  `json:"name"`
	Jobs []createBatchJobRequest `json:"jobs"`
}

type createBatchJobRequest struct {
	DriverName  string `json:"driver_name"`
	PhoneNumber string `json:"phone_number"`
	TargetRef   string `json:"target_ref,omitempty"`
	Message     string `json:"message,omitempty"`
}

// CreateBatch uploads one batch of outbound calls. Phone numbers are
// normalized to E.164; the batch is approved on upload and waits for an
// explicit dispatch trigger.
func (h Handlers) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == "" || len(req.Jobs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "name and at least one job required"})
		return
	}

	now := h.now()
	approved := now
	b := batch.Batch{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Status:     batch.BatchStatusApproved,
		TotalJobs:  len(req.Jobs),
		CreatedAt:  now,
		ApprovedAt: &approved,
	}

	jobs := make([]batch.CallJob, 0, len(req.Jobs))
	for i, jr := range req.Jobs {
		if jr.DriverName == "" || jr.PhoneNumber == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "driver_name and phone_number required", "job_index": i,
			})
			return
		}
		jobs = append(jobs, batch.CallJob{
			ID:          uuid.NewString(),
			BatchID:     b.ID,
			DriverName:  jr.DriverName,
			PhoneNumber: batch.NormalizePhone(jr.PhoneNumber),
			TargetRef:   jr.TargetRef,
			Message:     jr.Message,
			Status:      batch.JobStatusQueued,
			// Millisecond offsets keep creation order stable for dispatch.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	if err := h.Store.CreateBatch(c.Request.Context(), b, jobs); err != nil {
		logger.From(c.Request.Context()).Error("batch create failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "batch create failed"})
		return
	}

	h.auditOp(c, func(ctx context.Context, actorID, actorRole, ip string) error {
		return h.Audit.LogBatchCreated(ctx, actorID, actorRole, ip, b.ID, "")
	})

	c.JSON(http.StatusCreated, gin.H{"batch": b, "jobs": jobs})
}

// GetBatch returns one batch with its jobs.
func (h Handlers) GetBatch(c *gin.Context) {
	batchID := c.Param("batch_id")
	b, err := h.Store.GetBatch(c.Request.Context(), batchID)
	if errors.Is(err, batch.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "batch lookup failed"})
		return
	}
	jobs, err := h.Store.ListJobs(c.Request.Context(), batchID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b, "jobs": jobs})
}

// BatchSummary returns per-status aggregates for one batch.
func (h Handlers) BatchSummary(c *gin.Context) {
	out, err := h.Reports.BatchSummary(c.Request.Context(), reporting.BatchSummaryRequest{
		BatchID: c.Param("batch_id"),
	})
	if errors.Is(err, batch.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "batch_id required"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// JobHistory returns the flat call log, newest first. Optional query params:
// from, to (RFC3339) and limit.
func (h Handlers) JobHistory(c *gin.Context) {
	var req reporting.HistoryRequest
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		req.Range.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		req.Range.To = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		req.Limit = n
	}

	rows, err := h.Reports.History(c.Request.Context(), req)
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": rows, "count": len(rows)})
}

// --- Dispatch ---

type dispatchRequest struct {
	BatchID string `json:"batch_id"`
}

// TriggerDispatch runs the dispatch loop for one batch synchronously and
// returns the placement summary. The loop throttle bounds the response time
// to roughly jobs x delay; operators see exactly what was initiated.
func (h Handlers) TriggerDispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BatchID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "batch_id required"})
		return
	}

	h.auditOp(c, func(ctx context.Context, actorID, actorRole, ip string) error {
		return h.Audit.LogDispatchStarted(ctx, actorID, actorRole, ip, req.BatchID, "")
	})

	sum, err := h.Dispatcher.DispatchBatch(c.Request.Context(), req.BatchID)
	switch {
	case errors.Is(err, batch.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	case errors.Is(err, batch.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "batch_id required"})
		return
	case errors.Is(err, dispatch.ErrDispatchInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "dispatch already running for batch"})
		return
	case errors.Is(err, dispatch.ErrProviderNotConfigured):
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dial provider not configured"})
		return
	case err != nil:
		logger.From(c.Request.Context()).Error("dispatch failed", "batch_id", req.BatchID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch_id": req.BatchID, "initiated": sum.Initiated, "failed": sum.Failed})
}

type stopJobRequest struct {
	JobID string `json:"job_id"`
}

// StopJob force-stops one call.
func (h Handlers) StopJob(c *gin.Context) {
	var req stopJobRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	job, err := h.Dispatcher.StopJob(c.Request.Context(), req.JobID)
	if errors.Is(err, batch.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stop failed"})
		return
	}

	h.auditOp(c, func(ctx context.Context, actorID, actorRole, ip string) error {
		return h.Audit.LogCallStopped(ctx, actorID, actorRole, ip, job.BatchID, job.ID, "")
	})

	c.JSON(http.StatusOK, gin.H{"job": job})
}

type transcriptRequest struct {
	JobID string `json:"job_id"`
}

// FetchTranscript returns the stored transcript or pulls it from the
// provider when the terminal webhook was lost.
func (h Handlers) FetchTranscript(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "job_id required"})
		return
	}

	res, err := h.Dispatcher.FetchTranscript(c.Request.Context(), req.JobID)
	switch {
	case errors.Is(err, batch.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	case errors.Is(err, dispatch.ErrNoProviderHandle):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "job has no provider call id"})
		return
	case errors.Is(err, dispatch.ErrProviderUnavailable), errors.Is(err, dispatch.ErrProviderNotConfigured):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider transcript fetch failed"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcript fetch failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Webhooks ---

// ProviderWebhook ingests Voxio call lifecycle events. It always answers 200
// for processed, stale and dropped events; a non-2xx would only make the
// provider retry an event we have already decided about.
func (h Handlers) ProviderWebhook(c *gin.Context) {
	var payload telephony.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		// Malformed body is the one case worth a 400: the provider's retry
		// might carry a fixed payload.
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Ingestor.Apply(c.Request.Context(), payload.Normalize())
	if err != nil {
		logger.From(c.Request.Context()).Error("webhook ingest failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// Convenience middleware bundles.

func RequireOperatorAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOperator(), rbac.RequireAnyRole(roles...)}
}
