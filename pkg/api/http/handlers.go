package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobSubmitRequest represents a job submission request
type JobSubmitRequest struct {
	Phases []workflow.GraphSpec `json:"phases" binding:"required,min=1"`
	Input  map[string]any       `json:"input"`
}

// JobSubmitResponse represents a job submission response
type JobSubmitResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewCompleteRequest carries a reviewer's verdict
type ReviewCompleteRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

// notFoundOr maps the domain not-found errors to 404.
func notFoundOr(c *gin.Context, err error, status int, code string) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrReviewNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", err)
	default:
		abortWithError(c, status, code, err)
	}
}

// handleHealth reports slot pool health
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	status := http.StatusOK

	if s.health != nil {
		pool := s.health.GetStatus()
		checks["slots"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
			checks["orchestrator"] = "degraded"
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":      state,
		"timestamp":   time.Now().UTC(),
		"active_jobs": s.orchestrator.ActiveJobs(),
		"checks":      checks,
	})
}

// handleSubmitJob handles job submission
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req JobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	jobID, err := s.orchestrator.Submit(c.Request.Context(), req.Phases, req.Input)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			abortWithError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err)
			return
		}
		s.logger.Error("failed to submit job", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err)
		return
	}

	c.JSON(http.StatusCreated, JobSubmitResponse{
		JobID:       jobID,
		Status:      string(domain.JobStatusPending),
		SubmittedAt: time.Now().UTC(),
	})
}

// handleListJobs lists stored job ids
func (s *Server) handleListJobs(c *gin.Context) {
	ids, err := s.orchestrator.ListJobs(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list jobs", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "STORAGE_ERROR", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  ids,
		"total": len(ids),
	})
}

// handleGetJob returns the status snapshot of a job
func (s *Server) handleGetJob(c *gin.Context) {
	snap, err := s.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFoundOr(c, err, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	c.JSON(http.StatusOK, snap)
}

// handleGetResult returns the terminal result of a job
func (s *Server) handleGetResult(c *gin.Context) {
	snap, err := s.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		notFoundOr(c, err, http.StatusInternalServerError, "STORAGE_ERROR")
		return
	}

	if !snap.Status.Terminal() || snap.Result == nil {
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "job is " + string(snap.Status),
			},
		})
		return
	}

	c.JSON(http.StatusOK, snap.Result)
}

// handleGetAudit returns the audit trail of a job
func (s *Server) handleGetAudit(c *gin.Context) {
	jobID := c.Param("id")
	records, err := s.orchestrator.AuditTrail(c.Request.Context(), jobID)
	if err != nil {
		notFoundOr(c, err, http.StatusInternalServerError, "AUDIT_ERROR")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"records": records,
	})
}

// handleCancelJob handles job cancellation
func (s *Server) handleCancelJob(c *gin.Context) {
	jobID := c.Param("id")

	if err := s.orchestrator.Cancel(c.Request.Context(), jobID); err != nil {
		notFoundOr(c, err, http.StatusConflict, "CANCELLATION_FAILED")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":       jobID,
		"status":       "cancelling",
		"requested_at": time.Now().UTC(),
	})
}

// handleReplay returns the recorded inputs of a node execution
func (s *Server) handleReplay(c *gin.Context) {
	nodeID := strings.TrimPrefix(c.Param("node"), "/")
	if nodeID == "" {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", errors.New("node id is required"))
		return
	}

	plan, err := s.orchestrator.Replay(c.Request.Context(), c.Param("id"), nodeID)
	if err != nil {
		notFoundOr(c, err, http.StatusInternalServerError, "AUDIT_ERROR")
		return
	}

	c.JSON(http.StatusOK, plan)
}

// handleTransparency returns the transparency report of a component
func (s *Server) handleTransparency(c *gin.Context) {
	component := strings.TrimPrefix(c.Param("component"), "/")
	if component == "" {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", errors.New("component is required"))
		return
	}

	c.JSON(http.StatusOK, s.orchestrator.Transparency(component))
}

// handleListReviews lists review requests, optionally of one job
func (s *Server) handleListReviews(c *gin.Context) {
	reviews := s.orchestrator.Reviews(c.Query("job_id"))
	if status := c.Query("status"); status != "" {
		filtered := reviews[:0]
		for _, r := range reviews {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		reviews = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"total":   len(reviews),
	})
}

// handleCompleteReview records a reviewer's verdict
func (s *Server) handleCompleteReview(c *gin.Context) {
	var req ReviewCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	review, err := s.orchestrator.CompleteReview(c.Request.Context(), c.Param("id"), *req.Approved)
	if err != nil {
		notFoundOr(c, err, http.StatusConflict, "REVIEW_FAILED")
		return
	}

	c.JSON(http.StatusOK, review)
}

// handleSlots returns the execution slot counters
func (s *Server) handleSlots(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.SlotStats())
}
