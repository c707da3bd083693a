package handler

import (
	"strings"

	"bizsuite-orchestrator/internal/adapter/http/dto"
	"bizsuite-orchestrator/internal/adapter/http/middleware"
	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SagaHandler exposes saga runs to operators and approvers. Runs of other
// tenants are reported as not found.
type SagaHandler struct {
	svc ports.SagaService
}

// NewSagaHandler creates a new SagaHandler.
func NewSagaHandler(svc ports.SagaService) *SagaHandler {
	return &SagaHandler{svc: svc}
}

// List handles GET /api/v1/sagas.
func (h *SagaHandler) List(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.SagaListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	statuses, err := parseStatuses(q.Status)
	if err != nil {
		response.Error(c, err)
		return
	}

	runs, err := h.svc.List(c.Request.Context(), ports.SagaRunFilter{
		TenantID: tenantID,
		SagaName: q.Saga,
		Statuses: statuses,
		Limit:    q.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	out := dto.SagaRunListResponse{Runs: make([]dto.SagaRunResponse, 0, len(runs))}
	for i := range runs {
		out.Runs = append(out.Runs, dto.NewSagaRunResponse(&runs[i]))
	}
	out.Count = len(out.Runs)
	response.OK(c, out)
}

// Get handles GET /api/v1/sagas/:id.
func (h *SagaHandler) Get(c *gin.Context) {
	run, ok := h.loadOwned(c)
	if !ok {
		return
	}
	response.OK(c, dto.NewSagaRunResponse(run))
}

// Approve handles POST /api/v1/sagas/:id/approve.
func (h *SagaHandler) Approve(c *gin.Context) {
	run, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.svc.Approve(c.Request.Context(), run.ID, actor(c))
	h.respond(c, updated, err)
}

// Reject handles POST /api/v1/sagas/:id/reject.
func (h *SagaHandler) Reject(c *gin.Context) {
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	req.Reason = dto.CleanReason(req.Reason)

	run, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.svc.Reject(c.Request.Context(), run.ID, actor(c), req.Reason)
	h.respond(c, updated, err)
}

// Abort handles POST /api/v1/sagas/:id/abort. The body is optional.
func (h *SagaHandler) Abort(c *gin.Context) {
	var req dto.AbortRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		req.Reason = dto.CleanReason(req.Reason)
	}

	run, ok := h.loadOwned(c)
	if !ok {
		return
	}
	updated, err := h.svc.Abort(c.Request.Context(), run.ID, actor(c), req.Reason)
	h.respond(c, updated, err)
}

func (h *SagaHandler) respond(c *gin.Context, run *domain.SagaRun, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewSagaRunResponse(run))
}

// loadOwned fetches the run named by :id and writes the error response
// itself when the run is missing or belongs to another tenant.
func (h *SagaHandler) loadOwned(c *gin.Context) (*domain.SagaRun, bool) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Saga run"))
		return nil, false
	}

	run, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if run == nil || run.TenantID != tenantID {
		response.Error(c, apperror.ErrNotFound("Saga run"))
		return nil, false
	}
	return run, true
}

// actor identifies the caller in step history.
func actor(c *gin.Context) string {
	if user := middleware.UserID(c); user != "" {
		return "user:" + user
	}
	return "tenant:" + middleware.TenantID(c)
}

func parseStatuses(raw []string) ([]domain.SagaStatus, error) {
	var out []domain.SagaStatus
	for _, v := range raw {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			status := domain.SagaStatus(s)
			if !status.Valid() {
				return nil, apperror.Validation("unknown saga status " + s)
			}
			out = append(out, status)
		}
	}
	return out, nil
}
