package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

// Version is reported by the health endpoint
var Version = "dev"

const (
	defaultListLimit = 50
	maxListLimit     = 500

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	approvalService service.ApprovalService
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(approvalService service.ApprovalService, logger Logger) *Handlers {
	return &Handlers{
		approvalService: approvalService,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CreatePaymentRequestBody is the body of POST /api/payment-requests
type CreatePaymentRequestBody struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id" binding:"required"`
	RequesterID string  `json:"requester_id" binding:"required"`
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"required"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
}

// StartWorkflowBody is the body of POST /api/workflows/start. Exactly one of
// Graph and GraphID is set.
type StartWorkflowBody struct {
	Graph            *graph.Graph `json:"graph"`
	GraphID          string       `json:"graph_id"`
	PaymentRequestID string       `json:"payment_request_id" binding:"required"`
}

// DecisionBody is the body of POST /api/instances/:id/nodes/:nodeId/decision
type DecisionBody struct {
	Approved  *bool  `json:"approved" binding:"required"`
	DecidedBy string `json:"decided_by" binding:"required"`
	Comments  string `json:"comments"`
}

// ListInstancesQuery represents query parameters for listing instances
type ListInstancesQuery struct {
	OrgID            string `form:"org_id"`
	Status           string `form:"status"`
	PaymentRequestID string `form:"payment_request_id"`
	Limit            int    `form:"limit"`
}

// RegisterOrganization handles POST /api/organizations
func (h *Handlers) RegisterOrganization(c *gin.Context) {
	var org entity.Organization
	if err := c.ShouldBindJSON(&org); err != nil {
		h.badRequest(c, err)
		return
	}
	stored, err := h.approvalService.RegisterOrganization(c.Request.Context(), &org)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: stored})
}

// RegisterUser handles POST /api/users
func (h *Handlers) RegisterUser(c *gin.Context) {
	var user entity.User
	if err := c.ShouldBindJSON(&user); err != nil {
		h.badRequest(c, err)
		return
	}
	stored, err := h.approvalService.RegisterUser(c.Request.Context(), &user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: stored})
}

// CreatePaymentRequest handles POST /api/payment-requests
func (h *Handlers) CreatePaymentRequest(c *gin.Context) {
	var body CreatePaymentRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	req, err := h.approvalService.CreatePaymentRequest(c.Request.Context(), &entity.PaymentRequest{
		ID:          body.ID,
		OrgID:       body.OrgID,
		RequesterID: body.RequesterID,
		Amount:      body.Amount,
		Currency:    body.Currency,
		Category:    body.Category,
		Description: body.Description,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// GetPaymentRequest handles GET /api/payment-requests/:id
func (h *Handlers) GetPaymentRequest(c *gin.Context) {
	req, err := h.approvalService.GetPaymentRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// SaveGraph handles POST /api/graphs
func (h *Handlers) SaveGraph(c *gin.Context) {
	var g graph.Graph
	if err := c.ShouldBindJSON(&g); err != nil {
		h.badRequest(c, err)
		return
	}
	stored, err := h.approvalService.SaveGraph(c.Request.Context(), &g)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: stored})
}

// StartWorkflow handles POST /api/workflows/start
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var body StartWorkflowBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	var (
		inst *entity.WorkflowInstance
		err  error
	)
	switch {
	case body.Graph != nil && body.GraphID != "":
		h.badRequest(c, errors.New("graph and graph_id are mutually exclusive"))
		return
	case body.Graph != nil:
		inst, err = h.approvalService.StartForPaymentRequest(c.Request.Context(), body.Graph, body.PaymentRequestID)
	case body.GraphID != "":
		inst, err = h.approvalService.StartWithStoredGraph(c.Request.Context(), body.GraphID, body.PaymentRequestID)
	default:
		h.badRequest(c, errors.New("graph or graph_id is required"))
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// Decide handles POST /api/instances/:id/nodes/:nodeId/decision
func (h *Handlers) Decide(c *gin.Context) {
	var body DecisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	inst, err := h.approvalService.Decide(c.Request.Context(),
		c.Param("id"), c.Param("nodeId"), *body.Approved, body.DecidedBy, body.Comments)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// GetInstance handles GET /api/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.approvalService.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// ListInstances handles GET /api/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var q ListInstancesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}

	instances, err := h.approvalService.ListInstances(c.Request.Context(), entity.InstanceFilter{
		OrgID:            q.OrgID,
		Status:           domainwf.State(strings.ToUpper(q.Status)),
		PaymentRequestID: q.PaymentRequestID,
		Limit:            q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// GetHistory handles GET /api/instances/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	rows, err := h.approvalService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []*entity.ApprovalHistory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rows})
}

// GetNotifications handles GET /api/instances/:id/notifications
func (h *Handlers) GetNotifications(c *gin.Context) {
	records, err := h.approvalService.Notifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []*entity.NotificationRecord{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ExportHistory handles GET /api/instances/:id/export
func (h *Handlers) ExportHistory(c *gin.Context) {
	id := c.Param("id")
	data, err := h.approvalService.ExportHistory(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "approval-"+id+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInstanceNotFound),
		errors.Is(err, workflow.ErrNodeNotFound),
		errors.Is(err, workflow.ErrGraphNotFound),
		errors.Is(err, service.ErrPaymentRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrNodeAlreadyResolved),
		errors.Is(err, workflow.ErrInstanceTerminal),
		errors.Is(err, workflow.ErrNodeNotActive),
		errors.Is(err, service.ErrRequestNotSubmitted):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidGraph),
		errors.Is(err, workflow.ErrNoStartNode),
		errors.Is(err, workflow.ErrNodeNotApproval),
		errors.Is(err, service.ErrRequesterNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, workflow.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
