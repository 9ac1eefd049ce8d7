package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/apiserver/middleware"
	"github.com/crewboard/crewboard/pkg/eventbus"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store"
	"github.com/crewboard/crewboard/pkg/store/postgres"
	redisclient "github.com/crewboard/crewboard/pkg/store/redis"
)

type OrderHandler struct {
	orders    *postgres.OrderRepository
	apps      *postgres.ApplicationRepository
	engine    *admission.Engine
	auditRepo store.AuditStore
	counts    *redisclient.CountCache
	redis     *redisclient.Client
	logger    *zap.Logger
}

func NewOrderHandler(orders *postgres.OrderRepository, apps *postgres.ApplicationRepository, engine *admission.Engine, auditRepo store.AuditStore, counts *redisclient.CountCache, redis *redisclient.Client, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		apps:      apps,
		engine:    engine,
		auditRepo: auditRepo,
		counts:    counts,
		redis:     redis,
		logger:    logger,
	}
}

type orderCreateRequest struct {
	WorkerType    string   `json:"worker_type" binding:"required"`
	RequiredCount int      `json:"required_count" binding:"required"`
	Policy        string   `json:"policy"`
	Description   string   `json:"description"`
	Location      string   `json:"location"`
	JobDate       string   `json:"job_date" binding:"required"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	MapURL        string   `json:"map_url"`
}

type orderUpdateRequest struct {
	Description *string `json:"description"`
	Location    *string `json:"location"`
	JobDate     *string `json:"job_date"`
	MapURL      *string `json:"map_url"`
}

type orderResponse struct {
	ID            string   `json:"id"`
	EmployerID    string   `json:"employer_id"`
	WorkerType    string   `json:"worker_type"`
	RequiredCount int      `json:"required_count"`
	Policy        string   `json:"policy"`
	Status        string   `json:"status"`
	Description   string   `json:"description,omitempty"`
	Location      string   `json:"location,omitempty"`
	JobDate       string   `json:"job_date"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	MapURL        string   `json:"map_url,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

type orderDetailResponse struct {
	orderResponse
	AcceptedCount int     `json:"accepted_count"`
	TotalEntries  int     `json:"total_entries"`
	MyStatus      *string `json:"my_status,omitempty"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req orderCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if req.RequiredCount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "required_count must be positive"})
		return
	}

	policy := model.PolicyCurated
	if req.Policy != "" {
		policy = model.AdmissionPolicy(req.Policy)
		if !model.IsValidPolicy(policy) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy"})
			return
		}
	}

	jobDate, err := time.Parse(time.RFC3339, req.JobDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_date"})
		return
	}

	order := &model.Order{
		ID:            uuid.New(),
		EmployerID:    middleware.CallerID(c),
		WorkerType:    req.WorkerType,
		RequiredCount: req.RequiredCount,
		Policy:        policy,
		Status:        model.OrderOpen,
		Description:   req.Description,
		Location:      req.Location,
		JobDate:       jobDate,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		MapURL:        req.MapURL,
	}

	if err := h.orders.Create(c.Request.Context(), order); err != nil {
		h.logger.Error("failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	h.publishOrderEvent(c.Request.Context(), order.ID, string(order.Status), "created")

	c.JSON(http.StatusCreated, mapOrder(order))
}

func (h *OrderHandler) List(c *gin.Context) {
	from := time.Now().UTC()
	if fromValue := strings.TrimSpace(c.Query("from")); fromValue != "" {
		parsed, err := time.Parse(time.RFC3339, fromValue)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return
		}
		from = parsed
	}
	to := from.AddDate(0, 0, 7)
	if toValue := strings.TrimSpace(c.Query("to")); toValue != "" {
		parsed, err := time.Parse(time.RFC3339, toValue)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return
		}
		to = parsed
	}

	limit := parseLimit(c.Query("limit"), 20)
	offset := parseOffset(c.Query("offset"))

	orders, err := h.orders.ListOpen(c.Request.Context(), from, to, limit, offset)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	response := make([]orderResponse, 0, len(orders))
	for i := range orders {
		response = append(response, mapOrder(&orders[i]))
	}

	c.JSON(http.StatusOK, gin.H{"orders": response})
}

func (h *OrderHandler) Mine(c *gin.Context) {
	ctx := c.Request.Context()
	orders, err := h.orders.ListByEmployer(ctx, middleware.CallerID(c))
	if err != nil {
		h.logger.Error("failed to list employer orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	response := make([]orderDetailResponse, 0, len(orders))
	for i := range orders {
		detail := orderDetailResponse{orderResponse: mapOrder(&orders[i])}
		counts, err := h.orders.Counts(ctx, orders[i].ID)
		if err != nil {
			h.logger.Error("failed to count entries", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
			return
		}
		detail.AcceptedCount = counts.Accepted
		detail.TotalEntries = counts.Total
		response = append(response, detail)
	}

	c.JSON(http.StatusOK, gin.H{"orders": response})
}

func (h *OrderHandler) Get(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	detail := orderDetailResponse{orderResponse: mapOrder(order)}

	if accepted, ok := h.cachedAccepted(ctx, orderID); ok {
		detail.AcceptedCount = accepted
		counts, err := h.orders.Counts(ctx, orderID)
		if err == nil {
			detail.TotalEntries = counts.Total
		}
	} else {
		counts, err := h.orders.Counts(ctx, orderID)
		if err != nil {
			h.logger.Error("failed to count entries", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
			return
		}
		detail.AcceptedCount = counts.Accepted
		detail.TotalEntries = counts.Total
		if h.counts != nil {
			h.counts.Set(ctx, orderID, counts.Accepted)
		}
	}

	if entry, err := h.apps.Find(ctx, orderID, middleware.CallerID(c)); err == nil && entry != nil {
		status := string(entry.Status)
		detail.MyStatus = &status
	}

	c.JSON(http.StatusOK, detail)
}

func (h *OrderHandler) Update(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	var req orderUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Location != nil {
		updates["location"] = *req.Location
	}
	if req.MapURL != nil {
		updates["map_url"] = *req.MapURL
	}
	if req.JobDate != nil {
		jobDate, err := time.Parse(time.RFC3339, *req.JobDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_date"})
			return
		}
		updates["job_date"] = jobDate
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	updated, err := h.orders.Update(c.Request.Context(), middleware.CallerID(c), orderID, updates)
	if err != nil {
		h.logger.Error("failed to update order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *OrderHandler) Delete(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	deleted, err := h.orders.Delete(c.Request.Context(), middleware.CallerID(c), orderID)
	if err != nil {
		h.logger.Error("failed to delete order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete order"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *OrderHandler) Close(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.engine.CloseOrder(c.Request.Context(), middleware.CallerID(c), orderID); err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	h.invalidateCounts(c.Request.Context(), orderID)
	h.publishOrderEvent(c.Request.Context(), orderID, string(model.OrderClosed), "closed by employer")

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (h *OrderHandler) RejectAll(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	if err := h.engine.RejectAllAndClose(c.Request.Context(), middleware.CallerID(c), orderID); err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	h.invalidateCounts(c.Request.Context(), orderID)
	h.publishOrderEvent(c.Request.Context(), orderID, string(model.OrderClosed), "all pending applications rejected")

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (h *OrderHandler) Audit(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}
	if order.EmployerID != middleware.CallerID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	limit := parseLimit(c.Query("limit"), 100)
	entries, err := h.auditRepo.List(c.Request.Context(), orderID.String(), limit)
	if err != nil {
		h.logger.Error("failed to list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *OrderHandler) cachedAccepted(ctx context.Context, orderID uuid.UUID) (int, bool) {
	if h.counts == nil {
		return 0, false
	}
	return h.counts.Get(ctx, orderID)
}

func (h *OrderHandler) invalidateCounts(ctx context.Context, orderID uuid.UUID) {
	if h.counts != nil {
		h.counts.Invalidate(ctx, orderID)
	}
}

func (h *OrderHandler) publishOrderEvent(ctx context.Context, orderID uuid.UUID, status, message string) {
	if h.redis == nil {
		return
	}
	bus := eventbus.NewBus(h.redis.Client())
	orderEvent := eventbus.OrderEvent{
		OrderID: orderID.String(),
		Status:  status,
		Message: message,
	}
	if event, err := eventbus.NewEvent("order_"+status, orderEvent); err == nil {
		_ = bus.Publish(ctx, eventbus.ChannelOrder, event)
	}
}

func mapOrder(order *model.Order) orderResponse {
	return orderResponse{
		ID:            order.ID.String(),
		EmployerID:    order.EmployerID.String(),
		WorkerType:    order.WorkerType,
		RequiredCount: order.RequiredCount,
		Policy:        string(order.Policy),
		Status:        string(order.Status),
		Description:   order.Description,
		Location:      order.Location,
		JobDate:       order.JobDate.UTC().Format(timeRFC3339Nano),
		Latitude:      order.Latitude,
		Longitude:     order.Longitude,
		MapURL:        order.MapURL,
		CreatedAt:     order.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
}
