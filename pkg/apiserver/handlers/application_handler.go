package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/apiserver/middleware"
	"github.com/crewboard/crewboard/pkg/eventbus"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store/postgres"
	redisclient "github.com/crewboard/crewboard/pkg/store/redis"
)

type ApplicationHandler struct {
	engine *admission.Engine
	orders *postgres.OrderRepository
	apps   *postgres.ApplicationRepository
	counts *redisclient.CountCache
	redis  *redisclient.Client
	logger *zap.Logger
}

func NewApplicationHandler(engine *admission.Engine, orders *postgres.OrderRepository, apps *postgres.ApplicationRepository, counts *redisclient.CountCache, redis *redisclient.Client, logger *zap.Logger) *ApplicationHandler {
	return &ApplicationHandler{
		engine: engine,
		orders: orders,
		apps:   apps,
		counts: counts,
		redis:  redis,
		logger: logger,
	}
}

type applicationResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	WorkerID  string `json:"worker_id"`
	Status    string `json:"status"`
	AppliedAt string `json:"applied_at"`
}

type acceptResponse struct {
	Application   applicationResponse `json:"application"`
	AcceptedCount int                 `json:"accepted_count"`
	RequiredCount int                 `json:"required_count"`
	OrderFilled   bool                `json:"order_filled"`
}

func (h *ApplicationHandler) Apply(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	workerID := middleware.CallerID(c)
	app, err := h.engine.SubmitApplication(c.Request.Context(), workerID, orderID)
	if err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	h.publishApplicationEvent(c.Request.Context(), orderID, workerID, string(app.Status))

	c.JSON(http.StatusCreated, mapApplication(app))
}

func (h *ApplicationHandler) Accept(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	workerID, err := uuid.Parse(c.Param("worker_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}

	result, err := h.engine.AcceptApplication(c.Request.Context(), middleware.CallerID(c), orderID, workerID)
	if err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	if h.counts != nil {
		h.counts.Invalidate(c.Request.Context(), orderID)
	}
	h.publishApplicationEvent(c.Request.Context(), orderID, workerID, string(result.Application.Status))

	c.JSON(http.StatusOK, acceptResponse{
		Application:   mapApplication(result.Application),
		AcceptedCount: result.AcceptedCount,
		RequiredCount: result.RequiredCount,
		OrderFilled:   result.OrderFilled,
	})
}

func (h *ApplicationHandler) ListByOrder(c *gin.Context) {
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

	apps, err := h.engine.ListEntries(c.Request.Context(), orderID)
	if err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	response := make([]applicationResponse, 0, len(apps))
	for i := range apps {
		response = append(response, mapApplication(&apps[i]))
	}

	c.JSON(http.StatusOK, gin.H{"applications": response})
}

func (h *ApplicationHandler) Mine(c *gin.Context) {
	apps, err := h.apps.ListByWorker(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		h.logger.Error("failed to list worker applications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list applications"})
		return
	}

	type mineResponse struct {
		applicationResponse
		Order *orderResponse `json:"order,omitempty"`
	}

	response := make([]mineResponse, 0, len(apps))
	for i := range apps {
		item := mineResponse{applicationResponse: mapApplication(&apps[i])}
		if apps[i].Order != nil {
			mapped := mapOrder(apps[i].Order)
			item.Order = &mapped
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, gin.H{"applications": response})
}

func (h *ApplicationHandler) publishApplicationEvent(ctx context.Context, orderID, workerID uuid.UUID, status string) {
	if h.redis == nil {
		return
	}
	bus := eventbus.NewBus(h.redis.Client())
	appEvent := eventbus.ApplicationEvent{
		OrderID:  orderID.String(),
		WorkerID: workerID.String(),
		Status:   status,
	}
	if event, err := eventbus.NewEvent("application_"+status, appEvent); err == nil {
		_ = bus.Publish(ctx, eventbus.ChannelApplication, event)
	}
}

func mapApplication(app *model.Application) applicationResponse {
	return applicationResponse{
		ID:        app.ID.String(),
		OrderID:   app.OrderID.String(),
		WorkerID:  app.WorkerID.String(),
		Status:    string(app.Status),
		AppliedAt: app.AppliedAt.UTC().Format(timeRFC3339Nano),
	}
}
