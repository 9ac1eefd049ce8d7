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
	redisclient "github.com/crewboard/crewboard/pkg/store/redis"
)

type QueueHandler struct {
	engine *admission.Engine
	redis  *redisclient.Client
	logger *zap.Logger
}

func NewQueueHandler(engine *admission.Engine, redis *redisclient.Client, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{engine: engine, redis: redis, logger: logger}
}

func (h *QueueHandler) Join(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	workerID := middleware.CallerID(c)
	if err := h.engine.JoinQueue(c.Request.Context(), workerID, orderID); err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	h.publishQueueEvent(c.Request.Context(), orderID, workerID, "joined")

	c.JSON(http.StatusCreated, gin.H{"status": "joined"})
}

func (h *QueueHandler) Leave(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	workerID := middleware.CallerID(c)
	if err := h.engine.LeaveQueue(c.Request.Context(), workerID, orderID); err != nil {
		respondAdmissionError(c, h.logger, err)
		return
	}

	h.publishQueueEvent(c.Request.Context(), orderID, workerID, "left")

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *QueueHandler) publishQueueEvent(ctx context.Context, orderID, workerID uuid.UUID, status string) {
	if h.redis == nil {
		return
	}
	bus := eventbus.NewBus(h.redis.Client())
	appEvent := eventbus.ApplicationEvent{
		OrderID:  orderID.String(),
		WorkerID: workerID.String(),
		Status:   status,
	}
	if event, err := eventbus.NewEvent("queue_"+status, appEvent); err == nil {
		_ = bus.Publish(ctx, eventbus.ChannelQueue, event)
	}
}
