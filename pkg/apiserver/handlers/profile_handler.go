package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/apiserver/middleware"
	"github.com/crewboard/crewboard/pkg/model"
	"github.com/crewboard/crewboard/pkg/store/postgres"
)

type ProfileHandler struct {
	profiles *postgres.ProfileRepository
	logger   *zap.Logger
}

func NewProfileHandler(profiles *postgres.ProfileRepository, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

type profileRequest struct {
	WorkerType     string   `json:"worker_type" binding:"required"`
	Skills         []string `json:"skills"`
	DailyRateMinor int64    `json:"daily_rate_minor"`
	Available      *bool    `json:"available"`
	Bio            string   `json:"bio"`
	Location       string   `json:"location"`
}

type profileResponse struct {
	UserID         string   `json:"user_id"`
	WorkerType     string   `json:"worker_type"`
	Skills         []string `json:"skills"`
	DailyRateMinor int64    `json:"daily_rate_minor"`
	Available      bool     `json:"available"`
	Bio            string   `json:"bio,omitempty"`
	Location       string   `json:"location,omitempty"`
}

func (h *ProfileHandler) GetMe(c *gin.Context) {
	profile, err := h.profiles.Get(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		if errors.Is(err, admission.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		h.logger.Error("failed to get profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get profile"})
		return
	}

	c.JSON(http.StatusOK, mapProfile(profile))
}

func (h *ProfileHandler) PutMe(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}

	profile := &model.WorkerProfile{
		UserID:         middleware.CallerID(c),
		WorkerType:     req.WorkerType,
		Skills:         req.Skills,
		DailyRateMinor: req.DailyRateMinor,
		Available:      available,
		Bio:            req.Bio,
		Location:       req.Location,
	}

	if err := h.profiles.Upsert(c.Request.Context(), profile); err != nil {
		h.logger.Error("failed to upsert profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save profile"})
		return
	}

	c.JSON(http.StatusOK, mapProfile(profile))
}

func mapProfile(profile *model.WorkerProfile) profileResponse {
	return profileResponse{
		UserID:         profile.UserID.String(),
		WorkerType:     profile.WorkerType,
		Skills:         profile.Skills,
		DailyRateMinor: profile.DailyRateMinor,
		Available:      profile.Available,
		Bio:            profile.Bio,
		Location:       profile.Location,
	}
}
