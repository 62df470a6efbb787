package preference

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/service/preference"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/httputil"
)

type Handler struct {
	service *preference.Service
}

func NewHandler(service *preference.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users/:id/preferences")
	{
		users.GET("", h.ListPreferences)
		users.PUT("", h.UpdatePreference)
		users.POST("/bulk", h.BulkUpdate)
	}
}

type updatePreferenceRequest struct {
	Channel     model.Channel `json:"channel" binding:"required"`
	Group       string        `json:"group" binding:"required"`
	Enabled     *bool         `json:"enabled" binding:"required"`
	ProfileType *string       `json:"profile_type,omitempty"`
	ProfileID   *uuid.UUID    `json:"profile_id,omitempty"`
}

type bulkUpdateRequest struct {
	// Action is "enable_all", "disable_all" or "disable_group".
	Action      string     `json:"action" binding:"required"`
	Groups      []string   `json:"groups"`
	Group       string     `json:"group"`
	ProfileType *string    `json:"profile_type,omitempty"`
	ProfileID   *uuid.UUID `json:"profile_id,omitempty"`
}

func (h *Handler) ListPreferences(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid user ID", err))
		return
	}

	prefs, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	if prefs == nil {
		prefs = []*model.NotificationPreference{}
	}
	httputil.RespondWithSuccess(c, prefs)
}

func (h *Handler) UpdatePreference(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid user ID", err))
		return
	}

	var req updatePreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}
	if !req.Channel.Valid() {
		httputil.RespondWithError(c, apperrors.BadRequest("unsupported channel", nil))
		return
	}

	scope := model.PreferenceScope{ProfileType: req.ProfileType, ProfileID: req.ProfileID}
	if err := h.service.Update(c.Request.Context(), userID, req.Channel, req.Group, scope, *req.Enabled); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": true})
}

func (h *Handler) BulkUpdate(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid user ID", err))
		return
	}

	var req bulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	ctx := c.Request.Context()
	scope := model.PreferenceScope{ProfileType: req.ProfileType, ProfileID: req.ProfileID}

	switch req.Action {
	case "enable_all":
		err = h.service.EnableAll(ctx, userID, req.Groups, scope)
	case "disable_all":
		err = h.service.DisableAll(ctx, userID, req.Groups, scope)
	case "disable_group":
		if req.Group == "" {
			httputil.RespondWithError(c, apperrors.BadRequest("group is required for disable_group", nil))
			return
		}
		err = h.service.DisableGroup(ctx, userID, req.Group, scope)
	default:
		httputil.RespondWithError(c, apperrors.BadRequest("unknown action", nil))
		return
	}

	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": true})
}
