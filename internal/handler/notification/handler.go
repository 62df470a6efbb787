package notification

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
	"github.com/edusphere/notify-api/internal/service/notification"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/httputil"
	"github.com/edusphere/notify-api/pkg/logger"
)

type Handler struct {
	pipeline *notification.Pipeline
	logs     repository.NotificationLogRepository
	logger   *logger.Logger
}

func NewHandler(pipeline *notification.Pipeline, logs repository.NotificationLogRepository, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: pipeline,
		logs:     logs,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.ListNotifications)
		notifications.POST("/dispatch", h.DispatchEvent)
	}
}

// DispatchEvent accepts a notification event over HTTP, for producers
// not wired to the broker. The fan-out runs asynchronously; 202 means
// accepted, not delivered.
func (h *Handler) DispatchEvent(c *gin.Context) {
	var event model.NotificationEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = event.ID.String()
	}
	if err := event.Validate(); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := h.pipeline.Dispatch(ctx, &event); err != nil {
			h.logger.Error(err, "event dispatch failed", "correlation_id", event.CorrelationID)
		}
	}()

	httputil.RespondWithAccepted(c, gin.H{
		"id":             event.ID,
		"correlation_id": event.CorrelationID,
	})
}

// ListNotifications returns delivery history, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	rows, err := h.logs.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	total, err := h.logs.Count(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	if rows == nil {
		rows = []*model.NotificationLog{}
	}
	httputil.RespondWithPagination(c, rows, filter.Limit, filter.Offset, total)
}

func parseFilter(c *gin.Context) (model.NotificationLogFilter, error) {
	var filter model.NotificationLogFilter

	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, err
		}
		filter.UserID = &id
	}
	if v := c.Query("channel"); v != "" {
		ch := model.Channel(v)
		filter.Channel = &ch
	}
	if v := c.Query("status"); v != "" {
		st := model.NotificationStatus(v)
		filter.Status = &st
	}
	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.From = &ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.To = &ts
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Offset = n
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return filter, nil
}
