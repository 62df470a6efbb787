package deadletter

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/service/deadletter"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/httputil"
)

type Handler struct {
	service *deadletter.Service
}

func NewHandler(service *deadletter.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	dlq := r.Group("/dead-letters")
	{
		dlq.GET("", h.ListDeadLetters)
		dlq.GET("/:id", h.GetDeadLetter)
		dlq.POST("/:id/reprocess", h.ReprocessDeadLetter)
		dlq.DELETE("/:id", h.DeleteDeadLetter)
	}
}

func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, total, err := h.service.List(c.Request.Context(), limit, offset)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithPagination(c, entries, limit, offset, total)
}

func (h *Handler) GetDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid dead letter ID", err))
		return
	}

	entry, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, entry)
}

// ReprocessDeadLetter re-runs a dead-lettered delivery with a fresh
// attempt budget. A failed redelivery is reported but the entry has
// already been re-queued with lineage intact.
func (h *Handler) ReprocessDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid dead letter ID", err))
		return
	}

	if err := h.service.Reprocess(c.Request.Context(), id); err != nil {
		var appErr *apperrors.AppError
		if apperrors.As(err, &appErr) {
			httputil.RespondWithError(c, appErr)
			return
		}
		httputil.RespondWithSuccess(c, gin.H{
			"reprocessed": false,
			"error":       err.Error(),
		})
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"reprocessed": true})
}

func (h *Handler) DeleteDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid dead letter ID", err))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": true})
}
