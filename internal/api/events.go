package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "memotag-notifier/internal/common/errors"
	"memotag-notifier/internal/models"
)

type messageCreatedRequest struct {
	ID               string       `json:"id"`
	ItemID           string       `json:"item_id"`
	Message          string       `json:"message"`
	UserName         string       `json:"user_name"`
	MsgType          string       `json:"msg_type"`
	CreatedAt        *time.Time   `json:"created_at"`
	SendNotification bool         `json:"send_notification"`
	Item             *models.Item `json:"item"`
}

type statusChangedRequest struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

type progressChangedRequest struct {
	ItemID   string `json:"item_id"`
	Progress *int   `json:"progress"`
}

// handleMessageCreated answers 200 whenever the broadcast ran; dispatch
// failures are part of the result body.
func (s *Server) handleMessageCreated() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req messageCreatedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, apperrors.NewInvalidEventPayloadError(err.Error()))
			return
		}

		createdAt := s.now().UTC()
		if req.CreatedAt != nil {
			createdAt = *req.CreatedAt
		}
		msg := models.Message{
			ID:        req.ID,
			ItemID:    req.ItemID,
			Body:      req.Message,
			Author:    req.UserName,
			Category:  models.MessageCategory(req.MsgType),
			CreatedAt: createdAt,
		}

		result, err := s.trigger.OnMessageCreated(c.Request.Context(), req.Item, msg, req.SendNotification)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleStatusChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusChangedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, apperrors.NewInvalidEventPayloadError(err.Error()))
			return
		}

		result, err := s.trigger.OnStatusChanged(c.Request.Context(), req.ItemID, models.ItemStatus(req.Status))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) handleProgressChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req progressChangedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, apperrors.NewInvalidEventPayloadError(err.Error()))
			return
		}
		if req.Progress == nil {
			s.writeError(c, apperrors.NewInvalidEventPayloadError("progress is required"))
			return
		}

		result, err := s.trigger.OnProgressChanged(c.Request.Context(), req.ItemID, *req.Progress)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	stdErr := apperrors.Normalize(err)
	status := httpStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("trigger failed", map[string]interface{}{
			"path":  c.FullPath(),
			"code":  string(stdErr.Code),
			"error": err.Error(),
		})
	}
	c.JSON(status, gin.H{
		"code":    string(stdErr.Code),
		"error":   stdErr.Message,
		"details": stdErr.Details,
	})
}

func httpStatus(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidEventPayload,
		apperrors.ErrCodeInvalidStatus,
		apperrors.ErrCodeInvalidProgress:
		return http.StatusBadRequest
	case apperrors.ErrCodeItemLookupFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
