package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tradehook/internal/intent"
	"tradehook/pkg/venues/common"
)

// handleWebhook is the signal entrypoint. Authentication is the shared
// secret inside the alert body, so any alert source that can POST JSON can
// drive it.
func (s *Server) handleWebhook(c *gin.Context) {
	var alert intent.Alert
	if err := c.BindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "body must be a JSON alert"})
		return
	}

	account, err := s.DB.GetAccountBySecret(c.Request.Context(), alert.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "account lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "unknown webhook secret"})
		return
	}

	it, err := intent.FromAlert(alert, uuid.NewString(), account.ID, time.Now().UTC())
	if err != nil {
		var vErr *intent.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ALERT", "field": vErr.Field, "error": vErr.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_ALERT", "error": err.Error()})
		return
	}

	result, err := s.Executor.Execute(c.Request.Context(), it)
	if err != nil {
		kind := common.Kind(err)
		log.Printf("[webhook] intent %s failed (%s): %v", it.ID, kind, err)
		status := http.StatusBadGateway
		if kind == common.KindValidation {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"code":      "EXECUTION_FAILED",
			"kind":      string(kind),
			"intent_id": it.ID,
			"error":     err.Error(),
		})
		return
	}

	if result.Rejected != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"code":      "RISK_REJECTED",
			"intent_id": it.ID,
			"limit":     string(result.Rejected.Limit),
			"reason":    result.Rejected.Reason,
			"current":   result.Rejected.Current,
			"threshold": result.Rejected.Threshold,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
