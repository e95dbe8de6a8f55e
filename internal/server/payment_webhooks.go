package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obsmetrics "github.com/nebulink/vpnbroker/internal/observability/metrics"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
)

// HandlePaymentWebhook verifies and processes one provider callback.
// Duplicates and ignored event types still return 200 so providers stop
// retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	metrics := obsmetrics.Webhook()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		metrics.IncRejected(provider, "unreadable_body")
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.ingress.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature):
			metrics.IncRejected(provider, "invalid_signature")
		case errors.Is(err, paymentdomain.ErrInvalidPayload):
			metrics.IncRejected(provider, "invalid_payload")
		case errors.Is(err, paymentdomain.ErrProviderNotFound):
			metrics.IncRejected(provider, "unknown_provider")
		default:
			metrics.IncReceived(provider, "error")
		}
		AbortWithError(c, err)
		return
	}

	metrics.IncReceived(provider, "ok")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
