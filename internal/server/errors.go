package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/nebulink/vpnbroker/internal/checkout/domain"
	"github.com/nebulink/vpnbroker/internal/panel"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
	"github.com/nebulink/vpnbroker/internal/pricing"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, userdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, panel.ErrTransient):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "upstream panel unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, subdomain.ErrSubscriptionNotFound),
		errors.Is(err, subdomain.ErrDeviceNotFound),
		errors.Is(err, squaddomain.ErrSquadNotFound),
		errors.Is(err, checkoutdomain.ErrDraftNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, subdomain.ErrSubscriptionExists),
		errors.Is(err, subdomain.ErrTrialAlreadyUsed),
		errors.Is(err, subdomain.ErrSquadAlreadyAdded),
		errors.Is(err, checkoutdomain.ErrOrderChanged),
		errors.Is(err, paymentdomain.ErrDuplicatePayment):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, pricing.ErrUnknownPeriod),
		errors.Is(err, pricing.ErrUnknownTrafficTier),
		errors.Is(err, pricing.ErrDeviceLimitRange),
		errors.Is(err, subdomain.ErrAutopayDaysRange),
		errors.Is(err, subdomain.ErrDeviceLimitMinimum),
		errors.Is(err, subdomain.ErrTrialImmutable),
		errors.Is(err, subdomain.ErrSubscriptionInactive),
		errors.Is(err, subdomain.ErrSquadNotSelectable),
		errors.Is(err, subdomain.ErrSquadNotConnected),
		errors.Is(err, subdomain.ErrNoSquadsSelected),
		errors.Is(err, subdomain.ErrLastSquad),
		errors.Is(err, subdomain.ErrTrafficUnlimited),
		errors.Is(err, subdomain.ErrNothingToChange),
		errors.Is(err, checkoutdomain.ErrWrongStep),
		errors.Is(err, userdomain.ErrInvalidAmount),
		errors.Is(err, userdomain.ErrInvalidTelegramID):
		return true
	default:
		return false
	}
}
