package httpserver

import (
	"errors"
	"net/http"

	"github.com/and161185/idcore/internal/errs"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, errs.ErrChallengeExpiredOrReused):
		return http.StatusGone
	case errors.Is(err, errs.ErrAccountNotLinked):
		return http.StatusConflict
	case errors.Is(err, errs.ErrProviderVerificationFailed), errors.Is(err, errs.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrMalformedCredential):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrStorageTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error detail from clients.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "storage unavailable, retry later"
	case http.StatusConflict:
		return "this identity is linked to another account"
	case http.StatusGone:
		return "challenge expired or already used, restart sign-in"
	}
	return err.Error()
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{"error": publicMessage(status, err)})
	}
}
