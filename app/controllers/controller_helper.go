package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
)

const requestTimeout = 30 * time.Second

// requestContext bounds the work of one request
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// statusFor maps an error kind to the HTTP status returned to clients
func statusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindValidation:
		return fiber.StatusBadRequest
	case apperror.KindSamePlan:
		return fiber.StatusConflict
	case apperror.KindCreditCardMissing:
		return fiber.StatusPaymentRequired
	case apperror.KindJobSubmission:
		return fiber.StatusUnprocessableEntity
	case apperror.KindGateway:
		var gwErr *apperror.GatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == fiber.StatusPaymentRequired {
			return fiber.StatusPaymentRequired
		}
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes {"error": kind, "message": ...}. Store and unknown
// failures are logged and answered with a generic message.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	kind := apperror.KindOf(err)
	message := apperror.Message(err)

	if status == fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		message = "Internal server error"
	} else {
		log.Warnf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   string(kind),
		"message": message,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   string(apperror.KindValidation),
		"message": message,
	})
}
