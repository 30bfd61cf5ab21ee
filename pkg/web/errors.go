package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("verification_failed").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and persistence errors onto problem
// responses. Verification failures are 401 by contract, never 5xx, so
// providers stop redelivering forged payloads.
func handleEngineError(c fiber.Ctx, err error) error {
	var (
		validation   *flowerr.ValidationError
		verification *flowerr.WebhookVerificationError
		notActive    *flowerr.FlowNotActiveError
		state        *flowerr.InvalidExecutionStateError
		handlerGone  *connector.NotFoundError
	)

	switch {
	case errors.As(err, &validation):
		return badRequest(c, validation.Error())
	case errors.As(err, &verification):
		return unauthorized(c, "webhook signature verification failed")
	case errors.As(err, &notActive):
		return conflict(c, notActive.Error())
	case errors.As(err, &state):
		return conflict(c, state.Error())
	case errors.As(err, &handlerGone):
		return badRequest(c, handlerGone.Error())
	case persistence.IsNotFound(err):
		return notFound(c, err.Error())
	case persistence.IsStatusConflict(err):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
