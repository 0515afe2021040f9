package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
)

// respondError writes err as the stable error envelope (spec.md §6, §7),
// mapping pgx.ErrNoRows to a 404 JOB_NOT_FOUND the way every lookup
// handler in this package expects.
func respondError(c *fiber.Ctx, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		err = apierr.New(apierr.CodeJobNotFound, "job not found")
	}
	apiErr := apierr.FromError(err)
	return c.Status(apiErr.StatusCode()).JSON(apiErr.ToEnvelope())
}
