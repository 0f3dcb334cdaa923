package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"docrag/types"
)

// Pipeline answers questions. Implementations return types.ErrNotReady
// until they can.
type Pipeline interface {
	Ask(ctx context.Context, question string, k int) (*types.Answer, error)
}

type Reloader interface {
	Reload(ctx context.Context) error
}

type QueryHandler struct {
	pipeline Pipeline
}

func NewQueryHandler(p Pipeline) *QueryHandler {
	return &QueryHandler{pipeline: p}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	answer, err := h.pipeline.Ask(c.UserContext(), params.Text, params.K)
	if err != nil {
		return err
	}
	return c.JSON(types.NewQueryResponse(answer))
}

type ReloadHandler struct {
	reloader Reloader
	status   StatusReporter
}

func NewReloadHandler(r Reloader, s StatusReporter) *ReloadHandler {
	return &ReloadHandler{reloader: r, status: s}
}

// HandleReload reopens the index, picking up a rebuild made by ingest.
func (h *ReloadHandler) HandleReload(c *fiber.Ctx) error {
	if err := h.reloader.Reload(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(h.status.Status())
}
