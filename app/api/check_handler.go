package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Status describes whether the pipeline can answer queries.
type Status struct {
	Ready          bool       `json:"ready"`
	Entries        int        `json:"entries"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
	BuiltAt        *time.Time `json:"built_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type StatusReporter interface {
	Status() Status
}

type CheckHandler struct {
	status StatusReporter
}

func NewCheckHandler(status StatusReporter) *CheckHandler {
	return &CheckHandler{status: status}
}

func (h CheckHandler) HandleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "RAG API is running"})
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	st := h.status.Status()
	if !st.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(st)
	}
	return c.JSON(st)
}
