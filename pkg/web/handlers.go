package web

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/flowwatch/flowwatch/pkg/channel"
	"github.com/flowwatch/flowwatch/pkg/events"
	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const defaultPageSize = 20

// Handlers serves the executions API. Mutating endpoints publish the
// corresponding lifecycle events so subscribed clients converge without
// polling.
type Handlers struct {
	persistence persistence.Persistence
	publisher   UpdatePublisher
	validator   *validator.Validate
	logger      *slog.Logger
	token       string
}

// NewHandlers wires the API handlers. An empty token disables the bearer
// check (tests); a nil publisher disables event emission.
func NewHandlers(
	store persistence.Persistence,
	publisher UpdatePublisher,
	validate *validator.Validate,
	logger *slog.Logger,
	token string,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handlers{
		persistence: store,
		publisher:   publisher,
		validator:   validate,
		logger:      logger.With("module", "web"),
		token:       token,
	}
}

// Register mounts the execution routes on the app.
func (h *Handlers) Register(app *fiber.App) {
	group := app.Group("/executions", h.requireAuth)
	group.Get("/", h.ListExecutions)
	group.Get("/:id", h.GetExecution)
	group.Patch("/:id/cancel", h.CancelExecution)
	group.Post("/:id/retry", h.RetryExecution)
	group.Delete("/:id", h.DeleteExecution)
	group.Get("/:id/logs", h.GetExecutionLogs)
}

func (h *Handlers) requireAuth(c fiber.Ctx) error {
	if h.token == "" {
		return c.Next()
	}

	header := c.Get("Authorization")
	if header != "Bearer "+h.token {
		return unauthorized(c, "missing or invalid bearer credential")
	}

	return c.Next()
}

func (h *Handlers) ListExecutions(c fiber.Ctx) error {
	req, err := h.parseListRequest(c)
	if err != nil {
		return badRequest(c, "invalid query parameters: "+err.Error())
	}

	all, err := h.persistence.Executions(c.Context())
	if err != nil {
		return handlePersistenceError(c, err)
	}

	filtered := make([]*models.Execution, 0, len(all))

	for _, execution := range all {
		if req.WorkflowID != "" && execution.WorkflowID != req.WorkflowID {
			continue
		}

		if req.Status != "" && string(execution.Status) != req.Status {
			continue
		}

		filtered = append(filtered, execution)
	}

	total := len(filtered)

	totalPages := (total + req.Limit - 1) / req.Limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (req.Page - 1) * req.Limit
	if start > total {
		start = total
	}

	end := start + req.Limit
	if end > total {
		end = total
	}

	return c.JSON(ListExecutionsResponse{
		Executions: filtered[start:end],
		Total:      total,
		Page:       req.Page,
		TotalPages: totalPages,
	})
}

func (h *Handlers) parseListRequest(c fiber.Ctx) (*ListExecutionsRequest, error) {
	req := &ListExecutionsRequest{
		WorkflowID: c.Query("workflowId"),
		Status:     c.Query("status"),
		Page:       1,
		Limit:      defaultPageSize,
	}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		req.Page = page
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return req, nil
}

func (h *Handlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(execution)
}

// CancelExecution transitions a non-terminal execution to cancelled and
// notifies subscribers. Cancelling an already-terminal execution is an
// idempotent no-op, not an error.
func (h *Handlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")

	execution, err := h.persistence.ExecutionByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if execution.Status.IsTerminal() {
		return c.SendStatus(fiber.StatusNoContent)
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.CompletedAt = &now
	execution.RecomputeDuration()

	if err := h.persistence.SaveExecution(c.Context(), execution); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishUpdate(c, events.ExecutionUpdate{
		BaseEvent:   events.NewBaseEvent(events.ExecutionUpdateEvent),
		ExecutionID: execution.ID,
		Status:      models.ExecutionStatusCancelled,
		CompletedAt: &now,
	}, execution.ID)

	return c.SendStatus(fiber.StatusNoContent)
}

// RetryExecution creates a fresh pending run of the same workflow and
// announces it as started.
func (h *Handlers) RetryExecution(c fiber.Ctx) error {
	source, err := h.persistence.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	retry := source.Clone()
	retry.ID = uuid.New().String()
	retry.Status = models.ExecutionStatusPending
	retry.StartedAt = time.Now().UTC()
	retry.CompletedAt = nil
	retry.DurationMs = 0
	retry.Output = nil
	retry.Error = ""

	for _, step := range retry.Steps {
		step.Status = models.StepStatusPending
		step.StartedAt = nil
		step.CompletedAt = nil
		step.DurationMs = 0
		step.Output = nil
		step.Error = ""
	}

	if err := h.persistence.SaveExecution(c.Context(), retry); err != nil {
		return handlePersistenceError(c, err)
	}

	h.publishUpdate(c, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent),
		Execution: *retry,
	}, retry.ID)

	return c.Status(fiber.StatusCreated).JSON(retry)
}

func (h *Handlers) DeleteExecution(c fiber.Ctx) error {
	if err := h.persistence.DeleteExecution(c.Context(), c.Params("id")); err != nil {
		return handlePersistenceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.persistence.ExecutionLogs(c.Context(), c.Params("id"))
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if logs == nil {
		logs = []models.LogEntry{}
	}

	return c.JSON(LogsResponse{Logs: logs})
}

func (h *Handlers) publishUpdate(c fiber.Ctx, event channel.Event, key string) {
	if h.publisher == nil {
		return
	}

	if err := h.publisher.PublishUpdate(c.Context(), key, event); err != nil {
		h.logger.Error("failed to publish update event",
			"event_type", event.GetType(), "execution_id", key, "error", err)
	}
}
