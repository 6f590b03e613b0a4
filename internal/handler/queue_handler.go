package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"biliticket/callqueue/pkg/queue"
	"biliticket/callqueue/pkg/response"
)

type QueueHandler struct {
	queue *queue.Queue
}

func NewQueueHandler(q *queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

type MarkDoneRequest struct {
	// Response may legitimately be empty; the slot is still marked done.
	Response string `json:"response"`
}

type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// Reserve admits one call. 429 when the queue is at capacity, 503 when the
// shared store cannot be reached.
func (h *QueueHandler) Reserve(c *gin.Context) {
	if err := h.queue.Reserve(c.Request.Context()); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			response.TooManyRequests(c, "queue is full")
			return
		}
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, nil)
}

// MarkPending records the slot for a reserved call once its correlation id
// is known.
func (h *QueueHandler) MarkPending(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.MarkPending(c.Request.Context(), id); err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, nil)
}

// MarkDone stores the call's response and releases its unit of capacity.
func (h *QueueHandler) MarkDone(c *gin.Context) {
	id := c.Param("id")

	var req MarkDoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if err := h.queue.MarkDone(c.Request.Context(), id, req.Response); err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, nil)
}

// Status reports the slot state for id. An unknown id is a normal answer
// ({"state":"absent"}), not a 404: absence carries meaning here.
func (h *QueueHandler) Status(c *gin.Context) {
	id := c.Param("id")

	st, err := h.queue.Status(c.Request.Context(), id)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, st)
}

// Remove deletes the slot for id and reports whether anything was removed.
func (h *QueueHandler) Remove(c *gin.Context) {
	id := c.Param("id")

	removed, err := h.queue.Remove(c.Request.Context(), id)
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, RemoveResponse{Removed: removed})
}

// Stats reports capacity, in-flight count and fullness in one store read.
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "state store unavailable")
		return
	}
	response.Success(c, stats)
}
