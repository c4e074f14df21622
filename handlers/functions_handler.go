package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gamesession/functions"
	"gamesession/session"

	"github.com/gin-gonic/gin"
)

// FunctionsHandler serves the callable session functions.
type FunctionsHandler struct {
	functions functions.Client
	timeout   time.Duration
}

func NewFunctionsHandler(fns functions.Client, timeout time.Duration) *FunctionsHandler {
	return &FunctionsHandler{functions: fns, timeout: timeout}
}

func (h *FunctionsHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *FunctionsHandler) CreateSessionCode(c *gin.Context) {
	var req functions.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", session.ErrInvalidInput, err))
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	resp, err := h.functions.CreateSessionCode(ctx, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FunctionsHandler) LeaveSession(c *gin.Context) {
	var req functions.LeaveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", session.ErrInvalidInput, err))
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	ack, err := h.functions.LeaveSession(ctx, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
