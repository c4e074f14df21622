package handlers

import (
	"errors"
	"net/http"

	"gamesession/session"
	"gamesession/store"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrUnauthenticated), errors.Is(err, store.ErrForbidden):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, store.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrTransportFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
