package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gamesession/middleware"
	"gamesession/store"

	"github.com/gin-gonic/gin"
)

const maxValueBytes = 1 << 20

// StoreHandler exposes the session store over REST at /db/*path.
type StoreHandler struct {
	store store.SessionStore
}

func NewStoreHandler(st store.SessionStore) *StoreHandler {
	return &StoreHandler{store: st}
}

func storePath(c *gin.Context) string {
	return strings.Trim(c.Param("path"), "/")
}

// isRootPath reports whether path names a whole session document.
func isRootPath(path string) bool {
	return strings.Count(path, "/") < 2
}

// reservedFields are set once by createSessionCode and never rewritten.
var reservedFields = map[string]bool{"hostId": true, "createdAt": true, "expiresAt": true}

func isReservedPath(path string) bool {
	parts := strings.Split(path, "/")
	return len(parts) >= 3 && reservedFields[parts[2]]
}

func rootOf(path string) string {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return path
	}
	return parts[0] + "/" + parts[1]
}

func (h *StoreHandler) Get(c *gin.Context) {
	value, err := h.store.Get(c.Request.Context(), storePath(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if value == nil {
		value = []byte("null")
	}
	c.Data(http.StatusOK, "application/json", value)
}

// Put writes a value below a session document. Whole documents are only
// created by the createSessionCode function.
func (h *StoreHandler) Put(c *gin.Context) {
	path := storePath(c)
	if isRootPath(path) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "sessions are created through createSessionCode"})
		return
	}
	if isReservedPath(path) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "field is set by createSessionCode"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxValueBytes))
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", store.ErrInvalidValue, err))
		return
	}
	if err := h.store.Set(c.Request.Context(), path, body); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes a value. The route requires a verified bearer token, and
// only the session's host may delete inside it.
func (h *StoreHandler) Delete(c *gin.Context) {
	path := storePath(c)
	raw, err := h.store.Get(c.Request.Context(), rootOf(path)+"/hostId")
	if err != nil {
		abortWithError(c, err)
		return
	}
	if raw != nil {
		var hostID string
		if err := json.Unmarshal(raw, &hostID); err != nil || hostID != c.GetString(middleware.UserIDKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only the session host may delete"})
			return
		}
	}

	if err := h.store.Delete(c.Request.Context(), path); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
