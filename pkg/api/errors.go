package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"poetry-feed/pkg/feed"
	"poetry-feed/pkg/platform"
)

var errBadRequest = errors.New("bad request")

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, feed.ErrIndexOutOfRange),
		errors.Is(err, platform.ErrInvalidPoem),
		errors.Is(err, platform.ErrInvalidList),
		errors.Is(err, platform.ErrWeakPassword),
		errors.Is(err, platform.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, platform.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, feed.ErrSessionNotFound),
		errors.Is(err, platform.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrEmailExists),
		errors.Is(err, platform.ErrAlreadyFavorited),
		errors.Is(err, platform.ErrAlreadyInList):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// publicMessage hides internal error detail behind a generic message.
func publicMessage(err error) string {
	switch statusFor(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusUnauthorized:
		return platform.ErrUnauthorized.Error()
	case http.StatusGatewayTimeout:
		return "upstream timeout"
	}
	return err.Error()
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, errorBody(publicMessage(err)))
}
