package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/feed"
)

type languageRequest struct {
	Language string `json:"language"`
}

type navigateRequest struct {
	Index *int `json:"index" binding:"required"`
}

func parseLanguage(raw string, allowEmpty bool) (domain.Language, error) {
	if raw == "" && allowEmpty {
		return "", nil
	}
	lang, ok := domain.ParseLanguage(raw)
	if !ok {
		return "", fmt.Errorf("%w: unsupported language %q", errBadRequest, raw)
	}
	return lang, nil
}

func (s *Server) session(c *gin.Context) (*feed.Session, bool) {
	sess, err := s.deps.Sessions.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(c *gin.Context) {
	var req languageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	lang, err := parseLanguage(req.Language, true)
	if err != nil {
		s.fail(c, err)
		return
	}

	sess := s.deps.Sessions.Create(c.Request.Context(), lang)
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.deps.Sessions.Close(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) navigate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := sess.Navigate(*req.Index); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) next(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.Next()
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) prev(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.Prev()
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) setLanguage(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req languageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	lang, err := parseLanguage(req.Language, false)
	if err != nil {
		s.fail(c, err)
		return
	}

	sess.SetLanguage(c.Request.Context(), lang)
	c.JSON(http.StatusOK, sess.Snapshot())
}
