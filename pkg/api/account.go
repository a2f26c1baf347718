package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"poetry-feed/pkg/domain"
)

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type otpRequest struct {
	Email string `json:"email" binding:"required"`
}

type verifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type profileRequest struct {
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage"`
}

type listRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) int64Param(c *gin.Context, name string) (int64, bool) {
	n, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: invalid %s", errBadRequest, name))
		return 0, false
	}
	return n, true
}

func (s *Server) signUp(c *gin.Context) {
	var req signUpRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.deps.Platform.SignUp(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.deps.Platform.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) requestOTP(c *gin.Context) {
	var req otpRequest
	if !s.bind(c, &req) {
		return
	}
	if err := s.deps.Platform.RequestOTP(c.Request.Context(), req.Email); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sent": true})
}

func (s *Server) verifyOTP(c *gin.Context) {
	var req verifyRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.deps.Platform.VerifyOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := s.deps.Platform.Profile(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProfile(c *gin.Context) {
	var req profileRequest
	if !s.bind(c, &req) {
		return
	}
	p, err := s.deps.Platform.UpdateProfile(c.Request.Context(), currentUser(c), req.Name, req.ProfileImage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) listFavorites(c *gin.Context) {
	favorites, err := s.deps.Platform.Favorites(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": favorites})
}

func (s *Server) addFavorite(c *gin.Context) {
	var poem domain.Poem
	if !s.bind(c, &poem) {
		return
	}
	f, err := s.deps.Platform.AddFavorite(c.Request.Context(), currentUser(c), poem)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) removeFavorite(c *gin.Context) {
	poemID, ok := s.int64Param(c, "poemId")
	if !ok {
		return
	}
	if err := s.deps.Platform.RemoveFavorite(c.Request.Context(), currentUser(c), poemID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) favoriteStatus(c *gin.Context) {
	poemID, ok := s.int64Param(c, "poemId")
	if !ok {
		return
	}
	favorited, err := s.deps.Platform.IsFavorited(c.Request.Context(), currentUser(c), poemID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poemId": poemID, "favorited": favorited})
}

func (s *Server) listLists(c *gin.Context) {
	lists, err := s.deps.Platform.Lists(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lists": lists})
}

func (s *Server) createList(c *gin.Context) {
	var req listRequest
	if !s.bind(c, &req) {
		return
	}
	l, err := s.deps.Platform.CreateList(c.Request.Context(), currentUser(c), req.Name, req.Description)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (s *Server) deleteList(c *gin.Context) {
	listID, ok := s.int64Param(c, "listId")
	if !ok {
		return
	}
	if err := s.deps.Platform.DeleteList(c.Request.Context(), currentUser(c), listID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addToList(c *gin.Context) {
	listID, ok := s.int64Param(c, "listId")
	if !ok {
		return
	}
	var poem domain.Poem
	if !s.bind(c, &poem) {
		return
	}
	if err := s.deps.Platform.AddToList(c.Request.Context(), currentUser(c), listID, poem); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) removeFromList(c *gin.Context) {
	listID, ok := s.int64Param(c, "listId")
	if !ok {
		return
	}
	poemID, ok := s.int64Param(c, "poemId")
	if !ok {
		return
	}
	if err := s.deps.Platform.RemoveFromList(c.Request.Context(), currentUser(c), listID, poemID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
