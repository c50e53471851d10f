package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/branchd-dev/authflow/internal/controller"
	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/router"
)

// ScreenResponse describes the screen the guard allowed
type ScreenResponse struct {
	Route    router.Route    `json:"route"`
	Location string          `json:"location"`
	User     *models.AppUser `json:"user"`
}

// StateResponse is the full interface state
type StateResponse struct {
	State    controller.State `json:"state"`
	User     *models.AppUser  `json:"user"`
	SignedIn bool             `json:"signed_in"`
	Location string           `json:"location"`
}

// NavigateRequest asks the navigator to move
type NavigateRequest struct {
	Location string `json:"location" binding:"required"`
}

// @Summary Show a guarded screen
// @Tags screens
// @Produce json
// @Success 200 {object} ScreenResponse
// @Success 302
// @Router /screens/{path} [get]
func (s *Server) showScreen(c *gin.Context) {
	route, _ := getRoute(c)
	user, _ := GetUser(c)

	s.navigator.SetSignedIn(user != nil)
	location, err := s.navigator.Go(screenLocation(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("Navigation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Navigation failed"})
		return
	}

	c.JSON(http.StatusOK, ScreenResponse{
		Route:    route,
		Location: location,
		User:     user,
	})
}

// @Summary Get interface state
// @Tags state
// @Produce json
// @Success 200 {object} StateResponse
// @Router /api/state [get]
func (s *Server) getState(c *gin.Context) {
	user := s.session.CurrentUser()
	c.JSON(http.StatusOK, StateResponse{
		State:    s.controller.State(),
		User:     user,
		SignedIn: user != nil,
		Location: s.navigator.Location(),
	})
}

// @Summary List routes
// @Tags screens
// @Produce json
// @Success 200 {array} router.Route
// @Router /api/routes [get]
func (s *Server) listRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, s.guard.Table().Routes)
}

// @Summary Navigate
// @Description Move the active location through the route guard
// @Tags screens
// @Accept json
// @Produce json
// @Param request body NavigateRequest true "Navigate request"
// @Success 200 {object} map[string]interface{}
// @Router /api/navigate [post]
func (s *Server) navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.navigator.SetSignedIn(s.session.CurrentUser() != nil)
	location, err := s.navigator.Go(req.Location)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, router.ErrRedirectLoop) {
			status = http.StatusLoopDetected
		}
		s.logger.Error().Err(err).Str("location", req.Location).Msg("Navigation failed")
		c.JSON(status, gin.H{"error": "Navigation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requested":  req.Location,
		"location":   location,
		"redirected": location != req.Location,
	})
}
