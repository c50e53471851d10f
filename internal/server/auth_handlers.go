package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/branchd-dev/authflow/internal/controller"
	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/provider"
	"github.com/branchd-dev/authflow/internal/session"
)

// AuthResponse is returned by successful auth requests
type AuthResponse struct {
	User  *models.AppUser  `json:"user"`
	State controller.State `json:"state"`
}

// ErrorResponse is returned by failed auth requests
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  string           `json:"code,omitempty"`
	State controller.State `json:"state"`
}

// @Summary Sign in
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body controller.SignInInput true "Sign in request"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/auth/sign-in [post]
func (s *Server) signIn(c *gin.Context) {
	var req controller.SignInInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.SignIn(c.Request.Context(), req); err != nil {
		s.respondWithRequestError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		User:  s.session.CurrentUser(),
		State: s.controller.State(),
	})
}

// @Summary Sign up
// @Description Create an account and sign it in
// @Tags auth
// @Accept json
// @Produce json
// @Param request body controller.SignUpInput true "Sign up request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/auth/sign-up [post]
func (s *Server) signUp(c *gin.Context) {
	var req controller.SignUpInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.SignUp(c.Request.Context(), req); err != nil {
		s.respondWithRequestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		User:  s.session.CurrentUser(),
		State: s.controller.State(),
	})
}

// @Summary Sign out
// @Tags auth
// @Produce json
// @Success 200 {object} AuthResponse
// @Router /api/auth/sign-out [post]
func (s *Server) signOut(c *gin.Context) {
	if err := s.controller.SignOut(c.Request.Context()); err != nil {
		s.respondWithRequestError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{State: s.controller.State()})
}

// @Summary Send password reset email
// @Tags auth
// @Accept json
// @Produce json
// @Param request body controller.PasswordResetInput true "Password reset request"
// @Success 202 {object} map[string]interface{}
// @Router /api/auth/password-reset [post]
func (s *Server) resetPassword(c *gin.Context) {
	var req controller.PasswordResetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.controller.ResetPassword(c.Request.Context(), req); err != nil {
		s.respondWithRequestError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"state": s.controller.State()})
}

// @Summary Send verification email
// @Tags auth
// @Produce json
// @Success 202 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/verify-email [post]
func (s *Server) verifyEmail(c *gin.Context) {
	if err := s.controller.VerifyEmail(c.Request.Context()); err != nil {
		s.respondWithRequestError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"state": s.controller.State()})
}

// @Summary Get current user
// @Tags auth
// @Produce json
// @Success 200 {object} models.AppUser
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	user, ok := GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not signed in"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// @Summary Reload current user
// @Description Re-fetch the user record from the identity provider
// @Tags auth
// @Produce json
// @Success 200 {object} models.AppUser
// @Router /api/auth/reload [post]
func (s *Server) reloadUser(c *gin.Context) {
	user, err := s.session.Reload(c.Request.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to reload user")
		c.JSON(requestStatus(err), gin.H{"error": controller.Message(err)})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (s *Server) respondWithRequestError(c *gin.Context, err error) {
	status := requestStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Auth request failed")
	}

	c.JSON(status, ErrorResponse{
		Error: controller.Message(err),
		Code:  provider.Code(err),
		State: s.controller.State(),
	})
}

// requestStatus maps a request error to an HTTP status
func requestStatus(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotSignedIn), errors.Is(err, session.ErrSessionRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway
	case provider.IsCredentialError(err):
		return http.StatusUnauthorized
	}

	switch provider.Code(err) {
	case provider.CodeEmailExists:
		return http.StatusConflict
	case provider.CodeWeakPassword, provider.CodeInvalidEmail:
		return http.StatusBadRequest
	case provider.CodeTooManyAttempts:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
