package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/branchd-dev/authflow/internal/models"
	"github.com/branchd-dev/authflow/internal/router"
)

const screensPrefix = "/screens"

var ErrNoSession = errors.New("no session")

// CurrentUserSource reports the signed-in user
type CurrentUserSource interface {
	CurrentUser() *models.AppUser
}

func setUser(c *gin.Context, user *models.AppUser) {
	c.Set("user", user)
}

// GetUser returns the user stored by SessionRequiredMiddleware
func GetUser(c *gin.Context) (*models.AppUser, bool) {
	v, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.AppUser)
	return user, ok && user != nil
}

func setRoute(c *gin.Context, route router.Route) {
	c.Set("route", route)
}

func getRoute(c *gin.Context) (router.Route, bool) {
	v, exists := c.Get("route")
	if !exists {
		return router.Route{}, false
	}
	route, ok := v.(router.Route)
	return route, ok
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// screenLocation strips the /screens prefix and keeps the query
func screenLocation(c *gin.Context) string {
	location := c.Param("path")
	if location == "" {
		location = "/"
	}
	if q := c.Request.URL.RawQuery; q != "" {
		location += "?" + q
	}
	return location
}

// GuardMiddleware redirects screen requests the route guard does not allow
func GuardMiddleware(guard *router.Guard, users CurrentUserSource, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		location := screenLocation(c)
		user := users.CurrentUser()

		if target, redirect := guard.Redirect(location, user != nil); redirect {
			log.Debug().Str("location", location).Str("target", target).Bool("signed_in", user != nil).Msg("Guard redirect")
			c.Redirect(http.StatusFound, screensPrefix+target)
			c.Abort()
			return
		}

		path, _, _ := strings.Cut(location, "?")
		route, ok := guard.Table().Lookup(path)
		if !ok {
			respondWithError(c, log, http.StatusNotFound, errors.New("unknown route"), "Screen not found")
			return
		}

		setRoute(c, route)
		setUser(c, user)
		c.Next()
	}
}

// SessionRequiredMiddleware rejects requests while signed out
func SessionRequiredMiddleware(users CurrentUserSource, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := users.CurrentUser()
		if user == nil {
			respondWithError(c, log, http.StatusUnauthorized, ErrNoSession, "Not signed in")
			return
		}
		setUser(c, user)
		c.Next()
	}
}
