package router

import (
	"net/url"
	"strings"
)

// Guard is the redirect policy evaluated on every navigation and every
// sign-in status change
type Guard struct {
	table *Table
}

func NewGuard(table *Table) *Guard {
	return &Guard{table: table}
}

// Table returns the route table the guard evaluates
func (g *Guard) Table() *Table {
	return g.table
}

// Redirect returns where location must go for the given sign-in status, or
// false when location may be shown as is.
func (g *Guard) Redirect(location string, signedIn bool) (string, bool) {
	target := g.target(location, signedIn)
	if target == "" || target == location {
		return "", false
	}
	return target, true
}

func (g *Guard) target(location string, signedIn bool) string {
	u, err := url.Parse(location)
	if err != nil {
		return g.landing(signedIn)
	}

	path := cleanPath(u.Path)
	if path == cleanPath(g.table.Splash) {
		return g.landing(signedIn)
	}

	route, ok := g.table.Lookup(path)
	if !ok {
		return g.landing(signedIn)
	}

	switch route.Access {
	case AccessProtected:
		if !signedIn {
			return g.table.SignIn + "?from=" + url.QueryEscape(location)
		}
	case AccessGuest:
		if signedIn {
			if from := u.Query().Get("from"); g.safeReturn(from) {
				return from
			}
			return g.table.Home
		}
	}
	return ""
}

func (g *Guard) landing(signedIn bool) string {
	if signedIn {
		return g.table.Home
	}
	return g.table.SignIn
}

// safeReturn accepts only local protected locations as a post-sign-in target
func (g *Guard) safeReturn(from string) bool {
	if !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") {
		return false
	}
	u, err := url.Parse(from)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return false
	}
	route, ok := g.table.Lookup(u.Path)
	return ok && route.Access == AccessProtected
}
