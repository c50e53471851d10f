// Package router decides which screen may be shown for the current
// sign-in status and keeps the active location in step with the session.
package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Access controls who may see a route
type Access string

const (
	AccessPublic    Access = "public"    // anyone
	AccessGuest     Access = "guest"     // signed out only (sign-in, sign-up)
	AccessProtected Access = "protected" // signed in only
)

// Route is a named screen location
type Route struct {
	Name   string `yaml:"name" json:"name"`
	Path   string `yaml:"path" json:"path"`
	Access Access `yaml:"access" json:"access"`
}

// Table is the set of known routes plus the well-known targets the guard
// redirects to
type Table struct {
	Splash string  `yaml:"splash"`
	Home   string  `yaml:"home"`
	SignIn string  `yaml:"sign_in"`
	Routes []Route `yaml:"routes"`

	byPath map[string]Route
}

// DefaultTable returns the built-in route table
func DefaultTable() *Table {
	t := &Table{
		Splash: "/",
		Home:   "/home",
		SignIn: "/sign-in",
		Routes: []Route{
			{Name: "splash", Path: "/", Access: AccessPublic},
			{Name: "sign-in", Path: "/sign-in", Access: AccessGuest},
			{Name: "sign-up", Path: "/sign-up", Access: AccessGuest},
			{Name: "home", Path: "/home", Access: AccessProtected},
			{Name: "profile", Path: "/profile", Access: AccessProtected},
		},
	}
	if err := t.index(); err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads a route table from a YAML file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses and validates a YAML route table
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Table) index() error {
	t.byPath = make(map[string]Route, len(t.Routes))
	for i, r := range t.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route %q: path must start with /", r.Name)
		}
		switch r.Access {
		case AccessPublic, AccessGuest, AccessProtected:
		case "":
			r.Access = AccessPublic
			t.Routes[i] = r
		default:
			return fmt.Errorf("route %q: invalid access '%s', must be one of: public, guest, protected", r.Name, r.Access)
		}
		p := cleanPath(r.Path)
		if _, dup := t.byPath[p]; dup {
			return fmt.Errorf("route %q: duplicate path %s", r.Name, p)
		}
		t.byPath[p] = r
	}

	if t.Splash == "" {
		t.Splash = "/"
	}
	checks := []struct {
		label  string
		path   string
		access Access
	}{
		{label: "home", path: t.Home, access: AccessProtected},
		{label: "sign_in", path: t.SignIn, access: AccessGuest},
	}
	for _, c := range checks {
		r, ok := t.byPath[cleanPath(c.path)]
		if !ok {
			return fmt.Errorf("%s route %q is not in the table", c.label, c.path)
		}
		if r.Access != c.access {
			return fmt.Errorf("%s route %q must be %s", c.label, c.path, c.access)
		}
	}
	return nil
}

// Lookup finds the route for a path
func (t *Table) Lookup(path string) (Route, bool) {
	r, ok := t.byPath[cleanPath(path)]
	return r, ok
}

// Named finds a route by name
func (t *Table) Named(name string) (Route, bool) {
	for _, r := range t.Routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
