// Package router declares HTTP endpoints as data: each route names its
// method, path, handler and the access level callers need.
package router

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/labstack/echo/v4"

	"github.com/ehr/records/internal/platform/auth"
)

// Access is the caller requirement enforced before a handler runs.
type Access int

const (
	Public Access = iota
	Authenticated
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// Route is one row of the route table.
type Route struct {
	Method  string
	Path    string
	Handler echo.HandlerFunc
	Access  Access
	// Name documents the route in listings.
	Name string
}

// Register mounts routes on g, wrapping each with the middleware that
// enforces its access level.
func Register(g *echo.Group, routes []Route) {
	for _, r := range routes {
		var mw []echo.MiddlewareFunc
		if r.Access == Authenticated {
			mw = append(mw, auth.RequireAuthenticated)
		}
		route := g.Add(r.Method, r.Path, r.Handler, mw...)
		if r.Name != "" {
			route.Name = r.Name
		}
	}
}

// Print writes a table of routes under prefix, sorted by path then method.
func Print(w io.Writer, prefix string, routes []Route) error {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tACCESS\tNAME")
	for _, r := range sorted {
		fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\n", r.Method, prefix, r.Path, r.Access, r.Name)
	}
	return tw.Flush()
}
