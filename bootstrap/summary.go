package bootstrap

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/nodegraph/component"
	"github.com/kbukum/nodegraph/registry"
	"github.com/kbukum/nodegraph/server"
)

// CatalogEntry counts registered components of one category and runtime.
type CatalogEntry struct {
	Category string
	Runtime  registry.Runtime
	Count    int
}

// Summary tracks and displays what the application started with.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	catalog         []CatalogEntry
	continuous      int
	routes          []server.Route
}

// NewSummary creates a startup summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackCatalog records the registered components grouped by category and
// runtime.
func (s *Summary) TrackCatalog(specs []*registry.ComponentSpec) {
	counts := make(map[CatalogEntry]int)
	s.continuous = 0
	for _, spec := range specs {
		counts[CatalogEntry{Category: spec.Category, Runtime: spec.Runtime}]++
		if spec.Continuous {
			s.continuous++
		}
	}
	s.catalog = s.catalog[:0]
	for k, n := range counts {
		k.Count = n
		s.catalog = append(s.catalog, k)
	}
	sort.Slice(s.catalog, func(i, j int) bool {
		if s.catalog[i].Category != s.catalog[j].Category {
			return s.catalog[i].Category < s.catalog[j].Category
		}
		return s.catalog[i].Runtime < s.catalog[j].Runtime
	})
}

// TrackRoutes records the HTTP routes.
func (s *Summary) TrackRoutes(routes []server.Route) {
	s.routes = routes
}

// Catalog returns the tracked catalog groups.
func (s *Summary) Catalog() []CatalogEntry {
	return s.catalog
}

// Display writes the summary, including live health from reg, to w.
func (s *Summary) Display(w io.Writer, reg *component.Registry) {
	fmt.Fprintf(w, "\n%s %s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	if len(s.catalog) > 0 {
		total := 0
		for _, c := range s.catalog {
			total += c.Count
		}
		fmt.Fprintf(w, "Components (%d, %d continuous)\n", total, s.continuous)
		for i, c := range s.catalog {
			fmt.Fprintf(w, "   %s %s [%s]: %d\n", treePrefix(i, len(s.catalog)), c.Category, c.Runtime, c.Count)
		}
	} else {
		fmt.Fprintf(w, "   └── No components registered\n")
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "\nRoutes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-7s %s → %s\n", treePrefix(i, len(s.routes)), r.Method, r.Path, r.Handler)
		}
	}

	if reg != nil {
		results := reg.HealthAll(context.Background())
		if len(results) > 0 {
			fmt.Fprintf(w, "\nHealth\n")
			for i, h := range results {
				msg := ""
				if h.Message != "" {
					msg = ": " + h.Message
				}
				fmt.Fprintf(w, "   %s %s %s %s%s\n", treePrefix(i, len(results)),
					healthStatusIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
			}
		}
	}
	fmt.Fprintln(w)
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
