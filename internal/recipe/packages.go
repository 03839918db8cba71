package recipe

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// OutputRecord is one emitted sub-output of an XPD, with per-field fallback
// to the top-level recipe's values already applied (§4.3).
type OutputRecord struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	Dirs         []string
	Files        []string // regexes; nil/empty means catch-all
	CatchAll     bool
}

// Packages returns the ordered sequence of sub-output records for xpd
// (§4.3). If xpd has no "packages" key, it returns a single record derived
// from the top-level fields. Otherwise it builds a dependency graph over
// sub-output names (restricted to dependencies naming a peer in the same
// XPD), topologically sorts it, and emits records with top-level fallback
// for Version/Description/Dependencies.
func Packages(xpd *XPD) ([]OutputRecord, error) {
	if len(xpd.Packages) == 0 {
		return []OutputRecord{{
			Name:         xpd.Name,
			Version:      xpd.Version,
			Description:  xpd.Description,
			Dependencies: xpd.Dependencies,
			CatchAll:     true,
		}}, nil
	}

	names := make([]string, 0, len(xpd.Packages))
	for name := range xpd.Packages {
		names = append(names, name)
	}
	idOf := make(map[string]int64, len(names))
	nameOf := make(map[int64]string, len(names))
	for i, name := range names {
		idOf[name] = int64(i)
		nameOf[int64(i)] = name
	}

	g := simple.NewDirectedGraph()
	for _, name := range names {
		g.AddNode(simple.Node(idOf[name]))
	}
	for _, name := range names {
		sub := xpd.Packages[name]
		for _, dep := range sub.Dependencies {
			d := ParseDepSpec(dep)
			if peerID, ok := idOf[d.Name]; ok {
				if peerID == idOf[name] {
					return nil, &xpkgerr.DependencyCycle{Cycle: []string{name}}
				}
				// Edge dependency -> dependent, so that the forward
				// topological order below emits dependencies first (the
				// Dependency Resolver draws its edges the other way and
				// reverses its sort instead).
				g.SetEdge(g.NewEdge(simple.Node(peerID), simple.Node(idOf[name])))
			}
		}
	}

	sorted, err := topo.SortStabilized(g, nil)
	if err != nil {
		return nil, &xpkgerr.DependencyCycle{Cycle: []string{fmt.Sprintf("sub-outputs of %s", xpd.Name)}}
	}

	records := make([]OutputRecord, 0, len(sorted))
	for _, n := range sorted {
		name := nameOf[n.ID()]
		sub := xpd.Packages[name]

		outName := sub.Name
		if outName == "" {
			outName = name
		}
		version := sub.Version
		if version == "" {
			version = xpd.Version
		}
		description := sub.Description
		if description == "" {
			description = xpd.Description
		}
		deps := sub.Dependencies
		if deps == nil {
			deps = xpd.Dependencies
		}

		records = append(records, OutputRecord{
			Name:         outName,
			Version:      version,
			Description:  description,
			Dependencies: deps,
			Dirs:         sub.Dirs,
			Files:        sub.Files,
			CatchAll:     sub.IsCatchAll(),
		})
	}
	return records, nil
}
