// Package resolver implements the Dependency Resolver (§4.8): builds a
// directed graph of package names from runtime (and, for XPDs, build)
// dependencies, rejects cycles, and emits a reverse-topological install
// order.
//
// Grounded on the teacher's internal/batch/batch.go, which builds exactly
// this shape of graph (node per package, edge dependent->dependency) with
// gonum's simple.NewDirectedGraph and breaks/detects cycles with
// graph/topo, generalized here from "local build order across the package
// tree" to "install order across one package's dependency closure" with a
// genuine cycle-is-fatal policy instead of batch.go's cycle-breaking
// bootstrap dance (§1 non-goals: no bootstrap-order heuristics).
package resolver

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/xpkg/xpkg/internal/archive"
	"github.com/xpkg/xpkg/internal/index"
	"github.com/xpkg/xpkg/internal/installdb"
	"github.com/xpkg/xpkg/internal/recipe"
	"github.com/xpkg/xpkg/internal/toolset"
	"github.com/xpkg/xpkg/internal/xpkgerr"
)

// Lookup abstracts the installed-package check so the resolver can apply
// the conflict rule without importing a concrete DB type cycle-free.
type Lookup interface {
	Get(name string) (installdb.BaseRecord, error)
}

// Resolver walks a package index and an installed-package lookup to expand
// a dependency closure.
type Resolver struct {
	Index   *index.Index
	DB      Lookup
	Toolset toolset.Toolset
}

// New constructs a Resolver over idx and db, with toolset ts used to
// resolve toolset-indirect build-dependencies ("tl:ROLE").
func New(idx *index.Index, db Lookup, ts toolset.Toolset) *Resolver {
	return &Resolver{Index: idx, DB: db, Toolset: ts}
}

// ResolvedPackage is one node of the resolved install order: a concrete
// name and version, plus whether it needs a build (tree) or is directly
// installable (repo).
type ResolvedPackage struct {
	Name       string
	Version    string
	Locator    index.Locator
	IsArchive  bool
}

// Resolve expands the dependency closure of root (an XPD or an XPA, as
// named by the caller's top-level Locator) and returns its dependencies in
// reverse-topological order: a dependency always precedes its dependent
// (§4.8).
func (r *Resolver) Resolve(root index.Locator, rootDeps []string, rootBuildDeps []string) ([]ResolvedPackage, error) {
	g := simple.NewDirectedGraph()
	idOf := make(map[string]int64)
	nameOf := make(map[int64]string)
	locOf := make(map[string]index.Locator)

	const rootKey = "\x00root"
	idOf[rootKey] = 0
	nameOf[0] = rootKey
	g.AddNode(simple.Node(0))

	nextID := int64(1)
	nodeFor := func(name string) int64 {
		if id, ok := idOf[name]; ok {
			return id
		}
		id := nextID
		nextID++
		idOf[name] = id
		nameOf[id] = name
		g.AddNode(simple.Node(id))
		return id
	}

	type queued struct {
		name string
		spec string // raw dep-spec, for version pin extraction
	}
	seen := map[string]bool{rootKey: true}
	var queue []queued
	for _, d := range rootDeps {
		queue = append(queue, queued{name: recipe.ParseDepSpec(d).Name, spec: d})
	}
	for _, d := range rootBuildDeps {
		ds := recipe.ParseDepSpec(d)
		if ds.IsToolsetIndirect() {
			concrete := r.Toolset.Resolve(d)
			if concrete == "" {
				continue // use whatever the host provides
			}
			queue = append(queue, queued{name: concrete, spec: concrete})
			continue
		}
		queue = append(queue, queued{name: ds.Name, spec: d})
	}
	for _, q := range queue {
		g.SetEdge(g.NewEdge(simple.Node(0), simple.Node(nodeFor(q.name))))
	}

	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]
		if seen[q.name] {
			continue
		}
		seen[q.name] = true

		ds := recipe.ParseDepSpec(q.spec)
		loc, err := r.Index.Lookup(q.name, ds.Version)
		if err != nil {
			return nil, &xpkgerr.NotFound{What: "dependency", Name: q.name}
		}
		locOf[q.name] = loc

		if err := r.checkConflict(q.name, loc.Version); err != nil {
			return nil, err
		}

		var deps, buildDeps []string
		switch loc.Kind {
		case index.Tree:
			xpd, err := recipe.Load(loc.Path)
			if err != nil {
				return nil, err
			}
			deps = xpd.Dependencies
			buildDeps = xpd.BuildDependencies
		case index.Repo:
			xpa, err := archive.Open(loc.Path)
			if err != nil {
				return nil, err
			}
			deps = xpa.Manifest.Dependencies
		}

		myID := nodeFor(q.name)
		for _, d := range deps {
			depName := recipe.ParseDepSpec(d).Name
			depID := nodeFor(depName)
			if myID == depID {
				return nil, &xpkgerr.DependencyCycle{Cycle: []string{q.name}}
			}
			g.SetEdge(g.NewEdge(simple.Node(myID), simple.Node(depID)))
			if !seen[depName] {
				queue = append(queue, queued{name: depName, spec: d})
			}
		}
		for _, d := range buildDeps {
			bds := recipe.ParseDepSpec(d)
			if bds.IsToolsetIndirect() {
				concrete := r.Toolset.Resolve(d)
				if concrete == "" {
					continue
				}
				concreteID := nodeFor(concrete)
				if myID == concreteID {
					return nil, &xpkgerr.DependencyCycle{Cycle: []string{q.name}}
				}
				g.SetEdge(g.NewEdge(simple.Node(myID), simple.Node(concreteID)))
				if !seen[concrete] {
					queue = append(queue, queued{name: concrete, spec: concrete})
				}
				continue
			}
			bdID := nodeFor(bds.Name)
			if myID == bdID {
				return nil, &xpkgerr.DependencyCycle{Cycle: []string{q.name}}
			}
			g.SetEdge(g.NewEdge(simple.Node(myID), simple.Node(bdID)))
			if !seen[bds.Name] {
				queue = append(queue, queued{name: bds.Name, spec: d})
			}
		}
	}

	sccs := topo.TarjanSCC(g)
	for _, scc := range sccs {
		if len(scc) > 1 {
			cycle := make([]string, len(scc))
			for i, n := range scc {
				cycle[i] = nameOf[n.ID()]
			}
			return nil, &xpkgerr.DependencyCycle{Cycle: cycle}
		}
	}
	sorted, err := topo.Sort(g)
	if err != nil {
		return nil, &xpkgerr.DependencyCycle{Cycle: []string{"unresolvable ordering"}}
	}

	// sorted is in "dependent before dependency" order (edges point from
	// dependent to dependency); reverse it so a dependency installs before
	// its dependent (§4.8).
	var out []ResolvedPackage
	for i := len(sorted) - 1; i >= 0; i-- {
		n := sorted[i]
		name := nameOf[n.ID()]
		if name == rootKey {
			continue
		}
		loc := locOf[name]
		out = append(out, ResolvedPackage{
			Name:      name,
			Version:   loc.Version,
			Locator:   loc,
			IsArchive: loc.Kind == index.Repo,
		})
	}
	return out, nil
}

// checkConflict implements §4.8's conflict rule: fail if name is already
// installed at a version other than the one being resolved to.
func (r *Resolver) checkConflict(name, version string) error {
	base, err := r.DB.Get(name)
	if err != nil {
		return nil // not installed: no conflict
	}
	if base.Version != version {
		return &xpkgerr.Conflict{Msg: fmt.Sprintf("%s: installed at %s, dependency requires %s", name, base.Version, version)}
	}
	return nil
}
