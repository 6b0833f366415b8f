// Package manifest holds the PluginManifest type and the topological
// validation of the active plugin set.
package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrDependencyCycle is returned by ActivateSet when the candidate set
// contains a dependency cycle, or references a dependency outside the
// set; the active plugin set is rejected wholesale in either case.
var ErrDependencyCycle = errors.New("manifest: dependency cycle or unknown dependency in active plugin set")

// Queue names a cooperative queue tier.
type Queue string

const (
	Fast       Queue = "fast"
	Background Queue = "background"
)

// Filter narrows which files a plugin is invoked for.
type Filter struct {
	Ext      []string
	Mime     []string
	MinBytes int64
	MaxBytes int64
}

// Matches reports whether a file qualifies for this plugin.
func (f Filter) Matches(path string, size int64, mime string) bool {
	if f.MinBytes > 0 && size < f.MinBytes {
		return false
	}
	if f.MaxBytes > 0 && size > f.MaxBytes {
		return false
	}
	if len(f.Ext) > 0 {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		ok := false
		for _, e := range f.Ext {
			if strings.EqualFold(e, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Mime) > 0 {
		ok := false
		for _, m := range f.Mime {
			if strings.EqualFold(m, mime) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Manifest describes one plugin: its identity, its priority in the
// activation graph, and the queue it defaults onto.
type Manifest struct {
	ID           string   `json:"id"`
	Version      string   `json:"version"`
	Priority     int      `json:"priority"`
	DefaultQueue Queue    `json:"defaultQueue"`
	Dependencies []string `json:"dependencies"`
	TimeoutMs    int64    `json:"timeoutMs"`
	Filter       Filter   `json:"filter"`
	ConfigSchema any      `json:"configSchema,omitempty"`
	OutputSchema any      `json:"outputSchema,omitempty"`
	Instances    int      `json:"instances,omitempty"`
}

// ActivateSet validates that dependencies resolve inside the candidate
// set and that the set contains no dependency cycle, returning the
// manifests in topological order (dependencies before dependents).
//
// Grounded on the in-degree / ready-queue construction used for DAG
// task scheduling: build a dependents graph, seed a ready queue with
// zero in-degree nodes, and peel it layer by layer.
func ActivateSet(manifests []Manifest) ([]Manifest, error) {
	byID := make(map[string]Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}

	inDegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		if _, exists := inDegree[m.ID]; !exists {
			inDegree[m.ID] = 0
		}
		for _, dep := range m.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("manifest %q depends on unknown plugin %q: %w", m.ID, dep, ErrDependencyCycle)
			}
			inDegree[m.ID]++
			dependents[dep] = append(dependents[dep], m.ID)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	ordered := make([]Manifest, 0, len(manifests))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])
		for _, child := range dependents[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(ordered) != len(manifests) {
		return nil, fmt.Errorf("dependency cycle detected in active plugin set: %w", ErrDependencyCycle)
	}
	return ordered, nil
}
