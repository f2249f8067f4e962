/* Copyright 2026 The CWMP Session Engine Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import "sync"

// pathNode is one node of the PathSet's segment-keyed tree. children
// is keyed by the segment's String() form so that "3" and "[Name=x]"
// and "*" all get distinct slots.
type pathNode struct {
	path     *Path // non-nil once a Path ending here has been Add()ed
	children map[string]*pathNode
}

func newPathNode() *pathNode {
	return &pathNode{children: make(map[string]*pathNode, 4)}
}

// PathSet interns Paths: Add returns the canonical pointer for a
// given sequence of segments, so that pointer equality implies path
// equality for any two Paths that went through the same PathSet.
type PathSet struct {
	mu   sync.RWMutex
	root *pathNode
}

// NewPathSet makes an empty PathSet.
func NewPathSet() *PathSet {
	return &PathSet{root: newPathNode()}
}

// Add interns p (which need not itself be interned) and returns the
// canonical *Path.
func (ps *PathSet) Add(p *Path) *Path {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	n := ps.root
	for _, seg := range p.Segments {
		key := seg.String()
		child, have := n.children[key]
		if !have {
			child = newPathNode()
			n.children[key] = child
		}
		n = child
	}
	if n.path == nil {
		n.path = NewPath(p.Segments...)
	}
	return n.path
}

// Get returns the interned Path matching p if one has been Add()ed,
// else nil.
func (ps *PathSet) Get(p *Path) *Path {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	n := ps.root
	for _, seg := range p.Segments {
		child, have := n.children[seg.String()]
		if !have {
			return nil
		}
		n = child
	}
	return n.path
}

// All returns every interned Path, in no particular order.
func (ps *PathSet) All() []*Path {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var acc []*Path
	var walk func(*pathNode)
	walk = func(n *pathNode) {
		if n.path != nil {
			acc = append(acc, n.path)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(ps.root)
	return acc
}

// segmentMatches reports whether a concrete segment (from an interned
// Path) satisfies a pattern segment. Alias literals are plain strings
// in this engine, so no bindings are involved.
func segmentMatches(pattern, concrete Segment) bool {
	switch {
	case pattern.Wildcard:
		return true
	case pattern.isAlias():
		// Alias segments are resolved against concrete children's
		// attribute values elsewhere (getAliasDeclarations); as a
		// bare structural match an alias segment behaves like a
		// wildcard over instance-shaped children.
		return concrete.IsNum || concrete.isAlias()
	default:
		return pattern.String() == concrete.String()
	}
}

// Find returns interned paths related to pattern.
//
// superset=true: paths that pattern could itself be an instance of,
// i.e. structural ancestors/equals of pattern where pattern's
// wildcards are allowed to have been concrete in the stored path.
//
// subset=true: paths that pattern covers, i.e. concrete paths that
// pattern (with its wildcards) would match.
//
// depth, if >0, additionally bounds the result to paths of exactly
// that length.
func (ps *PathSet) Find(pattern *Path, superset, subset bool, depth int) []*Path {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var acc []*Path

	if subset {
		var walk func(n *pathNode, i int)
		walk = func(n *pathNode, i int) {
			if i == pattern.Len() {
				if n.path != nil && (depth <= 0 || n.path.Len() == depth) {
					acc = append(acc, n.path)
				}
				if !subsetAllowsExtension(pattern) {
					return
				}
			}
			if i >= pattern.Len() {
				for _, c := range n.children {
					walk(c, i+1)
				}
				return
			}
			ps := pattern.Segments[i]
			if ps.Wildcard || ps.isAlias() {
				for _, c := range n.children {
					walk(c, i+1)
				}
				return
			}
			if c, have := n.children[ps.String()]; have {
				walk(c, i+1)
			}
		}
		walk(ps.root, 0)
		return dedupPaths(acc)
	}

	if superset {
		// Ancestors of pattern: all interned prefixes of pattern's
		// segments, plus pattern itself if interned.
		n := ps.root
		for i, seg := range pattern.Segments {
			child, have := n.children[seg.String()]
			if !have {
				break
			}
			n = child
			if n.path != nil && (depth <= 0 || n.path.Len() == depth) {
				acc = append(acc, n.path)
			}
			_ = i
		}
		return acc
	}

	// Neither flag: exact lookup.
	if p := ps.getLocked(pattern); p != nil {
		acc = append(acc, p)
	}
	return acc
}

func subsetAllowsExtension(pattern *Path) bool {
	return false
}

func (ps *PathSet) getLocked(p *Path) *Path {
	n := ps.root
	for _, seg := range p.Segments {
		child, have := n.children[seg.String()]
		if !have {
			return nil
		}
		n = child
	}
	return n.path
}

func dedupPaths(paths []*Path) []*Path {
	seen := make(map[*Path]bool, len(paths))
	acc := make([]*Path, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			acc = append(acc, p)
		}
	}
	return acc
}
