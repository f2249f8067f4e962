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

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AliasTerm is one "subpath=literal" equality constraint inside an
// alias segment, e.g. the "Name=wan0" in "IF.*.[Name=wan0]".
type AliasTerm struct {
	Subpath string
	Literal string
}

// Segment is one element of a Path. A segment is exactly one of: a
// plain name, a numeric instance index, the wildcard "*", or an alias
// expression (an ordered list of AliasTerms).
type Segment struct {
	Name     string
	Num      int64
	IsNum    bool
	Wildcard bool
	Alias    []AliasTerm
}

func (s Segment) isAlias() bool {
	return s.Alias != nil
}

func (s Segment) String() string {
	switch {
	case s.Wildcard:
		return "*"
	case s.isAlias():
		parts := make([]string, len(s.Alias))
		for i, t := range s.Alias {
			parts[i] = t.Subpath + "=" + t.Literal
		}
		return "[" + strings.Join(parts, ",") + "]"
	case s.IsNum:
		return strconv.FormatInt(s.Num, 10)
	default:
		return s.Name
	}
}

// Path is an interned, ordered sequence of Segments. Paths are
// interned by PathSet; equal paths that have gone through the same
// PathSet are pointer-equal.
//
// maxPathDepth bounds the number of segments whose wildcard/alias
// status is tracked in the cheap bitmasks below; CWMP data models
// never approach this in practice.
const maxPathDepth = 64

type Path struct {
	Segments []Segment

	// wildcardMask and aliasMask have bit i set iff Segments[i]
	// is a wildcard (resp. alias) segment, for i < maxPathDepth.
	wildcardMask uint64
	aliasMask    uint64

	str string
}

func computeMasks(segs []Segment) (wildcard, alias uint64) {
	for i, s := range segs {
		if i >= maxPathDepth {
			break
		}
		if s.Wildcard {
			wildcard |= 1 << uint(i)
		}
		if s.isAlias() {
			alias |= 1 << uint(i)
		}
	}
	return
}

// NewPath builds a Path from already-parsed segments. The Path is not
// interned; use PathSet.Add to intern it.
func NewPath(segs ...Segment) *Path {
	w, a := computeMasks(segs)
	p := &Path{Segments: segs, wildcardMask: w, aliasMask: a}
	p.str = joinSegments(segs)
	return p
}

func joinSegments(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// ParsePath parses a dot-separated path string. Each segment may be a
// plain name, a decimal instance number, "*", or an alias expression
// "[sub=lit,sub2=lit2]".
func ParsePath(s string) (*Path, error) {
	if s == "" {
		return NewPath(), nil
	}
	segStrs := splitPathString(s)
	segs := make([]Segment, len(segStrs))
	for i, ss := range segStrs {
		seg, err := parseSegment(ss)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", s, err)
		}
		segs[i] = seg
	}
	return NewPath(segs...), nil
}

// splitPathString splits on '.' but not inside a "[...]" alias
// expression.
func splitPathString(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func parseSegment(s string) (Segment, error) {
	switch {
	case s == "*":
		return Segment{Wildcard: true}, nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner := s[1 : len(s)-1]
		if inner == "" {
			return Segment{}, fmt.Errorf("empty alias expression")
		}
		terms := strings.Split(inner, ",")
		alias := make([]AliasTerm, len(terms))
		for i, t := range terms {
			kv := strings.SplitN(t, "=", 2)
			if len(kv) != 2 {
				return Segment{}, fmt.Errorf("bad alias term %q", t)
			}
			alias[i] = AliasTerm{Subpath: kv[0], Literal: kv[1]}
		}
		sort.Slice(alias, func(i, j int) bool { return alias[i].Subpath < alias[j].Subpath })
		return Segment{Alias: alias}, nil
	default:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Segment{IsNum: true, Num: n}, nil
		}
		return Segment{Name: s}, nil
	}
}

// String renders the Path back to dotted form.
func (p *Path) String() string {
	if p == nil {
		return ""
	}
	return p.str
}

// Len is the number of segments.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Segments)
}

// Slice returns the sub-path [i:j), uninterned.
func (p *Path) Slice(i, j int) *Path {
	return NewPath(p.Segments[i:j]...)
}

// Concat appends other's segments to p, uninterned.
func (p *Path) Concat(other *Path) *Path {
	segs := make([]Segment, 0, p.Len()+other.Len())
	segs = append(segs, p.Segments...)
	segs = append(segs, other.Segments...)
	return NewPath(segs...)
}

// ConcatSegment appends a single segment, uninterned.
func (p *Path) ConcatSegment(seg Segment) *Path {
	segs := make([]Segment, 0, p.Len()+1)
	segs = append(segs, p.Segments...)
	segs = append(segs, seg)
	return NewPath(segs...)
}

// HasWildcardAt reports whether the segment at i is a wildcard.
func (p *Path) HasWildcardAt(i int) bool {
	if i >= maxPathDepth {
		return p.Segments[i].Wildcard
	}
	return p.wildcardMask&(1<<uint(i)) != 0
}

// HasAliasAt reports whether the segment at i is an alias expression.
func (p *Path) HasAliasAt(i int) bool {
	if i >= maxPathDepth {
		return p.Segments[i].isAlias()
	}
	return p.aliasMask&(1<<uint(i)) != 0
}

// HasWildcard reports whether any segment is a wildcard.
func (p *Path) HasWildcard() bool {
	return p.wildcardMask != 0
}

// HasAlias reports whether any segment is an alias expression.
func (p *Path) HasAlias() bool {
	return p.aliasMask != 0
}

// IsConcrete reports that the path has neither wildcards nor alias
// expressions, i.e. it names exactly one node.
func (p *Path) IsConcrete() bool {
	return !p.HasWildcard() && !p.HasAlias()
}

// First returns the name of the first segment, or "" for the root.
func (p *Path) First() string {
	if p.Len() == 0 {
		return ""
	}
	return p.Segments[0].String()
}

// Less provides a total order over Paths in which exact segments sort
// before wildcard segments at the same position, matching the
// planner's traversal order (processDeclarations walks exact segments
// before wildcards).
func Less(a, b *Path) bool {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		as, bs := a.Segments[i], b.Segments[i]
		aw, bw := as.Wildcard, bs.Wildcard
		if aw != bw {
			return !aw // exact before wildcard
		}
		an, bn := as.String(), bs.String()
		if an != bn {
			return an < bn
		}
	}
	return a.Len() < b.Len()
}
