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
	"context"
	"sort"
	"strconv"
)

// mergedDeclaration accumulates every Declaration targeting the same
// (interned) pattern: max timestamps, union of attribute requests.
type mergedDeclaration struct {
	path      *Path
	timestamp int64
	attrGet   map[Attr]int64
	attrSet   map[Attr]interface{}
	card      *PathCardinality
	relative  bool
}

// RunDeclarations merges one inception level's Declarations into the
// session's SyncState and returns the virtual-parameter declarations
// that level produced.
func (ctx *SessionContext) RunDeclarations(c context.Context, inception int, decls []*Declaration) []*Declaration {
	if ctx.SyncState == nil {
		ctx.SyncState = NewSyncState()
	}
	ss := ctx.SyncState

	merged := map[*Path]*mergedDeclaration{}
	var order []*Path

	add := func(pattern *Path, t int64, attrGet map[Attr]int64, attrSet map[Attr]interface{}, card *PathCardinality, relative, deferred bool) {
		ip := ctx.Device.Paths.Add(pattern)
		md := merged[ip]
		if md == nil {
			md = &mergedDeclaration{path: ip, attrGet: map[Attr]int64{}}
			merged[ip] = md
			order = append(order, ip)
		}
		if t > md.timestamp {
			md.timestamp = t
		}
		for k, v := range attrGet {
			if v > md.attrGet[k] {
				md.attrGet[k] = v
			}
		}
		if attrSet != nil && (!deferred || md.attrSet != nil) {
			if md.attrSet == nil {
				md.attrSet = map[Attr]interface{}{}
			}
			for k, v := range attrSet {
				md.attrSet[k] = v
			}
		}
		if card != nil {
			md.card = card
			md.relative = relative
		}
	}

	for _, d := range decls {
		p := d.Path
		if p == nil || p.Len() == 0 {
			continue
		}

		// Intern the roots the engine computes itself, plus every
		// known virtual parameter leaf, so that unpacking and tree
		// walks can see them.
		switch p.Segments[0].String() {
		case "Reboot", "FactoryReset":
			ctx.Device.Paths.Add(p.Slice(0, 1))
		case "VirtualParameters":
			ctx.Device.Paths.Add(mustParsePath("VirtualParameters"))
			for _, name := range ctx.virtualParameterNames(c) {
				ctx.Device.Paths.Add(mustParsePath("VirtualParameters." + name))
			}
		}

		t := int64(0)
		if d.PathGet != nil {
			t = *d.PathGet
		}

		// Alias expansion: concrete (subpath, timestamp,
		// attrTimestamps) declarations, each tracked as a
		// prerequisite so the engine notices later key changes.
		if p.HasAlias() {
			for _, ad := range ctx.Device.GetAliasDeclarations(p, t, d.AttrGet) {
				add(ad.Path, ad.Timestamp, ad.AttrTimestamps, nil, nil, false, false)
			}
		}

		add(p, t, d.AttrGet, d.AttrSet, d.PathSet, d.relativeCardinality, d.Defer)
	}

	// Walk patterns with exact segments before wildcards.
	sort.Slice(order, func(i, j int) bool { return Less(order[i], order[j]) })

	var vpDecls []*Declaration
	for _, p := range order {
		md := merged[p]
		switch p.Segments[0].String() {
		case "Reboot":
			ctx.processRebootDeclaration(md, &ss.Reboot)
		case "FactoryReset":
			ctx.processRebootDeclaration(md, &ss.FactoryReset)
		case "Tags":
			ctx.processTagDeclaration(md)
		case "Events", "DeviceID":
			// ACS-computed; nothing to plan.
		case "Downloads":
			ctx.processDownloadDeclaration(md)
		case "VirtualParameters":
			vpDecls = append(vpDecls, ctx.processVirtualParameterDeclaration(c, md)...)
		default:
			ctx.processParamDeclaration(md)
		}
	}

	ss.VirtualParameterDeclarations[inception] = vpDecls
	return vpDecls
}

// processRebootDeclaration handles the virtual Reboot/FactoryReset
// node: a declared value at depth 1 is the epoch-ms due time.
func (ctx *SessionContext) processRebootDeclaration(md *mergedDeclaration, slot **int64) {
	if md.path.Len() != 1 || md.attrSet == nil {
		return
	}
	v, have := md.attrSet[AttrValue]
	if !have {
		return
	}
	due, ok := epochMs(v)
	if !ok {
		return
	}
	// Already satisfied if the device's recorded value is at or
	// past the requested time.
	if ip := ctx.Device.Paths.Get(md.path); ip != nil {
		if attrs, ok := ctx.Device.Attributes.Get(ip); ok && attrs != nil && attrs.Value != nil {
			if cur, err := strconv.ParseInt(attrs.Value.Value.Value, 10, 64); err == nil && cur >= due {
				return
			}
		}
	}
	*slot = &due
}

// epochMs extracts an epoch-millisecond time from a declared value.
func epochMs(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case ValueType:
		t, err := strconv.ParseInt(n.Value, 10, 64)
		return t, err == nil
	case string:
		t, err := strconv.ParseInt(n, 10, 64)
		return t, err == nil
	default:
		return 0, false
	}
}

// processTagDeclaration records a pending Tags.<name> assignment at a
// depth-2 concrete path.
func (ctx *SessionContext) processTagDeclaration(md *mergedDeclaration) {
	if md.path.Len() != 2 || !md.path.IsConcrete() || md.attrSet == nil {
		return
	}
	v, have := md.attrSet[AttrValue]
	if !have {
		return
	}
	on := false
	switch b := v.(type) {
	case bool:
		on = b
	case ValueType:
		on = b.Value == "true" || b.Value == "1"
	case string:
		on = b == "true" || b == "1"
	}

	// Skip when the device data already reflects the desired state.
	present := false
	if ip := ctx.Device.Paths.Get(md.path); ip != nil {
		if attrs, ok := ctx.Device.Attributes.Get(ip); ok && attrs != nil && attrs.Value != nil {
			present = attrs.Value.Value.Value == "true" || attrs.Value.Value.Value == "1"
		}
	}
	if present == on {
		return
	}
	ctx.SyncState.Tags[md.path.String()] = tagEntry{Path: md.path, Value: on}
}

// processDownloadDeclaration handles the ACS-maintained Downloads
// tree: cardinality plans instance create/delete; a depth-3 Download
// leaf carries the requested transfer time; other depth-3 leaves are
// plain ACS-local values.
func (ctx *SessionContext) processDownloadDeclaration(md *mergedDeclaration) {
	ss := ctx.SyncState
	p := md.path

	if md.card != nil {
		ctx.processInstances(md)
		return
	}

	if p.Len() != 3 {
		return
	}

	var targets []*Path
	if p.IsConcrete() {
		targets = []*Path{p}
	} else {
		targets = ctx.unpackWithAlias(p)
	}

	for _, t := range targets {
		if md.attrSet == nil {
			continue
		}
		v, have := md.attrSet[AttrValue]
		if !have {
			continue
		}
		if t.Segments[2].String() == "Download" {
			if due, ok := epochMs(v); ok {
				cur := ss.DownloadsDownload[t.String()]
				if cur.Path == nil || due > cur.Timestamp {
					ss.DownloadsDownload[t.String()] = downloadEntry{Path: t, Timestamp: due}
				}
			}
			continue
		}
		if vt, ok := v.(ValueType); ok {
			if attrs, ok2 := ctx.Device.Attributes.Get(t); ok2 && attrs != nil && attrs.Value != nil {
				if attrs.Value.Value.Equal(normalizeDeclared(vt, attrs)) {
					continue
				}
			}
			ss.DownloadsValues[t.String()] = downloadValueEntry{Path: t, Value: vt}
		}
	}
}

// processVirtualParameterDeclaration turns VirtualParameters.* level
// declarations into the declarations handed to virtual parameter
// scripts: at depth 1 it ensures the object node itself; at depth 2 a
// wildcard iterates every known name, and a concrete name must exist
// (unknown names are dropped, with their stale state cleared).
func (ctx *SessionContext) processVirtualParameterDeclaration(c context.Context, md *mergedDeclaration) []*Declaration {
	p := md.path

	if p.Len() == 1 {
		ts := ctx.writeTimestamp()
		var toClear []ToClearEntry
		toClear = ctx.Device.Set(p, ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: 1},
			Writable: &TSValue[int]{Timestamp: ts, Value: 0},
		}, toClear)
		ctx.Device.ApplyToClear(toClear)
		return nil
	}
	if p.Len() != 2 {
		return nil
	}

	known := map[string]bool{}
	for _, n := range ctx.virtualParameterNames(c) {
		known[n] = true
	}

	var names []string
	if p.HasWildcardAt(1) {
		names = ctx.virtualParameterNames(c)
	} else {
		name := p.Segments[1].String()
		if !known[name] {
			// Not a virtual parameter (anymore): drop the
			// declaration and clear whatever state it left.
			if ip := ctx.Device.Paths.Get(p); ip != nil {
				ctx.Device.Clear(ip, ctx.writeTimestamp(), nil, nil)
			}
			return nil
		}
		names = []string{name}
	}

	var out []*Declaration
	for _, name := range names {
		leaf := ctx.Device.Paths.Add(mustParsePath("VirtualParameters." + name))
		attrs, _ := ctx.Device.Attributes.Get(leaf)

		d := &Declaration{Path: leaf}
		stale := false
		if md.timestamp > 0 {
			ts, have := ctx.Device.Timestamps.Get(leaf)
			if !have || ts < md.timestamp {
				v := md.timestamp
				d.PathGet = &v
				stale = true
			}
		}
		for kind, wanted := range md.attrGet {
			if attrs.Timestamp(kind) < wanted {
				if d.AttrGet == nil {
					d.AttrGet = map[Attr]int64{}
				}
				d.AttrGet[kind] = wanted
				stale = true
			}
		}
		if md.attrSet != nil {
			// Sets are re-issued unless the stored value already
			// matches the desired one.
			if v, have := md.attrSet[AttrValue]; have {
				if vt, ok := v.(ValueType); ok {
					if attrs == nil || attrs.Value == nil || !attrs.Value.Value.Equal(normalizeDeclared(vt, attrs)) {
						d.AttrSet = map[Attr]interface{}{AttrValue: vt}
						stale = true
					}
				}
			}
		}
		if stale {
			out = append(out, d)
		}
	}
	return out
}

// normalizeDeclared fills a declared value's missing XSD type from
// the device's currently stored type, so comparisons don't spuriously
// differ on type alone.
func normalizeDeclared(v ValueType, attrs *Attributes) ValueType {
	if v.Type != "" {
		return v
	}
	if attrs != nil && attrs.Value != nil && attrs.Value.Value.Type != "" {
		v.Type = attrs.Value.Value.Type
	} else {
		v.Type = "xsd:string"
	}
	return v
}

// unpackWithAlias expands a pattern against the known paths, keeping
// for any alias segments only children whose recorded key values
// match the alias literals.
func (ctx *SessionContext) unpackWithAlias(p *Path) []*Path {
	matches := ctx.Device.Paths.Find(p, false, true, 0)
	if !p.HasAlias() {
		return matches
	}
	var out []*Path
	for _, m := range matches {
		ok := true
		for i, seg := range p.Segments {
			if !seg.isAlias() {
				continue
			}
			if !ctx.Device.aliasMatches(m.Slice(0, i+1), seg.Alias) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, m)
		}
	}
	return out
}

// fetchTimestamp reports how fresh the engine's knowledge of p's
// existence is: the max of p's own recorded timestamp and the
// parent's child-listing timestamp (stamped on parent.* when a
// GetParameterNames response for the parent is assimilated).
func (ctx *SessionContext) fetchTimestamp(p *Path) int64 {
	var best int64
	if ip := ctx.Device.Paths.Get(p); ip != nil {
		if ts, have := ctx.Device.Timestamps.Get(ip); have && ts > best {
			best = ts
		}
	}
	if n := p.Len(); n > 0 {
		wc := p.Slice(0, n-1).ConcatSegment(Segment{Wildcard: true})
		if ip := ctx.Device.Paths.Get(wc); ip != nil {
			if ts, have := ctx.Device.Timestamps.Get(ip); have && ts > best {
				best = ts
			}
		}
	}
	return best
}

// firstNonConcrete returns the index of p's first wildcard or alias
// segment, or p.Len() if p is concrete.
func firstNonConcrete(p *Path) int {
	for i := range p.Segments {
		if p.HasWildcardAt(i) || p.HasAliasAt(i) {
			return i
		}
	}
	return p.Len()
}

// processParamDeclaration plans the reads and writes for a regular
// data-model pattern: discovery (GPN) when existence knowledge is
// stale, per-attribute refreshes, and SPV/SPA entries.
func (ctx *SessionContext) processParamDeclaration(md *mergedDeclaration) {
	ss := ctx.SyncState
	p := md.path

	if md.timestamp > 0 && md.timestamp > ctx.fetchTimestamp(p) {
		ctx.planDiscovery(p, md.timestamp)
	}
	if md.card != nil {
		ctx.processInstances(md)
	}

	var targets []*Path
	if p.IsConcrete() {
		targets = []*Path{p}
	} else {
		targets = ctx.unpackWithAlias(p)
	}

	for kind, wanted := range md.attrGet {
		for _, m := range targets {
			attrs, have := ctx.Device.Attributes.Get(m)
			if (!have || attrs == nil) && ctx.fetchTimestamp(m) >= wanted {
				// A listing fresh enough for this declaration did
				// not report the node: it does not exist, so there
				// is nothing to read.
				continue
			}
			if kind == AttrValue {
				// Reading a value first requires knowing the node
				// is a leaf.
				if _, known := attrs.IsObject(); !known {
					ss.queueRefresh(AttrObject, m, wanted)
				}
			}
			if attrs.Timestamp(kind) < wanted {
				ss.queueRefresh(kind, m, wanted)
			}
		}
		if !p.IsConcrete() {
			// Keep the pattern queued too: matches discovered by a
			// pending GPN are expanded at drain time.
			ss.queueRefresh(kind, p, wanted)
		}
	}

	if md.attrSet == nil {
		return
	}
	for _, m := range targets {
		if m.HasWildcard() || m.HasAlias() {
			continue
		}
		if v, have := md.attrSet[AttrValue]; have {
			if vt, ok := v.(ValueType); ok {
				ss.SPV[m.String()] = spvEntry{Path: m, Value: vt}
			}
		}
		if v, have := md.attrSet[AttrNotification]; have {
			if n, ok := toInt(v); ok {
				u := ss.SPA[m.String()]
				if u == nil {
					u = &SpaUpdate{Path: m}
					ss.SPA[m.String()] = u
				}
				u.Notification = &n
			}
		}
		if v, have := md.attrSet[AttrAccessList]; have {
			if al, ok := toStringList(v); ok {
				u := ss.SPA[m.String()]
				if u == nil {
					u = &SpaUpdate{Path: m}
					ss.SPA[m.String()] = u
				}
				u.AccessList = &al
			}
		}
	}
}

// planDiscovery queues the GetParameterNames that will advance
// knowledge of pattern p toward the declared timestamp t: the deepest
// concrete prefix known to be an object whose child listing is stale;
// with no known ancestor, the depth-1 prefix.
func (ctx *SessionContext) planDiscovery(p *Path, t int64) {
	ss := ctx.SyncState
	limit := firstNonConcrete(p)

	for i := limit; i >= 1; i-- {
		prefix := p.Slice(0, i)
		ip := ctx.Device.Paths.Get(prefix)
		if ip == nil {
			continue
		}
		attrs, have := ctx.Device.Attributes.Get(ip)
		if !have || attrs == nil {
			// Interned is not observed: patterns get interned when
			// declarations merge, without the CPE ever confirming
			// them.
			continue
		}
		obj, known := attrs.IsObject()
		if !known {
			// Existence known but identity not: have the parent
			// re-list, or confirm the node directly.
			if i == p.Len() {
				ss.queueRefresh(AttrObject, ip, t)
			} else {
				ss.queueGPN(ip, t, p)
			}
			return
		}
		if !obj {
			if i == p.Len() {
				// The declared node itself is a known leaf: only
				// its existence needs re-confirming.
				ss.queueExist(ip, t)
			}
			// A leaf in the middle of the path: nothing below it
			// can exist.
			return
		}
		// Known object: list it unless its children are fresh.
		wc := prefix.ConcatSegment(Segment{Wildcard: true})
		var listed int64
		if wip := ctx.Device.Paths.Get(wc); wip != nil {
			if ts, have := ctx.Device.Timestamps.Get(wip); have {
				listed = ts
			}
		}
		if listed >= t {
			// Fresh listing and the next level still was not
			// found: the declared path does not exist.
			return
		}
		ss.queueGPN(ip, t, p)
		return
	}

	// No ancestor known at all: discovery starts at the first
	// segment.
	ss.queueGPN(ctx.Device.Paths.Add(p.Slice(0, 1)), t, p)
}

// processInstances reconciles a declared [min,max] cardinality
// against the currently observed children of a multi-instance object,
// planning AddObject/DeleteObject (or, for Downloads, ACS-local
// instance create/delete).
func (ctx *SessionContext) processInstances(md *mergedDeclaration) {
	ss := ctx.SyncState
	p := md.path
	n := p.Len()
	if n < 2 {
		return
	}
	last := p.Segments[n-1]
	if !last.Wildcard && !last.isAlias() {
		return
	}

	keys := InstanceKeys{}
	for _, term := range last.Alias {
		keys[term.Subpath] = term.Literal
	}

	parents := []*Path{p.Slice(0, n-1)}
	if !parents[0].IsConcrete() {
		parents = ctx.unpackWithAlias(parents[0])
	}

	for _, parent := range parents {
		children := ctx.Device.Paths.Find(parent.ConcatSegment(Segment{Wildcard: true}), false, true, n)

		// Only currently-live instances count: an interned path
		// whose attributes were cleared is not an instance.
		observed := NewInstanceSet()
		var matching []*Path
		for _, child := range children {
			if !child.Segments[n-1].IsNum {
				continue
			}
			attrs, have := ctx.Device.Attributes.Get(child)
			if !have || attrs == nil || !attrs.Has(AttrObject) {
				continue
			}
			if len(keys) > 0 && !ctx.Device.aliasMatches(child, last.Alias) {
				continue
			}
			ck := keys.Copy()
			ck["_instance"] = child.Segments[n-1].String()
			observed.Add(ck)
			matching = append(matching, child)
		}

		min, max := md.card.Min, md.card.Max
		if md.relative {
			target := len(matching) + md.card.Min
			if target < 0 {
				target = 0
			}
			min, max = target, target
		}
		if max < 0 {
			max = int(^uint(0) >> 1)
		}

		isDownloads := parent.Len() == 1 && parent.Segments[0].String() == "Downloads"

		if extra := len(matching) - max; extra > 0 {
			// Delete children beyond max, highest instance first.
			sort.Slice(matching, func(i, j int) bool {
				return matching[i].Segments[n-1].Num > matching[j].Segments[n-1].Num
			})
			for _, victim := range matching[:extra] {
				if isDownloads {
					ss.DownloadsToDelete[victim.String()] = victim
				} else {
					ss.InstancesToDelete[victim.String()] = victim
				}
			}
		}

		if missing := min - len(matching); missing > 0 {
			for i := 0; i < missing; i++ {
				if isDownloads {
					ss.DownloadsToCreate = append(ss.DownloadsToCreate, keys.Copy())
				} else {
					ss.InstancesToCreate[parent.String()] = append(ss.InstancesToCreate[parent.String()], keys.Copy())
				}
			}
		}
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case ValueType:
		i, err := strconv.Atoi(n.Value)
		return i, err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func toStringList(v interface{}) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, e := range l {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
