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
)

// DeviceData is the in-memory, versioned view of one CPE's data model
// as currently known to the engine: which paths exist, what their
// attributes are (and when they were last confirmed), which
// declarations are tracking which attributes, and which tracker names
// were touched by the most recent Clear calls.
type DeviceData struct {
	Paths      *PathSet
	Timestamps *VersionedMap[*Path, int64]
	Attributes *VersionedMap[*Path, *Attributes]
	Trackers   map[*Path]map[string]int
	Changes    map[string]bool
}

// NewDeviceData makes an empty DeviceData.
func NewDeviceData() *DeviceData {
	return &DeviceData{
		Paths:      NewPathSet(),
		Timestamps: NewVersionedMap[*Path, int64](),
		Attributes: NewVersionedMap[*Path, *Attributes](),
		Trackers:   make(map[*Path]map[string]int, 64),
		Changes:    make(map[string]bool, 4),
	}
}

// ToClearEntry is a pending invalidation: everything at or below Path
// with a current timestamp <= Timestamp should be cleared.
type ToClearEntry struct {
	Path      *Path
	Timestamp int64
}

// Set interns path, and either schedules it for invalidation (attrs
// == nil) or merges attrs into the path's current attributes with a
// monotonic per-kind timestamp. It returns additional entries that
// the caller should fold into toClear: either the invalidation itself,
// or — when a leaf becomes an object, an object becomes a leaf, or an
// object's identity otherwise changes — the path's children, which
// are now stale.
//
// Set does not itself call Clear; it only reports what should be
// cleared, so that callers can batch invalidations before applying
// them (matching the source's toClear accumulator pattern).
func (dd *DeviceData) Set(path *Path, timestamp int64, attrs *Attributes, toClear []ToClearEntry) []ToClearEntry {
	ip := dd.Paths.Add(path)

	if attrs == nil {
		return append(toClear, ToClearEntry{Path: ip, Timestamp: timestamp})
	}

	prev, _ := dd.Attributes.Get(ip)
	wasObject, hadObject := prev.IsObject()

	merged, objectChanged := mergeAttributes(prev, attrs)
	dd.Attributes.Set(ip, merged)

	ts, have := dd.Timestamps.Get(ip)
	if !have || timestamp > ts {
		dd.Timestamps.Set(ip, timestamp)
	}

	nowObject, haveNow := merged.IsObject()
	identityFlip := hadObject && haveNow && wasObject != nowObject

	if objectChanged || identityFlip {
		toClear = append(toClear, ToClearEntry{
			Path:      ip.ConcatSegment(Segment{Wildcard: true}),
			Timestamp: timestamp,
		})
	}

	return toClear
}

// Clear removes attributes at path (and, through any wildcard
// segment in path, at matching descendants) whose timestamp is <=
// timestamp. attrTimestamps, if non-nil, restricts the clear to those
// specific attribute kinds (each with its own threshold) instead of
// clearing every attribute. trackerNames, if non-nil, limits which
// tracker labels get added to dd.Changes; nil means "all trackers
// found at the cleared path(s)".
func (dd *DeviceData) Clear(path *Path, timestamp int64, attrTimestamps map[Attr]int64, trackerNames map[string]bool) {
	matches := dd.Paths.Find(path, false, true, 0)
	for _, p := range matches {
		dd.clearOne(p, timestamp, attrTimestamps, trackerNames)
	}
}

func (dd *DeviceData) clearOne(p *Path, timestamp int64, attrTimestamps map[Attr]int64, trackerNames map[string]bool) {
	attrs, have := dd.Attributes.Get(p)
	if !have || attrs == nil {
		return
	}

	threshold := func(kind Attr) int64 {
		if attrTimestamps == nil {
			return timestamp
		}
		if t, have := attrTimestamps[kind]; have {
			return t
		}
		return -1 // kind not requested: never clear it
	}

	cp := attrs.Copy()
	cleared := false
	if cp.Object != nil && cp.Object.Timestamp <= threshold(AttrObject) {
		cp.Object = nil
		cleared = true
	}
	if cp.Writable != nil && cp.Writable.Timestamp <= threshold(AttrWritable) {
		cp.Writable = nil
		cleared = true
	}
	if cp.Value != nil && cp.Value.Timestamp <= threshold(AttrValue) {
		cp.Value = nil
		cleared = true
	}
	if cp.Notification != nil && cp.Notification.Timestamp <= threshold(AttrNotification) {
		cp.Notification = nil
		cleared = true
	}
	if cp.AccessList != nil && cp.AccessList.Timestamp <= threshold(AttrAccessList) {
		cp.AccessList = nil
		cleared = true
	}
	if !cleared {
		return
	}
	dd.Attributes.Set(p, cp)

	for name := range dd.Trackers[p] {
		if trackerNames == nil || trackerNames[name] {
			dd.Changes[name] = true
		}
	}
}

// ApplyToClear runs Clear for every pending entry, in order.
func (dd *DeviceData) ApplyToClear(toClear []ToClearEntry) {
	for _, e := range toClear {
		dd.Clear(e.Path, e.Timestamp, nil, nil)
	}
}

// Track installs a tracker label on path, so that a later Clear that
// removes any attribute of path adds name to dd.Changes.
func (dd *DeviceData) Track(path *Path, name string) {
	ip := dd.Paths.Add(path)
	m := dd.Trackers[ip]
	if m == nil {
		m = make(map[string]int, 2)
		dd.Trackers[ip] = m
	}
	m[name]++
}

// Unpack expands a (possibly wildcarded/aliased) path against the
// currently known, interned paths and returns every concrete match.
func (dd *DeviceData) Unpack(path *Path) []*Path {
	if path.IsConcrete() {
		if ip := dd.Paths.Get(path); ip != nil {
			return []*Path{ip}
		}
		return []*Path{dd.Paths.Add(path)}
	}
	return dd.Paths.Find(path, false, true, 0)
}

// AliasDeclaration is one concrete target produced by expanding an
// alias expression against the device's currently known children,
// carrying the caller's requested timestamps forward to the concrete
// path.
type AliasDeclaration struct {
	Path           *Path
	Timestamp      int64
	AttrTimestamps map[Attr]int64
}

// GetAliasDeclarations expands the first alias segment found in path
// against currently known children, matching each child whose
// recorded Name-style subpath attributes equal the alias's literal
// constraints. Each expanded declaration inherits the requested
// timestamp/attrTimestamps, merged with max() against any pre-existing
// declaration for the same concrete path, and has a "prerequisite"
// tracker installed on every attribute it touches (so that the engine
// notices if the CPE later reports the alias key itself has changed).
func (dd *DeviceData) GetAliasDeclarations(path *Path, timestamp int64, attrTimestamps map[Attr]int64) []AliasDeclaration {
	idx := -1
	for i, seg := range path.Segments {
		if seg.isAlias() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	parent := path.Slice(0, idx)
	alias := path.Segments[idx].Alias
	rest := path.Slice(idx+1, path.Len())

	children := dd.Paths.Find(parent.ConcatSegment(Segment{Wildcard: true}), false, true, idx+1)

	byCombined := make(map[string]AliasDeclaration)
	for _, child := range children {
		if !dd.aliasMatches(child, alias) {
			continue
		}
		concrete := child.Concat(rest)
		key := concrete.String()
		existing, have := byCombined[key]
		merged := timestamp
		if have && existing.Timestamp > merged {
			merged = existing.Timestamp
		}
		attrMerged := map[Attr]int64{}
		for k, v := range attrTimestamps {
			attrMerged[k] = v
		}
		if have {
			for k, v := range existing.AttrTimestamps {
				if cur, ok := attrMerged[k]; !ok || v > cur {
					attrMerged[k] = v
				}
			}
		}
		for kind := range attrMerged {
			dd.Track(concrete, "prerequisite")
			_ = kind
		}
		byCombined[key] = AliasDeclaration{Path: concrete, Timestamp: merged, AttrTimestamps: attrMerged}
	}

	acc := make([]AliasDeclaration, 0, len(byCombined))
	for _, v := range byCombined {
		acc = append(acc, v)
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].Path.String() < acc[j].Path.String() })
	return acc
}

func (dd *DeviceData) aliasMatches(child *Path, terms []AliasTerm) bool {
	for _, t := range terms {
		sub, err := ParsePath(t.Subpath)
		if err != nil {
			return false
		}
		full := child.Concat(sub)
		ip := dd.Paths.Get(full)
		if ip == nil {
			return false
		}
		attrs, have := dd.Attributes.Get(ip)
		if !have || attrs == nil || attrs.Value == nil {
			return false
		}
		if attrs.Value.Value.Value != t.Literal {
			return false
		}
	}
	return true
}

// allowedXSDTypes enumerates the XSD types the planner and virtual
// parameter return-value validator will accept.
var allowedXSDTypes = map[string]bool{
	"xsd:int":         true,
	"xsd:unsignedInt": true,
	"xsd:boolean":     true,
	"xsd:string":      true,
	"xsd:dateTime":    true,
	"xsd:base64":      true,
	"xsd:hexBinary":   true,
}

// SanitizeParameterValue validates and normalizes value against
// its own type (xsd:string when empty). currentType is not consulted;
// callers fill a missing type from the stored one beforehand.
// Coercion is explicit: mismatches are rejected rather than silently
// stringified.
func SanitizeParameterValue(value ValueType, currentType string, booleanLiteral bool) (ValueType, error) {
	xsdType := value.Type
	if xsdType == "" {
		xsdType = "xsd:string"
	}
	if xsdType == "xsd:datetime" {
		xsdType = "xsd:dateTime" // normalize spelling; see Open Questions
	}
	if !allowedXSDTypes[xsdType] {
		return ValueType{}, fmt.Errorf("unsupported xsd type %q", xsdType)
	}

	lit := value.Value

	switch xsdType {
	case "xsd:int", "xsd:unsignedInt":
		if _, err := strconv.ParseInt(lit, 10, 64); err != nil {
			return ValueType{}, fmt.Errorf("value %q is not a valid %s", lit, xsdType)
		}
	case "xsd:boolean":
		switch lit {
		case "1", "0":
			if booleanLiteral {
				if lit == "1" {
					lit = "true"
				} else {
					lit = "false"
				}
			}
		case "true", "false":
			if !booleanLiteral {
				if lit == "true" {
					lit = "1"
				} else {
					lit = "0"
				}
			}
		default:
			return ValueType{}, fmt.Errorf("value %q is not a valid boolean", lit)
		}
	}

	return ValueType{Value: lit, Type: xsdType}, nil
}

// StripDateTimeMilliseconds truncates a xsd:dateTime literal's
// fractional seconds, unless keep is true.
func StripDateTimeMilliseconds(v ValueType, keep bool) ValueType {
	if keep || v.Type != "xsd:dateTime" {
		return v
	}
	dot := -1
	for i := 0; i < len(v.Value); i++ {
		c := v.Value[i]
		if c == '.' {
			dot = i
		}
		if dot >= 0 && (c == 'Z' || c == '+' || (c == '-' && i > dot+1)) {
			return ValueType{Value: v.Value[:dot] + v.Value[i:], Type: v.Type}
		}
	}
	if dot >= 0 {
		return ValueType{Value: v.Value[:dot], Type: v.Type}
	}
	return v
}
