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

// The planner converts a SyncState into the next outbound RPC. Queue
// entries are consumed when the RPC that serves them is generated;
// anything left unsatisfied is re-queued when the layer's scripts run
// again at the next revision.

func (ctx *SessionContext) gpvBatchSize() int {
	n := ctx.Config.GpvBatchSize
	if n <= 0 {
		n = DefaultConfig().GpvBatchSize
	}
	return n
}

// sortedKeys gives deterministic drain order over a map keyed by path
// strings.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GenerateGetRpcRequest emits the next read RPC, or nil when the read
// phase has nothing left to do.
func (ctx *SessionContext) GenerateGetRpcRequest() *RpcRequest {
	ss := ctx.SyncState
	if ss == nil {
		return nil
	}

	// 1. Promote exist/object refreshes to GPN on the parent (or the
	// node itself) when no queued GPN already covers them.
	for _, key := range sortedKeys(ss.RefreshExist) {
		e := ss.RefreshExist[key]
		delete(ss.RefreshExist, key)
		if ctx.gpnCovers(e.Path) {
			continue
		}
		parent := e.Path.Slice(0, e.Path.Len()-1)
		ss.queueGPN(ctx.Device.Paths.Add(parent), e.Timestamp, e.Path)
	}
	for _, key := range sortedKeys(ss.RefreshAttributes[AttrObject]) {
		e := ss.RefreshAttributes[AttrObject][key]
		if e.Path.HasWildcard() || e.Path.HasAlias() {
			continue
		}
		delete(ss.RefreshAttributes[AttrObject], key)
		if ctx.gpnCovers(e.Path) {
			continue
		}
		parent := e.Path
		if parent.Len() > 1 {
			parent = parent.Slice(0, parent.Len()-1)
		}
		ss.queueGPN(ctx.Device.Paths.Add(parent), e.Timestamp, e.Path)
	}

	// 2. GPN: deepest queued path whose attributes are still unknown
	// first, so discovery digs before it widens.
	if len(ss.GPN) > 0 {
		var pick *GpnEntry
		for _, key := range sortedKeys(ss.GPN) {
			e := ss.GPN[key]
			if pick == nil {
				pick = e
				continue
			}
			// Prefer paths whose attributes are still unknown, then
			// the deepest.
			eKnown := ctx.Device.Attributes.Has(e.Path)
			pickKnown := ctx.Device.Attributes.Has(pick.Path)
			if eKnown != pickKnown {
				if !eKnown {
					pick = e
				}
				continue
			}
			if e.Path.Len() > pick.Path.Len() {
				pick = e
			}
		}
		delete(ss.GPN, pick.Path.String())

		if ctx.Config.SkipRootGpn && pick.Path.Len() == 0 {
			// Suppressed; this call goes on to the next planner
			// stages.
		} else {
			depth := pick.Path.Len()
			nextLevel := true
			if depth >= ctx.gpnNextLevelThreshold() {
				est := estimateGpnCount(pick)
				nextLevel = est < (1 << uint(max0(8-depth)))
			}
			path := pick.Path.String()
			if path != "" {
				path += "."
			}
			return &RpcRequest{GetParameterNames: &GetParameterNames{
				ParameterPath: path,
				NextLevel:     nextLevel,
			}}
		}
	}

	// 3. GPV in batches, only for paths currently known as leaves.
	if rpc := ctx.drainValueRefreshes(); rpc != nil {
		return rpc
	}

	// 4. GPA for notification/accessList refreshes.
	if rpc := ctx.drainAttributeRefreshes(); rpc != nil {
		return rpc
	}

	return nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (ctx *SessionContext) gpnNextLevelThreshold() int {
	n := ctx.Config.GpnNextLevel
	if n <= 0 {
		n = DefaultConfig().GpnNextLevel
	}
	return n
}

// gpnCovers reports whether a queued GPN will (re)discover p.
func (ctx *SessionContext) gpnCovers(p *Path) bool {
	ss := ctx.SyncState
	for i := p.Len() - 1; i >= 0; i-- {
		if _, have := ss.GPN[p.Slice(0, i).String()]; have {
			return true
		}
	}
	return false
}

// estimateGpnCount estimates how many nodes a deep GPN at the entry's
// root would report, from the wildcard positions of the declared
// patterns below it.
func estimateGpnCount(e *GpnEntry) int {
	est := 0
	depth := e.Path.Len()
	for _, p := range e.Patterns {
		n := 1
		for i := depth; i < p.Len(); i++ {
			if p.HasWildcardAt(i) || p.HasAliasAt(i) {
				n *= 4
			}
		}
		est += n
	}
	if est == 0 {
		est = 1
	}
	return est
}

// drainValueRefreshes collects up to a batch of stale leaf values,
// expanding wildcard entries against the now-known paths, and emits a
// GetParameterValues.
func (ctx *SessionContext) drainValueRefreshes() *RpcRequest {
	ss := ctx.SyncState
	pending := ss.RefreshAttributes[AttrValue]
	if len(pending) == 0 {
		return nil
	}

	batch := ctx.gpvBatchSize()
	var names []string
	seen := map[string]bool{}

	for _, key := range sortedKeys(pending) {
		e := pending[key]
		delete(pending, key)
		for _, m := range ctx.expandLeaves(e) {
			if attrs, have := ctx.Device.Attributes.Get(m); have && attrs != nil {
				if attrs.Value != nil && attrs.Value.Timestamp >= e.Timestamp {
					continue
				}
			}
			name := m.String()
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		if len(names) >= batch {
			break
		}
	}
	if len(names) == 0 {
		return nil
	}
	if len(names) > batch {
		names = names[:batch]
	}
	return &RpcRequest{GetParameterValues: &GetParameterValues{ParameterNames: names}}
}

// expandLeaves resolves a refresh entry to the concrete paths
// currently known to be leaf parameters.
func (ctx *SessionContext) expandLeaves(e RefreshEntry) []*Path {
	var candidates []*Path
	if e.Path.IsConcrete() {
		if ip := ctx.Device.Paths.Get(e.Path); ip != nil {
			candidates = []*Path{ip}
		}
	} else {
		candidates = ctx.unpackWithAlias(e.Path)
	}
	var out []*Path
	for _, m := range candidates {
		attrs, have := ctx.Device.Attributes.Get(m)
		if !have || attrs == nil {
			continue
		}
		if obj, known := attrs.IsObject(); known && !obj {
			out = append(out, m)
		}
	}
	return out
}

// drainAttributeRefreshes batches notification and accessList
// refreshes into one GetParameterAttributes.
func (ctx *SessionContext) drainAttributeRefreshes() *RpcRequest {
	ss := ctx.SyncState
	batch := ctx.gpvBatchSize()
	var names []string
	seen := map[string]bool{}

	for _, kind := range []Attr{AttrNotification, AttrAccessList} {
		pending := ss.RefreshAttributes[kind]
		for _, key := range sortedKeys(pending) {
			e := pending[key]
			delete(pending, key)
			for _, m := range ctx.expandLeaves(e) {
				if attrs, have := ctx.Device.Attributes.Get(m); have && attrs != nil {
					if attrs.Timestamp(kind) >= e.Timestamp {
						continue
					}
				}
				name := m.String()
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
			if len(names) >= batch {
				break
			}
		}
	}
	if len(names) == 0 {
		return nil
	}
	if len(names) > batch {
		names = names[:batch]
	}
	return &RpcRequest{GetParameterAttributes: &GetParameterAttributes{ParameterNames: names}}
}

// GenerateSetRpcRequest emits the next mutating RPC, or nil when the
// update phase has nothing left to do.
func (ctx *SessionContext) GenerateSetRpcRequest() *RpcRequest {
	ss := ctx.SyncState
	if ss == nil {
		return nil
	}

	// 1. DeleteObject for writable doomed instances.
	for _, key := range sortedKeys(ss.InstancesToDelete) {
		p := ss.InstancesToDelete[key]
		if !ctx.Config.SkipWritableCheck && !ctx.isWritable(p) {
			continue
		}
		delete(ss.InstancesToDelete, key)
		return &RpcRequest{DeleteObject: &DeleteObject{ObjectName: p.String() + "."}}
	}

	// 2. AddObject, with the getInstanceKeys continuation so the new
	// instance's alias keys get fetched (and corrected) afterwards.
	for _, key := range sortedKeys(ss.InstancesToCreate) {
		queue := ss.InstancesToCreate[key]
		if len(queue) == 0 {
			delete(ss.InstancesToCreate, key)
			continue
		}
		keys := queue[0]
		if len(queue) == 1 {
			delete(ss.InstancesToCreate, key)
		} else {
			ss.InstancesToCreate[key] = queue[1:]
		}
		objectPath := mustParsePath(key)
		next := ""
		if len(keys) > 0 {
			next = nextGetInstanceKeys
		}
		return &RpcRequest{
			AddObject: &AddObject{
				ObjectName:     key + ".",
				InstanceValues: keys.Copy(),
				Next:           next,
			},
			continuation: &continuation{
				kind:       next,
				objectPath: ctx.Device.Paths.Add(objectPath),
				aliasKeys:  keys.Copy(),
			},
		}
	}

	// 3. SetParameterValues: skip entries whose stored value already
	// matches; sanitize per XSD and the stored type.
	if rpc := ctx.drainSpv(); rpc != nil {
		return rpc
	}

	// 4. SetParameterAttributes: suppress parts equal to the device
	// state.
	if rpc := ctx.drainSpa(); rpc != nil {
		return rpc
	}

	// 5. Download for due transfer requests.
	if rpc := ctx.drainDownloads(); rpc != nil {
		return rpc
	}

	// 6. Reboot / FactoryReset, consumed on emission.
	if ss.Reboot != nil {
		due := *ss.Reboot
		ss.Reboot = nil
		if due <= ctx.Timestamp {
			return &RpcRequest{Reboot: &Reboot{CommandKey: ctx.generateCommandKey()}}
		}
	}
	if ss.FactoryReset != nil {
		due := *ss.FactoryReset
		ss.FactoryReset = nil
		if due <= ctx.Timestamp {
			return &RpcRequest{FactoryReset: &FactoryReset{}}
		}
	}

	return nil
}

// isWritable reports whether p is currently known writable.
func (ctx *SessionContext) isWritable(p *Path) bool {
	ip := ctx.Device.Paths.Get(p)
	if ip == nil {
		return false
	}
	attrs, have := ctx.Device.Attributes.Get(ip)
	if !have || attrs == nil || attrs.Writable == nil {
		return false
	}
	return attrs.Writable.Value != 0
}

func (ctx *SessionContext) drainSpv() *RpcRequest {
	ss := ctx.SyncState
	batch := ctx.gpvBatchSize()
	var list []ParameterValue

	for _, key := range sortedKeys(ss.SPV) {
		if len(list) >= batch {
			break
		}
		e := ss.SPV[key]
		delete(ss.SPV, key)

		ip := ctx.Device.Paths.Get(e.Path)
		var attrs *Attributes
		if ip != nil {
			attrs, _ = ctx.Device.Attributes.Get(ip)
		}
		if !ctx.Config.SkipWritableCheck && attrs != nil && attrs.Writable != nil && attrs.Writable.Value == 0 {
			continue
		}

		currentType := ""
		if attrs != nil && attrs.Value != nil {
			currentType = attrs.Value.Value.Type
		}
		want := e.Value
		if want.Type == "" {
			want.Type = currentType
		}
		sanitized, err := SanitizeParameterValue(want, currentType, ctx.Config.BooleanLiteral)
		if err != nil {
			Logf("drainSpv: %s: %v", key, err)
			continue
		}
		sanitized = StripDateTimeMilliseconds(sanitized, ctx.Config.DatetimeMilliseconds)

		if attrs != nil && attrs.Value != nil && attrs.Value.Value.Equal(sanitized) {
			continue
		}
		list = append(list, ParameterValue{Name: key, Value: sanitized.Value, Type: sanitized.Type})
	}
	if len(list) == 0 {
		return nil
	}
	return &RpcRequest{SetParameterValues: &SetParameterValues{
		ParameterList:        list,
		DatetimeMilliseconds: ctx.Config.DatetimeMilliseconds,
		BooleanLiteral:       ctx.Config.BooleanLiteral,
	}}
}

func (ctx *SessionContext) drainSpa() *RpcRequest {
	ss := ctx.SyncState
	batch := ctx.gpvBatchSize()
	var list []ParameterAttributeSet

	for _, key := range sortedKeys(ss.SPA) {
		if len(list) >= batch {
			break
		}
		u := ss.SPA[key]
		delete(ss.SPA, key)

		var attrs *Attributes
		if ip := ctx.Device.Paths.Get(u.Path); ip != nil {
			attrs, _ = ctx.Device.Attributes.Get(ip)
		}

		entry := ParameterAttributeSet{Name: key}
		if u.Notification != nil {
			cur := -1
			if attrs != nil && attrs.Notification != nil {
				cur = attrs.Notification.Value
			}
			if cur != *u.Notification {
				entry.Notification = *u.Notification
				entry.NotificationSet = true
			}
		}
		if u.AccessList != nil {
			var cur []string
			have := false
			if attrs != nil && attrs.AccessList != nil {
				cur = attrs.AccessList.Value
				have = true
			}
			if !have || !compareAccessLists(cur, *u.AccessList) {
				entry.AccessList = append([]string(nil), (*u.AccessList)...)
				entry.AccessListSet = true
			}
		}
		if entry.NotificationSet || entry.AccessListSet {
			list = append(list, entry)
		}
	}
	if len(list) == 0 {
		return nil
	}
	return &RpcRequest{SetParameterAttributes: &SetParameterAttributes{ParameterList: list}}
}

// compareAccessLists reports order-sensitive equality, as the
// accessList attribute is an ordered list.
func compareAccessLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// drainDownloads emits a Download for any due transfer request not
// already reflected in the device's Download timestamp.
func (ctx *SessionContext) drainDownloads() *RpcRequest {
	ss := ctx.SyncState
	for _, key := range sortedKeys(ss.DownloadsDownload) {
		e := ss.DownloadsDownload[key]
		if e.Timestamp <= 0 || e.Timestamp > ctx.Timestamp {
			delete(ss.DownloadsDownload, key)
			continue
		}
		if cur, have := ctx.downloadValue(e.Path); have && e.Timestamp <= cur {
			delete(ss.DownloadsDownload, key)
			continue
		}
		delete(ss.DownloadsDownload, key)

		inst := e.Path.Slice(0, e.Path.Len()-1)
		read := func(name string) string {
			full := inst.Concat(mustParsePath(name))
			if ip := ctx.Device.Paths.Get(full); ip != nil {
				if attrs, have := ctx.Device.Attributes.Get(ip); have && attrs != nil && attrs.Value != nil {
					return attrs.Value.Value.Value
				}
			}
			return ""
		}

		return &RpcRequest{
			Download: &Download{
				CommandKey:     ctx.generateCommandKey(),
				Instance:       inst.String(),
				FileType:       read("FileType"),
				FileName:       read("FileName"),
				TargetFileName: read("TargetFileName"),
			},
		}
	}
	return nil
}

// downloadValue reads the current Downloads.{i}.Download timestamp.
func (ctx *SessionContext) downloadValue(p *Path) (int64, bool) {
	ip := ctx.Device.Paths.Get(p)
	if ip == nil {
		return 0, false
	}
	attrs, have := ctx.Device.Attributes.Get(ip)
	if !have || attrs == nil || attrs.Value == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(attrs.Value.Value.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// generateCommandKey makes a command key unique within the session.
func (ctx *SessionContext) generateCommandKey() string {
	return fmt.Sprintf("%x-%02x-%02x", ctx.Timestamp, ctx.Cycle&0xff, ctx.RpcCount&0xff)
}
