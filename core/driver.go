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
	"strings"
)

// provisionsDoneFlag marks a session whose provisioning converged: the
// level-0 layer popped with every script done and nothing left to
// plan. It is cleared whenever provisions or declarations change.

// RpcRequest advances the session state machine and returns the next
// outbound RPC, a fault, or (when id and rpc are both empty) the end
// of the session's work. It is reentrant and idempotent: calling it
// again without an intervening RpcResponse returns the same request
// under a fresh id.
func (ctx *SessionContext) RpcRequest(c context.Context, declarations []*Declaration) (string, *RpcRequest, *Fault, error) {
	declsArg := declarations

	// replanned guards the pop step: a layer is only popped after a
	// full replan from its declarations produced no further work, so
	// multi-hop discovery (GPN revealing objects that need their own
	// GPN before a GPV can go out) converges.
	replanned := map[int]bool{}

	for {
		// (A) An in-flight request is simply re-issued.
		if ctx.RpcRequest != nil {
			id := ctx.GenerateRpcId()
			ctx.RpcRequest.Id = id
			return id, ctx.RpcRequest, nil, nil
		}

		// (B) Nothing to do at all.
		if len(declsArg) == 0 && ctx.provisionsDoneFlag {
			return "", nil, nil, nil
		}
		if len(declsArg) == 0 && len(ctx.Provisions) == 0 &&
			len(ctx.declarationsStack) == 0 && len(ctx.virtualParametersStack) == 0 {
			return "", nil, nil, nil
		}

		// (E) Quotas.
		if maxRpc := ctx.maxRpcCount(); ctx.RpcCount >= maxRpc {
			return "", nil, ErrTooManyRpcs, nil
		}
		if len(ctx.Revisions) > 8 {
			return "", nil, ErrDeeplyNestedVparams, nil
		}
		if ctx.Cycle >= 255 {
			return "", nil, ErrTooManyCycles, nil
		}
		if ctx.Iteration >= ctx.maxIterationsPerCycle()*(ctx.Cycle+1) {
			return "", nil, ErrTooManyCommits, nil
		}

		// (C) Grow the declarations stack until it covers every
		// virtual parameter layer (plus level 0 for provisions).
		if len(ctx.declarationsStack) <= len(ctx.virtualParametersStack) {
			if fault := ctx.runNextLayer(c); fault != nil {
				return "", nil, fault, nil
			}
			replanned = map[int]bool{}
			continue
		}

		// (D) Splice caller-supplied declarations into level 0.
		if len(declsArg) > 0 {
			capped := make([]*Declaration, 0, len(declsArg))
			for _, d := range declsArg {
				capped = append(capped, d.capTimestamps(ctx.Timestamp))
			}
			ctx.declarationsStack[0] = append(ctx.declarationsStack[0], capped...)
			ctx.SyncState = nil
			ctx.provisionsDoneFlag = false
			declsArg = nil
			continue
		}

		inception := len(ctx.declarationsStack) - 1

		// (F) Make sure every level's declarations have been
		// processed into the sync state.
		if ctx.SyncState == nil {
			ctx.SyncState = NewSyncState()
		}
		for lvl := 0; lvl <= inception; lvl++ {
			if _, have := ctx.SyncState.VirtualParameterDeclarations[lvl]; !have {
				ctx.RunDeclarations(c, lvl, ctx.declarationsStack[lvl])
			}
		}

		// (G) Reads first: virtual parameter reads, then CPE reads.
		vpDecls := ctx.SyncState.VirtualParameterDeclarations[inception]
		provs := ctx.generateGetVirtualParameterProvisions(vpDecls)
		var rpc *RpcRequest
		if provs == nil {
			rpc = ctx.GenerateGetRpcRequest()
		}
		if provs == nil && rpc == nil {
			// A read phase that invalidated a prerequisite forces a
			// replan before any write goes out.
			if ctx.Device.Changes["prerequisite"] {
				delete(ctx.Device.Changes, "prerequisite")
				ctx.clearPrerequisiteTrackers()
				ctx.SyncState = nil
				continue
			}
			if ctx.writePendingAcsState() {
				ctx.SyncState = nil
				continue
			}
			provs = ctx.generateSetVirtualParameterProvisions(vpDecls)
			if provs == nil {
				rpc = ctx.GenerateSetRpcRequest()
			}
		}

		// (H) New virtual parameter work spawns a deeper layer.
		if len(provs) > 0 {
			ctx.virtualParametersStack = append(ctx.virtualParametersStack, provs)
			ctx.vpReturns = append(ctx.vpReturns, map[string]*VpReturnValue{})
			continue
		}

		// (I) Emit.
		if rpc != nil {
			ctx.RpcRequest = rpc
			continue
		}

		// A quiet plan may just mean its queues were consumed by
		// earlier RPCs; replan from scratch once before concluding
		// this inception has no work left.
		if !replanned[inception] {
			replanned[inception] = true
			ctx.SyncState = nil
			continue
		}

		// (J) Nothing to do at this inception: advance the revision
		// and pop the layer; an unfinished layer re-runs, a finished
		// one commits.
		ctx.Revisions[inception]++
		rev := ctx.Revisions[inception]
		ctx.Device.Timestamps.Revision = rev
		ctx.Device.Attributes.Revision = rev
		ctx.Iteration += 2

		ctx.declarationsStack = ctx.declarationsStack[:inception]
		delete(ctx.SyncState.VirtualParameterDeclarations, inception)
		done := true
		if inception < len(ctx.provisionsRet) {
			done = ctx.provisionsRet[inception]
			ctx.provisionsRet = ctx.provisionsRet[:inception]
		}
		if !done {
			continue
		}

		ctx.Device.Timestamps.Collapse(rev + 1)
		ctx.Device.Attributes.Collapse(rev + 1)
		ctx.pruneExtensionsCache(rev + 1)

		if inception == 0 {
			ctx.provisionsDoneFlag = true
			ctx.Revisions = nil
			continue
		}

		// A finished virtual parameter layer hands its return
		// values back to the data model.
		ctx.virtualParametersStack = ctx.virtualParametersStack[:inception-1]
		returns := ctx.vpReturns[inception-1]
		ctx.vpReturns = ctx.vpReturns[:inception-1]
		ctx.Revisions = ctx.Revisions[:inception]
		ctx.applyVpReturns(returns)
		// The returns changed the data model; let the parent level
		// replan against it.
		replanned = map[int]bool{}
	}
}

func (ctx *SessionContext) maxRpcCount() int {
	n := ctx.Config.MaxRpcCount
	if n <= 0 {
		n = DefaultConfig().MaxRpcCount
	}
	return n
}

// runNextLayer runs the provisions (level 0) or the deepest virtual
// parameter layer to produce the next declarations level.
func (ctx *SessionContext) runNextLayer(c context.Context) *Fault {
	inception := len(ctx.declarationsStack)

	var startRev, endRev int
	if inception < len(ctx.Revisions) {
		endRev = ctx.Revisions[inception]
	} else {
		if inception > 0 {
			endRev = ctx.Revisions[inception-1]
		}
		ctx.Revisions = append(ctx.Revisions, endRev)
	}
	if endRev > 0 {
		startRev = endRev - 1
	}
	ctx.Device.Timestamps.Revision = endRev
	ctx.Device.Attributes.Revision = endRev

	var (
		declare []*Declaration
		clear   []ClearRequest
		done    bool
		fault   *Fault
	)

	if inception == 0 {
		layer := ctx.runProvisionsLayer(c, startRev, endRev)
		declare, clear, done, fault = layer.Declare, layer.Clear, layer.Done, layer.Fault
	} else {
		provs := ctx.virtualParametersStack[inception-1]
		var vpDecls []*Declaration
		if ctx.SyncState != nil {
			vpDecls = ctx.SyncState.VirtualParameterDeclarations[inception-1]
		}
		perVp := map[string][]*Declaration{}
		for _, d := range vpDecls {
			if d.Path.Len() == 2 {
				name := d.Path.Segments[1].String()
				perVp[name] = append(perVp[name], d)
			}
		}
		res := ctx.runVirtualParameters(c, provs, perVp, startRev, endRev)
		declare, clear, done, fault = res.Declare, res.Clear, res.Done, res.Fault
		if fault == nil {
			ctx.vpReturns[inception-1] = res.Returns
		}
	}
	if fault != nil {
		return fault
	}

	capped := make([]*Declaration, 0, len(declare))
	for _, d := range declare {
		capped = append(capped, d.capTimestamps(ctx.Timestamp))
	}
	ctx.declarationsStack = append(ctx.declarationsStack, capped)
	ctx.provisionsRet = append(ctx.provisionsRet, done)

	for _, cr := range clear {
		ctx.Device.Clear(cr.Path, cr.Timestamp, nil, nil)
	}
	if len(clear) > 0 {
		// Cleared state invalidates whatever was already planned.
		ctx.SyncState = nil
	}
	return nil
}

// clearPrerequisiteTrackers drops every "prerequisite" tracker label.
func (ctx *SessionContext) clearPrerequisiteTrackers() {
	for p, m := range ctx.Device.Trackers {
		delete(m, "prerequisite")
		if len(m) == 0 {
			delete(ctx.Device.Trackers, p)
		}
	}
}

// generateGetVirtualParameterProvisions lists the virtual parameters
// whose declared reads are not yet satisfied by the data model.
func (ctx *SessionContext) generateGetVirtualParameterProvisions(vpDecls []*Declaration) []VpProv {
	var provs []VpProv
	seen := map[string]bool{}
	for _, d := range vpDecls {
		if d.Path.Len() != 2 {
			continue
		}
		if d.PathGet == nil && len(d.AttrGet) == 0 {
			continue
		}
		name := d.Path.Segments[1].String()
		if seen[name] {
			continue
		}
		attrs, _ := ctx.Device.Attributes.Get(d.Path)
		stale := false
		if d.PathGet != nil {
			ts, have := ctx.Device.Timestamps.Get(d.Path)
			if !have || ts < *d.PathGet {
				stale = true
			}
		}
		for kind, wanted := range d.AttrGet {
			if attrs.Timestamp(kind) < wanted {
				stale = true
			}
		}
		if stale {
			seen[name] = true
			provs = append(provs, VpProv{Name: name})
		}
	}
	return provs
}

// generateSetVirtualParameterProvisions lists the virtual parameters
// whose declared values differ from the data model.
func (ctx *SessionContext) generateSetVirtualParameterProvisions(vpDecls []*Declaration) []VpProv {
	var provs []VpProv
	seen := map[string]bool{}
	for _, d := range vpDecls {
		if d.Path.Len() != 2 || d.AttrSet == nil {
			continue
		}
		v, have := d.AttrSet[AttrValue]
		if !have {
			continue
		}
		name := d.Path.Segments[1].String()
		if seen[name] {
			continue
		}
		vt, ok := v.(ValueType)
		if !ok {
			continue
		}
		attrs, _ := ctx.Device.Attributes.Get(d.Path)
		if attrs != nil && attrs.Value != nil && attrs.Value.Value.Equal(normalizeDeclared(vt, attrs)) {
			continue
		}
		seen[name] = true
		provs = append(provs, VpProv{Name: name, Args: []interface{}{vt.Value, vt.Type}})
	}
	return provs
}

// applyVpReturns writes a finished virtual parameter layer's return
// values back to VirtualParameters.<name>.
func (ctx *SessionContext) applyVpReturns(returns map[string]*VpReturnValue) {
	ts := ctx.writeTimestamp()
	var toClear []ToClearEntry
	for name, rv := range returns {
		p := mustParsePath("VirtualParameters." + name)
		attrs := &Attributes{Object: &TSValue[int]{Timestamp: ts, Value: 0}}
		if rv.Writable != nil {
			w := 0
			if *rv.Writable {
				w = 1
			}
			attrs.Writable = &TSValue[int]{Timestamp: ts, Value: w}
		}
		if rv.Value != nil {
			v := *rv.Value
			if v.Type == "xsd:datetime" {
				Logf("virtual parameter %s returned xsd:datetime; normalizing", name)
			}
			v.Type = normalizeXSDType(v.Type)
			attrs.Value = &TSValue[ValueType]{Timestamp: ts, Value: v}
		}
		toClear = ctx.Device.Set(p, ts, attrs, toClear)
	}
	ctx.Device.ApplyToClear(toClear)
}

// writePendingAcsState flushes the SyncState entries that live purely
// on the ACS side: tags, Downloads instances and their values.
// Reports whether anything was written.
func (ctx *SessionContext) writePendingAcsState() bool {
	ss := ctx.SyncState
	ts := ctx.writeTimestamp()
	wrote := false
	var toClear []ToClearEntry

	for key, e := range ss.Tags {
		if e.Value {
			toClear = ctx.Device.Set(e.Path, ts, &Attributes{
				Object:   &TSValue[int]{Timestamp: ts, Value: 0},
				Writable: &TSValue[int]{Timestamp: ts, Value: 1},
				Value:    &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: "true", Type: "xsd:boolean"}},
			}, toClear)
		} else if ip := ctx.Device.Paths.Get(e.Path); ip != nil {
			ctx.Device.Clear(ip, ts, nil, nil)
		}
		delete(ss.Tags, key)
		wrote = true
	}

	for _, keys := range ss.DownloadsToCreate {
		n := ctx.nextInstanceNumber(mustParsePath("Downloads"))
		inst := mustParsePath("Downloads." + strconv.Itoa(n))
		toClear = ctx.Device.Set(mustParsePath("Downloads"), ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: 1},
			Writable: &TSValue[int]{Timestamp: ts, Value: 1},
		}, toClear)
		toClear = ctx.Device.Set(inst, ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: 1},
			Writable: &TSValue[int]{Timestamp: ts, Value: 1},
		}, toClear)
		for k, v := range keys {
			if strings.HasPrefix(k, "_") {
				continue
			}
			toClear = ctx.Device.Set(inst.Concat(mustParsePath(k)), ts, &Attributes{
				Object:   &TSValue[int]{Timestamp: ts, Value: 0},
				Writable: &TSValue[int]{Timestamp: ts, Value: 1},
				Value:    &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: v, Type: "xsd:string"}},
			}, toClear)
		}
		wrote = true
	}
	ss.DownloadsToCreate = nil

	for key, p := range ss.DownloadsToDelete {
		ctx.clearSubtree(p, ts)
		delete(ss.DownloadsToDelete, key)
		wrote = true
	}

	for key, e := range ss.DownloadsValues {
		toClear = ctx.Device.Set(e.Path, ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: 0},
			Writable: &TSValue[int]{Timestamp: ts, Value: 1},
			Value:    &TSValue[ValueType]{Timestamp: ts, Value: normalizeDeclared(e.Value, nil)},
		}, toClear)
		delete(ss.DownloadsValues, key)
		wrote = true
	}

	ctx.Device.ApplyToClear(toClear)
	return wrote
}

// nextInstanceNumber picks the lowest unused instance number under a
// multi-instance object.
func (ctx *SessionContext) nextInstanceNumber(parent *Path) int {
	children := ctx.Device.Paths.Find(parent.ConcatSegment(Segment{Wildcard: true}), false, true, parent.Len()+1)
	used := map[int64]bool{}
	for _, c := range children {
		seg := c.Segments[c.Len()-1]
		if seg.IsNum {
			if attrs, have := ctx.Device.Attributes.Get(c); have && attrs != nil && attrs.Has(AttrObject) {
				used[seg.Num] = true
			}
		}
	}
	for n := 1; ; n++ {
		if !used[int64(n)] {
			return n
		}
	}
}

// clearSubtree invalidates a path and everything below it.
func (ctx *SessionContext) clearSubtree(p *Path, ts int64) {
	prefix := p.String()
	for _, ip := range ctx.Device.Paths.All() {
		s := ip.String()
		if s == prefix || (len(s) > len(prefix) && strings.HasPrefix(s, prefix) && s[len(prefix)] == '.') {
			ctx.Device.Clear(ip, ts, nil, nil)
		}
	}
}

// RpcResponse assimilates a CPE reply into the data model. The rpcId
// must match the in-flight request's.
func (ctx *SessionContext) RpcResponse(c context.Context, rpcId string, resp *CpeResponse) *Fault {
	req := ctx.RpcRequest
	if req == nil || req.Id != rpcId {
		return InvalidResponseFault("request ID not recognized")
	}
	ctx.RpcRequest = nil
	ctx.RpcCount++

	ts := ctx.responseTimestamp()

	switch {
	case req.GetParameterNames != nil:
		if resp.GetParameterNamesResponse == nil {
			return InvalidResponseFault("expected GetParameterNamesResponse")
		}
		ctx.assimilateGpn(req.GetParameterNames, resp.GetParameterNamesResponse, ts)

	case req.GetParameterValues != nil:
		if resp.GetParameterValuesResponse == nil {
			return InvalidResponseFault("expected GetParameterValuesResponse")
		}
		ctx.assimilateGpv(req, resp.GetParameterValuesResponse, ts)

	case req.GetParameterAttributes != nil:
		if resp.GetParameterAttributesResponse == nil {
			return InvalidResponseFault("expected GetParameterAttributesResponse")
		}
		ctx.assimilateGpa(req.GetParameterAttributes, resp.GetParameterAttributesResponse, ts)

	case req.SetParameterValues != nil:
		if resp.SetParameterValuesResponse == nil {
			return InvalidResponseFault("expected SetParameterValuesResponse")
		}
		ctx.assimilateSpv(req.SetParameterValues, ts)

	case req.SetParameterAttributes != nil:
		if resp.SetParameterAttributesResponse == nil {
			return InvalidResponseFault("expected SetParameterAttributesResponse")
		}
		ctx.assimilateSpa(req.SetParameterAttributes, ts)

	case req.AddObject != nil:
		if resp.AddObjectResponse == nil {
			return InvalidResponseFault("expected AddObjectResponse")
		}
		ctx.assimilateAddObject(req, resp.AddObjectResponse, ts)

	case req.DeleteObject != nil:
		if resp.DeleteObjectResponse == nil {
			return InvalidResponseFault("expected DeleteObjectResponse")
		}
		name := strings.TrimSuffix(req.DeleteObject.ObjectName, ".")
		ctx.clearSubtree(mustParsePath(name), ts)

	case req.Reboot != nil:
		if resp.RebootResponse == nil {
			return InvalidResponseFault("expected RebootResponse")
		}
		ctx.stampVirtualNode("Reboot", ts)

	case req.FactoryReset != nil:
		if resp.FactoryResetResponse == nil {
			return InvalidResponseFault("expected FactoryResetResponse")
		}
		ctx.stampVirtualNode("FactoryReset", ts)

	case req.Download != nil:
		if resp.DownloadResponse == nil {
			return InvalidResponseFault("expected DownloadResponse")
		}
		ctx.assimilateDownload(req.Download, resp.DownloadResponse, ts)

	default:
		return InvalidResponseFault("response name does not match request name")
	}

	return nil
}

// b2i converts a reported boolean attribute to the stored 0/1 form.
func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (ctx *SessionContext) assimilateGpn(req *GetParameterNames, resp *GetParameterNamesResponse, ts int64) {
	var toClear []ToClearEntry

	rootStr := strings.TrimSuffix(req.ParameterPath, ".")
	root := mustParsePath(rootStr)

	if rootStr == "" {
		// Root listing: the ACS-computed roots are refreshed rather
		// than reported by the CPE.
		for _, name := range []string{"DeviceID", "Events", "Tags", "Reboot", "FactoryReset", "VirtualParameters", "Downloads"} {
			p := ctx.Device.Paths.Add(mustParsePath(name))
			ctx.Device.Timestamps.Set(p, ts)
		}
	}

	list := append([]ParameterInfo(nil), resp.ParameterList...)
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	reported := map[string]bool{}
	for _, info := range list {
		name := strings.TrimSuffix(info.Name, ".")
		if name == "" || Ignore(name) {
			continue
		}
		p := mustParsePath(name)

		// Fill in a missing intermediate object before its child.
		if p.Len() > root.Len()+1 {
			parent := p.Slice(0, p.Len()-1)
			if !reported[parent.String()] && ctx.Device.Paths.Get(parent) == nil {
				toClear = ctx.Device.Set(parent, ts, &Attributes{
					Object: &TSValue[int]{Timestamp: ts, Value: 1},
				}, toClear)
			}
		}

		reported[name] = true
		toClear = ctx.Device.Set(p, ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: b2i(info.Object)},
			Writable: &TSValue[int]{Timestamp: ts, Value: b2i(info.Writable)},
		}, toClear)
	}

	// Stamp the freshly listed levels and sweep unreported
	// descendants: with nextLevel only the root's own children are
	// complete; a deep listing completes every reported interior.
	stampListing := func(parent *Path) {
		wc := ctx.Device.Paths.Add(parent.ConcatSegment(Segment{Wildcard: true}))
		ctx.Device.Timestamps.Set(wc, ts)
		toClear = append(toClear, ToClearEntry{Path: wc, Timestamp: ts - 1})
	}
	stampListing(ctx.Device.Paths.Add(root))
	if !req.NextLevel {
		for _, info := range list {
			if !info.Object {
				continue
			}
			name := strings.TrimSuffix(info.Name, ".")
			if name == "" || Ignore(name) {
				continue
			}
			stampListing(ctx.Device.Paths.Add(mustParsePath(name)))
		}
	}

	ctx.Device.ApplyToClear(toClear)
}

// Ignore is a host-pluggable blacklist: reported paths for which
// Ignore returns true are not assimilated.
var Ignore = func(path string) bool { return false }

func (ctx *SessionContext) assimilateGpv(req *RpcRequest, resp *GetParameterValuesResponse, ts int64) {
	var toClear []ToClearEntry

	requested := map[string]bool{}
	for _, name := range req.GetParameterValues.ParameterNames {
		requested[name] = true
	}

	for _, pv := range resp.ParameterList {
		if !requested[pv.Name] {
			Logf("unexpected parameter in GetParameterValuesResponse: %s", pv.Name)
		}
		delete(requested, pv.Name)
		toClear = ctx.Device.Set(mustParsePath(pv.Name), ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: pv.Value, Type: pv.Type}},
		}, toClear)
	}

	// Parameters the CPE silently dropped still get a (blank) value
	// so the plan doesn't re-request them forever.
	for name := range requested {
		Logf("parameter missing from GetParameterValuesResponse: %s", name)
		toClear = ctx.Device.Set(mustParsePath(name), ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: "", Type: "xsd:string"}},
		}, toClear)
	}

	ctx.Device.ApplyToClear(toClear)

	// The getInstanceKeys continuation: after reading the new
	// instance's keys, correct any that disagree.
	if cont := req.continuation; cont != nil && cont.kind == nextSetInstanceKeys {
		var fix []ParameterValue
		for key, want := range cont.aliasKeys {
			full := cont.instancePath.Concat(mustParsePath(key))
			if ip := ctx.Device.Paths.Get(full); ip != nil {
				if attrs, have := ctx.Device.Attributes.Get(ip); have && attrs != nil && attrs.Value != nil {
					if attrs.Value.Value.Value == want {
						continue
					}
				}
			}
			fix = append(fix, ParameterValue{Name: full.String(), Value: want, Type: "xsd:string"})
		}
		if len(fix) > 0 {
			sort.Slice(fix, func(i, j int) bool { return fix[i].Name < fix[j].Name })
			ctx.RpcRequest = &RpcRequest{SetParameterValues: &SetParameterValues{
				ParameterList:        fix,
				DatetimeMilliseconds: ctx.Config.DatetimeMilliseconds,
				BooleanLiteral:       ctx.Config.BooleanLiteral,
			}}
		}
	}
}

func (ctx *SessionContext) assimilateGpa(req *GetParameterAttributes, resp *GetParameterAttributesResponse, ts int64) {
	var toClear []ToClearEntry
	for _, pa := range resp.ParameterList {
		al := append([]string(nil), pa.AccessList...)
		toClear = ctx.Device.Set(mustParsePath(pa.Name), ts, &Attributes{
			Notification: &TSValue[int]{Timestamp: ts, Value: pa.Notification},
			AccessList:   &TSValue[[]string]{Timestamp: ts, Value: al},
		}, toClear)
	}
	ctx.Device.ApplyToClear(toClear)
}

func (ctx *SessionContext) assimilateSpv(req *SetParameterValues, ts int64) {
	var toClear []ToClearEntry
	for _, pv := range req.ParameterList {
		toClear = ctx.Device.Set(mustParsePath(pv.Name), ts, &Attributes{
			Object:   &TSValue[int]{Timestamp: ts, Value: 0},
			Writable: &TSValue[int]{Timestamp: ts, Value: 1},
			Value:    &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: pv.Value, Type: pv.Type}},
		}, toClear)
	}
	ctx.Device.ApplyToClear(toClear)
}

func (ctx *SessionContext) assimilateSpa(req *SetParameterAttributes, ts int64) {
	var toClear []ToClearEntry
	for _, pa := range req.ParameterList {
		attrs := &Attributes{}
		if pa.NotificationSet {
			attrs.Notification = &TSValue[int]{Timestamp: ts, Value: pa.Notification}
		}
		if pa.AccessListSet {
			al := append([]string(nil), pa.AccessList...)
			attrs.AccessList = &TSValue[[]string]{Timestamp: ts, Value: al}
		}
		toClear = ctx.Device.Set(mustParsePath(pa.Name), ts, attrs, toClear)
	}
	ctx.Device.ApplyToClear(toClear)
}

func (ctx *SessionContext) assimilateAddObject(req *RpcRequest, resp *AddObjectResponse, ts int64) {
	cont := req.continuation
	objectName := strings.TrimSuffix(req.AddObject.ObjectName, ".")
	object := mustParsePath(objectName)
	inst := object.ConcatSegment(Segment{IsNum: true, Num: int64(resp.InstanceNumber)})

	var toClear []ToClearEntry
	toClear = ctx.Device.Set(inst, ts, &Attributes{
		Object:   &TSValue[int]{Timestamp: ts, Value: 1},
		Writable: &TSValue[int]{Timestamp: ts, Value: 1},
	}, toClear)
	ctx.Device.ApplyToClear(toClear)

	if cont != nil && cont.kind == nextGetInstanceKeys && len(cont.aliasKeys) > 0 {
		instIp := ctx.Device.Paths.Add(inst)
		var names []string
		for key := range cont.aliasKeys {
			names = append(names, instIp.Concat(mustParsePath(key)).String())
		}
		sort.Strings(names)
		ctx.RpcRequest = &RpcRequest{
			GetParameterValues: &GetParameterValues{ParameterNames: names},
			continuation: &continuation{
				kind:         nextSetInstanceKeys,
				objectPath:   cont.objectPath,
				aliasKeys:    cont.aliasKeys,
				instancePath: instIp,
			},
		}
	}
}

// stampVirtualNode records a completed Reboot/FactoryReset as the
// session timestamp on the corresponding virtual node.
func (ctx *SessionContext) stampVirtualNode(name string, ts int64) {
	var toClear []ToClearEntry
	toClear = ctx.Device.Set(mustParsePath(name), ts, &Attributes{
		Object:   &TSValue[int]{Timestamp: ts, Value: 0},
		Writable: &TSValue[int]{Timestamp: ts, Value: 0},
		Value:    &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: strconv.FormatInt(ctx.Timestamp, 10), Type: "xsd:dateTime"}},
	}, toClear)
	ctx.Device.ApplyToClear(toClear)
}

func (ctx *SessionContext) assimilateDownload(req *Download, resp *DownloadResponse, ts int64) {
	inst := mustParsePath(req.Instance)

	var toClear []ToClearEntry
	leaf := func(name string, v ValueType) {
		toClear = ctx.Device.Set(inst.Concat(mustParsePath(name)), ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: v},
		}, toClear)
	}

	leaf("Download", ValueType{Value: strconv.FormatInt(ctx.Timestamp, 10), Type: "xsd:dateTime"})

	if resp.Status == 0 {
		leaf("LastDownload", ValueType{Value: strconv.FormatInt(ctx.Timestamp, 10), Type: "xsd:dateTime"})
		leaf("LastFileType", ValueType{Value: req.FileType, Type: "xsd:string"})
		leaf("LastFileName", ValueType{Value: req.FileName, Type: "xsd:string"})
		leaf("LastTargetFileName", ValueType{Value: req.TargetFileName, Type: "xsd:string"})
		leaf("StartTime", ValueType{Value: resp.StartTime, Type: "xsd:dateTime"})
		leaf("CompleteTime", ValueType{Value: resp.CompleteTime, Type: "xsd:dateTime"})
	} else {
		ctx.Operations[req.CommandKey] = &Operation{
			Kind:           "Download",
			CommandKey:     req.CommandKey,
			Timestamp:      ctx.Timestamp,
			Instance:       req.Instance,
			FileType:       req.FileType,
			FileName:       req.FileName,
			TargetFileName: req.TargetFileName,
		}
		ctx.OperationsTouched[req.CommandKey] = true
	}

	ctx.Device.ApplyToClear(toClear)
}

// RpcFault handles a CWMP fault in lieu of a response. Fault 9005
// (invalid parameter name) is recoverable: the referenced paths are
// invalidated and nil is returned so the caller can replan. Every
// other fault surfaces as cwmp.<code>.
func (ctx *SessionContext) RpcFault(c context.Context, rpcId string, fault *CpeFault) *Fault {
	req := ctx.RpcRequest
	if req == nil || req.Id != rpcId {
		return InvalidResponseFault("request ID not recognized")
	}
	ctx.RpcRequest = nil
	ctx.RpcCount++

	codes := map[string]bool{fault.FaultCode: true}
	for _, f := range fault.SetValueFaults {
		codes[f.FaultCode] = true
	}

	if codes["9005"] && len(codes) == 1 {
		ts := ctx.responseTimestamp()
		for _, name := range requestedParameterNames(req) {
			ctx.clearSubtree(mustParsePath(name), ts)
		}
		return nil
	}

	return CwmpFault(fault.FaultCode, fault.FaultString)
}

// requestedParameterNames lists the data-model paths an outbound
// request referenced, for 9005 invalidation.
func requestedParameterNames(req *RpcRequest) []string {
	switch {
	case req.GetParameterNames != nil:
		if p := strings.TrimSuffix(req.GetParameterNames.ParameterPath, "."); p != "" {
			return []string{p}
		}
		return nil
	case req.GetParameterValues != nil:
		return req.GetParameterValues.ParameterNames
	case req.GetParameterAttributes != nil:
		return req.GetParameterAttributes.ParameterNames
	case req.SetParameterValues != nil:
		names := make([]string, 0, len(req.SetParameterValues.ParameterList))
		for _, pv := range req.SetParameterValues.ParameterList {
			names = append(names, pv.Name)
		}
		return names
	case req.SetParameterAttributes != nil:
		names := make([]string, 0, len(req.SetParameterAttributes.ParameterList))
		for _, pa := range req.SetParameterAttributes.ParameterList {
			names = append(names, pa.Name)
		}
		return names
	case req.AddObject != nil:
		return []string{strings.TrimSuffix(req.AddObject.ObjectName, ".")}
	case req.DeleteObject != nil:
		return []string{strings.TrimSuffix(req.DeleteObject.ObjectName, ".")}
	default:
		return nil
	}
}
