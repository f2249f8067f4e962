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
	"encoding/json"
	"sort"
	"sync"
)

// Provision is a named script invocation: a provision's name plus its
// arguments, e.g. ("refresh", "InternetGatewayDevice.DeviceInfo.*").
type Provision struct {
	Name string
	Args []interface{}
}

// key returns a value suitable for deduplication-by-value.
func (p Provision) key() string {
	js, err := json.Marshal(p)
	if err != nil {
		return p.Name
	}
	return string(js)
}

// VpProv is a running virtual parameter invocation, analogous to
// Provision but scoped to one inception layer.
type VpProv struct {
	Name string
	Args []interface{}
}

func (p VpProv) key() string {
	js, err := json.Marshal(p)
	if err != nil {
		return p.Name
	}
	return string(js)
}

// AddProvisions deduplicates newProvisions against ctx.Provisions by
// value, recording channel membership for both newly added and
// already-present provisions, then opens a new cycle.
//
// Calling AddProvisions(ctx, c, [p]) twice in a row is equivalent to
// calling it once: the provisions list and channel bitmaps end up
// identical either way, since membership is a set.
func (ctx *SessionContext) AddProvisions(channel string, newProvisions []Provision) {
	existingKeys := make(map[string]int, len(ctx.Provisions))
	for i, p := range ctx.Provisions {
		existingKeys[p.key()] = i
	}

	bit := ctx.Channels[channel]

	for _, p := range newProvisions {
		k := p.key()
		if i, have := existingKeys[k]; have {
			bit |= uint64(1) << uint(i)
			continue
		}
		i := len(ctx.Provisions)
		ctx.Provisions = append(ctx.Provisions, p)
		existingKeys[k] = i
		bit |= uint64(1) << uint(i)
	}
	ctx.Channels[channel] = bit

	ctx.resetCycleState()
}

// ClearProvisions resets provisions, virtual parameters, channels,
// declarations, revisions, and the extension cache. After this
// call there is no provision, virtual parameter, declaration, or
// extension-cache entry left.
func (ctx *SessionContext) ClearProvisions() {
	ctx.Provisions = nil
	ctx.Channels = map[string]uint64{}
	ctx.declarationsStack = nil
	ctx.virtualParametersStack = nil
	ctx.provisionsRet = nil
	ctx.ExtensionsCache = map[string]interface{}{}
	ctx.Revisions = nil
	ctx.SyncState = nil
	ctx.resetCycleState()
}

// resetCycleState discards in-flight sync state, collapses the device
// data back to revision 0 if any progress was made, and opens a new
// cycle: rpcCount=0, iteration=cycle*MaxIterationsPerCycle. Shared by
// AddProvisions and ClearProvisions.
func (ctx *SessionContext) resetCycleState() {
	ctx.SyncState = nil
	ctx.RpcRequest = nil
	ctx.provisionsDoneFlag = false
	ctx.declarationsStack = nil
	ctx.virtualParametersStack = nil
	ctx.vpReturns = nil
	ctx.provisionsRet = nil
	ctx.Revisions = nil

	if ctx.Device.Timestamps.Revision > 0 || ctx.Device.Attributes.Revision > 0 {
		ctx.Device.Timestamps.Collapse(0)
		ctx.Device.Attributes.Collapse(0)
	}

	ctx.Cycle++
	ctx.RpcCount = 0
	ctx.Iteration = ctx.Cycle * ctx.maxIterationsPerCycle()
}

// runLayer describes one inception's provisions-or-virtual-parameters
// batch execution result.
type runLayer struct {
	Fault   *Fault
	Declare []*Declaration
	Clear   []ClearRequest
	Done    bool
}

// boundedFanOut caps concurrent sandbox invocations within a single
// provision/virtual-parameter layer.
var boundedFanOut = 8

func channelsForProvisionIndex(channels map[string]uint64, i int) []string {
	if i < 0 {
		return nil
	}
	var acc []string
	for name, bits := range channels {
		if bits&(uint64(1)<<uint(i)) != 0 {
			acc = append(acc, name)
		}
	}
	sort.Strings(acc)
	return acc
}

// runProvisionsLayer invokes the sandbox for every provision in
// ctx.Provisions in parallel, concatenates their declare/clear
// outputs, AND-combines their done flags, and — if the whole batch
// finished — clears Defer on every declaration, since nothing further
// will refine them this cycle. A faulting provision's Channels
// are attributed from ctx.Channels using its index in ctx.Provisions.
func (ctx *SessionContext) runProvisionsLayer(c context.Context, startRev, endRev int) *runLayer {
	provs := ctx.Provisions
	if len(provs) == 0 {
		return &runLayer{Done: true}
	}

	type outcome struct {
		res *ScriptResult
		err error
	}
	results := make([]outcome, len(provs))

	// Default provisions run in-process; only user-authored scripts
	// go to the sandbox. Resolve shadowing up front so the fan-out
	// below doesn't race on the cached name set.
	builtins := make([]func([]interface{}, int64) ([]*Declaration, error), len(provs))
	for i, p := range provs {
		if b := builtinProvision(p.Name); b != nil && !ctx.hasUserProvision(c, p.Name) {
			builtins[i] = b
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, boundedFanOut)
	for i, p := range provs {
		if b := builtins[i]; b != nil {
			decls, err := b(p.Args, ctx.Timestamp)
			results[i] = outcome{res: &ScriptResult{Declare: decls, Done: true}, err: err}
			continue
		}
		if ctx.Sandbox == nil {
			results[i] = outcome{res: &ScriptResult{
				Fault: ScriptError("", "no sandbox configured for provision "+p.Name),
			}}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p Provision) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := ctx.Sandbox.Run(c, &ScriptRequest{
				Kind:          ScriptProvision,
				Name:          p.Name,
				Args:          p.Args,
				Device:        ctx.Device,
				StartRevision: startRev,
				EndRevision:   endRev,
			})
			results[i] = outcome{res: res, err: err}
		}(i, p)
	}
	wg.Wait()

	out := &runLayer{Done: true}
	for i, o := range results {
		if o.err != nil {
			out.Fault = ScriptError("", o.err.Error())
			out.Fault.Channels = channelsForProvisionIndex(ctx.Channels, i)
			continue
		}
		if o.res == nil {
			continue
		}
		if o.res.Fault != nil {
			out.Fault = o.res.Fault
			out.Fault.Channels = channelsForProvisionIndex(ctx.Channels, i)
		}
		out.Declare = append(out.Declare, o.res.Declare...)
		out.Clear = append(out.Clear, o.res.Clear...)
		if !o.res.Done {
			out.Done = false
		}
	}

	if out.Done {
		for _, d := range out.Declare {
			d.Defer = false
		}
	}

	return out
}

// vpRunResult is the outcome of running one layer of virtual
// parameters.
type vpRunResult struct {
	Fault   *Fault
	Declare []*Declaration
	Clear   []ClearRequest
	Done    bool
	Returns map[string]*VpReturnValue
}

// runVirtualParameters runs each virtual parameter script in the
// layer, validating each returnValue's shape.
func (ctx *SessionContext) runVirtualParameters(c context.Context, provs []VpProv, perVpDeclarations map[string][]*Declaration, startRev, endRev int) *vpRunResult {
	if len(provs) == 0 {
		return &vpRunResult{Done: true, Returns: map[string]*VpReturnValue{}}
	}
	if ctx.Sandbox == nil {
		return &vpRunResult{Fault: ScriptError("", "no sandbox configured for virtual parameters")}
	}

	type outcome struct {
		name string
		res  *ScriptResult
		err  error
	}
	results := make([]outcome, len(provs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, boundedFanOut)
	for i, p := range provs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p VpProv) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := ctx.Sandbox.Run(c, &ScriptRequest{
				Kind:          ScriptVirtualParameter,
				Name:          p.Name,
				Args:          p.Args,
				Declarations:  perVpDeclarations[p.Name],
				Device:        ctx.Device,
				StartRevision: startRev,
				EndRevision:   endRev,
			})
			results[i] = outcome{name: p.Name, res: res, err: err}
		}(i, p)
	}
	wg.Wait()

	out := &vpRunResult{Done: true, Returns: map[string]*VpReturnValue{}}
	for _, o := range results {
		if o.err != nil {
			out.Fault = ScriptError("", o.err.Error())
			continue
		}
		if o.res == nil {
			continue
		}
		if o.res.Fault != nil {
			out.Fault = o.res.Fault
			continue
		}
		out.Declare = append(out.Declare, o.res.Declare...)
		out.Clear = append(out.Clear, o.res.Clear...)
		if !o.res.Done {
			out.Done = false
		}
		if o.res.Done {
			rv := o.res.ReturnValue
			if rv == nil {
				rv = &VpReturnValue{}
			}
			if err := validateVpReturn(rv, perVpDeclarations[o.name]); err != nil {
				out.Fault = InvalidScriptReturn(err.Error())
				continue
			}
			out.Returns[o.name] = rv
		}
	}
	return out
}

// validateVpReturn checks a return value's shape: writable must be
// present iff
// requested on either side of the declarations that triggered this
// run, and likewise for value.
func validateVpReturn(rv *VpReturnValue, decls []*Declaration) error {
	wantWritable, wantValue := false, false
	for _, d := range decls {
		if _, have := d.AttrGet[AttrWritable]; have {
			wantWritable = true
		}
		if _, have := d.AttrSet[AttrWritable]; have {
			wantWritable = true
		}
		if _, have := d.AttrGet[AttrValue]; have {
			wantValue = true
		}
		if _, have := d.AttrSet[AttrValue]; have {
			wantValue = true
		}
	}
	if wantWritable != (rv.Writable != nil) {
		return errMismatch("writable")
	}
	if wantValue != (rv.Value != nil) {
		return errMismatch("value")
	}
	if rv.Value != nil {
		if !allowedXSDTypes[normalizeXSDType(rv.Value.Type)] {
			return errMismatch("value type " + rv.Value.Type)
		}
	}
	return nil
}

func normalizeXSDType(t string) string {
	if t == "xsd:datetime" {
		return "xsd:dateTime"
	}
	if t == "" {
		return "xsd:string"
	}
	return t
}

type mismatchError struct{ what string }

func (e *mismatchError) Error() string { return "virtual parameter return shape mismatch: " + e.what }

func errMismatch(what string) error { return &mismatchError{what: what} }
