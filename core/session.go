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
	"fmt"
	"strconv"
	"strings"
)

// SessionContext is the per-device state machine for one CWMP session.
// It is created by Init, mutated across RpcRequest/RpcResponse turns,
// serialized across HTTP turns, and destroyed when the session ends.
//
// A SessionContext is single-threaded: every mutating entry point runs
// to completion before the next is admitted. Different sessions are
// mutually independent.
type SessionContext struct {
	DeviceId    string
	CwmpVersion string
	Timeout     int

	// Timestamp is the session start time in epoch milliseconds. All
	// data-model writes in one call are stamped relative to it.
	Timestamp int64

	// NewDevice marks a device the ACS has not seen before; Inform
	// then also records DeviceID.ID and Events.Registered.
	NewDevice bool

	Iteration int
	Cycle     int
	RpcCount  int

	// Revisions is a stack aligned with the declarations stack:
	// Revisions[i] is the device-data revision layer i last ran at.
	Revisions []int

	Provisions []Provision

	// Channels maps a channel name to a bitmap over Provisions:
	// channel c contains provision i iff bit i is set.
	Channels map[string]uint64

	// declarationsStack has one level per inception: level 0 holds
	// the provisions' declarations, level i>0 the declarations of
	// the virtual parameter layer i-1.
	declarationsStack [][]*Declaration

	// virtualParametersStack holds the pending virtual parameter
	// provisions per inception (level i produces declarations level
	// i+1).
	virtualParametersStack [][]VpProv

	// vpReturns holds, aligned with virtualParametersStack, the
	// validated return values collected from each layer's scripts.
	vpReturns []map[string]*VpReturnValue

	// provisionsRet records, aligned with declarationsStack, whether
	// that layer's batch reported done.
	provisionsRet []bool

	SyncState  *SyncState
	RpcRequest *RpcRequest

	// provisionsDoneFlag marks a converged session: the level-0
	// layer popped with every script done and nothing left to plan.
	// Cleared whenever provisions or declarations change.
	provisionsDoneFlag bool

	Operations        map[string]*Operation
	OperationsTouched map[string]bool
	Retries           map[string]int

	ExtensionsCache map[string]interface{}

	Device *DeviceData

	Config  *Config
	Sandbox Sandbox
	Cache   LocalCache

	vpNames       []string
	vpNamesLoaded bool

	userProvisions       map[string]bool
	userProvisionsLoaded bool
}

// Operation is a long-running CPE-side operation the engine is
// waiting on; currently only Download survives past its initiating
// response.
type Operation struct {
	Kind       string
	CommandKey string
	Timestamp  int64
	Channels   []string

	// Instance is the Downloads.{i} path string the operation's
	// parameters live under.
	Instance string

	FileType       string
	FileName       string
	TargetFileName string
}

// Init returns a fresh SessionContext for one device. timestamp is the
// session start time in epoch milliseconds.
func Init(deviceId, cwmpVersion string, timeout int, timestamp int64, cfg *Config, sandbox Sandbox, cache LocalCache) *SessionContext {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &SessionContext{
		DeviceId:          deviceId,
		CwmpVersion:       cwmpVersion,
		Timeout:           timeout,
		Timestamp:         timestamp,
		Channels:          map[string]uint64{},
		Operations:        map[string]*Operation{},
		OperationsTouched: map[string]bool{},
		Retries:           map[string]int{},
		ExtensionsCache:   map[string]interface{}{},
		Device:            NewDeviceData(),
		Config:            cfg,
		Sandbox:           sandbox,
		Cache:             cache,
	}
}

func (ctx *SessionContext) maxIterationsPerCycle() int {
	n := ctx.Config.MaxCommitIterations
	if n <= 0 {
		n = DefaultConfig().MaxCommitIterations
	}
	return n * 2
}

// GenerateRpcId renders the hex triple timestamp|cycle|rpcCount that
// tags each outbound RPC; responses must echo it back.
func (ctx *SessionContext) GenerateRpcId() string {
	return fmt.Sprintf("%x%02x%02x", ctx.Timestamp, ctx.Cycle&0xff, ctx.RpcCount&0xff)
}

// writeTimestamp stamps request-phase data-model writes.
func (ctx *SessionContext) writeTimestamp() int64 {
	return ctx.Timestamp + int64(ctx.Iteration)
}

// responseTimestamp stamps response-assimilation writes; strictly
// greater than writeTimestamp for the same iteration.
func (ctx *SessionContext) responseTimestamp() int64 {
	return ctx.Timestamp + int64(ctx.Iteration) + 1
}

func mustParsePath(s string) *Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// encodeEventCode turns a CWMP event code like "0 BOOTSTRAP" into a
// path-safe segment: spaces become underscores, anything else outside
// [A-Za-z0-9_-] is percent-encoded.
func encodeEventCode(code string) string {
	var b strings.Builder
	for _, c := range code {
		switch {
		case c == ' ':
			b.WriteByte('_')
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return b.String()
}

// Inform seeds the device data model from the CPE's Inform: DeviceID,
// the reported parameter list, Events.Inform, and one Events.<code>
// entry per inform event. Returns the InformResponse to send back.
func (ctx *SessionContext) Inform(req *InformRequest) *InformResponse {
	ts := ctx.writeTimestamp()
	var toClear []ToClearEntry

	leaf := func(path string, v ValueType) {
		p := mustParsePath(path)
		toClear = ctx.Device.Set(p, ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: v},
		}, toClear)
	}

	leaf("DeviceID.Manufacturer", ValueType{Value: req.DeviceId.Manufacturer, Type: "xsd:string"})
	leaf("DeviceID.OUI", ValueType{Value: req.DeviceId.OUI, Type: "xsd:string"})
	leaf("DeviceID.ProductClass", ValueType{Value: req.DeviceId.ProductClass, Type: "xsd:string"})
	leaf("DeviceID.SerialNumber", ValueType{Value: req.DeviceId.SerialNumber, Type: "xsd:string"})

	for _, pv := range req.ParameterList {
		p := mustParsePath(pv.Name)
		toClear = ctx.Device.Set(p, ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: ValueType{Value: pv.Value, Type: pv.Type}},
		}, toClear)
	}

	sessionStart := ValueType{Value: strconv.FormatInt(ctx.Timestamp, 10), Type: "xsd:dateTime"}
	leaf("Events.Inform", sessionStart)
	for _, ev := range req.Event {
		leaf("Events."+encodeEventCode(ev), sessionStart)
	}

	if ctx.NewDevice {
		leaf("DeviceID.ID", ValueType{Value: ctx.DeviceId, Type: "xsd:string"})
		leaf("Events.Registered", sessionStart)
	}

	ctx.Device.ApplyToClear(toClear)

	return &InformResponse{MaxEnvelopes: 1}
}

// TransferComplete handles the CPE's report of a finished Download.
// An unknown command key is acknowledged silently. A nonzero fault
// code reverts Downloads.{i}.Download to LastDownload and surfaces a
// cwmp.<code> fault; success updates the Downloads.{i}.Last* record
// and drops the operation.
func (ctx *SessionContext) TransferComplete(req *TransferCompleteRequest) *Fault {
	op, have := ctx.Operations[req.CommandKey]
	if !have {
		return nil
	}
	delete(ctx.Operations, req.CommandKey)
	ctx.OperationsTouched[req.CommandKey] = true

	if req.FaultCode != "" && req.FaultCode != "0" {
		ctx.revertDownload(op)
		f := CwmpFault(req.FaultCode, req.FaultString)
		f.Channels = op.Channels
		return f
	}

	ctx.completeDownload(op, req.StartTime, req.CompleteTime)
	return nil
}

// revertDownload resets Downloads.{i}.Download to the recorded
// LastDownload value (or clears it when there was none).
func (ctx *SessionContext) revertDownload(op *Operation) {
	ts := ctx.responseTimestamp()
	inst := mustParsePath(op.Instance)

	last := ValueType{Value: "", Type: "xsd:dateTime"}
	if ip := ctx.Device.Paths.Get(inst.Concat(mustParsePath("LastDownload"))); ip != nil {
		if attrs, have := ctx.Device.Attributes.Get(ip); have && attrs != nil && attrs.Value != nil {
			last = attrs.Value.Value
		}
	}

	var toClear []ToClearEntry
	toClear = ctx.Device.Set(inst.Concat(mustParsePath("Download")), ts, &Attributes{
		Object: &TSValue[int]{Timestamp: ts, Value: 0},
		Value:  &TSValue[ValueType]{Timestamp: ts, Value: last},
	}, toClear)
	ctx.Device.ApplyToClear(toClear)
}

// completeDownload records the successful transfer under the
// operation's Downloads.{i} instance.
func (ctx *SessionContext) completeDownload(op *Operation, startTime, completeTime string) {
	ts := ctx.responseTimestamp()
	inst := mustParsePath(op.Instance)

	var toClear []ToClearEntry
	leaf := func(name string, v ValueType) {
		toClear = ctx.Device.Set(inst.Concat(mustParsePath(name)), ts, &Attributes{
			Object: &TSValue[int]{Timestamp: ts, Value: 0},
			Value:  &TSValue[ValueType]{Timestamp: ts, Value: v},
		}, toClear)
	}

	leaf("LastDownload", ValueType{Value: strconv.FormatInt(op.Timestamp, 10), Type: "xsd:dateTime"})
	leaf("LastFileType", ValueType{Value: op.FileType, Type: "xsd:string"})
	leaf("LastFileName", ValueType{Value: op.FileName, Type: "xsd:string"})
	leaf("LastTargetFileName", ValueType{Value: op.TargetFileName, Type: "xsd:string"})
	leaf("StartTime", ValueType{Value: startTime, Type: "xsd:dateTime"})
	leaf("CompleteTime", ValueType{Value: completeTime, Type: "xsd:dateTime"})

	ctx.Device.ApplyToClear(toClear)
}

// TimeoutOperations walks pending operations and applies the download
// timeout policy: synthesize a successful TransferComplete when
// DownloadSuccessOnTimeout is set, otherwise drop the operation,
// revert its download parameters, and surface a timeout fault.
func (ctx *SessionContext) TimeoutOperations() []*Fault {
	var faults []*Fault
	timeoutMs := int64(ctx.Config.DownloadTimeout) * 1000

	for key, op := range ctx.Operations {
		if op.Kind != "Download" {
			continue
		}
		if op.Timestamp+timeoutMs > ctx.Timestamp {
			continue
		}
		if ctx.Config.DownloadSuccessOnTimeout {
			if f := ctx.TransferComplete(&TransferCompleteRequest{CommandKey: key}); f != nil {
				faults = append(faults, f)
			}
			continue
		}
		delete(ctx.Operations, key)
		ctx.OperationsTouched[key] = true
		ctx.revertDownload(op)
		f := TimeoutFault("download operation " + key + " timed out")
		f.Channels = op.Channels
		faults = append(faults, f)
	}
	return faults
}

// virtualParameterNames returns (and caches) the known virtual
// parameter names from the local cache.
func (ctx *SessionContext) virtualParameterNames(c context.Context) []string {
	if ctx.vpNamesLoaded {
		return ctx.vpNames
	}
	ctx.vpNamesLoaded = true
	if ctx.Cache == nil {
		return nil
	}
	names, err := ctx.Cache.GetVirtualParameterNames(c)
	if err != nil {
		Logf("virtualParameterNames: %v", err)
		return nil
	}
	ctx.vpNames = names
	return names
}

// hasUserProvision reports whether a user-authored script shadows the
// given provision name (in which case the builtin is not used).
func (ctx *SessionContext) hasUserProvision(c context.Context, name string) bool {
	if !ctx.userProvisionsLoaded {
		ctx.userProvisionsLoaded = true
		ctx.userProvisions = map[string]bool{}
		if ctx.Cache != nil {
			names, err := ctx.Cache.GetProvisionNames(c)
			if err != nil {
				Logf("hasUserProvision: %v", err)
			}
			for _, n := range names {
				ctx.userProvisions[n] = true
			}
		}
	}
	return ctx.userProvisions[name]
}

// pruneExtensionsCache drops cache entries whose "<revision>:<rest>"
// key prefix is above the collapse point. Keys are otherwise opaque.
func (ctx *SessionContext) pruneExtensionsCache(rev int) {
	for k := range ctx.ExtensionsCache {
		i := strings.IndexByte(k, ':')
		if i < 0 {
			continue
		}
		n, err := strconv.Atoi(k[:i])
		if err != nil {
			continue
		}
		if n > rev {
			delete(ctx.ExtensionsCache, k)
		}
	}
}
