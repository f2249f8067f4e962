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
	"encoding/json"
	"fmt"
	"sort"
)

// Serialization carries a SessionContext across HTTP turns as text.
// SyncState is ephemeral (regenerable from the declarations stack)
// and is not serialized; the in-flight RpcRequest is, because the
// next turn must match the CPE's response against it.

type serializedAttrSet struct {
	Value        *ValueType `json:"value,omitempty"`
	Notification *int       `json:"notification,omitempty"`
	AccessList   *[]string  `json:"accessList,omitempty"`
}

type serializedDeclaration struct {
	Path                string             `json:"path"`
	PathGet             *int64             `json:"pathGet,omitempty"`
	PathSet             *PathCardinality   `json:"pathSet,omitempty"`
	AttrGet             map[Attr]int64     `json:"attrGet,omitempty"`
	AttrSet             *serializedAttrSet `json:"attrSet,omitempty"`
	Defer               bool               `json:"defer,omitempty"`
	RelativeCardinality bool               `json:"relativeCardinality,omitempty"`
}

type serializedPathEntry struct {
	Path       string                      `json:"path"`
	Trackers   map[string]int              `json:"trackers,omitempty"`
	Timestamps []versionEntry[int64]       `json:"timestamps,omitempty"`
	Attributes []versionEntry[*Attributes] `json:"attributes,omitempty"`
}

type serializedContinuation struct {
	Kind         string            `json:"kind"`
	ObjectPath   string            `json:"objectPath,omitempty"`
	AliasKeys    map[string]string `json:"aliasKeys,omitempty"`
	InstancePath string            `json:"instancePath,omitempty"`
}

type serializedRpcRequest struct {
	Request      *RpcRequest             `json:"request"`
	Continuation *serializedContinuation `json:"continuation,omitempty"`
}

type serializedSession struct {
	DeviceId    string `json:"deviceId"`
	CwmpVersion string `json:"cwmpVersion"`
	Timeout     int    `json:"timeout"`
	Timestamp   int64  `json:"timestamp"`
	NewDevice   bool   `json:"newDevice,omitempty"`

	Iteration int   `json:"iteration"`
	Cycle     int   `json:"cycle"`
	RpcCount  int   `json:"rpcCount"`
	Revisions []int `json:"revisions,omitempty"`

	Provisions []Provision       `json:"provisions,omitempty"`
	Channels   map[string]uint64 `json:"channels,omitempty"`

	Declarations      [][]serializedDeclaration   `json:"declarations,omitempty"`
	VirtualParameters [][]VpProv                  `json:"virtualParameters,omitempty"`
	VpReturns         []map[string]*VpReturnValue `json:"vpReturns,omitempty"`
	ProvisionsRet     []bool                      `json:"provisionsRet,omitempty"`
	ProvisionsDone    bool                        `json:"provisionsDone,omitempty"`

	RpcRequest *serializedRpcRequest `json:"rpcRequest,omitempty"`

	Operations        map[string]*Operation  `json:"operations,omitempty"`
	OperationsTouched []string               `json:"operationsTouched,omitempty"`
	Retries           map[string]int         `json:"retries,omitempty"`
	ExtensionsCache   map[string]interface{} `json:"extensionsCache,omitempty"`

	TimestampsRevision int                   `json:"timestampsRevision"`
	AttributesRevision int                   `json:"attributesRevision"`
	DeviceData         []serializedPathEntry `json:"deviceData"`
}

func serializeDeclaration(d *Declaration) serializedDeclaration {
	sd := serializedDeclaration{
		Path:                d.Path.String(),
		PathGet:             d.PathGet,
		PathSet:             d.PathSet,
		AttrGet:             d.AttrGet,
		Defer:               d.Defer,
		RelativeCardinality: d.relativeCardinality,
	}
	if d.AttrSet != nil {
		as := &serializedAttrSet{}
		if v, have := d.AttrSet[AttrValue]; have {
			if vt, ok := v.(ValueType); ok {
				as.Value = &vt
			}
		}
		if v, have := d.AttrSet[AttrNotification]; have {
			if n, ok := toInt(v); ok {
				as.Notification = &n
			}
		}
		if v, have := d.AttrSet[AttrAccessList]; have {
			if al, ok := toStringList(v); ok {
				as.AccessList = &al
			}
		}
		sd.AttrSet = as
	}
	return sd
}

func deserializeDeclaration(sd serializedDeclaration) (*Declaration, error) {
	p, err := ParsePath(sd.Path)
	if err != nil {
		return nil, err
	}
	d := &Declaration{
		Path:                p,
		PathGet:             sd.PathGet,
		PathSet:             sd.PathSet,
		AttrGet:             sd.AttrGet,
		Defer:               sd.Defer,
		relativeCardinality: sd.RelativeCardinality,
	}
	if sd.AttrSet != nil {
		d.AttrSet = map[Attr]interface{}{}
		if sd.AttrSet.Value != nil {
			d.AttrSet[AttrValue] = *sd.AttrSet.Value
		}
		if sd.AttrSet.Notification != nil {
			d.AttrSet[AttrNotification] = *sd.AttrSet.Notification
		}
		if sd.AttrSet.AccessList != nil {
			d.AttrSet[AttrAccessList] = *sd.AttrSet.AccessList
		}
	}
	return d, nil
}

// Serialize renders the session's observable state as a deterministic
// string.
func (ctx *SessionContext) Serialize() (string, error) {
	s := &serializedSession{
		DeviceId:           ctx.DeviceId,
		CwmpVersion:        ctx.CwmpVersion,
		Timeout:            ctx.Timeout,
		Timestamp:          ctx.Timestamp,
		NewDevice:          ctx.NewDevice,
		Iteration:          ctx.Iteration,
		Cycle:              ctx.Cycle,
		RpcCount:           ctx.RpcCount,
		Revisions:          ctx.Revisions,
		Provisions:         ctx.Provisions,
		Channels:           ctx.Channels,
		VirtualParameters:  ctx.virtualParametersStack,
		VpReturns:          ctx.vpReturns,
		ProvisionsRet:      ctx.provisionsRet,
		ProvisionsDone:     ctx.provisionsDoneFlag,
		Operations:         ctx.Operations,
		Retries:            ctx.Retries,
		ExtensionsCache:    ctx.ExtensionsCache,
		TimestampsRevision: ctx.Device.Timestamps.Revision,
		AttributesRevision: ctx.Device.Attributes.Revision,
	}

	for _, layer := range ctx.declarationsStack {
		sl := make([]serializedDeclaration, 0, len(layer))
		for _, d := range layer {
			sl = append(sl, serializeDeclaration(d))
		}
		s.Declarations = append(s.Declarations, sl)
	}

	for key := range ctx.OperationsTouched {
		s.OperationsTouched = append(s.OperationsTouched, key)
	}
	sort.Strings(s.OperationsTouched)

	if ctx.RpcRequest != nil {
		sr := &serializedRpcRequest{Request: ctx.RpcRequest}
		if cont := ctx.RpcRequest.continuation; cont != nil {
			sc := &serializedContinuation{Kind: cont.kind, AliasKeys: cont.aliasKeys}
			if cont.objectPath != nil {
				sc.ObjectPath = cont.objectPath.String()
			}
			if cont.instancePath != nil {
				sc.InstancePath = cont.instancePath.String()
			}
			sr.Continuation = sc
		}
		s.RpcRequest = sr
	}

	for _, p := range ctx.Device.Paths.All() {
		// Bare interned paths are kept too: they shape unpacking.
		s.DeviceData = append(s.DeviceData, serializedPathEntry{
			Path:       p.String(),
			Trackers:   ctx.Device.Trackers[p],
			Timestamps: ctx.Device.Timestamps.GetRevisions(p),
			Attributes: ctx.Device.Attributes.GetRevisions(p),
		})
	}
	sort.Slice(s.DeviceData, func(i, j int) bool { return s.DeviceData[i].Path < s.DeviceData[j].Path })

	bs, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// Deserialize rebuilds a SessionContext from Serialize's output. The
// collaborators (config, sandbox, cache) are re-supplied by the host;
// callers should make sure the local cache is usable before driving
// the session further.
func Deserialize(data string, cfg *Config, sandbox Sandbox, cache LocalCache) (*SessionContext, error) {
	var s serializedSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("deserialize session: %w", err)
	}

	ctx := Init(s.DeviceId, s.CwmpVersion, s.Timeout, s.Timestamp, cfg, sandbox, cache)
	ctx.NewDevice = s.NewDevice
	ctx.Iteration = s.Iteration
	ctx.Cycle = s.Cycle
	ctx.RpcCount = s.RpcCount
	ctx.Revisions = s.Revisions
	ctx.Provisions = s.Provisions
	if s.Channels != nil {
		ctx.Channels = s.Channels
	}
	ctx.virtualParametersStack = s.VirtualParameters
	ctx.vpReturns = s.VpReturns
	ctx.provisionsRet = s.ProvisionsRet
	ctx.provisionsDoneFlag = s.ProvisionsDone
	if s.Operations != nil {
		ctx.Operations = s.Operations
	}
	for _, key := range s.OperationsTouched {
		ctx.OperationsTouched[key] = true
	}
	if s.Retries != nil {
		ctx.Retries = s.Retries
	}
	if s.ExtensionsCache != nil {
		ctx.ExtensionsCache = s.ExtensionsCache
	}

	for _, entry := range s.DeviceData {
		p, err := ParsePath(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("deserialize path %q: %w", entry.Path, err)
		}
		ip := ctx.Device.Paths.Add(p)
		if len(entry.Timestamps) > 0 {
			ctx.Device.Timestamps.SetRevisions(ip, entry.Timestamps)
		}
		if len(entry.Attributes) > 0 {
			ctx.Device.Attributes.SetRevisions(ip, entry.Attributes)
		}
		if len(entry.Trackers) > 0 {
			ctx.Device.Trackers[ip] = entry.Trackers
		}
	}
	ctx.Device.Timestamps.Revision = s.TimestampsRevision
	ctx.Device.Attributes.Revision = s.AttributesRevision

	for _, layer := range s.Declarations {
		dl := make([]*Declaration, 0, len(layer))
		for _, sd := range layer {
			d, err := deserializeDeclaration(sd)
			if err != nil {
				return nil, err
			}
			d.Path = ctx.Device.Paths.Add(d.Path)
			dl = append(dl, d)
		}
		ctx.declarationsStack = append(ctx.declarationsStack, dl)
	}

	if s.RpcRequest != nil && s.RpcRequest.Request != nil {
		req := s.RpcRequest.Request
		if sc := s.RpcRequest.Continuation; sc != nil {
			cont := &continuation{kind: sc.Kind, aliasKeys: sc.AliasKeys}
			if sc.ObjectPath != "" {
				cont.objectPath = ctx.Device.Paths.Add(mustParsePath(sc.ObjectPath))
			}
			if sc.InstancePath != "" {
				cont.instancePath = ctx.Device.Paths.Add(mustParsePath(sc.InstancePath))
			}
			req.continuation = cont
		}
		ctx.RpcRequest = req
	}

	return ctx, nil
}
