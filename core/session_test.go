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
	"strconv"
	"testing"
)

const testTimestamp = int64(1700000000000)

// fakeCache is an in-memory LocalCache for driver tests.
type fakeCache struct {
	provisions        []string
	virtualParameters []string
}

func (f *fakeCache) GetConfig(ctx context.Context, deviceId string) (*Config, error) {
	return DefaultConfig(), nil
}

func (f *fakeCache) GetProvisionNames(ctx context.Context) ([]string, error) {
	return f.provisions, nil
}

func (f *fakeCache) GetVirtualParameterNames(ctx context.Context) ([]string, error) {
	return f.virtualParameters, nil
}

func newTestSession(t *testing.T) *SessionContext {
	t.Helper()
	return Init("dev1", "1.0", 30000, testTimestamp, DefaultConfig(), nil, &fakeCache{})
}

func informBootstrap(ctx *SessionContext) {
	ctx.Inform(&InformRequest{
		DeviceId: struct {
			Manufacturer string
			OUI          string
			ProductClass string
			SerialNumber string
		}{"M", "000000", "P", "S"},
		Event: []string{"0 BOOTSTRAP"},
	})
}

func valueAt(t *testing.T, ctx *SessionContext, path string) ValueType {
	t.Helper()
	p := mustParsePath(path)
	ip := ctx.Device.Paths.Get(p)
	if ip == nil {
		t.Fatalf("path %s not known", path)
	}
	attrs, have := ctx.Device.Attributes.Get(ip)
	if !have || attrs == nil || attrs.Value == nil {
		t.Fatalf("no value at %s", path)
	}
	return attrs.Value.Value
}

// Scenario: empty inform, no provisions.
func TestEmptyInform(t *testing.T) {
	ctx := newTestSession(t)
	informBootstrap(ctx)

	id, rpc, fault, err := ctx.RpcRequest(context.Background(), nil)
	if err != nil || fault != nil || rpc != nil || id != "" {
		t.Fatalf("expected session end, got id=%q rpc=%v fault=%v err=%v", id, rpc, fault, err)
	}

	if v := valueAt(t, ctx, "DeviceID.Manufacturer"); v.Value != "M" || v.Type != "xsd:string" {
		t.Fatalf("DeviceID.Manufacturer: %+v", v)
	}
	if v := valueAt(t, ctx, "Events.0_BOOTSTRAP"); v.Value != strconv.FormatInt(testTimestamp, 10) {
		t.Fatalf("Events.0_BOOTSTRAP: %+v", v)
	}
	if v := valueAt(t, ctx, "Events.Inform"); v.Value != strconv.FormatInt(testTimestamp, 10) {
		t.Fatalf("Events.Inform: %+v", v)
	}
}

func TestInformNewDevice(t *testing.T) {
	ctx := newTestSession(t)
	ctx.NewDevice = true
	informBootstrap(ctx)

	if v := valueAt(t, ctx, "DeviceID.ID"); v.Value != "dev1" {
		t.Fatalf("DeviceID.ID: %+v", v)
	}
	valueAt(t, ctx, "Events.Registered")
}

// Scenario: read a single parameter via the refresh builtin. The
// session must first discover the path with GetParameterNames, then
// read it with GetParameterValues, then finish.
func TestRefreshSingleParameter(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	informBootstrap(ctx)

	const param = "InternetGatewayDevice.DeviceInfo.SoftwareVersion"
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{param}}})

	id, rpc, fault, err := ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil {
		t.Fatalf("fault=%v err=%v", fault, err)
	}
	if rpc == nil || rpc.GetParameterNames == nil {
		t.Fatalf("expected GetParameterNames, got %s", rpc.Name())
	}
	if rpc.GetParameterNames.ParameterPath != "InternetGatewayDevice." || !rpc.GetParameterNames.NextLevel {
		t.Fatalf("GPN %+v", rpc.GetParameterNames)
	}

	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		GetParameterNamesResponse: &GetParameterNamesResponse{
			ParameterList: []ParameterInfo{
				{Name: "InternetGatewayDevice.", Object: true, Writable: false},
				{Name: "InternetGatewayDevice.DeviceInfo.", Object: true, Writable: false},
				{Name: param, Object: false, Writable: false},
			},
		},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	id, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil {
		t.Fatalf("fault=%v err=%v", fault, err)
	}
	if rpc == nil || rpc.GetParameterValues == nil {
		t.Fatalf("expected GetParameterValues, got %s", rpc.Name())
	}
	if len(rpc.GetParameterValues.ParameterNames) != 1 || rpc.GetParameterValues.ParameterNames[0] != param {
		t.Fatalf("GPV %+v", rpc.GetParameterValues)
	}

	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		GetParameterValuesResponse: &GetParameterValuesResponse{
			ParameterList: []ParameterValue{{Name: param, Value: "1.0", Type: "xsd:string"}},
		},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	id, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc != nil {
		t.Fatalf("expected session end, got rpc=%v fault=%v err=%v", rpc, fault, err)
	}
	_ = id

	if v := valueAt(t, ctx, param); v.Value != "1.0" {
		t.Fatalf("assimilated value: %+v", v)
	}
	if ctx.Iteration%2 != 0 {
		t.Fatalf("iteration must stay even: %d", ctx.Iteration)
	}
}

func seedLeaf(ctx *SessionContext, path string, ts int64, v ValueType, writable int) {
	p := mustParsePath(path)
	var toClear []ToClearEntry
	toClear = ctx.Device.Set(p, ts, &Attributes{
		Object:   &TSValue[int]{Timestamp: ts, Value: 0},
		Writable: &TSValue[int]{Timestamp: ts, Value: writable},
		Value:    &TSValue[ValueType]{Timestamp: ts, Value: v},
	}, toClear)
	ctx.Device.ApplyToClear(toClear)
	ctx.Device.Timestamps.Set(ctx.Device.Paths.Get(p), ts)
}

// Scenario: SetParameterValues idempotence.
func TestSpvIdempotence(t *testing.T) {
	bg := context.Background()

	run := func(declared string) *RpcRequest {
		ctx := newTestSession(t)
		seedLeaf(ctx, "A.B", testTimestamp, ValueType{Value: "1.0", Type: "xsd:string"}, 1)
		ctx.AddProvisions("default", []Provision{{Name: "value", Args: []interface{}{"A.B", declared}}})
		_, rpc, fault, err := ctx.RpcRequest(bg, nil)
		if err != nil || fault != nil {
			t.Fatalf("fault=%v err=%v", fault, err)
		}
		return rpc
	}

	if rpc := run("1.0"); rpc != nil {
		t.Fatalf("declaring the current value must not emit an RPC, got %s", rpc.Name())
	}

	rpc := run("1.1")
	if rpc == nil || rpc.SetParameterValues == nil {
		t.Fatalf("expected SetParameterValues, got %v", rpc)
	}
	pl := rpc.SetParameterValues.ParameterList
	if len(pl) != 1 || pl[0].Name != "A.B" || pl[0].Value != "1.1" || pl[0].Type != "xsd:string" {
		t.Fatalf("SPV %+v", pl)
	}
}

func TestSpvAcknowledgedThenQuiet(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	seedLeaf(ctx, "A.B", testTimestamp, ValueType{Value: "1.0", Type: "xsd:string"}, 1)
	ctx.AddProvisions("default", []Provision{{Name: "value", Args: []interface{}{"A.B", "1.1"}}})

	id, rpc, fault, err := ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc == nil || rpc.SetParameterValues == nil {
		t.Fatalf("expected SPV: rpc=%v fault=%v err=%v", rpc, fault, err)
	}
	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		SetParameterValuesResponse: &SetParameterValuesResponse{Status: 0},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	_, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc != nil {
		t.Fatalf("expected session end after ack, got rpc=%v", rpc)
	}

	// Re-adding the same provision opens a new cycle but plans no
	// further SPV: the stored value already matches.
	ctx.AddProvisions("default", []Provision{{Name: "value", Args: []interface{}{"A.B", "1.1"}}})
	_, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc != nil {
		t.Fatalf("re-run must be quiet, got rpc=%v fault=%v err=%v", rpc, fault, err)
	}
}

// Scenario: AddObject continuation — create a keyed instance, fetch
// its keys, correct the mismatching one.
func TestAddObjectContinuation(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)

	card := PathCardinality{Min: 1, Max: 1}
	decls := []*Declaration{{
		Path:    mustParsePath("IF.[Name=wan0]"),
		PathSet: &card,
	}}

	id, rpc, fault, err := ctx.RpcRequest(bg, decls)
	if err != nil || fault != nil {
		t.Fatalf("fault=%v err=%v", fault, err)
	}
	if rpc == nil || rpc.AddObject == nil {
		t.Fatalf("expected AddObject, got %v", rpc)
	}
	if rpc.AddObject.ObjectName != "IF." || rpc.AddObject.InstanceValues["Name"] != "wan0" || rpc.AddObject.Next != "getInstanceKeys" {
		t.Fatalf("AddObject %+v", rpc.AddObject)
	}

	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		AddObjectResponse: &AddObjectResponse{InstanceNumber: 3, Status: 0},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	id, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc == nil || rpc.GetParameterValues == nil {
		t.Fatalf("expected continuation GPV, got %v", rpc)
	}
	if len(rpc.GetParameterValues.ParameterNames) != 1 || rpc.GetParameterValues.ParameterNames[0] != "IF.3.Name" {
		t.Fatalf("GPV %+v", rpc.GetParameterValues)
	}

	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		GetParameterValuesResponse: &GetParameterValuesResponse{
			ParameterList: []ParameterValue{{Name: "IF.3.Name", Value: "other", Type: "xsd:string"}},
		},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	id, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc == nil || rpc.SetParameterValues == nil {
		t.Fatalf("expected key-fixing SPV, got %v", rpc)
	}
	pl := rpc.SetParameterValues.ParameterList
	if len(pl) != 1 || pl[0].Name != "IF.3.Name" || pl[0].Value != "wan0" {
		t.Fatalf("SPV %+v", pl)
	}

	if f := ctx.RpcResponse(bg, id, &CpeResponse{
		SetParameterValuesResponse: &SetParameterValuesResponse{Status: 0},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}

	_, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil || rpc != nil {
		t.Fatalf("expected session end, got rpc=%v fault=%v", rpc, fault)
	}
}

// Scenario: download timeout surfaces a timeout fault and reverts
// the Download parameter.
func TestDownloadTimeout(t *testing.T) {
	ctx := newTestSession(t)
	started := testTimestamp - int64(ctx.Config.DownloadTimeout)*1000 - 1

	seedLeaf(ctx, "Downloads.1.LastDownload", started, ValueType{Value: "123", Type: "xsd:dateTime"}, 0)
	seedLeaf(ctx, "Downloads.1.Download", started, ValueType{Value: "999", Type: "xsd:dateTime"}, 0)
	ctx.Operations["ck1"] = &Operation{
		Kind:       "Download",
		CommandKey: "ck1",
		Timestamp:  started,
		Instance:   "Downloads.1",
		FileType:   "1 Firmware Upgrade Image",
		FileName:   "fw.bin",
	}

	faults := ctx.TimeoutOperations()
	if len(faults) != 1 || faults[0].Code != "timeout" {
		t.Fatalf("faults: %v", faults)
	}
	if _, have := ctx.Operations["ck1"]; have {
		t.Fatal("operation should be removed")
	}
	if v := valueAt(t, ctx, "Downloads.1.Download"); v.Value != "123" {
		t.Fatalf("Download should revert to LastDownload: %+v", v)
	}
}

func TestDownloadSuccessOnTimeout(t *testing.T) {
	ctx := newTestSession(t)
	ctx.Config.DownloadSuccessOnTimeout = true
	started := testTimestamp - int64(ctx.Config.DownloadTimeout)*1000 - 1

	ctx.Operations["ck1"] = &Operation{
		Kind:       "Download",
		CommandKey: "ck1",
		Timestamp:  started,
		Instance:   "Downloads.1",
		FileType:   "1 Firmware Upgrade Image",
		FileName:   "fw.bin",
	}

	if faults := ctx.TimeoutOperations(); len(faults) != 0 {
		t.Fatalf("faults: %v", faults)
	}
	if _, have := ctx.Operations["ck1"]; have {
		t.Fatal("operation should be resolved")
	}
	if v := valueAt(t, ctx, "Downloads.1.LastFileName"); v.Value != "fw.bin" {
		t.Fatalf("LastFileName: %+v", v)
	}
}

// Scenario: recoverable 9005.
func TestRecoverable9005(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	seedLeaf(ctx, "Foo.Bar", 1, ValueType{Value: "x", Type: "xsd:string"}, 0)

	decls := []*Declaration{{
		Path:    mustParsePath("Foo.Bar"),
		AttrGet: map[Attr]int64{AttrValue: testTimestamp},
	}}

	id, rpc, fault, err := ctx.RpcRequest(bg, decls)
	if err != nil || fault != nil || rpc == nil || rpc.GetParameterValues == nil {
		t.Fatalf("expected GPV, got rpc=%v fault=%v err=%v", rpc, fault, err)
	}

	if f := ctx.RpcFault(bg, id, &CpeFault{FaultCode: "9005", FaultString: "Invalid name"}); f != nil {
		t.Fatalf("9005 must be recoverable, got %v", f)
	}

	ip := ctx.Device.Paths.Get(mustParsePath("Foo.Bar"))
	if attrs, have := ctx.Device.Attributes.Get(ip); have && attrs != nil && attrs.Value != nil {
		t.Fatal("Foo.Bar should be invalidated")
	}

	// The next request either replans or terminates.
	_, rpc, fault, err = ctx.RpcRequest(bg, nil)
	if err != nil || fault != nil {
		t.Fatalf("fault=%v err=%v", fault, err)
	}
	if rpc != nil && rpc.GetParameterNames == nil {
		t.Fatalf("replanned request should rediscover, got %s", rpc.Name())
	}
}

func TestNonRecoverableFault(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	seedLeaf(ctx, "Foo.Bar", 1, ValueType{Value: "x", Type: "xsd:string"}, 0)

	decls := []*Declaration{{
		Path:    mustParsePath("Foo.Bar"),
		AttrGet: map[Attr]int64{AttrValue: testTimestamp},
	}}
	id, _, _, _ := ctx.RpcRequest(bg, decls)

	f := ctx.RpcFault(bg, id, &CpeFault{FaultCode: "9002", FaultString: "Internal error"})
	if f == nil || f.Code != "cwmp.9002" {
		t.Fatalf("fault: %v", f)
	}
}

func TestRpcIdMismatch(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	seedLeaf(ctx, "Foo.Bar", 1, ValueType{Value: "x", Type: "xsd:string"}, 0)
	decls := []*Declaration{{
		Path:    mustParsePath("Foo.Bar"),
		AttrGet: map[Attr]int64{AttrValue: testTimestamp},
	}}
	if _, rpc, _, _ := ctx.RpcRequest(bg, decls); rpc == nil {
		t.Fatal("expected a request")
	}

	f := ctx.RpcResponse(bg, "bogus", &CpeResponse{
		GetParameterValuesResponse: &GetParameterValuesResponse{},
	})
	if f == nil || f.Code != "invalid_response" {
		t.Fatalf("fault: %v", f)
	}
}

func TestQuotaFaults(t *testing.T) {
	bg := context.Background()

	ctx := newTestSession(t)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"A.B"}}})
	ctx.RpcCount = ctx.Config.MaxRpcCount
	if _, _, fault, _ := ctx.RpcRequest(bg, nil); fault != ErrTooManyRpcs {
		t.Fatalf("fault: %v", fault)
	}

	ctx = newTestSession(t)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"A.B"}}})
	ctx.Revisions = make([]int, 9)
	if _, _, fault, _ := ctx.RpcRequest(bg, nil); fault != ErrDeeplyNestedVparams {
		t.Fatalf("fault: %v", fault)
	}

	ctx = newTestSession(t)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"A.B"}}})
	ctx.Cycle = 255
	if _, _, fault, _ := ctx.RpcRequest(bg, nil); fault != ErrTooManyCycles {
		t.Fatalf("fault: %v", fault)
	}

	ctx = newTestSession(t)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"A.B"}}})
	ctx.Iteration = ctx.maxIterationsPerCycle() * (ctx.Cycle + 1)
	if _, _, fault, _ := ctx.RpcRequest(bg, nil); fault != ErrTooManyCommits {
		t.Fatalf("fault: %v", fault)
	}
}

func TestAddProvisionsIdempotent(t *testing.T) {
	ctx := newTestSession(t)
	p := Provision{Name: "refresh", Args: []interface{}{"A.B"}}

	ctx.AddProvisions("boot", []Provision{p})
	ctx.AddProvisions("boot", []Provision{p})

	if len(ctx.Provisions) != 1 {
		t.Fatalf("provisions: %v", ctx.Provisions)
	}
	if ctx.Channels["boot"] != 1 {
		t.Fatalf("channels: %v", ctx.Channels)
	}

	// A second channel carrying the same provision shares the bit.
	ctx.AddProvisions("periodic", []Provision{p})
	if len(ctx.Provisions) != 1 || ctx.Channels["periodic"] != 1 {
		t.Fatalf("provisions=%v channels=%v", ctx.Provisions, ctx.Channels)
	}
}

func TestClearProvisions(t *testing.T) {
	ctx := newTestSession(t)
	ctx.AddProvisions("boot", []Provision{{Name: "refresh", Args: []interface{}{"A.B"}}})
	ctx.ExtensionsCache["1:x"] = "y"

	ctx.ClearProvisions()

	if len(ctx.Provisions) != 0 || len(ctx.Channels) != 0 || len(ctx.ExtensionsCache) != 0 {
		t.Fatalf("state not cleared: %v %v %v", ctx.Provisions, ctx.Channels, ctx.ExtensionsCache)
	}
	if ctx.SyncState != nil || ctx.Revisions != nil {
		t.Fatal("ephemeral state not cleared")
	}
}

func TestRevisionsAgree(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	informBootstrap(ctx)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"X.Y"}}})

	id, rpc, _, _ := ctx.RpcRequest(bg, nil)
	if rpc == nil {
		t.Fatal("expected a request")
	}
	if ctx.Device.Timestamps.Revision != ctx.Device.Attributes.Revision {
		t.Fatalf("revisions diverged: %d vs %d",
			ctx.Device.Timestamps.Revision, ctx.Device.Attributes.Revision)
	}
	ctx.RpcResponse(bg, id, &CpeResponse{
		GetParameterNamesResponse: &GetParameterNamesResponse{},
	})
	if ctx.Device.Timestamps.Revision != ctx.Device.Attributes.Revision {
		t.Fatal("revisions diverged after response")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	bg := context.Background()
	ctx := newTestSession(t)
	informBootstrap(ctx)
	ctx.AddProvisions("default", []Provision{{Name: "refresh", Args: []interface{}{"InternetGatewayDevice.DeviceInfo.SoftwareVersion"}}})

	// Serialize mid-flight, with a request outstanding.
	if _, rpc, _, _ := ctx.RpcRequest(bg, nil); rpc == nil {
		t.Fatal("expected a request")
	}

	s1, err := ctx.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	ctx2, err := Deserialize(s1, ctx.Config, nil, &fakeCache{})
	if err != nil {
		t.Fatal(err)
	}

	s2, err := ctx2.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("serialize/deserialize is not the identity:\n%s\n%s", s1, s2)
	}

	if v := valueAt(t, ctx2, "DeviceID.Manufacturer"); v.Value != "M" {
		t.Fatalf("device data lost: %+v", v)
	}
	if len(ctx2.Provisions) != 1 || ctx2.Channels["default"] != 1 {
		t.Fatalf("provisions lost: %v %v", ctx2.Provisions, ctx2.Channels)
	}
	if ctx2.RpcRequest == nil || ctx2.RpcRequest.GetParameterNames == nil {
		t.Fatal("in-flight request lost")
	}

	// The restored session can finish the turn.
	id := ctx2.GenerateRpcId()
	ctx2.RpcRequest.Id = id
	if f := ctx2.RpcResponse(bg, id, &CpeResponse{
		GetParameterNamesResponse: &GetParameterNamesResponse{},
	}); f != nil {
		t.Fatalf("response fault: %v", f)
	}
}
