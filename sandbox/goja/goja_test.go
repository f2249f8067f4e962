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

package goja

import (
	"context"
	"testing"

	"github.com/tr069/sessionengine/core"
	"github.com/tr069/sessionengine/localcache"
)

func TestProvisionDeclare(t *testing.T) {
	mem := localcache.NewMem()
	mem.Provisions["myrefresh"] = `
declare("Device.Test", 5, {value: 5});
declare("Device.Other", null, null, {value: "x"});
`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptProvision,
		Name: "myrefresh",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault != nil {
		t.Fatalf("fault: %v", res.Fault)
	}
	if !res.Done {
		t.Fatal("script should be done")
	}
	if len(res.Declare) != 2 {
		t.Fatalf("declarations: %d", len(res.Declare))
	}

	d := res.Declare[0]
	if d.Path.String() != "Device.Test" || d.PathGet == nil || *d.PathGet != 5 {
		t.Fatalf("declaration 0: %+v", d)
	}
	if d.AttrGet[core.AttrValue] != 5 {
		t.Fatalf("attrGet: %+v", d.AttrGet)
	}

	d = res.Declare[1]
	vt, is := d.AttrSet[core.AttrValue].(core.ValueType)
	if !is || vt.Value != "x" || vt.Type != "xsd:string" {
		t.Fatalf("attrSet: %+v", d.AttrSet)
	}
}

func TestProvisionCommitNotDone(t *testing.T) {
	mem := localcache.NewMem()
	mem.Provisions["twopass"] = `commit(false);`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptProvision,
		Name: "twopass",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Done {
		t.Fatal("commit(false) should leave the script not done")
	}
}

func TestProvisionThrowBecomesFault(t *testing.T) {
	mem := localcache.NewMem()
	mem.Provisions["bad"] = `throw new Error("boom");`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptProvision,
		Name: "bad",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault == nil || res.Fault.Code != "script.Error" {
		t.Fatalf("fault: %v", res.Fault)
	}
}

func TestProvisionSyntaxError(t *testing.T) {
	mem := localcache.NewMem()
	mem.Provisions["bad"] = `this is not javascript`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptProvision,
		Name: "bad",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault == nil || res.Fault.Code != "script.SyntaxError" {
		t.Fatalf("fault: %v", res.Fault)
	}
}

func TestVirtualParameterReturn(t *testing.T) {
	mem := localcache.NewMem()
	mem.VirtualParameters["uptime"] = `return {writable: false, value: 42};`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptVirtualParameter,
		Name: "uptime",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault != nil {
		t.Fatalf("fault: %v", res.Fault)
	}
	rv := res.ReturnValue
	if rv == nil || rv.Writable == nil || *rv.Writable || rv.Value == nil {
		t.Fatalf("return value: %+v", rv)
	}
	if rv.Value.Value != "42" || rv.Value.Type != "xsd:int" {
		t.Fatalf("value: %+v", rv.Value)
	}
}

func TestVirtualParameterBadReturn(t *testing.T) {
	mem := localcache.NewMem()
	mem.VirtualParameters["bad"] = `return 42;`
	s := NewSandbox(mem)

	res, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptVirtualParameter,
		Name: "bad",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fault == nil || res.Fault.Code != "script" {
		t.Fatalf("fault: %v", res.Fault)
	}
}

func TestUnknownScript(t *testing.T) {
	s := NewSandbox(localcache.NewMem())
	if _, err := s.Run(context.Background(), &core.ScriptRequest{
		Kind: core.ScriptProvision,
		Name: "nope",
	}); err == nil {
		t.Fatal("unknown script should be an error")
	}
}
