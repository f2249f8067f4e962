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

// Package goja implements core.Sandbox using Goja, a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
package goja

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tr069/sessionengine/core"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Run if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)

	// DefaultTimeout bounds a single script execution when the
	// caller's context carries no deadline.
	DefaultTimeout = 5 * time.Second
)

// ScriptProvider resolves a provision or virtual parameter name to
// its ECMAScript source.
type ScriptProvider interface {
	GetProvisionScript(ctx context.Context, name string) (string, error)
	GetVirtualParameterScript(ctx context.Context, name string) (string, error)
}

// Sandbox runs provision and virtual parameter scripts.
//
// A script declares desired state by calling declare(path, pathGet,
// attrGet, attrSet), requests invalidations with clear(path,
// timestamp), and reads its arguments from _.args. A virtual
// parameter script's return value becomes the parameter's
// {writable, value}.
type Sandbox struct {
	Provider ScriptProvider

	// Testing exposes sleep() to scripts.
	Testing bool
}

// NewSandbox makes a Sandbox over the given script provider.
func NewSandbox(p ScriptProvider) *Sandbox {
	return &Sandbox{Provider: p}
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// Run implements core.Sandbox.
func (s *Sandbox) Run(ctx context.Context, req *core.ScriptRequest) (*core.ScriptResult, error) {
	if s.Provider == nil {
		return nil, errors.New("no script provider")
	}

	var (
		src string
		err error
	)
	switch req.Kind {
	case core.ScriptProvision:
		src, err = s.Provider.GetProvisionScript(ctx, req.Name)
	case core.ScriptVirtualParameter:
		src, err = s.Provider.GetVirtualParameterScript(ctx, req.Name)
	default:
		return nil, fmt.Errorf("unknown script kind %d", req.Kind)
	}
	if err != nil {
		return nil, err
	}

	program, err := goja.Compile(req.Name, wrapSrc(src), true)
	if err != nil {
		return &core.ScriptResult{Fault: core.ScriptError("SyntaxError", err.Error())}, nil
	}

	result := &core.ScriptResult{Done: true}

	o := goja.New()

	env := map[string]interface{}{
		"name": req.Name,
		"args": req.Args,
	}
	o.Set("_", env)

	env["declare"] = func(call goja.FunctionCall) goja.Value {
		d, err := declarationFromCall(o, call)
		if err != nil {
			protest(o, err.Error())
		}
		result.Declare = append(result.Declare, d)
		return goja.Undefined()
	}

	env["clear"] = func(pathArg, tsArg goja.Value) goja.Value {
		p, err := core.ParsePath(pathArg.String())
		if err != nil {
			protest(o, err.Error())
		}
		ts := int64(tsArg.ToInteger())
		result.Clear = append(result.Clear, core.ClearRequest{Path: p, Timestamp: ts})
		return goja.Undefined()
	}

	// A script that needs another pass (e.g. it declared reads it
	// must see the results of) calls commit(false).
	env["commit"] = func(done goja.Value) goja.Value {
		if done != nil && !goja.IsUndefined(done) && !done.ToBoolean() {
			result.Done = false
		}
		return goja.Undefined()
	}

	env["log"] = func(x goja.Value) goja.Value {
		core.Logf("script %s: %s", req.Name, x.String())
		return goja.Undefined()
	}

	env["cronNext"] = func(x goja.Value) interface{} {
		c, err := cronexpr.Parse(x.String())
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	if s.Testing {
		env["sleep"] = func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}

	// Scripts call the engine functions bare; "_" carries the same
	// set plus name/args for introspection.
	for _, name := range []string{"declare", "clear", "commit", "log", "cronNext", "sleep"} {
		if f, have := env[name]; have {
			o.Set(name, f)
		}
	}

	timeout := DefaultTimeout
	if deadline, have := ctx.Deadline(); have {
		timeout = time.Until(deadline)
	}
	timer := time.AfterFunc(timeout, func() {
		o.Interrupt(InterruptedMessage)
	})
	defer timer.Stop()

	v, err := o.RunProgram(program)
	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return nil, Interrupted
		}
		if ex, is := err.(*goja.Exception); is {
			return &core.ScriptResult{Fault: core.ScriptError("Error", ex.Error())}, nil
		}
		return nil, err
	}

	if req.Kind == core.ScriptVirtualParameter && result.Done && result.Fault == nil {
		rv, err := vpReturnFromValue(v)
		if err != nil {
			return &core.ScriptResult{Fault: core.InvalidScriptReturn(err.Error())}, nil
		}
		result.ReturnValue = rv
	}

	return result, nil
}

// declarationFromCall parses declare(path, pathGet, attrGet, attrSet).
func declarationFromCall(o *goja.Runtime, call goja.FunctionCall) (*core.Declaration, error) {
	if len(call.Arguments) < 1 {
		return nil, errors.New("declare: missing path")
	}
	p, err := core.ParsePath(call.Argument(0).String())
	if err != nil {
		return nil, err
	}
	d := &core.Declaration{Path: p}

	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Argument(1)) && !goja.IsNull(call.Argument(1)) {
		t := int64(call.Argument(1).ToInteger())
		d.PathGet = &t
	}

	if len(call.Arguments) > 2 && !goja.IsUndefined(call.Argument(2)) && !goja.IsNull(call.Argument(2)) {
		m, is := call.Argument(2).Export().(map[string]interface{})
		if !is {
			return nil, errors.New("declare: attrGet is not an object")
		}
		d.AttrGet = map[core.Attr]int64{}
		for name, v := range m {
			kind, err := attrByName(name)
			if err != nil {
				return nil, err
			}
			t, ok := asInt64(v)
			if !ok {
				return nil, fmt.Errorf("declare: attrGet.%s is not a timestamp", name)
			}
			d.AttrGet[kind] = t
		}
	}

	if len(call.Arguments) > 3 && !goja.IsUndefined(call.Argument(3)) && !goja.IsNull(call.Argument(3)) {
		m, is := call.Argument(3).Export().(map[string]interface{})
		if !is {
			return nil, errors.New("declare: attrSet is not an object")
		}
		d.AttrSet = map[core.Attr]interface{}{}
		for name, v := range m {
			kind, err := attrByName(name)
			if err != nil {
				return nil, err
			}
			switch kind {
			case core.AttrValue:
				d.AttrSet[kind] = valueTypeFrom(v)
			case core.AttrNotification:
				n, ok := asInt64(v)
				if !ok {
					return nil, errors.New("declare: attrSet.notification is not a number")
				}
				d.AttrSet[kind] = int(n)
			case core.AttrAccessList:
				al, ok := asStringList(v)
				if !ok {
					return nil, errors.New("declare: attrSet.accessList is not a list of strings")
				}
				d.AttrSet[kind] = al
			default:
				return nil, fmt.Errorf("declare: attrSet.%s is not settable", name)
			}
		}
	}

	return d, nil
}

func attrByName(name string) (core.Attr, error) {
	for _, a := range core.AllAttrs {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown attribute %q", name)
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func asStringList(v interface{}) ([]string, bool) {
	l, is := v.([]interface{})
	if !is {
		return nil, false
	}
	out := make([]string, 0, len(l))
	for _, e := range l {
		s, is := e.(string)
		if !is {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// valueTypeFrom normalizes a script value to the engine's (literal,
// xsdType) form: numbers become xsd:int, booleans xsd:boolean, Date
// values xsd:dateTime, everything else xsd:string. A two-element
// [value, type] array passes the type through.
func valueTypeFrom(v interface{}) core.ValueType {
	switch vv := v.(type) {
	case []interface{}:
		if len(vv) == 2 {
			if t, is := vv[1].(string); is {
				return core.ValueType{Value: literalOf(vv[0]), Type: t}
			}
		}
		return core.ValueType{Value: literalOf(v), Type: "xsd:string"}
	case bool:
		if vv {
			return core.ValueType{Value: "true", Type: "xsd:boolean"}
		}
		return core.ValueType{Value: "false", Type: "xsd:boolean"}
	case int64:
		return core.ValueType{Value: strconv.FormatInt(vv, 10), Type: "xsd:int"}
	case float64:
		return core.ValueType{Value: strconv.FormatInt(int64(vv), 10), Type: "xsd:int"}
	case time.Time:
		return core.ValueType{Value: vv.UTC().Format(time.RFC3339), Type: "xsd:dateTime"}
	case string:
		return core.ValueType{Value: vv, Type: "xsd:string"}
	default:
		return core.ValueType{Value: fmt.Sprintf("%v", v), Type: "xsd:string"}
	}
}

func literalOf(v interface{}) string {
	switch vv := v.(type) {
	case string:
		return vv
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatInt(int64(vv), 10)
	case bool:
		if vv {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// vpReturnFromValue validates a virtual parameter script's return
// value: an object with optional writable and value properties.
func vpReturnFromValue(v goja.Value) (*core.VpReturnValue, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	m, is := v.Export().(map[string]interface{})
	if !is {
		return nil, fmt.Errorf("virtual parameter returned a %T, not an object", v.Export())
	}
	rv := &core.VpReturnValue{}
	if w, have := m["writable"]; have {
		b, is := w.(bool)
		if !is {
			return nil, errors.New("virtual parameter writable is not a boolean")
		}
		rv.Writable = &b
	}
	if val, have := m["value"]; have {
		vt := valueTypeFrom(val)
		rv.Value = &vt
	}
	return rv, nil
}
