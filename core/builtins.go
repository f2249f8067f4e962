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
	"strconv"
	"strings"
)

// Builtin provisions: named default provisions the engine runs
// directly when no user-authored script shadows the name. Each is a
// pure declaration generator; all real work happens in the planner.

// builtinProvision returns the generator for a default provision
// name, or nil.
func builtinProvision(name string) func(args []interface{}, now int64) ([]*Declaration, error) {
	switch name {
	case "refresh":
		return builtinRefresh
	case "value":
		return builtinValue
	case "tag":
		return builtinTag
	case "reboot":
		return builtinReboot
	case "reset":
		return builtinReset
	case "download":
		return builtinDownload
	case "instances":
		return builtinInstances
	default:
		return nil
	}
}

func argString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d is not a string", i)
	}
	return s, nil
}

// builtinRefresh declares that a path (possibly wildcarded) and its
// identity, writability, and value must have been read no earlier
// than now minus the optional age (seconds).
func builtinRefresh(args []interface{}, now int64) ([]*Declaration, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	t := now
	if len(args) > 1 {
		if age, ok := toFloat(args[1]); ok {
			t = now - int64(age*1000)
		}
	}
	p, err := ParsePath(s)
	if err != nil {
		return nil, err
	}
	pg := t
	return []*Declaration{{
		Path:    p,
		PathGet: &pg,
		AttrGet: map[Attr]int64{AttrObject: t, AttrWritable: t, AttrValue: t},
	}}, nil
}

// builtinValue declares a desired parameter value.
func builtinValue(args []interface{}, now int64) ([]*Declaration, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	val, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	p, err := ParsePath(s)
	if err != nil {
		return nil, err
	}
	pg := int64(1)
	return []*Declaration{{
		Path:    p,
		PathGet: &pg,
		AttrGet: map[Attr]int64{AttrValue: 1},
		AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: val}},
	}}, nil
}

// builtinTag sets or clears an ACS-local tag.
func builtinTag(args []interface{}, now int64) ([]*Declaration, error) {
	name, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	on := true
	if len(args) > 1 {
		switch v := args[1].(type) {
		case bool:
			on = v
		case string:
			on = v == "true" || v == "1"
		}
	}
	p, err := ParsePath("Tags." + name)
	if err != nil {
		return nil, err
	}
	lit := "false"
	if on {
		lit = "true"
	}
	return []*Declaration{{
		Path:    p,
		AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: lit, Type: "xsd:boolean"}},
	}}, nil
}

// builtinReboot declares that the device must have rebooted no
// earlier than the session start.
func builtinReboot(args []interface{}, now int64) ([]*Declaration, error) {
	return []*Declaration{{
		Path:    mustParsePath("Reboot"),
		AttrGet: map[Attr]int64{AttrValue: 1},
		AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: strconv.FormatInt(now, 10), Type: "xsd:dateTime"}},
	}}, nil
}

// builtinReset declares a factory reset.
func builtinReset(args []interface{}, now int64) ([]*Declaration, error) {
	return []*Declaration{{
		Path:    mustParsePath("FactoryReset"),
		AttrGet: map[Attr]int64{AttrValue: 1},
		AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: strconv.FormatInt(now, 10), Type: "xsd:dateTime"}},
	}}, nil
}

// builtinDownload declares a Downloads.[FileType=..,FileName=..]
// instance whose Download timestamp must be at least the session
// start, creating the instance as needed.
func builtinDownload(args []interface{}, now int64) ([]*Declaration, error) {
	fileType, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	fileName, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	targetFileName := ""
	if len(args) > 2 {
		targetFileName, _ = argString(args, 2)
	}

	alias := Segment{Alias: []AliasTerm{
		{Subpath: "FileName", Literal: fileName},
		{Subpath: "FileType", Literal: fileType},
	}}
	inst := NewPath(Segment{Name: "Downloads"}, alias)

	card := PathCardinality{Min: 1, Max: 1}
	pg := int64(1)
	decls := []*Declaration{
		{Path: inst, PathGet: &pg, PathSet: &card},
		{
			Path:    inst.ConcatSegment(Segment{Name: "Download"}),
			AttrGet: map[Attr]int64{AttrValue: 1},
			AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: strconv.FormatInt(now, 10), Type: "xsd:dateTime"}},
		},
	}
	if targetFileName != "" {
		decls = append(decls, &Declaration{
			Path:    inst.ConcatSegment(Segment{Name: "TargetFileName"}),
			AttrGet: map[Attr]int64{AttrValue: 1},
			AttrSet: map[Attr]interface{}{AttrValue: ValueType{Value: targetFileName, Type: "xsd:string"}},
		})
	}
	return decls, nil
}

// builtinInstances declares a cardinality for a multi-instance
// object: an absolute count, or "+n"/"-n" relative to the currently
// observed children.
func builtinInstances(args []interface{}, now int64) ([]*Declaration, error) {
	s, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	spec := ""
	if len(args) > 1 {
		switch v := args[1].(type) {
		case string:
			spec = v
		case int:
			spec = strconv.Itoa(v)
		case float64:
			spec = strconv.Itoa(int(v))
		}
	}
	p, err := ParsePath(s)
	if err != nil {
		return nil, err
	}
	if p.Len() == 0 || !(p.Segments[p.Len()-1].Wildcard || p.Segments[p.Len()-1].isAlias()) {
		p = p.ConcatSegment(Segment{Wildcard: true})
	}

	card := PathCardinality{}
	if strings.HasPrefix(spec, "+") || strings.HasPrefix(spec, "-") {
		n, err := strconv.Atoi(spec)
		if err != nil {
			return nil, fmt.Errorf("bad instances count %q", spec)
		}
		// Relative counts resolve against observed children at
		// declaration-processing time; encode as a delta.
		card.Min = n
		card.Max = n
		pg := int64(1)
		return []*Declaration{{Path: p, PathGet: &pg, PathSet: &card, relativeCardinality: true}}, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return nil, fmt.Errorf("bad instances count %q", spec)
	}
	card.Min = n
	card.Max = n
	pg := int64(1)
	return []*Declaration{{Path: p, PathGet: &pg, PathSet: &card}}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
