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

import "testing"

func leafAttrs(ts int64, v ValueType) *Attributes {
	return &Attributes{
		Object: &TSValue[int]{Timestamp: ts, Value: 0},
		Value:  &TSValue[ValueType]{Timestamp: ts, Value: v},
	}
}

func TestDeviceSetMergesMonotonically(t *testing.T) {
	dd := NewDeviceData()
	p, _ := ParsePath("A.B")

	var toClear []ToClearEntry
	toClear = dd.Set(p, 100, leafAttrs(100, ValueType{Value: "x", Type: "xsd:string"}), toClear)
	toClear = dd.Set(p, 50, leafAttrs(50, ValueType{Value: "old", Type: "xsd:string"}), toClear)
	if len(toClear) != 0 {
		t.Fatalf("unexpected clears: %v", toClear)
	}

	ip := dd.Paths.Get(p)
	attrs, _ := dd.Attributes.Get(ip)
	if attrs.Value.Value.Value != "x" {
		t.Fatalf("older write should not win: %q", attrs.Value.Value.Value)
	}
	if ts, _ := dd.Timestamps.Get(ip); ts != 100 {
		t.Fatalf("timestamp should stay at 100, got %d", ts)
	}
}

func TestDeviceSetObjectFlipSchedulesClear(t *testing.T) {
	dd := NewDeviceData()
	p, _ := ParsePath("A.B")

	var toClear []ToClearEntry
	toClear = dd.Set(p, 100, &Attributes{Object: &TSValue[int]{Timestamp: 100, Value: 1}}, toClear)
	toClear = dd.Set(p, 200, &Attributes{Object: &TSValue[int]{Timestamp: 200, Value: 0}}, toClear)

	if len(toClear) != 1 {
		t.Fatalf("expected one pending clear, got %d", len(toClear))
	}
	if got := toClear[0].Path.String(); got != "A.B.*" {
		t.Fatalf("clear target %q", got)
	}
}

func TestDeviceClearTrackers(t *testing.T) {
	dd := NewDeviceData()
	p, _ := ParsePath("A.B")

	dd.Set(p, 100, leafAttrs(100, ValueType{Value: "x", Type: "xsd:string"}), nil)
	dd.Track(p, "prerequisite")

	dd.Clear(p, 100, nil, nil)
	if !dd.Changes["prerequisite"] {
		t.Fatal("clearing a tracked attribute should mark changes")
	}

	ip := dd.Paths.Get(p)
	attrs, _ := dd.Attributes.Get(ip)
	if attrs.Value != nil {
		t.Fatal("value should be cleared")
	}
}

func TestDeviceClearHonorsTimestamps(t *testing.T) {
	dd := NewDeviceData()
	p, _ := ParsePath("A.B")
	dd.Set(p, 100, leafAttrs(100, ValueType{Value: "x", Type: "xsd:string"}), nil)

	dd.Clear(p, 99, nil, nil)
	ip := dd.Paths.Get(p)
	attrs, _ := dd.Attributes.Get(ip)
	if attrs.Value == nil {
		t.Fatal("a clear below the attribute timestamp should not remove it")
	}
}

func TestGetAliasDeclarations(t *testing.T) {
	dd := NewDeviceData()
	for i, name := range []string{"wan0", "wan1"} {
		inst, _ := ParsePath("IF." + string(rune('1'+i)))
		dd.Set(inst, 100, &Attributes{Object: &TSValue[int]{Timestamp: 100, Value: 1}}, nil)
		leaf := inst.ConcatSegment(Segment{Name: "Name"})
		dd.Set(leaf, 100, leafAttrs(100, ValueType{Value: name, Type: "xsd:string"}), nil)
	}

	pat, _ := ParsePath("IF.[Name=wan1].Enable")
	decls := dd.GetAliasDeclarations(pat, 200, map[Attr]int64{AttrValue: 200})
	if len(decls) != 1 {
		t.Fatalf("expected one expansion, got %d", len(decls))
	}
	if got := decls[0].Path.String(); got != "IF.2.Enable" {
		t.Fatalf("expanded to %q", got)
	}
	if decls[0].Timestamp != 200 || decls[0].AttrTimestamps[AttrValue] != 200 {
		t.Fatalf("timestamps not carried: %+v", decls[0])
	}
}

func TestSanitizeParameterValue(t *testing.T) {
	if _, err := SanitizeParameterValue(ValueType{Value: "abc", Type: "xsd:int"}, "", false); err == nil {
		t.Fatal("non-numeric xsd:int should be rejected")
	}
	if _, err := SanitizeParameterValue(ValueType{Value: "x", Type: "xsd:float"}, "", false); err == nil {
		t.Fatal("unsupported xsd type should be rejected")
	}

	v, err := SanitizeParameterValue(ValueType{Value: "true", Type: "xsd:boolean"}, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Value != "1" {
		t.Fatalf("boolean should normalize to 1/0 form: %q", v.Value)
	}

	v, err = SanitizeParameterValue(ValueType{Value: "0", Type: "xsd:boolean"}, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if v.Value != "false" {
		t.Fatalf("boolean literal form: %q", v.Value)
	}

	// Lower-case spelling normalizes; see the datetime note in the
	// design doc.
	v, err = SanitizeParameterValue(ValueType{Value: "2026-01-01T00:00:00Z", Type: "xsd:datetime"}, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Type != "xsd:dateTime" {
		t.Fatalf("type %q", v.Type)
	}
}

func TestStripDateTimeMilliseconds(t *testing.T) {
	v := ValueType{Value: "2026-01-01T00:00:00.123Z", Type: "xsd:dateTime"}
	if got := StripDateTimeMilliseconds(v, false).Value; got != "2026-01-01T00:00:00Z" {
		t.Fatalf("stripped: %q", got)
	}
	if got := StripDateTimeMilliseconds(v, true).Value; got != v.Value {
		t.Fatalf("keep flag ignored: %q", got)
	}
}
