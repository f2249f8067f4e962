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

func TestParsePathRoundTrip(t *testing.T) {
	for _, s := range []string{
		"",
		"InternetGatewayDevice.DeviceInfo.SoftwareVersion",
		"IF.3.Name",
		"IF.*.Name",
		"Downloads.[FileName=fw.bin,FileType=1 Firmware Upgrade Image]",
	} {
		p, err := ParsePath(s)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.String(); got != s {
			t.Fatalf("round trip %q -> %q", s, got)
		}
	}
}

func TestParsePathMasks(t *testing.T) {
	p, err := ParsePath("A.*.B.[X=1]")
	if err != nil {
		t.Fatal(err)
	}
	if !p.HasWildcardAt(1) || p.HasWildcardAt(0) || p.HasWildcardAt(2) {
		t.Fatalf("wildcard mask wrong: %v", p)
	}
	if !p.HasAliasAt(3) || p.HasAliasAt(2) {
		t.Fatalf("alias mask wrong: %v", p)
	}
	if p.IsConcrete() {
		t.Fatal("should not be concrete")
	}
	if c, _ := ParsePath("A.2.B"); !c.IsConcrete() {
		t.Fatal("A.2.B should be concrete")
	}
}

func TestParsePathBadAlias(t *testing.T) {
	if _, err := ParsePath("A.[]"); err == nil {
		t.Fatal("empty alias should not parse")
	}
	if _, err := ParsePath("A.[Name]"); err == nil {
		t.Fatal("alias term without '=' should not parse")
	}
}

func TestPathSliceConcat(t *testing.T) {
	p, _ := ParsePath("A.B.C")
	if got := p.Slice(0, 2).String(); got != "A.B" {
		t.Fatalf("slice: %q", got)
	}
	q, _ := ParsePath("D.E")
	if got := p.Concat(q).String(); got != "A.B.C.D.E" {
		t.Fatalf("concat: %q", got)
	}
	if got := p.ConcatSegment(Segment{Wildcard: true}).String(); got != "A.B.C.*" {
		t.Fatalf("concat segment: %q", got)
	}
}

func TestLessExactBeforeWildcard(t *testing.T) {
	a, _ := ParsePath("A.B")
	b, _ := ParsePath("A.*")
	if !Less(a, b) || Less(b, a) {
		t.Fatal("exact segments must sort before wildcards")
	}
	c, _ := ParsePath("A")
	if !Less(c, a) {
		t.Fatal("prefix must sort before extension")
	}
}

func TestPathSetInterning(t *testing.T) {
	ps := NewPathSet()
	p1, _ := ParsePath("A.B.C")
	p2, _ := ParsePath("A.B.C")

	i1 := ps.Add(p1)
	i2 := ps.Add(p2)
	if i1 != i2 {
		t.Fatal("interning should make equal paths pointer-equal")
	}
	if got := ps.Get(p1); got != i1 {
		t.Fatal("Get should return the interned path")
	}
	if other, _ := ParsePath("A.B.D"); ps.Get(other) != nil {
		t.Fatal("Get of an unknown path should be nil")
	}
}

func TestPathSetFindSubset(t *testing.T) {
	ps := NewPathSet()
	for _, s := range []string{"IF.1", "IF.2", "IF.1.Name", "IF.2.Name", "IF.Other"} {
		p, _ := ParsePath(s)
		ps.Add(p)
	}

	pat, _ := ParsePath("IF.*")
	got := ps.Find(pat, false, true, 2)
	if len(got) != 3 {
		t.Fatalf("IF.* depth 2 matched %d paths", len(got))
	}

	pat, _ = ParsePath("IF.*.Name")
	got = ps.Find(pat, false, true, 0)
	if len(got) != 2 {
		t.Fatalf("IF.*.Name matched %d paths", len(got))
	}
}
