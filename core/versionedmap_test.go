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

func TestVersionedMapVisibility(t *testing.T) {
	m := NewVersionedMap[string, int]()

	m.Set("a", 1)
	m.Revision = 1
	m.Set("a", 2)
	m.Revision = 2
	m.Set("a", 3)

	if v, _ := m.Get("a"); v != 3 {
		t.Fatalf("current value %d", v)
	}
	if v, _ := m.GetAt("a", 1); v != 2 {
		t.Fatalf("value at revision 1: %d", v)
	}
	if v, _ := m.GetAt("a", 0); v != 1 {
		t.Fatalf("value at revision 0: %d", v)
	}

	// A write at the same revision overwrites in place.
	m.Set("a", 4)
	if hist := m.GetRevisions("a"); len(hist) != 3 {
		t.Fatalf("history length %d", len(hist))
	}
}

func TestVersionedMapCollapse(t *testing.T) {
	m := NewVersionedMap[string, int]()
	m.Set("a", 1)
	m.Revision = 1
	m.Set("a", 2)
	m.Revision = 2
	m.Set("a", 3)

	m.Collapse(0)
	if v, _ := m.GetAt("a", 0); v != 3 {
		t.Fatalf("collapse should re-stamp the newest value: got %d", v)
	}
	if hist := m.GetRevisions("a"); len(hist) != 2 {
		// The original revision-0 entry plus the folded one.
		t.Fatalf("history length after collapse: %d", len(hist))
	}
}

func TestVersionedMapRevisionsRoundTrip(t *testing.T) {
	m := NewVersionedMap[string, int]()
	m.Set("a", 1)
	m.Revision = 3
	m.Set("a", 9)

	hist := m.GetRevisions("a")

	n := NewVersionedMap[string, int]()
	n.SetRevisions("a", hist)
	n.Revision = 3
	if v, _ := n.Get("a"); v != 9 {
		t.Fatalf("round trip: %d", v)
	}
	if v, _ := n.GetAt("a", 0); v != 1 {
		t.Fatalf("round trip at 0: %d", v)
	}
}
