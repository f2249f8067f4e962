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

func TestInstanceSet(t *testing.T) {
	is := NewInstanceSet()
	is.Add(InstanceKeys{"Name": "wan0"})
	is.Add(InstanceKeys{"Name": "wan0"}) // duplicate
	is.Add(InstanceKeys{"Name": "wan1", "Type": "PPP"})

	if is.Len() != 2 {
		t.Fatalf("expected 2 instances, got %d", is.Len())
	}

	sup := is.Superset(InstanceKeys{"Name": "wan1"})
	if len(sup) != 1 || sup[0]["Type"] != "PPP" {
		t.Fatalf("superset: %v", sup)
	}

	sub := is.Subset(InstanceKeys{"Name": "wan0", "Extra": "x"})
	if len(sub) != 1 || sub[0]["Name"] != "wan0" {
		t.Fatalf("subset: %v", sub)
	}

	if _, have := is.Find(InstanceKeys{"Name": "wan1", "Type": "PPP"}); !have {
		t.Fatal("Find should locate an identical key-map")
	}
	if _, have := is.Find(InstanceKeys{"Name": "wan9"}); have {
		t.Fatal("Find should not invent instances")
	}
}
