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

// InstanceKeys is a single instance's alias key-map, e.g.
// {"Name": "wan0"} for an "[Name=wan0]" alias expression.
type InstanceKeys map[string]string

// Equal reports whether two key-maps have identical entries.
func (k InstanceKeys) Equal(other InstanceKeys) bool {
	if len(k) != len(other) {
		return false
	}
	for key, v := range k {
		if ov, have := other[key]; !have || ov != v {
			return false
		}
	}
	return true
}

// Superset reports whether k contains every entry of other (k ⊇ other).
func (k InstanceKeys) Superset(other InstanceKeys) bool {
	for key, v := range other {
		if kv, have := k[key]; !have || kv != v {
			return false
		}
	}
	return true
}

// Subset reports whether every entry of k is present in other (k ⊆ other).
func (k InstanceKeys) Subset(other InstanceKeys) bool {
	return other.Superset(k)
}

func (k InstanceKeys) Copy() InstanceKeys {
	acc := make(InstanceKeys, len(k))
	for key, v := range k {
		acc[key] = v
	}
	return acc
}

// InstanceSet is a set of instance key-maps, used by the planner to
// reconcile declared min/max cardinality and alias targeting against
// currently observed children of a multi-instance object.
type InstanceSet struct {
	instances []InstanceKeys
}

// NewInstanceSet makes an empty InstanceSet.
func NewInstanceSet() *InstanceSet {
	return &InstanceSet{}
}

// Add stores keys, unless an identical key-map is already present.
func (is *InstanceSet) Add(keys InstanceKeys) {
	for _, have := range is.instances {
		if have.Equal(keys) {
			return
		}
	}
	is.instances = append(is.instances, keys.Copy())
}

// All returns every stored key-map.
func (is *InstanceSet) All() []InstanceKeys {
	return is.instances
}

// Len is the number of distinct instances stored.
func (is *InstanceSet) Len() int {
	return len(is.instances)
}

// Superset returns instances whose keys are supersets of the given
// keys, i.e. instances that keys could identify.
func (is *InstanceSet) Superset(keys InstanceKeys) []InstanceKeys {
	var acc []InstanceKeys
	for _, have := range is.instances {
		if have.Superset(keys) {
			acc = append(acc, have)
		}
	}
	return acc
}

// Subset returns instances whose keys are subsets of the given keys.
func (is *InstanceSet) Subset(keys InstanceKeys) []InstanceKeys {
	var acc []InstanceKeys
	for _, have := range is.instances {
		if have.Subset(keys) {
			acc = append(acc, have)
		}
	}
	return acc
}

// Find returns the stored key-map, if any, identical to keys.
func (is *InstanceSet) Find(keys InstanceKeys) (InstanceKeys, bool) {
	for _, have := range is.instances {
		if have.Equal(keys) {
			return have, true
		}
	}
	return nil, false
}
