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

// versionEntry is one (revision, value) history entry for a key.
type versionEntry[V any] struct {
	Revision int
	Value    V
}

// VersionedMap is a mapping K -> V where every write is tagged with
// the Revision in effect at the time of the write. Reads can look back
// at the history up to a given revision, and Collapse can discard
// history above a revision, folding it into a single entry.
//
// Revision is write-only from the caller's perspective: the caller
// bumps it before a batch of writes so that a later Collapse can
// distinguish "committed" history from "in flight" history.
type VersionedMap[K comparable, V any] struct {
	Revision int

	entries map[K][]versionEntry[V]
}

// NewVersionedMap makes an empty VersionedMap.
func NewVersionedMap[K comparable, V any]() *VersionedMap[K, V] {
	return &VersionedMap[K, V]{entries: make(map[K][]versionEntry[V], 64)}
}

// Set appends (or overwrites, if the current revision already has an
// entry for k) a value at the map's current Revision.
func (m *VersionedMap[K, V]) Set(k K, v V) {
	hist := m.entries[k]
	if n := len(hist); n > 0 && hist[n-1].Revision == m.Revision {
		hist[n-1].Value = v
		return
	}
	m.entries[k] = append(hist, versionEntry[V]{Revision: m.Revision, Value: v})
}

// Get returns the most recent value for k visible at the map's
// current Revision, i.e. the last entry with Revision <= m.Revision.
func (m *VersionedMap[K, V]) Get(k K) (V, bool) {
	return m.GetAt(k, m.Revision)
}

// GetAt returns the most recent value for k visible at maxRevision.
func (m *VersionedMap[K, V]) GetAt(k K, maxRevision int) (V, bool) {
	hist := m.entries[k]
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Revision <= maxRevision {
			return hist[i].Value, true
		}
	}
	var zero V
	return zero, false
}

// Delete removes all history for k.
func (m *VersionedMap[K, V]) Delete(k K) {
	delete(m.entries, k)
}

// Has reports whether k has any visible value at the current revision.
func (m *VersionedMap[K, V]) Has(k K) bool {
	_, have := m.Get(k)
	return have
}

// Keys returns every key with at least one history entry (regardless
// of revision visibility).
func (m *VersionedMap[K, V]) Keys() []K {
	acc := make([]K, 0, len(m.entries))
	for k := range m.entries {
		acc = append(acc, k)
	}
	return acc
}

// Collapse keeps history entries with Revision <= r and folds the
// entries with Revision > r into one entry at revision r that carries
// the value of the newest of them.
//
// Must only be called when no concurrent reader is relying on
// revisions greater than r; within a single SessionContext this holds
// trivially because the engine is single-threaded per session.
func (m *VersionedMap[K, V]) Collapse(r int) {
	for k, hist := range m.entries {
		var kept []versionEntry[V]
		var newest *versionEntry[V]
		for i := range hist {
			if hist[i].Revision <= r {
				kept = append(kept, hist[i])
			} else if newest == nil || hist[i].Revision > newest.Revision {
				e := hist[i]
				newest = &e
			}
		}
		if newest != nil {
			kept = append(kept, versionEntry[V]{Revision: r, Value: newest.Value})
		}
		if len(kept) == 0 {
			delete(m.entries, k)
		} else {
			m.entries[k] = kept
		}
	}
	if m.Revision < r {
		m.Revision = r
	}
}

// GetRevisions returns the full (revision, value) history for k, for
// serialization.
func (m *VersionedMap[K, V]) GetRevisions(k K) []versionEntry[V] {
	hist := m.entries[k]
	out := make([]versionEntry[V], len(hist))
	copy(out, hist)
	return out
}

// SetRevisions replaces the full history for k, for deserialization.
func (m *VersionedMap[K, V]) SetRevisions(k K, hist []versionEntry[V]) {
	if len(hist) == 0 {
		delete(m.entries, k)
		return
	}
	cp := make([]versionEntry[V], len(hist))
	copy(cp, hist)
	m.entries[k] = cp
}
