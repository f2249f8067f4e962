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

// SyncState is the ephemeral plan computed by RunDeclarations from the
// current set of Declarations and DeviceData. It is regenerable at
// any time from those inputs, and the driver discards and recomputes
// it whenever provisions change or a "prerequisite" tracker fires.
type SyncState struct {
	// GPN holds paths queued for GetParameterNames, keyed by the
	// path's string form for deterministic ordering.
	GPN map[string]*GpnEntry

	// RefreshAttributes holds, per attribute kind, the entries whose
	// value for that attribute needs refreshing. Entries may be
	// wildcarded patterns; the planner expands them at drain time.
	RefreshAttributes map[Attr]map[string]RefreshEntry

	// RefreshExist holds leaf paths whose existence must be
	// re-confirmed (a targeted GetParameterNames for the exact
	// name), distinct from RefreshAttributes[AttrObject].
	RefreshExist map[string]RefreshEntry

	// SPV holds pending SetParameterValues entries.
	SPV map[string]spvEntry

	// SPA holds pending SetParameterAttributes entries.
	SPA map[string]*SpaUpdate

	// InstancesToCreate maps a multi-instance object's path string
	// to the alias key-sets that should be created under it.
	InstancesToCreate map[string][]InstanceKeys

	// InstancesToDelete holds instance paths (by string) slated for
	// DeleteObject.
	InstancesToDelete map[string]*Path

	// Tags holds pending Tags.<name> assignments.
	Tags map[string]tagEntry

	// DownloadsToCreate / DownloadsToDelete are the ACS-local
	// Downloads.{i} instances to create or drop; Downloads is
	// maintained by the ACS, so these never become RPCs.
	DownloadsToCreate []InstanceKeys
	DownloadsToDelete map[string]*Path

	// DownloadsDownload holds pending Downloads.{i}.Download
	// timestamps, keyed by the Downloads.{i} path string.
	DownloadsDownload map[string]downloadEntry

	// DownloadsValues holds pending non-Download Downloads.{i}.*
	// parameter sets, keyed by the full parameter path string.
	DownloadsValues map[string]downloadValueEntry

	// Reboot/FactoryReset, if non-nil, are the requested epoch-ms
	// timestamps at which those operations should be considered due.
	Reboot       *int64
	FactoryReset *int64

	// VirtualParameterDeclarations holds, per inception level, the
	// Declarations that should be fed to that level's virtual
	// parameter scripts.
	VirtualParameterDeclarations map[int][]*Declaration
}

// GpnEntry is one queued GetParameterNames: the concrete root to
// list, the declared timestamp that demanded it, and the declared
// patterns below it (used to estimate the reply cardinality).
type GpnEntry struct {
	Path      *Path
	Timestamp int64
	Patterns  []*Path
}

// RefreshEntry is one queued attribute refresh: the (possibly
// wildcarded) path and the declared timestamp it must meet.
type RefreshEntry struct {
	Path      *Path
	Timestamp int64
}

type spvEntry struct {
	Path  *Path
	Value ValueType
}

type SpaUpdate struct {
	Path         *Path
	Notification *int
	AccessList   *[]string
}

type tagEntry struct {
	Path  *Path
	Value bool
}

type downloadEntry struct {
	Path      *Path
	Timestamp int64
}

type downloadValueEntry struct {
	Path  *Path
	Value ValueType
}

// NewSyncState makes an empty SyncState with every map initialized.
func NewSyncState() *SyncState {
	return &SyncState{
		GPN: map[string]*GpnEntry{},
		RefreshAttributes: map[Attr]map[string]RefreshEntry{
			AttrObject: {}, AttrWritable: {}, AttrValue: {}, AttrNotification: {}, AttrAccessList: {},
		},
		RefreshExist:                 map[string]RefreshEntry{},
		SPV:                          map[string]spvEntry{},
		SPA:                          map[string]*SpaUpdate{},
		InstancesToCreate:            map[string][]InstanceKeys{},
		InstancesToDelete:            map[string]*Path{},
		Tags:                         map[string]tagEntry{},
		DownloadsToDelete:            map[string]*Path{},
		DownloadsDownload:            map[string]downloadEntry{},
		DownloadsValues:              map[string]downloadValueEntry{},
		VirtualParameterDeclarations: map[int][]*Declaration{},
	}
}

// queueGPN queues (or extends) a GetParameterNames for root, keeping
// the max declared timestamp and accumulating the patterns below it.
func (s *SyncState) queueGPN(root *Path, t int64, pattern *Path) {
	key := root.String()
	e := s.GPN[key]
	if e == nil {
		e = &GpnEntry{Path: root, Timestamp: t}
		s.GPN[key] = e
	}
	if t > e.Timestamp {
		e.Timestamp = t
	}
	for _, have := range e.Patterns {
		if have == pattern || have.String() == pattern.String() {
			return
		}
	}
	e.Patterns = append(e.Patterns, pattern)
}

// queueRefresh queues an attribute refresh, keeping the max declared
// timestamp per path.
func (s *SyncState) queueRefresh(kind Attr, p *Path, t int64) {
	m := s.RefreshAttributes[kind]
	if m == nil {
		m = map[string]RefreshEntry{}
		s.RefreshAttributes[kind] = m
	}
	key := p.String()
	if have, ok := m[key]; ok && have.Timestamp >= t {
		return
	}
	m[key] = RefreshEntry{Path: p, Timestamp: t}
}

func (s *SyncState) queueExist(p *Path, t int64) {
	key := p.String()
	if have, ok := s.RefreshExist[key]; ok && have.Timestamp >= t {
		return
	}
	s.RefreshExist[key] = RefreshEntry{Path: p, Timestamp: t}
}
