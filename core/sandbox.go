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

import "context"

// Sandbox is the script execution collaborator the engine delegates
// to for running provisions and virtual parameters.
// Implementations decide how a Name is resolved to code
// (user-authored, builtin, or otherwise) and how that code actually
// runs; the engine only depends on this interface.
type Sandbox interface {
	Run(ctx context.Context, req *ScriptRequest) (*ScriptResult, error)
}

// ScriptKind distinguishes the two things a Sandbox can be asked to run.
type ScriptKind int

const (
	ScriptProvision ScriptKind = iota
	ScriptVirtualParameter
)

// ScriptRequest describes one provision or virtual-parameter
// invocation.
type ScriptRequest struct {
	Kind Kind
	Name string
	Args []interface{}

	// Declarations are the Declarations this invocation should
	// consider (e.g. a virtual parameter's own declared attrGet
	// /attrSet), so the script can decide what to return.
	Declarations []*Declaration

	// Device gives the script read access to the current data
	// model; implementations are expected to provide a read-only
	// snapshot rather than the live DeviceData.
	Device *DeviceData

	StartRevision, EndRevision int
}

// Kind is an alias retained for readability at call sites
// (core.ScriptRequest{Kind: core.ScriptProvision, ...}).
type Kind = ScriptKind

// ClearRequest is one invalidation a script asked for.
type ClearRequest struct {
	Path      *Path
	Timestamp int64
}

// VpReturnValue is a virtual parameter's returnValue:
// Writable/Value are present iff the corresponding declaration
// requested them.
type VpReturnValue struct {
	Writable *bool
	Value    *ValueType
}

// ScriptResult is what running one provision or virtual parameter
// produces.
type ScriptResult struct {
	Fault *Fault

	// Clear lists invalidations the script asked for.
	Clear []ClearRequest

	// Declare lists new Declarations the script emitted.
	Declare []*Declaration

	// Done reports whether this script has finished (as opposed to
	// needing to run again on a future inception/iteration).
	Done bool

	// ReturnValue is set only for ScriptVirtualParameter requests
	// that completed without fault.
	ReturnValue *VpReturnValue
}
