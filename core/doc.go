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

// Package core implements the CWMP session engine: the per-device
// state machine that drives a TR-069 ACS's interaction with a CPE.
//
// Given an inbound Inform, a set of provisions (scripts that declare
// desired state), and subsequent CPE responses, the engine computes
// and emits a stream of RPC requests that converge the device's data
// model toward the declared state, and assimilates responses back
// into an in-memory versioned data model (DeviceData).
//
// The package is organized leaf-first: Path/PathSet intern
// hierarchical parameter names, VersionedMap stacks per-key history by
// revision, InstanceSet tracks multi-instance object keys, DeviceData
// aggregates these into the device's observed state, the declaration
// processor (RunDeclarations) turns Declarations into a SyncState, the
// planner (GenerateGetRpcRequest/GenerateSetRpcRequest) turns a
// SyncState into the next RPC, and SessionContext drives the whole
// loop across RpcRequest/RpcResponse/RpcFault turns.
//
// The package does not touch the network, persistence, or the script
// sandbox directly: those are supplied by the host through the
// LocalCache and Sandbox interfaces.
package core
