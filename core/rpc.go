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

// This file defines the outbound RPC vocabulary and the inbound CPE
// message shapes the engine exchanges with its host. These are
// payload shapes, not wire encodings: XML (de)serialization is an
// external collaborator.

// GetParameterNames requests the names (and optionally writable/object
// status) of parameters under ParameterPath.
type GetParameterNames struct {
	ParameterPath string
	NextLevel     bool
}

// GetParameterValues requests the current value of each named parameter.
type GetParameterValues struct {
	ParameterNames []string
}

// GetParameterAttributes requests notification/accessList for each
// named parameter.
type GetParameterAttributes struct {
	ParameterNames []string
}

// ParameterValue is one (name, value, type) triple.
type ParameterValue struct {
	Name  string
	Value string
	Type  string
}

// SetParameterValues requests that the CPE set each listed parameter.
type SetParameterValues struct {
	ParameterList        []ParameterValue
	DatetimeMilliseconds bool
	BooleanLiteral       bool
}

// ParameterAttributeSet is one entry in a SetParameterAttributes
// request. NotificationSet/AccessListSet indicate which of the two
// optional fields should actually be applied.
type ParameterAttributeSet struct {
	Name            string
	Notification    int
	NotificationSet bool
	AccessList      []string
	AccessListSet   bool
}

// SetParameterAttributes requests attribute changes for each listed
// parameter.
type SetParameterAttributes struct {
	ParameterList []ParameterAttributeSet
}

// AddObject requests creation of a new instance under ObjectName, and
// optionally declares the continuation the engine should run once the
// CPE replies (used to set alias keys on the new instance).
type AddObject struct {
	ObjectName     string
	InstanceValues map[string]string
	Next           string
}

// DeleteObject requests removal of the named instance.
type DeleteObject struct {
	ObjectName string
}

// Download requests a file transfer.
type Download struct {
	CommandKey     string
	Instance       string
	FileType       string
	FileName       string
	TargetFileName string
}

// Reboot requests a device restart.
type Reboot struct {
	CommandKey string
}

// FactoryReset requests a factory reset.
type FactoryReset struct{}

// RpcRequest is a tagged union over the outbound RPC vocabulary. Name
// reports which field is populated.
type RpcRequest struct {
	Id string

	GetParameterNames      *GetParameterNames
	GetParameterValues     *GetParameterValues
	GetParameterAttributes *GetParameterAttributes
	SetParameterValues     *SetParameterValues
	SetParameterAttributes *SetParameterAttributes
	AddObject              *AddObject
	DeleteObject           *DeleteObject
	Download               *Download
	Reboot                 *Reboot
	FactoryReset           *FactoryReset

	// continuation carries engine-internal bookkeeping about what to
	// do with the eventual response; it is not part of the wire
	// payload and is never serialized directly (see serialize.go).
	continuation *continuation
}

// Name returns the RPC method name for logging/dispatch.
func (r *RpcRequest) Name() string {
	switch {
	case r == nil:
		return ""
	case r.GetParameterNames != nil:
		return "GetParameterNames"
	case r.GetParameterValues != nil:
		return "GetParameterValues"
	case r.GetParameterAttributes != nil:
		return "GetParameterAttributes"
	case r.SetParameterValues != nil:
		return "SetParameterValues"
	case r.SetParameterAttributes != nil:
		return "SetParameterAttributes"
	case r.AddObject != nil:
		return "AddObject"
	case r.DeleteObject != nil:
		return "DeleteObject"
	case r.Download != nil:
		return "Download"
	case r.Reboot != nil:
		return "Reboot"
	case r.FactoryReset != nil:
		return "FactoryReset"
	default:
		return ""
	}
}

// continuation kind tags.
const (
	nextGetInstanceKeys = "getInstanceKeys"
	nextSetInstanceKeys = "setInstanceKeys"
)

// continuation is attached to an in-flight RpcRequest to tell
// RpcResponse what follow-up work (if any) to synthesize once the CPE
// replies (the AddObject instance-key handshake).
type continuation struct {
	kind         string
	objectPath   *Path
	aliasKeys    map[string]string // desired key -> literal
	instancePath *Path             // filled in once the instance number is known
}

// ParameterInfo is one entry of a GetParameterNamesResponse.
type ParameterInfo struct {
	Name     string
	Writable bool
	Object   bool
}

// ParameterAttribute is one entry of a GetParameterAttributesResponse.
type ParameterAttribute struct {
	Name         string
	Notification int
	AccessList   []string
}

// CpeResponse is a tagged union over CPE replies to the outbound RPC
// vocabulary.
type CpeResponse struct {
	GetParameterNamesResponse      *GetParameterNamesResponse
	GetParameterValuesResponse     *GetParameterValuesResponse
	GetParameterAttributesResponse *GetParameterAttributesResponse
	SetParameterValuesResponse     *SetParameterValuesResponse
	SetParameterAttributesResponse *SetParameterAttributesResponse
	AddObjectResponse              *AddObjectResponse
	DeleteObjectResponse           *DeleteObjectResponse
	RebootResponse                 *RebootResponse
	FactoryResetResponse           *FactoryResetResponse
	DownloadResponse               *DownloadResponse
}

type GetParameterNamesResponse struct {
	ParameterList []ParameterInfo
}

type GetParameterValuesResponse struct {
	ParameterList []ParameterValue
}

type GetParameterAttributesResponse struct {
	ParameterList []ParameterAttribute
}

type SetParameterValuesResponse struct {
	Status int
}

type SetParameterAttributesResponse struct{}

type AddObjectResponse struct {
	InstanceNumber int
	Status         int
}

type DeleteObjectResponse struct {
	Status int
}

type RebootResponse struct{}

type FactoryResetResponse struct{}

type DownloadResponse struct {
	Status       int
	StartTime    string
	CompleteTime string
}

// CpeFault is a CWMP fault returned by the CPE in lieu of a normal
// response.
type CpeFault struct {
	FaultCode      string
	FaultString    string
	SetValueFaults []SetValueFault
}

// SetValueFault names one parameter that a SetParameterValues fault
// complained about.
type SetValueFault struct {
	ParameterName string
	FaultCode     string
	FaultString   string
}

// InformRequest is the CPE-initiated RPC that opens a CWMP session.
type InformRequest struct {
	DeviceId struct {
		Manufacturer string
		OUI          string
		ProductClass string
		SerialNumber string
	}
	Event         []string
	ParameterList []ParameterValue
	Retry         bool
}

// InformResponse acknowledges an Inform.
type InformResponse struct {
	MaxEnvelopes int
}

// TransferCompleteRequest is the CPE-initiated RPC reporting the
// outcome of a previously requested Download.
type TransferCompleteRequest struct {
	CommandKey   string
	FaultCode    string
	FaultString  string
	StartTime    string
	CompleteTime string
}
