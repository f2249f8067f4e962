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

import "fmt"

// Fault is the engine's error taxonomy: a short machine-readable
// Code the host can classify on, plus a human Message. Code values
// are used verbatim by hosts, so they are never altered in place —
// construct a new Fault instead of mutating one.
type Fault struct {
	Code    string
	Message string

	// Channels, if set, names the provision channels that
	// contributed the provision responsible for this fault, so the
	// host can record the failure against the right channels.
	Channels []string
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Code
	}
	return f.Code + ": " + f.Message
}

// CwmpFault wraps a CWMP fault code reported by the CPE.
func CwmpFault(code, message string) *Fault {
	return &Fault{Code: "cwmp." + code, Message: message}
}

// ScriptError wraps a named error thrown by a provision or virtual
// parameter script.
func ScriptError(name, message string) *Fault {
	code := "script"
	if name != "" {
		code = "script." + name
	}
	return &Fault{Code: code, Message: message}
}

// InvalidScriptReturn is used when a virtual parameter's returned
// shape fails validation.
func InvalidScriptReturn(message string) *Fault {
	return &Fault{Code: "script", Message: message}
}

// TimeoutFault is used when an operation (currently only Download)
// exceeds its deadline.
func TimeoutFault(message string) *Fault {
	return &Fault{Code: "timeout", Message: message}
}

// InvalidResponseFault is used when an RpcId doesn't match the
// in-flight request, or a response's RPC name doesn't match the
// request's.
func InvalidResponseFault(message string) *Fault {
	return &Fault{Code: "invalid_response", Message: message}
}

// Quota faults.
var (
	ErrTooManyRpcs         = &Fault{Code: "too_many_rpcs"}
	ErrDeeplyNestedVparams = &Fault{Code: "deeply_nested_vparams"}
	ErrTooManyCycles       = &Fault{Code: "too_many_cycles"}
	ErrTooManyCommits      = &Fault{Code: "too_many_commits"}
)

// IsRecoverable9005 reports whether f is the CPE's "invalid parameter
// name" fault, which the engine can recover from locally by
// invalidating the referenced parameters.
func IsRecoverable9005(f *Fault) bool {
	return f != nil && f.Code == "cwmp.9005"
}

func faultf(code, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}
