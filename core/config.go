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

// Config holds the cwmp.* configuration surface consumed via
// LocalCache.GetConfig. Zero values are replaced by DefaultConfig's
// values where that makes sense; callers that load Config from a
// store should start from DefaultConfig() and overlay.
type Config struct {
	// MaxCommitIterations caps commit iterations per cycle; the
	// effective iteration budget is MaxCommitIterations*2 (read +
	// update phases).
	MaxCommitIterations int

	// MaxRpcCount caps the number of RPCs emitted per session.
	MaxRpcCount int

	// DownloadTimeout is the number of seconds before a pending
	// Download operation faults.
	DownloadTimeout int

	// DownloadSuccessOnTimeout, when true, synthesizes a successful
	// TransferComplete instead of faulting on Download timeout.
	DownloadSuccessOnTimeout bool

	// GpvBatchSize caps parameters per GPV/SPV/GPA/SPA request.
	GpvBatchSize int

	// GpnNextLevel is the depth threshold for GPN: below it GPN
	// always uses nextLevel=true; at or above it nextLevel is chosen
	// from the estimated reply size.
	GpnNextLevel int

	// SkipRootGpn suppresses root-level GPNs. The suppression applies
	// on every iteration, not only the first.
	SkipRootGpn bool

	// SkipWritableCheck bypasses writable checks on sets/deletes.
	SkipWritableCheck bool

	// DatetimeMilliseconds preserves milliseconds in xsd:dateTime on SPV.
	DatetimeMilliseconds bool

	// BooleanLiteral emits booleans as true/false instead of 1/0.
	BooleanLiteral bool
}

// DefaultConfig returns the engine's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxCommitIterations:      4,
		MaxRpcCount:              64,
		DownloadTimeout:          3600,
		DownloadSuccessOnTimeout: false,
		GpvBatchSize:             16,
		GpnNextLevel:             3,
		SkipRootGpn:              false,
		SkipWritableCheck:        false,
		DatetimeMilliseconds:     false,
		BooleanLiteral:           false,
	}
}

// LocalCache is the engine's persistence/configuration collaborator
// it is never mutated by the engine, only read. Persistence
// of provisions, virtual parameters, and config lives entirely behind
// this interface.
type LocalCache interface {
	// GetConfig returns the effective Config for deviceId.
	GetConfig(ctx context.Context, deviceId string) (*Config, error)

	// GetProvisionNames returns the names of provisions that have a
	// user-authored script (as opposed to only a builtin).
	GetProvisionNames(ctx context.Context) ([]string, error)

	// GetVirtualParameterNames returns every known virtual parameter
	// name, so the planner can expand "VirtualParameters.*"
	// declarations.
	GetVirtualParameterNames(ctx context.Context) ([]string, error)
}
