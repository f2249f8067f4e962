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

package localcache

import (
	"context"
	"fmt"
	"sort"

	"github.com/tr069/sessionengine/core"
)

// Mem is an in-memory core.LocalCache and script provider, for tests
// and for hosts that manage their own persistence.
type Mem struct {
	Config            map[string]*core.Config
	Provisions        map[string]string
	VirtualParameters map[string]string
	PresetList        []*Preset
}

// NewMem makes an empty Mem.
func NewMem() *Mem {
	return &Mem{
		Config:            map[string]*core.Config{},
		Provisions:        map[string]string{},
		VirtualParameters: map[string]string{},
	}
}

// GetConfig implements core.LocalCache.
func (m *Mem) GetConfig(ctx context.Context, deviceId string) (*core.Config, error) {
	if cfg, have := m.Config[deviceId]; have {
		return cfg, nil
	}
	if cfg, have := m.Config[defaultConfigKey]; have {
		return cfg, nil
	}
	return core.DefaultConfig(), nil
}

// GetProvisionNames implements core.LocalCache.
func (m *Mem) GetProvisionNames(ctx context.Context) ([]string, error) {
	return sortedNames(m.Provisions), nil
}

// GetVirtualParameterNames implements core.LocalCache.
func (m *Mem) GetVirtualParameterNames(ctx context.Context) ([]string, error) {
	return sortedNames(m.VirtualParameters), nil
}

// GetProvisionScript implements the sandbox's script provider.
func (m *Mem) GetProvisionScript(ctx context.Context, name string) (string, error) {
	src, have := m.Provisions[name]
	if !have {
		return "", fmt.Errorf("no script %q", name)
	}
	return src, nil
}

// GetVirtualParameterScript implements the sandbox's script provider.
func (m *Mem) GetVirtualParameterScript(ctx context.Context, name string) (string, error) {
	src, have := m.VirtualParameters[name]
	if !have {
		return "", fmt.Errorf("no script %q", name)
	}
	return src, nil
}

// Presets returns the stored presets, weight-ordered.
func (m *Mem) Presets() ([]*Preset, error) {
	acc := append([]*Preset(nil), m.PresetList...)
	sortPresets(acc)
	return acc, nil
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
