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
	"fmt"
	"os"

	"github.com/tr069/sessionengine/core"

	"gopkg.in/yaml.v2"
)

// Document is the YAML import/export shape: everything a deployment
// wants seeded into the store in one file.
type Document struct {
	Config            map[string]*configDoc `yaml:"config,omitempty"`
	Provisions        map[string]string     `yaml:"provisions,omitempty"`
	VirtualParameters map[string]string     `yaml:"virtualParameters,omitempty"`
	Presets           []*Preset             `yaml:"presets,omitempty"`
}

// configDoc mirrors core.Config with the cwmp.* key spellings used
// in configuration files.
type configDoc struct {
	MaxCommitIterations      *int  `yaml:"maxCommitIterations,omitempty"`
	MaxRpcCount              *int  `yaml:"maxRpcCount,omitempty"`
	DownloadTimeout          *int  `yaml:"downloadTimeout,omitempty"`
	DownloadSuccessOnTimeout *bool `yaml:"downloadSuccessOnTimeout,omitempty"`
	GpvBatchSize             *int  `yaml:"gpvBatchSize,omitempty"`
	GpnNextLevel             *int  `yaml:"gpnNextLevel,omitempty"`
	SkipRootGpn              *bool `yaml:"skipRootGpn,omitempty"`
	SkipWritableCheck        *bool `yaml:"skipWritableCheck,omitempty"`
	DatetimeMilliseconds     *bool `yaml:"datetimeMilliseconds,omitempty"`
	BooleanLiteral           *bool `yaml:"booleanLiteral,omitempty"`
}

func (d *configDoc) overlay(cfg *core.Config) {
	if d.MaxCommitIterations != nil {
		cfg.MaxCommitIterations = *d.MaxCommitIterations
	}
	if d.MaxRpcCount != nil {
		cfg.MaxRpcCount = *d.MaxRpcCount
	}
	if d.DownloadTimeout != nil {
		cfg.DownloadTimeout = *d.DownloadTimeout
	}
	if d.DownloadSuccessOnTimeout != nil {
		cfg.DownloadSuccessOnTimeout = *d.DownloadSuccessOnTimeout
	}
	if d.GpvBatchSize != nil {
		cfg.GpvBatchSize = *d.GpvBatchSize
	}
	if d.GpnNextLevel != nil {
		cfg.GpnNextLevel = *d.GpnNextLevel
	}
	if d.SkipRootGpn != nil {
		cfg.SkipRootGpn = *d.SkipRootGpn
	}
	if d.SkipWritableCheck != nil {
		cfg.SkipWritableCheck = *d.SkipWritableCheck
	}
	if d.DatetimeMilliseconds != nil {
		cfg.DatetimeMilliseconds = *d.DatetimeMilliseconds
	}
	if d.BooleanLiteral != nil {
		cfg.BooleanLiteral = *d.BooleanLiteral
	}
}

// ImportYAML parses a Document and writes its contents into the
// store.
func (s *Store) ImportYAML(bs []byte) error {
	var doc Document
	if err := yaml.Unmarshal(bs, &doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}

	for deviceId, cd := range doc.Config {
		cfg := core.DefaultConfig()
		cd.overlay(cfg)
		if err := s.PutConfig(deviceId, cfg); err != nil {
			return err
		}
	}
	for name, src := range doc.Provisions {
		if err := s.PutProvision(name, src); err != nil {
			return err
		}
	}
	for name, src := range doc.VirtualParameters {
		if err := s.PutVirtualParameter(name, src); err != nil {
			return err
		}
	}
	for i, p := range doc.Presets {
		if p.Name == "" {
			return fmt.Errorf("preset %d has no name", i)
		}
		if err := s.PutPreset(p); err != nil {
			return err
		}
	}
	return nil
}

// ImportYAMLFile reads filename and imports it.
func (s *Store) ImportYAMLFile(filename string) error {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return s.ImportYAML(bs)
}
