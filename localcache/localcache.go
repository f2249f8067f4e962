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

// Package localcache persists the session engine's provisions,
// virtual parameters, presets, and configuration in a bbolt database.
//
// The engine itself only reads through core.LocalCache; the write
// side here serves the import tooling and the service layer.
package localcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tr069/sessionengine/core"

	"github.com/gorhill/cronexpr"
	bolt "go.etcd.io/bbolt"
)

var (
	configBucket            = []byte("config")
	provisionsBucket        = []byte("provisions")
	virtualParametersBucket = []byte("virtualParameters")
	presetsBucket           = []byte("presets")
)

// defaultConfigKey is the config entry used when a device has no
// entry of its own.
const defaultConfigKey = "default"

// Preset binds a channel to provisions, optionally gated by a cron
// schedule and a device-tag precondition.
type Preset struct {
	Name       string           `json:"name" yaml:"name"`
	Channel    string           `json:"channel" yaml:"channel"`
	Weight     int              `json:"weight" yaml:"weight"`
	Schedule   string           `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Tag        string           `json:"tag,omitempty" yaml:"tag,omitempty"`
	Provisions []core.Provision `json:"provisions" yaml:"provisions"`
}

// Store is a bbolt-backed core.LocalCache and script provider.
type Store struct {
	db *bolt.DB
}

// Open opens (creating as needed) the store at filename.
func Open(filename string) (*Store, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{configBucket, provisionsBucket, virtualParametersBucket, presetsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetConfig returns the device's config overlaid on the defaults; a
// device without its own entry falls back to the "default" entry, and
// with no entries at all core.DefaultConfig applies.
func (s *Store) GetConfig(ctx context.Context, deviceId string) (*core.Config, error) {
	cfg := core.DefaultConfig()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(configBucket)
		bs := b.Get([]byte(deviceId))
		if bs == nil {
			bs = b.Get([]byte(defaultConfigKey))
		}
		if bs == nil {
			return nil
		}
		return json.Unmarshal(bs, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// PutConfig stores a config under deviceId (or "default").
func (s *Store) PutConfig(deviceId string, cfg *core.Config) error {
	bs, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(configBucket).Put([]byte(deviceId), bs)
	})
}

func (s *Store) names(bucket []byte) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) script(bucket []byte, name string) (string, error) {
	var src []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		src = tx.Bucket(bucket).Get([]byte(name))
		return nil
	})
	if err != nil {
		return "", err
	}
	if src == nil {
		return "", fmt.Errorf("no script %q", name)
	}
	return string(src), nil
}

// GetProvisionNames implements core.LocalCache.
func (s *Store) GetProvisionNames(ctx context.Context) ([]string, error) {
	return s.names(provisionsBucket)
}

// GetVirtualParameterNames implements core.LocalCache.
func (s *Store) GetVirtualParameterNames(ctx context.Context) ([]string, error) {
	return s.names(virtualParametersBucket)
}

// GetProvisionScript returns a provision's source.
func (s *Store) GetProvisionScript(ctx context.Context, name string) (string, error) {
	return s.script(provisionsBucket, name)
}

// GetVirtualParameterScript returns a virtual parameter's source.
func (s *Store) GetVirtualParameterScript(ctx context.Context, name string) (string, error) {
	return s.script(virtualParametersBucket, name)
}

// PutProvision stores a provision script.
func (s *Store) PutProvision(name, src string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(provisionsBucket).Put([]byte(name), []byte(src))
	})
}

// PutVirtualParameter stores a virtual parameter script.
func (s *Store) PutVirtualParameter(name, src string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(virtualParametersBucket).Put([]byte(name), []byte(src))
	})
}

// PutPreset stores a preset.
func (s *Store) PutPreset(p *Preset) error {
	bs, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(presetsBucket).Put([]byte(p.Name), bs)
	})
}

// Presets returns every stored preset, weight-ordered (then by name).
func (s *Store) Presets() ([]*Preset, error) {
	var acc []*Preset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(presetsBucket).ForEach(func(k, v []byte) error {
			p := &Preset{}
			if err := json.Unmarshal(v, p); err != nil {
				return fmt.Errorf("preset %s: %w", k, err)
			}
			acc = append(acc, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortPresets(acc)
	return acc, nil
}

func sortPresets(ps []*Preset) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Weight != ps[j].Weight {
			return ps[i].Weight < ps[j].Weight
		}
		return ps[i].Name < ps[j].Name
	})
}

// DuePresets filters presets to those whose cron schedule fires in
// (from, to]. A preset without a schedule is always due.
func DuePresets(ps []*Preset, from, to time.Time) []*Preset {
	var due []*Preset
	for _, p := range ps {
		if p.Schedule == "" {
			due = append(due, p)
			continue
		}
		expr, err := cronexpr.Parse(p.Schedule)
		if err != nil {
			core.Logf("preset %s: bad schedule %q: %v", p.Name, p.Schedule, err)
			continue
		}
		next := expr.Next(from)
		if !next.IsZero() && !next.After(to) {
			due = append(due, p)
		}
	}
	return due
}
