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
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreScripts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutProvision("wifi", `declare("X", 1);`); err != nil {
		t.Fatal(err)
	}
	if err := s.PutVirtualParameter("uptime", `return {value: 1};`); err != nil {
		t.Fatal(err)
	}

	names, err := s.GetProvisionNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "wifi" {
		t.Fatalf("names: %v", names)
	}

	src, err := s.GetProvisionScript(ctx, "wifi")
	if err != nil {
		t.Fatal(err)
	}
	if src != `declare("X", 1);` {
		t.Fatalf("script: %q", src)
	}

	if _, err := s.GetProvisionScript(ctx, "nope"); err == nil {
		t.Fatal("missing script should be an error")
	}

	vnames, err := s.GetVirtualParameterNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vnames) != 1 || vnames[0] != "uptime" {
		t.Fatalf("vnames: %v", vnames)
	}
}

func TestStoreConfigFallback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetConfig(ctx, "unknown-device")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GpvBatchSize != 16 {
		t.Fatalf("default config: %+v", cfg)
	}

	custom := *cfg
	custom.GpvBatchSize = 4
	if err := s.PutConfig("default", &custom); err != nil {
		t.Fatal(err)
	}
	cfg, err = s.GetConfig(ctx, "unknown-device")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GpvBatchSize != 4 {
		t.Fatalf("default entry should apply: %+v", cfg)
	}

	perDevice := custom
	perDevice.GpvBatchSize = 2
	if err := s.PutConfig("dev1", &perDevice); err != nil {
		t.Fatal(err)
	}
	cfg, err = s.GetConfig(ctx, "dev1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GpvBatchSize != 2 {
		t.Fatalf("device entry should win: %+v", cfg)
	}
}

func TestImportYAML(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := `
config:
  default:
    gpvBatchSize: 8
    skipRootGpn: true
provisions:
  wifi: |
    declare("Device.WiFi.", 1);
virtualParameters:
  uptime: |
    return {value: 1};
presets:
  - name: boot
    channel: bootstrap
    weight: 10
    provisions:
      - name: refresh
        args: ["InternetGatewayDevice.DeviceInfo."]
  - name: nightly
    channel: maintenance
    schedule: "0 3 * * *"
    provisions:
      - name: reboot
`
	if err := s.ImportYAML([]byte(doc)); err != nil {
		t.Fatal(err)
	}

	cfg, err := s.GetConfig(ctx, "any")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GpvBatchSize != 8 || !cfg.SkipRootGpn {
		t.Fatalf("config: %+v", cfg)
	}

	names, _ := s.GetProvisionNames(ctx)
	if len(names) != 1 || names[0] != "wifi" {
		t.Fatalf("provisions: %v", names)
	}

	presets, err := s.Presets()
	if err != nil {
		t.Fatal(err)
	}
	if len(presets) != 2 {
		t.Fatalf("presets: %v", presets)
	}
	// Weight order: nightly (0) before boot (10).
	if presets[0].Name != "nightly" || presets[1].Name != "boot" {
		t.Fatalf("preset order: %s, %s", presets[0].Name, presets[1].Name)
	}
}

func TestDuePresets(t *testing.T) {
	always := &Preset{Name: "always", Channel: "c"}
	nightly := &Preset{Name: "nightly", Channel: "c", Schedule: "0 3 * * *"}

	day := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)

	due := DuePresets([]*Preset{always, nightly}, day, day.Add(12*time.Hour))
	if len(due) != 2 {
		t.Fatalf("both should be due across 03:00: %v", due)
	}

	due = DuePresets([]*Preset{always, nightly}, day.Add(4*time.Hour), day.Add(5*time.Hour))
	if len(due) != 1 || due[0].Name != "always" {
		t.Fatalf("only the unscheduled preset should be due: %v", due)
	}
}

func TestMemProvider(t *testing.T) {
	m := NewMem()
	m.Provisions["a"] = "x"

	ctx := context.Background()
	if src, err := m.GetProvisionScript(ctx, "a"); err != nil || src != "x" {
		t.Fatalf("src=%q err=%v", src, err)
	}
	if _, err := m.GetProvisionScript(ctx, "b"); err == nil {
		t.Fatal("missing script should be an error")
	}
	if cfg, err := m.GetConfig(ctx, "dev"); err != nil || cfg.GpvBatchSize != 16 {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}
