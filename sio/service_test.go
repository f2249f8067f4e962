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

package sio

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tr069/sessionengine/core"
	"github.com/tr069/sessionengine/localcache"
)

func informMessage(deviceId string) *Message {
	req := &core.InformRequest{Event: []string{"2 PERIODIC"}}
	req.DeviceId.Manufacturer = "M"
	req.DeviceId.OUI = "000000"
	req.DeviceId.ProductClass = "P"
	req.DeviceId.SerialNumber = "S"
	return &Message{Inform: &InformMessage{
		DeviceId:    deviceId,
		CwmpVersion: "1.0",
		Timeout:     30000,
		Request:     req,
	}}
}

func TestServiceInformNoWork(t *testing.T) {
	s := NewService(localcache.NewMem(), nil)
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	outs, err := s.Handle(context.Background(), informMessage("dev1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 2 {
		t.Fatalf("outs: %d", len(outs))
	}
	if outs[0].InformResponse == nil || outs[0].InformResponse.MaxEnvelopes != 1 {
		t.Fatalf("inform response: %+v", outs[0])
	}
	if outs[1].Done == nil || outs[1].Done.DeviceId != "dev1" {
		t.Fatalf("expected done, got %+v", outs[1])
	}
}

func TestServiceProvisionsDriveRpcs(t *testing.T) {
	s := NewService(localcache.NewMem(), nil)
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	if _, err := s.Handle(ctx, informMessage("dev1")); err != nil {
		t.Fatal(err)
	}

	outs, err := s.Handle(ctx, &Message{Provisions: &ProvisionsMessage{
		DeviceId:   "dev1",
		Channel:    "boot",
		Provisions: []core.Provision{{Name: "refresh", Args: []interface{}{"Device.Info.Version"}}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Request == nil {
		t.Fatalf("expected a request, got %+v", outs)
	}
	req := outs[0].Request
	if req.Name != "GetParameterNames" || req.Body.GetParameterNames.ParameterPath != "Device." {
		t.Fatalf("request: %+v", req.Body.GetParameterNames)
	}

	outs, err = s.Handle(ctx, &Message{Response: &ResponseMessage{
		DeviceId: "dev1",
		Id:       req.Id,
		Body: &core.CpeResponse{
			GetParameterNamesResponse: &core.GetParameterNamesResponse{
				ParameterList: []core.ParameterInfo{
					{Name: "Device.", Object: true},
					{Name: "Device.Info.", Object: true},
					{Name: "Device.Info.Version", Object: false},
				},
			},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Request == nil || outs[0].Request.Name != "GetParameterValues" {
		t.Fatalf("expected GPV, got %+v", outs)
	}
}

func TestServicePresetsSeedProvisions(t *testing.T) {
	mem := localcache.NewMem()
	mem.PresetList = []*localcache.Preset{{
		Name:       "boot",
		Channel:    "bootstrap",
		Provisions: []core.Provision{{Name: "refresh", Args: []interface{}{"Device.Info.Version"}}},
	}}

	s := NewService(mem, nil)
	s.Presets = mem.Presets
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	outs, err := s.Handle(context.Background(), informMessage("dev1"))
	if err != nil {
		t.Fatal(err)
	}
	// Inform response, then the preset-driven discovery request.
	if len(outs) != 2 || outs[1].Request == nil || outs[1].Request.Name != "GetParameterNames" {
		t.Fatalf("outs: %+v", outs)
	}
}

func TestServiceUnknownDevice(t *testing.T) {
	s := NewService(localcache.NewMem(), nil)
	_, err := s.Handle(context.Background(), &Message{Response: &ResponseMessage{
		DeviceId: "ghost",
		Id:       "x",
		Body:     &core.CpeResponse{},
	}})
	if err == nil {
		t.Fatal("a response without a session should be an error")
	}
}

func TestStdioCoupling(t *testing.T) {
	s := NewService(localcache.NewMem(), nil)
	s.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	in := strings.NewReader(`{"inform":{"deviceId":"dev1","cwmpVersion":"1.0","timeout":30000,"request":{"Event":["2 PERIODIC"],"DeviceId":{"Manufacturer":"M","OUI":"000000","ProductClass":"P","SerialNumber":"S"}}}}` + "\n")
	var out bytes.Buffer

	c := &Stdio{Service: s, In: in, Out: &out}
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "informResponse") || !strings.Contains(out.String(), "done") {
		t.Fatalf("output: %s", out.String())
	}
}
