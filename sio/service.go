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

// Package sio couples the session engine to line-oriented transports:
// JSON messages over stdio, WebSockets, or MQTT. The wire here is the
// service protocol between the engine host and whatever terminates
// CWMP/HTTP; it is not the CWMP XML itself.
package sio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tr069/sessionengine/core"
	"github.com/tr069/sessionengine/localcache"
)

// Message is the service protocol envelope. Exactly one field is
// set.
type Message struct {
	Inform           *InformMessage           `json:"inform,omitempty"`
	Response         *ResponseMessage         `json:"response,omitempty"`
	Fault            *FaultMessage            `json:"fault,omitempty"`
	TransferComplete *TransferCompleteMessage `json:"transferComplete,omitempty"`
	Provisions       *ProvisionsMessage       `json:"provisions,omitempty"`
	Close            *CloseMessage            `json:"close,omitempty"`
}

type InformMessage struct {
	DeviceId    string              `json:"deviceId"`
	CwmpVersion string              `json:"cwmpVersion"`
	Timeout     int                 `json:"timeout"`
	New         bool                `json:"new,omitempty"`
	Request     *core.InformRequest `json:"request"`
}

type ResponseMessage struct {
	DeviceId string            `json:"deviceId"`
	Id       string            `json:"id"`
	Body     *core.CpeResponse `json:"body"`
}

type FaultMessage struct {
	DeviceId string         `json:"deviceId"`
	Id       string         `json:"id"`
	Body     *core.CpeFault `json:"body"`
}

type TransferCompleteMessage struct {
	DeviceId string                        `json:"deviceId"`
	Request  *core.TransferCompleteRequest `json:"request"`
}

type ProvisionsMessage struct {
	DeviceId   string           `json:"deviceId"`
	Channel    string           `json:"channel"`
	Provisions []core.Provision `json:"provisions"`
}

type CloseMessage struct {
	DeviceId string `json:"deviceId"`
}

// Out is an outbound service message.
type Out struct {
	InformResponse *core.InformResponse `json:"informResponse,omitempty"`
	Request        *OutRequest          `json:"request,omitempty"`
	Done           *CloseMessage        `json:"done,omitempty"`
	Fault          *OutFault            `json:"fault,omitempty"`
}

type OutRequest struct {
	DeviceId string           `json:"deviceId"`
	Id       string           `json:"id"`
	Name     string           `json:"name"`
	Body     *core.RpcRequest `json:"body"`
}

type OutFault struct {
	DeviceId string   `json:"deviceId"`
	Code     string   `json:"code"`
	Message  string   `json:"message,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Service drives one SessionContext per device over the message
// protocol. It is safe for concurrent use; each session is
// single-threaded behind its own lock.
type Service struct {
	Cache   core.LocalCache
	Sandbox core.Sandbox

	// Presets, if non-nil, supplies channel provisions applied to
	// every new session.
	Presets func() ([]*localcache.Preset, error)

	// Now is the time source, overridable in tests.
	Now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu  sync.Mutex
	ctx *core.SessionContext
}

// NewService makes a Service over the given collaborators.
func NewService(cache core.LocalCache, sandbox core.Sandbox) *Service {
	return &Service{
		Cache:    cache,
		Sandbox:  sandbox,
		Now:      time.Now,
		sessions: map[string]*session{},
	}
}

func (s *Service) session(deviceId string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[deviceId]
	if sess == nil {
		sess = &session{}
		s.sessions[deviceId] = sess
	}
	return sess
}

func (s *Service) drop(deviceId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, deviceId)
}

// Handle processes one inbound message and returns the outbound
// messages it produced.
func (s *Service) Handle(ctx context.Context, msg *Message) ([]*Out, error) {
	switch {
	case msg.Inform != nil:
		return s.handleInform(ctx, msg.Inform)
	case msg.Response != nil:
		return s.handleResponse(ctx, msg.Response)
	case msg.Fault != nil:
		return s.handleFault(ctx, msg.Fault)
	case msg.TransferComplete != nil:
		return s.handleTransferComplete(ctx, msg.TransferComplete)
	case msg.Provisions != nil:
		return s.handleProvisions(ctx, msg.Provisions)
	case msg.Close != nil:
		s.drop(msg.Close.DeviceId)
		return nil, nil
	default:
		return nil, fmt.Errorf("empty message")
	}
}

// HandleLine parses one JSON line and handles it.
func (s *Service) HandleLine(ctx context.Context, line []byte) ([]*Out, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return s.Handle(ctx, &msg)
}

func (s *Service) handleInform(ctx context.Context, m *InformMessage) ([]*Out, error) {
	cfg, err := s.Cache.GetConfig(ctx, m.DeviceId)
	if err != nil {
		return nil, err
	}

	sess := s.session(m.DeviceId)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.ctx = core.Init(m.DeviceId, m.CwmpVersion, m.Timeout, s.Now().UnixMilli(), cfg, s.Sandbox, s.Cache)
	sess.ctx.NewDevice = m.New
	resp := sess.ctx.Inform(m.Request)
	SessionsStarted.Inc()

	outs := []*Out{{InformResponse: resp}}

	// Presets seed each session's provisions by channel.
	if s.Presets != nil {
		presets, err := s.Presets()
		if err != nil {
			return nil, err
		}
		now := s.Now()
		for _, p := range localcache.DuePresets(presets, now.Add(-time.Duration(m.Timeout)*time.Millisecond), now) {
			sess.ctx.AddProvisions(p.Channel, p.Provisions)
		}
	}

	more, err := s.advanceLocked(ctx, m.DeviceId, sess)
	return append(outs, more...), err
}

func (s *Service) handleResponse(ctx context.Context, m *ResponseMessage) ([]*Out, error) {
	sess := s.session(m.DeviceId)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ctx == nil {
		return nil, fmt.Errorf("no session for %s", m.DeviceId)
	}
	if fault := sess.ctx.RpcResponse(ctx, m.Id, m.Body); fault != nil {
		Faults.WithLabelValues(fault.Code).Inc()
		return []*Out{faultOut(m.DeviceId, fault)}, nil
	}
	return s.advanceLocked(ctx, m.DeviceId, sess)
}

func (s *Service) handleFault(ctx context.Context, m *FaultMessage) ([]*Out, error) {
	sess := s.session(m.DeviceId)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ctx == nil {
		return nil, fmt.Errorf("no session for %s", m.DeviceId)
	}
	if fault := sess.ctx.RpcFault(ctx, m.Id, m.Body); fault != nil {
		Faults.WithLabelValues(fault.Code).Inc()
		return []*Out{faultOut(m.DeviceId, fault)}, nil
	}
	return s.advanceLocked(ctx, m.DeviceId, sess)
}

func (s *Service) handleTransferComplete(ctx context.Context, m *TransferCompleteMessage) ([]*Out, error) {
	sess := s.session(m.DeviceId)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ctx == nil {
		return nil, fmt.Errorf("no session for %s", m.DeviceId)
	}
	if fault := sess.ctx.TransferComplete(m.Request); fault != nil {
		Faults.WithLabelValues(fault.Code).Inc()
		return []*Out{faultOut(m.DeviceId, fault)}, nil
	}
	return nil, nil
}

func (s *Service) handleProvisions(ctx context.Context, m *ProvisionsMessage) ([]*Out, error) {
	sess := s.session(m.DeviceId)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ctx == nil {
		return nil, fmt.Errorf("no session for %s", m.DeviceId)
	}
	sess.ctx.AddProvisions(m.Channel, m.Provisions)
	return s.advanceLocked(ctx, m.DeviceId, sess)
}

// advanceLocked asks the driver for the next RPC (or completion).
func (s *Service) advanceLocked(ctx context.Context, deviceId string, sess *session) ([]*Out, error) {
	id, rpc, fault, err := sess.ctx.RpcRequest(ctx, nil)
	if err != nil {
		return nil, err
	}
	if fault != nil {
		Faults.WithLabelValues(fault.Code).Inc()
		return []*Out{faultOut(deviceId, fault)}, nil
	}
	if rpc == nil {
		return []*Out{{Done: &CloseMessage{DeviceId: deviceId}}}, nil
	}
	RpcsSent.WithLabelValues(rpc.Name()).Inc()
	return []*Out{{Request: &OutRequest{
		DeviceId: deviceId,
		Id:       id,
		Name:     rpc.Name(),
		Body:     rpc,
	}}}, nil
}

func faultOut(deviceId string, f *core.Fault) *Out {
	return &Out{Fault: &OutFault{
		DeviceId: deviceId,
		Code:     f.Code,
		Message:  f.Message,
		Channels: f.Channels,
	}}
}
