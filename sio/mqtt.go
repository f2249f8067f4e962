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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTCouplings serves the message protocol over an MQTT broker:
// inbound messages arrive on SubTopic, outbound messages are
// published to PubTopic.
type MQTTCouplings struct {
	Service *Service

	Client   mqtt.Client
	SubTopic string
	PubTopic string
	QoS      byte

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint
}

// MQTTOptions carries the subset of broker options the service
// needs; the flag spellings follow mosquitto_sub.
type MQTTOptions struct {
	Broker   string
	ClientId string
	UserName string
	Password string
	SubTopic string
	PubTopic string
	QoS      byte
}

// NewMQTTCouplings connects to the broker and subscribes.
func NewMQTTCouplings(s *Service, opts *MQTTOptions) (*MQTTCouplings, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	if opts.ClientId != "" {
		co.SetClientID(opts.ClientId)
	}
	if opts.UserName != "" {
		co.SetUsername(opts.UserName)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetKeepAlive(10 * time.Second)

	client := mqtt.NewClient(co)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", t.Error())
	}

	c := &MQTTCouplings{
		Service:  s,
		Client:   client,
		SubTopic: opts.SubTopic,
		PubTopic: opts.PubTopic,
		QoS:      opts.QoS,
		Quiesce:  100,
	}
	return c, nil
}

// Start subscribes and pumps messages until ctx is canceled.
func (c *MQTTCouplings) Start(ctx context.Context) error {
	handler := func(client mqtt.Client, m mqtt.Message) {
		outs, err := c.Service.HandleLine(ctx, m.Payload())
		if err != nil {
			log.Printf("mqtt message on %s: %v", m.Topic(), err)
			return
		}
		for _, out := range outs {
			bs, err := json.Marshal(out)
			if err != nil {
				log.Printf("mqtt marshal: %v", err)
				continue
			}
			if t := c.Client.Publish(c.PubTopic, c.QoS, false, bs); t.Wait() && t.Error() != nil {
				log.Printf("mqtt publish: %v", t.Error())
			}
		}
	}

	if t := c.Client.Subscribe(c.SubTopic, c.QoS, handler); t.Wait() && t.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", c.SubTopic, t.Error())
	}

	<-ctx.Done()
	c.Client.Disconnect(c.Quiesce)
	return ctx.Err()
}
