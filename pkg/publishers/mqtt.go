// Zaparoo Canvas
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Canvas.
//
// Zaparoo Canvas is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Canvas is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Canvas.  If not, see <http://www.gnu.org/licenses/>.

// Package publishers forwards snapshot changes to external systems.
package publishers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	StateSuffix        = "/state"
	AvailabilitySuffix = "/availability"
	payloadOnline      = "online"
	payloadOffline     = "offline"
	publishTimeout     = 10 * time.Second
	disconnectQuiesce  = 250
)

// MQTTPublisher publishes every device.updated notification as a retained
// JSON message on <topic>/state, and the daemon's availability on
// <topic>/availability.
type MQTTPublisher struct {
	client     mqtt.Client
	newClient  func(*mqtt.ClientOptions) mqtt.Client
	broker     string
	topic      string
	instanceID string
}

func NewMQTTPublisher(broker, topic, instanceID string) *MQTTPublisher {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	return &MQTTPublisher{
		broker:     broker,
		topic:      strings.TrimSuffix(topic, "/"),
		instanceID: instanceID,
		newClient:  mqtt.NewClient,
	}
}

func (p *MQTTPublisher) StateTopic() string {
	return p.topic + StateSuffix
}

func (p *MQTTPublisher) AvailabilityTopic() string {
	return p.topic + AvailabilitySuffix
}

func (p *MQTTPublisher) clientID() string {
	id := p.instanceID
	if len(id) > 8 {
		id = id[:8]
	}
	return "zaparoo-canvas-" + id
}

// Connect connects to the broker. The broker marks the daemon offline via
// the last will if the connection drops.
func (p *MQTTPublisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(p.clientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(p.AvailabilityTopic(), payloadOffline, 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
		c.Publish(p.AvailabilityTopic(), 1, true, payloadOnline)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Msgf("mqtt publisher: still connecting to %s, retrying in background", p.broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.Info().Msgf("mqtt publisher: publishing to %s", p.StateTopic())
	return nil
}

// Run forwards notifications until ctx is done or the channel closes.
func (p *MQTTPublisher) Run(ctx context.Context, notifications <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				log.Debug().Msg("mqtt publisher: notification channel closed")
				return
			}
			if notif.Method != models.NotificationDeviceUpdated || len(notif.Params) == 0 {
				continue
			}
			p.publish(notif.Params)
		}
	}
}

func (p *MQTTPublisher) publish(payload []byte) {
	token := p.client.Publish(p.StateTopic(), 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Msg("mqtt publisher: publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Msg("mqtt publisher: failed to publish snapshot")
		return
	}
	log.Debug().Msgf("mqtt publisher: published snapshot to %s", p.StateTopic())
}

// Stop marks the daemon offline and disconnects.
func (p *MQTTPublisher) Stop() {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(p.AvailabilityTopic(), 1, true, payloadOffline)
	token.WaitTimeout(time.Second)
	log.Debug().Msg("mqtt publisher: disconnecting")
	p.client.Disconnect(disconnectQuiesce)
}
