// Zaparoo TCD Core
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo TCD Core.
//
// Zaparoo TCD Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo TCD Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo TCD Core.  If not, see <http://www.gnu.org/licenses/>.


// Package mqttbridge connects the time circuits to an MQTT broker:
// commands come in on <topic>/cmd, time events go out on <topic>/event
// and a retained status document on <topic>/status.
package mqttbridge

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/timesync"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientIDPrefix = "tcd-"
	connectTimeout = 10 * time.Second
	queueSize      = 32
)

// ClientFactory creates the paho client; tests swap in a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

func DefaultClientFactory(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

type outgoing struct {
	topic    string
	payload  []byte
	retained bool
}

type Bridge struct {
	client  mqtt.Client
	factory ClientFactory
	creds   *config.CredentialEntry
	handler func(Command)
	queue   chan outgoing
	stopCh  chan struct{}
	broker  string
	topic   string
	wg      sync.WaitGroup
}

// New returns a bridge for cfg. handler gets every valid command and is
// called from the MQTT client's goroutine.
func New(cfg config.MQTT, creds *config.CredentialEntry, handler func(Command)) *Bridge {
	return &Bridge{
		factory: DefaultClientFactory,
		creds:   creds,
		handler: handler,
		broker:  cfg.Broker,
		topic:   strings.TrimSuffix(cfg.Topic, "/"),
		queue:   make(chan outgoing, queueSize),
		stopCh:  make(chan struct{}),
	}
}

func (b *Bridge) SetClientFactory(f ClientFactory) {
	b.factory = f
}

func (b *Bridge) CommandTopic() string { return b.topic + "/cmd" }
func (b *Bridge) EventTopic() string   { return b.topic + "/event" }
func (b *Bridge) StatusTopic() string  { return b.topic + "/status" }

// brokerURL turns the configured broker into the scheme paho expects;
// mqtts and ssl mean TLS.
func brokerURL(broker string) (string, bool) {
	scheme, rest, ok := strings.Cut(broker, "://")
	if !ok {
		return "tcp://" + broker, false
	}
	switch strings.ToLower(scheme) {
	case "mqtts", "ssl", "tls":
		return "ssl://" + rest, true
	case "ws", "wss":
		return broker, false
	default:
		return "tcp://" + rest, false
	}
}

func (b *Bridge) clientOptions() *mqtt.ClientOptions {
	url, useTLS := brokerURL(b.broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(clientIDPrefix + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOrderMatters(false)
	opts.SetWill(b.StatusTopic(), `{"online":false}`, 1, true)

	if b.creds != nil && b.creds.Username != "" {
		opts.SetUsername(b.creds.Username)
		opts.SetPassword(b.creds.Password)
		log.Debug().Msgf("mqtt: using authentication for %s", b.broker)
	}
	if useTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.OnConnect = func(client mqtt.Client) {
		log.Info().Msgf("mqtt: connected to %s", b.broker)
		// subscribing here restores the subscription after a reconnect
		token := client.Subscribe(b.CommandTopic(), 1, b.onMessage)
		if token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Msgf("mqtt: failed to subscribe to %s", b.CommandTopic())
			return
		}
		log.Info().Msgf("mqtt: subscribed to %s", b.CommandTopic())
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt: connection lost")
	}
	return opts
}

// Start connects and starts the publisher. A broker that can't be reached
// at start is an error; later drops are reconnected by the client.
func (b *Bridge) Start() error {
	if b.broker == "" {
		return errors.New("mqtt broker not set")
	}
	b.client = b.factory(b.clientOptions())

	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.client.Disconnect(0)
		return errors.New("failed to connect to MQTT broker: connection timeout")
	}
	if err := token.Error(); err != nil {
		b.client.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	b.wg.Add(1)
	go b.publishLoop()
	return nil
}

// Stop disconnects. Messages still queued are dropped.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
		return
	default:
		close(b.stopCh)
	}
	b.wg.Wait()
	if b.client != nil && b.client.IsConnected() {
		log.Debug().Msg("mqtt: disconnecting")
		b.client.Disconnect(250)
	}
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Msg("mqtt: ignoring command")
		return
	}
	log.Info().Msgf("mqtt: received %s command", cmd.Kind)
	if b.handler != nil {
		b.handler(cmd)
	}
}

// Notify queues ev for <topic>/event. It never blocks; events are dropped
// while the queue is full.
func (b *Bridge) Notify(ev timesync.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("mqtt: failed to marshal event")
		return
	}
	b.enqueue(outgoing{topic: b.EventTopic(), payload: payload})
}

// PublishStatus queues a retained status document.
func (b *Bridge) PublishStatus(status any) {
	payload, err := json.Marshal(status)
	if err != nil {
		log.Error().Err(err).Msg("mqtt: failed to marshal status")
		return
	}
	b.enqueue(outgoing{topic: b.StatusTopic(), payload: payload, retained: true})
}

func (b *Bridge) enqueue(m outgoing) {
	select {
	case b.queue <- m:
	default:
		log.Warn().Msgf("mqtt: publish queue full, dropping message for %s", m.topic)
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case m := <-b.queue:
			token := b.client.Publish(m.topic, 0, m.retained, m.payload)
			if token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Msgf("mqtt: failed to publish to %s", m.topic)
				continue
			}
			log.Debug().Msgf("mqtt: published to %s", m.topic)
		}
	}
}
