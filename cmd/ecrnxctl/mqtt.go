package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
	"github.com/soypat/ecrnx/config"
	"github.com/soypat/ecrnx/fwdl"
)

const mqttTimeout = 5 * time.Second

// progressPublisher publishes download progress to an MQTT broker.
type progressPublisher struct {
	conn   net.Conn
	client *mqtt.Client
	flags  mqtt.PacketFlags
	vars   mqtt.VariablesPublish
}

func dialProgress(ctx context.Context, cfg config.MQTTConfig) (*progressPublisher, error) {
	var dialer net.Dialer
	dctx, cancel := context.WithTimeout(ctx, mqttTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1500)},
	})
	var varconn mqtt.VariablesConnect
	id := cfg.ClientID
	if id == "" {
		id = "ecrnxctl"
	}
	varconn.SetDefaultMQTT([]byte(id))
	err = client.Connect(dctx, conn, &varconn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &progressPublisher{
		conn:   conn,
		client: client,
		flags:  flags,
		vars:   mqtt.VariablesPublish{TopicName: []byte(cfg.Topic)},
	}, nil
}

func (p *progressPublisher) publish(pr fwdl.Progress) error {
	p.vars.PacketIdentifier++
	payload := fmt.Appendf(nil, `{"segment":%q,"percent":%d,"sent":%d,"total":%d}`, pr.Segment, pr.Percent, pr.Sent, pr.Total)
	return p.client.PublishPayload(p.flags, p.vars, payload)
}

func (p *progressPublisher) Close() error {
	p.client.Disconnect(errors.New("download finished"))
	return p.conn.Close()
}
