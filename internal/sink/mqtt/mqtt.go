// internal/sink/mqtt/mqtt.go
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/sink"
	"github.com/tamzrod/plc-db-sync/internal/status"
)

type Config struct {
	Broker     string
	ClientID   string
	Topic      string // snapshots; status goes to Topic + "/status"
	WriteTopic string // optional; payload is a JSON change set
	QoS        byte
	Retain     bool
	Timeout    time.Duration
}

// Applier receives change sets arriving on the write topic.
type Applier interface {
	Apply(changes codec.Changes) error
}

// client is the part of paho.Client the sink uses.
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Sink mirrors every publish of the shared region to a broker topic
// and, when a write topic is configured, feeds incoming change sets to
// the writer.
type Sink struct {
	cfg    Config
	client client
	apply  Applier
	log    *zap.Logger
}

var offline = []byte(`{"state":"offline"}`)

func New(cfg Config, apply Applier, log *zap.Logger) (*Sink, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("mqtt sink: broker and topic required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Sink{cfg: cfg, apply: apply, log: log}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(s.statusTopic(), string(offline), cfg.QoS, true)

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}
	// Subscriptions do not survive a clean-session reconnect.
	opts.OnConnect = func(c paho.Client) {
		s.subscribe(c)
	}

	s.client = paho.NewClient(opts)
	return s, nil
}

func (s *Sink) Name() string { return "mqtt" }

// Connect dials the broker once; paho reconnects on its own afterwards.
func (s *Sink) Connect() error {
	if err := wait(s.client.Connect(), s.cfg.Timeout); err != nil {
		return fmt.Errorf("mqtt sink: connect %s: %w", s.cfg.Broker, err)
	}
	s.log.Info("mqtt connected", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	return nil
}

// Deliver implements sink.Sink.
func (s *Sink) Deliver(ctx context.Context, u sink.Update) error {
	if !s.client.IsConnected() {
		return errors.New("mqtt sink: not connected")
	}
	return wait(s.client.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, u.Payload), s.cfg.Timeout)
}

// PublishStatus sends the engine status, retained, to Topic/status.
func (s *Sink) PublishStatus(st status.Snapshot) error {
	if !s.client.IsConnected() {
		return errors.New("mqtt sink: not connected")
	}
	return wait(s.client.Publish(s.statusTopic(), s.cfg.QoS, true, status.Encode(st)), s.cfg.Timeout)
}

// Close marks the device offline and disconnects.
func (s *Sink) Close() {
	if s.client.IsConnected() {
		_ = wait(s.client.Publish(s.statusTopic(), s.cfg.QoS, true, offline), s.cfg.Timeout)
	}
	s.client.Disconnect(250)
}

func (s *Sink) statusTopic() string { return s.cfg.Topic + "/status" }

func (s *Sink) subscribe(c client) {
	if s.cfg.WriteTopic == "" || s.apply == nil {
		return
	}
	if err := wait(c.Subscribe(s.cfg.WriteTopic, s.cfg.QoS, s.onWrite), s.cfg.Timeout); err != nil {
		s.log.Error("mqtt subscribe failed", zap.String("topic", s.cfg.WriteTopic), zap.Error(err))
		return
	}
	s.log.Info("mqtt write topic subscribed", zap.String("topic", s.cfg.WriteTopic))
}

// onWrite runs on paho's router goroutine.
func (s *Sink) onWrite(_ paho.Client, msg paho.Message) {
	changes, err := codec.DecodeChanges(msg.Payload())
	if err != nil {
		s.log.Warn("mqtt write rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := s.apply.Apply(changes); err != nil {
		s.log.Warn("mqtt write failed", zap.Error(err))
		return
	}
	s.log.Debug("mqtt write applied", zap.Int("names", len(changes)))
}

func wait(t paho.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return errors.New("mqtt sink: timeout")
	}
	return t.Error()
}
