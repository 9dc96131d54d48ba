// Package mqtt feeds device telemetry published on an MQTT broker into the
// ingestion pipeline.
package mqtt

import (
	"context"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
)

const (
	connectTimeout    = 10 * time.Second
	subscribeTimeout  = 5 * time.Second
	messageTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Ingester stores one decoded sample.
type Ingester interface {
	Ingest(ctx context.Context, source string, s *ingest.Sample) (*ingest.Result, error)
}

// Subscriber consumes telemetry topics. The topic filter may contain one
// '+' wildcard; the segment it matches is used as the device OEM when the
// payload omits deviceId.
type Subscriber struct {
	cfg      conf.MQTTSettings
	ingester Ingester
	log      logger.Logger

	mu     sync.Mutex
	client paho.Client
	// inflight tracks message handlers so Stop can wait for them.
	inflight sync.WaitGroup
}

// NewSubscriber creates a Subscriber. Call Start to connect.
func NewSubscriber(cfg conf.MQTTSettings, ingester Ingester, log logger.Logger) *Subscriber {
	return &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		log:      log.Module("mqtt"),
	}
}

// Start connects to the broker and subscribes. The subscription is renewed
// on every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}

	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID + "-" + uuid.NewString()[:8]).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.log.Warn("mqtt connection lost", logger.String("broker", s.cfg.Broker), logger.Error(err))
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return networkError(errors.NewStd("connect timeout"), s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return networkError(err, s.cfg.Broker)
	}

	s.client = client
	s.log.Info("mqtt subscriber connected",
		logger.String("broker", s.cfg.Broker),
		logger.String("topic", s.cfg.Topic))
	return nil
}

// Stop unsubscribes, disconnects and waits for in-flight messages.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return
	}

	if client.IsConnected() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(subscribeTimeout)
	}
	client.Disconnect(disconnectQuiesce)
	s.inflight.Wait()
	s.log.Info("mqtt subscriber stopped")
}

func (s *Subscriber) onConnect(client paho.Client) {
	token := client.Subscribe(s.cfg.Topic, byte(s.cfg.QoS), func(_ paho.Client, msg paho.Message) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		s.log.Error("mqtt subscribe timed out", logger.String("topic", s.cfg.Topic))
		return
	}
	if err := token.Error(); err != nil {
		s.log.Error("mqtt subscribe failed", logger.String("topic", s.cfg.Topic), logger.Error(err))
	}
}

// handleMessage ingests one payload. Errors are logged; the broker is never
// told about them.
func (s *Subscriber) handleMessage(topic string, payload []byte) {
	sample, err := ingest.ParseMessage(payload, oemFromTopic(s.cfg.Topic, topic))
	if err != nil {
		s.log.Warn("discarding malformed mqtt message", logger.String("topic", topic), logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()
	if _, err := s.ingester.Ingest(ctx, ingest.SourceMQTT, sample); err != nil {
		level := s.log.Error
		if errors.IsCategory(err, errors.CategoryNotFound) {
			level = s.log.Warn
		}
		level("failed to ingest mqtt message",
			logger.String("topic", topic),
			logger.String("device_oem", sample.DeviceOEM),
			logger.Error(err))
	}
}

// oemFromTopic returns the topic segment matched by the first '+' of
// filter, or "" when there is none.
func oemFromTopic(filter, topic string) string {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	for i, f := range fparts {
		if i >= len(tparts) {
			return ""
		}
		if f == "+" {
			return tparts[i]
		}
		if f == "#" {
			return ""
		}
	}
	return ""
}

func networkError(err error, broker string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Context("broker", broker).
		Build()
}
