package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gridharvest/lib/usage"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/codes"
)

type MQTTConfig struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MQTTSink publishes one message per interval on a configured topic.
// delivery is at-most-once per collection cycle: a failed publish is
// retried a few times with backoff within the cycle and then reported,
// the next cycle will not re-send intervals the primary sink confirmed.
type MQTTSink struct {
	Client mqtt.Client
	Topic  string
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(time.Second * 10).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(time.Second * 15) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %q", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	return &MQTTSink{Client: client, Topic: cfg.Topic}, nil
}

func (*MQTTSink) Name() string {
	return "mqtt"
}

// the payload carries the reading and its timestamp, nothing else.
// session or account data never crosses this boundary
type intervalMessage struct {
	Timestamp string  `json:"timestamp"`
	UsageKWH  float64 `json:"usage_kwh"`
}

func (s *MQTTSink) Write(ctx context.Context, day usage.Day, intervals []usage.Interval) error {
	ctx, span := tracer.Start(ctx, "mqtt:Write")
	defer span.End()

	for _, iv := range intervals {
		payload, err := json.Marshal(intervalMessage{
			Timestamp: iv.Time.Format(time.RFC3339),
			UsageKWH:  iv.KWH,
		})
		if err != nil {
			return err
		}

		err = s.publish(ctx, s.Topic, payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to publish interval")
			return err
		}
	}
	return nil
}

// same shape discipline as intervalMessage: the register value and
// when the meter reported it, nothing else
type meterMessage struct {
	ReadingKWH float64 `json:"reading_kwh"`
	ReadAt     string  `json:"read_at"`
}

// PublishMeterRead publishes an on-demand register reading on the
// "<topic>/meter" subtopic, so consumers can track the meter's running
// total separately from the interval stream.
func (s *MQTTSink) PublishMeterRead(ctx context.Context, readingKWH float64, readAt time.Time) error {
	ctx, span := tracer.Start(ctx, "mqtt:PublishMeterRead")
	defer span.End()

	payload, err := json.Marshal(meterMessage{
		ReadingKWH: readingKWH,
		ReadAt:     readAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	err = s.publish(ctx, s.Topic+"/meter", payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish meter read")
	}
	return err
}

func (s *MQTTSink) publish(ctx context.Context, topic string, payload []byte) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3),
		ctx,
	)
	return backoff.Retry(func() error {
		token := s.Client.Publish(topic, 1, false, payload)
		if !token.WaitTimeout(time.Second * 10) {
			return fmt.Errorf("publish timed out")
		}
		return token.Error()
	}, policy)
}

func (s *MQTTSink) Close() {
	s.Client.Disconnect(250)
}
