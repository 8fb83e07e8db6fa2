package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"gridharvest/lib/usage"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err error
}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeMQTTClient struct {
	mqtt.Client

	published [][]byte
	topics    []string
	// failures is decremented on each publish, publishes fail while
	// it is positive
	failures int
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.failures > 0 {
		c.failures--
		return fakeToken{err: fmt.Errorf("broker unavailable")}
	}
	c.topics = append(c.topics, topic)
	c.published = append(c.published, payload.([]byte))
	return fakeToken{}
}

func TestMQTTWrite(t *testing.T) {
	client := &fakeMQTTClient{}
	s := &MQTTSink{Client: client, Topic: "home/energy/usage"}

	ts := at(8, 15)
	err := s.Write(context.Background(), usage.Day("2025-01-10"), []usage.Interval{
		{Time: ts, KWH: 0.42},
	})
	if err != nil {
		t.Fatal(err)
	}

	require.Len(t, client.published, 1)
	require.Equal(t, "home/energy/usage", client.topics[0])

	var msg map[string]any
	err = json.Unmarshal(client.published[0], &msg)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, ts.Format(time.RFC3339), msg["timestamp"])
	require.Equal(t, 0.42, msg["usage_kwh"])
	// the payload carries exactly the reading, nothing session-shaped
	require.Len(t, msg, 2)
}

func TestMQTTPublishMeterRead(t *testing.T) {
	client := &fakeMQTTClient{}
	s := &MQTTSink{Client: client, Topic: "home/energy/usage"}

	readAt := at(8, 0)
	err := s.PublishMeterRead(context.Background(), 48211.5, readAt)
	if err != nil {
		t.Fatal(err)
	}

	require.Len(t, client.published, 1)
	require.Equal(t, "home/energy/usage/meter", client.topics[0])

	var msg map[string]any
	err = json.Unmarshal(client.published[0], &msg)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 48211.5, msg["reading_kwh"])
	require.Equal(t, readAt.Format(time.RFC3339), msg["read_at"])
	// same discipline as the interval stream: the value and its
	// timestamp, nothing account-shaped
	require.Len(t, msg, 2)
}

func TestMQTTRetriesTransientFailure(t *testing.T) {
	client := &fakeMQTTClient{failures: 2}
	s := &MQTTSink{Client: client, Topic: "home/energy/usage"}

	err := s.Write(context.Background(), usage.Day("2025-01-10"), []usage.Interval{
		{Time: at(8, 15), KWH: 0.42},
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, client.published, 1)
}

func TestMQTTGivesUpEventually(t *testing.T) {
	client := &fakeMQTTClient{failures: 100}
	s := &MQTTSink{Client: client, Topic: "home/energy/usage"}

	err := s.Write(context.Background(), usage.Day("2025-01-10"), []usage.Interval{
		{Time: at(8, 15), KWH: 0.42},
	})
	require.Error(t, err)
	require.Empty(t, client.published)
}
