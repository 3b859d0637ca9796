package bus

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
)

func TestNoopPublish(t *testing.T) {
	var p Publisher = Noop{}
	if err := p.Publish(context.Background(), "meter-01", []byte(`{}`)); err != nil {
		t.Errorf("Noop.Publish() error = %v, want nil", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Noop.Close() error = %v, want nil", err)
	}
}

func TestProducerConfig(t *testing.T) {
	cfg := newProducerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("newProducerConfig(): %v", err)
	}
	if !cfg.Producer.Idempotent {
		t.Error("Producer.Idempotent = false, want true")
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("Producer.RequiredAcks = %v, want WaitForAll", cfg.Producer.RequiredAcks)
	}
	if cfg.Net.MaxOpenRequests != 1 {
		t.Errorf("Net.MaxOpenRequests = %d, want 1", cfg.Net.MaxOpenRequests)
	}
}

func TestKafkaTopic(t *testing.T) {
	k := &Kafka{topicPrefix: "meter."}
	tests := []struct {
		deviceID string
		want     string
	}{
		{"meter-01", "meter.device_meter_01"},
		{"Meter 01", "meter.device_meter_01"},
		{"m1", "meter.device_m1"},
	}
	for _, tt := range tests {
		if got := k.Topic(tt.deviceID); got != tt.want {
			t.Errorf("Topic(%q) = %q, want %q", tt.deviceID, got, tt.want)
		}
	}
}
