package mqtt

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
)

type recordingIngester struct {
	mu      sync.Mutex
	samples []*ingest.Sample
	sources []string
	err     error
}

func (r *recordingIngester) Ingest(_ context.Context, source string, s *ingest.Sample) (*ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.samples = append(r.samples, s)
	r.sources = append(r.sources, source)
	return &ingest.Result{}, nil
}

func (r *recordingIngester) Samples() []*ingest.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ingest.Sample(nil), r.samples...)
}

func newTestSubscriber(ing Ingester) *Subscriber {
	cfg := conf.MQTTSettings{Broker: "tcp://127.0.0.1:1", ClientID: "test", Topic: "devices/+/telemetry", QoS: 1}
	return NewSubscriber(cfg, ing, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
}

func TestOEMFromTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filter, topic, want string
	}{
		{"devices/+/telemetry", "devices/abc123/telemetry", "abc123"},
		{"site/+/+/telemetry", "site/north/dev7/telemetry", "north"},
		{"devices/telemetry", "devices/telemetry", ""},
		{"devices/#", "devices/abc/telemetry", ""},
		{"devices/+/telemetry", "devices", ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, oemFromTopic(tt.filter, tt.topic))
		})
	}
}

func TestHandleMessage_IngestsSample(t *testing.T) {
	t.Parallel()
	ing := &recordingIngester{}
	s := newTestSubscriber(ing)

	s.handleMessage("devices/oem-9/telemetry", []byte(`{"temperature": 4.5}`))

	samples := ing.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, "oem-9", samples[0].DeviceOEM)
	require.NotNil(t, samples[0].Temperature)
	assert.InDelta(t, 4.5, *samples[0].Temperature, 1e-9)
	assert.Equal(t, []string{ingest.SourceMQTT}, ing.sources)
}

func TestHandleMessage_DropsMalformed(t *testing.T) {
	t.Parallel()
	ing := &recordingIngester{}
	s := newTestSubscriber(ing)

	s.handleMessage("devices/oem-9/telemetry", []byte(`not json`))
	s.handleMessage("devices/oem-9/telemetry", []byte(`{"eventType": "touch"}`))

	assert.Empty(t, ing.Samples())
}

func TestStart_UnreachableBroker(t *testing.T) {
	t.Parallel()
	s := newTestSubscriber(&recordingIngester{})

	err := s.Start(t.Context())
	require.Error(t, err)
	s.Stop()
}
