package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originsmart/facility-monitor/internal/errors"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []string
	params   []types.Params
	errs     []error
}

func (r *recordingSender) Send(message string, params *types.Params) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.params = append(r.params, *params)
	return r.errs
}

func TestShoutrrrMailer_SendsRenderedText(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{errs: []error{nil}}
	m := NewShoutrrrMailerWithSender(sender, testLogger())

	require.NoError(t, m.SendDeviceAlert(t.Context(), sampleAlert()))
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "Freezer 2")
	assert.Contains(t, sender.messages[0], "31°C")
	assert.NotContains(t, sender.messages[0], "<td>")
	assert.Equal(t, "ops@example.com", sender.params[0]["toaddresses"])
	assert.Equal(t, "Alert: Temperature 31°C on Freezer 2", sender.params[0]["subject"])
}

func TestShoutrrrMailer_ReturnsSendErrors(t *testing.T) {
	t.Parallel()
	sendErr := errors.NewStd("connection refused")
	sender := &recordingSender{errs: []error{nil, sendErr}}
	m := NewShoutrrrMailerWithSender(sender, testLogger())

	err := m.SendDeviceAlert(t.Context(), sampleAlert())
	require.ErrorIs(t, err, sendErr)
}

func TestShoutrrrMailer_CancelledContext(t *testing.T) {
	t.Parallel()
	sender := &recordingSender{}
	m := NewShoutrrrMailerWithSender(sender, testLogger())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, m.SendDeviceAlert(ctx, sampleAlert()), context.Canceled)
	assert.Empty(t, sender.messages)
}

func TestNewShoutrrrMailer_RequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewShoutrrrMailer(nil, testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
