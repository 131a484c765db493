package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_StampsIDAndSource(t *testing.T) {
	e := NewEnvelope(TypeDeploymentStarted, "dep-1", map[string]string{"k": "v"})
	assert.Equal(t, TypeDeploymentStarted, e.EventType)
	assert.Equal(t, "dep-1", e.CorrelationID)
	assert.Equal(t, "rollforge", e.Source)
	assert.NotEqual(t, e.EventID.String(), "")
	assert.False(t, e.Timestamp.IsZero())
}

func TestNoopPublisher_NeverFails(t *testing.T) {
	var p Publisher = NoopPublisher{}
	err := p.Publish(context.Background(), NewEnvelope(TypeAlertCreated, "x", nil))
	require.NoError(t, err)
}

// recordingPublisher captures every envelope it's handed, a Publisher
// double for this package's tests.
type recordingPublisher struct {
	envelopes []Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, envelope Envelope) error {
	p.envelopes = append(p.envelopes, envelope)
	return nil
}

func TestRecordingPublisherDouble_CapturesEnvelopes(t *testing.T) {
	p := &recordingPublisher{}
	_ = p.Publish(context.Background(), NewEnvelope(TypeDeploymentSucceeded, "dep-2", nil))
	require.Len(t, p.envelopes, 1)
	assert.Equal(t, TypeDeploymentSucceeded, p.envelopes[0].EventType)
}
