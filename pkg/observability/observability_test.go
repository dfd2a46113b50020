package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "aurora-node", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Empty(t, config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.Equal(t, 5*time.Second, config.BatchTimeout)
	require.False(t, config.Insecure)
}

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "test.operation",
		attribute.String("test.key", "test.value"))
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "test.operation.error")
	finish(errors.New("test error"))
}

func TestRecordHelpersWhenDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordOperation(ctx, attribute.String("k", "v"))
	p.RecordError(ctx, errors.New("test"), attribute.String("k", "v"))
	p.RecordDuration(ctx, 100*time.Millisecond)
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "test.span")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestDecideAttrs(t *testing.T) {
	attrs := DecideAttrs("acme", contracts.WorkloadContext{
		Workload:      contracts.WorkloadLLMInference,
		Accelerator:   contracts.AcceleratorA100,
		Region:        "us-west",
		ResourceHours: 2,
	})
	require.Len(t, attrs, 4)
	require.Equal(t, "aurora.tenant", string(attrs[0].Key))
	require.Equal(t, "acme", attrs[0].Value.AsString())
	require.Equal(t, "a100", attrs[2].Value.AsString())
}

func TestChoiceAttrs(t *testing.T) {
	attrs := ChoiceAttrs("dec-1", "cheap", contracts.ModeExploit)
	require.Len(t, attrs, 3)
	require.Equal(t, "aurora.provider", string(attrs[1].Key))
	require.Equal(t, "exploit", attrs[2].Value.AsString())
}

func TestSyncAttrs(t *testing.T) {
	attrs := SyncAttrs("http://peer-b:8090", 7, 1)
	require.Len(t, attrs, 3)
	require.Equal(t, "aurora.federation.peer", string(attrs[0].Key))
	require.Equal(t, int64(7), attrs[1].Value.AsInt64())
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	AddSpanEvent(ctx, "test.event", attribute.String("k", "v"))
	SetSpanError(ctx, errors.New("test error"))
	SetSpanError(ctx, nil)
}
