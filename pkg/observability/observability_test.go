package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledProviderIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false}, nil)
	require.NoError(t, err)

	assert.NotNil(t, p.Tracer())

	// Recording on a disabled provider must not panic.
	ctx := context.Background()
	p.RecordRequest(ctx)
	p.RecordError(ctx)
	p.RecordDuration(ctx, 5*time.Millisecond)

	assert.NoError(t, p.Shutdown(ctx))
}
