package httpmiddleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketExhausts(t *testing.T) {
	l := NewTokenBucket(3, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "1.2.3.4"), "request %d should pass", i)
	}
	require.False(t, l.Allow(ctx, "1.2.3.4"))

	// Other callers have their own bucket.
	require.True(t, l.Allow(ctx, "5.6.7.8"))
}
