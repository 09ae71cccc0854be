package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls []time.Time
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	s.calls = append(s.calls, time.Now())
	return "page:" + url, nil
}

func TestPaced_SpacesFetches(t *testing.T) {
	stub := &stubFetcher{}
	p := NewPaced(stub, 50*time.Millisecond)

	for _, u := range []string{"a", "b", "c"} {
		body, err := p.Fetch(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "page:"+u, body)
	}

	require.Len(t, stub.calls, 3)
	assert.GreaterOrEqual(t, stub.calls[2].Sub(stub.calls[0]), 90*time.Millisecond)
}

func TestPaced_NoDelay(t *testing.T) {
	stub := &stubFetcher{}
	p := NewPaced(stub, 0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := p.Fetch(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPaced_CancelledWhileWaiting(t *testing.T) {
	stub := &stubFetcher{}
	p := NewPaced(stub, time.Hour)

	_, err := p.Fetch(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Fetch(ctx, "second")
	assert.Error(t, err)
	assert.Len(t, stub.calls, 1)
}
