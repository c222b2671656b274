package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Minute, 2)
	b.now = func() time.Time { return now }

	assert.Equal(t, BreakerClosed, b.State())
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State(), "a half-open failure reopens")

	now = now.Add(time.Minute)
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(2, time.Minute, 1)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestQueueStopsPostingWhileCircuitOpen(t *testing.T) {
	ps := &promptServer{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(ps)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	q, err := NewQueue(c, WorkflowFile{Path: writeWorkflow(t, sampleWorkflow)}, nil)
	require.NoError(t, err)
	q.SetBreaker(NewBreaker(2, time.Hour, 1))

	for i := 0; i < 5; i++ {
		q.QueuePrompt(context.Background(), 0, 1)
	}
	assert.Len(t, ps.Requests(), 2)
}
