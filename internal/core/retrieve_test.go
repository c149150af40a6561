package core

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveIntoWorkerDirs(t *testing.T) {
	ch := newMockChannel()
	local := t.TempDir()
	r := NewRetriever(ch, "/home/ubuntu/workspace", 2, nil)

	require.NoError(t, r.Retrieve(context.Background(), readyRoster, []string{"results", "/var/log/search.log"}, local))
	require.Len(t, ch.fetches, 6)
	for i := range readyRoster.Addresses {
		st, err := os.Stat(WorkerDir(local, i))
		require.NoError(t, err)
		assert.True(t, st.IsDir())
	}
	seen := map[string]string{}
	for _, f := range ch.fetches {
		if f.Remote == "/home/ubuntu/workspace/results" {
			seen[f.Host] = f.Local
		}
	}
	assert.Equal(t, WorkerDir(local, 1), seen["10.0.0.2"])
}

func TestRetrieveCollectsAllErrors(t *testing.T) {
	ch := newMockChannel()
	ch.fetchErr["10.0.0.1"] = errBoom
	ch.fetchErr["10.0.0.3"] = errBoom
	r := NewRetriever(ch, "/w", 1, nil)

	err := r.Retrieve(context.Background(), readyRoster, []string{"results"}, t.TempDir())
	require.ErrorIs(t, err, ErrRemoteFailure)
	assert.Contains(t, err.Error(), "10.0.0.1")
	assert.Contains(t, err.Error(), "10.0.0.3")
	assert.Len(t, ch.fetches, 1)
}

func TestRetrieveNeedsReadyRoster(t *testing.T) {
	r := NewRetriever(newMockChannel(), "/w", 1, nil)
	err := r.Retrieve(context.Background(), Roster{Addresses: []string{"10.0.0.1"}}, []string{"x"}, t.TempDir())
	assert.ErrorIs(t, err, ErrNotReady)
}
