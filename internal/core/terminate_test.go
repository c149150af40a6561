package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

type countingConfirmer struct {
	answer bool
	calls  int
	prompt string
}

func (c *countingConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	c.calls++
	c.prompt = prompt
	return c.answer, nil
}

func fleetAcrossGroups() []prov.InstanceRecord {
	return []prov.InstanceRecord{
		{ID: "i-1", State: prov.StateRunning, Group: "r-1"},
		{ID: "i-2", State: prov.StateTerminated, Group: "r-1"},
		{ID: "i-3", State: prov.StatePending, Group: "r-2"},
		{ID: "i-4", State: prov.StateOther, Group: "r-2"},
		{ID: "i-5", State: prov.StateTerminated, Group: "r-3"},
	}
}

func TestTerminateOneCallPerGroup(t *testing.T) {
	p := &MockProvider{records: fleetAcrossGroups()}
	c := &countingConfirmer{answer: true}

	res, err := NewClusterTerminator(p, c, nil).Terminate(context.Background(), "primes")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Contains(t, c.prompt, "3 instances")
	assert.Equal(t, [][]string{{"i-1"}, {"i-3", "i-4"}}, p.terminated)
}

func TestTerminateIsIdempotent(t *testing.T) {
	p := &MockProvider{records: fleetAcrossGroups()}
	term := NewClusterTerminator(p, AutoConfirm(true), nil)

	_, err := term.Terminate(context.Background(), "primes")
	require.NoError(t, err)
	_, err = term.Terminate(context.Background(), "primes")
	require.ErrorIs(t, err, ErrNothingToTerminate)
	assert.Len(t, p.terminated, 2, "second run makes no provider calls")
}

func TestTerminateNothingToDo(t *testing.T) {
	for _, records := range [][]prov.InstanceRecord{
		nil,
		{{ID: "i-1", State: prov.StateTerminated, Group: "r-1"}},
	} {
		p := &MockProvider{records: records}
		c := &countingConfirmer{answer: true}
		_, err := NewClusterTerminator(p, c, nil).Terminate(context.Background(), "primes")
		require.ErrorIs(t, err, ErrNothingToTerminate)
		assert.Zero(t, c.calls, "no prompt when nothing is live")
		assert.Empty(t, p.terminated)
	}
}

func TestTerminateDeclined(t *testing.T) {
	p := &MockProvider{records: fleetAcrossGroups()}
	_, err := NewClusterTerminator(p, AutoConfirm(false), nil).Terminate(context.Background(), "primes")
	require.ErrorIs(t, err, ErrOperationCancelled)
	assert.Empty(t, p.terminated)
}

func TestTerminateGroupFailureStops(t *testing.T) {
	p := &MockProvider{records: fleetAcrossGroups(), terminateErr: errBoom}
	_, err := NewClusterTerminator(p, AutoConfirm(true), nil).Terminate(context.Background(), "primes")
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "r-1")
	assert.Len(t, p.terminated, 1)
}
