package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusConfirmed))
	assert.True(t, CanTransition(StatusPending, StatusRejected))

	// terminal states never move
	assert.False(t, CanTransition(StatusConfirmed, StatusRejected))
	assert.False(t, CanTransition(StatusConfirmed, StatusPending))
	assert.False(t, CanTransition(StatusRejected, StatusConfirmed))
	assert.False(t, CanTransition(StatusRejected, StatusPending))

	assert.False(t, CanTransition(StatusPending, StatusPending))
	assert.False(t, CanTransition(Status("BOGUS"), StatusConfirmed))
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, Status("BOGUS").Terminal())
}
