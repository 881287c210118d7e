package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfreview/internal/models"
)

func TestTransition_Allowed(t *testing.T) {
	tests := []struct {
		from  models.ReviewStatus
		event string
		want  models.ReviewStatus
	}{
		{models.ReviewStatusPending, EventStart, models.ReviewStatusInProgress},
		{models.ReviewStatusInProgress, EventComplete, models.ReviewStatusCompleted},
		{models.ReviewStatusInProgress, EventFail, models.ReviewStatusFailed},
		{models.ReviewStatusCompleted, EventRetry, models.ReviewStatusPending},
		{models.ReviewStatusFailed, EventRetry, models.ReviewStatusPending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.event, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransition_Illegal(t *testing.T) {
	tests := []struct {
		from  models.ReviewStatus
		event string
	}{
		{models.ReviewStatusPending, EventComplete},
		{models.ReviewStatusPending, EventFail},
		{models.ReviewStatusPending, EventRetry},
		{models.ReviewStatusInProgress, EventStart},
		{models.ReviewStatusInProgress, EventRetry},
		{models.ReviewStatusCompleted, EventFail},
		{models.ReviewStatusCompleted, EventStart},
		{models.ReviewStatusFailed, EventComplete},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.event, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, tt.from, got, "status unchanged")
		})
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	_, err := Transition("archived", EventStart)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestLifecycle_FullPath(t *testing.T) {
	lc, err := newLifecycle("r1", models.ReviewStatusPending)
	require.NoError(t, err)

	for _, ev := range []string{EventStart, EventComplete, EventRetry, EventStart, EventFail} {
		_, err := lc.fire(ev)
		require.NoError(t, err, ev)
	}
	assert.Equal(t, models.ReviewStatusFailed, lc.current())
}
