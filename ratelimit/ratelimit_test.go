package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	se "fanwall.io/notes/errors"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) CountSince(hashedID string, since time.Time) (int, *se.Err) {
	args := m.Called(hashedID, since)
	if err := args.Get(1); err != nil {
		return args.Int(0), err.(*se.Err)
	}
	return args.Int(0), nil
}

func TestLimiterAllow(t *testing.T) {
	const hashedID = "fakehash"
	tcs := []struct {
		name     string
		count    int
		err      *se.Err
		expected bool
	}{
		{
			name:     "UnderLimit",
			count:    2,
			expected: true,
		},
		{
			name:     "AtLimit",
			count:    3,
			expected: false,
		},
		{
			name:     "OverLimit",
			count:    7,
			expected: false,
		},
		{
			name:     "HistoryUnreachableFailsClosed",
			err:      se.ErrServiceFailure("store offline"),
			expected: false,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			h := &mockHistory{}
			h.On("CountSince", hashedID, mock.Anything).Return(c.count, c.err)
			l := New(h, 300*time.Second, 3)

			assert.Equal(t, c.expected, l.Allow(hashedID), "unexpected admit decision")
			h.AssertExpectations(t)
		})
	}
}

// the limiter must query history from now-window, so a note older than the
// window no longer counts against the submitter
func TestLimiterWindowStart(t *testing.T) {
	h := &mockHistory{}
	window := 300 * time.Second
	var gotSince time.Time
	h.On("CountSince", "fakehash", mock.Anything).Run(func(args mock.Arguments) {
		gotSince = args.Get(1).(time.Time)
	}).Return(0, nil)

	before := time.Now().Add(-window)
	New(h, window, 3).Allow("fakehash")
	after := time.Now().Add(-window)

	assert.False(t, gotSince.Before(before), "window start too early")
	assert.False(t, gotSince.After(after), "window start too late")
}
