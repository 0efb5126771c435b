package rtc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/corestream/rtc"
)

func TestManagerFetchOrCreateIsIdempotent(t *testing.T) {
	m := rtc.NewManager()
	calls := 0
	factory := func(id string) (rtc.Bridge, rtc.EventHandler, error) {
		calls++
		return nil, nil, nil
	}

	s1, created1, err := m.FetchOrCreate("stream1", factory)
	require.NoError(t, err)
	assert.True(t, created1)

	s2, created2, err := m.FetchOrCreate("stream1", factory)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, calls, "factory must run exactly once per id")
}

func TestManagerFetchOrCreateGeneratesIDWhenEmpty(t *testing.T) {
	m := rtc.NewManager()
	factory := func(id string) (rtc.Bridge, rtc.EventHandler, error) { return nil, nil, nil }

	s, created, err := m.FetchOrCreate("", factory)
	require.NoError(t, err)
	assert.True(t, created)
	id, _ := s.SourceID()
	assert.NotEmpty(t, id)
}

func TestManagerKeepsSourceOnInitializeFailure(t *testing.T) {
	m := rtc.NewManager()
	wantErr := errors.New("boom")
	factory := func(id string) (rtc.Bridge, rtc.EventHandler, error) {
		return nil, nil, wantErr
	}

	s, created, err := m.FetchOrCreate("stream1", factory)
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, created)
	require.NotNil(t, s, "a half-initialized source is kept, not discarded")

	again, created2, err2 := m.FetchOrCreate("stream1", factory)
	require.NoError(t, err2)
	assert.False(t, created2)
	assert.Same(t, s, again)
}

func TestManagerRemove(t *testing.T) {
	m := rtc.NewManager()
	factory := func(id string) (rtc.Bridge, rtc.EventHandler, error) { return nil, nil, nil }
	m.FetchOrCreate("stream1", factory)
	assert.Equal(t, 1, m.Len())

	m.Remove("stream1")
	assert.Equal(t, 0, m.Len())
	assert.Nil(t, m.Get("stream1"))
}
