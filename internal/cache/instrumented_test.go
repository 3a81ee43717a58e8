package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/shex1627/warcraftlogs/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCache is a mock implementation of TokenCache for testing.
type mockCache struct {
	getValue   token.Payload
	getFound   bool
	closeErr   error
	getCalls   int
	putCalls   int
	invCalls   int
	clearCalls int
	lastKey    string
}

func (m *mockCache) Get(ctx context.Context, key string) (token.Payload, bool) {
	m.getCalls++
	m.lastKey = key
	return m.getValue, m.getFound
}

func (m *mockCache) Put(ctx context.Context, key string, payload token.Payload) {
	m.putCalls++
	m.lastKey = key
}

func (m *mockCache) Invalidate(ctx context.Context, key string) {
	m.invCalls++
	m.lastKey = key
}

func (m *mockCache) ClearAll(ctx context.Context) {
	m.clearCalls++
}

func (m *mockCache) Close() error {
	return m.closeErr
}

func TestInstrumented_Get_Hit(t *testing.T) {
	mock := &mockCache{
		getValue: token.Payload(`{"access_token":"test-token"}`),
		getFound: true,
	}

	instrumented := NewInstrumented(mock, "test")

	value, found := instrumented.Get(context.Background(), "test-key")

	assert.True(t, found)
	assert.Equal(t, "test-token", value.AccessToken())
	assert.Equal(t, 1, mock.getCalls)
	assert.Equal(t, "test-key", mock.lastKey)
}

func TestInstrumented_Get_Miss(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")

	value, found := instrumented.Get(context.Background(), "test-key")

	assert.False(t, found)
	assert.Nil(t, value)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Put(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")
	instrumented.Put(context.Background(), "test-key", token.Payload(`{"access_token":"x"}`))

	assert.Equal(t, 1, mock.putCalls)
	assert.Equal(t, "test-key", mock.lastKey)
}

func TestInstrumented_Invalidate(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")
	instrumented.Invalidate(context.Background(), "test-key")

	assert.Equal(t, 1, mock.invCalls)
	assert.Equal(t, "test-key", mock.lastKey)
}

func TestInstrumented_ClearAll(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")
	instrumented.ClearAll(context.Background())

	assert.Equal(t, 1, mock.clearCalls)
}

func TestInstrumented_Close(t *testing.T) {
	expectedErr := errors.New("close error")
	mock := &mockCache{closeErr: expectedErr}

	instrumented := NewInstrumented(mock, "test")

	err := instrumented.Close()
	require.Error(t, err)
	assert.Equal(t, expectedErr, err)
}

func TestInstrumented_WrapsTokens(t *testing.T) {
	ctx := context.Background()
	instrumented := NewInstrumented(New(0), "none")

	instrumented.Put(ctx, "k", token.Payload(`{"access_token":"abc"}`))

	value, found := instrumented.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "abc", value.AccessToken())

	require.NoError(t, instrumented.Close())
}
