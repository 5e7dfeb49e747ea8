package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	key       string
	available bool
}

func (f *fakeAdapter) Key() string      { return f.key }
func (f *fakeAdapter) Available() bool  { return f.available }
func (f *fakeAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Content: "ok", Provider: f.key}, nil
}
func (f *fakeAdapter) Models() []ModelDescriptor {
	return []ModelDescriptor{{ID: f.key + "-model"}}
}
func (f *fakeAdapter) Metadata() Metadata {
	return Metadata{DisplayName: f.key}
}

func TestRegistry_Resolve(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(&fakeAdapter{key: "alpha", available: true}))
	r := b.Build()

	a, err := r.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", a.Key())
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewBuilder().Build()

	_, err := r.Resolve("nope")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestBuilder_DuplicateKey(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(&fakeAdapter{key: "alpha"}))

	err := b.Register(&fakeAdapter{key: "alpha"})
	assert.True(t, errors.Is(err, ErrDuplicateProvider))
}

func TestBuilder_EmptyKey(t *testing.T) {
	b := NewBuilder()
	assert.Error(t, b.Register(&fakeAdapter{key: ""}))
}

func TestRegistry_ListAll(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(&fakeAdapter{key: "beta", available: false}))
	require.NoError(t, b.Register(&fakeAdapter{key: "alpha", available: true}))
	r := b.Build()

	all := r.ListAll()
	require.Len(t, all, 2)
	// Sorted by key, unconfigured adapters stay listed.
	assert.Equal(t, "alpha", all[0].Key)
	assert.True(t, all[0].Configured)
	assert.Equal(t, "beta", all[1].Key)
	assert.False(t, all[1].Configured)
}

func TestRegistry_ListAvailable(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(&fakeAdapter{key: "beta", available: false}))
	require.NoError(t, b.Register(&fakeAdapter{key: "alpha", available: true}))
	r := b.Build()

	avail := r.ListAvailable()
	require.Len(t, avail, 1)
	assert.Equal(t, "alpha", avail[0].Key)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{400, KindInvalidRequest, false},
		{401, KindAuth, false},
		{403, KindAuth, false},
		{404, KindInvalidRequest, false},
		{408, KindTimeout, true},
		{429, KindRateLimited, true},
		{500, KindUpstream, true},
		{503, KindUpstream, true},
	}
	for _, tc := range cases {
		e := ClassifyStatus("test", tc.status, "detail")
		assert.Equal(t, tc.kind, e.Kind, "status %d", tc.status)
		assert.Equal(t, tc.retryable, e.Retryable, "status %d", tc.status)
		assert.Equal(t, tc.status, e.Status)
	}
}

func TestWrapTransport(t *testing.T) {
	e := WrapTransport("test", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, e.Kind)
	assert.True(t, e.Retryable)

	e = WrapTransport("test", context.Canceled)
	assert.Equal(t, KindCanceled, e.Kind)
	assert.False(t, e.Retryable)

	e = WrapTransport("test", errors.New("connection refused"))
	assert.Equal(t, KindUpstream, e.Kind)
	assert.True(t, e.Retryable)
}
