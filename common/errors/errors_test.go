package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "direct error",
			err:      New(KindNotEnoughGas, "balance below floor"),
			expected: KindNotEnoughGas,
		},
		{
			name:     "wrapped with pkg errors",
			err:      pkgerrors.Wrap(New(KindSubgraphNotSynced, "lagging"), "evaluating auction"),
			expected: KindSubgraphNotSynced,
		},
		{
			name:     "wrapped with fmt",
			err:      fmt.Errorf("handling request: %w", New(KindAuctionExpired, "expiry too close")),
			expected: KindAuctionExpired,
		},
		{
			name:     "unclassified error",
			err:      pkgerrors.New("connection refused"),
			expected: KindRpcError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(pkgerrors.New("dial tcp: timeout"), KindProvidersNotAvailable, "all providers failed")

	assert.True(t, IsKind(err, KindProvidersNotAvailable))
	assert.False(t, IsKind(err, KindNotEnoughLiquidity))
	assert.False(t, IsKind(nil, KindProvidersNotAvailable))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := pkgerrors.New("nonce too low")
	err := Wrap(cause, KindRpcError, "sending transaction")

	require.Error(t, err)
	assert.Equal(t, cause, pkgerrors.Cause(err.Unwrap()))
	assert.Contains(t, err.Error(), "RpcError")
	assert.Contains(t, err.Error(), "nonce too low")
}

func TestWithContext(t *testing.T) {
	err := New(KindNotEnoughLiquidity, "router balance too low").
		WithContext("chainId", "1337").
		WithContext("assetId", "0x0000000000000000000000000000000000000000")

	ctx := ContextOf(err)
	require.NotNil(t, ctx)
	assert.Equal(t, "1337", ctx["chainId"])
	assert.Len(t, ctx, 2)
}

func TestContextOfUnclassified(t *testing.T) {
	assert.Nil(t, ContextOf(pkgerrors.New("plain")))
}
