package rpc

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDSourceMonotonic(t *testing.T) {
	var ids IDSource
	require.Equal(t, uint64(1), ids.Next())
	require.Equal(t, uint64(2), ids.Next())

	seen := make(map[uint64]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.Next()
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 50)
}

func TestNewRequest(t *testing.T) {
	var ids IDSource
	req := NewRequest(&ids, "eth_accounts", nil)
	require.Equal(t, uint64(1), req.ID)
	require.Equal(t, "2.0", req.JSONRPC)
	require.Equal(t, "eth_accounts", req.Method)
}

func TestErrorIsByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Code: CodeUserRejected, Message: "nope"})
	require.True(t, errors.Is(err, ErrUserRejected))
	require.False(t, errors.Is(err, ErrInternal))

	converted := AsError(errors.New("boom"))
	require.Equal(t, CodeInternal, converted.Code)
	require.Equal(t, "boom", converted.Message)
	require.Nil(t, AsError(nil))

	cause := errors.New("port closed")
	require.ErrorIs(t, AsError(fmt.Errorf("send: %w", cause)), cause)
}

func TestConvertedErrorKeepsItsKind(t *testing.T) {
	cause := errors.New("user closed the window")
	converted := AsError(fmt.Errorf("wait: %w", cause))
	require.Equal(t, CodeInternal, converted.Code)
	require.ErrorIs(t, converted, cause)
	require.False(t, errors.Is(converted, ErrInternal))
	require.False(t, errors.Is(fmt.Errorf("batch: %w", converted), ErrInternal))

	reported := &Error{Code: CodeInternal, Message: "Internal error"}
	require.ErrorIs(t, reported, ErrInternal)
}
