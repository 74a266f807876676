package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	require.Equal(t, "metadata.Get: not_found: id 7", New(KindNotFound, "metadata.Get", "id 7").Error())
	require.Equal(t, "invalid_query: limit -1", Newf(KindInvalidQuery, "", "limit %d", -1).Error())
	require.Equal(t, "maintenance.Apply: maintenance_write_failure: boom",
		Wrap(KindMaintenanceWrite, "maintenance.Apply", errors.New("boom")).Error())
}

func TestWrapMatchesSentinelAndCause(t *testing.T) {
	err := fmt.Errorf("applying: %w", Wrap(KindStoreUnavailable, "metadata.Put", context.DeadlineExceeded))

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, IsStoreUnavailable(err))
	require.False(t, IsNotFound(err))
	require.Equal(t, KindStoreUnavailable, KindOf(err))

	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "metadata.Put", e.Op)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(nil))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrNotFound)))
	require.Equal(t, KindInvalidQuery, KindOf(New(KindInvalidQuery, "query.Validate", "empty")))
	require.True(t, IsInvalidQuery(New(KindInvalidQuery, "", "")))
	require.Equal(t, "unknown", Kind(99).String())
}
