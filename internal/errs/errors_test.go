package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOfWrappedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeStoreUnavailable, "chat store: append failed", cause)

	require.Equal(t, CodeStoreUnavailable, CodeOf(err))
	require.Equal(t, "chat store: append failed", MessageOf(err))
	require.ErrorIs(t, err, cause)

	// Wrapping again in plain fmt must not lose the code.
	outer := fmt.Errorf("send message: %w", err)
	require.Equal(t, CodeStoreUnavailable, CodeOf(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	err := errors.New("boom")
	require.Equal(t, CodeInternal, CodeOf(err))
	require.Equal(t, "internal error", MessageOf(err))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeAuth:             http.StatusUnauthorized,
		CodeValidation:       http.StatusBadRequest,
		CodeNotFound:         http.StatusNotFound,
		CodeForbidden:        http.StatusForbidden,
		CodeStoreUnavailable: http.StatusServiceUnavailable,
		CodeNotSupported:     http.StatusNotImplemented,
		CodeInternal:         http.StatusInternalServerError,
	}
	for code, status := range cases {
		require.Equal(t, status, HTTPStatus(New(code, "x")), string(code))
	}
}
