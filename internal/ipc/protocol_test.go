package ipc

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRequestMarshalsParams(t *testing.T) {
	req, err := NewRequest(KindDefinition, PositionParams{Path: "a.go", Line: 3, Column: 5})
	require.NoError(t, err)
	require.Equal(t, KindDefinition, req.Kind)
	require.NotEqual(t, uuid.Nil, req.RequestID)
	require.Contains(t, string(req.Params), `"path":"a.go"`)
}

func TestNewRequestWithNilParams(t *testing.T) {
	req, err := NewRequest(KindPing, nil)
	require.NoError(t, err)
	require.Nil(t, req.Params)
}

func TestNewErrorResponseRoundTrip(t *testing.T) {
	id := uuid.New()
	resp := NewErrorResponse(id, ErrCodeNotFound, errors.New("symbol not found"))
	require.Equal(t, id, resp.RequestID)
	require.Nil(t, resp.Result)
	require.Equal(t, ErrCodeNotFound, resp.Error.Code)
	require.Contains(t, resp.Error.Error(), "not_found")
}
