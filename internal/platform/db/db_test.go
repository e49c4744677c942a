package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutDSNDisablesPool(t *testing.T) {
	pool, err := New(context.Background(), "", Options{})
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestNewRejectsInvalidDSN(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz", Options{})
	assert.Error(t, err)
}

func TestStatementTimeout(t *testing.T) {
	assert.Equal(t, "120000ms", StatementTimeout(2*time.Minute))
	assert.Equal(t, "1500ms", StatementTimeout(1500*time.Millisecond))
}
