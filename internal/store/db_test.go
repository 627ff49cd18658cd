package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsMalformedURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://localhost:notaport/reviewcore")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database url")
}

func TestPoolOptions(t *testing.T) {
	p := poolSettings{maxOpen: 20, maxIdle: 10, maxLifetime: time.Hour}

	WithMaxOpenConns(6)(&p)
	WithConnMaxLifetime(0)(&p)
	assert.Equal(t, 6, p.maxOpen)
	assert.Equal(t, 3, p.maxIdle)
	assert.Equal(t, time.Hour, p.maxLifetime)

	WithMaxOpenConns(1)(&p)
	assert.Equal(t, 1, p.maxIdle)
	WithMaxOpenConns(-4)(&p)
	assert.Equal(t, 1, p.maxOpen)
}
