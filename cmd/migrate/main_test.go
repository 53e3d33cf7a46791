package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://localhost/fulfillment "},
			want: options{direction: "up", dsn: "postgres://localhost/fulfillment"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-direction", "DOWN", "-steps", "2", "-dsn", "postgres://flag"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "down", steps: 2, dsn: "postgres://flag"},
		},
		{
			name:    "missing dsn",
			args:    []string{"-direction", "status"},
			wantErr: envPostgresDSN,
		},
		{
			name:    "unknown direction",
			args:    []string{"-direction", "sideways", "-dsn", "postgres://x"},
			wantErr: "unsupported direction",
		},
		{
			name:    "negative steps",
			args:    []string{"-steps", "-1", "-dsn", "postgres://x"},
			wantErr: "steps must be >= 0",
		},
		{
			name:    "unknown flag",
			args:    []string{"-force"},
			wantErr: "usage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseOptions(tt.args, lookupFrom(tt.env), io.Discard)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, errUsage)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{direction: "status", dsn: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"}, io.Discard)
	assert.ErrorContains(t, err, "open postgres store")
}

func TestRun_PostgresLifecycle(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("FULFILLMENT_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("FULFILLMENT_TEST_POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, options{direction: "up", dsn: dsn}, &out))
	assert.Contains(t, out.String(), "migrate up ok")

	out.Reset()
	require.NoError(t, run(ctx, options{direction: "status", dsn: dsn}, &out))
	assert.Contains(t, out.String(), "migrate status ok")

	out.Reset()
	require.NoError(t, run(ctx, options{direction: "down", steps: 1, dsn: dsn}, &out))
	require.NoError(t, run(ctx, options{direction: "up", dsn: dsn}, &out))
}
