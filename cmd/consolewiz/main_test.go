package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSet(t *testing.T) {
	values, err := parseSet([]string{"name=pool", "empty=", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "pool", "empty": "", "expr": "a=b"}, values)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseSet([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestResultPayload(t *testing.T) {
	tests := []struct {
		in   string
		want json.RawMessage
	}{
		{"", nil},
		{`{"guid":"g"}`, json.RawMessage(`{"guid":"g"}`)},
		{`42`, json.RawMessage(`42`)},
		{`disk full`, json.RawMessage(`"disk full"`)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, resultPayload(tt.in))
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"setup", "run", "wait", "publish", "tasks"} {
		assert.True(t, names[want], want)
	}
}
