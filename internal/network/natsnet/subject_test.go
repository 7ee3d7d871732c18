package natsnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/keyexpr"
	"github.com/life-stream-dev/life-stream-go-mqtt-bridge/internal/network"
)

func TestSubjectsFor(t *testing.T) {
	tests := []struct {
		key    string
		expect []string
	}{
		{"a/b", []string{"a.b"}},
		{"home/*/temp", []string{"home.*.temp"}},
		{"home/**", []string{"home", "home.>"}},
		{"**", []string{">"}},
		{"v1.2/x y", []string{"v1%2E2.x%20y"}},
		{"100%/a>b", []string{"100%25.a%3Eb"}},
	}
	for _, tt := range tests {
		subjects, err := subjectsFor(keyexpr.MustNew(tt.key))
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.expect, subjects, tt.key)
	}

	_, err := subjectsFor("a/**/b")
	assert.ErrorIs(t, err, network.ErrUnsupportedKey)
}

func TestSubjectFor(t *testing.T) {
	subject, err := subjectFor("home/a/b")
	require.NoError(t, err)
	assert.Equal(t, "home.a.b", subject)

	_, err = subjectFor("home/*")
	assert.ErrorIs(t, err, network.ErrUnsupportedKey)
}

func TestKeyForRoundTrip(t *testing.T) {
	for _, k := range []string{"a/b", "v1.2/x y", "100%/a>b", "@mqtt/status/__version__"} {
		subject, err := subjectFor(keyexpr.MustNew(k))
		require.NoError(t, err)
		key, err := keyFor(subject)
		require.NoError(t, err)
		assert.Equal(t, k, key.String())
	}
}
