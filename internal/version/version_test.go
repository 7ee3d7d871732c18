package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	t.Cleanup(func() { buildVersion = old })

	buildVersion = "v1.2.3"
	assert.Equal(t, "v1.2.3", Current())

	buildVersion = "  "
	assert.NotEmpty(t, Current())
}

func TestPseudoVersion(t *testing.T) {
	tests := []struct {
		name     string
		settings []debug.BuildSetting
		want     string
	}{
		{"no vcs", nil, ""},
		{"clean", []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2025-03-04T05:06:07Z"},
		}, "v0.0.0-20250304050607-0123456789ab"},
		{"dirty", []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc"},
			{Key: "vcs.time", Value: "2025-03-04T05:06:07Z"},
			{Key: "vcs.modified", Value: "true"},
		}, "v0.0.0-20250304050607-abc+dirty"},
		{"bad time", []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc"},
			{Key: "vcs.time", Value: "yesterday"},
		}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pseudoVersion(tt.settings), tt.name)
	}
}

func TestModule(t *testing.T) {
	assert.NotEmpty(t, Module())
}
