package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1024", 1024},
		{"1KB", KB},
		{"1 kb", KB},
		{"35MB", 35 * MB},
		{"1.5GB", GB + GB/2},
		{"2Gi", 2 * GB},
		{"1TB", TB},
		{"  512 B ", 512},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "MB", "12XB", "-5MB", "1.2.3GB"} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "1.00 KB", Format(KB))
	assert.Equal(t, "35.00 MB", Format(35*MB))
	assert.Equal(t, "1.50 GB", Format(GB+GB/2))
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var doc struct {
		Limit Size `yaml:"limit"`
	}

	require.NoError(t, yaml.Unmarshal([]byte(`limit: 10MB`), &doc))
	assert.Equal(t, int64(10*MB), doc.Limit.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte(`limit: 4096`), &doc))
	assert.Equal(t, int64(4096), doc.Limit.Bytes())

	assert.Error(t, yaml.Unmarshal([]byte(`limit: [1, 2]`), &doc))
}
