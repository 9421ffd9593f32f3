package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuilder(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		wantErr bool
	}{
		{name: "https base", base: "https://code.example.com"},
		{name: "trailing slash", base: "https://code.example.com/"},
		{name: "empty", base: "", wantErr: true},
		{name: "no scheme", base: "code.example.com", wantErr: true},
		{name: "ftp scheme", base: "ftp://code.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBuilder(tt.base)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, b)
		})
	}
}

func TestBuilder_ProductionURI(t *testing.T) {
	b, err := NewBuilder("https://code.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "https://code.example.com/owners/package/7/", b.ProductionURI("/owners/package/7/"))
	assert.Equal(t, "https://code.example.com/diffusion/R1/", b.ProductionURI("diffusion/R1/"))
	assert.Equal(t, "https://other.example.com/x", b.ProductionURI("https://other.example.com/x"))

	prefixed, err := NewBuilder("https://example.com/phab")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/phab/p/alice/", prefixed.ProductionURI("/p/alice/"))
}
