package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-lang/crater/internal/api"
)

func TestIndexResolveExplicit(t *testing.T) {
	idx := New("", "")
	want := []api.PackageRef{{Registry: "serde", Version: "1.0.0"}}
	got, err := idx.Resolve(context.Background(), api.CrateSelection{Kind: api.SelectExplicit, Explicit: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIndexResolveDemo(t *testing.T) {
	idx := New("lazy_static", "https://github.com/rust-lang/rand")
	got, err := idx.Resolve(context.Background(), api.CrateSelection{Kind: api.SelectDemo})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "lazy_static", got[0].Registry)
	assert.Equal(t, "https://github.com/rust-lang/rand", got[1].Git)
}

func TestIndexResolveUnsupportedKind(t *testing.T) {
	idx := New("", "")
	_, err := idx.Resolve(context.Background(), api.CrateSelection{Kind: api.SelectTopN})
	assert.Error(t, err)
}

func TestIndexKnownAlwaysTrue(t *testing.T) {
	idx := New("", "")
	assert.True(t, idx.Known(api.PackageRef{Registry: "anything"}))
}
