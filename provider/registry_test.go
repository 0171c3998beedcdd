package provider

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
)

type stubProvider struct {
	name string
	kind Kind
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Kind() Kind   { return s.kind }

func (s *stubProvider) FetchEntities(ctx context.Context, q Query) ([]*entity.Entity, error) {
	return nil, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	p := &stubProvider{name: "alpha", kind: KindNative}
	r.Register("alpha", p)

	got, err := r.Lookup("alpha")
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.True(t, r.Has("alpha"))
	assert.False(t, r.Has("beta"))

	_, err = r.Lookup("beta")
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryReplaceIsAtomic(t *testing.T) {
	r := NewRegistry()

	first := &stubProvider{name: "alpha"}
	second := &stubProvider{name: "alpha"}
	r.Register("alpha", first)

	// A caller holding the prior instance keeps it after a replacement
	held, err := r.Lookup("alpha")
	require.NoError(t, err)

	r.Register("alpha", second)

	got, err := r.Lookup("alpha")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Same(t, first, held, "in-flight reference is unaffected by the swap")
	assert.Len(t, r.List(), 1)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", &stubProvider{name: "zeta"})
	r.Register("alpha", &stubProvider{name: "alpha"})
	r.Register("mid", &stubProvider{name: "mid"})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestRegistryDescriptorsUseAlias(t *testing.T) {
	r := NewRegistry()
	// Registered alias differs from the provider's self-reported name
	r.Register("walk", &stubProvider{name: "randomwalk", kind: KindExtension})

	descs := r.Descriptors()
	require.Len(t, descs, 1)
	assert.Equal(t, "walk", descs[0].Name)
	assert.Equal(t, KindExtension, descs[0].Kind)
	assert.False(t, descs[0].SupportsStitch)
}

func TestRegistryConcurrentReadersAndWriters(t *testing.T) {
	r := NewRegistry()
	r.Register("hot", &stubProvider{name: "hot"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Register("hot", &stubProvider{name: fmt.Sprintf("hot-%d-%d", n, j)})
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p, err := r.Lookup("hot")
				assert.NoError(t, err)
				assert.NotNil(t, p)
				_ = r.List()
			}
		}()
	}
	wg.Wait()

	assert.True(t, r.Has("hot"))
	assert.Len(t, r.List(), 1)
}
