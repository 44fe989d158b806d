package bundle_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

func TestRegistry_EmptyDir(t *testing.T) {
	r := bundle.NewRegistry(t.TempDir(), zap.NewNop())
	require.NoError(t, r.Load())

	_, _, err := r.Select(true)
	assert.True(t, errors.Is(err, errorx.ErrUntrainedModel))
	assert.Equal(t, bundle.Individual, r.Recommended())
	for _, st := range r.Status() {
		assert.False(t, st.Loaded)
		assert.Nil(t, st.Metrics)
	}
}

func TestRegistry_Select(t *testing.T) {
	dir := t.TempDir()
	individual := trainedBundle(t, ml.TreeEnsemble)
	collective := trainedBundle(t, ml.BoostedEnsemble)

	t.Run("individual only", func(t *testing.T) {
		require.NoError(t, bundle.Save(individual, bundle.DefaultPath(dir, bundle.Individual)))
		r := bundle.NewRegistry(dir, nil)
		require.NoError(t, r.Load())

		b, slot, err := r.Select(true)
		require.NoError(t, err)
		assert.Equal(t, bundle.Individual, slot)
		assert.Equal(t, individual.ID, b.ID)
		assert.Equal(t, bundle.Individual, r.Recommended())
	})

	t.Run("both loaded", func(t *testing.T) {
		require.NoError(t, bundle.Save(collective, bundle.DefaultPath(dir, bundle.Collective)))
		r := bundle.NewRegistry(dir, nil)
		require.NoError(t, r.Load())

		_, slot, err := r.Select(true)
		require.NoError(t, err)
		assert.Equal(t, bundle.Collective, slot)

		_, slot, err = r.Select(false)
		require.NoError(t, err)
		assert.Equal(t, bundle.Individual, slot)
		assert.Equal(t, bundle.Collective, r.Recommended())

		status := r.Status()
		require.Len(t, status, 2)
		assert.True(t, status[1].Loaded)
		assert.Equal(t, ml.BoostedEnsemble, *status[1].Family)
	})

	t.Run("collective only, individual requested", func(t *testing.T) {
		r := bundle.NewRegistry(t.TempDir(), nil)
		r.Publish(bundle.Collective, collective)
		_, _, err := r.Select(false)
		assert.True(t, errors.Is(err, errorx.ErrUntrainedModel))
	})
}

func TestRegistry_LoadKeepsPreviousOnCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	r := bundle.NewRegistry(dir, nil)
	first := trainedBundle(t, ml.TreeEnsemble)
	r.Publish(bundle.Individual, first)

	require.NoError(t, os.WriteFile(bundle.DefaultPath(dir, bundle.Individual), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(bundle.DefaultPath(dir, bundle.Collective), []byte("junk"), 0o644))

	err := r.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorx.ErrArtifactCorrupt))
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, first.ID, r.Get(bundle.Individual).ID)
}

func TestRegistry_PublishSwaps(t *testing.T) {
	r := bundle.NewRegistry(t.TempDir(), nil)
	a, b := trainedBundle(t, ml.TreeEnsemble), trainedBundle(t, ml.TreeEnsemble)

	r.Publish(bundle.Individual, a)
	held := r.Get(bundle.Individual)
	r.Publish(bundle.Individual, b)

	assert.Equal(t, a.ID, held.ID, "held reference is unaffected by a swap")
	assert.Equal(t, b.ID, r.Get(bundle.Individual).ID)
}
