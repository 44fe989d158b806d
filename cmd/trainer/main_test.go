package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/config"
	"github.com/Skufu/postop-risk/internal/dataset"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

func frameOf(n int) frameLoader {
	return func(ctx context.Context) (*dataset.Frame, error) {
		rng := rand.New(rand.NewSource(11))
		frame := dataset.NewFrame(dataset.Columns())
		for i := 0; i < n; i++ {
			pain := rng.Intn(11)
			label := 0
			if pain >= 6 {
				label = 1
			}
			frame.Rows = append(frame.Rows, dataset.Row{
				dataset.ColAge:         30 + rng.Intn(40),
				dataset.ColSex:         "Feminino",
				dataset.ColSurgeryType: "fistula",
				dataset.ColPainD1:       pain,
				dataset.ColFever:       rng.Intn(2),
				dataset.LabelColumn:    label,
			})
		}
		return frame, nil
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{ModelDir: t.TempDir(), MinTrainingSamples: 30}
}

func TestParseFamilies(t *testing.T) {
	tests := []struct {
		input string
		want  []ml.Family
	}{
		{"all", ml.Families()},
		{"", ml.Families()},
		{"random_forest", []ml.Family{ml.TreeEnsemble}},
		{"GRADIENT_BOOSTING", []ml.Family{ml.BoostedEnsemble}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseFamilies(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseFamilies("svm")
	assert.Error(t, err)
}

func TestTrain_WritesEveryArtifact(t *testing.T) {
	cfg := testConfig(t)
	opts := &runOptions{family: "all", label: dataset.LabelColumn}

	cmp, err := train(context.Background(), frameOf(80), bundle.Collective, cfg, opts, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, cmp.Bundles, 2)

	for _, family := range ml.Families() {
		b, err := bundle.Load(bundle.FamilyPath(cfg.ModelDir, bundle.Collective, family))
		require.NoError(t, err)
		assert.Equal(t, family, b.Family)
	}

	def, err := bundle.Load(bundle.DefaultPath(cfg.ModelDir, bundle.Collective))
	require.NoError(t, err)
	assert.Equal(t, cmp.Best().ID, def.ID)
	assert.Equal(t, cmp.Winner, def.Family)

	_, err = os.Stat(bundle.DefaultPath(cfg.ModelDir, bundle.Individual))
	assert.True(t, errors.Is(err, os.ErrNotExist), "other slot untouched")
}

func TestTrain_SingleFamily(t *testing.T) {
	cfg := testConfig(t)
	opts := &runOptions{family: "gradient_boosting", label: dataset.LabelColumn}

	_, err := train(context.Background(), frameOf(60), bundle.Individual, cfg, opts, zap.NewNop())
	require.NoError(t, err)

	def, err := bundle.Load(bundle.DefaultPath(cfg.ModelDir, bundle.Individual))
	require.NoError(t, err)
	assert.Equal(t, ml.BoostedEnsemble, def.Family)

	_, err = os.Stat(bundle.FamilyPath(cfg.ModelDir, bundle.Individual, ml.TreeEnsemble))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTrain_SmallSampleNeedsForce(t *testing.T) {
	cfg := testConfig(t)
	opts := &runOptions{family: "random_forest", label: dataset.LabelColumn}

	_, err := train(context.Background(), frameOf(20), bundle.Individual, cfg, opts, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorx.ErrInsufficientData))
	assert.Contains(t, err.Error(), "--force")

	entries, err := os.ReadDir(cfg.ModelDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing written on failure")

	opts.force = true
	_, err = train(context.Background(), frameOf(20), bundle.Individual, cfg, opts, zap.NewNop())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.ModelDir, "complication_predictor.gob"))
}

func TestTrain_LoaderFailure(t *testing.T) {
	cfg := testConfig(t)
	load := func(ctx context.Context) (*dataset.Frame, error) {
		return nil, errorx.ErrData
	}
	_, err := train(context.Background(), load, bundle.Collective, cfg, &runOptions{family: "all", label: dataset.LabelColumn}, zap.NewNop())
	assert.True(t, errors.Is(err, errorx.ErrData))
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"individual", "collective"}, names)

	for _, flag := range []string{"model-dir", "family", "label", "force"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
	assert.Equal(t, "all", root.PersistentFlags().Lookup("family").DefValue)
}
