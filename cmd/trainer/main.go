package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/bundle"
	"github.com/Skufu/postop-risk/internal/config"
	"github.com/Skufu/postop-risk/internal/dataset"
	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/logger"
	"github.com/Skufu/postop-risk/internal/ml"
	"github.com/Skufu/postop-risk/internal/training"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// runOptions are the flags shared by every training command.
type runOptions struct {
	modelDir string
	family   string
	label    string
	force    bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &runOptions{}
	root := &cobra.Command{
		Use:          "trainer",
		Short:        "Train post-operative complication risk models",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.modelDir, "model-dir", "", "Directory for model artifacts (default $MODEL_DIR or ./models)")
	root.PersistentFlags().StringVar(&opts.family, "family", "all", "Model family: random_forest, gradient_boosting or all")
	root.PersistentFlags().StringVar(&opts.label, "label", dataset.LabelColumn, "Outcome column")
	root.PersistentFlags().BoolVar(&opts.force, "force", false, "Train even when the dataset is below the minimum sample size")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (default $LOG_LEVEL)")

	root.AddCommand(individualCmd(opts))
	root.AddCommand(collectiveCmd(opts))
	return root
}

func individualCmd(opts *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "individual",
		Short: "Train on the practice's own follow-up database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, err := dataset.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer pool.Close()

			extractor := dataset.NewExtractor(pool, lg)
			_, err = train(ctx, extractor.Extract, bundle.Individual, cfg, opts, lg)
			return err
		},
	}
}

func collectiveCmd(opts *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collective",
		Short: "Train on the pseudonymized multi-practice export",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, lg, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = lg.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := dataset.NewCollectiveClient(cfg.CollectiveBaseURL, cfg.AdminAPIKey, lg)
			_, err = train(ctx, client.FetchFrame, bundle.Collective, cfg, opts, lg)
			return err
		},
	}
}

func setup(opts *runOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	if opts.modelDir != "" {
		cfg.ModelDir = opts.modelDir
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	lg, err := logger.New(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, lg, nil
}

type frameLoader func(ctx context.Context) (*dataset.Frame, error)

// train loads a frame, trains the requested families and writes the
// artifacts of the slot. Nothing is written unless every family trained.
func train(ctx context.Context, load frameLoader, slot bundle.Slot, cfg *config.Config, opts *runOptions, lg *zap.Logger) (*training.Comparison, error) {
	families, err := parseFamilies(opts.family)
	if err != nil {
		return nil, err
	}

	frame, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s training data: %w", slot, err)
	}

	topts := training.DefaultOptions()
	topts.MinSamples = cfg.MinTrainingSamples
	topts.AllowSmallSample = opts.force
	trainer := training.New(topts, lg.With(zap.String("slot", string(slot))))

	cmp, err := trainer.CompareFamilies(frame, opts.label, families)
	if errors.Is(err, errorx.ErrInsufficientData) {
		return nil, fmt.Errorf("%w; rerun with --force to train anyway", err)
	}
	if err != nil {
		return nil, err
	}

	for _, family := range families {
		path := bundle.FamilyPath(cfg.ModelDir, slot, family)
		if err := bundle.Save(cmp.Bundles[family], path); err != nil {
			return nil, err
		}
		lg.Info("artifact written", zap.Stringer("family", family), zap.String("path", path))
	}
	path := bundle.DefaultPath(cfg.ModelDir, slot)
	if err := bundle.Save(cmp.Best(), path); err != nil {
		return nil, err
	}
	lg.Info("default model written",
		zap.String("slot", string(slot)),
		zap.Stringer("family", cmp.Winner),
		zap.Stringer("id", cmp.Best().ID),
		zap.String("path", path),
	)
	return cmp, nil
}

func parseFamilies(value string) ([]ml.Family, error) {
	if strings.EqualFold(value, "all") || value == "" {
		return ml.Families(), nil
	}
	family, err := ml.ParseFamily(strings.ToLower(value))
	if err != nil {
		return nil, err
	}
	return []ml.Family{family}, nil
}
