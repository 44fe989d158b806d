package bundle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/ml"
)

// Slot names the population a bundle was trained on.
type Slot string

const (
	Individual Slot = "individual"
	Collective Slot = "collective"
)

// Slots lists the slots in load order.
func Slots() []Slot {
	return []Slot{Individual, Collective}
}

func (s Slot) suffix() string {
	if s == Collective {
		return "_collective"
	}
	return ""
}

// SlotStatus is the read-only view of a slot used by health reporting.
type SlotStatus struct {
	Slot      Slot        `json:"-"`
	Loaded    bool        `json:"loaded"`
	ID        *uuid.UUID  `json:"id"`
	Family    *ml.Family  `json:"type"`
	TrainedAt *time.Time  `json:"trained_at"`
	Metrics   *ml.Metrics `json:"metrics"`
}

// Registry holds the bundle currently served for each slot. Readers never
// block; a reload swaps the pointer and in-flight requests keep the bundle
// they already hold.
type Registry struct {
	dir        string
	logger     *zap.Logger
	individual atomic.Pointer[Bundle]
	collective atomic.Pointer[Bundle]
}

func NewRegistry(dir string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{dir: dir, logger: logger}
}

func (r *Registry) slot(s Slot) *atomic.Pointer[Bundle] {
	if s == Collective {
		return &r.collective
	}
	return &r.individual
}

// Load reads the default artifact of every slot. A missing artifact leaves
// the slot as it was; other failures are collected and also leave the slot
// untouched.
func (r *Registry) Load() error {
	var errs error
	for _, s := range Slots() {
		path := DefaultPath(r.dir, s)
		b, err := Load(path)
		switch {
		case errors.Is(err, errorx.ErrArtifactNotFound):
			r.logger.Info("model artifact not found", zap.String("slot", string(s)), zap.String("path", path))
			continue
		case err != nil:
			r.logger.Error("model artifact rejected", zap.String("slot", string(s)), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("load %s model: %w", s, err))
			continue
		}
		r.Publish(s, b)
	}
	return errs
}

// Publish makes b the bundle served for slot s.
func (r *Registry) Publish(s Slot, b *Bundle) {
	r.slot(s).Store(b)
	r.logger.Info("model published",
		zap.String("slot", string(s)),
		zap.Stringer("id", b.ID),
		zap.Stringer("family", b.Family),
		zap.Float64("roc_auc", b.Metrics.ROCAUC),
	)
}

// Get returns the bundle of slot s, or nil.
func (r *Registry) Get(s Slot) *Bundle {
	return r.slot(s).Load()
}

// Select picks the collective bundle when requested and loaded, and the
// individual bundle otherwise.
func (r *Registry) Select(useCollective bool) (*Bundle, Slot, error) {
	if useCollective {
		if b := r.Get(Collective); b.Trained() {
			return b, Collective, nil
		}
	}
	if b := r.Get(Individual); b.Trained() {
		return b, Individual, nil
	}
	return nil, "", errorx.ErrUntrainedModel
}

// Recommended is the slot clients should prefer.
func (r *Registry) Recommended() Slot {
	if r.Get(Collective).Trained() {
		return Collective
	}
	return Individual
}

func (r *Registry) Status() []SlotStatus {
	out := make([]SlotStatus, 0, 2)
	for _, s := range Slots() {
		st := SlotStatus{Slot: s}
		if b := r.Get(s); b.Trained() {
			id, family, trainedAt, metrics := b.ID, b.Family, b.TrainedAt, b.Metrics
			st.Loaded = true
			st.ID = &id
			st.Family = &family
			st.TrainedAt = &trainedAt
			st.Metrics = &metrics
		}
		out = append(out, st)
	}
	return out
}
