package recommender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ModeFull    = "full"
	ModePartial = "partial"
)

const (
	OutcomeRanked   = "ranked"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// ErrNoSource is returned by Refit when no TrainingSource was configured.
var ErrNoSource = errors.New("no training source configured")

// Config holds the hyperparameters both models are constructed from.
type Config struct {
	Model          ModelParams
	PositiveEpochs int
	NegativeEpochs int
	Combiner       Combiner
}

func DefaultConfig() Config {
	return Config{
		Model:          DefaultModelParams(),
		PositiveEpochs: 8,
		NegativeEpochs: 8,
		Combiner:       RatioCombiner{},
	}
}

func (c Config) withDefaults() Config {
	c.Model = c.Model.withDefaults()
	if c.PositiveEpochs <= 0 {
		c.PositiveEpochs = 8
	}
	if c.NegativeEpochs <= 0 {
		c.NegativeEpochs = 8
	}
	if c.Combiner == nil {
		c.Combiner = RatioCombiner{}
	}
	return c
}

// TrainingSource supplies the full universe and rating history for a full fit.
type TrainingSource interface {
	TrainingData(ctx context.Context) (Universe, []Rating, error)
}

// Observer receives training and serving events, typically to export metrics.
type Observer interface {
	ObserveFit(mode string, elapsed time.Duration, err error)
	ObserveRecommend(outcome string)
	ObserveState(stats Stats)
}

// FallbackFunc produces a default ordering for users the models cannot rank. candidates is
// nil when the caller asked for every place.
type FallbackFunc func(candidates []int64) ([]int64, error)

// Ranking is an ordered list of place ids, best first.
type Ranking struct {
	PlaceIDs []int64   `json:"place_ids"`
	Scores   []float64 `json:"scores,omitempty"`
	Degraded bool      `json:"degraded"`
	Version  uint64    `json:"model_version"`
}

// UpdateResult describes how an incremental update was applied.
type UpdateResult struct {
	Mode    string `json:"mode"`
	Version uint64 `json:"model_version"`
}

// Stats summarises the published state.
type Stats struct {
	Ready          bool      `json:"ready"`
	Version        uint64    `json:"version"`
	Users          int       `json:"users"`
	Places         int       `json:"places"`
	TrainedAt      time.Time `json:"trained_at"`
	Loss           Loss      `json:"loss,omitempty"`
	Components     int       `json:"components,omitempty"`
	PositiveEpochs int       `json:"positive_epochs,omitempty"`
	NegativeEpochs int       `json:"negative_epochs,omitempty"`
	Combiner       string    `json:"combiner,omitempty"`
}

// state is an immutable bundle; it is replaced wholesale, never edited after publication.
type state struct {
	cfg       Config
	mapper    *IdentifierMapper
	positive  *AffinityModel
	negative  *AffinityModel
	version   uint64
	trainedAt time.Time
}

// Recommender owns the identifier mapper and the liked/disliked models. Writers are
// serialised by mu; readers load the published state without locking.
type Recommender struct {
	cfg      Config
	store    SnapshotStore
	source   TrainingSource
	observer Observer
	logger   *logrus.Logger

	mu      sync.Mutex
	current atomic.Pointer[state]
}

type Option func(*Recommender)

// WithSource lets FitPartial escalate to a full fit and enables Refit.
func WithSource(src TrainingSource) Option {
	return func(r *Recommender) { r.source = src }
}

func WithObserver(o Observer) Option {
	return func(r *Recommender) { r.observer = o }
}

// WithCombiner overrides cfg.Combiner for states fitted by this engine.
func WithCombiner(c Combiner) Option {
	return func(r *Recommender) {
		if c != nil {
			r.cfg.Combiner = c
		}
	}
}

// New returns a cold recommender. store may be nil, in which case nothing is persisted.
func New(cfg Config, store SnapshotStore, logger *logrus.Logger, opts ...Option) *Recommender {
	r := &Recommender{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready reports whether a trained state has been published.
func (r *Recommender) Ready() bool { return r.current.Load() != nil }

// Version is the published state's version, zero while cold.
func (r *Recommender) Version() uint64 {
	if st := r.current.Load(); st != nil {
		return st.version
	}
	return 0
}

func (r *Recommender) Stats() Stats {
	st := r.current.Load()
	if st == nil {
		return Stats{}
	}
	return st.stats()
}

// Fit rebuilds the mapper from universe plus every id in ratings and trains both models from
// scratch. On any error the previously published state stays in place.
func (r *Recommender) Fit(ctx context.Context, universe Universe, ratings []Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fitLocked(ctx, universe, ratings)
}

// Refit runs a full fit over the configured TrainingSource.
func (r *Recommender) Refit(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refitLocked(ctx)
}

func (r *Recommender) refitLocked(ctx context.Context) error {
	universe, ratings, err := r.source.TrainingData(ctx)
	if err != nil {
		r.observeFit(ModeFull, 0, err)
		return fmt.Errorf("load training data: %w", err)
	}
	return r.fitLocked(ctx, universe, ratings)
}

func (r *Recommender) fitLocked(ctx context.Context, universe Universe, ratings []Rating) (err error) {
	start := time.Now()
	defer func() { r.observeFit(ModeFull, time.Since(start), err) }()

	users := slices.Clone(universe.UserIDs)
	places := slices.Clone(universe.PlaceIDs)
	for _, rt := range ratings {
		if err := rt.Validate(); err != nil {
			return err
		}
		users = append(users, rt.UserID)
		places = append(places, rt.PlaceID)
	}

	cfg := r.cfg
	mapper := BuildMapper(users, places)
	pos, neg, err := partition(mapper, ratings)
	if err != nil {
		return err
	}

	positive := NewAffinityModel(cfg.Model)
	if err := positive.Fit(ctx, mapper.NumUsers(), mapper.NumPlaces(), pos, cfg.PositiveEpochs); err != nil {
		return fmt.Errorf("fit positive model: %w", err)
	}
	negParams := cfg.Model
	negParams.Seed++
	negative := NewAffinityModel(negParams)
	if err := negative.Fit(ctx, mapper.NumUsers(), mapper.NumPlaces(), neg, cfg.NegativeEpochs); err != nil {
		return fmt.Errorf("fit negative model: %w", err)
	}

	next := &state{
		cfg:       cfg,
		mapper:    mapper,
		positive:  positive,
		negative:  negative,
		version:   r.Version() + 1,
		trainedAt: time.Now().UTC(),
	}
	if err := r.publish(ctx, next); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"users":       mapper.NumUsers(),
		"places":      mapper.NumPlaces(),
		"positive":    len(pos),
		"negative":    len(neg),
		"version":     next.version,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Recommender fitted")
	return nil
}

// FitPartial absorbs new ratings into copies of the current models without touching the
// mapper. A rating naming an id the mapper has never seen makes the update impossible; with a
// TrainingSource configured it is escalated to a full fit, otherwise ErrMapperStale is returned.
func (r *Recommender) FitPartial(ctx context.Context, ratings []Rating) (UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if cur == nil {
		return UpdateResult{}, ErrNotReady
	}
	for _, rt := range ratings {
		if err := rt.Validate(); err != nil {
			return UpdateResult{}, err
		}
	}

	pos, neg, err := partition(cur.mapper, ratings)
	if err != nil {
		stale := fmt.Errorf("%w: %w", ErrMapperStale, err)
		if r.source == nil {
			return UpdateResult{}, stale
		}
		r.logger.WithError(stale).Info("Escalating incremental update to full fit")
		if err := r.refitLocked(ctx); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{Mode: ModeFull, Version: r.Version()}, nil
	}
	if len(ratings) == 0 {
		return UpdateResult{Mode: ModePartial, Version: cur.version}, nil
	}

	start := time.Now()
	positive := cur.positive.Clone()
	negative := cur.negative.Clone()
	if err := positive.FitPartial(ctx, pos, cur.cfg.PositiveEpochs); err != nil {
		r.observeFit(ModePartial, time.Since(start), err)
		return UpdateResult{}, fmt.Errorf("partial fit positive model: %w", err)
	}
	if err := negative.FitPartial(ctx, neg, cur.cfg.NegativeEpochs); err != nil {
		r.observeFit(ModePartial, time.Since(start), err)
		return UpdateResult{}, fmt.Errorf("partial fit negative model: %w", err)
	}

	next := &state{
		cfg:       cur.cfg,
		mapper:    cur.mapper,
		positive:  positive,
		negative:  negative,
		version:   cur.version + 1,
		trainedAt: time.Now().UTC(),
	}
	err = r.publish(ctx, next)
	r.observeFit(ModePartial, time.Since(start), err)
	if err != nil {
		return UpdateResult{}, err
	}

	r.logger.WithFields(logrus.Fields{
		"positive": len(pos),
		"negative": len(neg),
		"version":  next.version,
	}).Debug("Recommender updated incrementally")
	return UpdateResult{Mode: ModePartial, Version: next.version}, nil
}

// Rank orders candidates for userID. A nil candidates slice means every known place; unknown
// candidate ids are dropped, duplicates collapsed. An unknown user yields ErrUnknownUser.
func (r *Recommender) Rank(userID int64, candidates []int64) (*Ranking, error) {
	st := r.current.Load()
	if st == nil {
		return nil, ErrNotReady
	}
	return st.rank(userID, candidates)
}

// Recommend is Rank with cold-start degradation: when the user cannot be ranked (unknown to
// the mapper, or the engine is still cold) the fallback ordering is returned instead, marked
// Degraded and restricted to the candidate set.
func (r *Recommender) Recommend(userID int64, candidates []int64, fallback FallbackFunc) (*Ranking, error) {
	ranking, err := r.Rank(userID, candidates)
	if err == nil {
		r.observeRecommend(OutcomeRanked)
		return ranking, nil
	}
	if fallback == nil || !(errors.Is(err, ErrUnknownUser) || errors.Is(err, ErrNotReady)) {
		r.observeRecommend(OutcomeError)
		return nil, err
	}

	ids, ferr := fallback(candidates)
	if ferr != nil {
		r.observeRecommend(OutcomeError)
		return nil, fmt.Errorf("fallback ranking: %w", ferr)
	}
	r.observeRecommend(OutcomeDegraded)
	return &Ranking{
		PlaceIDs: restrict(ids, candidates),
		Degraded: true,
		Version:  r.Version(),
	}, nil
}

// Save persists the published state.
func (r *Recommender) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.current.Load()
	if st == nil {
		return ErrNotReady
	}
	return r.persist(ctx, st)
}

// Load replaces the published state with the stored snapshot. The snapshot's own
// hyperparameters take effect for subsequent partial fits.
func (r *Recommender) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return ErrSnapshotNotFound
	}
	blob, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	st, err := decodeSnapshot(blob)
	if err != nil {
		return err
	}
	r.current.Store(st)
	if r.observer != nil {
		r.observer.ObserveState(st.stats())
	}

	r.logger.WithFields(logrus.Fields{
		"users":   st.mapper.NumUsers(),
		"places":  st.mapper.NumPlaces(),
		"version": st.version,
	}).Info("Recommender snapshot loaded")
	return nil
}

// publish persists next and only then makes it visible to readers.
func (r *Recommender) publish(ctx context.Context, next *state) error {
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.current.Store(next)
	if r.observer != nil {
		r.observer.ObserveState(next.stats())
	}
	return nil
}

func (r *Recommender) persist(ctx context.Context, st *state) error {
	if r.store == nil {
		return nil
	}
	blob, err := encodeSnapshot(st)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.store.Save(ctx, blob); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func (r *Recommender) observeFit(mode string, elapsed time.Duration, err error) {
	if r.observer != nil {
		r.observer.ObserveFit(mode, elapsed, err)
	}
}

func (r *Recommender) observeRecommend(outcome string) {
	if r.observer != nil {
		r.observer.ObserveRecommend(outcome)
	}
}

func (st *state) rank(userID int64, candidates []int64) (*Ranking, error) {
	u, err := st.mapper.ToInternalUser(userID)
	if err != nil {
		return nil, err
	}

	var indices []int
	if candidates == nil {
		indices = make([]int, st.mapper.NumPlaces())
		for i := range indices {
			indices[i] = i
		}
	} else {
		seen := make(map[int]struct{}, len(candidates))
		for _, id := range candidates {
			idx, err := st.mapper.ToInternalPlace(id)
			if err != nil {
				continue
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			indices = append(indices, idx)
		}
	}

	ranking := &Ranking{PlaceIDs: []int64{}, Scores: []float64{}, Version: st.version}
	if len(indices) == 0 {
		return ranking, nil
	}

	pos, err := st.positive.Score(u, indices)
	if err != nil {
		return nil, fmt.Errorf("score positive model: %w", err)
	}
	neg, err := st.negative.Score(u, indices)
	if err != nil {
		return nil, fmt.Errorf("score negative model: %w", err)
	}

	items := make([]rankedPlace, len(indices))
	for k, idx := range indices {
		id, err := st.mapper.ToExternalPlace(idx)
		if err != nil {
			return nil, err
		}
		items[k] = rankedPlace{id: id, score: st.cfg.Combiner.Combine(pos[k], neg[k])}
	}
	order(items)

	ranking.PlaceIDs = make([]int64, len(items))
	ranking.Scores = make([]float64, len(items))
	for k, it := range items {
		ranking.PlaceIDs[k] = it.id
		ranking.Scores[k] = it.score
	}
	return ranking, nil
}

func (st *state) stats() Stats {
	return Stats{
		Ready:          true,
		Version:        st.version,
		Users:          st.mapper.NumUsers(),
		Places:         st.mapper.NumPlaces(),
		TrainedAt:      st.trainedAt,
		Loss:           st.cfg.Model.Loss,
		Components:     st.cfg.Model.Components,
		PositiveEpochs: st.cfg.PositiveEpochs,
		NegativeEpochs: st.cfg.NegativeEpochs,
		Combiner:       st.cfg.Combiner.Name(),
	}
}

// restrict deduplicates ids and, when candidates is non-nil, keeps only candidate ids.
// Candidates the fallback did not return are dropped.
func restrict(ids, candidates []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	var allowed map[int64]struct{}
	if candidates != nil {
		allowed = make(map[int64]struct{}, len(candidates))
		for _, id := range candidates {
			allowed[id] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
