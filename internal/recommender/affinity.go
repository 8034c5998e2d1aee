package recommender

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss selects the pairwise ranking objective an AffinityModel optimises.
type Loss string

const (
	// LossWARP is Weighted Approximate-Rank Pairwise loss.
	LossWARP Loss = "warp"
	// LossBPR is Bayesian Personalised Ranking.
	LossBPR Loss = "bpr"
)

// ParseLoss validates a loss name from configuration.
func ParseLoss(name string) (Loss, error) {
	switch Loss(name) {
	case LossWARP, LossBPR:
		return Loss(name), nil
	}
	return "", fmt.Errorf("unsupported loss %q", name)
}

// ModelParams are the hyperparameters of a single AffinityModel.
type ModelParams struct {
	Components     int
	Loss           Loss
	LearningRate   float64
	Regularization float64
	MaxSampled     int
	Seed           uint64
}

// DefaultModelParams mirrors the settings the service was originally tuned with.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Components:     32,
		Loss:           LossWARP,
		LearningRate:   0.05,
		Regularization: 1e-4,
		MaxSampled:     10,
		Seed:           42,
	}
}

func (p ModelParams) withDefaults() ModelParams {
	d := DefaultModelParams()
	if p.Components <= 0 {
		p.Components = d.Components
	}
	if p.Loss == "" {
		p.Loss = d.Loss
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.Regularization < 0 {
		p.Regularization = 0
	}
	if p.MaxSampled <= 0 {
		p.MaxSampled = d.MaxSampled
	}
	return p
}

// AffinityModel is a latent-factor model with user and place embeddings plus biases:
//
//	score(u, i) = <U_u, P_i> + bu_u + bp_i
//
// It is not safe for concurrent mutation; the Recommender trains clones and publishes them.
type AffinityModel struct {
	params ModelParams

	users     *mat.Dense    // nUsers x Components, nil when nUsers == 0
	places    *mat.Dense    // nPlaces x Components, nil when nPlaces == 0
	userBias  *mat.VecDense // pairwise losses cancel it, so it stays zero; kept for snapshots
	placeBias *mat.VecDense
	nUsers    int
	nPlaces   int

	src *rand.PCG
	rng *rand.Rand
}

// NewAffinityModel returns an untrained model; call Fit before Score.
func NewAffinityModel(params ModelParams) *AffinityModel {
	params = params.withDefaults()
	src := rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15)
	return &AffinityModel{
		params: params,
		src:    src,
		rng:    rand.New(src),
	}
}

func (m *AffinityModel) Params() ModelParams { return m.params }
func (m *AffinityModel) NumUsers() int       { return m.nUsers }
func (m *AffinityModel) NumPlaces() int      { return m.nPlaces }

// Fit discards any learned state, reinitialises embeddings for an nUsers x nPlaces
// universe and trains for the given number of epochs.
func (m *AffinityModel) Fit(ctx context.Context, nUsers, nPlaces int, interactions []Interaction, epochs int) error {
	if nUsers < 0 || nPlaces < 0 {
		return fmt.Errorf("negative model shape %dx%d", nUsers, nPlaces)
	}
	if err := checkBounds(interactions, nUsers, nPlaces); err != nil {
		return err
	}

	m.src.Seed(m.params.Seed, m.params.Seed^0x9e3779b97f4a7c15)
	m.nUsers, m.nPlaces = nUsers, nPlaces
	m.users = m.randomFactors(nUsers)
	m.places = m.randomFactors(nPlaces)
	m.userBias = zeroVec(nUsers)
	m.placeBias = zeroVec(nPlaces)

	return m.train(ctx, interactions, epochs)
}

// FitPartial continues training from the current embeddings. Indices must be valid for the
// shape established by the last Fit.
func (m *AffinityModel) FitPartial(ctx context.Context, interactions []Interaction, epochs int) error {
	if err := checkBounds(interactions, m.nUsers, m.nPlaces); err != nil {
		return err
	}
	return m.train(ctx, interactions, epochs)
}

// Score returns one affinity per candidate, in candidate order.
func (m *AffinityModel) Score(user int, candidates []int) ([]float64, error) {
	if user < 0 || user >= m.nUsers {
		return nil, fmt.Errorf("user index %d of %d: %w", user, m.nUsers, ErrUnknownUser)
	}
	scores := make([]float64, len(candidates))
	for k, p := range candidates {
		if p < 0 || p >= m.nPlaces {
			return nil, fmt.Errorf("place index %d of %d: %w", p, m.nPlaces, ErrIndexOutOfRange)
		}
		scores[k] = m.score(user, p)
	}
	return scores, nil
}

// Clone returns a deep copy, including the random source position.
func (m *AffinityModel) Clone() *AffinityModel {
	src := *m.src
	c := &AffinityModel{
		params:  m.params,
		nUsers:  m.nUsers,
		nPlaces: m.nPlaces,
		src:     &src,
	}
	c.rng = rand.New(c.src)
	if m.users != nil {
		c.users = mat.DenseCopyOf(m.users)
	}
	if m.places != nil {
		c.places = mat.DenseCopyOf(m.places)
	}
	if m.userBias != nil {
		c.userBias = mat.VecDenseCopyOf(m.userBias)
	}
	if m.placeBias != nil {
		c.placeBias = mat.VecDenseCopyOf(m.placeBias)
	}
	return c
}

func (m *AffinityModel) score(u, p int) float64 {
	return floats.Dot(m.users.RawRowView(u), m.places.RawRowView(p)) +
		m.userBias.AtVec(u) + m.placeBias.AtVec(p)
}

func (m *AffinityModel) train(ctx context.Context, interactions []Interaction, epochs int) error {
	if len(interactions) == 0 || m.nPlaces < 2 {
		return nil
	}
	order := make([]int, len(interactions))
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, k := range order {
			in := interactions[k]
			if in.Weight <= 0 {
				continue
			}
			switch m.params.Loss {
			case LossBPR:
				m.stepBPR(in)
			default:
				m.stepWARP(in)
			}
		}
	}
	return nil
}

// stepWARP samples negatives until one violates the unit margin and scales the update by
// a log estimate of the positive's rank.
func (m *AffinityModel) stepWARP(in Interaction) {
	pos := m.score(in.User, in.Place)
	for trials := 1; trials <= m.params.MaxSampled; trials++ {
		neg := m.samplePlace(in.Place)
		if m.score(in.User, neg) <= pos-1 {
			continue
		}
		rank := math.Floor(float64(m.nPlaces-1) / float64(trials))
		m.update(in.User, in.Place, neg, in.Weight*math.Log1p(rank))
		return
	}
}

func (m *AffinityModel) stepBPR(in Interaction) {
	neg := m.samplePlace(in.Place)
	x := m.score(in.User, in.Place) - m.score(in.User, neg)
	m.update(in.User, in.Place, neg, in.Weight*sigmoid(-x))
}

// samplePlace draws a place index uniformly, never returning exclude. Requires nPlaces >= 2.
func (m *AffinityModel) samplePlace(exclude int) int {
	j := m.rng.IntN(m.nPlaces - 1)
	if j >= exclude {
		j++
	}
	return j
}

// update moves u towards pos and away from neg with gradient magnitude g.
func (m *AffinityModel) update(u, pos, neg int, g float64) {
	lr, reg := m.params.LearningRate, m.params.Regularization
	uf := m.users.RawRowView(u)
	pf := m.places.RawRowView(pos)
	nf := m.places.RawRowView(neg)
	for f := range uf {
		wu, wp, wn := uf[f], pf[f], nf[f]
		uf[f] += lr * (g*(wp-wn) - reg*wu)
		pf[f] += lr * (g*wu - reg*wp)
		nf[f] += lr * (-g*wu - reg*wn)
	}
	// userBias has zero gradient: it appears on both sides of the pair.
	bp, bn := m.placeBias.AtVec(pos), m.placeBias.AtVec(neg)
	m.placeBias.SetVec(pos, bp+lr*(g-reg*bp))
	m.placeBias.SetVec(neg, bn+lr*(-g-reg*bn))
}

func (m *AffinityModel) randomFactors(rows int) *mat.Dense {
	if rows == 0 {
		return nil
	}
	k := m.params.Components
	data := make([]float64, rows*k)
	scale := 1 / float64(k)
	for i := range data {
		data[i] = (m.rng.Float64() - 0.5) * scale
	}
	return mat.NewDense(rows, k, data)
}

func zeroVec(n int) *mat.VecDense {
	if n == 0 {
		return nil
	}
	return mat.NewVecDense(n, nil)
}

func checkBounds(interactions []Interaction, nUsers, nPlaces int) error {
	for _, in := range interactions {
		if in.User < 0 || in.User >= nUsers {
			return fmt.Errorf("user index %d of %d: %w", in.User, nUsers, ErrIndexOutOfRange)
		}
		if in.Place < 0 || in.Place >= nPlaces {
			return fmt.Errorf("place index %d of %d: %w", in.Place, nPlaces, ErrIndexOutOfRange)
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
