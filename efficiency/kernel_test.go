package efficiency

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/notargets/PBEKernel/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(nEnv int, model GrowthModel) Config {
	abscissae := make(field.TagList, nEnv)
	for i := range abscissae {
		abscissae[i] = field.Tag("r" + string(rune('0'+i)))
	}
	return Config{
		Abscissae:   abscissae,
		GrowthCoef:  "g0",
		Dissipation: "eps",
		Density:     "rho",
		LengthParam: 1.0,
		GrowthModel: model,
	}
}

// uniformStore fills every point with the same values
func uniformStore(t *testing.T, n int, g0, eps, rho float64, r ...float64) *field.Store {
	t.Helper()
	s := field.NewStore(n)
	s.Fill("g0", g0)
	s.Fill("eps", eps)
	s.Fill("rho", rho)
	for i, v := range r {
		s.Fill(field.Tag("r"+string(rune('0'+i))), v)
	}
	return s
}

// randomStore draws positive inputs, with a sprinkling of non-physical points
func randomStore(t *testing.T, n, nEnv int, seed int64) *field.Store {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	s := field.NewStore(n)
	vals := func(lo, hi float64) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = lo + (hi-lo)*rng.Float64()
		}
		return v
	}
	rho := vals(0.5, 2)
	eps := vals(0.1, 5)
	for i := 0; i < n; i += 7 {
		rho[i] = 0
	}
	for i := 3; i < n; i += 11 {
		eps[i] = -1
	}
	require.NoError(t, s.Set("g0", vals(-0.5, 3)))
	require.NoError(t, s.Set("eps", eps))
	require.NoError(t, s.Set("rho", rho))
	for i := 0; i < nEnv; i++ {
		require.NoError(t, s.Set(field.Tag("r"+string(rune('0'+i))), vals(0.1, 4)))
	}
	return s
}

func TestNewKernel_Validation(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		k, err := NewKernel(testConfig(3, Kinetic))
		require.NoError(t, err)
		assert.Equal(t, 3, k.NEnv())
	})

	t.Run("NoAbscissae", func(t *testing.T) {
		_, err := NewKernel(testConfig(0, Constant))
		assert.ErrorIs(t, err, ErrNoAbscissae)
	})

	t.Run("UnknownModel", func(t *testing.T) {
		_, err := NewKernel(testConfig(2, GrowthModel(0)))
		assert.ErrorIs(t, err, ErrUnknownGrowthModel)
	})

	t.Run("EmptyTag", func(t *testing.T) {
		cfg := testConfig(2, Constant)
		cfg.Density = ""
		_, err := NewKernel(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)

		cfg = testConfig(2, Constant)
		cfg.Abscissae[1] = ""
		_, err = NewKernel(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("RepeatedAbscissa", func(t *testing.T) {
		cfg := testConfig(2, Constant)
		cfg.Abscissae[1] = cfg.Abscissae[0]
		_, err := NewKernel(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("NonFiniteLength", func(t *testing.T) {
		cfg := testConfig(1, Constant)
		cfg.LengthParam = math.Inf(1)
		_, err := NewKernel(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("NegativeLengthAccepted", func(t *testing.T) {
		cfg := testConfig(1, Constant)
		cfg.LengthParam = -2
		_, err := NewKernel(cfg)
		assert.NoError(t, err)
	})

	t.Run("ResultShadowsInput", func(t *testing.T) {
		cfg := testConfig(1, Constant)
		cfg.GrowthCoef = "AggregationEfficiency_0_0"
		_, err := NewKernel(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestKernel_Declarations(t *testing.T) {
	cfg := testConfig(2, BulkDiffusion)
	cfg.ResultPrefix = "eff"
	k, err := NewKernel(cfg)
	require.NoError(t, err)

	assert.Equal(t, field.TagList{"r0", "r1", "g0", "eps", "rho"}, k.Requires())
	assert.Equal(t, field.TagList{"eff_0_0", "eff_0_1", "eff_1_0", "eff_1_1"}, k.ResultTags())
	assert.Equal(t, field.Tag("eff_1_0"), k.ResultTag(1, 0))
	assert.Equal(t, 3, ResultIndex(1, 1, 2))

	// The kernel keeps its own copy of the abscissa list
	cfg.Abscissae[0] = "changed"
	assert.Equal(t, field.Tag("r0"), k.Config().Abscissae[0])
}

func TestKernel_Bind(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)

	t.Run("Missing", func(t *testing.T) {
		s := field.NewStore(4)
		s.Fill("g0", 1)
		_, err := k.Bind(s)
		assert.ErrorIs(t, err, field.ErrUnknownTag)
	})

	t.Run("Resolved", func(t *testing.T) {
		s := uniformStore(t, 4, 2, 1, 1, 1, 3)
		in, err := k.Bind(s)
		require.NoError(t, err)
		assert.Equal(t, 4, in.NumPoints())
		assert.Len(t, in.Abscissae, 2)
	})
}

func TestKernel_ShapeMismatch(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)

	in := Inputs{
		Abscissae:   []field.Field{{1, 1}, {3, 3}},
		GrowthCoef:  field.Field{2, 2},
		Dissipation: field.Field{1, 1},
		Density:     field.Field{1},
	}
	_, err = k.Evaluate(context.Background(), in)
	assert.ErrorIs(t, err, field.ErrShapeMismatch)

	in.Density = field.Field{1, 1}
	in.Abscissae[1] = field.Field{3}
	_, err = k.Evaluate(context.Background(), in)
	assert.ErrorIs(t, err, field.ErrShapeMismatch)

	in.Abscissae = in.Abscissae[:1]
	_, err = k.Evaluate(context.Background(), in)
	assert.ErrorIs(t, err, field.ErrShapeMismatch)
}

func TestKernel_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("Constant", func(t *testing.T) {
		k, err := NewKernel(testConfig(2, Constant))
		require.NoError(t, err)
		s := uniformStore(t, 3, 2, 1, 1, 1, 3)
		res, err := k.EvaluateInto(ctx, s)
		require.NoError(t, err)

		for p := 0; p < 3; p++ {
			assert.InDelta(t, 0.125/1.125, res.At(0, 1)[p], 1.e-15)
			assert.InDelta(t, 0.1111, res.At(0, 1)[p], 1.e-4)
			assert.Equal(t, res.At(0, 1)[p], res.At(1, 0)[p])
		}
		stored, err := s.Field(k.ResultTag(0, 1))
		require.NoError(t, err)
		assert.Equal(t, res.At(0, 1), stored)
	})

	t.Run("ZeroDensity", func(t *testing.T) {
		k, err := NewKernel(testConfig(2, Constant))
		require.NoError(t, err)
		res, err := k.EvaluateInto(ctx, uniformStore(t, 3, 2, 1, 0, 1, 3))
		require.NoError(t, err)
		lo, hi := res.Range()
		assert.Zero(t, lo)
		assert.Zero(t, hi)
	})

	t.Run("BulkDiffusionSelfPair", func(t *testing.T) {
		k, err := NewKernel(testConfig(1, BulkDiffusion))
		require.NoError(t, err)
		res, err := k.EvaluateInto(ctx, uniformStore(t, 2, 1, 1, 1, 2))
		require.NoError(t, err)
		assert.Equal(t, 0.03125/1.03125, res.At(0, 0)[0])
		assert.InDelta(t, 0.0303, res.At(0, 0)[1], 1.e-4)
	})

	t.Run("NegativeGrowth", func(t *testing.T) {
		k, err := NewKernel(testConfig(2, Kinetic))
		require.NoError(t, err)
		res, err := k.EvaluateInto(ctx, uniformStore(t, 2, -2, 1, 1, 1, 3))
		require.NoError(t, err)
		_, hi := res.Range()
		assert.Zero(t, hi)
	})
}

func TestKernel_Properties(t *testing.T) {
	ctx := context.Background()
	const n, nEnv = 257, 4

	for _, model := range GrowthModels() {
		t.Run(model.String(), func(t *testing.T) {
			k, err := NewKernel(testConfig(nEnv, model), WithWorkers(3))
			require.NoError(t, err)
			s := randomStore(t, n, nEnv, 11)
			in, err := k.Bind(s)
			require.NoError(t, err)

			res, err := k.Evaluate(ctx, in)
			require.NoError(t, err)
			require.Len(t, res.Values, nEnv*nEnv)

			for i := 0; i < nEnv; i++ {
				for j := 0; j < nEnv; j++ {
					eij, eji := res.At(i, j), res.At(j, i)
					for p := 0; p < n; p++ {
						assert.GreaterOrEqual(t, eij[p], 0.0)
						assert.Less(t, eij[p], 1.0)
						if in.Density[p] <= 0 || in.Dissipation[p] <= 0 {
							assert.Zero(t, eij[p])
						}
						assert.Equal(t, eij[p], eji[p])
						want := Efficiency(model, 1.0, in.GrowthCoef[p], in.Dissipation[p],
							in.Density[p], in.Abscissae[i][p], in.Abscissae[j][p])
						assert.Equal(t, want, eij[p])
					}
				}
			}

			// Idempotent, bit for bit
			again, err := k.Evaluate(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, res.Values, again.Values)
		})
	}
}

func TestKernel_InputsUntouched(t *testing.T) {
	k, err := NewKernel(testConfig(3, Monosurface))
	require.NoError(t, err)
	s := randomStore(t, 50, 3, 5)
	before := make(map[field.Tag][]float64)
	for _, tag := range k.Requires() {
		f, err := s.Field(tag)
		require.NoError(t, err)
		before[tag] = append([]float64(nil), f...)
	}

	_, err = k.EvaluateInto(context.Background(), s)
	require.NoError(t, err)

	for _, tag := range k.Requires() {
		f, err := s.Field(tag)
		require.NoError(t, err)
		assert.Equal(t, before[tag], []float64(f), string(tag))
	}
}

func TestKernel_ConcurrentEvaluate(t *testing.T) {
	k, err := NewKernel(testConfig(3, BulkDiffusion), WithWorkers(2))
	require.NoError(t, err)
	in, err := k.Bind(randomStore(t, 300, 3, 21))
	require.NoError(t, err)

	want, err := k.Evaluate(context.Background(), in)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	errs := make([]error, 8)
	for c := range results {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			results[c], errs[c] = k.Evaluate(context.Background(), in)
		}(c)
	}
	wg.Wait()

	for c := range results {
		require.NoError(t, errs[c])
		assert.Equal(t, want.Values, results[c].Values)
	}
}

func TestKernel_Cancelled(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)
	in, err := k.Bind(uniformStore(t, 4, 2, 1, 1, 1, 3))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = k.Evaluate(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKernel_EmptyField(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)
	res, err := k.EvaluateInto(context.Background(), uniformStore(t, 0, 1, 1, 1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NumPoints)
	lo, hi := res.Range()
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestResult_Matrix(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)
	res, err := k.EvaluateInto(context.Background(), uniformStore(t, 2, 2, 1, 1, 1, 3))
	require.NoError(t, err)

	m := res.Matrix(1)
	rows, cols := m.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, res.At(0, 1)[1], m.At(0, 1))
	assert.Equal(t, res.At(1, 1)[1], m.At(1, 1))
	// r0 + r0 = 2: m1 = 2/4
	assert.InDelta(t, 0.5/1.5, m.At(0, 0), 1.e-15)

	assert.Panics(t, func() { res.Matrix(2) })
	assert.Panics(t, func() { res.At(2, 0) })
	assert.True(t, res.EqualApprox(res, 0))
}

func TestKernel_LargeGrowthSaturates(t *testing.T) {
	k, err := NewKernel(testConfig(1, Constant))
	require.NoError(t, err)
	s := field.NewStore(4)
	require.NoError(t, s.Set("g0", []float64{1, 1.e300, 1.e308, math.Inf(1)}))
	s.Fill("eps", 1.e-3)
	s.Fill("rho", 1)
	s.Fill("r0", 1.e-3)

	res, err := k.EvaluateInto(context.Background(), s)
	require.NoError(t, err)
	e := res.At(0, 0)
	for p := 1; p < len(e); p++ {
		assert.GreaterOrEqual(t, e[p], e[p-1])
		assert.Less(t, e[p], 1.0)
	}
	assert.Equal(t, MaxEfficiency, e[3])
}

func TestKernel_ExplicitResultTags(t *testing.T) {
	cfg := testConfig(2, Constant)
	cfg.Results = field.TagList{"a00", "a01", "a10", "a11"}
	k, err := NewKernel(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Results, k.ResultTags())
	assert.Equal(t, field.Tag("a10"), k.ResultTag(1, 0))

	s := uniformStore(t, 2, 2, 1, 1, 1, 3)
	_, err = k.EvaluateInto(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, s.Has("a11"))
	assert.False(t, s.Has("AggregationEfficiency_0_0"))

	cfg.Results[0] = "changed"
	assert.Equal(t, field.Tag("a00"), k.Config().Results[0])

	for name, results := range map[string]field.TagList{
		"WrongCount": {"a", "b", "c"},
		"Empty":      {"a", "", "c", "d"},
		"Repeated":   {"a", "b", "a", "d"},
		"Shadows":    {"a", "b", "c", "g0"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(2, Constant)
			cfg.Results = results
			_, err := NewKernel(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// shortEvaluator returns a result whose last pair is missing points
type shortEvaluator struct{}

func (shortEvaluator) Evaluate(_ context.Context, in Inputs) (*Result, error) {
	res := NewResult(len(in.Abscissae), in.NumPoints())
	res.Values[len(res.Values)-1] = res.Values[len(res.Values)-1][:1]
	return res, nil
}

func TestKernel_EvaluateWithPublishesNothingOnMismatch(t *testing.T) {
	k, err := NewKernel(testConfig(2, Constant))
	require.NoError(t, err)
	s := uniformStore(t, 3, 2, 1, 1, 1, 3)

	_, err = k.EvaluateWith(context.Background(), s, shortEvaluator{})
	assert.ErrorIs(t, err, field.ErrShapeMismatch)
	for _, tag := range k.ResultTags() {
		assert.False(t, s.Has(tag), string(tag))
	}
}
