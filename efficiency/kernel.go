package efficiency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/notargets/PBEKernel/field"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultResultPrefix names result fields when Config.ResultPrefix is empty
const DefaultResultPrefix = "AggregationEfficiency"

var (
	// ErrNoAbscissae is returned when a configuration lists no abscissae
	ErrNoAbscissae = errors.New("efficiency: no abscissae")
	// ErrInvalidConfig is returned for malformed tags or parameters
	ErrInvalidConfig = errors.New("efficiency: invalid configuration")
)

// Config binds a kernel to its input fields and closure. It is fixed for
// the lifetime of a Kernel.
type Config struct {
	Abscissae   field.TagList
	GrowthCoef  field.Tag
	Dissipation field.Tag
	Density     field.Tag

	// LengthParam scales the growth term and matches units. Its sign is not
	// checked; a non-positive value drives every efficiency to zero.
	LengthParam float64
	GrowthModel GrowthModel

	// Results names the nEnv² outputs in ResultIndex order. When empty,
	// tags are built as <ResultPrefix>_<i>_<j>.
	Results      field.TagList
	ResultPrefix string
}

// Validate reports configuration errors
func (c Config) Validate() error {
	if len(c.Abscissae) == 0 {
		return ErrNoAbscissae
	}
	if !c.GrowthModel.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownGrowthModel, c.GrowthModel)
	}
	if math.IsNaN(c.LengthParam) || math.IsInf(c.LengthParam, 0) {
		return fmt.Errorf("%w: length parameter %v is not finite", ErrInvalidConfig, c.LengthParam)
	}

	seen := make(map[field.Tag]bool)
	for i, t := range c.Abscissae {
		if t == "" {
			return fmt.Errorf("%w: abscissa %d has an empty tag", ErrInvalidConfig, i)
		}
		if seen[t] {
			return fmt.Errorf("%w: abscissa tag %s repeated", ErrInvalidConfig, t)
		}
		seen[t] = true
	}
	if len(c.Results) > 0 {
		nEnv := len(c.Abscissae)
		if len(c.Results) != nEnv*nEnv {
			return fmt.Errorf("%w: %d result tags for %d abscissae, expected %d",
				ErrInvalidConfig, len(c.Results), nEnv, nEnv*nEnv)
		}
		seenResult := make(map[field.Tag]bool)
		for i, t := range c.Results {
			if t == "" {
				return fmt.Errorf("%w: result %d has an empty tag", ErrInvalidConfig, i)
			}
			if seenResult[t] {
				return fmt.Errorf("%w: result tag %s repeated", ErrInvalidConfig, t)
			}
			seenResult[t] = true
		}
	}
	for name, t := range map[string]field.Tag{
		"growth coefficient": c.GrowthCoef,
		"dissipation":        c.Dissipation,
		"density":            c.Density,
	} {
		if t == "" {
			return fmt.Errorf("%w: %s tag is empty", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Kernel evaluates aggregation efficiencies for every ordered abscissa pair
type Kernel struct {
	cfg     Config
	ratio   closure
	results field.TagList
	deps    field.Dependencies
	workers int
	log     logrus.FieldLogger
	scratch sync.Pool
}

// Option configures a Kernel
type Option func(*Kernel)

// WithLogger sets the logger, logrus.StandardLogger() by default
func WithLogger(log logrus.FieldLogger) Option {
	return func(k *Kernel) {
		if log != nil {
			k.log = log
		}
	}
}

// WithWorkers bounds how many abscissa pairs are evaluated concurrently
func WithWorkers(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.workers = n
		}
	}
}

// NewKernel validates cfg and resolves its closure
func NewKernel(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ratio, err := closureFor(cfg.GrowthModel)
	if err != nil {
		return nil, err
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = DefaultResultPrefix
	}
	cfg.Abscissae = append(field.TagList(nil), cfg.Abscissae...)
	cfg.Results = append(field.TagList(nil), cfg.Results...)

	k := &Kernel{
		cfg:     cfg,
		ratio:   ratio,
		workers: runtime.GOMAXPROCS(0),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(k)
	}

	nEnv := len(cfg.Abscissae)
	if len(cfg.Results) > 0 {
		k.results = cfg.Results
	} else {
		k.results = make(field.TagList, nEnv*nEnv)
		for i := 0; i < nEnv; i++ {
			for j := 0; j < nEnv; j++ {
				k.results[ResultIndex(i, j, nEnv)] = field.Tag(fmt.Sprintf("%s_%d_%d", cfg.ResultPrefix, i, j))
			}
		}
	}
	k.deps.Requires(cfg.Abscissae...)
	k.deps.Requires(cfg.GrowthCoef, cfg.Dissipation, cfg.Density)

	inputs := make(map[field.Tag]bool)
	for _, t := range k.deps.Tags() {
		inputs[t] = true
	}
	for _, t := range k.results {
		if inputs[t] {
			return nil, fmt.Errorf("%w: result tag %s shadows an input", ErrInvalidConfig, t)
		}
	}

	k.log.WithFields(logrus.Fields{
		"model": cfg.GrowthModel,
		"nEnv":  nEnv,
		"l":     cfg.LengthParam,
	}).Debug("aggregation efficiency kernel created")
	return k, nil
}

// ResultIndex returns the position of pair (i, j) in the output list
func ResultIndex(i, j, nEnv int) int {
	return i*nEnv + j
}

// Config returns the kernel configuration
func (k *Kernel) Config() Config {
	cfg := k.cfg
	cfg.Abscissae = append(field.TagList(nil), k.cfg.Abscissae...)
	cfg.Results = append(field.TagList(nil), k.cfg.Results...)
	return cfg
}

// NEnv returns the number of abscissae
func (k *Kernel) NEnv() int {
	return len(k.cfg.Abscissae)
}

// Requires returns the input tags in declaration order
func (k *Kernel) Requires() field.TagList {
	return k.deps.Tags()
}

// ResultTags returns the nEnv² output tags indexed by ResultIndex
func (k *Kernel) ResultTags() field.TagList {
	return append(field.TagList(nil), k.results...)
}

// ResultTag returns the output tag of pair (i, j)
func (k *Kernel) ResultTag(i, j int) field.Tag {
	return k.results[ResultIndex(i, j, k.NEnv())]
}

// Inputs are borrowed read-only views of the fields a kernel consumes
type Inputs struct {
	Abscissae   []field.Field
	GrowthCoef  field.Field
	Dissipation field.Field
	Density     field.Field
}

// NumPoints returns the number of points in the growth coefficient field
func (in Inputs) NumPoints() int {
	return len(in.GrowthCoef)
}

// Check verifies that in holds nEnv abscissae and that every field has the
// same shape
func (in Inputs) Check(nEnv int) error {
	if len(in.Abscissae) != nEnv {
		return fmt.Errorf("%w: %d abscissae supplied, kernel has %d",
			field.ErrShapeMismatch, len(in.Abscissae), nEnv)
	}
	n := in.NumPoints()
	if len(in.Dissipation) != n || len(in.Density) != n {
		return fmt.Errorf("%w: growth coefficient %d, dissipation %d, density %d points",
			field.ErrShapeMismatch, n, len(in.Dissipation), len(in.Density))
	}
	for i, r := range in.Abscissae {
		if len(r) != n {
			return fmt.Errorf("%w: abscissa %d has %d points, expected %d",
				field.ErrShapeMismatch, i, len(r), n)
		}
	}
	return nil
}

// Bind resolves the kernel's input tags against store
func (k *Kernel) Bind(store *field.Store) (Inputs, error) {
	if missing := k.deps.Missing(store); len(missing) > 0 {
		return Inputs{}, fmt.Errorf("%w: %v", field.ErrUnknownTag, missing.Strings())
	}
	abscissae, err := store.Fields(k.cfg.Abscissae)
	if err != nil {
		return Inputs{}, err
	}
	in := Inputs{Abscissae: abscissae}
	if in.GrowthCoef, err = store.Field(k.cfg.GrowthCoef); err != nil {
		return Inputs{}, err
	}
	if in.Dissipation, err = store.Field(k.cfg.Dissipation); err != nil {
		return Inputs{}, err
	}
	if in.Density, err = store.Field(k.cfg.Density); err != nil {
		return Inputs{}, err
	}
	if err := in.Check(k.NEnv()); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// Evaluator computes efficiencies from bound inputs
type Evaluator interface {
	Evaluate(ctx context.Context, in Inputs) (*Result, error)
}

// Evaluate computes every pair on the host. Pairs are independent and run
// concurrently; each worker owns its scratch buffer until the pair is stored.
func (k *Kernel) Evaluate(ctx context.Context, in Inputs) (*Result, error) {
	nEnv := k.NEnv()
	if err := in.Check(nEnv); err != nil {
		return nil, err
	}
	n := in.NumPoints()
	res := NewResult(nEnv, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.workers)
	for i := 0; i < nEnv && gctx.Err() == nil; i++ {
		for j := 0; j < nEnv; j++ {
			if gctx.Err() != nil {
				break
			}
			out := res.Values[ResultIndex(i, j, nEnv)]
			ri, rj := in.Abscissae[i], in.Abscissae[j]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				tmp := k.getScratch(n)
				defer k.putScratch(tmp)

				l := k.cfg.LengthParam
				for p := range tmp {
					tmp[p] = k.ratio(l, in.GrowthCoef[p], in.Dissipation[p], in.Density[p], ri[p], rj[p])
				}
				for p, m1 := range tmp {
					out[p] = FromRatio(m1)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.log.WithFields(logrus.Fields{
		"points": n,
		"pairs":  nEnv * nEnv,
	}).Debug("aggregation efficiency evaluated")
	return res, nil
}

// EvaluateInto binds inputs from store, evaluates them with the host kernel
// and publishes the results under ResultTags
func (k *Kernel) EvaluateInto(ctx context.Context, store *field.Store) (*Result, error) {
	return k.EvaluateWith(ctx, store, k)
}

// EvaluateWith is EvaluateInto using ev for the arithmetic
func (k *Kernel) EvaluateWith(ctx context.Context, store *field.Store, ev Evaluator) (*Result, error) {
	in, err := k.Bind(store)
	if err != nil {
		return nil, fmt.Errorf("bind failed: %w", err)
	}
	res, err := ev.Evaluate(ctx, in)
	if err != nil {
		return nil, err
	}
	// nothing is published unless every result fits the store
	if len(res.Values) != len(k.results) {
		return nil, fmt.Errorf("%w: %d result fields, kernel declares %d",
			field.ErrShapeMismatch, len(res.Values), len(k.results))
	}
	for idx, v := range res.Values {
		if len(v) != store.NumPoints() {
			return nil, fmt.Errorf("%w: result %s has %d points, store holds %d",
				field.ErrShapeMismatch, k.results[idx], len(v), store.NumPoints())
		}
	}
	for idx, t := range k.results {
		if err := store.Set(t, res.Values[idx]); err != nil {
			return nil, fmt.Errorf("failed to store %s: %w", t, err)
		}
	}
	return res, nil
}

func (k *Kernel) getScratch(n int) []float64 {
	if v, ok := k.scratch.Get().(*[]float64); ok && cap(*v) >= n {
		return (*v)[:n]
	}
	return make([]float64, n)
}

func (k *Kernel) putScratch(buf []float64) {
	k.scratch.Put(&buf)
}
