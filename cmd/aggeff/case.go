package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/notargets/PBEKernel/efficiency"
	"github.com/notargets/PBEKernel/field"
	"github.com/notargets/PBEKernel/runner/builder"
	"github.com/notargets/PBEKernel/utils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Case is a driver input file: the kernel configuration plus inline values
// for every field it requires
type Case struct {
	GrowthModel  efficiency.GrowthModel
	LengthParam  float64
	Abscissae    []field.Tag
	GrowthCoef   field.Tag
	Dissipation  field.Tag
	Density      field.Tag
	ResultPrefix string
	Results      []field.Tag

	Fields map[string][]float64
}

// Output is written after a run
type Output struct {
	GrowthModel efficiency.GrowthModel
	Device      string
	NEnv        int
	NumPoints   int
	Min, Max    float64

	Fields map[string][]float64

	// Matrix is the nEnv×nEnv efficiency at MatrixPoint, row i holding the
	// pairs (i, j)
	MatrixPoint *int        `toml:",omitempty"`
	Matrix      [][]float64 `toml:",omitempty"`
}

// RunOptions selects where a case is evaluated
type RunOptions struct {
	Device     string
	Partitions int
	Float32    bool
	Workers    int

	// MatrixPoint selects a point whose efficiency matrix is added to the
	// output
	MatrixPoint *int
}

// DecodeCase reads a TOML case
func DecodeCase(r io.Reader) (*Case, error) {
	c := new(Case)
	md, err := toml.NewDecoder(r).Decode(c)
	if err != nil {
		return nil, fmt.Errorf("aggeff: problem reading case: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("aggeff: unknown case keys %v", keys)
	}
	return c, nil
}

func (c *Case) config() efficiency.Config {
	return efficiency.Config{
		Abscissae:    field.TagList(c.Abscissae),
		GrowthCoef:   c.GrowthCoef,
		Dissipation:  c.Dissipation,
		Density:      c.Density,
		LengthParam:  c.LengthParam,
		GrowthModel:  c.GrowthModel,
		ResultPrefix: c.ResultPrefix,
		Results:      field.TagList(c.Results),
	}
}

// store loads the inline fields. Every field must have the same length.
func (c *Case) store() (*field.Store, error) {
	if len(c.Fields) == 0 {
		return nil, fmt.Errorf("aggeff: case has no fields")
	}
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	s := field.NewStore(len(c.Fields[names[0]]))
	for _, name := range names {
		if err := s.Set(field.Tag(name), c.Fields[name]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run evaluates c on the host or on an OCCA device
func Run(ctx context.Context, c *Case, opts RunOptions, log logrus.FieldLogger) (*Output, error) {
	kopts := []efficiency.Option{efficiency.WithLogger(log)}
	if opts.Workers > 0 {
		kopts = append(kopts, efficiency.WithWorkers(opts.Workers))
	}
	k, err := efficiency.NewKernel(c.config(), kopts...)
	if err != nil {
		return nil, err
	}
	s, err := c.store()
	if err != nil {
		return nil, err
	}

	device := opts.Device
	if device == "" {
		device = "host"
	}

	if p := opts.MatrixPoint; p != nil && (*p < 0 || *p >= s.NumPoints()) {
		return nil, fmt.Errorf("aggeff: matrix point %d out of range [0, %d)", *p, s.NumPoints())
	}

	var res *efficiency.Result
	if device == "host" {
		res, err = k.EvaluateInto(ctx, s)
	} else {
		res, err = runDevice(ctx, k, s, device, opts, log)
	}
	if err != nil {
		return nil, err
	}

	out := &Output{
		GrowthModel: c.GrowthModel,
		Device:      device,
		NEnv:        res.NEnv,
		NumPoints:   res.NumPoints,
		Fields:      make(map[string][]float64),
	}
	out.Min, out.Max = res.Range()
	for idx, t := range k.ResultTags() {
		out.Fields[string(t)] = res.Values[idx]
	}
	if opts.MatrixPoint != nil {
		point := *opts.MatrixPoint
		m := res.Matrix(point)
		out.MatrixPoint = &point
		out.Matrix = make([][]float64, res.NEnv)
		for i := range out.Matrix {
			out.Matrix[i] = mat.Row(nil, i, m)
		}
	}
	log.WithFields(logrus.Fields{
		"device": device,
		"points": out.NumPoints,
		"min":    out.Min,
		"max":    out.Max,
	}).Info("case evaluated")
	return out, nil
}

func runDevice(ctx context.Context, k *efficiency.Kernel, s *field.Store, mode string,
	opts RunOptions, log logrus.FieldLogger) (*efficiency.Result, error) {

	device, err := utils.CreateDevice(mode)
	if err != nil {
		return nil, err
	}
	defer device.Free()

	precision := builder.Float64
	if opts.Float32 {
		precision = builder.Float32
	}
	de, err := efficiency.NewDeviceEvaluator(k, device,
		efficiency.WithPartitions(opts.Partitions),
		efficiency.WithPrecision(precision),
		efficiency.WithDeviceLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return k.EvaluateWith(ctx, s, de)
}

// Encode writes o as TOML
func (o *Output) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(o)
}
