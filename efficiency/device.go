package efficiency

import (
	"context"
	"fmt"

	"github.com/notargets/PBEKernel/field"
	"github.com/notargets/PBEKernel/runner"
	"github.com/notargets/PBEKernel/runner/builder"
	"github.com/notargets/gocca"
	"github.com/sirupsen/logrus"
)

// KernelName is the name of the generated device kernel
const KernelName = "aggregationEfficiency"

// DeviceEvaluator evaluates a Kernel's closure on an OCCA device. Points are
// split into balanced partitions, one @outer iteration per partition.
type DeviceEvaluator struct {
	kernel     *Kernel
	device     *gocca.OCCADevice
	partitions int
	floatType  builder.DataType
	log        logrus.FieldLogger
}

// DeviceOption configures a DeviceEvaluator
type DeviceOption func(*DeviceEvaluator)

// WithPartitions sets how many partitions the points are split into
func WithPartitions(n int) DeviceOption {
	return func(de *DeviceEvaluator) {
		if n > 0 {
			de.partitions = n
		}
	}
}

// WithPrecision selects builder.Float32 or builder.Float64 device arithmetic
func WithPrecision(dt builder.DataType) DeviceOption {
	return func(de *DeviceEvaluator) {
		de.floatType = dt
	}
}

// WithDeviceLogger sets the logger used by the evaluator and its runners
func WithDeviceLogger(log logrus.FieldLogger) DeviceOption {
	return func(de *DeviceEvaluator) {
		if log != nil {
			de.log = log
		}
	}
}

// NewDeviceEvaluator binds k to device
func NewDeviceEvaluator(k *Kernel, device *gocca.OCCADevice, opts ...DeviceOption) (*DeviceEvaluator, error) {
	if k == nil {
		return nil, fmt.Errorf("nil kernel")
	}
	if device == nil {
		return nil, fmt.Errorf("nil device")
	}
	de := &DeviceEvaluator{
		kernel:     k,
		device:     device,
		partitions: 1,
		floatType:  builder.Float64,
		log:        k.log,
	}
	for _, opt := range opts {
		opt(de)
	}
	if de.floatType != builder.Float32 && de.floatType != builder.Float64 {
		return nil, fmt.Errorf("unsupported device precision %v", de.floatType)
	}
	return de, nil
}

// Evaluate copies the inputs to the device, runs the generated kernel and
// copies the efficiencies back. Device memory lives only for this call.
func (de *DeviceEvaluator) Evaluate(ctx context.Context, in Inputs) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := de.kernel.cfg
	nEnv := de.kernel.NEnv()
	if err := in.Check(nEnv); err != nil {
		return nil, err
	}
	n := in.NumPoints()
	res := NewResult(nEnv, n)
	if n == 0 {
		return res, nil
	}

	K := field.SplitK(n, PartitionCount(n, de.partitions, runner.InnerLimit(de.device.Mode())))
	kr := runner.NewRunner(de.device, builder.Config{
		K:         K,
		FloatType: de.floatType,
		IntType:   builder.INT64,
		Constants: map[string]int{"NENV": nEnv},
	})
	defer kr.Free()
	kr.Log = de.log

	R, err := field.Interleave(in.Abscissae)
	if err != nil {
		return nil, err
	}
	Rp, err := field.Partition(R, K, nEnv)
	if err != nil {
		return nil, err
	}
	g0p, err := field.Partition(in.GrowthCoef, K, 1)
	if err != nil {
		return nil, err
	}
	epsp, err := field.Partition(in.Dissipation, K, 1)
	if err != nil {
		return nil, err
	}
	rhop, err := field.Partition(in.Density, K, 1)
	if err != nil {
		return nil, err
	}
	eff := make([]float64, n*nEnv*nEnv)
	effp, err := field.Partition(eff, K, nEnv*nEnv)
	if err != nil {
		return nil, err
	}

	err = kr.DefineBindings(
		builder.Input("R").Bind(Rp),
		builder.Input("G0").Bind(g0p),
		builder.Input("EPS").Bind(epsp),
		builder.Input("RHO").Bind(rhop),
		builder.Output("EFF").Bind(effp),
		builder.Scalar("L").Bind(cfg.LengthParam),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to define bindings: %w", err)
	}
	if err = kr.AllocateDevice(); err != nil {
		return nil, fmt.Errorf("failed to allocate device: %w", err)
	}
	_, err = kr.ConfigureKernel(KernelName,
		kr.Param("R").CopyTo(),
		kr.Param("G0").CopyTo(),
		kr.Param("EPS").CopyTo(),
		kr.Param("RHO").CopyTo(),
		kr.Param("EFF").CopyBack(),
		kr.Param("L"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure kernel: %w", err)
	}
	signature, err := kr.GetKernelSignatureForConfig(KernelName)
	if err != nil {
		return nil, err
	}
	if _, err = kr.BuildKernel(KernelSource(cfg.GrowthModel, signature), KernelName); err != nil {
		return nil, err
	}
	if err = kr.ExecuteKernel(KernelName); err != nil {
		return nil, err
	}

	// EFF is point-major: eff[p*nEnv² + idx]
	pairs := nEnv * nEnv
	for p := 0; p < n; p++ {
		for idx := 0; idx < pairs; idx++ {
			res.Values[idx][p] = eff[p*pairs+idx]
		}
	}

	de.log.WithFields(logrus.Fields{
		"mode":       de.device.Mode(),
		"partitions": len(K),
		"points":     n,
		"pairs":      pairs,
	}).Debug("aggregation efficiency evaluated on device")
	return res, nil
}

// PartitionCount returns the number of partitions used for n points: at
// least requested, and enough that no partition holds more than limit points
func PartitionCount(n, requested, limit int) int {
	parts := max(requested, 1)
	if limit > 0 && n > 0 {
		parts = max(parts, (n+limit-1)/limit)
	}
	return parts
}

// KernelSource returns the OKL source of the efficiency kernel for model.
// The preamble must define NENV and REAL_BELOW_ONE; signature comes from the
// runner.
func KernelSource(model GrowthModel, signature string) string {
	dmax := ""
	if model.SizeDependent() {
		dmax = "(ri > rj ? ri : rj) * "
	}
	return fmt.Sprintf(`
@kernel void %s(
	%s
) {
	for (int part = 0; part < NPART; ++part; @outer) {
		const real_t* R = R_PART(part);
		const real_t* G0 = G0_PART(part);
		const real_t* EPS = EPS_PART(part);
		const real_t* RHO = RHO_PART(part);
		real_t* EFF = EFF_PART(part);

		for (int node = 0; node < KpartMax; ++node; @inner) {
			if (node < K[part]) {
				const real_t g0 = G0[node];
				const real_t eps = EPS[node];
				const real_t rho = RHO[node];
				const int physical = (rho > REAL_ZERO) && (eps > REAL_ZERO);
				for (int i = 0; i < NENV; ++i) {
					const real_t ri = R[node*NENV + i];
					for (int j = 0; j < NENV; ++j) {
						const real_t rj = R[node*NENV + j];
						const real_t s = ri + rj;
						real_t m1 = REAL_ZERO;
						if (physical) {
							m1 = L * g0 / (%srho * s * s * eps);
						}
						// negative and NaN ratios are clamped
						if (!(m1 > REAL_ZERO)) {
							m1 = REAL_ZERO;
						}
						// +Inf and ratios that round to one saturate below one
						real_t e = m1 / (REAL_ONE + m1);
						if (!(e < REAL_ONE)) {
							e = REAL_BELOW_ONE;
						}
						EFF[(node*NENV + i)*NENV + j] = e;
					}
				}
			}
		}
	}
}
`, KernelName, signature, dmax)
}
