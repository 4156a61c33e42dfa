package efficiency

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownGrowthModel is returned for a growth model name or value outside
// the supported closures
var ErrUnknownGrowthModel = errors.New("efficiency: unknown growth model")

// GrowthModel selects the growth-rate closure used in the efficiency ratio
type GrowthModel int

const (
	BulkDiffusion GrowthModel = iota + 1
	Monosurface
	Constant
	Kinetic
)

var growthModelNames = map[GrowthModel]string{
	BulkDiffusion: "BULK_DIFFUSION",
	Monosurface:   "MONOSURFACE",
	Constant:      "CONSTANT",
	Kinetic:       "KINETIC",
}

// GrowthModels lists every supported model in declaration order
func GrowthModels() []GrowthModel {
	return []GrowthModel{BulkDiffusion, Monosurface, Constant, Kinetic}
}

func (m GrowthModel) String() string {
	if name, ok := growthModelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("GrowthModel(%d)", int(m))
}

// Valid reports whether m is one of the supported models
func (m GrowthModel) Valid() bool {
	_, ok := growthModelNames[m]
	return ok
}

// SizeDependent reports whether the closure divides by the larger abscissa
// of the pair
func (m GrowthModel) SizeDependent() bool {
	return m == BulkDiffusion || m == Monosurface
}

// ParseGrowthModel converts a model name such as "BULK_DIFFUSION" into a
// GrowthModel. Matching ignores case and surrounding space.
func ParseGrowthModel(name string) (GrowthModel, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	for m, n := range growthModelNames {
		if n == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGrowthModel, name)
}

// MarshalText implements encoding.TextMarshaler
func (m GrowthModel) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGrowthModel, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *GrowthModel) UnmarshalText(text []byte) error {
	parsed, err := ParseGrowthModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
