package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/notargets/PBEKernel/efficiency"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const constantCase = `
GrowthModel = "CONSTANT"
LengthParam = 1.0
Abscissae = ["r0", "r1"]
GrowthCoef = "g0"
Dissipation = "eps"
Density = "rho"

[Fields]
r0 = [1.0, 1.0, 1.0]
r1 = [3.0, 3.0, 3.0]
g0 = [2.0, 2.0, 2.0]
eps = [1.0, 1.0, 1.0]
rho = [1.0, 0.0, 1.0]
`

func TestDecodeCase(t *testing.T) {
	c, err := DecodeCase(strings.NewReader(constantCase))
	require.NoError(t, err)
	assert.Equal(t, efficiency.Constant, c.GrowthModel)
	assert.Len(t, c.Abscissae, 2)
	assert.Equal(t, []float64{3, 3, 3}, c.Fields["r1"])

	_, err = DecodeCase(strings.NewReader(`GrowthModel = "DIFFUSION"`))
	assert.Error(t, err)

	_, err = DecodeCase(strings.NewReader("Bogus = 1\n" + constantCase))
	assert.Error(t, err)
}

func TestRun_Host(t *testing.T) {
	c, err := DecodeCase(strings.NewReader(constantCase))
	require.NoError(t, err)

	out, err := Run(context.Background(), c, RunOptions{Workers: 2}, logrus.StandardLogger())
	require.NoError(t, err)
	assert.Equal(t, "host", out.Device)
	assert.Equal(t, 2, out.NEnv)
	assert.Equal(t, 3, out.NumPoints)

	e01 := out.Fields["AggregationEfficiency_0_1"]
	require.Len(t, e01, 3)
	assert.InDelta(t, 0.1111, e01[0], 1.e-4)
	assert.Zero(t, e01[1])
	assert.Equal(t, e01, out.Fields["AggregationEfficiency_1_0"])
	assert.Zero(t, out.Min)

	var buf bytes.Buffer
	require.NoError(t, out.Encode(&buf))
	var back Output
	_, err = toml.Decode(buf.String(), &back)
	require.NoError(t, err)
	assert.Equal(t, efficiency.Constant, back.GrowthModel)
	assert.Equal(t, e01, back.Fields["AggregationEfficiency_0_1"])
}

func TestRun_Errors(t *testing.T) {
	c, err := DecodeCase(strings.NewReader(constantCase))
	require.NoError(t, err)

	short := *c
	short.Fields = map[string][]float64{"r0": {1}, "r1": {1, 2}}
	_, err = Run(context.Background(), &short, RunOptions{}, logrus.StandardLogger())
	assert.Error(t, err)

	empty := *c
	empty.Fields = nil
	_, err = Run(context.Background(), &empty, RunOptions{}, logrus.StandardLogger())
	assert.Error(t, err)

	_, err = Run(context.Background(), c, RunOptions{Device: "Metal"}, logrus.StandardLogger())
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	dir := t.TempDir()
	casePath := filepath.Join(dir, "case.toml")
	resultPath := filepath.Join(dir, "result.toml")
	require.NoError(t, os.WriteFile(casePath, []byte(constantCase), 0o644))

	var stdout bytes.Buffer
	Root.SetOut(&stdout)
	Root.SetArgs([]string{"models"})
	require.NoError(t, Root.Execute())
	assert.Contains(t, stdout.String(), "BULK_DIFFUSION")
	assert.Contains(t, stdout.String(), "size independent")

	Root.SetArgs([]string{"run", "--config", casePath, "--out", resultPath})
	require.NoError(t, Root.Execute())

	var out Output
	_, err := toml.DecodeFile(resultPath, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumPoints)
	assert.Len(t, out.Fields, 4)
	assert.Nil(t, out.MatrixPoint)
	assert.Empty(t, out.Matrix)

	matrixPath := filepath.Join(dir, "matrix.toml")
	Root.SetArgs([]string{"run", "--config", casePath, "--out", matrixPath, "--point", "2"})
	require.NoError(t, Root.Execute())

	var withMatrix Output
	_, err = toml.DecodeFile(matrixPath, &withMatrix)
	require.NoError(t, err)
	require.NotNil(t, withMatrix.MatrixPoint)
	assert.Equal(t, 2, *withMatrix.MatrixPoint)
	require.Len(t, withMatrix.Matrix, 2)
	assert.Equal(t, withMatrix.Fields["AggregationEfficiency_1_0"][2], withMatrix.Matrix[1][0])

	Root.SetArgs([]string{"run", "--config", casePath, "--point", "3"})
	assert.Error(t, Root.Execute())
}

func TestRun_Matrix(t *testing.T) {
	c, err := DecodeCase(strings.NewReader(constantCase))
	require.NoError(t, err)

	point := 0
	out, err := Run(context.Background(), c, RunOptions{MatrixPoint: &point}, logrus.StandardLogger())
	require.NoError(t, err)
	require.NotNil(t, out.MatrixPoint)
	assert.Equal(t, 0, *out.MatrixPoint)
	require.Len(t, out.Matrix, 2)
	for i, row := range out.Matrix {
		require.Len(t, row, 2)
		for j, e := range row {
			tag := fmt.Sprintf("AggregationEfficiency_%d_%d", i, j)
			assert.Equal(t, out.Fields[tag][0], e, tag)
		}
	}
	assert.InDelta(t, 0.1111, out.Matrix[0][1], 1.e-4)

	for _, bad := range []int{-1, 3} {
		_, err = Run(context.Background(), c, RunOptions{MatrixPoint: &bad}, logrus.StandardLogger())
		assert.Error(t, err, "point %d", bad)
	}
}

func TestRun_ExplicitResults(t *testing.T) {
	c, err := DecodeCase(strings.NewReader(`Results = ["e00", "e01", "e10", "e11"]` + "\n" + constantCase))
	require.NoError(t, err)
	out, err := Run(context.Background(), c, RunOptions{}, logrus.StandardLogger())
	require.NoError(t, err)
	assert.Len(t, out.Fields, 4)
	assert.InDelta(t, 0.1111, out.Fields["e01"][0], 1.e-4)
	assert.NotContains(t, out.Fields, "AggregationEfficiency_0_1")

	c.Results = c.Results[:3]
	_, err = Run(context.Background(), c, RunOptions{}, logrus.StandardLogger())
	assert.ErrorIs(t, err, efficiency.ErrInvalidConfig)
}
