package main

import (
	"fmt"
	"io"
	"os"

	"github.com/notargets/PBEKernel/efficiency"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the version of the driver
const Version = "0.1.0"

var (
	verbose bool

	casePath   string
	outPath    string
	deviceMode string
	partitions int
	workers    int
	useFloat32 bool
	point      int
)

// Root is the main command.
var Root = &cobra.Command{
	Use:   "aggeff",
	Short: "Aggregation efficiency for a population balance model.",
	Long: `aggeff evaluates the aggregation efficiency of every pair of
quadrature abscissae of a population balance, pointwise over a set of fields.
Use the subcommands specified below to access the model functionality.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("aggeff v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the supported growth models",
	Run: func(cmd *cobra.Command, args []string) {
		for _, m := range efficiency.GrowthModels() {
			kind := "size independent"
			if m.SizeDependent() {
				kind = "size dependent"
			}
			cmd.Printf("%-15s %s\n", m, kind)
		}
	},
	DisableAutoGenTag: true,
}

// runCmd evaluates one case file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a case file.",
	Long: `run reads a TOML case holding the growth model, the length parameter,
the field tags and inline field values, then writes the efficiency of every
abscissa pair as TOML. Use --point to add the matrix at one point and --device
to run on an OCCA backend instead of the host.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if casePath == "" {
			return fmt.Errorf("aggeff: --config is required")
		}
		f, err := os.Open(casePath)
		if err != nil {
			return fmt.Errorf("aggeff: problem opening case: %w", err)
		}
		defer f.Close()

		c, err := DecodeCase(f)
		if err != nil {
			return err
		}
		opts := RunOptions{
			Device:     deviceMode,
			Partitions: partitions,
			Float32:    useFloat32,
			Workers:    workers,
		}
		if cmd.Flags().Changed("point") {
			opts.MatrixPoint = &point
		}
		out, err := Run(cmd.Context(), c, opts, logrus.StandardLogger())
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if outPath != "" {
			of, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("aggeff: problem creating output: %w", err)
			}
			defer of.Close()
			w = of
		}
		return out.Encode(w)
	},
	DisableAutoGenTag: true,
}

func init() {
	Root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	runCmd.Flags().StringVar(&casePath, "config", "", "path to the TOML case file")
	runCmd.Flags().StringVar(&outPath, "out", "", "output file, stdout if empty")
	runCmd.Flags().StringVar(&deviceMode, "device", "host", "host, Serial, OpenMP or CUDA")
	runCmd.Flags().IntVar(&partitions, "partitions", 1, "number of device partitions")
	runCmd.Flags().IntVar(&workers, "workers", 0, "concurrent abscissa pairs on the host, GOMAXPROCS if 0")
	runCmd.Flags().BoolVar(&useFloat32, "float32", false, "single precision device arithmetic")
	runCmd.Flags().IntVar(&point, "point", 0, "also write the efficiency matrix at this point")

	Root.AddCommand(versionCmd, modelsCmd, runCmd)
}
