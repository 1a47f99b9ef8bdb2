package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zerfoo/zskl/pkg/converter"
	"github.com/zerfoo/zskl/pkg/estimator"
	"github.com/zerfoo/zskl/pkg/graph"
	"github.com/zerfoo/zskl/pkg/registry"
	"github.com/zerfoo/zskl/pkg/serializer"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		outputDir string
		opset     int64
	)
	cmd := &cobra.Command{
		Use:   "convert <estimator-file>...",
		Short: "Convert estimator description files into ZMF models",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opset == 0 {
				opset = a.cfg.TargetOpset
			}
			outputs, err := outputPaths(args, outputDir)
			if err != nil {
				return err
			}
			if outputDir != "" {
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			reg := converter.NewDefaultRegistry()

			var mu sync.Mutex
			written := make(map[string]string, len(args))
			var g errgroup.Group
			g.SetLimit(a.cfg.Workers)
			for _, file := range args {
				g.Go(func() error {
					out := outputs[file]
					if err := a.convertFile(reg, file, out, opset); err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					mu.Lock()
					defer mu.Unlock()
					written[file] = out
					return nil
				})
			}
			err = g.Wait()
			for _, file := range args {
				if out, ok := written[file]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Successfully converted and saved model to: %s\n", out)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for the converted ZMF files (default: next to each input)")
	cmd.Flags().Int64Var(&opset, "opset", 0, "Target opset of the main domain (default $ZSKL_TARGET_OPSET)")
	return cmd
}

// convertFile loads one estimator document and writes its graph to out.
func (a *app) convertFile(reg *registry.Registry, file, out string, opset int64) error {
	est, err := estimator.Load(file)
	if err != nil {
		return err
	}
	res, err := convertEstimator(reg, est, opset, a)
	if err != nil {
		return err
	}
	if err := serializer.WriteFile(res.Graph, out); err != nil {
		return err
	}
	a.logger.Info("converted estimator",
		"file", file,
		"output", out,
		"kind", est.Kind(),
		"graph_id", res.Graph.Metadata.GraphID)
	return nil
}

// convertEstimator converts est for a float32 input whose width is fixed
// when the estimator determines it.
func convertEstimator(reg *registry.Registry, est estimator.Estimator, opset int64, a *app) (*converter.Result, error) {
	var width int64
	if n, exact := estimator.NumFeatures(est); exact {
		width = int64(n)
	}
	opts := converter.DefaultConvertOptions()
	opts.TargetOpset = opset
	opts.Logger = a.logger
	return converter.Convert(reg, est, []graph.TensorDescriptor{graph.FloatTensorType("input", 0, width)}, opts)
}

// outputPaths maps each input to its .zmf path and fails when two inputs
// would write the same file.
func outputPaths(files []string, dir string) (map[string]string, error) {
	outputs := make(map[string]string, len(files))
	owner := make(map[string]string, len(files))
	for _, file := range files {
		out := outputPath(file, dir)
		key := filepath.Clean(out)
		if prev, ok := owner[key]; ok {
			return nil, fmt.Errorf("%s and %s both write %s", prev, file, out)
		}
		owner[key] = file
		outputs[file] = out
	}
	return outputs, nil
}

func outputPath(file, dir string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)) + ".zmf"
	if dir == "" {
		dir = filepath.Dir(file)
	}
	return filepath.Join(dir, base)
}
