package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/engine"
	"github.com/rpattn/dataflow/internal/export"
	"github.com/rpattn/dataflow/internal/logging"
	"github.com/rpattn/dataflow/internal/metadata"
	"github.com/rpattn/dataflow/internal/policy"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/validators"
	"github.com/rpattn/dataflow/internal/xjson"
)

// errBlocked is returned when a recomputed pipeline has operators that prevent saving it.
var errBlocked = errors.New("pipeline has blocking operators")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	catalog  string
	pipeline string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	rootCmd := &cobra.Command{
		Use:          "lineage",
		Short:        "Offline pipeline validation and field lineage",
		Long:         `Recomputes a pipeline file against a static metadata catalog and reports errors, field lineage and workbooks.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.catalog, "catalog", "", "static catalog JSON file")
	rootCmd.PersistentFlags().StringVar(&flags.pipeline, "pipeline", "", "pipeline JSON file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level")
	rootCmd.MarkPersistentFlagRequired("catalog")
	rootCmd.MarkPersistentFlagRequired("pipeline")

	rootCmd.AddCommand(newValidateCmd(&flags), newTraceCmd(&flags), newExportCmd(&flags))
	return rootCmd
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Recompute the pipeline and print it with its blocking operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, _, err := recompute(cmd.Context(), *flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			blocking := result.Blocking()
			if err := writeJSON(cmd.OutOrStdout(), report{Pipeline: result, Blocking: blocking}); err != nil {
				return err
			}
			if len(blocking) > 0 {
				return fmt.Errorf("%w: %d", errBlocked, len(blocking))
			}
			return nil
		},
	}
}

func newTraceCmd(flags *globalFlags) *cobra.Command {
	var operatorID string
	var key domain.FieldKey
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace one output field back towards its source",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, _, err := recompute(cmd.Context(), *flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if _, _, ok := result.Operator(operatorID); !ok {
				return fmt.Errorf("%w: %s", domain.ErrOperatorNotFound, operatorID)
			}
			steps := result.Lineage(operatorID, key)
			if steps == nil {
				steps = []domain.LineageStep{}
			}
			return writeJSON(cmd.OutOrStdout(), steps)
		},
	}
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator whose output field is traced")
	cmd.Flags().StringVar(&key.ID, "field", "", "field id")
	cmd.Flags().StringVar(&key.SourceID, "source", "", "field source id")
	cmd.MarkFlagRequired("operator")
	cmd.MarkFlagRequired("field")
	cmd.MarkFlagRequired("source")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the lineage workbook of the recomputed pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, reg, err := recompute(cmd.Context(), *flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if out == "" {
				out = export.FileName(result)
			}
			file, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := export.WriteLineageWorkbook(file, result, export.Options{Registry: reg}); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, defaults to lineage-<name>.xlsx")
	return cmd
}

type report struct {
	Pipeline domain.Pipeline   `json:"pipeline"`
	Blocking []domain.Operator `json:"blocking"`
}

// recompute loads both files and runs one full pass. The catalog also serves
// as the sensitivity provider.
func recompute(ctx context.Context, flags globalFlags, logOutput io.Writer) (domain.Pipeline, *registry.Registry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.New(logging.Options{Name: "lineage", Level: flags.logLevel, Output: logOutput})

	catalog, err := metadata.LoadStaticCatalog(flags.catalog)
	if err != nil {
		return domain.Pipeline{}, nil, err
	}
	p, err := loadPipeline(flags.pipeline)
	if err != nil {
		return domain.Pipeline{}, nil, err
	}

	e := newEngine(catalog, logger)
	result, err := e.Recompute(ctx, p)
	if err != nil {
		return domain.Pipeline{}, nil, err
	}
	return result, e.Registry(), nil
}

func newEngine(catalog *metadata.StaticCatalog, logger hclog.Logger) *engine.Engine {
	return engine.New(engine.Options{
		Validators: validators.NewSet(validators.Deps{Policy: policy.NewFilter(catalog), Logger: logger}),
		Metadata:   catalog,
		Samples:    catalog,
		Logger:     logger,
	})
}

func loadPipeline(path string) (domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("read pipeline: %w", err)
	}
	var p domain.Pipeline
	if err := xjson.Unmarshal(data, &p); err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode pipeline %s: %w", path, err)
	}
	if p.Nodes == nil {
		p.Nodes = []domain.Node{}
	}
	return p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := xjson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
