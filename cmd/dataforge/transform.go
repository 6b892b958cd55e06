package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/export"
	"github.com/rpattn/dataforge/internal/geo"
	"github.com/rpattn/dataforge/internal/ingestion"
	"github.com/rpattn/dataforge/internal/reconcile"
	"github.com/rpattn/dataforge/internal/session"
)

var (
	inputPaths    []string
	overridesPath string
	outputPath    string
	logPath       string
	strict        bool
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Reconcile files once and write the cleaned rows",
	Long: `Runs the engine over the input files. Rows are addressed in the overrides
file as "<file name>#<row index>", e.g. "survey.csv#3". When two inputs share a
file name, the path as given on the command line is used instead.`,
	Args: cobra.NoArgs,
	RunE: runTransform,
}

func init() {
	transformCmd.Flags().StringSliceVarP(&inputPaths, "input", "i", nil, "Input files (CSV, XLSX or JSON)")
	transformCmd.Flags().StringVar(&overridesPath, "overrides", "", "YAML file with projections, group values and export keys")
	transformCmd.Flags().StringVarP(&outputPath, "output", "o", export.DefaultFileName, "Output JSON file")
	transformCmd.Flags().StringVar(&logPath, "log", "", "Write the transformation log to this file")
	transformCmd.Flags().BoolVar(&strict, "strict", false, "Fail when rows still need operator input")
	_ = transformCmd.MarkFlagRequired("input")
}

func runTransform(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ingest := ingestion.NewService(nil, logger)

	ids := fileIDs(inputPaths)
	files := make([]domain.SourceFile, 0, len(inputPaths))
	for i, path := range inputPaths {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		file, err := ingest.Load(ctx, ingestion.Request{
			FileID:   ids[i],
			FileName: filepath.Base(path),
			Data:     f,
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, file)
	}
	if err := reconcile.CheckFileIDs(files); err != nil {
		return err
	}

	overrides := session.Overrides{}
	if overridesPath != "" {
		f, err := os.Open(overridesPath)
		if err != nil {
			return err
		}
		overrides, err = session.LoadOverrides(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", overridesPath, err)
		}
	}

	converter := geo.NewProjConverter()
	defer converter.Close()
	opts, err := cfg.EngineOptions(converter)
	if err != nil {
		return err
	}

	result := reconcile.NewEngine(opts).Apply(files, overrides.Projections, overrides.GroupValues)
	session.MarkDeselected(&result, overrides.Deselected)

	rows := export.Project(result.Rows)
	exportOpts := export.Options{Keys: export.DefaultKeys(rows)}
	if overrides.Export != nil && len(overrides.Export.Keys) > 0 {
		exportOpts = *overrides.Export
	}
	rows, err = export.Restructure(rows, exportOpts)
	if err != nil {
		return err
	}
	if err := writeFile(outputPath, func(f *os.File) error { return export.WriteJSON(f, rows) }); err != nil {
		return err
	}

	if logPath != "" {
		err := writeFile(logPath, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Log)
		})
		if err != nil {
			return err
		}
	}

	summary := result.Summary
	logger.Info("transform complete",
		zap.String("output", outputPath),
		zap.Int("rows", summary.TotalRows),
		zap.Int("complete", summary.CompleteRows),
		zap.Int("needs_zone", summary.NeedsZoneRows),
		zap.Int("needs_coordinates_and_zone", summary.NeedsCoordinatesRows),
		zap.Strings("pending_group_keys", summary.PendingGroupKeys),
		zap.Int("errors", summary.ErrorEntries))

	if strict && summary.Pending() {
		return fmt.Errorf("%d rows need a zone, %d need coordinates and zone, %d group keys need a value",
			summary.NeedsZoneRows, summary.NeedsCoordinatesRows, len(summary.PendingGroupKeys))
	}
	return nil
}

// fileIDs uses the base name of each path, or the cleaned path when two
// inputs share a base name.
func fileIDs(paths []string) []string {
	bases := make(map[string]int, len(paths))
	for _, path := range paths {
		bases[filepath.Base(path)]++
	}
	ids := make([]string, len(paths))
	for i, path := range paths {
		base := filepath.Base(path)
		if bases[base] > 1 {
			ids[i] = filepath.ToSlash(filepath.Clean(path))
			continue
		}
		ids[i] = base
	}
	return ids
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
