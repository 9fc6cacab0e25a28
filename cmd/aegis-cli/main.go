package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/samijaber1/aegis-objectives/internal/eval"
	"github.com/samijaber1/aegis-objectives/internal/slo"
	"github.com/samijaber1/aegis-objectives/internal/window"
)

var errValidationFailed = errors.New("validation failed")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errValidationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aegis",
		Short:         "Work with service level objective definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand(), newLadderCommand(), newBudgetCommand())
	return root
}

func newValidateCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate objective YAML files in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), cmd.ErrOrStderr(), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory containing objective YAML files")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func newLadderCommand() *cobra.Command {
	var windowStr, minShortStr string
	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Print the burn rate alert windows used for an objective window",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := slo.ParseDuration(windowStr)
			if err != nil {
				return fmt.Errorf("invalid window: %w", err)
			}
			minShort, err := slo.ParseDuration(minShortStr)
			if err != nil {
				return fmt.Errorf("invalid min-short: %w", err)
			}
			printLadder(cmd.OutOrStdout(), window.Compute(w, window.DefaultRungs(), minShort))
			return nil
		},
	}
	cmd.Flags().StringVar(&windowStr, "window", "28d", "objective window")
	cmd.Flags().StringVar(&minShortStr, "min-short", "1m", "drop rungs whose short window is below this")
	return cmd
}

func newBudgetCommand() *cobra.Command {
	var target, errs, total float64
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Compute the remaining error budget from event counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !(target > 0 && target < 1) {
				return fmt.Errorf("target must be in (0, 1), got %v", target)
			}
			if errs < 0 || total < 0 {
				return fmt.Errorf("counts must not be negative")
			}
			printBudget(cmd.OutOrStdout(), eval.NewBudget(errs, total, target))
			return nil
		},
	}
	cmd.Flags().Float64Var(&target, "target", 0.99, "objective target, e.g. 0.999")
	cmd.Flags().Float64Var(&errs, "errors", 0, "number of bad events in the window")
	cmd.Flags().Float64Var(&total, "total", 0, "number of events in the window")
	return cmd
}

func runValidate(stdout, stderr io.Writer, dirPath string) error {
	validator, err := slo.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	objectives, validationErrors := validator.ValidateDirectory(dirPath)

	if len(validationErrors) == 0 {
		fmt.Fprintf(stdout, "✓ All %d objective files are valid\n", len(objectives))
		return nil
	}

	// Group errors by file
	errorsByFile := make(map[string][]slo.ValidationError)
	for _, err := range validationErrors {
		errorsByFile[err.File] = append(errorsByFile[err.File], err)
	}

	var files []string
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	fmt.Fprintf(stderr, "✗ Validation failed with %d error(s):\n\n", len(validationErrors))
	for _, file := range files {
		for _, err := range errorsByFile[file] {
			if err.Path != "" {
				fmt.Fprintf(stderr, "%s: %s: %s\n", filepath.Base(err.File), err.Path, err.Message)
			} else {
				fmt.Fprintf(stderr, "%s: %s\n", filepath.Base(err.File), err.Message)
			}
		}
	}

	return errValidationFailed
}

func printLadder(out io.Writer, ladder window.Ladder) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tSHORT\tLONG\tFACTOR\tFOR")
	for _, r := range ladder {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\n",
			r.Severity, slo.FormatDuration(r.Short), slo.FormatDuration(r.Long), r.Factor, slo.FormatDuration(r.For))
	}
	tw.Flush()
}

func printBudget(out io.Writer, b eval.Budget) {
	if b.NoData {
		fmt.Fprintln(out, "no traffic: the full budget remains")
	}
	fmt.Fprintf(out, "availability:     %.4f%%\n", b.Availability*100)
	fmt.Fprintf(out, "allowed errors:   %.4f%% (%g of %g events)\n", b.AllowedRatio*100, b.AllowedRatio*b.Total, b.Total)
	fmt.Fprintf(out, "budget remaining: %.2f%%\n", b.Remaining*100)
	if b.Remaining < 0 {
		fmt.Fprintln(out, "budget exhausted")
	}
}
