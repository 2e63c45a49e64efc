package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shift2me/internal/config"
	"shift2me/internal/core"
	"shift2me/pkg/domain"
)

func newInitCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init <protocol-file>",
		Short: "Start a new titration from a YAML or JSON protocol file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.LoadProtocolFile(args[0])
			if err != nil {
				return err
			}
			if name != "" {
				p.Name = name
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				if err := svc.Init(cmd.Context(), p); err != nil {
					return err
				}
				fmt.Fprint(a.stdout, svc.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "titration name, overrides the protocol file")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var volume float64
	cmd := &cobra.Command{
		Use:   "add <step-file>",
		Short: "Ingest the next step peak list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vol *float64
			if cmd.Flags().Changed("volume") {
				vol = &volume
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				report, err := svc.AddStepFile(cmd.Context(), args[0], vol)
				if err != nil {
					return err
				}
				printReport(a.stdout, report)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&volume, "volume", 0, "titrant volume (µL) added before this step")
	return cmd
}

func printReport(w io.Writer, r core.StepReport) {
	fmt.Fprintf(w, "step %d: %d records from %s", r.Step, r.Records, r.Source)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, " (%d lines skipped)", len(r.Skipped))
	}
	fmt.Fprintln(w)
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  %s [%s]: %s\n", v.Severity, v.Rule, v.Message)
	}
	if r.ArchiveKey != "" {
		fmt.Fprintf(w, "  archived as %s\n", r.ArchiveKey)
	}
}

func newCutoffCmd(a *app) *cobra.Command {
	var clearCutoff bool
	cmd := &cobra.Command{
		Use:   "cutoff <value> | --clear",
		Short: "Set or clear the intensity cutoff",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearCutoff == (len(args) == 1) {
				return fmt.Errorf("give either a cutoff value or --clear")
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				if clearCutoff {
					if err := svc.ClearCutoff(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, "cutoff cleared")
					return nil
				}
				if err := svc.SetCutoffText(cmd.Context(), args[0]); err != nil {
					return err
				}
				svc.View(func(t *domain.Titration) {
					v, _ := t.Cutoff()
					fmt.Fprintf(a.stdout, "cutoff %g: %d residues above\n", v, len(t.FilteredPositions()))
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearCutoff, "clear", false, "remove the cutoff")
	return cmd
}

func parsePositions(args []string) ([]int, error) {
	out := make([]int, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' }) {
			pos, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("invalid position %q", field)
			}
			out = append(out, pos)
		}
	}
	return out, nil
}

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <position>...",
		Short: "Add residues to the selection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := parsePositions(args)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				skipped, err := svc.Select(cmd.Context(), positions...)
				if err != nil {
					return err
				}
				printSelection(a.stdout, svc, skipped)
				return nil
			})
		},
	}
}

func newDeselectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deselect [position...]",
		Short: "Remove residues from the selection, or clear it",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := parsePositions(args)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				skipped, err := svc.Deselect(cmd.Context(), positions...)
				if err != nil {
					return err
				}
				printSelection(a.stdout, svc, skipped)
				return nil
			})
		},
	}
}

func printSelection(w io.Writer, svc *core.Service, skipped []int) {
	if len(skipped) > 0 {
		fmt.Fprintf(w, "unknown positions: %s\n", joinInts(skipped))
	}
	svc.View(func(t *domain.Titration) {
		fmt.Fprintf(w, "selected: %s\n", joinInts(t.SelectedPositions()))
	})
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the titration digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				fmt.Fprint(a.stdout, svc.Summary())
				return nil
			})
		},
	}
}

func newProtocolCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "protocol",
		Short: "Dump the protocol as an init file followed by the per-step table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := config.Format(format)
			if f != config.FormatYAML && f != config.FormatJSON {
				return fmt.Errorf("%w: %s", config.ErrUnsupportedFormat, format)
			}
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				var err error
				svc.View(func(t *domain.Titration) {
					if err = config.EncodeProtocol(a.stdout, t.Name(), t.Protocol(), f); err != nil {
						return
					}
					if !t.Protocol().Configured() {
						fmt.Fprintln(a.stdout, "\nprotocol not configured, run init first")
						return
					}
					var series domain.ProtocolSeries
					if series, err = t.ProtocolSeries(); err != nil {
						return
					}
					fmt.Fprintln(a.stdout)
					err = writeSeries(a.stdout, t.Protocol().Headers(), series)
				})
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "init file format (yaml, json)")
	return cmd
}

func writeSeries(w io.Writer, headers []string, s domain.ProtocolSeries) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range s.Rows() {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.3f\n",
			r.Step, r.Added, r.Titrant, r.Total, r.ConcTitrant, r.ConcAnalyte, r.Ratio)
	}
	return tw.Flush()
}

func newIntensitiesCmd(a *app) *cobra.Command {
	var selected bool
	cmd := &cobra.Command{
		Use:   "intensities",
		Short: "Print the intensity of every complete residue per step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				var err error
				svc.View(func(t *domain.Titration) { err = writeIntensities(a.stdout, t, selected) })
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&selected, "selected", false, "only print selected residues")
	return cmd
}

func writeIntensities(w io.Writer, t *domain.Titration, selectedOnly bool) error {
	positions := t.CompletePositions()
	keep := make([]bool, len(positions))
	chosen := make(map[int]bool)
	for _, pos := range t.SelectedPositions() {
		chosen[pos] = true
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "step\t")
	for i, pos := range positions {
		keep[i] = !selectedOnly || chosen[pos]
		if keep[i] {
			fmt.Fprintf(tw, "%d\t", pos)
		}
	}
	fmt.Fprintln(tw)
	matrix := t.Intensities()
	for i, step := range t.SortedSteps() {
		fmt.Fprintf(tw, "%d\t", step)
		for j, v := range matrix[i] {
			if keep[j] {
				fmt.Fprintf(tw, "%.4f\t", v)
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the titration from its archived step files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				n, err := svc.Replay(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "replayed %d steps\n", n)
				return nil
			})
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the titration and start an empty one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *core.Service) error {
				if err := svc.Reset(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprint(a.stdout, svc.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the new titration")
	return cmd
}
