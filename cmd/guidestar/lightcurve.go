package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/star/guidestar/internal/lightcurve"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

func newLightCurveCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "lightcurve",
		Short: "Manage and query the NEOWISE light-curve archive",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", os.Getenv("GUIDESTAR_LIGHTCURVE_DB"), "light-curve SQLite archive")

	open := func() (*lightcurve.Store, error) {
		if dbPath == "" {
			return nil, errors.New("--db or GUIDESTAR_LIGHTCURVE_DB is required")
		}
		return lightcurve.Open(dbPath, cliLogger())
	}

	cmd.AddCommand(newLightCurveImportCmd(open), newLightCurveShowCmd(open))
	return cmd
}

func newLightCurveImportCmd(open func() (*lightcurve.Store, error)) *cobra.Command {
	var sourcesFile, measurementsFile string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load sources and single-exposure photometry from CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourcesFile == "" && measurementsFile == "" {
				return errors.New("nothing to import: pass --sources and/or --measurements")
			}
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if sourcesFile != "" {
				f, err := os.Open(sourcesFile)
				if err != nil {
					return err
				}
				n, err := store.ImportSources(ctx, f)
				f.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d sources imported\n", n)
			}
			if measurementsFile != "" {
				f, err := os.Open(measurementsFile)
				if err != nil {
					return err
				}
				n, err := store.ImportMeasurements(ctx, f)
				f.Close()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d measurements imported\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourcesFile, "sources", "", "CSV with source_id,ra,dec[,allwise_id]")
	cmd.Flags().StringVar(&measurementsFile, "measurements", "", "CSV with source_id,mjd,band,mpro,sigmpro and quality columns")
	return cmd
}

func newLightCurveShowCmd(open func() (*lightcurve.Store, error)) *cobra.Command {
	var (
		sourceID string
		position string
		skip     []string
		asJSON   bool
		offline  bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a source's quality-cut light curve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sourceID == "") == (position == "") {
				return errors.New("exactly one of --source-id or --position is required")
			}
			cuts, unknown := lightcurve.DefaultCuts().Skip(skip)
			if len(unknown) > 0 {
				return fmt.Errorf("unknown quality cut: %s", strings.Join(unknown, ", "))
			}

			var pos skygeom.Coordinate
			if position != "" {
				logger := cliLogger()
				res, err := resolve.Target(cmd.Context(), position, newCLIResolver(logger, offline))
				if err != nil {
					return fmt.Errorf("position: %w", err)
				}
				pos = res.Coordinate
			}

			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			curve, err := store.Lookup(cmd.Context(), sourceID, pos, cuts)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(curve)
			}
			return printCurve(cmd, curve)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source identifier")
	cmd.Flags().StringVarP(&position, "position", "p", "", "coordinate or object name to match within 3 arcsec")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "quality cuts to disable (e.g. sat,sigma_clip or all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "do not resolve names over the network")
	return cmd
}

func printCurve(cmd *cobra.Command, c lightcurve.Curve) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s %s", c.SourceID,
		skygeom.FormatRA(c.RA), skygeom.FormatDec(c.Dec))
	if c.SeparationArcsec != nil {
		fmt.Fprintf(out, "  (%.2f\" from position)", *c.SeparationArcsec)
	}
	fmt.Fprintf(out, "\n%d of %d measurements kept\n", countPoints(c), c.Raw)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MJD\tW1\tW1_ERR\tW2\tW2_ERR")
	for _, o := range c.Observations {
		fmt.Fprintf(tw, "%.5f\t%s\t%s\n", o.MJD, formatPoint(o.W1), formatPoint(o.W2))
	}
	return tw.Flush()
}

func formatPoint(p *lightcurve.Point) string {
	if p == nil {
		return "-\t-"
	}
	return fmt.Sprintf("%.3f\t%.3f", p.Mag, p.Err)
}

func countPoints(c lightcurve.Curve) int {
	n := 0
	for _, o := range c.Observations {
		if o.W1 != nil {
			n++
		}
		if o.W2 != nil {
			n++
		}
	}
	return n
}
