package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/star/guidestar/internal/cache"
	"github.com/star/guidestar/internal/catalog"
	"github.com/star/guidestar/internal/dualfield"
	"github.com/star/guidestar/internal/fieldsearch"
	"github.com/star/guidestar/internal/observability"
	"github.com/star/guidestar/internal/parec"
	"github.com/star/guidestar/internal/resolve"
	"github.com/star/guidestar/internal/skygeom"
)

// cliLogger keeps command output clean; only warnings reach stderr.
func cliLogger() *slog.Logger {
	return newLogger(os.Stderr, slog.LevelWarn)
}

// newCLIResolver returns a Sesame resolver, or nil when disabled.
func newCLIResolver(logger *slog.Logger, offline bool) resolve.Resolver {
	if offline {
		return nil
	}
	cfg := loadResolverConfig(logger)
	if !cfg.Enabled {
		return nil
	}
	names := cache.New[string, skygeom.Coordinate](cache.Config{Name: "names", TTL: cfg.CacheTTL}, logger)
	s := resolve.NewSesame(logger, names)
	if cfg.URL != "" {
		s.WithBaseURL(cfg.URL)
	}
	return s
}

func newSearchCmd() *cobra.Command {
	var (
		target       string
		radiusArcmin float64
		vizier       []string
		vizierRows   int
		column       string
		minMag       float64
		maxMag       float64
		instPA       float64
		tolerance    float64
		paEnabled    bool
		limit        int
		xlsxPath     string
		offline      bool
	)

	cmd := &cobra.Command{
		Use:   "search [catalog files...]",
		Short: "Rank catalog stars around a target",
		Long: `search loads the given CSV, TSV or XLSX catalogs (and optional VizieR
cone searches), ranks every star within the radius by separation from the
target and prints the list with position angles. With --pa-enabled, stars
inside the allowed wedges are marked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger()
			ctx := cmd.Context()

			res, err := resolve.Target(ctx, target, newCLIResolver(logger, offline))
			if err != nil {
				return err
			}

			var catalogs []*catalog.Catalog
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				cat, err := catalog.Decode(data, name, logger)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				cat.Source = path
				catalogs = append(catalogs, cat)
			}
			if len(vizier) > 0 {
				fetcher := catalog.NewFetcher(logger)
				for _, source := range vizier {
					u := catalog.VizierURL(source, res.Coordinate, radiusArcmin, vizierRows)
					cat, _, err := fetcher.FetchCatalog(ctx, source, u)
					if err != nil {
						return fmt.Errorf("vizier %s: %w", source, err)
					}
					catalogs = append(catalogs, cat)
				}
			}

			var filter fieldsearch.MagnitudeFilter
			if column != "" {
				filter.Column = column
				if cmd.Flags().Changed("min") {
					filter.Min = &minMag
				}
				if cmd.Flags().Changed("max") {
					filter.Max = &maxMag
				}
				if filter.Min != nil && filter.Max != nil && *filter.Min > *filter.Max {
					return errors.New("--min must not exceed --max")
				}
			}

			result, err := fieldsearch.Search(res.Coordinate, catalogs, fieldsearch.Options{
				RadiusArcmin: radiusArcmin,
				Filter:       filter,
			})
			if err != nil {
				return err
			}

			pa := parec.Config{Enabled: paEnabled, InstrumentPA: instPA, ToleranceDeg: tolerance}
			printSearch(cmd.OutOrStdout(), res, result, pa, limit)

			if xlsxPath != "" {
				return writeSearchXLSX(xlsxPath, result, pa)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&target, "target", "t", "", "target as sexagesimal, decimal degrees or an object name")
	f.Float64Var(&radiusArcmin, "radius", fieldsearch.DefaultRadiusArcmin, "search radius in arcmin")
	f.StringSliceVar(&vizier, "vizier", nil, "VizieR catalog to cone-search around the target (repeatable)")
	f.IntVar(&vizierRows, "vizier-max-rows", 5000, "row limit for each VizieR query")
	f.StringVar(&column, "column", "", "magnitude column to filter on")
	f.Float64Var(&minMag, "min", 0, "lower magnitude bound (inclusive)")
	f.Float64Var(&maxMag, "max", 0, "upper magnitude bound (inclusive)")
	f.BoolVar(&paEnabled, "pa-enabled", false, "mark stars inside the instrument PA wedges")
	f.Float64Var(&instPA, "inst-pa", 0, "instrument position angle in degrees")
	f.Float64Var(&tolerance, "tolerance", 30, "wedge half-width in degrees")
	f.IntVar(&limit, "limit", 20, "number of stars to print (0 prints all)")
	f.StringVar(&xlsxPath, "xlsx", "", "also write the displayed list to this XLSX file")
	f.BoolVar(&offline, "offline", false, "do not resolve object names")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func printSearch(w io.Writer, target resolve.Resolution, res *fieldsearch.Result, pa parec.Config, limit int) {
	fmt.Fprintf(w, "target %s %s (%s)\n", skygeom.FormatRA(target.Coordinate.RA), skygeom.FormatDec(target.Coordinate.Dec), target.Method)
	fmt.Fprintf(w, "%d stars within %.1f arcmin, %d displayed\n", len(res.Ranked), res.RadiusDeg*60, len(res.Displayed))
	if pa.Enabled {
		c := pa.WedgeCenters()
		fmt.Fprintf(w, "slit PA %.1f, wedges %.1f and %.1f ±%.1f deg\n", pa.SlitPA(), c[0], c[1], pa.ToleranceDeg)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCATALOG\tRA\tDEC\tSEP'\tPA\tREC\t"+strings.Join(res.Columns, "\t"))
	for i, st := range res.Displayed {
		if limit > 0 && i >= limit {
			break
		}
		rec := ""
		if pa.Recommended(st.PositionAngleDeg) {
			rec = "*"
		}
		cols := make([]string, len(res.Columns))
		for j, col := range res.Columns {
			if v, ok := st.Row.Float(col); ok {
				cols[j] = fmt.Sprintf("%.2f", v)
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%.1f\t%s\t%s\n",
			i+1, st.Catalog, skygeom.FormatRA(st.RA), skygeom.FormatDec(st.Dec),
			st.SeparationDeg*60, st.PositionAngleDeg, rec, strings.Join(cols, "\t"))
	}
	tw.Flush()
}

func writeSearchXLSX(path string, res *fieldsearch.Result, pa parec.Config) error {
	header := append([]string{"catalog", "ra_deg", "dec_deg", "separation_arcmin", "position_angle_deg", "recommended"}, res.Columns...)
	rows := make([][]any, 0, len(res.Displayed))
	for _, st := range res.Displayed {
		row := []any{st.Catalog, st.RA, st.Dec, st.SeparationDeg * 60, st.PositionAngleDeg, pa.Recommended(st.PositionAngleDeg)}
		for _, col := range res.Columns {
			row = append(row, st.Row[col])
		}
		rows = append(rows, row)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := catalog.WriteXLSX(f, "guide stars", header, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newObserveCmd() *cobra.Command {
	var (
		target    string
		guide     string
		siteKey   string
		sitesFile string
		date      string
		minAlt    float64
		refine    bool
		asJSON    bool
		offline   bool
	)

	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Check target and guide observability for a night",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger()
			ctx := cmd.Context()

			sites, err := observability.LoadSitesFile(sitesFile, logger)
			if err != nil {
				return err
			}
			site, ok := sites.Lookup(siteKey)
			if !ok {
				return fmt.Errorf("unknown site %q", siteKey)
			}

			night := time.Now().In(site.Location())
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
				}
				night = d
			}

			r := newCLIResolver(logger, offline)
			t, err := resolve.Target(ctx, target, r)
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			g, err := resolve.Target(ctx, guide, r)
			if err != nil {
				return fmt.Errorf("guide: %w", err)
			}

			cfg := observability.DefaultConfig()
			cfg.RefineCrossings = refine
			if cmd.Flags().Changed("min-alt") {
				cfg.MinAltitudeDeg = minAlt
			}
			v := observability.Check(t.Coordinate, g.Coordinate, site, night, cfg)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			printVerdict(cmd.OutOrStdout(), v)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&target, "target", "t", "", "target coordinate or name")
	f.StringVarP(&guide, "guide", "g", "", "guide star coordinate or name")
	f.StringVar(&siteKey, "site", observability.DefaultSiteKey, "observatory key (see 'guidestar sites')")
	f.StringVar(&sitesFile, "sites", os.Getenv("GUIDESTAR_SITES_FILE"), "TOML file with extra observatory sites")
	f.StringVar(&date, "date", "", "local date the night starts on (YYYY-MM-DD, default today)")
	f.Float64Var(&minAlt, "min-alt", observability.DefaultMinAltitudeDeg, "minimum altitude in degrees")
	f.BoolVar(&refine, "refine", false, "bisect rise and set times to about a second")
	f.BoolVar(&asJSON, "json", false, "print the full verdict as JSON")
	f.BoolVar(&offline, "offline", false, "do not resolve object names")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("guide")
	return cmd
}

func printVerdict(w io.Writer, v observability.Verdict) {
	loc := v.Night.Site.Location()
	at := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.In(loc).Format("2006-01-02 15:04")
	}

	fmt.Fprintf(w, "%s, night of %s\n", v.Night.Site.Name, v.Night.Date)
	fmt.Fprintf(w, "sunset %s  twilight %s .. %s  sunrise %s\n",
		at(v.Night.Sunset), at(v.Night.EveningTwilight), at(v.Night.MorningTwilight), at(v.Night.Sunrise))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tOBSERVABLE\tRISE\tSET\tBEST\tMAX ALT")
	for _, row := range []struct {
		name string
		r    observability.Report
	}{{"target", v.Target}, {"guide", v.Guide}} {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%.1f\n",
			row.name, row.r.Observable, at(row.r.RiseTime), at(row.r.SetTime), at(row.r.BestTime), row.r.BestAltitudeDeg)
	}
	tw.Flush()

	if v.Observable {
		fmt.Fprintln(w, "observable")
	} else {
		fmt.Fprintln(w, "not observable")
	}
}

func newDualFieldCmd() *cobra.Command {
	var (
		imagePath    string
		center       string
		scale        float64
		target       string
		guide        string
		widthArcmin  float64
		heightArcmin float64
		outWidth     int
		out          string
		noFlip       bool
		noLabels     bool
	)

	cmd := &cobra.Command{
		Use:   "dualfield",
		Short: "Render a target/guide dual-field preview from a sky image",
		Long: `dualfield cuts the target and guide fields out of a north-up sky image
with a known centre and plate scale, rotates both so the target to guide
direction is horizontal, and writes them side by side as PNG.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cliLogger()
			ctx := cmd.Context()

			img, err := decodeImageFile(imagePath)
			if err != nil {
				return err
			}
			c, err := resolve.Target(ctx, center, nil)
			if err != nil {
				return fmt.Errorf("center: %w", err)
			}
			t, err := resolve.Target(ctx, target, nil)
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			g, err := resolve.Target(ctx, guide, nil)
			if err != nil {
				return fmt.Errorf("guide: %w", err)
			}

			view, err := dualfield.NewStaticView(img, c.Coordinate, scale)
			if err != nil {
				return err
			}
			cfg := dualfield.DefaultConfig()
			cfg.SettleDelay = 0
			cfg.FlipComposite = !noFlip
			cfg.Labels = !noLabels
			if outWidth > 0 {
				cfg.OutputWidth = outWidth
			}

			params := dualfield.NewParams(t.Coordinate, g.Coordinate, widthArcmin, heightArcmin)
			if err := params.Validate(); err != nil {
				return err
			}
			p := dualfield.NewPipeline(view, view, cfg, logger)
			if err := p.WriteFile(ctx, params, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&imagePath, "image", "", "north-up sky image (PNG, JPEG, TIFF or WebP)")
	f.StringVar(&center, "center", "", "coordinate of the image's central pixel")
	f.Float64Var(&scale, "scale", 1, "plate scale in arcsec per pixel")
	f.StringVarP(&target, "target", "t", "", "target coordinate")
	f.StringVarP(&guide, "guide", "g", "", "guide star coordinate")
	f.Float64Var(&widthArcmin, "width", 2, "field width in arcmin")
	f.Float64Var(&heightArcmin, "height", 2, "field height in arcmin")
	f.IntVar(&outWidth, "output-width", 0, "panel width in pixels (default 512)")
	f.StringVarP(&out, "out", "o", "dualfield.png", "output PNG path")
	f.BoolVar(&noFlip, "no-flip", false, "do not turn the composite by 180°")
	f.BoolVar(&noLabels, "no-labels", false, "omit panel captions")
	for _, name := range []string{"image", "center", "target", "guide"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func newSitesCmd() *cobra.Command {
	var sitesFile string

	cmd := &cobra.Command{
		Use:   "sites",
		Short: "List known observatory sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sites, err := observability.LoadSitesFile(sitesFile, cliLogger())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tLAT\tLON\tELEV\tTZ")
			for _, s := range sites.All() {
				fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%.0f\t%s\n",
					s.Key, s.Name, s.LatitudeDeg, s.LongitudeDeg, s.ElevationM, s.Location())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sitesFile, "sites", os.Getenv("GUIDESTAR_SITES_FILE"), "TOML file with extra observatory sites")
	return cmd
}
