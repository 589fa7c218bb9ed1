package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/procure-cli/internal/directory"
	"github.com/sells-group/procure-cli/internal/matching"
	"github.com/sells-group/procure-cli/internal/model"
)

var suppliersCmd = &cobra.Command{
	Use:   "suppliers",
	Short: "Manage and query the supplier directory",
}

var suppliersImportCmd = &cobra.Command{
	Use:   "import <file.xlsx|file.csv|file.yaml>",
	Short: "Bulk-load suppliers into the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batch, _ := cmd.Flags().GetInt("batch-size")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := directory.NewImporter(st, batch, concurrency).ImportFile(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "suppliers import")
		}
		for _, r := range res.Rejected {
			fmt.Fprintf(os.Stderr, "skipped %s\n", r.Error())
		}
		return printJSON(os.Stdout, res)
	},
}

var suppliersMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score directory suppliers for a category and location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		category, _ := cmd.Flags().GetString("category")
		city, _ := cmd.Flags().GetString("city")
		region, _ := cmd.Flags().GetString("region")
		country, _ := cmd.Flags().GetString("country")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := matching.New(st,
			matching.WithMinScore(cfg.Matching.MinScore),
			matching.WithMinCandidates(cfg.Matching.MinCandidates),
			matching.WithMaxResults(cfg.Matching.MaxResults),
		)
		scored, err := engine.FindAndScoreSuppliers(ctx,
			model.Stage{Category: category},
			model.Location{City: city, Region: region, Country: country},
		)
		if err != nil {
			return eris.Wrap(err, "suppliers match")
		}
		if asJSON {
			return printJSON(os.Stdout, scored)
		}
		if len(scored) == 0 {
			fmt.Fprintln(os.Stderr, "No qualified suppliers.")
			return nil
		}
		formatScored(os.Stdout, scored)
		return nil
	},
}

func init() {
	suppliersImportCmd.Flags().Int("batch-size", 500, "suppliers per upsert batch")
	suppliersImportCmd.Flags().Int("concurrency", 1, "concurrent upsert batches")

	suppliersMatchCmd.Flags().String("category", "", "trade category (required)")
	suppliersMatchCmd.Flags().String("city", "", "project city")
	suppliersMatchCmd.Flags().String("region", "", "project region")
	suppliersMatchCmd.Flags().String("country", "", "project country")
	suppliersMatchCmd.Flags().Bool("json", false, "print full scores as JSON")
	_ = suppliersMatchCmd.MarkFlagRequired("category")

	suppliersCmd.AddCommand(suppliersImportCmd)
	suppliersCmd.AddCommand(suppliersMatchCmd)
	rootCmd.AddCommand(suppliersCmd)
}

// formatScored writes a ranked supplier table to out.
func formatScored(out io.Writer, scored []model.ScoredSupplier) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tSUPPLIER\tCATEGORY\tTIER\tSCORE\tCAT\tLOC\tRESP\tRISK\tFIN")
	_, _ = fmt.Fprintln(w, "-\t--------\t--------\t----\t-----\t---\t---\t----\t----\t---")
	for i, s := range scored {
		name := s.CompanyName
		if r := []rune(name); len(r) > 30 {
			name = string(r[:27]) + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			i+1, name, s.MatchedCategory, s.Tier, s.TotalScore,
			s.CategoryScore, s.LocationScore, s.ResponseScore, s.RiskScore, s.FinancialScore,
		)
	}
	_ = w.Flush()
}
