package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"haccp-core/common/database"
	"haccp-core/common/logger"
	"haccp-core/internal/config"
	"haccp-core/internal/repository"
	"haccp-core/internal/risk"
	"haccp-core/internal/service"
	"haccp-core/internal/worksheet"

	"github.com/spf13/cobra"
)

func hazardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hazards",
		Short: "Hazard analysis worksheets",
	}
	cmd.AddCommand(hazardsImportCmd())
	cmd.AddCommand(hazardsTemplateCmd())
	return cmd
}

func hazardsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file.xlsx]",
		Short: "Import a hazard analysis worksheet into a product",
		Args:  cobra.ExactArgs(1),
		RunE:  runHazardsImport,
	}
	cmd.Flags().String("product", "", "Product ID")
	cmd.Flags().String("user", "", "Importing user ID")
	cmd.Flags().Bool("dry-run", false, "Parse and score rows without writing")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func hazardsTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template [file.xlsx]",
		Short: "Write an empty hazard analysis worksheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := worksheet.WriteTemplate(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func runHazardsImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	imp, err := worksheet.ImportHazards(f)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	productID, _ := cmd.Flags().GetString("product")
	userID, _ := cmd.Flags().GetString("user")

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		return printDryRun(cmd.OutOrStdout(), imp, cfg.Risk.ToRisk(), jsonOutput(cmd))
	}

	log, err := logger.NewLogger(cfg.Log.Level, "console", "haccpctl")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	svc := service.NewHazardService(
		repository.NewPostgresProductRepository(db),
		repository.NewPostgresHazardRepository(db),
		log,
		service.WithRiskDefaults(cfg.Risk.ToRisk()),
	)
	return importRows(ctx, cmd.OutOrStdout(), svc, imp, productID, userID, jsonOutput(cmd))
}

// importRows 解析错误与导入错误合并输出
func importRows(ctx context.Context, w io.Writer, svc service.HazardService, imp *worksheet.Import, productID, userID string, asJSON bool) error {
	resp, err := svc.ImportHazards(ctx, service.ImportHazardsRequest{
		ProductID: productID,
		UserID:    userID,
		Rows:      imp.Rows,
	})
	if err != nil {
		return err
	}
	resp.Errors = append(append([]worksheet.RowError{}, imp.Errors...), resp.Errors...)

	if asJSON {
		return writeJSON(w, resp)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HAZARD\tTYPE\tSCORE\tLEVEL")
	for _, h := range resp.Created {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", h.HazardName, h.HazardType, h.RiskScore, h.RiskLevel)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printRowErrors(w, resp.Errors)
	fmt.Fprintf(w, "imported %d hazard(s), rejected %d row(s)\n", len(resp.Created), len(resp.Errors))
	return nil
}

type dryRunRow struct {
	worksheet.HazardRow
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`
}

func printDryRun(w io.Writer, imp *worksheet.Import, rc risk.Config, asJSON bool) error {
	rows := make([]dryRunRow, 0, len(imp.Rows))
	errs := imp.Errors
	for _, r := range imp.Rows {
		res, err := risk.Calculate(r.Likelihood, r.Severity, rc)
		if err != nil {
			errs = append(errs, worksheet.RowError{Row: r.Row, Message: err.Error()})
			continue
		}
		rows = append(rows, dryRunRow{HazardRow: r, RiskScore: res.Score, RiskLevel: string(res.Level)})
	}

	if asJSON {
		return writeJSON(w, map[string]any{"rows": rows, "errors": errs})
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSTEP\tHAZARD\tTYPE\tL\tS\tSCORE\tLEVEL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Row, r.StepNumber, r.HazardName, r.HazardType, r.Likelihood, r.Severity, r.RiskScore, r.RiskLevel)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printRowErrors(w, errs)
	return nil
}

func printRowErrors(w io.Writer, errs []worksheet.RowError) {
	for _, e := range errs {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
