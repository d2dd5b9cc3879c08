package main

import (
	"fmt"

	"haccp-core/internal/config"
	"haccp-core/internal/domain"
	"haccp-core/internal/risk"

	"github.com/spf13/cobra"
)

func riskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Calculate a hazard risk score and level",
		Long: `Calculate a risk score from likelihood and severity.

Thresholds default to the configured risk defaults (HACCP_CONFIG_FILE or
RISK_* environment variables) and can be overridden with flags.`,
		Args: cobra.NoArgs,
		RunE: runRisk,
	}
	cmd.Flags().IntP("likelihood", "l", 0, "Likelihood (1..scale)")
	cmd.Flags().IntP("severity", "s", 0, "Severity (1..scale)")
	cmd.Flags().String("method", "", "multiplication, addition or matrix")
	cmd.Flags().Int("low", 0, "Low threshold")
	cmd.Flags().Int("medium", 0, "Medium threshold")
	cmd.Flags().Int("high", 0, "High threshold")
	_ = cmd.MarkFlagRequired("likelihood")
	_ = cmd.MarkFlagRequired("severity")
	return cmd
}

type riskOutput struct {
	Likelihood       int                          `json:"likelihood"`
	Severity         int                          `json:"severity"`
	RiskScore        int                          `json:"risk_score"`
	RiskLevel        domain.RiskLevel             `json:"risk_level"`
	Method           domain.RiskCalculationMethod `json:"method"`
	ControlThreshold int                          `json:"control_threshold"`
}

func runRisk(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rc := cfg.Risk.ToRisk()

	flags := cmd.Flags()
	if v, _ := flags.GetString("method"); v != "" {
		rc.Method = domain.RiskCalculationMethod(v)
	}
	for name, dst := range map[string]*int{"low": &rc.Low, "medium": &rc.Medium, "high": &rc.High} {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	if err := rc.Validate(); err != nil {
		return err
	}

	likelihood, _ := flags.GetInt("likelihood")
	severity, _ := flags.GetInt("severity")
	res, err := risk.Calculate(likelihood, severity, rc)
	if err != nil {
		return err
	}

	out := riskOutput{
		Likelihood:       likelihood,
		Severity:         severity,
		RiskScore:        res.Score,
		RiskLevel:        res.Level,
		Method:           res.Method,
		ControlThreshold: rc.ControlThreshold(),
	}
	if jsonOutput(cmd) {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "score %d  level %s  (method %s, L=%d S=%d)\n",
		out.RiskScore, out.RiskLevel, out.Method, likelihood, severity)
	return nil
}
