package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/RuoyuGao1/cancer-system/internal/application/pipeline"
)

func newCoxInputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cox-input",
		Short: "Join results with clinical survival data and split at the median risk",
		Long: "Merges results.csv with inputs.clinical on the normalized sample ID and\n" +
			"writes cox_input.csv and risk_groups.csv to the output directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			out, err := runner.CoxInput(cmd.Context())
			if err != nil {
				return err
			}
			return PrintResult(cmd, cliCtx.OutputFormat, newCoxSummary(out))
		},
	}
}

type coxSummary struct {
	Samples    int     `json:"samples"`
	Median     float64 `json:"median_risk"`
	High       int     `json:"high"`
	Low        int     `json:"low"`
	CoxInput   string  `json:"cox_input"`
	RiskGroups string  `json:"risk_groups"`
}

func newCoxSummary(out *pipeline.CoxOutput) *coxSummary {
	high, low := out.GroupCounts()
	return &coxSummary{
		Samples:    len(out.Records),
		Median:     out.Median,
		High:       high,
		Low:        low,
		CoxInput:   out.CoxPath,
		RiskGroups: out.GroupsPath,
	}
}

func (s *coxSummary) TableHeaders() []string {
	return []string{"SAMPLES", "MEDIAN_RISK", "HIGH", "LOW"}
}

func (s *coxSummary) TableRows() [][]string {
	return [][]string{{
		strconv.Itoa(s.Samples),
		strconv.FormatFloat(s.Median, 'f', 6, 64),
		strconv.Itoa(s.High),
		strconv.Itoa(s.Low),
	}}
}
