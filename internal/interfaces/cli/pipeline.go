package cli

import (
	"context"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/RuoyuGao1/cancer-system/internal/application/pipeline"
	"github.com/RuoyuGao1/cancer-system/internal/domain/run"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/prometheus"
)

type pipelineCommand struct {
	mode  pipeline.Mode
	short string
	long  string
}

var (
	pipelineRun = pipelineCommand{
		mode:  pipeline.ModeFull,
		short: "Align, score and recommend in one pass",
		long: "Loads the three omics tables and the drug table, runs the fusion model\n" +
			"and writes results.csv, patient_embeddings.csv, recommendations.csv and\n" +
			"manifest.json to the output directory.",
	}
	pipelinePredict = pipelineCommand{
		mode:  pipeline.ModePredict,
		short: "Align and score, writing results and embeddings",
		long:  "Writes results.csv and patient_embeddings.csv without ranking compounds.",
	}
	pipelineRecommend = pipelineCommand{
		mode:  pipeline.ModeRecommend,
		short: "Rank compounds for previously written embeddings",
		long: "Reads patient_embeddings.csv from the output directory, reduces the drug\n" +
			"table to the embedding width and writes recommendations.csv.",
	}
)

// openInfrastructure is replaced in tests.
var openInfrastructure = pipeline.OpenInfrastructure

func newPipelineCmd(pc pipelineCommand) *cobra.Command {
	return &cobra.Command{
		Use:   string(pc.mode),
		Short: pc.short,
		Long:  pc.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(cmd.Context(), cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()

			res, runErr := runner.Execute(cmd.Context(), pc.mode)
			if res != nil {
				if err := PrintResult(cmd, cliCtx.OutputFormat, newRunSummary(res)); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}

// newRunner wires the enabled sinks and metrics into a pipeline.Runner. The
// returned cleanup closes the sink clients and flushes the logger.
func newRunner(ctx context.Context, cliCtx *CLIContext) (*pipeline.Runner, func(), error) {
	cfg := cliCtx.Config
	log := cliCtx.Logger

	infra, err := openInfrastructure(ctx, cfg.Sinks, log)
	if err != nil {
		return nil, nil, err
	}
	opts := infra.Options()

	if cfg.Metrics.Enabled {
		collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: cfg.Metrics.Namespace}, log.Named("metrics"))
		if err != nil {
			infra.Close()
			return nil, nil, err
		}
		opts = append(opts,
			pipeline.WithMetrics(prometheus.NewPipelineMetrics(collector)),
			pipeline.WithPushgateway(collector))
	}

	runner, err := pipeline.NewRunner(cfg, log, opts...)
	if err != nil {
		infra.Close()
		return nil, nil, err
	}
	cleanup := func() {
		infra.Close()
		_ = log.Sync()
	}
	return runner, cleanup, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// runSummary is what a pipeline command prints.
type runSummary struct {
	RunID       string           `json:"run_id"`
	SourceRunID string           `json:"source_run_id,omitempty"`
	CohortSize  int              `json:"cohort_size"`
	DrugCount   int              `json:"drug_count,omitempty"`
	Artifacts   []string         `json:"artifacts"`
	ObjectKeys  []string         `json:"object_keys,omitempty"`
	Patients    []summaryPatient `json:"patients"`
	topK        int
}

// summaryPatient omits the risk when a recommend-only run had no results
// file to read it from.
type summaryPatient struct {
	SampleID  string    `json:"sample_id"`
	Risk      *float64  `json:"predicted_risk,omitempty"`
	Compounds []string  `json:"compounds,omitempty"`
	Scores    []float64 `json:"scores,omitempty"`
}

func newRunSummary(res *run.Result) *runSummary {
	patients := make([]summaryPatient, len(res.Patients))
	for i, p := range res.Patients {
		patients[i] = summaryPatient{SampleID: p.SampleID, Compounds: p.Compounds, Scores: p.Scores}
		if !math.IsNaN(p.Risk) {
			risk := p.Risk
			patients[i].Risk = &risk
		}
	}
	return &runSummary{
		RunID:       res.RunID,
		SourceRunID: res.SourceRunID,
		CohortSize:  res.CohortSize,
		DrugCount:   res.DrugCount,
		Artifacts:   res.Artifacts,
		ObjectKeys:  res.ObjectKeys,
		Patients:    patients,
		topK:        res.TopK,
	}
}

func (s *runSummary) TableHeaders() []string {
	headers := []string{"SAMPLE_ID", "PREDICTED_RISK"}
	for i := 1; i <= s.topK; i++ {
		headers = append(headers, "RANK_"+strconv.Itoa(i))
	}
	return headers
}

func (s *runSummary) TableRows() [][]string {
	rows := make([][]string, len(s.Patients))
	for i, p := range s.Patients {
		risk := "-"
		if p.Risk != nil {
			risk = strconv.FormatFloat(*p.Risk, 'f', 6, 64)
		}
		rows[i] = append([]string{p.SampleID, risk}, p.Compounds...)
	}
	return rows
}
