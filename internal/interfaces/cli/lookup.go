package cli

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RuoyuGao1/cancer-system/internal/application/lookup"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/database/neo4j"
)

// openLookup is replaced in tests.
var openLookup = lookup.Open

// withLookup opens the read backends of the configured sinks, runs fn and
// closes them again.
func withLookup(cmd *cobra.Command, fn func(*lookup.Service) (interface{}, error)) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg := cliCtx.Config
	embeddings := cfg.Outputs.Embeddings
	if embeddings != "" && !filepath.IsAbs(embeddings) {
		embeddings = filepath.Join(cfg.Outputs.Dir, embeddings)
	}

	svc, cleanup, err := openLookup(cmd.Context(), cfg.Sinks, embeddings, cliCtx.Logger.Named("lookup"))
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := fn(svc)
	if err != nil {
		return err
	}
	return PrintResult(cmd, cliCtx.OutputFormat, out)
}

func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Read published results back from the result sinks",
		Long: "Queries the Redis result cache and the Neo4j recommendation graph for\n" +
			"what earlier runs published. The backends are taken from the sinks\n" +
			"section of the config and must be enabled there.",
	}
	cmd.AddCommand(newLookupPatientCmd(), newLookupRunCmd(), newLookupCompoundCmd())
	return cmd
}

func newLookupPatientCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "patient <sample_id>",
		Short: "Show the cached result and recommendation edges of one sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLookup(cmd, func(svc *lookup.Service) (interface{}, error) {
				view, err := svc.Patient(cmd.Context(), args[0], runID)
				if err != nil {
					return nil, err
				}
				return &patientLookup{view}, nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "restrict graph edges to one run")
	return cmd
}

func newLookupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <run_id>",
		Short: "Show the cached metadata of a run and the samples it covered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLookup(cmd, func(svc *lookup.Service) (interface{}, error) {
				view, err := svc.Run(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				return &runLookup{view}, nil
			})
		},
	}
}

func newLookupCompoundCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "compound <name>",
		Short: "List the patients a compound was recommended to in one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLookup(cmd, func(svc *lookup.Service) (interface{}, error) {
				edges, err := svc.CompoundPatients(cmd.Context(), args[0], runID)
				if err != nil {
					return nil, err
				}
				return edgeList(edges), nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run to query (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newNeighborsCmd() *cobra.Command {
	var (
		runID string
		k     int
	)
	cmd := &cobra.Command{
		Use:   "neighbors <sample_id>",
		Short: "Find the patients closest to a sample in latent space",
		Long: "Searches the Milvus embedding index with the sample's embedding, read\n" +
			"from the Redis cache when enabled and otherwise from the embeddings\n" +
			"file in the output directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLookup(cmd, func(svc *lookup.Service) (interface{}, error) {
				hits, err := svc.Neighbors(cmd.Context(), args[0], k, runID)
				if err != nil {
					return nil, err
				}
				return neighborList(hits), nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of neighbours")
	cmd.Flags().StringVar(&runID, "run", "", "restrict the search to one run")
	return cmd
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

type patientLookup struct {
	*lookup.PatientView
}

func (p *patientLookup) TableHeaders() []string {
	return []string{"SAMPLE_ID", "RUN_ID", "PREDICTED_RISK", "RANK", "COMPOUND", "SCORE"}
}

// TableRows prints one row per graph edge, or the cached ranking when the
// graph is not enabled.
func (p *patientLookup) TableRows() [][]string {
	risk := "-"
	if p.Risk != nil {
		risk = strconv.FormatFloat(*p.Risk, 'f', 6, 64)
	}
	var rows [][]string
	if len(p.Recommendations) > 0 {
		for _, e := range p.Recommendations {
			rows = append(rows, []string{e.SampleID, e.RunID, risk, strconv.Itoa(e.Rank), e.Compound, formatScore(e.Score)})
		}
		return rows
	}
	for i, c := range p.Compounds {
		score := "-"
		if i < len(p.Scores) {
			score = formatScore(p.Scores[i])
		}
		rows = append(rows, []string{p.SampleID, p.RunID, risk, strconv.Itoa(i + 1), c, score})
	}
	if len(rows) == 0 {
		rows = append(rows, []string{p.SampleID, p.RunID, risk, "-", "-", "-"})
	}
	return rows
}

type runLookup struct {
	*lookup.RunView
}

func (r *runLookup) TableHeaders() []string {
	return []string{"RUN_ID", "STARTED_AT", "COHORT", "DRUGS", "TOP_K", "SOURCE_RUN", "PATIENTS"}
}

func (r *runLookup) TableRows() [][]string {
	res := r.Run
	source := res.SourceRunID
	if source == "" {
		source = "-"
	}
	return [][]string{{
		res.RunID,
		res.StartedAt.UTC().Format(time.RFC3339),
		strconv.Itoa(res.CohortSize),
		strconv.Itoa(res.DrugCount),
		strconv.Itoa(res.TopK),
		source,
		strings.Join(r.Patients, ","),
	}}
}

type edgeList []neo4j.Edge

func (l edgeList) TableHeaders() []string {
	return []string{"SAMPLE_ID", "RANK", "SCORE", "RUN_ID"}
}

func (l edgeList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, e := range l {
		rows[i] = []string{e.SampleID, strconv.Itoa(e.Rank), formatScore(e.Score), e.RunID}
	}
	return rows
}

type neighborList []lookup.Neighbor

func (l neighborList) TableHeaders() []string {
	return []string{"SAMPLE_ID", "SIMILARITY", "RUN_ID"}
}

func (l neighborList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, n := range l {
		rows[i] = []string{n.SampleID, strconv.FormatFloat(float64(n.Score), 'f', 4, 32), n.RunID}
	}
	return rows
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
