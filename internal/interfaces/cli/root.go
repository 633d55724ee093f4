// Package cli implements the oncofuse command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// RootOptions holds global CLI flags. Flags override the config file only
// when they are set on the command line.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputDir    string
	TopK         int
	Seed         int64
	Weights      string
	OutputFormat string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	OutputFormat string
}

// NewRootCommand creates the root command with its global flags and
// subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "oncofuse",
		Short: "Multi-omics cancer risk fusion and drug recommendation",
		Long: "oncofuse aligns expression, mutation and methylation tables, scores each\n" +
			"patient with a fusion model and ranks candidate compounds against the\n" +
			"patient embeddings.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: defaults plus ONCOFUSE_* env)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.OutputDir, "output-dir", "", "directory for output tables")
	pf.IntVar(&opts.TopK, "top-k", 0, "compounds recommended per patient")
	pf.Int64Var(&opts.Seed, "seed", 0, "weight initialization seed")
	pf.StringVar(&opts.Weights, "weights", "", "local model weights file")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "table", "summary format (table, json)")

	cmd.AddCommand(
		newPipelineCmd(pipelineRun),
		newPipelineCmd(pipelinePredict),
		newPipelineCmd(pipelineRecommend),
		newCoxInputCmd(),
		newLookupCmd(),
		newNeighborsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// persistentPreRun loads the config, applies flag overrides, builds the
// logger and stores a CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return err
	}
	applyOverrides(cmd, cfg, opts)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "invalid configuration after flag overrides")
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Caller: cfg.Log.Caller,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "logger initialization failed")
	}
	logging.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, &CLIContext{
		Config:       cfg,
		Logger:       logger.Named("oncofuse"),
		OutputFormat: opts.OutputFormat,
	}))
	return nil
}

// applyOverrides copies the flags set on the command line into cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, opts *RootOptions) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = strings.ToLower(opts.LogLevel)
	}
	if flags.Changed("output-dir") {
		cfg.Outputs.Dir = opts.OutputDir
	}
	if flags.Changed("top-k") {
		cfg.Recommendation.TopK = opts.TopK
	}
	if flags.Changed("seed") {
		cfg.Model.Seed = opts.Seed
	}
	if flags.Changed("weights") {
		cfg.Model.WeightsPath = opts.Weights
	}
}

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Internal("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Internal("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// PrintResult writes data in the selected format. Table output needs data
// to provide headers and rows.
func PrintResult(cmd *cobra.Command, format string, data interface{}) error {
	type tableProvider interface {
		TableHeaders() []string
		TableRows() [][]string
	}

	if strings.ToLower(format) == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", data)
	return nil
}

// PrintError writes err to stderr with its code when it has one.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error [%s]: %s\n", code, err.Error())
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			sb.WriteString(padRight(val, colWidths[i]))
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(headers))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
