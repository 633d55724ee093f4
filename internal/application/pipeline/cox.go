package pipeline

import (
	"context"
	"encoding/csv"

	"github.com/RuoyuGao1/cancer-system/internal/application/survival"
	"github.com/RuoyuGao1/cancer-system/internal/domain/patient"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/storage/tabular"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// CoxOutput is what CoxInput wrote.
type CoxOutput struct {
	Records    []patient.CoxRecord
	Groups     []patient.StratifiedPatient
	Median     float64
	CoxPath    string
	GroupsPath string
}

// CoxInput joins the results file with the clinical table, writes the Cox
// regression input and splits the merged cohort at its median risk. It does
// not publish to sinks.
func (r *Runner) CoxInput(ctx context.Context) (*CoxOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.cfg.Inputs.Clinical == "" {
		return nil, errors.New(errors.CodeInputUnreadable, "inputs.clinical is not set")
	}
	policy, err := survival.ParseTiePolicy(r.cfg.Survival.TiePolicy)
	if err != nil {
		return nil, err
	}

	scores, err := tabular.LoadResults(r.outputPath(r.cfg.Outputs.Results))
	if err != nil {
		return nil, err
	}
	clinical, err := tabular.LoadClinical(r.cfg.Inputs.Clinical, tabular.ClinicalColumns{
		Time:  r.cfg.Survival.TimeColumn,
		Event: r.cfg.Survival.EventColumn,
	})
	if err != nil {
		return nil, err
	}

	records, err := r.survival.BuildCoxInput(scores, clinical)
	if err != nil {
		return nil, err
	}
	groups, median, err := r.survival.Stratify(survival.CoxScores(records), policy)
	if err != nil {
		return nil, err
	}

	out := &CoxOutput{
		Records:    records,
		Groups:     groups,
		Median:     median,
		CoxPath:    r.outputPath(r.cfg.Outputs.CoxInput),
		GroupsPath: r.outputPath(r.cfg.Outputs.RiskGroups),
	}
	if err := tabular.WriteFile(out.CoxPath, func(w *csv.Writer) error {
		return tabular.WriteCoxInput(w, records)
	}); err != nil {
		return nil, err
	}
	if err := tabular.WriteFile(out.GroupsPath, func(w *csv.Writer) error {
		return tabular.WriteRiskGroups(w, groups)
	}); err != nil {
		return nil, err
	}

	r.logger.Info("Cox input written",
		logging.String("cox_input", out.CoxPath),
		logging.String("risk_groups", out.GroupsPath),
		logging.Int("samples", len(records)),
		logging.Float64("median_risk", median))
	return out, nil
}

// GroupCounts returns the number of High and Low patients.
func (o *CoxOutput) GroupCounts() (high, low int) {
	for _, g := range o.Groups {
		if g.Group == patient.RiskHigh {
			high++
		} else {
			low++
		}
	}
	return high, low
}
