package core

import (
	"time"

	"reconstructor/internal/annotate"
	"reconstructor/internal/catalog"
)

// Report summarizes one reconstruction run. The embedded annotate.Report
// carries the before/after counts and the final objective flux.
type Report struct {
	RunID          string       `json:"run_id"`
	Input          string       `json:"input"`
	Output         string       `json:"output"`
	InputType      InputType    `json:"input_type"`
	Objective      string       `json:"objective"`
	Gram           catalog.Gram `json:"gram"`
	RefdataVersion string       `json:"refdata_version"`

	HitGenes           int `json:"hit_genes"`
	OrganismGenesAdded int `json:"organism_genes_added"`
	NamedGenes         int `json:"named_genes"`
	MediumExchanges    int `json:"medium_exchanges"`

	GapfillObjective  []string `json:"gapfill_objective,omitempty"`
	GapfillMedium     []string `json:"gapfill_medium,omitempty"`
	BaseInputsMissing []string `json:"base_inputs_missing,omitempty"`

	annotate.Report

	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
