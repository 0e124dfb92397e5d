package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"reconstructor/internal/catalog"
	"reconstructor/internal/core"
	"reconstructor/internal/refdata"
)

func newBuildCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Reconstruct a metabolic network and write it as a JSON model",
		Long: `Build a draft network from protein sequences (--type 1), DIAMOND blastp
hits (--type 2) or an existing JSON model (--type 3), gap-fill it against the
universal reaction bag and write the annotated model.

Reference data is read from RECONSTRUCTOR_REFDATA_DRIVER (file, sqlite or
postgres). Inputs and outputs are artifact keys; with the default filesystem
driver they are paths relative to the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.build(cmd)
		},
	}
	def := core.DefaultConfig()
	f := cmd.Flags()
	f.String("input", core.NoInput, "input file: protein FASTA, blastp hits or JSON model")
	f.Int("type", int(def.Type), "input type: fasta=1, blastp hits=2, model=3")
	f.String("media", def.Media, "rich, minimal, default or a comma separated list of metabolite ids")
	f.StringSlice("tasks", nil, "reactions that must carry flux during gap-filling")
	f.String("org", def.Organism, "KEGG organism code whose genes are all included")
	f.Float64("min_frac", def.MinFraction, "minimum objective fraction required during gap-filling")
	f.Float64("max_frac", def.MaxFraction, "maximum objective fraction allowed during gap-filling")
	f.String("gram", string(def.Gram), "Gram classification: positive, negative or none")
	f.String("out", def.Output, "output model key")
	f.String("name", def.Name, "id of the output model")
	f.Int("cpu", def.Processors, "threads passed to DIAMOND")
	f.String("gapfill", "yes", "gap-fill the model: yes or no")
	f.Int("exchange", 1, "final exchange bounds: 1 open, 0 closed")
	f.String("diamond", "", "DIAMOND executable (default: PATH lookup)")
	f.String("diamond_db", "", "DIAMOND database (default: "+refdata.DiamondDatabaseFile+" in the reference data directory)")
	f.Bool("json", false, "print the run report as JSON")
	f.String("metrics-out", "", "write stage and run metrics to this file (.json for the pipeline snapshot, otherwise Prometheus text)")
	f.String("trace-out", "", "write stage spans to this file as JSON lines")
	return cmd
}

func (a *app) buildConfig() (core.Config, error) {
	cfg := core.DefaultConfig()
	v := a.v
	input := v.GetString("input")
	if input != core.NoInput {
		key, err := a.artifactKey(input)
		if err != nil {
			return cfg, err
		}
		input = key
	}
	cfg.Input = input
	cfg.Type = core.InputType(v.GetInt("type"))
	cfg.Media = v.GetString("media")
	cfg.Tasks = v.GetStringSlice("tasks")
	cfg.Organism = v.GetString("org")
	cfg.MinFraction = v.GetFloat64("min_frac")
	cfg.MaxFraction = v.GetFloat64("max_frac")
	cfg.Gram = catalog.Gram(v.GetString("gram"))
	cfg.Name = v.GetString("name")
	cfg.Processors = v.GetInt("cpu")
	cfg.DiamondPath = v.GetString("diamond")
	cfg.DiamondDB = v.GetString("diamond_db")
	cfg.OpenExchanges = v.GetInt("exchange") != 0

	switch strings.ToLower(v.GetString("gapfill")) {
	case "yes", "y", "true", "1":
		cfg.Gapfill = true
	case "no", "n", "false", "0":
		cfg.Gapfill = false
	default:
		return cfg, fmt.Errorf("invalid --gapfill %q: want yes or no", v.GetString("gapfill"))
	}

	if out := v.GetString("out"); out != "" && out != core.DefaultValue {
		key, err := a.artifactKey(out)
		if err != nil {
			return cfg, err
		}
		cfg.Output = key
	}
	return cfg, nil
}

func (a *app) build(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := a.buildConfig()
	if err != nil {
		return err
	}

	refs, err := refdata.OpenWith(ctx, a.refdataSettings())
	if err != nil {
		return err
	}
	defer func() {
		if err := refdata.Close(refs); err != nil {
			a.logger.Warn("close reference data", "error", err)
		}
	}()
	store, err := a.artifacts(ctx)
	if err != nil {
		return err
	}

	opts := []core.Option{core.WithLogger(a.logger)}
	metricsOut := a.v.GetString("metrics-out")
	var (
		registry *prometheus.Registry
		expvars  *core.ExpvarMetricsRecorder
	)
	switch {
	case metricsOut == "":
	case filepath.Ext(metricsOut) == ".json":
		expvars = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(expvars))
	default:
		registry = prometheus.NewRegistry()
		opts = append(opts, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(registry)))
	}
	if traceOut := a.v.GetString("trace-out"); traceOut != "" {
		f, err := os.Create(traceOut)
		if err != nil {
			return err
		}
		defer f.Close()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	} else {
		opts = append(opts, core.WithTracer(core.NewOTelTracer(nil)))
	}

	svc, err := core.NewService(refs, store, opts...)
	if err != nil {
		return err
	}
	rep, runErr := svc.Reconstruct(ctx, cfg)

	switch {
	case expvars != nil:
		err = writeFile(metricsOut, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(expvars.Snapshot())
		})
	case registry != nil:
		err = writeFile(metricsOut, func(w io.Writer) error { return writePrometheus(w, registry) })
	}
	if runErr != nil {
		return runErr
	}
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return printReport(a.stdout, rep)
}

func writePrometheus(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printReport(w io.Writer, rep core.Report) error {
	lines := []string{
		fmt.Sprintf("Run: %s", rep.RunID),
		fmt.Sprintf("Reference data: %s", rep.RefdataVersion),
		fmt.Sprintf("Objective: %s", rep.Objective),
		fmt.Sprintf("Genes: %d", rep.Genes),
		fmt.Sprintf("Reactions: %d (draft %d, added %d)", rep.Reactions, rep.DraftReactions, rep.NewReactions),
		fmt.Sprintf("Metabolites: %d (draft %d, added %d)", rep.Metabolites, rep.DraftMetabolites, rep.NewMetabolites),
		fmt.Sprintf("Objective flux: %.3f", rep.ObjectiveFlux),
	}
	for _, warn := range rep.Warnings {
		lines = append(lines, "Warning: "+warn)
	}
	lines = append(lines, "Model written to: "+rep.Output)
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}
