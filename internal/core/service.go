// Package core runs the reconstruction pipeline: it loads reference data,
// derives a draft network from the configured input, gap-fills it in two
// phases, annotates and checks the result, and stores the final model.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"reconstructor/internal/aligner"
	"reconstructor/internal/annotate"
	"reconstructor/internal/assemble"
	"reconstructor/internal/blob"
	"reconstructor/internal/catalog"
	"reconstructor/internal/evidence"
	"reconstructor/internal/gapfill"
	"reconstructor/internal/modelio"
	"reconstructor/internal/network"
	"reconstructor/internal/refdata"
	"reconstructor/internal/solver"
)

// Stage names reported to loggers, metrics and tracers.
const (
	OpLoadRefdata      = "load_refdata"
	OpAlign            = "align"
	OpReadHits         = "read_hits"
	OpReadModel        = "read_model"
	OpMapEvidence      = "map_evidence"
	OpApplyMedium      = "apply_medium"
	OpGapfillObjective = "gapfill_objective"
	OpBaseInputs       = "base_inputs"
	OpGapfillMedium    = "gapfill_medium"
	OpAnnotate         = "annotate"
	OpExchanges        = "exchanges"
	OpCheck            = "check"
	OpWriteModel       = "write_model"
)

const modelContentType = "application/json"

// Service executes reconstructions. Runs are serialized because they share
// the cached universal bag.
type Service struct {
	refs    refdata.Source
	store   blob.Store
	cat     *catalog.Catalog
	solver  solver.Solver
	aligner func(Config) (Aligner, error)
	newID   func() string
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer

	mu     sync.Mutex
	bundle *refdata.Bundle
}

// NewService wires a pipeline over a reference data source and an artifact
// store.
func NewService(refs refdata.Source, store blob.Store, opts ...Option) (*Service, error) {
	if refs == nil {
		return nil, errors.New("core: reference data source is required")
	}
	if store == nil {
		return nil, errors.New("core: artifact store is required")
	}
	o := serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(nil),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		solver:  solver.NewSparse(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.catalog == nil {
		cat, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		o.catalog = cat
	}
	s := &Service{
		refs:    refs,
		store:   store,
		cat:     o.catalog,
		solver:  o.solver,
		aligner: o.aligner,
		newID:   o.newID,
		logger:  o.logger,
		clock:   o.clock,
		metrics: o.metrics,
		tracer:  o.tracer,
	}
	if s.aligner == nil {
		s.aligner = s.diamond
	}
	return s, nil
}

// run wraps one pipeline stage with a span, a metrics observation and an
// error log entry on failure.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	if err != nil {
		s.logger.Error("stage failed", "op", op, "error", err)
		return err
	}
	s.logger.Debug("stage complete", "op", op, "duration", time.Since(start))
	return nil
}

// Reconstruct executes one run. Configuration problems that can be clamped
// become warnings on the report; any other failure aborts the run before the
// output model is written.
func (s *Service) Reconstruct(ctx context.Context, cfg Config) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rep := Report{RunID: s.newID(), StartedAt: s.clock.Now()}
	err := s.reconstruct(withRunID(ctx, rep.RunID), cfg, &rep)
	if rr, ok := s.metrics.(RunRecorder); ok {
		rr.RecordRun(ctx, rep, err)
	}
	return rep, err
}

func (s *Service) reconstruct(ctx context.Context, cfg Config, rep *Report) error {
	for _, w := range cfg.Normalize(runtime.NumCPU()) {
		s.logger.Warn("config adjusted", "field", w.Field, "value", w.Value, "detail", w.Message)
		rep.warn(w.Error())
	}
	rep.Input = cfg.Input
	rep.InputType = cfg.Type
	rep.Gram = cfg.Gram
	if err := cfg.Validate(); err != nil {
		return err
	}
	rep.Output = cfg.OutputKey()
	s.logger.Info("reconstruction started", "run_id", rep.RunID, "input", cfg.Input, "type", cfg.Type.String(), "output", rep.Output)

	var bundle refdata.Bundle
	if err := s.run(ctx, OpLoadRefdata, func(ctx context.Context) error {
		var err error
		bundle, err = s.loadBundle(ctx)
		return err
	}); err != nil {
		return err
	}
	rep.RefdataVersion = bundle.Manifest.Version
	universal := bundle.Universal

	// Media and gap-filling mutate the shared bag; all of it is undone when
	// the run ends.
	scope := universal.Scope()
	defer scope.Restore()

	model, objective, err := s.draft(ctx, cfg, bundle, rep)
	if err != nil {
		return err
	}
	rep.Objective = objective

	if err := s.run(ctx, OpApplyMedium, func(context.Context) error {
		medium, named := s.cat.Medium(cfg.Media)
		rep.MediumExchanges = assemble.ApplyMedium(universal, medium)
		s.logger.Debug("medium applied", "media", cfg.Media, "named", named, "opened", rep.MediumExchanges)
		return nil
	}); err != nil {
		return err
	}

	preReactions := model.ReactionIDs()
	preMetabolites := model.MetaboliteIDs()
	biomass := annotate.Biomass{Exchange: s.cat.Biomass.Exchange, Components: s.cat.BiomassIDs(cfg.Gram)}

	if cfg.Gapfill {
		if err := s.gapfill(ctx, cfg, model, universal, objective, rep); err != nil {
			return err
		}
		if cfg.Type == InputModel {
			biomass = annotate.Biomass{Objective: objective}
		}
	}

	if err := s.run(ctx, OpAnnotate, func(context.Context) error {
		sum := annotate.Annotate(model, biomass)
		s.logger.Debug("annotated", "genes", sum.Genes, "metabolites", sum.Metabolites, "reactions", sum.Reactions, "biomass", sum.Biomass)
		return nil
	}); err != nil {
		return err
	}

	if err := s.run(ctx, OpExchanges, func(context.Context) error {
		n := assemble.SetExchangeBounds(model, cfg.OpenExchanges)
		renamed := assemble.NormalizeExchangeNames(model)
		s.logger.Debug("exchanges set", "open", cfg.OpenExchanges, "count", n, "renamed", renamed)
		return nil
	}); err != nil {
		return err
	}

	if err := s.run(ctx, OpCheck, func(ctx context.Context) error {
		check, err := annotate.Check(ctx, s.solver, preReactions, preMetabolites, model)
		rep.Report = check
		if errors.Is(err, solver.ErrNoObjective) || errors.Is(err, solver.ErrInfeasible) {
			s.logger.Warn("final model cannot be optimized", "error", err)
			rep.warn(fmt.Sprintf("objective flux unavailable: %v", err))
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	if err := s.run(ctx, OpWriteModel, func(ctx context.Context) error {
		var buf bytes.Buffer
		if err := modelio.Write(&buf, model); err != nil {
			return err
		}
		_, err := s.store.Put(ctx, rep.Output, &buf, blob.PutOptions{
			ContentType: modelContentType,
			Metadata: map[string]string{
				"run_id":          rep.RunID,
				"refdata_version": rep.RefdataVersion,
			},
			Overwrite: true,
		})
		return err
	}); err != nil {
		return err
	}

	rep.FinishedAt = s.clock.Now()
	s.logger.Info("reconstruction complete",
		"run_id", rep.RunID,
		"output", rep.Output,
		"genes", rep.Genes,
		"reactions", rep.Reactions,
		"metabolites", rep.Metabolites,
		"objective_flux", rep.ObjectiveFlux,
		"duration", rep.Duration(),
	)
	return nil
}

// loadBundle returns the cached reference bundle, loading it on first use.
func (s *Service) loadBundle(ctx context.Context) (refdata.Bundle, error) {
	if s.bundle != nil {
		return *s.bundle, nil
	}
	b, err := s.refs.Load(ctx)
	if err != nil {
		return refdata.Bundle{}, fmt.Errorf("load reference data (%s): %w", s.refs.Driver(), err)
	}
	if err := b.Validate(); err != nil {
		return refdata.Bundle{}, err
	}
	s.logger.Info("reference data loaded",
		"driver", s.refs.Driver(),
		"version", b.Manifest.Version,
		"genes", len(b.GeneReactions),
		"universal_reactions", b.Universal.ReactionCount(),
	)
	s.bundle = &b
	return b, nil
}

// draft builds the network gap-filling starts from and resolves the
// objective reaction.
func (s *Service) draft(ctx context.Context, cfg Config, bundle refdata.Bundle, rep *Report) (*network.Network, string, error) {
	if cfg.Type == InputModel {
		var model *network.Network
		err := s.run(ctx, OpReadModel, func(ctx context.Context) error {
			var err error
			model, err = s.readModel(ctx, cfg.Input)
			if err != nil {
				return err
			}
			if model.Objective() == "" {
				return fmt.Errorf("%w: %s has no objective", gapfill.ErrObjectiveMissing, cfg.Input)
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		return model, model.Objective(), nil
	}

	var hits map[string]struct{}
	var err error
	if cfg.Type == InputProteins {
		err = s.run(ctx, OpAlign, func(ctx context.Context) error {
			hits, err = s.align(ctx, cfg)
			return err
		})
	} else {
		err = s.run(ctx, OpReadHits, func(ctx context.Context) error {
			hits, err = s.readHits(ctx, cfg.Input)
			return err
		})
	}
	if err != nil {
		return nil, "", err
	}
	rep.HitGenes = len(hits)

	var model *network.Network
	err = s.run(ctx, OpMapEvidence, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mapping, added := evidence.MapHits(hits, bundle.GeneReactions, cfg.Organism)
		rep.OrganismGenesAdded = added
		model = evidence.BuildDraft(mapping, bundle.Universal, cfg.modelName())
		rep.NamedGenes = evidence.AddNames(model, bundle.GeneNames)
		s.logger.Info("draft built",
			"hit_genes", len(hits),
			"organism_genes", added,
			"reactions", model.ReactionCount(),
			"metabolites", model.MetaboliteCount(),
		)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return model, s.cat.Objective(cfg.Gram), nil
}

// gapfill runs phase 1 and, for evidence-derived drafts, opens the base
// inputs and runs phase 2.
func (s *Service) gapfill(ctx context.Context, cfg Config, model, universal *network.Network, objective string, rep *Report) error {
	req := gapfill.Request{
		Objective:   objective,
		Tasks:       cfg.Tasks,
		MinFraction: cfg.MinFraction,
		MaxFraction: cfg.MaxFraction,
		Phase:       gapfill.PhaseObjective,
		WholeModel:  cfg.Type == InputModel,
	}
	if err := s.run(ctx, OpGapfillObjective, func(ctx context.Context) error {
		ids, err := s.fill(ctx, model, universal, req)
		rep.GapfillObjective = ids
		return err
	}); err != nil {
		return err
	}
	if cfg.Type == InputModel {
		return nil
	}

	if err := s.run(ctx, OpBaseInputs, func(context.Context) error {
		added, missing := assemble.SetBaseInputs(model, universal, s.cat.BaseInputs)
		rep.BaseInputsMissing = missing
		if len(missing) > 0 {
			s.logger.Warn("base inputs missing", "count", len(missing), "ids", missing)
			rep.warn(fmt.Sprintf("%d base input exchanges not found", len(missing)))
		}
		s.logger.Debug("base inputs set", "added", len(added))
		return nil
	}); err != nil {
		return err
	}

	req.Phase = gapfill.PhaseMedium
	return s.run(ctx, OpGapfillMedium, func(ctx context.Context) error {
		ids, err := s.fill(ctx, model, universal, req)
		rep.GapfillMedium = ids
		return err
	})
}

func (s *Service) fill(ctx context.Context, model, universal *network.Network, req gapfill.Request) ([]string, error) {
	res, err := gapfill.FindReactions(ctx, s.solver, model, universal, req)
	if err != nil {
		return nil, err
	}
	merged, err := assemble.Merge(model, universal, res.Reactions, req.Objective, req.Phase)
	if err != nil {
		return nil, err
	}
	s.logger.Info("gap-filled",
		"phase", req.Phase.String(),
		"optimum", res.Optimum,
		"flux", res.Flux,
		"activated", len(res.Reactions),
		"added", len(merged.Added),
		"exchanges", len(merged.Exchanges),
	)
	return res.IDs(), nil
}

func (s *Service) readModel(ctx context.Context, key string) (*network.Network, error) {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", key, err)
	}
	defer rc.Close()
	model, err := modelio.Read(rc)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", key, err)
	}
	return model, nil
}

func (s *Service) readHits(ctx context.Context, key string) (map[string]struct{}, error) {
	if key == NoInput {
		return map[string]struct{}{}, nil
	}
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open hits %s: %w", key, err)
	}
	defer rc.Close()
	return evidence.ReadHits(rc)
}

// align stages the FASTA input in a temporary directory, runs the aligner,
// stores its report next to the input and returns the hit genes.
func (s *Service) align(ctx context.Context, cfg Config) (map[string]struct{}, error) {
	runner, err := s.aligner(cfg)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "reconstructor-align-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	query := filepath.Join(dir, "query.faa")
	if err := s.download(ctx, cfg.Input, query); err != nil {
		return nil, err
	}
	summary, err := aligner.InspectFASTA(query)
	if err != nil {
		return nil, err
	}
	s.logger.Info("aligning proteins", "sequences", summary.Sequences, "residues", summary.Residues, "threads", cfg.Processors)

	out := filepath.Join(dir, "hits.tsv")
	if err := runner.Blastp(ctx, query, out); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read alignment output: %w", err)
	}
	if _, err := s.store.Put(ctx, cfg.HitsKey(), bytes.NewReader(raw), blob.PutOptions{ContentType: "text/tab-separated-values", Overwrite: true}); err != nil {
		return nil, fmt.Errorf("store alignment output: %w", err)
	}
	return evidence.ReadHits(bytes.NewReader(raw))
}

func (s *Service) download(ctx context.Context, key, dest string) error {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("open input %s: %w", key, err)
	}
	defer rc.Close()
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// diamond is the default aligner: the DIAMOND executable against the
// reference database shipped next to the file-backed reference data.
func (s *Service) diamond(cfg Config) (Aligner, error) {
	path, err := aligner.Locate(cfg.DiamondPath, "")
	if err != nil {
		return nil, err
	}
	db := cfg.DiamondDB
	if db == "" {
		dir := "."
		if d, ok := s.refs.(interface{ Dir() string }); ok {
			dir = d.Dir()
		}
		db = filepath.Join(dir, refdata.DiamondDatabaseFile)
	}
	return &aligner.Diamond{Path: path, Database: db, Threads: cfg.Processors}, nil
}
