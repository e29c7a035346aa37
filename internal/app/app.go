// Package app wires configuration, telemetry, providers and the resolution
// engine into the runs the CLI offers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metaenhancer/metaenhancer/internal/annotate"
	"github.com/metaenhancer/metaenhancer/internal/config"
	"github.com/metaenhancer/metaenhancer/internal/job"
	"github.com/metaenhancer/metaenhancer/internal/monitor"
	"github.com/metaenhancer/metaenhancer/internal/network"
	"github.com/metaenhancer/metaenhancer/internal/provider"
	"github.com/metaenhancer/metaenhancer/internal/providers"
	"github.com/metaenhancer/metaenhancer/internal/report"
	"github.com/metaenhancer/metaenhancer/internal/store/sqlite"
	"github.com/metaenhancer/metaenhancer/internal/telemetry"
	"github.com/metaenhancer/metaenhancer/internal/version"
	localio "github.com/metaenhancer/metaenhancer/pkg/pipeline/io/local"
)

// ErrConfig marks failures caused by settings rather than by the run itself.
var ErrConfig = errors.New("configuration error")

func configErr(err error) error {
	return fmt.Errorf("%w: %w", ErrConfig, err)
}

// session holds everything a run opens. close releases it in reverse order.
type session struct {
	runID   string
	log     zerolog.Logger
	tracing *telemetry.Tracing
	metrics *telemetry.Metrics
	reg     provider.Registry
	closers []func() error
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn().Err(err).Msg("cleanup failed")
		}
	}
}

func open(ctx context.Context, cfg *config.Config) (_ *session, err error) {
	s := &session{runID: uuid.NewString(), log: zerolog.Nop()}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	logger, logCloser, err := telemetry.NewLogger(telemetry.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, configErr(err)
	}
	s.closers = append(s.closers, logCloser.Close)
	s.log = logger.With().Str("run", s.runID).Logger()

	var traceOut io.Writer = os.Stderr
	if cfg.Trace.Enabled && cfg.Trace.Output != "" {
		f, err := os.Create(cfg.Trace.Output)
		if err != nil {
			return nil, configErr(fmt.Errorf("open trace output: %w", err))
		}
		s.closers = append(s.closers, f.Close)
		traceOut = f
	}
	s.tracing, err = telemetry.NewTracing(cfg.Trace.Enabled, traceOut, "metaenhancer", version.Current)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.tracing.Shutdown(sctx)
	})

	if cfg.Metrics.Addr != "" {
		s.metrics = telemetry.NewMetrics("metaenhancer")
		mctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.metrics.Serve(mctx, cfg.Metrics.Addr); err != nil {
				s.log.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint failed")
			}
		}()
		s.closers = append(s.closers, func() error {
			cancel()
			<-done
			return nil
		})
	}

	hc, err := network.NewHTTPClient(cfg.CABundle)
	if err != nil {
		return nil, configErr(err)
	}
	deps := providers.Deps{
		HTTP: hc,
		Network: network.Config{
			RequestTimeout:    cfg.Network.RequestTimeout,
			MaxRetries:        cfg.Network.MaxRetries,
			BackoffInitial:    cfg.Network.BackoffInitial,
			BackoffMax:        cfg.Network.BackoffMax,
			BackoffJitterFrac: 0.2,
			BreakerThreshold:  cfg.Network.BreakerThreshold,
			BreakerCooldown:   cfg.Network.BreakerCooldown,
			CacheSize:         cfg.Network.CacheSize,
		},
		Logger:    telemetry.Component(s.log, "network"),
		Endpoints: cfg.Endpoints,
	}
	if s.metrics != nil {
		deps.Observer = s.metrics
	}
	if cfg.Cache.Path != "" {
		st, err := sqlite.Open(ctx, cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return nil, configErr(err)
		}
		s.closers = append(s.closers, st.Close)
		deps.Store = st
	}

	ps, err := providers.Build(cfg.Providers, deps)
	if err != nil {
		return nil, configErr(err)
	}
	s.reg, err = provider.NewRegistry(ps...)
	if err != nil {
		return nil, configErr(err)
	}
	return s, nil
}

// loadJobs collects jobs from the job file and the inline triples, in that
// order. Provider names are matched case-insensitively against the registry.
// No jobs means every conversion the registry offers.
func loadJobs(cfg *config.Config, reg provider.Registry) ([]job.Job, error) {
	var jobs []job.Job
	if cfg.JobFile != "" {
		fromFile, err := job.LoadFile(cfg.JobFile)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fromFile...)
	}
	inline, err := job.FromTriples(cfg.Jobs)
	if err != nil {
		return nil, err
	}
	jobs = append(jobs, inline...)

	ids := make(map[string]string, len(reg))
	for _, id := range reg.IDs() {
		ids[strings.ToLower(id)] = id
	}
	for i, j := range jobs {
		if id, ok := ids[strings.ToLower(j.Provider)]; ok {
			jobs[i].Provider = id
		}
	}
	return jobs, nil
}

// RunLocal reads entities from a local CSV, resolves them and writes the
// enriched table to outputPath. The coverage table goes to out.
func RunLocal(ctx context.Context, cfg *config.Config, inputPath, outputPath string, out io.Writer) error {
	started := time.Now()
	verbosity, err := report.ParseSeverity(cfg.Verbosity)
	if err != nil {
		return configErr(err)
	}

	s, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()
	log := telemetry.Component(s.log, "app")

	jobs, err := loadJobs(cfg, s.reg)
	if err != nil {
		return configErr(err)
	}
	for _, j := range jobs {
		if !j.Runnable(s.reg) {
			log.Warn().Str("job", j.String()).Msg("no registered provider offers this conversion; it can only be served from cache")
		}
	}

	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()
	table, err := localio.ReadTableCSV(inF)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	log.Info().
		Int("entities", len(table.Entities)).
		Strs("providers", s.reg.IDs()).
		Int("workers", cfg.Workers).
		Bool("repeat", cfg.Repeat).
		Msg("run start")

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(s.reg.Probers(), monitor.Options{
			Interval: cfg.Monitor.Interval,
			Timeout:  cfg.Monitor.Timeout,
			Logger:   telemetry.Component(s.log, "monitor"),
			OnProbe:  s.metrics.ObserveProbe,
		})
	}
	batch := &annotate.Batch{
		Annotator: annotate.New(s.reg,
			annotate.WithLogger(telemetry.Component(s.log, "annotator")),
			annotate.WithTracer(s.tracing.Tracer()),
		),
		Monitor: mon,
		Logger:  telemetry.Component(s.log, "batch"),
		Options: annotate.Options{
			Workers:           cfg.Workers,
			Repeat:            cfg.Repeat,
			Curate:            cfg.Curate,
			FirstCheckTimeout: cfg.Monitor.FirstCheckTimeout,
			EntityTimeout:     cfg.EntityTimeout,
			Verbosity:         verbosity,
		},
	}
	if s.metrics != nil {
		batch.Observer = s.metrics
	}
	res, err := batch.Run(ctx, table.CoreEntities(), jobs)
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()
	if err := localio.WriteTableCSV(outF, table); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	if err := outF.Close(); err != nil {
		return err
	}

	cov := res.Aggregator.Coverage()
	s.metrics.SetCoverage(cov.Rows())
	_, _ = fmt.Fprintln(out, cov.Render())

	if cfg.Report.Path != "" {
		rep := &report.Report{
			RunID:    s.runID,
			Started:  started,
			Finished: time.Now(),
			Summary:  res.Aggregator.Summary(),
			Coverage: cov.Rows(),
		}
		if cfg.Report.Records {
			rep.Records = res.Records
		}
		if err := writeReport(cfg.Report.Path, rep); err != nil {
			return err
		}
	}
	log.Info().Dur("duration", time.Since(started).Round(time.Millisecond)).Str("output", outputPath).Msg("run complete")
	return nil
}

func writeReport(path string, rep *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := rep.WriteYAML(f); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// Conversions writes one "source,target,provider" line per conversion the
// configured providers offer. The lines are valid --job values.
func Conversions(cfg *config.Config, out io.Writer) error {
	ps, err := providers.Build(cfg.Providers, providers.Deps{Logger: zerolog.Nop(), Endpoints: cfg.Endpoints})
	if err != nil {
		return configErr(err)
	}
	reg, err := provider.NewRegistry(ps...)
	if err != nil {
		return configErr(err)
	}
	for _, j := range job.FromProviders(reg) {
		if _, err := fmt.Fprintf(out, "%s,%s,%s\n", j.Source, j.Target, j.Provider); err != nil {
			return err
		}
	}
	return nil
}
