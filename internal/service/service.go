// Package service ties rule loading, compilation, caching and persistence
// together for the command line.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/opensearch-project/security-analytics-sub005/internal/config"
	"github.com/opensearch-project/security-analytics-sub005/internal/metrics"
	"github.com/opensearch-project/security-analytics-sub005/internal/rules"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/backend"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/prefilter"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

// ResultStore persists compiled rules.
type ResultStore interface {
	UpsertResults(ctx context.Context, results []*backend.Result) error
}

// Report is the outcome of one Compile call.
type Report struct {
	RunID   string
	Rules   []*rule.Rule
	Results []*backend.Result
	// Failed counts results carrying at least one error.
	Failed int
	// Cached counts files whose results came from the cache.
	Cached int
}

type Service struct {
	cfg     *config.Config
	loader  *rule.Loader
	backend *backend.QueryBackend
	store   ResultStore
	cache   *lru.Cache[string, []*backend.Result]
	metrics *metrics.Metrics
	logger  *zap.Logger

	// fingerprint identifies the rendering settings inside cache keys.
	fingerprint string
}

// New builds a service from cfg. The field mapping file named by the
// backend section is read here.
func New(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	profile := cfg.Backend.BackendProfile()
	mapping := backend.NewFieldMapping()
	if cfg.Backend.FieldMappingFile != "" {
		f, err := os.Open(cfg.Backend.FieldMappingFile)
		if err != nil {
			return nil, fmt.Errorf("open field mapping: %w", err)
		}
		mapping, err = backend.LoadFieldMapping(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		profile.EnableFieldMappings = true
	}

	fp, err := json.Marshal(struct {
		Profile  any               `json:"profile"`
		Mappings map[string]string `json:"mappings"`
		Collect  bool              `json:"collect"`
	}{profile, mapping.Mappings(), cfg.Rules.CollectErrors})
	if err != nil {
		return nil, fmt.Errorf("fingerprint config: %w", err)
	}
	sum := sha256.Sum256(fp)

	s := &Service{
		cfg: cfg,
		loader: rule.NewLoader().
			WithCollectErrors(cfg.Rules.CollectErrors).
			WithLogger(logger.Named("loader")),
		backend: backend.NewQueryBackend(profile).
			WithFieldMapping(mapping).
			WithLogger(logger.Named("backend")),
		metrics:     m,
		logger:      logger,
		fingerprint: hex.EncodeToString(sum[:8]),
	}
	if cfg.Cache.Size > 0 {
		s.cache, err = lru.New[string, []*backend.Result](cfg.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}
	return s, nil
}

// WithStore makes Compile persist its results.
func (s *Service) WithStore(store ResultStore) *Service {
	s.store = store
	return s
}

// Load reads the rule files under paths.
func (s *Service) Load(paths ...string) ([]rules.File, error) {
	if len(paths) == 0 {
		paths = s.cfg.Rules.Paths
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no rule paths given")
	}
	return rules.LoadPaths(s.loader, paths...)
}

func (s *Service) cacheKey(digest string) string {
	return digest + ":" + s.fingerprint
}

// Compile loads and compiles every rule under paths. Files that cannot be
// loaded yield a result named after the file carrying the error.
func (s *Service) Compile(ctx context.Context, paths ...string) (*Report, error) {
	start := time.Now()
	files, err := s.Load(paths...)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: uuid.NewString()}
	log := s.logger.With(zap.String("run_id", report.RunID))

	// Per-file results, filled from the cache or the batch below.
	perFile := make([][]*backend.Result, len(files))
	var (
		pending   []*rule.Rule
		pendingOf []int
	)
	for i, f := range files {
		report.Rules = append(report.Rules, f.Rules...)
		if f.Err != nil {
			log.Warn("rule file failed to load", zap.String("file", f.Path), zap.Error(f.Err))
			perFile[i] = []*backend.Result{{
				Rule:   f.Path,
				Fields: map[string]backend.FieldUsage{},
				Errors: []error{f.Err},
			}}
			continue
		}
		if s.cache != nil {
			if cached, ok := s.cache.Get(s.cacheKey(f.Digest)); ok {
				s.hit(true)
				report.Cached++
				perFile[i] = cached
				continue
			}
			s.hit(false)
		}
		for range f.Rules {
			pendingOf = append(pendingOf, i)
		}
		pending = append(pending, f.Rules...)
	}

	compiled, err := s.backend.ConvertRules(ctx, pending, s.cfg.Backend.Workers)
	if err != nil {
		return nil, err
	}
	for j, res := range compiled {
		i := pendingOf[j]
		perFile[i] = append(perFile[i], res)
	}
	for i, f := range files {
		if f.Err == nil && s.cache != nil && !s.cached(f) {
			s.cache.Add(s.cacheKey(f.Digest), perFile[i])
		}
		report.Results = append(report.Results, perFile[i]...)
	}

	for _, res := range report.Results {
		if len(res.Errors) > 0 {
			report.Failed++
		}
		s.observe(res)
	}
	if s.metrics != nil {
		s.metrics.CompileSeconds.Observe(time.Since(start).Seconds())
	}
	log.Info("rules compiled",
		zap.Int("files", len(files)),
		zap.Int("results", len(report.Results)),
		zap.Int("failed", report.Failed),
		zap.Int("cached_files", report.Cached),
		zap.Duration("elapsed", time.Since(start)))

	if s.store != nil {
		if err := s.store.UpsertResults(ctx, report.Results); err != nil {
			return report, fmt.Errorf("store results: %w", err)
		}
		log.Info("compiled rules stored", zap.Int("rules", len(report.Results)))
	}
	return report, nil
}

func (s *Service) cached(f rules.File) bool {
	return s.cache.Contains(s.cacheKey(f.Digest))
}

func (s *Service) hit(ok bool) {
	if s.metrics == nil {
		return
	}
	if ok {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

func (s *Service) observe(res *backend.Result) {
	if s.metrics == nil {
		return
	}
	if len(res.Errors) > 0 {
		s.metrics.RulesFailed.Inc()
		s.metrics.ObserveErrors(res.Errors)
		return
	}
	s.metrics.RulesCompiled.Inc()
	s.metrics.QueriesRendered.Add(float64(len(res.Queries)))
}

// Prefilter builds a literal prefilter over rules. Rules whose conditions do
// not resolve are always candidates.
func (s *Service) Prefilter(rs []*rule.Rule) *prefilter.Prefilter {
	b := prefilter.NewBuilder(s.cfg.Prefilter)
	for _, r := range rs {
		if len(r.Errors) > 0 || r.Detections == nil {
			b.AddRule(r.Reference())
			continue
		}
		parsed, err := r.Detections.ParsedConditions()
		if err != nil {
			s.logger.Debug("rule left unfiltered", zap.String("rule", r.Reference()), zap.Error(err))
			b.AddRule(r.Reference())
			continue
		}
		roots := make([]ruleengine.Node, 0, len(parsed))
		for _, pc := range parsed {
			roots = append(roots, pc.Root)
		}
		b.AddRule(r.Reference(), roots...)
	}
	p := b.Build()
	s.logger.Info("prefilter built", zap.String("summary", p.Stats().Summary()))
	return p
}

// FieldReport merges the field usage of results.
func FieldReport(results []*backend.Result) map[string]backend.FieldUsage {
	out := map[string]backend.FieldUsage{}
	for _, res := range results {
		for f, u := range res.Fields {
			cur, ok := out[f]
			if !ok {
				out[f] = u
				continue
			}
			cur.Count += u.Count
			if cur.Type == backend.TypeAny {
				cur.Type = u.Type
			}
			out[f] = cur
		}
	}
	return out
}
