package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/security-analytics-sub005/internal/config"
	"github.com/opensearch-project/security-analytics-sub005/internal/metrics"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/backend"
)

const whoamiRule = `
title: Whoami
id: 8a0c1c5e-6f1d-4f0a-9b36-1c3c6f1c0d11
level: medium
logsource:
  category: process_creation
  product: windows
detection:
  selection:
    Image|endswith: '\whoami.exe'
  condition: selection
`

const brokenRule = `
title: Broken
id: 2b9b5c1e-0d3e-4c55-8f0e-5d5a2f0c9e22
logsource:
  product: windows
detection:
  selection:
    Image|bogus: x
  condition: selection
`

const negatedRule = `
title: Not System
id: 3c0e6d2f-1e4f-4d66-9a1f-6e6b3a1d0f33
logsource:
  product: windows
detection:
  filter:
    User: SYSTEM
  condition: not filter
`

type fakeStore struct {
	saved []*backend.Result
	err   error
}

func (f *fakeStore) UpsertResults(_ context.Context, results []*backend.Result) error {
	f.saved = append(f.saved, results...)
	return f.err
}

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func newService(t *testing.T, mutate func(*config.Config)) (*Service, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, err := New(cfg, m, nil)
	require.NoError(t, err)
	return s, m
}

func TestCompile(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"a_whoami.yml": whoamiRule,
		"b_broken.yml": brokenRule,
	})
	s, m := newService(t, nil)
	store := &fakeStore{}
	s.WithStore(store)

	report, err := s.Compile(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Results, 2)

	ok := report.Results[0]
	assert.Equal(t, "8a0c1c5e-6f1d-4f0a-9b36-1c3c6f1c0d11", ok.Rule)
	require.Len(t, ok.Queries, 1)
	assert.Equal(t, `Image: *\\whoami.exe`, ok.Queries[0].Query)
	assert.Empty(t, ok.Errors)

	bad := report.Results[1]
	assert.NotEmpty(t, bad.Errors)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, store.saved, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesCompiled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesRendered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses))
}

func TestCompileUsesCache(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": whoamiRule})
	s, m := newService(t, nil)

	first, err := s.Compile(context.Background(), dir)
	require.NoError(t, err)
	second, err := s.Compile(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 0, first.Cached)
	assert.Equal(t, 1, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestCompileCacheDisabled(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": whoamiRule})
	s, m := newService(t, func(c *config.Config) { c.Cache.Size = 0 })

	for n := 0; n < 2; n++ {
		report, err := s.Compile(context.Background(), dir)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Cached)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RulesCompiled))
}

func TestCompileFieldMapping(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": whoamiRule})
	mapping := filepath.Join(t.TempDir(), "mapping.yml")
	require.NoError(t, os.WriteFile(mapping, []byte("mappings:\n  Image: process.executable\n"), 0o600))

	s, _ := newService(t, func(c *config.Config) { c.Backend.FieldMappingFile = mapping })
	report, err := s.Compile(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, `process.executable: *\\whoami.exe`, report.Results[0].Queries[0].Query)
	assert.Contains(t, report.Results[0].Fields, "process.executable")
}

func TestCompileStoreError(t *testing.T) {
	dir := writeRules(t, map[string]string{"whoami.yml": whoamiRule})
	s, _ := newService(t, nil)
	s.WithStore(&fakeStore{err: errors.New("db down")})

	report, err := s.Compile(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store results")
	require.NotNil(t, report)
	assert.Len(t, report.Results, 1)
}

func TestCompileUnreadableFile(t *testing.T) {
	dir := writeRules(t, map[string]string{"bad.yml": "title: [unclosed"})
	s, _ := newService(t, nil)

	report, err := s.Compile(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, filepath.Join(dir, "bad.yml"), report.Results[0].Rule)
	assert.Equal(t, 1, report.Failed)
}

func TestLoadWithoutPaths(t *testing.T) {
	s, _ := newService(t, nil)
	_, err := s.Load()
	assert.Error(t, err)
}

func TestPrefilter(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"a.yml": whoamiRule,
		"b.yml": negatedRule,
	})
	s, _ := newService(t, nil)
	files, err := s.Load(dir)
	require.NoError(t, err)

	var all []string
	p := s.Prefilter(append(files[0].Rules, files[1].Rules...))
	for _, f := range files {
		for _, r := range f.Rules {
			all = append(all, r.Reference())
		}
	}
	assert.Equal(t, 1, p.Stats().FilteredRules)
	assert.Equal(t, all, p.CandidatesText(`C:\Windows\System32\whoami.exe`))
	assert.Equal(t, all[1:], p.CandidatesText("notepad.exe"))
}

func TestFieldReport(t *testing.T) {
	got := FieldReport([]*backend.Result{
		{Fields: map[string]backend.FieldUsage{"a": {Type: backend.TypeAny, Count: 1}}},
		{Fields: map[string]backend.FieldUsage{"a": {Type: backend.TypeText, Count: 2}, "b": {Type: backend.TypeLong, Count: 1}}},
	})
	assert.Equal(t, map[string]backend.FieldUsage{
		"a": {Type: backend.TypeText, Count: 3},
		"b": {Type: backend.TypeLong, Count: 1},
	}, got)
}
