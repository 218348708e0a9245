// Command sigmac compiles Sigma rules into OpenSearch query_string queries.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/opensearch-project/security-analytics-sub005/internal/config"
	"github.com/opensearch-project/security-analytics-sub005/internal/logging"
	"github.com/opensearch-project/security-analytics-sub005/internal/metrics"
	"github.com/opensearch-project/security-analytics-sub005/internal/service"
	"github.com/opensearch-project/security-analytics-sub005/internal/store"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/backend"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "compile":
		code = runCompileCmd(ctx, os.Args[2:], os.Stdout)
	case "validate":
		code = runValidateCmd(ctx, os.Args[2:], os.Stdout)
	case "fields":
		code = runFieldsCmd(ctx, os.Args[2:], os.Stdout)
	case "scan":
		code = runScanCmd(ctx, os.Args[2:], os.Stdout)
	case "-version", "--version", "-v":
		fmt.Printf("sigmac %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	stop()
	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: sigmac <command> [flags] <path>...\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  compile   Compile rules and print queries as JSON\n")
	fmt.Fprintf(w, "  validate  Check that rules load and compile\n")
	fmt.Fprintf(w, "  fields    Report the fields used by rules\n")
	fmt.Fprintf(w, "  scan      List the rules that could match an event file\n\n")
	fmt.Fprintf(w, "Common flags:\n")
	fmt.Fprintf(w, "  -config   Path to a YAML configuration file\n")
	fmt.Fprintf(w, "  -mapping  Path to a YAML field mapping file\n")
	fmt.Fprintf(w, "  -metrics-file  Write compilation metrics in Prometheus text format\n")
}

// common holds the flags every subcommand accepts.
type common struct {
	configPath  string
	mappingPath string
	metricsFile string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.mappingPath, "mapping", "", "YAML field mapping file (overrides the config)")
	fs.StringVar(&c.metricsFile, "metrics-file", "", "Write metrics to this file on exit")
}

// env is the state a subcommand runs with.
type env struct {
	cfg         *config.Config
	svc         *service.Service
	logger      *zap.Logger
	registry    *prometheus.Registry
	metricsFile string
}

func (e *env) close() {
	if e.metricsFile != "" {
		if err := prometheus.WriteToTextfile(e.metricsFile, e.registry); err != nil {
			e.logger.Warn("write metrics failed", zap.String("file", e.metricsFile), zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func (c *common) setup() (*env, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.mappingPath != "" {
		cfg.Backend.FieldMappingFile = c.mappingPath
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	svc, err := service.New(cfg, metrics.NewMetrics(reg), logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, svc: svc, logger: logger, registry: reg, metricsFile: c.metricsFile}, nil
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// ruleOutput is the JSON form of one compiled rule.
type ruleOutput struct {
	Rule    string                        `json:"rule"`
	Title   string                        `json:"title,omitempty"`
	Level   string                        `json:"level,omitempty"`
	Queries []backend.Query               `json:"queries"`
	Fields  map[string]backend.FieldUsage `json:"fields"`
	Errors  []string                      `json:"errors,omitempty"`
}

func toOutput(results []*backend.Result) []ruleOutput {
	out := make([]ruleOutput, 0, len(results))
	for _, r := range results {
		queries := r.Queries
		if queries == nil {
			queries = []backend.Query{}
		}
		out = append(out, ruleOutput{
			Rule:    r.Rule,
			Title:   r.Title,
			Level:   r.Level,
			Queries: queries,
			Fields:  r.Fields,
			Errors:  r.ErrorStrings(),
		})
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCompileCmd(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	var c common
	c.register(fs)
	persist := fs.Bool("store", false, "Persist compiled rules to PostgreSQL (store.dsn)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := c.setup()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	if *persist {
		st, closeDB, err := openStore(ctx, e)
		if err != nil {
			return fail(err)
		}
		defer closeDB()
		e.svc.WithStore(st)
	}

	report, err := e.svc.Compile(ctx, fs.Args()...)
	if err != nil {
		return fail(err)
	}
	if err := writeJSON(stdout, toOutput(report.Results)); err != nil {
		return fail(err)
	}
	if report.Failed > 0 {
		return 1
	}
	return 0
}

func openStore(ctx context.Context, e *env) (*store.Store, func(), error) {
	if e.cfg.Store.DSN == "" {
		return nil, nil, fmt.Errorf("store.dsn is not set (or SIGMAC_DB_DSN)")
	}
	db, err := store.Open(ctx, e.cfg.Store.DSN, e.cfg.Store.MaxOpenConns)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, e.logger.Named("store"))
	if err := st.RunMigrationsDir(ctx, e.cfg.Store.MigrationsDir); err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, func() { db.Close() }, nil
}

func runValidateCmd(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var c common
	c.register(fs)
	verbose := fs.Bool("verbose", false, "Show every error of failing rules")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := c.setup()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	report, err := e.svc.Compile(ctx, fs.Args()...)
	if err != nil {
		return fail(err)
	}
	for _, r := range report.Results {
		if len(r.Errors) == 0 {
			fmt.Fprintf(stdout, "  OK    %s (%d queries)\n", r.Rule, len(r.Queries))
			continue
		}
		fmt.Fprintf(stdout, "  FAIL  %s: %d error(s)\n", r.Rule, len(r.Errors))
		if *verbose {
			for _, msg := range r.ErrorStrings() {
				fmt.Fprintf(stdout, "        - %s\n", msg)
			}
		}
	}
	fmt.Fprintf(stdout, "\nResults: %d rules checked, %d valid, %d invalid\n",
		len(report.Results), len(report.Results)-report.Failed, report.Failed)
	if report.Failed > 0 {
		return 1
	}
	return 0
}

func runFieldsCmd(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("fields", flag.ContinueOnError)
	var c common
	c.register(fs)
	catalogPath := fs.String("catalog", "", "YAML file mapping index fields to their types")
	index := fs.String("index", "", "Read the field catalog of this index from PostgreSQL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := c.setup()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	report, err := e.svc.Compile(ctx, fs.Args()...)
	if err != nil {
		return fail(err)
	}
	used := service.FieldReport(report.Results)

	names := make([]string, 0, len(used))
	for f := range used {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		fmt.Fprintf(stdout, "%-40s %-8s %d\n", f, used[f].Type, used[f].Count)
	}

	var catalog map[string]string
	switch {
	case *catalogPath != "":
		catalog, err = readCatalog(*catalogPath)
	case *index != "":
		var st *store.Store
		var closeDB func()
		if st, closeDB, err = openStore(ctx, e); err == nil {
			defer closeDB()
			catalog, err = st.FieldCatalog(ctx, *index)
		}
	}
	if err != nil {
		return fail(err)
	}
	if catalog == nil {
		return 0
	}
	if err := backend.ValidateFields(used, catalog); err != nil {
		fmt.Fprintf(stdout, "\n%v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "\nAll %d fields are present in the catalog\n", len(used))
	return 0
}

func readCatalog(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	catalog := map[string]string{}
	if err := yaml.Unmarshal(b, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return catalog, nil
}

func runScanCmd(_ context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var c common
	c.register(fs)
	raw := fs.Bool("raw", false, "Scan the event file as plain text instead of JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Usage: sigmac scan [-raw] <event-file> <path>...\n")
		return 2
	}

	e, err := c.setup()
	if err != nil {
		return fail(err)
	}
	defer e.close()

	event, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	files, err := e.svc.Load(fs.Args()[1:]...)
	if err != nil {
		return fail(err)
	}
	var rs []*rule.Rule
	for _, f := range files {
		if f.Err != nil {
			e.logger.Warn("rule file skipped", zap.String("file", f.Path), zap.Error(f.Err))
			continue
		}
		rs = append(rs, f.Rules...)
	}
	pf := e.svc.Prefilter(rs)

	var candidates []string
	if *raw {
		candidates = pf.CandidatesText(string(event))
	} else {
		dec := json.NewDecoder(bytes.NewReader(event))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fail(fmt.Errorf("decode event: %w", err))
		}
		candidates = pf.CandidatesJSON(v)
	}
	for _, ref := range candidates {
		fmt.Fprintln(stdout, ref)
	}
	fmt.Fprintf(os.Stderr, "%d of %d rules are candidates (%s)\n", len(candidates), len(rs), pf.Stats().Summary())
	return 0
}
