package mrp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bcongdon/mrp/internal/pkg/mrpfs"
	"github.com/bcongdon/mrp/internal/pkg/mrpsandbox"
	"github.com/bcongdon/mrp/internal/pkg/mrpscript"
	"github.com/bcongdon/mrp/internal/pkg/mrpstore"
)

// Driver compiles jobs, executes plans on a backend and persists every run
// in the artifact store.
type Driver struct {
	config       *config
	registry     *Registry
	materializer *Materializer
	compiler     *Compiler
	resolver     *Resolver
	store        *mrpstore.Store
	metrics      *metrics
}

// config configures a Driver
type config struct {
	ArtifactLocation string
	OpsLocation      string
	OutputLocation   string
	Backend          Backend
	MaxWorkers       int
	CacheSize        int
	Interpreter      []string
	SandboxURL       string
	SandboxAPIKey    string
	Progress         bool
	Verbose          bool

	runtime         mrpscript.Runtime
	sandboxProvider func(apiKey string) mrpsandbox.Provider
	registerer      prometheus.Registerer
	clock           func() time.Time
}

func newConfig() *config {
	loadConfig() // Load viper config from settings file(s) and environment
	return &config{
		ArtifactLocation: viper.GetString("artifact_location"),
		OpsLocation:      viper.GetString("ops_location"),
		OutputLocation:   viper.GetString("output_location"),
		Backend:          Backend(viper.GetString("backend")),
		MaxWorkers:       viper.GetInt("max_workers"),
		CacheSize:        viper.GetInt("cache_size"),
		Interpreter:      viper.GetStringSlice("interpreter"),
		SandboxURL:       viper.GetString("sandbox_api_url"),
		SandboxAPIKey:    viper.GetString("sandbox_api_key"),
		Progress:         viper.GetBool("progress"),
		Verbose:          viper.GetBool("verbose"),
		clock:            time.Now,
	}
}

// Option allows configuration of a Driver
type Option func(*config)

// WithArtifactLocation sets where run records are stored (local directory
// or s3://bucket/prefix).
func WithArtifactLocation(location string) Option {
	return func(c *config) {
		c.ArtifactLocation = location
	}
}

// WithOpsLocation sets where materialized operator units are written.
func WithOpsLocation(location string) Option {
	return func(c *config) {
		c.OpsLocation = location
	}
}

// WithOutputLocation sets the root under which each run gets its output
// directory.
func WithOutputLocation(location string) Option {
	return func(c *config) {
		c.OutputLocation = location
	}
}

// WithBackend sets the backend used by Run and Main.
func WithBackend(backend Backend) Option {
	return func(c *config) {
		c.Backend = backend
	}
}

// WithMaxWorkers caps the number of concurrently running local map tasks.
// Zero runs every task at once.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		c.MaxWorkers = n
	}
}

// WithInterpreter sets the command that runs materialized operator scripts
// locally.
func WithInterpreter(command ...string) Option {
	return func(c *config) {
		c.Interpreter = command
	}
}

// WithRuntime replaces the script runtime used to wrap operator source.
func WithRuntime(runtime mrpscript.Runtime) Option {
	return func(c *config) {
		c.runtime = runtime
	}
}

// WithSandbox sets the sandbox API endpoint and credential.
func WithSandbox(url, apiKey string) Option {
	return func(c *config) {
		c.SandboxURL = url
		c.SandboxAPIKey = apiKey
	}
}

// WithSandboxProvider replaces the remote sandbox provider. The function
// receives the configured API key.
func WithSandboxProvider(newProvider func(apiKey string) mrpsandbox.Provider) Option {
	return func(c *config) {
		c.sandboxProvider = newProvider
	}
}

// WithRegisterer registers the driver's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithClock sets the time source used to name run output locations.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithProgress enables the map progress bar.
func WithProgress(enabled bool) Option {
	return func(c *config) {
		c.Progress = enabled
	}
}

// NewDriver creates a Driver resolving operators from registry.
func NewDriver(registry *Registry, options ...Option) (*Driver, error) {
	c := newConfig()
	for _, f := range options {
		f(c)
	}

	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	if c.runtime == nil {
		c.runtime = mrpscript.Python{Command: c.Interpreter}
	}
	if c.sandboxProvider == nil {
		url := c.SandboxURL
		c.sandboxProvider = func(apiKey string) mrpsandbox.Provider {
			return mrpsandbox.NewDaytonaProvider(url, apiKey)
		}
	}
	if c.MaxWorkers < 0 {
		log.Warnf("Ignoring negative max_workers %d", c.MaxWorkers)
		c.MaxWorkers = 0
	}
	log.Debugf("Loaded config: %#v", c)

	opsFS, err := mrpfs.InferFilesystem(c.OpsLocation)
	if err != nil {
		return nil, err
	}
	store, err := mrpstore.Open(c.ArtifactLocation, c.CacheSize)
	if err != nil {
		return nil, err
	}
	log.Debugf("Artifact store at %s", store.Root())

	materializer := NewMaterializer(opsFS, c.OpsLocation, c.runtime)
	return &Driver{
		config:       c,
		registry:     registry,
		materializer: materializer,
		compiler:     NewCompiler(materializer),
		resolver:     NewResolver(registry, materializer, c.runtime),
		store:        store,
		metrics:      newMetrics(c.registerer),
	}, nil
}

// Compile compiles a job description.
func (d *Driver) Compile(job *JobDescription) (*Plan, *Manifest, *PolicyReport, error) {
	return d.compiler.Compile(job)
}

func (d *Driver) executor(backend Backend) (executor, error) {
	switch backend {
	case LocalBackend, "":
		return &localExecutor{
			resolver:   d.resolver,
			maxWorkers: d.config.MaxWorkers,
			progress:   d.config.Progress,
			metrics:    d.metrics,
		}, nil
	case SandboxBackend:
		return &sandboxExecutor{
			resolver:    d.resolver,
			runtime:     d.config.runtime,
			apiKey:      d.config.SandboxAPIKey,
			newProvider: d.config.sandboxProvider,
			metrics:     d.metrics,
		}, nil
	}
	return nil, &ConfigurationError{Op: "execute", Err: fmt.Errorf("unknown backend %q", backend)}
}

// Execute runs plan on backend and persists the run record. Nothing is
// persisted when any stage fails.
func (d *Driver) Execute(ctx context.Context, plan *Plan, backend Backend) (*RunResult, error) {
	exec, err := d.executor(backend)
	if err != nil {
		return nil, err
	}

	result, err := d.execute(ctx, plan, exec)
	d.metrics.runs.WithLabelValues(exec.Name(), status(err)).Inc()
	return result, err
}

func (d *Driver) execute(ctx context.Context, plan *Plan, exec executor) (*RunResult, error) {
	start := d.config.clock()
	began := time.Now()
	log.Debugf("Executing job %s on %s backend", plan.Manifest.JobID, exec.Name())

	tasks, err := dispatchTasks(plan)
	if err != nil {
		return nil, err
	}

	results, err := exec.RunMaps(ctx, plan.Manifest.Operators.Map, plan.Manifest.Seed, tasks)
	if err != nil {
		return nil, err
	}

	record, err := d.finish(ctx, plan, exec.Name(), start, results)
	if err != nil {
		return nil, err
	}

	digest, written, err := d.store.Put(record)
	if err != nil {
		return nil, fmt.Errorf("persisting run record: %w", err)
	}
	d.metrics.observePut("run", written)
	log.Infof("Job %s run %s (%s backend, %s)", plan.Manifest.JobID, digest, exec.Name(), time.Since(began))

	return &RunResult{RunDigest: digest, Record: record}, nil
}

// Run compiles job and executes it on backend.
func (d *Driver) Run(ctx context.Context, job *JobDescription, backend Backend) (*RunResult, error) {
	plan, _, _, err := d.Compile(job)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, plan, backend)
}

// Replay loads the run record stored under digest, which may be
// abbreviated to any unambiguous prefix.
func (d *Driver) Replay(digest string) (*RunRecord, error) {
	digest, err := d.store.Resolve(digest)
	if err != nil {
		return nil, err
	}
	var record RunRecord
	if err := d.store.GetInto(digest, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// compiledJob is the document persisted by the compile command.
type compiledJob struct {
	Plan     *Plan         `json:"plan"`
	Manifest *Manifest     `json:"manifest"`
	Policy   *PolicyReport `json:"policy"`
}

const usage = `usage: %s [flags] <command> [args]

commands:
  compile <job.yaml>   compile a job and store its plan; prints the plan digest
  run <job.yaml>       compile and execute a job; prints the run digest
  replay <digest>      print a stored run record (digest prefixes accepted)

flags:
`

// command runs one CLI command, writing its result to out.
func (d *Driver) command(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errors.New("expected a command and one argument")
	}

	switch args[0] {
	case "compile":
		job, err := LoadJob(args[1])
		if err != nil {
			return err
		}
		plan, manifest, policy, err := d.Compile(job)
		if err != nil {
			return err
		}
		digest, written, err := d.store.Put(compiledJob{Plan: plan, Manifest: manifest, Policy: policy})
		if err != nil {
			return err
		}
		d.metrics.observePut("plan", written)
		fmt.Fprintln(out, digest)
	case "run":
		job, err := LoadJob(args[1])
		if err != nil {
			return err
		}
		result, err := d.Run(ctx, job, d.config.Backend)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result.RunDigest)
	case "replay":
		record, err := d.Replay(args[1])
		if err != nil {
			return err
		}
		encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(encoded))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

// Main parses the command line and runs the requested command.
func (d *Driver) Main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	backend := flags.StringP("backend", "b", string(d.config.Backend), "execution backend (local or cloud_sandbox)")
	maxWorkers := flags.IntP("max-workers", "w", d.config.MaxWorkers, "maximum concurrent local map tasks (0 = unbounded)")
	outputDir := flags.StringP("out", "o", d.config.OutputLocation, "root directory for run outputs")
	progress := flags.Bool("progress", d.config.Progress, "show map progress")
	verbose := flags.BoolP("verbose", "v", d.config.Verbose, "debug logging")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	d.config.Backend = Backend(*backend)
	d.config.MaxWorkers = *maxWorkers
	d.config.OutputLocation = *outputDir
	d.config.Progress = *progress
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flags.NArg() != 2 {
		flags.Usage()
		os.Exit(2)
	}
	if err := d.command(context.Background(), flags.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}
