// Package config loads the run configuration for basin hopping and transition-state
// refinement jobs and converts it into the per-component engine configurations.
//
// Priority: environment (LANDSCAPE_*) > config file (YAML, JSON fallback) > defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/opt"
	"github.com/cwbudde/landscape/internal/step"
	"github.com/cwbudde/landscape/internal/store"
	"github.com/cwbudde/landscape/internal/ts"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LANDSCAPE_"

// RunConfig is the complete configuration of a run
type RunConfig struct {
	System       SystemConfig       `json:"system" yaml:"system" validate:"required"`
	BasinHopping BasinHoppingConfig `json:"basinhopping" yaml:"basinhopping" validate:"required"`
	Quench       QuenchConfig       `json:"quench" yaml:"quench" validate:"required"`
	Refine       RefineConfig       `json:"refine" yaml:"refine" validate:"required"`
	Storage      StorageConfig      `json:"storage" yaml:"storage" validate:"required"`
}

// SystemConfig selects the potential
type SystemConfig struct {
	Name   string `json:"name" yaml:"name" validate:"required,oneof=lj trimer lj-dimer"`
	NAtoms int    `json:"natoms" yaml:"natoms" validate:"gte=1,lte=10000"`
	Seed   int64  `json:"seed" yaml:"seed"`
}

// BasinHoppingConfig configures the basin hopping walkers
type BasinHoppingConfig struct {
	Steps       int     `json:"steps" yaml:"steps" validate:"gte=0"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0"`

	// Stepsize of the random displacement; 0 uses the system default
	Stepsize float64 `json:"stepsize" yaml:"stepsize" validate:"gte=0"`

	Adaptive AdaptiveConfig `json:"adaptive" yaml:"adaptive"`
	Reseed   ReseedConfig   `json:"reseed" yaml:"reseed"`

	Walkers        int  `json:"walkers" yaml:"walkers" validate:"gte=1,lte=256"`
	InsertRejected bool `json:"insert_rejected" yaml:"insert_rejected"`
	PrintFrequency int  `json:"print_frequency" yaml:"print_frequency" validate:"gte=0"`
}

// AdaptiveConfig toggles and tunes the adaptive step size
type AdaptiveConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Target    float64 `json:"target" yaml:"target" validate:"gt=0,lt=1"`
	Factor    float64 `json:"factor" yaml:"factor" validate:"gt=0,lt=1"`
	Frequency int     `json:"frequency" yaml:"frequency" validate:"gte=1"`

	// LastStep stops adaptation after this many steps; 0 adapts forever
	LastStep int `json:"last_step" yaml:"last_step" validate:"gte=0"`
}

// ReseedConfig toggles and tunes reseeding after stalls
type ReseedConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	MaxNoImprove int     `json:"max_no_improve" yaml:"max_no_improve" validate:"gte=1"`
	Accuracy     float64 `json:"accuracy" yaml:"accuracy" validate:"gte=0"`
	Method       string  `json:"method" yaml:"method" validate:"oneof=mc mayfly"`
}

// QuenchConfig configures the local minimizer
type QuenchConfig struct {
	Method   string  `json:"method" yaml:"method" validate:"oneof=lbfgs gonum-lbfgs bfgs cg gd"`
	Tol      float64 `json:"tol" yaml:"tol" validate:"gt=0"`
	MaxSteps int     `json:"max_steps" yaml:"max_steps" validate:"gte=1"`
	MaxStep  float64 `json:"max_step" yaml:"max_step" validate:"gt=0"`
}

// RefineConfig configures the transition-state refiner
type RefineConfig struct {
	Tol                     float64 `json:"tol" yaml:"tol" validate:"gt=0"`
	MaxIter                 int     `json:"max_iter" yaml:"max_iter" validate:"gte=1"`
	NFailMax                int     `json:"nfail_max" yaml:"nfail_max" validate:"gte=0"`
	MaxUphillStep           float64 `json:"max_uphill_step" yaml:"max_uphill_step" validate:"gt=0"`
	StepFactor              float64 `json:"step_factor" yaml:"step_factor" validate:"gt=0,lte=1"`
	DemandNegativeInitial   bool    `json:"demand_negative_initial" yaml:"demand_negative_initial"`
	TangentStepsUnconverged int     `json:"tangent_steps_unconverged" yaml:"tangent_steps_unconverged" validate:"gte=0"`
	TangentStepsConverged   int     `json:"tangent_steps_converged" yaml:"tangent_steps_converged" validate:"gte=0"`
	OverlapThreshold        float64 `json:"overlap_threshold" yaml:"overlap_threshold" validate:"gt=0,lte=1"`
	UseGradPar              bool    `json:"use_gradpar" yaml:"use_gradpar"`
	EigTol                  float64 `json:"eig_tol" yaml:"eig_tol" validate:"gt=0"`
	EigMaxSteps             int     `json:"eig_max_steps" yaml:"eig_max_steps" validate:"gte=1"`
	EigDx                   float64 `json:"eig_dx" yaml:"eig_dx" validate:"gt=0"`
}

// StorageConfig configures persistence
type StorageConfig struct {
	// Database is the SQLite minima catalogue; empty keeps minima in memory only
	Database string  `json:"database" yaml:"database"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy" validate:"gt=0"`

	// DataDir holds checkpoints, traces and results
	DataDir         string `json:"data_dir" yaml:"data_dir" validate:"required"`
	Trace           bool   `json:"trace" yaml:"trace"`
	CheckpointEvery int    `json:"checkpoint_every" yaml:"checkpoint_every" validate:"gte=0"`
}

// DefaultRunConfig returns the defaults for every section
func DefaultRunConfig() RunConfig {
	adaptive := step.DefaultAdaptiveConfig()
	stall := step.DefaultStallConfig()
	quench := opt.DefaultOptions()
	refine := ts.DefaultRefineConfig()
	bh := mc.DefaultBasinHoppingConfig()

	return RunConfig{
		System: SystemConfig{
			Name:   "lj",
			NAtoms: 13,
			Seed:   bh.Seed,
		},
		BasinHopping: BasinHoppingConfig{
			Steps:       1000,
			Temperature: bh.Temperature,
			Adaptive: AdaptiveConfig{
				Enabled:   true,
				Target:    adaptive.Target,
				Factor:    adaptive.Factor,
				Frequency: adaptive.Frequency,
				LastStep:  adaptive.LastStep,
			},
			Reseed: ReseedConfig{
				Enabled:      false,
				MaxNoImprove: stall.MaxNoImprove,
				Accuracy:     stall.Accuracy,
				Method:       "mc",
			},
			Walkers:        1,
			PrintFrequency: 100,
		},
		Quench: QuenchConfig{
			Method:   "lbfgs",
			Tol:      quench.Tol,
			MaxSteps: quench.MaxSteps,
			MaxStep:  quench.MaxStep,
		},
		Refine: RefineConfig{
			Tol:                     refine.Tol,
			MaxIter:                 refine.MaxIter,
			NFailMax:                refine.NFailMax,
			MaxUphillStep:           refine.MaxUphillStep,
			StepFactor:              refine.StepFactor,
			DemandNegativeInitial:   refine.DemandNegativeInitial,
			TangentStepsUnconverged: refine.TangentStepsUnconverged,
			TangentStepsConverged:   refine.TangentStepsConverged,
			OverlapThreshold:        refine.OverlapThreshold,
			EigTol:                  refine.Eig.Tol,
			EigMaxSteps:             refine.Eig.MaxSteps,
			EigDx:                   refine.Eig.Dx,
		},
		Storage: StorageConfig{
			Accuracy:        1e-6,
			DataDir:         "./data",
			CheckpointEvery: 0,
		},
	}
}

// Load builds a RunConfig from defaults, an optional file and the environment.
// A missing file is not an error.
func Load(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *RunConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// envBinding maps one environment variable onto a config field
type envBinding struct {
	name string
	set  func(cfg *RunConfig, v string) error
}

func intVar(field func(*RunConfig) *int) func(*RunConfig, string) error {
	return func(cfg *RunConfig, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = i
		return nil
	}
}

func floatVar(field func(*RunConfig) *float64) func(*RunConfig, string) error {
	return func(cfg *RunConfig, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

func boolVar(field func(*RunConfig) *bool) func(*RunConfig, string) error {
	return func(cfg *RunConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

func stringVar(field func(*RunConfig) *string) func(*RunConfig, string) error {
	return func(cfg *RunConfig, v string) error {
		*field(cfg) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"SYSTEM", stringVar(func(c *RunConfig) *string { return &c.System.Name })},
	{"NATOMS", intVar(func(c *RunConfig) *int { return &c.System.NAtoms })},
	{"SEED", func(c *RunConfig, v string) error {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.System.Seed = i
		return nil
	}},
	{"STEPS", intVar(func(c *RunConfig) *int { return &c.BasinHopping.Steps })},
	{"TEMPERATURE", floatVar(func(c *RunConfig) *float64 { return &c.BasinHopping.Temperature })},
	{"STEPSIZE", floatVar(func(c *RunConfig) *float64 { return &c.BasinHopping.Stepsize })},
	{"WALKERS", intVar(func(c *RunConfig) *int { return &c.BasinHopping.Walkers })},
	{"INSERT_REJECTED", boolVar(func(c *RunConfig) *bool { return &c.BasinHopping.InsertRejected })},
	{"PRINT_FREQUENCY", intVar(func(c *RunConfig) *int { return &c.BasinHopping.PrintFrequency })},
	{"ADAPTIVE", boolVar(func(c *RunConfig) *bool { return &c.BasinHopping.Adaptive.Enabled })},
	{"RESEED", boolVar(func(c *RunConfig) *bool { return &c.BasinHopping.Reseed.Enabled })},
	{"RESEED_METHOD", stringVar(func(c *RunConfig) *string { return &c.BasinHopping.Reseed.Method })},
	{"QUENCH_METHOD", stringVar(func(c *RunConfig) *string { return &c.Quench.Method })},
	{"QUENCH_TOL", floatVar(func(c *RunConfig) *float64 { return &c.Quench.Tol })},
	{"QUENCH_MAX_STEPS", intVar(func(c *RunConfig) *int { return &c.Quench.MaxSteps })},
	{"REFINE_TOL", floatVar(func(c *RunConfig) *float64 { return &c.Refine.Tol })},
	{"REFINE_MAX_ITER", intVar(func(c *RunConfig) *int { return &c.Refine.MaxIter })},
	{"REFINE_USE_GRADPAR", boolVar(func(c *RunConfig) *bool { return &c.Refine.UseGradPar })},
	{"DATABASE", stringVar(func(c *RunConfig) *string { return &c.Storage.Database })},
	{"ACCURACY", floatVar(func(c *RunConfig) *float64 { return &c.Storage.Accuracy })},
	{"DATA_DIR", stringVar(func(c *RunConfig) *string { return &c.Storage.DataDir })},
	{"TRACE", boolVar(func(c *RunConfig) *bool { return &c.Storage.Trace })},
	{"CHECKPOINT_EVERY", intVar(func(c *RunConfig) *int { return &c.Storage.CheckpointEvery })},
}

// loadEnv applies LANDSCAPE_* overrides. Unparseable values are errors rather than
// being silently ignored.
func loadEnv(cfg *RunConfig) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := os.LookupEnv(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errors.Join(errs...)
}

var validate = validator.New()

// Validate checks every section against its validate tags
func (c RunConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// QuenchOptions converts the quench section into minimizer options
func (c RunConfig) QuenchOptions() opt.Options {
	o := opt.DefaultOptions()
	o.Tol = c.Quench.Tol
	o.MaxSteps = c.Quench.MaxSteps
	o.MaxStep = c.Quench.MaxStep
	return o
}

// Minimizer returns the configured quench minimizer
func (c RunConfig) Minimizer() (opt.Minimizer, error) {
	return opt.New(c.Quench.Method)
}

// BasinHoppingConfig converts the basin hopping and quench sections. Seed is offset per
// walker so that independent walkers draw independent streams.
func (c RunConfig) BasinHoppingConfig(walker int) (mc.BasinHoppingConfig, error) {
	minimizer, err := c.Minimizer()
	if err != nil {
		return mc.BasinHoppingConfig{}, err
	}
	cfg := mc.DefaultBasinHoppingConfig()
	cfg.Temperature = c.BasinHopping.Temperature
	cfg.InsertRejected = c.BasinHopping.InsertRejected
	cfg.PrintFrequency = c.BasinHopping.PrintFrequency
	cfg.Seed = c.System.Seed + int64(walker)
	cfg.Minimizer = minimizer
	cfg.Quench = c.QuenchOptions()
	return cfg, nil
}

// AdaptiveConfig converts the adaptive step size section
func (c RunConfig) AdaptiveConfig() step.AdaptiveConfig {
	a := step.DefaultAdaptiveConfig()
	a.Target = c.BasinHopping.Adaptive.Target
	a.Factor = c.BasinHopping.Adaptive.Factor
	a.Frequency = c.BasinHopping.Adaptive.Frequency
	a.LastStep = c.BasinHopping.Adaptive.LastStep
	return a
}

// StallConfig converts the reseed section
func (c RunConfig) StallConfig() step.StallConfig {
	return step.StallConfig{
		MaxNoImprove: c.BasinHopping.Reseed.MaxNoImprove,
		Accuracy:     c.BasinHopping.Reseed.Accuracy,
	}
}

// RefineConfig converts the refine and quench sections
func (c RunConfig) RefineConfig() (ts.RefineConfig, error) {
	minimizer, err := c.Minimizer()
	if err != nil {
		return ts.RefineConfig{}, err
	}
	r := ts.DefaultRefineConfig()
	r.Tol = c.Refine.Tol
	r.MaxIter = c.Refine.MaxIter
	r.NFailMax = c.Refine.NFailMax
	r.MaxUphillStep = c.Refine.MaxUphillStep
	r.StepFactor = c.Refine.StepFactor
	r.DemandNegativeInitial = c.Refine.DemandNegativeInitial
	r.TangentStepsUnconverged = c.Refine.TangentStepsUnconverged
	r.TangentStepsConverged = c.Refine.TangentStepsConverged
	r.OverlapThreshold = c.Refine.OverlapThreshold
	r.UseGradPar = c.Refine.UseGradPar
	if r.UseGradPar && r.GradParTol == 0 {
		r.GradParTol = c.Refine.Tol
	}
	r.Eig.Tol = c.Refine.EigTol
	r.Eig.MaxSteps = c.Refine.EigMaxSteps
	r.Eig.Dx = c.Refine.EigDx
	r.Minimizer = minimizer
	r.Seed = c.System.Seed
	return r, nil
}

// JobConfig is the subset of the configuration stored with checkpoints
func (c RunConfig) JobConfig(ndim int) store.JobConfig {
	return store.JobConfig{
		System:          c.System.Name,
		NAtoms:          c.System.NAtoms,
		NDim:            ndim,
		Temperature:     c.BasinHopping.Temperature,
		Steps:           c.BasinHopping.Steps,
		Quench:          c.Quench.Method,
		Seed:            c.System.Seed,
		CheckpointEvery: c.Storage.CheckpointEvery,
	}
}
