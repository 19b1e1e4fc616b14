// Package tracing holds the OpenTelemetry exporter options.
package tracing

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-agent/pkg/options"
)

// SamplerType defines the type of sampler to use.
type SamplerType string

const (
	// SamplerAlwaysOn samples all traces.
	SamplerAlwaysOn SamplerType = "always_on"
	// SamplerAlwaysOff never samples traces.
	SamplerAlwaysOff SamplerType = "always_off"
	// SamplerRatio samples traces based on a ratio.
	SamplerRatio SamplerType = "ratio"
	// SamplerParentBased uses the parent span's sampling decision.
	SamplerParentBased SamplerType = "parent_based"
)

// ExporterType defines the type of exporter to use.
type ExporterType string

const (
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	ExporterOTLPHTTP ExporterType = "otlp_http"
	// ExporterStdout prints spans, for development.
	ExporterStdout ExporterType = "stdout"
	ExporterNoop   ExporterType = "noop"
)

// Options defines configuration for OpenTelemetry tracing. Scheduled
// deliveries are traced whether or not an exporter is enabled; these
// options only decide where the spans go.
type Options struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// ServiceName defaults to the daemon name.
	ServiceName string `json:"service-name" mapstructure:"service-name"`
	Environment string `json:"environment" mapstructure:"environment"`

	ExporterType ExporterType `json:"exporter-type" mapstructure:"exporter-type" validate:"oneof=otlp_grpc otlp_http stdout noop"`
	// Endpoint is "host:port" for both OTLP exporters.
	Endpoint string            `json:"endpoint" mapstructure:"endpoint"`
	Insecure bool              `json:"insecure" mapstructure:"insecure"`
	Headers  map[string]string `json:"headers" mapstructure:"headers"`

	SamplerType  SamplerType `json:"sampler-type" mapstructure:"sampler-type" validate:"oneof=always_on always_off ratio parent_based"`
	SamplerRatio float64     `json:"sampler-ratio" mapstructure:"sampler-ratio" validate:"min=0,max=1"`

	BatchTimeout  time.Duration `json:"batch-timeout" mapstructure:"batch-timeout" validate:"gt=0"`
	BatchMaxSize  int           `json:"batch-max-size" mapstructure:"batch-max-size" validate:"gt=0"`
	ExportTimeout time.Duration `json:"export-timeout" mapstructure:"export-timeout" validate:"gt=0"`
	MaxQueueSize  int           `json:"max-queue-size" mapstructure:"max-queue-size" validate:"gt=0"`
}

// NewOptions creates default tracing options. Tracing export is off.
func NewOptions() *Options {
	return &Options{
		Enabled:       false,
		Environment:   "development",
		ExporterType:  ExporterOTLPGRPC,
		Endpoint:      "localhost:4317",
		Insecure:      true,
		Headers:       make(map[string]string),
		SamplerType:   SamplerParentBased,
		SamplerRatio:  1.0,
		BatchTimeout:  5 * time.Second,
		BatchMaxSize:  512,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  2048,
	}
}

// AddFlags adds flags for tracing options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, "tracing")...)
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Export OpenTelemetry spans")
	fs.StringVar(&o.ServiceName, p+"service-name", o.ServiceName, "Service name for tracing")
	fs.StringVar(&o.Environment, p+"environment", o.Environment, "Deployment environment")
	fs.StringVar((*string)(&o.ExporterType), p+"exporter-type", string(o.ExporterType), "Exporter type (otlp_grpc, otlp_http, stdout, noop)")
	fs.StringVar(&o.Endpoint, p+"endpoint", o.Endpoint, "OTLP exporter endpoint")
	fs.BoolVar(&o.Insecure, p+"insecure", o.Insecure, "Disable TLS for the OTLP connection")
	fs.StringToStringVar(&o.Headers, p+"headers", o.Headers, "Headers sent with OTLP requests")
	fs.StringVar((*string)(&o.SamplerType), p+"sampler-type", string(o.SamplerType), "Sampler type (always_on, always_off, ratio, parent_based)")
	fs.Float64Var(&o.SamplerRatio, p+"sampler-ratio", o.SamplerRatio, "Sampling ratio (0.0 to 1.0)")
	fs.DurationVar(&o.BatchTimeout, p+"batch-timeout", o.BatchTimeout, "Maximum time to wait before exporting a batch")
	fs.IntVar(&o.BatchMaxSize, p+"batch-max-size", o.BatchMaxSize, "Maximum number of spans to export in a batch")
	fs.DurationVar(&o.ExportTimeout, p+"export-timeout", o.ExportTimeout, "Maximum time allowed for exporting spans")
	fs.IntVar(&o.MaxQueueSize, p+"max-queue-size", o.MaxQueueSize, "Maximum queue size for spans awaiting export")
}

// Complete fills in any missing values with defaults.
func (o *Options) Complete() error {
	if o.Headers == nil {
		o.Headers = make(map[string]string)
	}
	return nil
}

// Validate validates the tracing options. Disabled tracing is always valid.
func (o *Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if err := options.ValidateStruct(o); err != nil {
		return fmt.Errorf("invalid tracing options: %w", err)
	}
	if o.Endpoint == "" && (o.ExporterType == ExporterOTLPGRPC || o.ExporterType == ExporterOTLPHTTP) {
		return fmt.Errorf("tracing: endpoint is required for exporter type %s", o.ExporterType)
	}
	return nil
}
