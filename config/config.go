// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	PercentageLinear  = "linear"
	PercentageSigmoid = "sigmoid"
)

// Config is the configuration for the recommender service.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	S3        S3Config        `mapstructure:"s3"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Azure     AzureConfig     `mapstructure:"azure"`
	KNN       KNNConfig       `mapstructure:"knn"`
	SVDpp     SVDppConfig     `mapstructure:"svdpp"`
	NCF       NCFConfig       `mapstructure:"ncf"`
	CBF       CBFConfig       `mapstructure:"cbf"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// CatalogConfig is the configuration for the catalog database.
type CatalogConfig struct {
	Store         string        `mapstructure:"store" validate:"required,catalog_store"`
	TablePrefix   string        `mapstructure:"table_prefix"`
	ItemsTable    string        `mapstructure:"items_table" validate:"required"`
	UsersTable    string        `mapstructure:"users_table" validate:"required"`
	ItemIdColumn  string        `mapstructure:"item_id_column" validate:"required"`
	UserIdColumn  string        `mapstructure:"user_id_column" validate:"required"`
	HistoryColumn string        `mapstructure:"history_column" validate:"required"`
	CacheSize     int           `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// ArtifactsConfig selects where pretrained model artifacts are read from.
type ArtifactsConfig struct {
	Storage string `mapstructure:"storage" validate:"oneof=posix s3 gcs azure"`
	Dir     string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

// KNNConfig is the configuration for the item-item neighborhood strategy.
type KNNConfig struct {
	Path           string `mapstructure:"path"`
	NumNeighbors   int    `mapstructure:"num_neighbors" validate:"gt=0"`
	PercentageMode string `mapstructure:"percentage_mode" validate:"oneof=linear sigmoid"`
}

// SVDppConfig is the configuration for the latent factor strategy.
type SVDppConfig struct {
	Path           string  `mapstructure:"path"`
	Candidates     int     `mapstructure:"candidates" validate:"gt=0"`
	RatingScale    float64 `mapstructure:"rating_scale" validate:"gt=0"`
	PercentageMode string  `mapstructure:"percentage_mode" validate:"oneof=linear sigmoid"`
}

// NCFConfig is the configuration for the neural strategy.
type NCFConfig struct {
	Path           string    `mapstructure:"path"`
	Candidates     int       `mapstructure:"candidates" validate:"gt=0"`
	ScoreCeiling   float64   `mapstructure:"score_ceiling" validate:"gt=0"`
	DenseFeatures  []float32 `mapstructure:"dense_features"`
	PercentageMode string    `mapstructure:"percentage_mode" validate:"oneof=linear sigmoid"`
}

// CBFConfig is the configuration for the content based strategy.
type CBFConfig struct {
	Path           string  `mapstructure:"path"`
	Alpha          float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	PercentageMode string  `mapstructure:"percentage_mode" validate:"oneof=linear sigmoid"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port" validate:"gte=0"`
	DefaultN       int      `mapstructure:"default_n" validate:"gt=0"`
	NumJobs        int      `mapstructure:"num_jobs" validate:"gt=0"`
	RateLimit      int      `mapstructure:"rate_limit" validate:"gte=0"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TracingConfig is the configuration for OpenTelemetry tracing.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=zipkin otlp otlphttp"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

// NewTracerProvider creates a tracer provider exporting spans to the collector. A
// no-op provider is returned when tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var exporter tracesdk.SpanExporter
	var err error
	switch config.Exporter {
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	case "otlp":
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	case "otlphttp":
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case "always":
		sampler = tracesdk.AlwaysSample()
	case "never":
		sampler = tracesdk.NeverSample()
	case "ratio":
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(sampler),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "gorse-recommender"),
		)),
	), nil
}

func GetDefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Store:         "sqlite://catalog.db",
			ItemsTable:    "items",
			UsersTable:    "users",
			ItemIdColumn:  "itemId",
			UserIdColumn:  "userId",
			HistoryColumn: "purchase_history",
			CacheSize:     10000,
			CacheTTL:      10 * time.Minute,
		},
		Artifacts: ArtifactsConfig{
			Storage: "posix",
			Dir:     "models",
		},
		KNN: KNNConfig{
			Path:           "knn.bin",
			NumNeighbors:   10,
			PercentageMode: PercentageLinear,
		},
		SVDpp: SVDppConfig{
			Path:           "svdpp.bin",
			Candidates:     50,
			RatingScale:    5,
			PercentageMode: PercentageLinear,
		},
		NCF: NCFConfig{
			Path:           "ncf.bin",
			Candidates:     50,
			ScoreCeiling:   6.5,
			DenseFeatures:  []float32{0, 0},
			PercentageMode: PercentageLinear,
		},
		CBF: CBFConfig{
			Path:           "cbf.bin",
			Alpha:          0.7,
			PercentageMode: PercentageLinear,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			DefaultN:       10,
			NumJobs:        1,
			AllowedOrigins: []string{"*"},
		},
		Tracing: TracingConfig{
			Exporter:          "otlp",
			CollectorEndpoint: "localhost:4317",
			Sampler:           "always",
			Ratio:             1,
		},
	}
}

func setDefault() {
	defaultConfig := GetDefaultConfig()
	// [catalog]
	viper.SetDefault("catalog.store", defaultConfig.Catalog.Store)
	viper.SetDefault("catalog.items_table", defaultConfig.Catalog.ItemsTable)
	viper.SetDefault("catalog.users_table", defaultConfig.Catalog.UsersTable)
	viper.SetDefault("catalog.item_id_column", defaultConfig.Catalog.ItemIdColumn)
	viper.SetDefault("catalog.user_id_column", defaultConfig.Catalog.UserIdColumn)
	viper.SetDefault("catalog.history_column", defaultConfig.Catalog.HistoryColumn)
	viper.SetDefault("catalog.cache_size", defaultConfig.Catalog.CacheSize)
	viper.SetDefault("catalog.cache_ttl", defaultConfig.Catalog.CacheTTL)
	viper.SetDefault("catalog.max_open_conns", defaultConfig.Catalog.MaxOpenConns)
	viper.SetDefault("catalog.max_idle_conns", defaultConfig.Catalog.MaxIdleConns)
	viper.SetDefault("catalog.conn_max_lifetime", defaultConfig.Catalog.ConnMaxLifetime)
	// [artifacts]
	viper.SetDefault("artifacts.storage", defaultConfig.Artifacts.Storage)
	viper.SetDefault("artifacts.dir", defaultConfig.Artifacts.Dir)
	// [knn]
	viper.SetDefault("knn.path", defaultConfig.KNN.Path)
	viper.SetDefault("knn.num_neighbors", defaultConfig.KNN.NumNeighbors)
	viper.SetDefault("knn.percentage_mode", defaultConfig.KNN.PercentageMode)
	// [svdpp]
	viper.SetDefault("svdpp.path", defaultConfig.SVDpp.Path)
	viper.SetDefault("svdpp.candidates", defaultConfig.SVDpp.Candidates)
	viper.SetDefault("svdpp.rating_scale", defaultConfig.SVDpp.RatingScale)
	viper.SetDefault("svdpp.percentage_mode", defaultConfig.SVDpp.PercentageMode)
	// [ncf]
	viper.SetDefault("ncf.path", defaultConfig.NCF.Path)
	viper.SetDefault("ncf.candidates", defaultConfig.NCF.Candidates)
	viper.SetDefault("ncf.score_ceiling", defaultConfig.NCF.ScoreCeiling)
	viper.SetDefault("ncf.dense_features", defaultConfig.NCF.DenseFeatures)
	viper.SetDefault("ncf.percentage_mode", defaultConfig.NCF.PercentageMode)
	// [cbf]
	viper.SetDefault("cbf.path", defaultConfig.CBF.Path)
	viper.SetDefault("cbf.alpha", defaultConfig.CBF.Alpha)
	viper.SetDefault("cbf.percentage_mode", defaultConfig.CBF.PercentageMode)
	// [server]
	viper.SetDefault("server.host", defaultConfig.Server.Host)
	viper.SetDefault("server.port", defaultConfig.Server.Port)
	viper.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	viper.SetDefault("server.num_jobs", defaultConfig.Server.NumJobs)
	viper.SetDefault("server.rate_limit", defaultConfig.Server.RateLimit)
	viper.SetDefault("server.allowed_origins", defaultConfig.Server.AllowedOrigins)
	// [tracing]
	viper.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	viper.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	viper.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	viper.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

func bindEnv() {
	bindings := []configBinding{
		{"catalog.store", "GORSE_CATALOG_STORE"},
		{"catalog.table_prefix", "GORSE_TABLE_PREFIX"},
		{"artifacts.storage", "GORSE_ARTIFACTS_STORAGE"},
		{"artifacts.dir", "GORSE_ARTIFACTS_DIR"},
		{"s3.endpoint", "GORSE_S3_ENDPOINT"},
		{"s3.access_key_id", "GORSE_S3_ACCESS_KEY_ID"},
		{"s3.secret_access_key", "GORSE_S3_SECRET_ACCESS_KEY"},
		{"s3.bucket", "GORSE_S3_BUCKET"},
		{"gcs.credentials_file", "GORSE_GCS_CREDENTIALS_FILE"},
		{"gcs.bucket", "GORSE_GCS_BUCKET"},
		{"azure.connection_string", "GORSE_AZURE_CONNECTION_STRING"},
		{"azure.account_name", "GORSE_AZURE_ACCOUNT_NAME"},
		{"azure.account_key", "GORSE_AZURE_ACCOUNT_KEY"},
		{"azure.container", "GORSE_AZURE_CONTAINER"},
		{"knn.path", "GORSE_KNN_PATH"},
		{"svdpp.path", "GORSE_SVDPP_PATH"},
		{"ncf.path", "GORSE_NCF_PATH"},
		{"cbf.path", "GORSE_CBF_PATH"},
		{"server.host", "GORSE_HTTP_HOST"},
		{"server.port", "GORSE_HTTP_PORT"},
		{"server.num_jobs", "GORSE_SERVER_JOBS"},
		{"tracing.enable_tracing", "GORSE_ENABLE_TRACING"},
		{"tracing.collector_endpoint", "GORSE_COLLECTOR_ENDPOINT"},
	}
	for _, binding := range bindings {
		err := viper.BindEnv(binding.key, binding.env)
		if err != nil {
			panic(err)
		}
	}
}

// LoadConfig loads configuration from toml file. An empty path loads defaults and
// environment variables only.
func LoadConfig(path string) (*Config, error) {
	setDefault()
	bindEnv()
	if path != "" {
		viper.SetConfigFile(path)
		viper.SetConfigType("toml")
		if err := viper.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := viper.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks the configuration and returns a readable error for the first
// violations found.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("catalog_store", func(fl validator.FieldLevel) bool {
		store := fl.Field().String()
		for _, prefix := range []string{"sqlite://", "mysql://", "postgres://", "postgresql://"} {
			if strings.HasPrefix(store, prefix) {
				return true
			}
		}
		return false
	}); err != nil {
		return errors.Trace(err)
	}
	trans, _ := ut.New(en.New()).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterTranslation("catalog_store", trans, func(ut ut.Translator) error {
		return ut.Add("catalog_store", "{0} must start with sqlite://, mysql:// or postgres://", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("catalog_store", fe.Field())
		return t
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.Struct(config); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := make([]string, 0, len(validationErrors))
			for _, e := range validationErrors {
				messages = append(messages, e.Translate(trans))
			}
			return errors.NotValidf("config: %s", strings.Join(messages, "; "))
		}
		return errors.Trace(err)
	}
	return nil
}
