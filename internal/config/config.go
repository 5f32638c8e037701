package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "30s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type LLMConfig struct {
	Provider       string `toml:"provider" validate:"required,oneof=openai gemini claude ollama"`
	Model          string `toml:"model" validate:"required"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	VectorTable   string `toml:"vector_table" validate:"required"`
	ReviewTable   string `toml:"review_table" validate:"required"`
	MaxConns      int32  `toml:"max_conns" validate:"gte=1"`
	EmbeddingDims int    `toml:"embedding_dims" validate:"gte=0"`
}

type RedisConfig struct {
	URL   string `toml:"url"`
	Queue string `toml:"queue" validate:"required"`
}

// StorageConfig selects the backend for each capability.
type StorageConfig struct {
	Graph  string `toml:"graph" validate:"oneof=memory memgraph"`
	Vector string `toml:"vector" validate:"oneof=memory pgvector"`
	Review string `toml:"review" validate:"oneof=memory postgres"`
	Queue  string `toml:"queue" validate:"oneof=memory redis"`
}

type PipelineConfig struct {
	ThinkTimeout    Duration `toml:"think_timeout"`
	CallTimeout     Duration `toml:"call_timeout"`
	StoreTimeout    Duration `toml:"store_timeout"`
	RetryBackoff    Duration `toml:"retry_backoff"`
	MaxInputChars   int      `toml:"max_input_chars" validate:"gt=0"`
	SaveAttempts    int      `toml:"save_attempts" validate:"gte=1"`
	BreakerFailures uint32   `toml:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  Duration `toml:"breaker_timeout"`
	BreakerHalfOpen uint32   `toml:"breaker_half_open" validate:"gte=1"`
}

type RetrievalConfig struct {
	TopK                 int     `toml:"top_k" validate:"gte=1"`
	MinSimilarity        float64 `toml:"min_similarity" validate:"gte=-1,lte=1"`
	MaxHops              int     `toml:"max_hops" validate:"gte=1,lte=4"`
	EntityMatchThreshold float64 `toml:"entity_match_threshold" validate:"gt=0,lte=1"`
	EntityScanLimit      int     `toml:"entity_scan_limit" validate:"gte=1"`
	NeighborLimit        int     `toml:"neighbor_limit" validate:"gte=1"`
	MaxContextChars      int     `toml:"max_context_chars" validate:"gte=100"`
	Rerank               bool    `toml:"rerank"`
}

type ExtractionConfig struct {
	MaxRefines           int     `toml:"max_refines" validate:"gte=0,lte=5"`
	GapPenalty           float64 `toml:"gap_penalty" validate:"gt=0,lte=1"`
	SummaryFallbackChars int     `toml:"summary_fallback_chars" validate:"gte=20"`
	SimpleInputChars     int     `toml:"simple_input_chars" validate:"gte=0"`
}

// EnrichmentConfig holds the lexicons and weights used by the lexical agents.
type EnrichmentConfig struct {
	AgentTimeout      Duration           `toml:"agent_timeout"`
	BlockerPhrases    []string           `toml:"blocker_phrases" validate:"min=1"`
	ObligationPhrases []string           `toml:"obligation_phrases"`
	ImperativeVerbs   []string           `toml:"imperative_verbs"`
	FillerWords       []string           `toml:"filler_words"`
	UrgencyMarkers    map[string]float64 `toml:"urgency_markers"`
	DatedTerms        []string           `toml:"dated_terms"`
	DatedPattern      string             `toml:"dated_pattern"`
	ProximityWindow   int                `toml:"proximity_window" validate:"gte=1"`
	ImperativeWeight  float64            `toml:"imperative_weight"`
	ObligationWeight  float64            `toml:"obligation_weight"`
	PersonWeight      float64            `toml:"person_weight"`
	DatedNearWeight   float64            `toml:"dated_near_weight"`
	DatedFarWeight    float64            `toml:"dated_far_weight"`
	LinkIncrement     float64            `toml:"link_increment" validate:"gt=0"`
	SuggestionLimit   int                `toml:"suggestion_limit" validate:"gte=1"`
}

type SerendipityConfig struct {
	MinSimilarity    float64 `toml:"min_similarity" validate:"gte=0,lte=1"`
	MinDistance      int     `toml:"min_distance" validate:"gte=1"`
	MaxHops          int     `toml:"max_hops" validate:"gtefield=MinDistance"`
	MaxNudges        int     `toml:"max_nudges" validate:"gte=1"`
	ScanLimit        int     `toml:"scan_limit" validate:"gte=1"`
	ClusterAlgorithm string  `toml:"cluster_algorithm" validate:"oneof=lpa components"`
	CacheSize        int     `toml:"cache_size" validate:"gte=1"`
}

type SynthesisConfig struct {
	Workers       int      `toml:"workers" validate:"gte=1"`
	MaxAttempts   int      `toml:"max_attempts" validate:"gte=1"`
	RetryBackoff  Duration `toml:"retry_backoff"`
	JobTimeout    Duration `toml:"job_timeout"`
	ProfileWindow int      `toml:"profile_window" validate:"gte=1"`
	QueueSize     int      `toml:"queue_size" validate:"gte=1"`
}

type AtomizationConfig struct {
	MinWords    int `toml:"min_words" validate:"gte=1"`
	MinAtoms    int `toml:"min_atoms" validate:"gte=1"`
	MaxAtoms    int `toml:"max_atoms" validate:"gtefield=MinAtoms"`
	TargetWords int `toml:"target_words" validate:"gte=10"`
}

type ReviewConfig struct {
	DefaultEasiness float64  `toml:"default_easiness" validate:"gte=1.3"`
	MinWords        int      `toml:"min_words" validate:"gte=0"`
	ScanInterval    Duration `toml:"scan_interval"`
	DueLimit        int      `toml:"due_limit" validate:"gte=1"`
}

// InsightConfig bounds the read-side views: search, related thoughts,
// browsing and the daily briefing.
type InsightConfig struct {
	SearchLimit     int `toml:"search_limit" validate:"gte=1"`
	RelatedLimit    int `toml:"related_limit" validate:"gte=1"`
	BrowseLimit     int `toml:"browse_limit" validate:"gte=1"`
	BriefingRecent  int `toml:"briefing_recent" validate:"gte=1"`
	BriefingActions int `toml:"briefing_actions" validate:"gte=1"`
	FeynmanNotes    int `toml:"feynman_notes" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

type ServerConfig struct {
	Port string `toml:"port" validate:"required"`
}

type TracingConfig struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Environment string `toml:"environment"`
}

// Prompts are fmt templates; each documents its %s arguments in defaults.go.
type Prompts struct {
	Extract        string `toml:"extract"`
	Critique       string `toml:"critique"`
	Refine         string `toml:"refine"`
	Respond        string `toml:"respond"`
	PersonProfile  string `toml:"person_profile"`
	ProjectProfile string `toml:"project_profile"`
	ReduceSummary  string `toml:"reduce_summary"`
	Decompose      string `toml:"decompose"`
	Atomize        string `toml:"atomize"`
	Nudge          string `toml:"nudge"`
	Briefing       string `toml:"briefing"`
	Feynman        string `toml:"feynman"`
}

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Memgraph    MemgraphConfig    `toml:"memgraph"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Storage     StorageConfig     `toml:"storage"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Enrichment  EnrichmentConfig  `toml:"enrichment"`
	Serendipity SerendipityConfig `toml:"serendipity"`
	Synthesis   SynthesisConfig   `toml:"synthesis"`
	Atomization AtomizationConfig `toml:"atomization"`
	Review      ReviewConfig      `toml:"review"`
	Insight     InsightConfig     `toml:"insight"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
	Tracing     TracingConfig     `toml:"tracing"`
	Prompts     Prompts           `toml:"prompts"`
}

// Load reads a TOML file over the defaults, applies env overrides and validates.
// A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"LLM_PROVIDER", &c.LLM.Provider},
		{"LLM_MODEL", &c.LLM.Model},
		{"LLM_EMBEDDING_MODEL", &c.LLM.EmbeddingModel},
		{"LLM_API_KEY", &c.LLM.APIKey},
		{"LLM_BASE_URL", &c.LLM.BaseURL},
		{"MEMGRAPH_URI", &c.Memgraph.URI},
		{"MEMGRAPH_USER", &c.Memgraph.User},
		{"MEMGRAPH_PASSWORD", &c.Memgraph.Password},
		{"POSTGRES_DSN", &c.Postgres.DSN},
		{"REDIS_URL", &c.Redis.URL},
		{"PORT", &c.Server.Port},
		{"LOG_LEVEL", &c.Logging.Level},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks struct tags and the cross-field backend requirements.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Storage.Graph == "memgraph" && c.Memgraph.URI == "" {
		return fmt.Errorf("invalid config: memgraph.uri is required when storage.graph = memgraph")
	}
	if (c.Storage.Vector == "pgvector" || c.Storage.Review == "postgres") && c.Postgres.DSN == "" {
		return fmt.Errorf("invalid config: postgres.dsn is required for postgres-backed storage")
	}
	if c.Storage.Queue == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid config: redis.url is required when storage.queue = redis")
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param())
	case "gte", "gt", "lte", "min":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
