package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment selects the default profile.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the full process configuration. Each section is consumed by one
// component; main wires them together.
type Config struct {
	Environment Environment
	LogLevel    string

	Server    Server
	Chain     Chain
	Registrar Registrar
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	Email     Email
	Social    Social
	Chat      Chat
	Token     Token
	Admin     Admin
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string

	// PublicBaseURL prefixes the verification links sent to users.
	PublicBaseURL string
}

// Chain configures the node gateway and the signing service.
type Chain struct {
	Name         string
	NodeURL      string
	SignerURL    string
	SignerKey    string
	RegistrarAcc string

	// ProxyFor, when set, wraps judgements in a proxy call for this account.
	ProxyFor       string
	RequestTimeout time.Duration
	// InclusionTimeout bounds how long a submitted judgement is awaited in
	// new blocks.
	InclusionTimeout time.Duration
}

// Registrar configures the judgement lifecycle.
type Registrar struct {
	Index              int
	PollInterval       time.Duration
	JudgementInterval  time.Duration
	RedispatchInterval time.Duration
	RedispatchMinAge   time.Duration
	DefaultJudgement   string
	MaxBlocksPerTick   int
	SubmitParallelism  int
	DispatchTimeout    time.Duration
	GuardCapacity      int
}

type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis enables the shared dedup guard when URL is set.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka enables lifecycle event publishing when Brokers is non-empty.
type Kafka struct {
	Brokers       []string
	Topic         string
	Partitions    int32
	RelayInterval time.Duration
}

type Email struct {
	SMTPAddr string
	Username string
	Password string
	From     string
}

type Social struct {
	APIBaseURL  string
	BearerToken string
}

type Chat struct {
	HomeserverURL string
	AccessToken   string
}

// Token configures challenge link signing.
type Token struct {
	Secret string
	TTL    time.Duration
}

// Admin protects the manual judgement endpoint. PasswordHash is a bcrypt hash.
type Admin struct {
	Username     string
	PasswordHash string
}

// Development returns defaults for a local run with in-memory stores.
func Development() Config {
	return Config{
		Environment: EnvDevelopment,
		LogLevel:    "debug",
		Server: Server{
			Addr:          ":8080",
			PublicBaseURL: "http://localhost:8080",
		},
		Chain: Chain{
			Name:           "kusama",
			NodeURL:        "http://localhost:8081",
			SignerURL:      "http://localhost:8082",
			RequestTimeout: 10 * time.Second,

			InclusionTimeout: 2 * time.Minute,
		},
		Registrar: Registrar{
			Index:              0,
			PollInterval:       6 * time.Second,
			JudgementInterval:  30 * time.Second,
			RedispatchInterval: 60 * time.Second,
			RedispatchMinAge:   2 * time.Minute,
			DefaultJudgement:   "Reasonable",
			MaxBlocksPerTick:   10,
			SubmitParallelism:  4,
			DispatchTimeout:    30 * time.Second,
			GuardCapacity:      4096,
		},
		Postgres: Postgres{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic:         "registrar.lifecycle",
			Partitions:    3,
			RelayInterval: 2 * time.Second,
		},
		Social: Social{
			APIBaseURL: "https://api.twitter.com",
		},
		Token: Token{
			Secret: "dev-secret-key-change-in-production",
			TTL:    72 * time.Hour,
		},
		Admin: Admin{
			Username: "admin",
		},
	}
}

// Staging is production-shaped but logs at debug.
func Staging() Config {
	c := Production()
	c.Environment = EnvStaging
	c.LogLevel = "debug"
	return c
}

// Production requires secrets and persistence from the environment.
func Production() Config {
	c := Development()
	c.Environment = EnvProduction
	c.LogLevel = "info"
	c.Token.Secret = ""
	c.Registrar.Index = -1
	return c
}

// ForEnvironment returns the defaults for env.
func ForEnvironment(env Environment) (Config, error) {
	switch env {
	case EnvDevelopment, "":
		return Development(), nil
	case EnvTest:
		c := Development()
		c.Environment = EnvTest
		return c, nil
	case EnvStaging:
		return Staging(), nil
	case EnvProduction:
		return Production(), nil
	default:
		return Config{}, fmt.Errorf("unknown environment %q", env)
	}
}

// FromEnv picks a profile via REGISTRAR_ENV and overlays variables on it.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func fromLookup(lookup lookupFunc) (Config, error) {
	env, _ := lookup("REGISTRAR_ENV")
	cfg, err := ForEnvironment(Environment(env))
	if err != nil {
		return Config{}, err
	}

	o := overlay{lookup: lookup}
	o.str("REGISTRAR_LOG_LEVEL", &cfg.LogLevel)

	o.str("REGISTRAR_ADDR", &cfg.Server.Addr)
	o.str("REGISTRAR_PUBLIC_BASE_URL", &cfg.Server.PublicBaseURL)

	o.str("CHAIN_NAME", &cfg.Chain.Name)
	o.str("CHAIN_NODE_URL", &cfg.Chain.NodeURL)
	o.str("CHAIN_SIGNER_URL", &cfg.Chain.SignerURL)
	o.str("CHAIN_SIGNER_KEY", &cfg.Chain.SignerKey)
	o.str("CHAIN_REGISTRAR_ACCOUNT", &cfg.Chain.RegistrarAcc)
	o.str("CHAIN_PROXY_FOR", &cfg.Chain.ProxyFor)
	o.duration("CHAIN_REQUEST_TIMEOUT", &cfg.Chain.RequestTimeout)
	o.duration("CHAIN_INCLUSION_TIMEOUT", &cfg.Chain.InclusionTimeout)

	o.integer("REGISTRAR_INDEX", &cfg.Registrar.Index)
	o.duration("REGISTRAR_POLL_INTERVAL", &cfg.Registrar.PollInterval)
	o.duration("REGISTRAR_JUDGEMENT_INTERVAL", &cfg.Registrar.JudgementInterval)
	o.duration("REGISTRAR_REDISPATCH_INTERVAL", &cfg.Registrar.RedispatchInterval)
	o.duration("REGISTRAR_REDISPATCH_MIN_AGE", &cfg.Registrar.RedispatchMinAge)
	o.str("REGISTRAR_DEFAULT_JUDGEMENT", &cfg.Registrar.DefaultJudgement)
	o.integer("REGISTRAR_MAX_BLOCKS_PER_TICK", &cfg.Registrar.MaxBlocksPerTick)
	o.integer("REGISTRAR_SUBMIT_PARALLELISM", &cfg.Registrar.SubmitParallelism)
	o.duration("REGISTRAR_DISPATCH_TIMEOUT", &cfg.Registrar.DispatchTimeout)
	o.integer("REGISTRAR_GUARD_CAPACITY", &cfg.Registrar.GuardCapacity)

	o.str("DATABASE_URL", &cfg.Postgres.DSN)
	o.integer("DATABASE_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)
	o.integer("DATABASE_MAX_IDLE_CONNS", &cfg.Postgres.MaxIdleConns)

	o.str("REDIS_URL", &cfg.Redis.URL)
	o.integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	o.str("KAFKA_TOPIC", &cfg.Kafka.Topic)
	o.duration("KAFKA_RELAY_INTERVAL", &cfg.Kafka.RelayInterval)

	o.str("EMAIL_SMTP_ADDR", &cfg.Email.SMTPAddr)
	o.str("EMAIL_USERNAME", &cfg.Email.Username)
	o.str("EMAIL_PASSWORD", &cfg.Email.Password)
	o.str("EMAIL_FROM", &cfg.Email.From)

	o.str("SOCIAL_API_BASE_URL", &cfg.Social.APIBaseURL)
	o.str("SOCIAL_BEARER_TOKEN", &cfg.Social.BearerToken)

	o.str("CHAT_HOMESERVER_URL", &cfg.Chat.HomeserverURL)
	o.str("CHAT_ACCESS_TOKEN", &cfg.Chat.AccessToken)

	o.str("TOKEN_SECRET", &cfg.Token.Secret)
	o.duration("TOKEN_TTL", &cfg.Token.TTL)

	o.str("ADMIN_USERNAME", &cfg.Admin.Username)
	o.str("ADMIN_PASSWORD_HASH", &cfg.Admin.PasswordHash)

	if o.err != nil {
		return Config{}, o.err
	}
	return cfg, nil
}

// Validate reports configuration that must abort startup.
func (c Config) Validate() error {
	var errs []error
	persistent := c.Environment != EnvDevelopment && c.Environment != EnvTest
	if persistent && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required outside development"))
	}
	if c.Registrar.Index < 0 {
		errs = append(errs, errors.New("REGISTRAR_INDEX is required"))
	}
	if c.Environment == EnvProduction && c.Token.Secret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required in production"))
	}
	if c.Registrar.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Registrar.JudgementInterval <= 0 {
		errs = append(errs, errors.New("judgement interval must be positive"))
	}
	if c.Registrar.RedispatchInterval <= 0 {
		errs = append(errs, errors.New("redispatch interval must be positive"))
	}
	if c.Registrar.GuardCapacity <= 0 {
		errs = append(errs, errors.New("guard capacity must be positive"))
	}
	if c.Chain.NodeURL == "" {
		errs = append(errs, errors.New("CHAIN_NODE_URL is required"))
	}
	return errors.Join(errs...)
}

type overlay struct {
	lookup lookupFunc
	err    error
}

func (o *overlay) str(key string, dst *string) {
	if v, ok := o.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (o *overlay) integer(key string, dst *int) {
	v, ok := o.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.err = errors.Join(o.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

// duration accepts Go durations ("6s") or a bare number of seconds.
func (o *overlay) duration(key string, dst *time.Duration) {
	v, ok := o.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		o.err = errors.Join(o.err, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
