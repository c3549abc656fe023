package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Admin         AdminConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	HTTP          HTTPConfig
	Uploads       UploadsConfig
	Mail          MailConfig
	Chain         ChainConfig
	Outbox        OutboxConfig
	Eventing      EventingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags); err != nil {
		return nil, err
	}
	if err := cfg.Chain.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAWFINDS_APP_ENV" required:"true"`
	Port         string `envconfig:"PAWFINDS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAWFINDS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PAWFINDS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PAWFINDS_LOG_WARN_STACK" default:"false"`
	InstanceID   string `envconfig:"PAWFINDS_INSTANCE_ID" default:"local"`
}

func (a AppConfig) IsDev() bool {
	env := strings.ToLower(strings.TrimSpace(a.Env))
	return env == AppEnvDev || env == "development" || env == "local"
}

func (a AppConfig) IsProd() bool {
	env := strings.ToLower(strings.TrimSpace(a.Env))
	return env == AppEnvProd || env == "production"
}

type DBConfig struct {
	DSN        string `envconfig:"PAWFINDS_DB_DSN"`
	SQLitePath string `envconfig:"PAWFINDS_SQLITE_PATH" default:"pawfinds.db"`

	LegacyHost     string `envconfig:"PAWFINDS_DB_HOST"`
	LegacyPort     int    `envconfig:"PAWFINDS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAWFINDS_DB_USER"`
	LegacyPassword string `envconfig:"PAWFINDS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAWFINDS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAWFINDS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAWFINDS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAWFINDS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAWFINDS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAWFINDS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// UseSQLite is copied from the feature flags during Load so db.New only
	// needs this struct.
	UseSQLite bool `ignored:"true"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAWFINDS_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"PAWFINDS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAWFINDS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAWFINDS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAWFINDS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAWFINDS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PAWFINDS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PAWFINDS_JWT_ISSUER" default:"pawfinds"`
	ExpirationMinutes int    `envconfig:"PAWFINDS_JWT_EXPIRATION_MINUTES" default:"120"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"PAWFINDS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"PAWFINDS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"PAWFINDS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"PAWFINDS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"PAWFINDS_ARGON_KEY_LEN" default:"32"`
}

// AdminConfig holds the single operator account allowed to moderate listings.
type AdminConfig struct {
	Email        string `envconfig:"PAWFINDS_ADMIN_EMAIL"`
	PasswordHash string `envconfig:"PAWFINDS_ADMIN_PASSWORD_HASH"`
}

// Enabled reports whether admin login is configured.
func (a AdminConfig) Enabled() bool {
	return strings.TrimSpace(a.Email) != "" && strings.TrimSpace(a.PasswordHash) != ""
}

type AuthRateLimitConfig struct {
	LoginWindow       time.Duration `envconfig:"PAWFINDS_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit   int           `envconfig:"PAWFINDS_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit      int           `envconfig:"PAWFINDS_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	SubmissionWindow  time.Duration `envconfig:"PAWFINDS_RATE_LIMIT_SUBMISSION_WINDOW" default:"10m"`
	SubmissionIPLimit int           `envconfig:"PAWFINDS_RATE_LIMIT_SUBMISSION_IP_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite      bool `envconfig:"PAWFINDS_USE_SQLITE" default:"false"`
	AutoMigrate    bool `envconfig:"PAWFINDS_AUTO_MIGRATE" default:"false"`
	EmbeddedWorker bool `envconfig:"PAWFINDS_EMBEDDED_WORKER" default:"false"`
}

type HTTPConfig struct {
	ReadTimeout        time.Duration `envconfig:"PAWFINDS_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout       time.Duration `envconfig:"PAWFINDS_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"PAWFINDS_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSAllowedOrigins []string      `envconfig:"PAWFINDS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type UploadsConfig struct {
	Dir   string `envconfig:"PAWFINDS_UPLOADS_DIR" default:"./images"`
	MaxMB int    `envconfig:"PAWFINDS_UPLOAD_MAX_MB" default:"10"`
}

// MaxBytes returns the upload cap in bytes.
func (u UploadsConfig) MaxBytes() int64 {
	if u.MaxMB <= 0 {
		return 10 << 20
	}
	return int64(u.MaxMB) << 20
}

// MailConfig keeps the EMAIL_USER / EMAIL_APP_PASS names the deployment
// already uses for the Gmail app password.
type MailConfig struct {
	User     string        `envconfig:"EMAIL_USER"`
	AppPass  string        `envconfig:"EMAIL_APP_PASS"`
	Host     string        `envconfig:"PAWFINDS_SMTP_HOST" default:"smtp.gmail.com"`
	Port     int           `envconfig:"PAWFINDS_SMTP_PORT" default:"587"`
	FromName string        `envconfig:"PAWFINDS_MAIL_FROM_NAME" default:"PawFinds"`
	Timeout  time.Duration `envconfig:"PAWFINDS_MAIL_TIMEOUT" default:"20s"`
}

// Enabled reports whether SMTP credentials are present.
func (m MailConfig) Enabled() bool {
	return strings.TrimSpace(m.User) != ""
}

type ChainConfig struct {
	Enabled         bool          `envconfig:"PAWFINDS_CHAIN_ENABLED" default:"true"`
	RPCURL          string        `envconfig:"PAWFINDS_CHAIN_RPC_URL" default:"http://127.0.0.1:7545"`
	ArtifactPath    string        `envconfig:"PAWFINDS_CHAIN_ARTIFACT_PATH" default:"./contracts/PetAdoption.json"`
	ContractAddress string        `envconfig:"PAWFINDS_CHAIN_CONTRACT_ADDRESS"`
	AdminAccount    string        `envconfig:"PAWFINDS_CHAIN_ADMIN_ACCOUNT"`
	AdminPassphrase string        `envconfig:"PAWFINDS_CHAIN_ADMIN_PASSPHRASE"`
	UnlockDuration  time.Duration `envconfig:"PAWFINDS_CHAIN_UNLOCK_DURATION" default:"600s"`
	GasLimit        uint64        `envconfig:"PAWFINDS_CHAIN_GAS_LIMIT" default:"3000000"`
	RPCTimeout      time.Duration `envconfig:"PAWFINDS_CHAIN_RPC_TIMEOUT" default:"15s"`
	ReceiptTimeout  time.Duration `envconfig:"PAWFINDS_CHAIN_RECEIPT_TIMEOUT" default:"60s"`
	ReceiptPoll     time.Duration `envconfig:"PAWFINDS_CHAIN_RECEIPT_POLL" default:"1s"`
	PollInterval    time.Duration `envconfig:"PAWFINDS_CHAIN_POLL_INTERVAL" default:"5s"`
	StartBlock      uint64        `envconfig:"PAWFINDS_CHAIN_START_BLOCK" default:"0"`
	BlockBatch      uint64        `envconfig:"PAWFINDS_CHAIN_BLOCK_BATCH" default:"500"`
}

func (c ChainConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("%s is required when %s is true", EnvChainRPCURL, EnvChainEnabled)
	}
	if strings.TrimSpace(c.ArtifactPath) == "" {
		return fmt.Errorf("%s is required when %s is true", EnvChainArtifact, EnvChainEnabled)
	}
	return nil
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PAWFINDS_OUTBOX_BATCH_SIZE" default:"20"`
	PollIntervalMS int           `envconfig:"PAWFINDS_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts    int           `envconfig:"PAWFINDS_OUTBOX_MAX_ATTEMPTS" default:"8"`
	RetryBase      time.Duration `envconfig:"PAWFINDS_OUTBOX_RETRY_BASE" default:"2s"`
	RetryMax       time.Duration `envconfig:"PAWFINDS_OUTBOX_RETRY_MAX" default:"5m"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PAWFINDS_IDEMPOTENCY_TTL" default:"24h"`
	LockTTL        time.Duration `envconfig:"PAWFINDS_WORKER_LOCK_TTL" default:"30s"`
}

func (db *DBConfig) ensureDSN(flags FeatureFlagsConfig) error {
	db.UseSQLite = flags.UseSQLite
	if db.UseSQLite {
		if strings.TrimSpace(db.SQLitePath) == "" {
			return fmt.Errorf("%s is required when %s is true", EnvSQLitePath, EnvUseSQLite)
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
