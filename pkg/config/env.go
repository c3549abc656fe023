package config

// EnvPrefix is handed to envconfig; every field below names its variable
// explicitly so the prefix only matters for the fallback lookup.
const EnvPrefix = "PAWFINDS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "PAWFINDS_APP_ENV"
	EnvPort              = "PAWFINDS_APP_PORT"
	EnvDBDSN             = "PAWFINDS_DB_DSN"
	EnvDBHost            = "PAWFINDS_DB_HOST"
	EnvDBUser            = "PAWFINDS_DB_USER"
	EnvDBName            = "PAWFINDS_DB_NAME"
	EnvUseSQLite         = "PAWFINDS_USE_SQLITE"
	EnvSQLitePath        = "PAWFINDS_SQLITE_PATH"
	EnvRedisURL          = "PAWFINDS_REDIS_URL"
	EnvJWTSecret         = "PAWFINDS_JWT_SECRET"
	EnvJWTIssuer         = "PAWFINDS_JWT_ISSUER"
	EnvJWTExpMins        = "PAWFINDS_JWT_EXPIRATION_MINUTES"
	EnvAdminEmail        = "PAWFINDS_ADMIN_EMAIL"
	EnvAdminPasswordHash = "PAWFINDS_ADMIN_PASSWORD_HASH"
	EnvUploadsDir        = "PAWFINDS_UPLOADS_DIR"
	EnvMailUser          = "EMAIL_USER"
	EnvMailAppPass       = "EMAIL_APP_PASS"
	EnvChainRPCURL       = "PAWFINDS_CHAIN_RPC_URL"
	EnvChainArtifact     = "PAWFINDS_CHAIN_ARTIFACT_PATH"
	EnvChainContract     = "PAWFINDS_CHAIN_CONTRACT_ADDRESS"
	EnvChainEnabled      = "PAWFINDS_CHAIN_ENABLED"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
