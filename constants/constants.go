// Package constants vends constants used in various components of the fan-note
// service, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "NOTES_VERBOSE"
	// servers
	EnvWriterAddr         = "NOTES_WRITER_ADDR"
	EnvReaderAddr         = "NOTES_READER_ADDR"
	EnvReqBodySizeMaxByte = "NOTES_REQ_BODY_SIZE_MAX_BYTE"
	// note store
	EnvCouchAddr   = "NOTES_COUCH_ADDR"
	EnvCouchDBName = "NOTES_COUCH_DB"
	EnvCouchUser   = "NOTES_COUCH_USER"
	EnvCouchPasswd = "NOTES_COUCH_PASSWD"
	// rate limiting
	EnvRateWindowSecs   = "NOTES_RATE_WINDOW_SECS"
	EnvRateMaxPerWindow = "NOTES_RATE_MAX_PER_WINDOW"
	// identifier hashing. The default salt is for development only and must be
	// overridden in production deployments
	EnvHashSalt = "NOTES_HASH_SALT"
	// bot verification
	EnvCaptchaSecret    = "NOTES_CAPTCHA_SECRET"
	EnvCaptchaVerifyURL = "NOTES_CAPTCHA_VERIFY_URL"
	// content moderation. Leaving the API key unset activates the keyword
	// fallback tier only
	EnvModerationAPIKey    = "NOTES_MODERATION_API_KEY"
	EnvModerationURL       = "NOTES_MODERATION_URL"
	EnvModerationModel     = "NOTES_MODERATION_MODEL"
	EnvModerationCacheSize = "NOTES_MODERATION_CACHE_SIZE"
	// reader list cache
	EnvRedisHost          = "REDIS_HOST"
	EnvRedisPort          = "REDIS_PORT"
	EnvRedisPasswd        = "REDIS_PASSWD"
	EnvRedisDB            = "REDIS_DB"
	EnvReaderCacheTTLSecs = "NOTES_READER_CACHE_TTL_SECS"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
)
