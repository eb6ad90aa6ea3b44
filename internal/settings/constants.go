package settings

// DB config keys and defaults for agent settings.
const (
	// PolicyCredentialKey holds the bearer credential for the policy API.
	PolicyCredentialKey = "POLICY_API_CREDENTIAL"
	// PolicyProfileIDKey holds the policy profile identifier.
	PolicyProfileIDKey = "POLICY_PROFILE_ID"
	// PairingKeyHashKey holds the bcrypt hash of the extension pairing key.
	PairingKeyHashKey = "PAIRING_KEY_HASH"
	// SessionSecretKey holds the HMAC secret for extension session tokens.
	SessionSecretKey = "SESSION_SECRET"
	// TriggerPollSecondsKey controls the scheduler poll interval in seconds.
	TriggerPollSecondsKey = "TRIGGER_POLL_SECONDS"
	// SettleDelayMillisKey controls the post-removal settle delay in milliseconds.
	SettleDelayMillisKey = "SETTLE_DELAY_MILLIS"
	// ProxyCacheTTLSecondsKey controls the proxy list cache TTL in seconds.
	ProxyCacheTTLSecondsKey = "PROXY_CACHE_TTL_SECONDS"

	// DefaultTriggerPollSeconds is the fallback scheduler poll interval (seconds).
	DefaultTriggerPollSeconds = 15
	// DefaultSettleDelayMillis is the fallback settle delay (milliseconds).
	DefaultSettleDelayMillis = 1500
	// DefaultProxyCacheTTLSeconds is the fallback proxy cache TTL (seconds).
	DefaultProxyCacheTTLSeconds = 3600
)
