package constants

import "time"

const (
	// Exchange is the shared topic exchange all updates flow through.
	Exchange = "chatapp.updates"

	// RoutingKeyPrefix is the leading segment of every routing key.
	RoutingKeyPrefix = "user"

	OwnerQueuePrefix = "chatapp.updates."
	BotQueueName     = "chatapp.bots"
	RelayQueueName   = "chatapp.relay"
)

const (
	// Retention window for per-owner queues: undelivered updates survive a
	// disconnect up to these bounds, owned by the broker via queue arguments.
	DefaultQueueTTL    = time.Hour
	DefaultQueueExpiry = time.Hour
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultDedupSize      = 1000
	DefaultTypingCacheTTL = 5 * time.Minute
	DefaultTypingCacheLen = 1024
	DefaultSendBuffer     = 256
)

const (
	SessionKeyPrefix = "session:"
)

const (
	// DialogTypeTag marks a dialog as a direct external-contact channel.
	DialogTypeTag = "channel-direct"

	ClassifyStatusKey = "classifyStatus"
)
