package beepit

// Reserved channel names.
const (
	// DirectChannel is the rate-limit channel shared by all direct messages of a client.
	DirectChannel = "@direct"
)

// Error codes carried by outbound error frames.
const (
	CodeRateLimited      = "rate_limited"
	CodeUnknownRecipient = "unknown_recipient"
	CodeInternal         = "internal_error"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid message format"
	ErrUnknownFrameType     = "unknown frame type"
	ErrMissingTopic         = "topic is required"
	ErrMissingRecipient     = "recipient is required"

	// Connection errors
	ErrConnectionClosed     = "connection is closed"
	ErrServerAlreadyRunning = "server already running"
	ErrTooManyConnections   = "too many connections"
	ErrShuttingDown         = "server is shutting down"
)

// WebSocket close codes used by the server (RFC 6455 section 7.4.1).
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseInternalError = 1011
	CloseTryAgainLater = 1013
)
