package ddpbot

// DDP frame types, carried in the "msg" field.
const (
	MsgConnect   = "connect"
	MsgConnected = "connected"
	MsgFailed    = "failed"
	MsgPing      = "ping"
	MsgPong      = "pong"
	MsgMethod    = "method"
	MsgResult    = "result"
	MsgSub       = "sub"
	MsgReady     = "ready"
	MsgNoSub     = "nosub"
	MsgChanged   = "changed"
	MsgAdded     = "added"
	MsgUpdated   = "updated"
	MsgRemoved   = "removed"
	MsgError     = "error"
)

// Protocol negotiation.
const (
	DDPVersion = "1"
)

// Chat stream the bot subscribes to.
const (
	StreamRoomMessages = "stream-room-messages"
	EventMyMessages    = "__my_messages__"
)

// Realtime API methods.
const (
	MethodLogin       = "login"
	MethodSendMessage = "sendMessage"
)

// Reserved command name answered by the dispatcher itself.
const HelpCommand = "help"

// Standard error messages
const (
	// Protocol errors
	ErrMsgInvalidFrame   = "invalid frame"
	ErrMsgUnknownRequest = "response for unknown request id"
	ErrMsgUnhandledFrame = "unhandled frame"

	// Connection errors
	ErrMsgConnectionClosed = "connection is closed"
	ErrMsgNotAuthenticated = "rest channel not authenticated"
	ErrMsgHandshakeFailed  = "handshake failed"
	ErrMsgFailedToEncode   = "failed to encode frame"

	// Dispatch replies
	ReplyInvalidCommand = "invalid command: `%s`"
)
