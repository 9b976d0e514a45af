package ddpbot

import (
	"context"
	"encoding/json"
)

// Client defines the operations a running session exposes to command and match handlers.
//
// A Client is backed by one persistent websocket speaking the DDP realtime protocol plus an
// authenticated REST channel used for file transfers. All methods are safe for concurrent use;
// handlers run in their own goroutines and may call them freely.
//
// Example usage:
//
//	func ping(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, _ ddpbot.Args) (string, error) {
//	    if _, err := c.SendMessage(ctx, ev.RoomID, "pong"); err != nil {
//	        return "", err
//	    }
//	    return "", nil
//	}
type Client interface {
	// SendRequest queues a frame of the given type carrying a fresh correlation id and blocks
	// until the matching response frame arrives or ctx is done.
	//
	// The payload must marshal to a JSON object; its fields are merged into the frame next to
	// "msg" and "id". The returned value is the raw "result" of the response, or nil for a
	// rejected subscription.
	SendRequest(ctx context.Context, msgType string, payload any) (json.RawMessage, error)

	// Call performs a DDP method call and returns its raw result.
	//
	// A result frame carrying an error object is returned as a *MethodError.
	//
	// Example:
	//
	//	raw, err := client.Call(ctx, "getRoomRoles", roomID)
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// SendFireAndForget queues a frame that expects no reply, such as a keepalive "pong".
	SendFireAndForget(ctx context.Context, msgType string, payload any) error

	// SendMessage posts text to a room and returns the generated message id.
	SendMessage(ctx context.Context, roomID, text string) (string, error)

	// UploadFile uploads a local file to a room over the REST channel.
	//
	// Returns an error wrapping fs.ErrNotExist when path does not exist, and an *HTTPError
	// when the server answers with a non-success status.
	UploadFile(ctx context.Context, roomID, path string) error

	// DownloadAttachment downloads url (absolute or relative to the server) into destPath using
	// the authenticated REST channel. Absolute URLs must point at the chat server itself; other
	// origins are refused without sending a request.
	//
	// Returns an *HTTPError when the server answers with a non-success status.
	DownloadAttachment(ctx context.Context, url, destPath string) error

	// UserID returns the id of the logged-in account, or "" before login completes.
	UserID() string
}

// CommandHandler handles one parsed command invocation.
//
// A non-empty returned string is sent to the room the command came from. A returned error is
// logged by the dispatcher; nothing is sent on the handler's behalf.
type CommandHandler func(ctx context.Context, client Client, event *ChatEvent, args Args) (string, error)

// MatchHandler handles one message matching a registered pattern.
//
// It follows the same reply contract as CommandHandler.
type MatchHandler func(ctx context.Context, client Client, event *ChatEvent) (string, error)

// CommandSpec describes a registered command.
type CommandSpec struct {
	// Name is the command token typed after the prefix. Unique within a registry.
	Name string
	// Args are the positional arguments, in order.
	Args []ArgSpec
	// Help is the one-line description shown by the help listing.
	Help string
	// Rooms restricts the command to these room ids. Empty means every room.
	Rooms []string
}

// VisibleIn reports whether the command may be used in roomID.
func (s CommandSpec) VisibleIn(roomID string) bool {
	if len(s.Rooms) == 0 {
		return true
	}
	for _, r := range s.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}
