package ddpbot

import "time"

// User identifies a chat account.
type User struct {
	ID       string
	Username string
	Name     string
}

// Attachment is a rich attachment on a message, typically an uploaded image.
type Attachment struct {
	Title             string
	Type              string
	Description       string
	TitleLink         string
	TitleLinkDownload bool
	ImageURL          string
	ImageType         string
	ImageSize         int64
	ImageWidth        int
	ImageHeight       int
}

// File is the file uploaded together with a message.
type File struct {
	ID   string
	Name string
	Type string
}

// Mention is a user mentioned in a message.
type Mention struct {
	ID       string
	Name     string
	Username string
}

// Channel is a channel referenced in a message.
type Channel struct {
	ID   string
	Name string
}

// Room carries the room metadata pushed alongside a message.
//
// Type is one of "d" (direct), "c" (chat), "p" (private) or "l" (livechat).
type Room struct {
	Participant bool
	Type        string
	Name        string
}

// ChatEvent is an immutable view of one message pushed on the subscribed chat stream.
type ChatEvent struct {
	Collection string
	EventName  string

	ID        string
	Text      string
	RoomID    string
	Timestamp time.Time
	UpdatedAt time.Time
	Author    User

	// EditedAt is nil unless the message was edited.
	EditedAt *time.Time
	EditedBy *User

	// Reactions maps an emoji to the usernames that reacted with it.
	Reactions   map[string][]string
	Attachments []Attachment
	File        *File
	Mentions    []Mention
	Channels    []Channel
	Room        Room
}

// Edited reports whether the event carries an edit timestamp.
func (e *ChatEvent) Edited() bool {
	return e.EditedAt != nil
}

// HasReactions reports whether anyone reacted to the message.
func (e *ChatEvent) HasReactions() bool {
	return len(e.Reactions) > 0
}
