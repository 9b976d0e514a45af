package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/luciancaetano/ddpbot"
)

// Date is the EJSON date encoding: {"$date": <milliseconds since epoch>}.
type Date struct {
	Millis int64 `json:"$date"`
}

// Time converts d to a time.Time. A nil date is the zero time.
func (d *Date) Time() time.Time {
	if d == nil {
		return time.Time{}
	}
	return time.UnixMilli(d.Millis).UTC()
}

type userDoc struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func (u *userDoc) user() ddpbot.User {
	return ddpbot.User{ID: u.ID, Username: u.Username, Name: u.Name}
}

type attachmentDoc struct {
	Title             string `json:"title"`
	Type              string `json:"type"`
	Description       string `json:"description"`
	TitleLink         string `json:"title_link"`
	TitleLinkDownload bool   `json:"title_link_download"`
	ImageURL          string `json:"image_url"`
	ImageType         string `json:"image_type"`
	ImageSize         int64  `json:"image_size"`
	ImageDimensions   *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"image_dimensions"`
}

type fileDoc struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type reactionDoc struct {
	Usernames []string `json:"usernames"`
}

type channelDoc struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// MessageDoc is the chat message document carried as the first element of a push's args.
type MessageDoc struct {
	ID          string                 `json:"_id"`
	RoomID      string                 `json:"rid"`
	Text        string                 `json:"msg"`
	Timestamp   *Date                  `json:"ts"`
	UpdatedAt   *Date                  `json:"_updatedAt"`
	EditedAt    *Date                  `json:"editedAt"`
	EditedBy    *userDoc               `json:"editedBy"`
	User        userDoc                `json:"u"`
	Attachments []attachmentDoc        `json:"attachments"`
	File        *fileDoc               `json:"file"`
	Mentions    []userDoc              `json:"mentions"`
	Channels    []channelDoc           `json:"channels"`
	Reactions   map[string]reactionDoc `json:"reactions"`
}

// RoomDoc is the room metadata carried as the second element of a push's args.
type RoomDoc struct {
	Participant bool   `json:"roomParticipant"`
	Type        string `json:"roomType"`
	Name        string `json:"roomName"`
}

// ParseChatEvent builds the immutable event view of a room-messages push.
func ParseChatEvent(f *Frame) (*ddpbot.ChatEvent, error) {
	cf, err := DecodeChanged(f)
	if err != nil {
		return nil, err
	}
	if len(cf.Args) == 0 {
		return nil, errors.New("push carries no message document")
	}

	var doc MessageDoc
	if err := json.Unmarshal(cf.Args[0], &doc); err != nil {
		return nil, fmt.Errorf("decode message document: %w", err)
	}

	var room RoomDoc
	if len(cf.Args) > 1 {
		if err := json.Unmarshal(cf.Args[1], &room); err != nil {
			return nil, fmt.Errorf("decode room document: %w", err)
		}
	}

	ev := &ddpbot.ChatEvent{
		Collection: f.Collection,
		EventName:  cf.EventName,
		ID:         doc.ID,
		Text:       doc.Text,
		RoomID:     doc.RoomID,
		Timestamp:  doc.Timestamp.Time(),
		UpdatedAt:  doc.UpdatedAt.Time(),
		Author:     doc.User.user(),
		Room: ddpbot.Room{
			Participant: room.Participant,
			Type:        room.Type,
			Name:        room.Name,
		},
	}

	if doc.EditedAt != nil {
		t := doc.EditedAt.Time()
		ev.EditedAt = &t
	}
	if doc.EditedBy != nil {
		u := doc.EditedBy.user()
		ev.EditedBy = &u
	}
	if doc.File != nil {
		ev.File = &ddpbot.File{ID: doc.File.ID, Name: doc.File.Name, Type: doc.File.Type}
	}

	if len(doc.Reactions) > 0 {
		ev.Reactions = make(map[string][]string, len(doc.Reactions))
		for emoji, r := range doc.Reactions {
			ev.Reactions[emoji] = append([]string(nil), r.Usernames...)
		}
	}

	for _, a := range doc.Attachments {
		att := ddpbot.Attachment{
			Title:             a.Title,
			Type:              a.Type,
			Description:       a.Description,
			TitleLink:         a.TitleLink,
			TitleLinkDownload: a.TitleLinkDownload,
			ImageURL:          a.ImageURL,
			ImageType:         a.ImageType,
			ImageSize:         a.ImageSize,
		}
		if a.ImageDimensions != nil {
			att.ImageWidth = a.ImageDimensions.Width
			att.ImageHeight = a.ImageDimensions.Height
		}
		ev.Attachments = append(ev.Attachments, att)
	}

	for _, m := range doc.Mentions {
		ev.Mentions = append(ev.Mentions, ddpbot.Mention{ID: m.ID, Name: m.Name, Username: m.Username})
	}
	for _, c := range doc.Channels {
		ev.Channels = append(ev.Channels, ddpbot.Channel{ID: c.ID, Name: c.Name})
	}

	return ev, nil
}
