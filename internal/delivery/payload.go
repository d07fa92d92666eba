package delivery

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
)

// Message is the notification service wire shape:
// {"msgtype": <kind>, <kind>: <payload>}.
type Message struct {
	MsgType string        `json:"msgtype"`
	Text    *TextPayload  `json:"text,omitempty"`
	Image   *ImagePayload `json:"image,omitempty"`
	File    *FilePayload  `json:"file,omitempty"`
}

type TextPayload struct {
	Content       string   `json:"content"`
	MentionedList []string `json:"mentioned_list,omitempty"`
}

type ImagePayload struct {
	Base64 string `json:"base64"`
	MD5    string `json:"md5"`
}

type FilePayload struct {
	MediaID string `json:"media_id"`
}

// NewTextMessage builds a text notification mentioning the given users.
func NewTextMessage(content string, mentioned []string) Message {
	return Message{
		MsgType: "text",
		Text:    &TextPayload{Content: content, MentionedList: mentioned},
	}
}

// NewImageMessage encodes raw image bytes with their integrity checksum.
func NewImageMessage(data []byte) Message {
	sum := md5.Sum(data)
	return Message{
		MsgType: "image",
		Image: &ImagePayload{
			Base64: base64.StdEncoding.EncodeToString(data),
			MD5:    hex.EncodeToString(sum[:]),
		},
	}
}

// NewFileMessage references a previously uploaded attachment.
func NewFileMessage(mediaID string) Message {
	return Message{
		MsgType: "file",
		File:    &FilePayload{MediaID: mediaID},
	}
}
