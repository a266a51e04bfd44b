package chathub

import "sparkchat/backend/internal/models"

// Command types sent by the client.
const (
	CmdOpen              = "open"
	CmdClose             = "close"
	CmdSend              = "send"
	CmdTyping            = "typing"
	CmdRead              = "read"
	CmdReact             = "react"
	CmdDelete            = "delete"
	CmdAttachmentConfirm = "attachment_confirm"
	CmdAttachmentCancel  = "attachment_cancel"
	CmdVoiceStart        = "voice_start"
	CmdVoiceSend         = "voice_send"
	CmdVoiceCancel       = "voice_cancel"
	CmdCall              = "call"

	// CmdVoiceChunk names replies to binary frames.
	CmdVoiceChunk = "voice_chunk"
)

// Command is a text frame from the client. ID is echoed in the reply.
type Command struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	PeerID      string `json:"peer_id,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	ForEveryone bool   `json:"for_everyone,omitempty"`
	CallType    string `json:"call_type,omitempty"`
}

const (
	ReplyAck   = "ack"
	ReplyError = "error"
)

// Reply answers one Command.
type Reply struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Command string      `json:"command"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func ack(cmd Command, data interface{}) Reply {
	return Reply{Type: ReplyAck, ID: cmd.ID, Command: cmd.Type, Data: data}
}

func failure(cmd Command, err error) Reply {
	return Reply{Type: ReplyError, ID: cmd.ID, Command: cmd.Type, Code: models.ErrorCode(err), Error: err.Error()}
}
