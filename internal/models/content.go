package models

import "strings"

// ContentKind tells renderers how to display a message body.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindImage     ContentKind = "image"
	KindVideo     ContentKind = "video"
	KindAudio     ContentKind = "audio"
	KindVoice     ContentKind = "voice"
	KindTombstone ContentKind = "tombstone"
)

// Attachment tags are part of the wire format shared with other clients and must stay bit-exact.
const (
	TagImage = "[IMAGE]"
	TagVideo = "[VIDEO]"
	TagAudio = "[AUDIO]"
	TagVoice = "[VOICE]"
)

var kindTags = []struct {
	kind ContentKind
	tag  string
}{
	{KindImage, TagImage},
	{KindVideo, TagVideo},
	{KindAudio, TagAudio},
	{KindVoice, TagVoice},
}

// IsAttachment reports whether the kind is carried as a tagged URL.
func (k ContentKind) IsAttachment() bool {
	return k == KindImage || k == KindVideo || k == KindAudio || k == KindVoice
}

// EncodeAttachment produces the "[KIND]<url>" content string. There is no separator.
func EncodeAttachment(kind ContentKind, url string) string {
	for _, kt := range kindTags {
		if kt.kind == kind {
			return kt.tag + url
		}
	}
	return url
}

// ParseContent splits a stored content string into its kind and payload
// (the URL for attachments, the text otherwise).
func ParseContent(content string) (ContentKind, string) {
	for _, kt := range kindTags {
		if strings.HasPrefix(content, kt.tag) {
			return kt.kind, content[len(kt.tag):]
		}
	}
	return KindText, content
}
