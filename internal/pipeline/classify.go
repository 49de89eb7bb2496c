package pipeline

import "github.com/aldihidayat35/billey-waapi-v2/pkg/protocol"

// MessageKind is the classified shape of a protocol message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindGif      MessageKind = "gif"
	KindSticker  MessageKind = "sticker"
	KindDocument MessageKind = "document"
	KindAudio    MessageKind = "audio"
	KindVoice    MessageKind = "voice"
	KindContact  MessageKind = "contact"
	KindLocation MessageKind = "location"
	KindUnknown  MessageKind = "unknown"
)

// IsMedia reports whether the kind carries downloadable media.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindGif, KindSticker, KindDocument, KindAudio, KindVoice:
		return true
	}
	return false
}

// Classify probes the payload's variant fields and returns its kind.
// Unrecognized shapes classify as KindUnknown, never an error.
func Classify(m *protocol.MessagePayload) MessageKind {
	switch {
	case m.Conversation != "" || m.Extended != nil:
		return KindText
	case m.Image != nil:
		return KindImage
	case m.Video != nil:
		if m.Video.GifPlayback {
			return KindGif
		}
		return KindVideo
	case m.Sticker != nil:
		return KindSticker
	case m.Document != nil:
		return KindDocument
	case m.Audio != nil:
		if m.Audio.PTT {
			return KindVoice
		}
		return KindAudio
	case m.Contact != nil:
		return KindContact
	case m.Location != nil:
		return KindLocation
	}
	return KindUnknown
}

// Content extracts the human-readable text for a payload: the message
// body for text, the caption for captioned media, the display name or
// filename otherwise. Empty for unknown shapes.
func Content(m *protocol.MessagePayload) string {
	switch {
	case m.Conversation != "":
		return m.Conversation
	case m.Extended != nil:
		return m.Extended.Text
	case m.Image != nil:
		return m.Image.Caption
	case m.Video != nil:
		return m.Video.Caption
	case m.Document != nil:
		if m.Document.Caption != "" {
			return m.Document.Caption
		}
		return m.Document.FileName
	case m.Contact != nil:
		return m.Contact.DisplayName
	case m.Location != nil:
		if m.Location.Name != "" {
			return m.Location.Name
		}
		return "Location"
	}
	return ""
}

// MediaRef describes the media attachment of a classified message.
type MediaRef struct {
	URL      string
	Mimetype string
	Filename string
	Size     int64
}

// Media extracts the attachment reference, nil for non-media kinds.
func Media(m *protocol.MessagePayload) *MediaRef {
	switch {
	case m.Image != nil:
		return &MediaRef{URL: m.Image.URL, Mimetype: m.Image.Mimetype, Filename: "image", Size: m.Image.Size}
	case m.Video != nil:
		return &MediaRef{URL: m.Video.URL, Mimetype: m.Video.Mimetype, Filename: "video", Size: m.Video.Size}
	case m.Sticker != nil:
		return &MediaRef{URL: m.Sticker.URL, Mimetype: m.Sticker.Mimetype, Filename: "sticker", Size: m.Sticker.Size}
	case m.Audio != nil:
		return &MediaRef{URL: m.Audio.URL, Mimetype: m.Audio.Mimetype, Filename: "audio", Size: m.Audio.Size}
	case m.Document != nil:
		name := m.Document.FileName
		if name == "" {
			name = "document"
		}
		return &MediaRef{URL: m.Document.URL, Mimetype: m.Document.Mimetype, Filename: name, Size: m.Document.Size}
	}
	return nil
}
