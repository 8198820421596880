// Package events defines the inbound event variant the webhook boundary
// hands to the dispatcher.
package events

// Type is the closed set of inbound message kinds. Anything the provider
// sends outside this set is mapped to TypeUnsupported with the provider's
// original type string preserved in RawType.
type Type string

const (
	TypeText        Type = "text"
	TypeImage       Type = "image"
	TypeDocument    Type = "document"
	TypeAudio       Type = "audio"
	TypeVoice       Type = "voice"
	TypeUnsupported Type = "unsupported"
)

// Inbound is one provider notification, normalized. Exactly one of the
// payload fields is meaningful depending on Type: Text for text events,
// MediaID (+ optional Caption) for image events.
type Inbound struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Type      Type   `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	Caption   string `json:"caption,omitempty"`
	RawType   string `json:"raw_type,omitempty"`
}

// ParseType maps a provider type string onto the closed variant.
func ParseType(s string) Type {
	switch s {
	case "text":
		return TypeText
	case "image":
		return TypeImage
	case "document":
		return TypeDocument
	case "audio":
		return TypeAudio
	case "voice":
		return TypeVoice
	default:
		return TypeUnsupported
	}
}
