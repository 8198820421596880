package webhook

import "github.com/tinyland-inc/nanoclaw/pkg/events"

// Cloud API notification envelope, reduced to the fields this bot consumes.
type payload struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Messages         []message `json:"messages"`
}

type message struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	Timestamp string     `json:"timestamp"`
	Type      string     `json:"type"`
	Text      *textBody  `json:"text,omitempty"`
	Image     *mediaBody `json:"image,omitempty"`
	Document  *mediaBody `json:"document,omitempty"`
	Audio     *mediaBody `json:"audio,omitempty"`
	Voice     *mediaBody `json:"voice,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// messages flattens the envelope into the contained provider messages.
func (p *payload) messages() []message {
	var out []message
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Messages...)
		}
	}
	return out
}

func (m message) toEvent() events.Inbound {
	ev := events.Inbound{
		MessageID: m.ID,
		From:      m.From,
		Type:      events.ParseType(m.Type),
		RawType:   m.Type,
	}
	switch ev.Type {
	case events.TypeText:
		if m.Text != nil {
			ev.Text = m.Text.Body
		}
	case events.TypeImage:
		if m.Image != nil {
			ev.MediaID = m.Image.ID
			ev.Caption = m.Image.Caption
		}
	case events.TypeDocument:
		if m.Document != nil {
			ev.MediaID = m.Document.ID
		}
	case events.TypeAudio:
		if m.Audio != nil {
			ev.MediaID = m.Audio.ID
		}
	case events.TypeVoice:
		if m.Voice != nil {
			ev.MediaID = m.Voice.ID
		}
	}
	return ev
}
