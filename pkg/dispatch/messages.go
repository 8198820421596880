package dispatch

// User-facing notifications. Every failure category produces exactly one
// short message per offending event.
const (
	msgDocumentUnsupported = "For now we only support images, not documents 😅"
	msgAudioUnsupported    = "For now we only support text and images 📝🖼️"
	msgUnsupportedFmt      = "Message type '%s' is not supported yet 🤔"
	msgMediaExpired        = "❌ That image is no longer available. Please send it again."
	msgMediaFailed         = "❌ I couldn't download your image. Please try again."
	msgProcessingFailed    = "❌ Something went wrong processing your message. Please try again."
	msgEngineFailed        = "❌ Something went wrong writing a reply. Please try again."

	// System note appended when an input image is stored.
	msgImageNoteFmt = "User sent image #%d (%s)."
)
