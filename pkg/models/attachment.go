package models

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentAudio AttachmentKind = "audio"
)

type AttachmentStatus string

const (
	AttachmentUploaded  AttachmentStatus = "uploaded"
	AttachmentValidated AttachmentStatus = "validated"
	AttachmentRejected  AttachmentStatus = "rejected"
	AttachmentDeleted   AttachmentStatus = "deleted"
)

// AttachmentRef describes an object held by the external storage
// collaborator. The ref is created before the message that binds it; the
// core only stores and echoes back the storage key.
type AttachmentRef struct {
	ID         string           `json:"id"`
	Kind       AttachmentKind   `json:"kind"`
	Status     AttachmentStatus `json:"status"`
	FileName   string           `json:"file_name"`
	MimeType   string           `json:"mime_type"`
	SizeBytes  int64            `json:"size_bytes"`
	StorageKey string           `json:"storage_key"`
	// DurationMs is set for audio only
	DurationMs int64 `json:"duration_ms,omitempty"`
	CreatedTS  int64 `json:"created_ts"`
}

// Label is the preview text shown when an attachment stands in for body
// text (latest-message previews in thread lists).
func (a AttachmentRef) Label() string {
	switch a.Kind {
	case AttachmentAudio:
		return "audio note"
	case AttachmentPDF:
		return "pdf: " + a.FileName
	default:
		return "image: " + a.FileName
	}
}
