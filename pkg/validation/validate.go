// Package validation holds the input checks applied before a send is
// accepted. Checks here are about shape only; authorization and state
// gating live in the service layer.
package validation

import (
	"strings"

	"courier/pkg/apperr"
	"courier/pkg/models"
)

// DefaultMaxBodyLen caps message body length in characters.
const DefaultMaxBodyLen = 4000

var allowedMime = map[string]models.AttachmentKind{
	"image/jpeg":      models.AttachmentImage,
	"image/png":       models.AttachmentImage,
	"image/gif":       models.AttachmentImage,
	"image/webp":      models.AttachmentImage,
	"application/pdf": models.AttachmentPDF,
	"audio/mpeg":      models.AttachmentAudio,
	"audio/mp4":       models.AttachmentAudio,
	"audio/ogg":       models.AttachmentAudio,
	"audio/webm":      models.AttachmentAudio,
}

// KindForMime maps an upload MIME type to the attachment kind, or "" when
// the type is not accepted.
func KindForMime(mime string) models.AttachmentKind {
	return allowedMime[strings.ToLower(strings.TrimSpace(mime))]
}

// ValidateSend checks the shape of a send request: a message needs body
// text and/or an attachment, and the body must fit the cap.
func ValidateSend(body string, attachment *models.AttachmentRef, maxBodyLen int) error {
	if maxBodyLen <= 0 {
		maxBodyLen = DefaultMaxBodyLen
	}
	if strings.TrimSpace(body) == "" && attachment == nil {
		return apperr.New(apperr.Validation, "message needs body text or an attachment")
	}
	if len([]rune(body)) > maxBodyLen {
		return apperr.New(apperr.Validation, "body exceeds %d characters", maxBodyLen)
	}
	return nil
}

// ValidateUpload checks a presign request before an attachment ref is
// created.
func ValidateUpload(fileName, mime string, sizeBytes, maxBytes int64) (models.AttachmentKind, error) {
	if strings.TrimSpace(fileName) == "" {
		return "", apperr.New(apperr.Validation, "file name is required")
	}
	kind := KindForMime(mime)
	if kind == "" {
		return "", apperr.New(apperr.Validation, "unsupported mime type %q", mime)
	}
	if sizeBytes <= 0 {
		return "", apperr.New(apperr.Validation, "size_bytes must be positive")
	}
	if maxBytes > 0 && sizeBytes > maxBytes {
		return "", apperr.New(apperr.Validation, "attachment exceeds %d bytes", maxBytes)
	}
	return kind, nil
}
