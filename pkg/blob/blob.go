// Package blob is the boundary to the attachment storage collaborator. The
// core never stores attachment bytes; it asks a Presigner for an upload
// target and keeps only the resulting storage key.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"courier/pkg/apperr"
)

// PresignRequest describes the object a client wants to upload.
type PresignRequest struct {
	Scope     string `json:"scope"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Presigned is the upload target the collaborator hands back.
type Presigned struct {
	UploadURL  string `json:"upload_url"`
	StorageKey string `json:"storage_key"`
	// PublicURL is empty for private objects
	PublicURL string `json:"public_url,omitempty"`
}

// Presigner is implemented by the external storage collaborator.
type Presigner interface {
	PresignUpload(req PresignRequest) (Presigned, error)
}

// LocalDisk is a development Presigner that points uploads at the server's
// own /v1/blobs/ PUT endpoint and stores bytes under a local directory.
type LocalDisk struct {
	Dir     string
	BaseURL string
}

func NewLocalDisk(dir, baseURL string) (*LocalDisk, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalDisk{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalDisk) PresignUpload(req PresignRequest) (Presigned, error) {
	key := fmt.Sprintf("%s/%s-%s", req.Scope, uuid.NewString(), sanitize(req.FileName))
	return Presigned{
		UploadURL:  l.BaseURL + "/" + key,
		StorageKey: key,
	}, nil
}

// Put stores uploaded bytes under the storage key.
func (l *LocalDisk) Put(key string, r io.Reader) error {
	if !validKey(key) {
		return apperr.New(apperr.Validation, "invalid storage key")
	}
	path := filepath.Join(l.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// Open returns a reader for the stored object.
func (l *LocalDisk) Open(key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, apperr.New(apperr.Validation, "invalid storage key")
	}
	f, err := os.Open(filepath.Join(l.Dir, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, apperr.New(apperr.NotFound, "object %s not found", key)
	}
	return f, err
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

func validKey(key string) bool {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return false
	}
	return true
}
