// Package attachment validates user-selected files and encodes them into
// data-URI attachments.
package attachment

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/ashureev/chatxai/internal/domain"
)

// MaxFileSize is the largest file accepted as an attachment (4 MiB).
const MaxFileSize = 4 << 20

var supportedMediaTypes = map[string]struct{}{
	"image/jpeg":       {},
	"image/png":        {},
	"image/webp":       {},
	"text/plain":       {},
	"text/markdown":    {},
	"text/html":        {},
	"text/css":         {},
	"text/javascript":  {},
	"application/json": {},
	"application/xml":  {},
	"text/x-python":    {},
	"application/x-sh": {},
}

var errTooLarge = errors.New("content exceeds maximum attachment size")

// Descriptor describes a file the user picked without reading it.
type Descriptor interface {
	Name() string
	MediaType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// ValidationError reports a file rejected before any read happened.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attachment %q rejected: %s", e.Name, e.Reason)
}

// ReadError reports a file that passed validation but could not be read.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read attachment %q: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsSupported reports whether mediaType is on the allow-list. Parameters
// such as charset are ignored.
func IsSupported(mediaType string) bool {
	_, ok := supportedMediaTypes[baseMediaType(mediaType)]
	return ok
}

// Validate checks size and media type. It never touches file content.
func Validate(d Descriptor) error {
	if d.Size() > MaxFileSize {
		return &ValidationError{
			Name:   d.Name(),
			Reason: fmt.Sprintf("file is too large, maximum size is %dMB", MaxFileSize/1024/1024),
		}
	}
	if !IsSupported(d.MediaType()) {
		return &ValidationError{
			Name:   d.Name(),
			Reason: fmt.Sprintf("unsupported file type: %s", d.MediaType()),
		}
	}
	return nil
}

// Encode reads the whole file and returns it as a data-URI attachment.
func Encode(ctx context.Context, d Descriptor) (*domain.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReadError{Name: d.Name(), Err: err}
	}

	rc, err := d.Open()
	if err != nil {
		return nil, &ReadError{Name: d.Name(), Err: err}
	}
	defer func() { _ = rc.Close() }()

	// Read one byte past the ceiling so an understated Size is caught.
	raw, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, &ReadError{Name: d.Name(), Err: err}
	}
	if len(raw) > MaxFileSize {
		return nil, &ReadError{Name: d.Name(), Err: errTooLarge}
	}

	mediaType := baseMediaType(d.MediaType())
	return &domain.Attachment{
		Name:      d.Name(),
		MediaType: mediaType,
		Data:      DataURI(mediaType, raw),
	}, nil
}

// Prepare validates then encodes d.
func Prepare(ctx context.Context, d Descriptor) (*domain.Attachment, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	return Encode(ctx, d)
}

// DataURI builds "data:<mediaType>;base64,<payload>".
func DataURI(mediaType string, raw []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func baseMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	return strings.ToLower(mediaType)
}
