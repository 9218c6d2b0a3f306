package attachment

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// extension types the platform mime table often lacks.
var extensionMediaTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".py":       "text/x-python",
	".sh":       "application/x-sh",
	".js":       "text/javascript",
	".mjs":      "text/javascript",
	".json":     "application/json",
	".xml":      "application/xml",
	".webp":     "image/webp",
	".txt":      "text/plain",
}

// File is a Descriptor backed by a file on disk.
type File struct {
	path      string
	mediaType string
	size      int64
}

// FileDescriptor stats path and infers its media type from the extension,
// falling back to content sniffing.
func FileDescriptor(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ReadError{Name: filepath.Base(path), Err: err}
	}
	if info.IsDir() {
		return nil, &ValidationError{Name: filepath.Base(path), Reason: "is a directory"}
	}

	mediaType := MediaTypeByName(path)
	if mediaType == "" {
		mediaType = sniffFile(path)
	}
	return &File{path: path, mediaType: mediaType, size: info.Size()}, nil
}

func (f *File) Name() string                 { return filepath.Base(f.path) }
func (f *File) MediaType() string            { return f.mediaType }
func (f *File) Size() int64                  { return f.size }
func (f *File) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// Upload is a Descriptor backed by a multipart form file.
type Upload struct {
	header *multipart.FileHeader
}

// MultipartDescriptor wraps an uploaded form file. The browser-declared
// Content-Type wins; the file name is the fallback.
func MultipartDescriptor(header *multipart.FileHeader) *Upload {
	return &Upload{header: header}
}

func (u *Upload) Name() string { return u.header.Filename }
func (u *Upload) Size() int64  { return u.header.Size }

func (u *Upload) MediaType() string {
	if ct := u.header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if mt := MediaTypeByName(u.header.Filename); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (u *Upload) Open() (io.ReadCloser, error) { return u.header.Open() }

// MediaTypeByName maps a file name to a media type, or "" when unknown.
func MediaTypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensionMediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return baseMediaType(mt)
	}
	return ""
}

func sniffFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return baseMediaType(http.DetectContentType(head[:n]))
}

// Blob is a Descriptor over bytes already in memory.
type Blob struct {
	name      string
	mediaType string
	data      []byte
}

// BlobDescriptor wraps in-memory content. An empty mediaType is inferred
// from the name, then from the content.
func BlobDescriptor(name, mediaType string, data []byte) *Blob {
	if mediaType == "" {
		mediaType = MediaTypeByName(name)
	}
	if mediaType == "" {
		mediaType = baseMediaType(http.DetectContentType(data))
	}
	return &Blob{name: name, mediaType: mediaType, data: data}
}

func (b *Blob) Name() string      { return b.name }
func (b *Blob) MediaType() string { return b.mediaType }
func (b *Blob) Size() int64       { return int64(len(b.data)) }

func (b *Blob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
