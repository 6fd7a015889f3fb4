// Package attachment validates image files and turns them into references
// that can be stored on a turn and sent to the completion endpoint.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"senteros-chat/internal/locale"
)

// Mode decides what a prepared reference points at
type Mode string

const (
	// ModeInline embeds the file as a data URL
	ModeInline Mode = "inline"
	// ModeUpload writes the file under the upload directory
	ModeUpload Mode = "upload"
)

const (
	DefaultMaxBytes        = 5 << 20
	DefaultPreviewMaxBytes = 1 << 20
	DefaultPublicPrefix    = "/uploads/"

	// AvatarPrefix is the subdirectory used for profile pictures
	AvatarPrefix = "avatars/"

	sniffLen = 512
)

// Constraint names reported by ValidationError
const (
	ConstraintType = "type"
	ConstraintSize = "size"
)

var (
	// ErrNotUpload is returned by Resolve for references outside the upload prefix
	ErrNotUpload = errors.New("reference is not an uploaded file")
)

// ValidationError reports which constraint a file failed
type ValidationError struct {
	Constraint string
	MIMEType   string
	Size       int64
	Limit      int64
}

func (e *ValidationError) Error() string {
	if e.Constraint == ConstraintSize {
		return fmt.Sprintf("attachment exceeds %d bytes", e.Limit)
	}
	return fmt.Sprintf("attachment type %q is not an image", e.MIMEType)
}

// MessageKey returns the locale key describing the failure
func (e *ValidationError) MessageKey() string {
	if e.Constraint == ConstraintSize {
		return locale.AttachmentSize
	}
	return locale.AttachmentType
}

// Reference is a prepared attachment
type Reference struct {
	URL      string `json:"url"`
	Preview  string `json:"preview,omitempty"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Options configures a Pipeline
type Options struct {
	Mode            Mode
	Dir             string
	PublicPrefix    string
	MaxBytes        int64
	PreviewMaxBytes int64
}

// Pipeline prepares attachments
type Pipeline struct {
	opts   Options
	prefix string
}

// New creates a pipeline. Upload mode creates Dir when missing.
func New(opts Options) (*Pipeline, error) {
	if opts.Mode == "" {
		opts.Mode = ModeInline
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.PreviewMaxBytes <= 0 {
		opts.PreviewMaxBytes = DefaultPreviewMaxBytes
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = DefaultPublicPrefix
	}
	if !strings.HasSuffix(opts.PublicPrefix, "/") {
		opts.PublicPrefix += "/"
	}

	switch opts.Mode {
	case ModeInline:
	case ModeUpload:
		if opts.Dir == "" {
			return nil, fmt.Errorf("attachment: upload mode requires a directory")
		}
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("attachment: create upload dir: %w", err)
		}
	default:
		return nil, fmt.Errorf("attachment: unknown mode %q", opts.Mode)
	}

	return &Pipeline{opts: opts}, nil
}

// Mode returns the configured mode
func (p *Pipeline) Mode() Mode {
	return p.opts.Mode
}

// MaxBytes returns the size limit
func (p *Pipeline) MaxBytes() int64 {
	return p.opts.MaxBytes
}

// WithPrefix returns a pipeline that stores uploads under a subdirectory.
// Inline pipelines are returned unchanged in behavior.
func (p *Pipeline) WithPrefix(prefix string) *Pipeline {
	clone := *p
	clone.prefix = ""
	if trimmed := strings.Trim(prefix, "/"); trimmed != "" {
		clone.prefix = trimmed + "/"
	}
	return &clone
}

// Prepare validates the file and returns its reference
func (p *Pipeline) Prepare(filename string, r io.Reader) (Reference, error) {
	log.Printf("[Attachment] Prepare started filename=%s mode=%s", filename, p.opts.Mode)

	data, err := io.ReadAll(io.LimitReader(r, p.opts.MaxBytes+1))
	if err != nil {
		log.Printf("[Attachment] Prepare failed: read err=%v", err)
		return Reference{}, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > p.opts.MaxBytes {
		log.Printf("[Attachment] Prepare rejected: too large filename=%s limit=%d", filename, p.opts.MaxBytes)
		return Reference{}, &ValidationError{Constraint: ConstraintSize, Size: int64(len(data)), Limit: p.opts.MaxBytes}
	}

	mimeType := DetectType(filename, data)
	if !strings.HasPrefix(mimeType, "image/") {
		log.Printf("[Attachment] Prepare rejected: type=%s filename=%s", mimeType, filename)
		return Reference{}, &ValidationError{Constraint: ConstraintType, MIMEType: mimeType, Size: int64(len(data)), Limit: p.opts.MaxBytes}
	}

	ref := Reference{MIMEType: mimeType, Size: int64(len(data))}

	if p.opts.Mode == ModeInline {
		ref.URL = DataURL(mimeType, data)
		ref.Preview = ref.URL
		log.Printf("[Attachment] Prepare completed mode=inline size=%d", ref.Size)
		return ref, nil
	}

	name := uuid.NewString() + extensionFor(mimeType, filename)
	dir := p.opts.Dir
	if p.prefix != "" {
		dir = filepath.Join(dir, filepath.FromSlash(p.prefix))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Reference{}, fmt.Errorf("create attachment dir: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		log.Printf("[Attachment] Prepare failed: write err=%v", err)
		return Reference{}, fmt.Errorf("store attachment: %w", err)
	}

	ref.URL = p.opts.PublicPrefix + p.prefix + name
	if ref.Size <= p.opts.PreviewMaxBytes {
		ref.Preview = DataURL(mimeType, data)
	}

	log.Printf("[Attachment] Prepare completed mode=upload url=%s size=%d", ref.URL, ref.Size)
	return ref, nil
}

// Resolve turns a stored reference into something a remote model can read.
// Data URLs and absolute URLs pass through; uploaded files become data URLs.
func (p *Pipeline) Resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}

	file, err := p.Path(ref)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return DataURL(DetectType(file, data), data), nil
}

// Path maps a public upload reference to its file on disk
func (p *Pipeline) Path(ref string) (string, error) {
	if p.opts.Dir == "" || !strings.HasPrefix(ref, p.opts.PublicPrefix) {
		return "", ErrNotUpload
	}
	rel := path.Clean(strings.TrimPrefix(ref, p.opts.PublicPrefix))
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", ErrNotUpload
	}
	return filepath.Join(p.opts.Dir, filepath.FromSlash(rel)), nil
}

// DetectType sniffs the content and falls back to the file extension
// when the content alone is inconclusive.
func DetectType(filename string, data []byte) string {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	detected, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	if detected != "application/octet-stream" {
		return detected
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		t, _, _ := mime.ParseMediaType(byExt)
		return t
	}
	return detected
}

// DataURL encodes data as a base64 data URL
func DataURL(mimeType string, data []byte) string {
	var b bytes.Buffer
	b.Grow(len(data)*4/3 + len(mimeType) + 16)
	b.WriteString("data:")
	b.WriteString(mimeType)
	b.WriteString(";base64,")
	enc := base64.NewEncoder(base64.StdEncoding, &b)
	enc.Write(data)
	enc.Close()
	return b.String()
}

var preferredExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

func extensionFor(mimeType, filename string) string {
	if ext, ok := preferredExt[mimeType]; ok {
		return ext
	}
	return strings.ToLower(filepath.Ext(filename))
}
