package uploads

import (
	"bufio"
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
)

// StoredFile describes an image written to the uploads directory.
type StoredFile struct {
	Filename string
	MimeType string
	Size     int64
}

// Store persists listing images.
type Store interface {
	Save(ctx context.Context, src io.Reader) (StoredFile, error)
	Remove(ctx context.Context, filename string) error
}

// LocalStore keeps images on the local filesystem under a single directory.
type LocalStore struct {
	dir      string
	maxBytes int64
}

// NewLocalStore creates the uploads directory when it does not exist.
func NewLocalStore(cfg config.UploadsConfig) (*LocalStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("uploads dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir %q: %w", dir, err)
	}
	return &LocalStore{dir: dir, maxBytes: cfg.MaxBytes()}, nil
}

// Dir returns the directory images are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Path resolves a stored filename to its location on disk.
func (s *LocalStore) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Save sniffs the image type, streams the content to a temp file and renames
// it to <uuid><ext> once the size limit has been checked.
func (s *LocalStore) Save(ctx context.Context, src io.Reader) (StoredFile, error) {
	if src == nil {
		return StoredFile{}, pkgerrors.New(pkgerrors.CodeValidation, "picture is required")
	}

	br := bufio.NewReaderSize(src, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !stdErrors.Is(err, io.EOF) && !stdErrors.Is(err, bufio.ErrBufferFull) {
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read picture")
	}
	if len(head) == 0 {
		return StoredFile{}, pkgerrors.New(pkgerrors.CodeValidation, "picture is empty")
	}
	mimeType, ext, err := sniffImage(head)
	if err != nil {
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeUnsupportedMedia, err, err.Error())
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create temp upload")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, io.LimitReader(&ctxReader{ctx: ctx, r: br}, s.maxBytes+1))
	if err != nil {
		cleanup()
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write upload")
	}
	if written > s.maxBytes {
		cleanup()
		return StoredFile{}, pkgerrors.Newf(pkgerrors.CodePayloadTooLarge, "picture exceeds %d bytes", s.maxBytes)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close upload")
	}

	filename := uuid.NewString() + ext
	if err := os.Rename(tmpName, s.Path(filename)); err != nil {
		_ = os.Remove(tmpName)
		return StoredFile{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalize upload")
	}

	return StoredFile{Filename: filename, MimeType: mimeType, Size: written}, nil
}

// Remove deletes a stored image. A file that is already gone is not an error.
func (s *LocalStore) Remove(_ context.Context, filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	if err := os.Remove(s.Path(filename)); err != nil && !stdErrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload %q: %w", filename, err)
	}
	return nil
}

// Open returns a stored image for reading. Unknown files map to NotFound.
func (s *LocalStore) Open(filename string) (*os.File, error) {
	if err := validateFilename(filename); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
	}
	f, err := os.Open(s.Path(filename))
	if err != nil {
		if stdErrors.Is(err, fs.ErrNotExist) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "image not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open image")
	}
	return f, nil
}

// validateFilename accepts only names Save produces: a uuid followed by one of
// the image extensions. Temp uploads and foreign files never resolve.
func validateFilename(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid upload filename %q", name)
	}
	ext := filepath.Ext(name)
	if !knownExtension(ext) {
		return fmt.Errorf("invalid upload filename %q", name)
	}
	if _, err := uuid.Parse(strings.TrimSuffix(name, ext)); err != nil {
		return fmt.Errorf("invalid upload filename %q", name)
	}
	return nil
}

// ctxReader stops a long copy once the request context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
