package uploads

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawfinds/pawfinds-backend/pkg/config"
	pkgerrors "github.com/pawfinds/pawfinds-backend/pkg/errors"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newStore(t *testing.T, maxMB int) *LocalStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "images")
	store, err := NewLocalStore(config.UploadsConfig{Dir: dir, MaxMB: maxMB})
	require.NoError(t, err)
	return store
}

func TestSaveWritesImageWithSniffedExtension(t *testing.T) {
	store := newStore(t, 1)
	data := pngBytes(t, 8, 8)

	stored, err := store.Save(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "image/png", stored.MimeType)
	assert.True(t, strings.HasSuffix(stored.Filename, ".png"))
	assert.Equal(t, int64(len(data)), stored.Size)

	onDisk, err := os.ReadFile(store.Path(stored.Filename))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestSaveRejectsNonImages(t *testing.T) {
	store := newStore(t, 1)

	_, err := store.Save(context.Background(), strings.NewReader("%PDF-1.7\n%fake"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnsupportedMedia))

	_, err = store.Save(context.Background(), bytes.NewReader(nil))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRejectsOversizedImages(t *testing.T) {
	store := newStore(t, 1)
	data := append(pngBytes(t, 4, 4), bytes.Repeat([]byte{0}, 1<<20)...)

	_, err := store.Save(context.Background(), bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePayloadTooLarge))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestRemove(t *testing.T) {
	store := newStore(t, 1)
	stored, err := store.Save(context.Background(), bytes.NewReader(pngBytes(t, 2, 2)))
	require.NoError(t, err)

	require.NoError(t, store.Remove(context.Background(), stored.Filename))
	_, err = os.Stat(store.Path(stored.Filename))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Remove(context.Background(), stored.Filename), "missing file is fine")
	assert.Error(t, store.Remove(context.Background(), "../etc/passwd"))
	assert.Error(t, store.Remove(context.Background(), ""))
}

func TestOpen(t *testing.T) {
	store := newStore(t, 1)
	stored, err := store.Save(context.Background(), bytes.NewReader(pngBytes(t, 2, 2)))
	require.NoError(t, err)

	f, err := store.Open(stored.Filename)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.Open("missing.png")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = store.Open("../secret.png")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestOpenOnlyResolvesStoredNames(t *testing.T) {
	store := newStore(t, 1)
	id := uuid.NewString()
	for _, name := range []string{".upload-123456", "notes.txt", id + ".txt", id} {
		require.NoError(t, os.WriteFile(store.Path(name), []byte("not an upload"), 0o644))
	}

	for _, name := range []string{".upload-123456", "notes.txt", id + ".txt", id, uuid.NewString() + ".png"} {
		t.Run(name, func(t *testing.T) {
			f, err := store.Open(name)
			if f != nil {
				_ = f.Close()
			}
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
		})
	}
	assert.Error(t, store.Remove(context.Background(), ".upload-123456"))
	_, err := os.Stat(store.Path(".upload-123456"))
	assert.NoError(t, err, "temp uploads are not removable by name")
}
