package uploads

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how many leading bytes mimetype needs to recognise the image
// formats below.
const sniffLen = 3072

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

var extensionByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// sniffImage classifies head and reports the canonical mime type and file
// extension, or an error when the content is not an accepted image.
func sniffImage(head []byte) (string, string, error) {
	detected := mimetype.Detect(head)
	for _, allowed := range allowedImageTypes {
		if detected.Is(allowed) {
			return allowed, extensionByMime[allowed], nil
		}
	}
	return "", "", fmt.Errorf("unsupported image type %q (allowed: %s)", detected.String(), allowedDescription())
}

func knownExtension(ext string) bool {
	for _, candidate := range extensionByMime {
		if candidate == ext {
			return true
		}
	}
	return false
}

func allowedDescription() string {
	names := make([]string, 0, len(allowedImageTypes))
	for _, v := range allowedImageTypes {
		names = append(names, strings.TrimPrefix(v, "image/"))
	}
	return strings.Join(names, ", ")
}
