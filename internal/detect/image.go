package detect

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Image is one uploaded photo.
type Image struct {
	Filename string
	Data     []byte
}

// normalize decodes the upload, fits it inside maxDim x maxDim and re-encodes
// it as JPEG. Images already inside the bound are re-encoded unchanged in size
// so EXIF orientation is always applied.
func normalize(img Image, maxDim int) (Image, error) {
	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, &Error{Kind: KindInvalidInput, Message: "uploaded file is not a supported image", Err: err}
	}

	b := src.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		src = imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return Image{}, fmt.Errorf("encode normalized image: %w", err)
	}

	return Image{Filename: jpegName(img.Filename), Data: buf.Bytes()}, nil
}

func jpegName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload.jpg"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
