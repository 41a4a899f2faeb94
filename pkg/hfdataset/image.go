package hfdataset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoImageData is returned for an image cell with neither bytes nor path.
var ErrNoImageData = errors.New("image cell has neither bytes nor path")

// ReadImage decodes the image stored in row i of an Image column. The cell is
// a struct of "bytes" and "path"; bytes win, otherwise the file at path is
// read, relative paths resolving against baseDir when not found as given.
func ReadImage(col arrow.Array, i int, baseDir string) (image.Image, error) {
	data, err := imageBytes(col, i, baseDir)
	if err != nil {
		return nil, err
	}
	return decodeImage(data)
}

// ImagePixels decodes row i of an Image column and returns its pixel buffer
// laid out like PIL's Image.tobytes(). PNG files keep the mode their header
// declares, so 1-bit gray stays bit packed and gray with alpha stays LA.
func ImagePixels(col arrow.Array, i int, baseDir string) ([]byte, error) {
	data, err := imageBytes(col, i, baseDir)
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	if mode, ok := pngMode(data); ok {
		return modePixels(img, mode), nil
	}
	return PixelBytes(img), nil
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func imageBytes(col arrow.Array, i int, baseDir string) ([]byte, error) {
	st, ok := col.(*array.Struct)
	if !ok {
		if b := binaryValue(col, i); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("unsupported image column type %s", col.DataType())
	}

	typ := st.DataType().(*arrow.StructType)
	if idx, ok := typ.FieldIdx("bytes"); ok {
		if b := binaryValue(st.Field(idx), i); b != nil {
			return b, nil
		}
	}
	if idx, ok := typ.FieldIdx("path"); ok {
		if p := stringValue(st.Field(idx), i); p != "" {
			return readImageFile(p, baseDir)
		}
	}
	return nil, ErrNoImageData
}

func readImageFile(p, baseDir string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if err == nil || filepath.IsAbs(p) || baseDir == "" || !errors.Is(err, os.ErrNotExist) {
		return data, err
	}
	return os.ReadFile(filepath.Join(baseDir, p))
}

func binaryValue(arr arrow.Array, i int) []byte {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Binary:
		return a.Value(i)
	case *array.LargeBinary:
		return a.Value(i)
	}
	return nil
}

func stringValue(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	}
	return ""
}

// PixelBytes returns the raw pixel buffer of img laid out the way PIL's
// Image.tobytes() lays out the mode PIL opens the same file in: one byte per
// pixel for L and P, interleaved RGB, RGBA or CMYK otherwise, rows top to
// bottom with no padding.
func PixelBytes(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		return packRows(m.Pix, m.Stride, w, h, 1)
	case *image.Paletted:
		return packRows(m.Pix, m.Stride, w, h, 1)
	case *image.Gray16:
		// I;16 is little endian
		out := make([]byte, 0, w*h*2)
		for y := 0; y < h; y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+w*2]
			for x := 0; x < len(row); x += 2 {
				out = append(out, row[x+1], row[x])
			}
		}
		return out
	case *image.CMYK:
		return packRows(m.Pix, m.Stride, w, h, 4)
	case *image.NRGBA:
		return packRows(m.Pix, m.Stride, w, h, 4)
	case *image.RGBA:
		if m.Opaque() {
			return dropAlpha(m.Pix, m.Stride, w, h)
		}
		return packRows(toNRGBA(m).Pix, w*4, w, h, 4)
	case *image.YCbCr:
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), m, b.Min, draw.Src)
		return dropAlpha(rgba.Pix, rgba.Stride, w, h)
	}

	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		return dropAlpha(rgba.Pix, rgba.Stride, w, h)
	}
	return packRows(toNRGBA(img).Pix, w*4, w, h, 4)
}

func packRows(pix []byte, stride, w, h, channels int) []byte {
	rowLen := w * channels
	if stride == rowLen {
		out := make([]byte, rowLen*h)
		copy(out, pix[:rowLen*h])
		return out
	}
	out := make([]byte, 0, rowLen*h)
	for y := 0; y < h; y++ {
		out = append(out, pix[y*stride:y*stride+rowLen]...)
	}
	return out
}

func dropAlpha(pix []byte, stride, w, h int) []byte {
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngMode returns the PIL mode of a PNG from the bit depth and color type of
// its IHDR chunk.
func pngMode(data []byte) (string, bool) {
	if len(data) < 26 || !bytes.HasPrefix(data, pngSignature) || string(data[12:16]) != "IHDR" {
		return "", false
	}
	depth, colorType := data[24], data[25]
	switch colorType {
	case 0:
		switch depth {
		case 1:
			return "1", true
		case 16:
			return "I;16", true
		}
		return "L", true
	case 2:
		return "RGB", true
	case 3:
		return "P", true
	case 4:
		return "LA", true
	case 6:
		return "RGBA", true
	}
	return "", false
}

// modePixels lays out img in the given PIL mode. Go widens gray with alpha
// and any PNG carrying a tRNS chunk to NRGBA, so those are narrowed back.
func modePixels(img image.Image, mode string) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch mode {
	case "1":
		return packBits(grayPixels(img), w, h)
	case "L":
		return grayPixels(img)
	case "LA":
		return pickChannels(img, 0, 3)
	case "RGB":
		switch img.(type) {
		case *image.NRGBA, *image.NRGBA64:
			return pickChannels(img, 0, 1, 2)
		}
	case "RGBA":
		if _, ok := img.(*image.NRGBA64); ok {
			return pickChannels(img, 0, 1, 2, 3)
		}
	case "I;16":
		if m, ok := img.(*image.NRGBA64); ok {
			out := make([]byte, 0, w*h*2)
			for y := 0; y < h; y++ {
				row := m.Pix[y*m.Stride : y*m.Stride+w*8]
				for x := 0; x < len(row); x += 8 {
					out = append(out, row[x+1], row[x])
				}
			}
			return out
		}
	}
	return PixelBytes(img)
}

func grayPixels(img image.Image) []byte {
	if m, ok := img.(*image.Gray); ok {
		b := m.Bounds()
		return packRows(m.Pix, m.Stride, b.Dx(), b.Dy(), 1)
	}
	return pickChannels(img, 0)
}

// pickChannels returns the listed channels of every pixel, 8 bits each. The
// color stays intact under zero alpha.
func pickChannels(img image.Image, picks ...int) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 0, w*h*len(picks))

	switch m := img.(type) {
	case *image.NRGBA64:
		for y := 0; y < h; y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+w*8]
			for x := 0; x < len(row); x += 8 {
				for _, c := range picks {
					out = append(out, row[x+2*c])
				}
			}
		}
		return out
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+w*4]
			for x := 0; x < len(row); x += 4 {
				for _, c := range picks {
					out = append(out, row[x+c])
				}
			}
		}
		return out
	}
	return pickChannels(toNRGBA(img), picks...)
}

// packBits packs one byte per pixel into MSB-first bits, each row padded to
// a whole byte. Any nonzero pixel is set.
func packBits(gray []byte, w, h int) []byte {
	rowLen := (w + 7) / 8
	out := make([]byte, rowLen*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray[y*w+x] != 0 {
				out[y*rowLen+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return out
}
