package camera

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
)

// rawHeaderSize is the size of the height, width, channels prefix of a
// raw frame payload.
const rawHeaderSize = 12

// maxFrameSide bounds the height and width of a raw frame.
const maxFrameSide = 1 << 14

// IsJPEG reports whether data starts with a JPEG start-of-image marker.
func IsJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}

// DecodePayload decodes a camera payload. JPEG data is decoded as such.
// Anything else must be a raw frame: three little-endian uint32 values
// (height, width, channels) followed by height*width*channels bytes of
// BGR, BGRA or grayscale pixels.
func DecodePayload(data []byte) (image.Image, int, error) {
	if IsJPEG(data) {
		return DecodeJPEG(data)
	}
	if len(data) < rawHeaderSize {
		return nil, 0, fmt.Errorf("camera: payload too short (%d bytes)", len(data))
	}
	h := binary.LittleEndian.Uint32(data[0:4])
	w := binary.LittleEndian.Uint32(data[4:8])
	c := binary.LittleEndian.Uint32(data[8:12])
	return DecodeRaw(int(h), int(w), int(c), data[rawHeaderSize:])
}

// DecodeJPEG decodes a JPEG image and reports its channel count.
func DecodeJPEG(data []byte) (image.Image, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("camera: decode jpeg: %w", err)
	}
	if _, gray := img.(*image.Gray); gray {
		return img, 1, nil
	}
	return img, 3, nil
}

// DecodeRaw builds an image from packed pixels. channels is 1 (gray),
// 3 (BGR) or 4 (BGRA).
func DecodeRaw(height, width, channels int, pix []byte) (image.Image, int, error) {
	if height <= 0 || width <= 0 || height > maxFrameSide || width > maxFrameSide {
		return nil, 0, fmt.Errorf("camera: invalid frame size %dx%d", width, height)
	}
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, 0, fmt.Errorf("camera: unsupported channel count %d", channels)
	}
	if len(pix) == 0 {
		return nil, 0, fmt.Errorf("camera: raw frame has no pixels")
	}
	want := uint64(height) * uint64(width) * uint64(channels)
	if want != uint64(len(pix)) {
		return nil, 0, fmt.Errorf("camera: raw frame %dx%dx%d needs %d bytes, got %d",
			height, width, channels, want, len(pix))
	}

	rect := image.Rect(0, 0, width, height)
	switch channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, pix)
		return img, 1, nil

	case 3, 4:
		img := image.NewNRGBA(rect)
		for i, j := 0, 0; i < len(pix); i, j = i+channels, j+4 {
			img.Pix[j+0] = pix[i+2]
			img.Pix[j+1] = pix[i+1]
			img.Pix[j+2] = pix[i+0]
			if channels == 4 {
				img.Pix[j+3] = pix[i+3]
			} else {
				img.Pix[j+3] = 0xFF
			}
		}
		return img, channels, nil

	default:
		return nil, 0, fmt.Errorf("camera: unsupported channel count %d", channels)
	}
}

// EncodeRaw packs an image as a raw BGR payload with its header.
func EncodeRaw(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, rawHeaderSize, rawHeaderSize+b.Dx()*b.Dy()*3)
	binary.LittleEndian.PutUint32(out[0:4], uint32(b.Dy()))
	binary.LittleEndian.PutUint32(out[4:8], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(out[8:12], 3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(bl>>8), byte(g>>8), byte(r>>8))
		}
	}
	return out
}
