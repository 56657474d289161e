package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"sync"
	"time"
)

// H264Decoder turns an H264 elementary stream into a JPEG of its last picture.
type H264Decoder interface {
	Decode(ctx context.Context, h264 []byte) ([]byte, error)
}

// FFmpegDecoder decodes H264 with a short-lived ffmpeg process fed
// through pipes. Calls are rate limited to one per interval.
type FFmpegDecoder struct {
	// Path is the ffmpeg binary.
	Path string
	// Quality is the mjpeg quality scale, 1 (best) to 31.
	Quality int
	// Timeout bounds one ffmpeg run.
	Timeout time.Duration

	mu          sync.Mutex
	minInterval time.Duration
	lastDecode  time.Time
}

// NewFFmpegDecoder creates a decoder that runs at most once per interval.
func NewFFmpegDecoder(path string, interval time.Duration) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{
		Path:        path,
		Quality:     3,
		Timeout:     500 * time.Millisecond,
		minInterval: interval,
	}
}

// minH264 is the smallest buffer worth handing to ffmpeg.
const minH264 = 100

// Decode implements H264Decoder. It returns ErrNoFrame when rate limited,
// when the buffer is too small, or when ffmpeg produced nothing usable.
func (d *FFmpegDecoder) Decode(ctx context.Context, h264 []byte) ([]byte, error) {
	if len(h264) < minH264 {
		return nil, ErrNoFrame
	}

	d.mu.Lock()
	if time.Since(d.lastDecode) < d.minInterval {
		d.mu.Unlock()
		return nil, ErrNoFrame
	}
	d.lastDecode = time.Now()
	d.mu.Unlock()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.Path,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprint(d.Quality),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(h264)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// ffmpeg exits non-zero when the buffer holds no complete picture.
		if stdout.Len() == 0 {
			return nil, ErrNoFrame
		}
	}

	frame := lastJPEG(stdout.Bytes())
	if frame == nil || isGrayJPEG(frame) {
		return nil, ErrNoFrame
	}
	return frame, nil
}

// lastJPEG returns the final image of a concatenated mjpeg stream.
func lastJPEG(stream []byte) []byte {
	i := bytes.LastIndex(stream, []byte{0xFF, 0xD8, 0xFF})
	if i < 0 {
		return nil
	}
	return stream[i:]
}

// isGrayJPEG reports whether a decoded picture is likely a gray or black
// placeholder emitted before the decoder has a reference frame.
func isGrayJPEG(data []byte) bool {
	if len(data) < 1000 {
		return true
	}
	img, _, err := DecodeJPEG(data)
	if err != nil {
		return true
	}
	return isGrayImage(img)
}

func isGrayImage(img image.Image) bool {
	b := img.Bounds()
	if b.Dx() < 100 || b.Dy() < 100 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := b.Min.Y; y < b.Max.Y; y += b.Dy() / 10 {
		for x := b.Min.X; x < b.Max.X; x += b.Dx() / 10 {
			r, g, bl, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(bl >> 8)
			samples++
		}
	}
	if samples == 0 {
		return true
	}

	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	// Black.
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	// Uniform mid gray, R = G = B.
	diff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return diff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
