//go:build darwin || linux

package camera

import (
	"context"
	"errors"
	"image/color"
	"os"
	"testing"
)

// segmentSize matches the simulator's per-image segment: header plus 4 MiB.
const segmentSize = shmHeaderSize + 4<<20

// writeSegment writes a frame into a segment file in place, as the
// simulator does, without truncating a file that may be mapped.
func writeSegment(t *testing.T, path string, hdr SHMHeader, payload []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := f.Truncate(segmentSize); err != nil {
		t.Fatal(err)
	}
	hdr.DataSize = uint32(len(payload))
	if _, err := f.WriteAt(payload, shmHeaderSize); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(hdr.Marshal(), 0); err != nil {
		t.Fatal(err)
	}
}

func shmConfig(dir string, names ...string) Config {
	cfg := DefaultConfig()
	cfg.Protocol = ProtocolSHM
	cfg.SHMDir = dir
	cfg.Names = names
	return cfg
}

func TestParseSHMHeader(t *testing.T) {
	want := SHMHeader{Timestamp: 1712345678901, Height: 480, Width: 640, Channels: 3,
		Encoding: shmEncodingJPEG, Quality: 80, DataSize: 12345, Name: "head"}
	got, err := ParseSHMHeader(want.Marshal())
	if err != nil {
		t.Fatalf("ParseSHMHeader() error = %v", err)
	}
	if got != want {
		t.Errorf("ParseSHMHeader() = %+v, want %+v", got, want)
	}
	if _, err := ParseSHMHeader(make([]byte, 47)); err == nil {
		t.Error("short header should fail")
	}
}

func TestSegmentPath(t *testing.T) {
	if got := SegmentPath("", "left"); got != "/dev/shm/walkie_cam_left" {
		t.Errorf("SegmentPath() = %q", got)
	}
}

func TestSHMSourceReadsFrames(t *testing.T) {
	dir := t.TempDir()
	path := SegmentPath(dir, Head)
	writeSegment(t, path, SHMHeader{Timestamp: 1000, Encoding: shmEncodingJPEG, Name: Head},
		encodeJPEG(t, gradient(64, 48)))

	src, err := NewSHM(shmConfig(dir, Head), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer src.Close()

	if !src.IsStreaming() {
		t.Error("IsStreaming() = false after Connect")
	}

	first, err := src.Frame()
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if h, w, c := first.Shape(); h != 48 || w != 64 || c != 3 {
		t.Errorf("Shape() = %d, %d, %d", h, w, c)
	}
	if first.Timestamp.UnixMilli() != 1000 {
		t.Errorf("Timestamp = %v", first.Timestamp)
	}
	if src.Timestamp(Head) != 1000 {
		t.Errorf("Timestamp(head) = %d", src.Timestamp(Head))
	}

	// Unchanged timestamp returns the cached frame.
	again, err := src.Frame()
	if err != nil || again != first {
		t.Errorf("Frame() without a new timestamp = %p, %v; want cached %p", again, err, first)
	}

	// A newer raw frame replaces it.
	raw := EncodeRaw(uniform(4, 2, color.White))[rawHeaderSize:]
	writeSegment(t, path, SHMHeader{Timestamp: 2000, Height: 2, Width: 4, Channels: 3,
		Encoding: shmEncodingRaw, Name: Head}, raw)

	next, err := src.Frame()
	if err != nil {
		t.Fatalf("Frame() after update error = %v", err)
	}
	if h, w, _ := next.Shape(); h != 2 || w != 4 {
		t.Errorf("updated Shape() = %d, %d", h, w)
	}
	if src.Timestamp(Head) != 2000 {
		t.Errorf("Timestamp(head) = %d", src.Timestamp(Head))
	}

	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if _, err := src.Frame(); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Frame() after Close error = %v", err)
	}
}

func TestSHMSourceSkipsMissingCameras(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, SegmentPath(dir, Left), SHMHeader{Timestamp: 1, Encoding: shmEncodingJPEG},
		encodeJPEG(t, gradient(16, 16)))

	src, err := NewSHM(shmConfig(dir, Head, Left, Right), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer src.Close()

	names := src.Names()
	if len(names) != 1 || names[0] != Left {
		t.Errorf("Names() = %v, want [left]", names)
	}
	frames := src.Frames()
	if _, ok := frames[Left]; !ok || len(frames) != 1 {
		t.Errorf("Frames() = %v", frames)
	}
	if _, err := src.FrameFrom(Head); !errors.Is(err, ErrUnknownCamera) {
		t.Errorf("FrameFrom(head) error = %v, want ErrUnknownCamera", err)
	}
}

func TestSHMSourceNoSegments(t *testing.T) {
	src, err := NewSHM(shmConfig(t.TempDir(), Head), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Connect(context.Background()); err == nil {
		t.Fatal("Connect() without segments should fail")
	}
	if src.IsStreaming() {
		t.Error("IsStreaming() = true without segments")
	}
}

func TestSHMSourceEmptySegment(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, SegmentPath(dir, Head), SHMHeader{}, nil)

	src, err := NewSHM(shmConfig(dir, Head), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if _, err := src.Frame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Frame() of unwritten segment error = %v, want ErrNoFrame", err)
	}
}
