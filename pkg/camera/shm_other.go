//go:build !(darwin || linux)

package camera

import "fmt"

func openSegment(path string) (segment, error) {
	return nil, fmt.Errorf("%w: shared memory cameras need linux or darwin", ErrUnsupported)
}
