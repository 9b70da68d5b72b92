//go:build noopus

package audioconv

import (
	"errors"
	"io"
)

func decodeOggOpus(io.ReadSeeker) (PCM, error) {
	return PCM{}, errors.New("opus support disabled (built with -tags noopus)")
}
