//go:build !linux

package diskio

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// openPlatform on non-Linux platforms always uses the fallback path; kernel
// AIO plus eventfd completion is Linux-specific. The segment is opened
// without O_DSYNC here: durability rests on the fsync the fallback worker
// issues after each write.
func openPlatform(opts Options, logger zerolog.Logger) (Writer, error) {
	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open segment: %w", err)
	}
	if opts.Preallocate > 0 {
		if err := f.Truncate(opts.Preallocate); err != nil {
			f.Close()
			return nil, fmt.Errorf("diskio: preallocate segment: %w", err)
		}
	}
	logger.Debug().Msg("opened segment on fallback (non-Linux) path")
	return newFallbackWriter(f, logger), nil
}
