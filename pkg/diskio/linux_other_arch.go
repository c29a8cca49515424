//go:build linux && !amd64

package diskio

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// openPlatform on non-amd64 Linux uses the O_DSYNC fallback path. The raw
// io_setup/io_submit/io_getevents syscall numbers wired in linux_aio.go are
// only valid for the x86-64 syscall table.
func openPlatform(opts Options, logger zerolog.Logger) (Writer, error) {
	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE|unix.O_DSYNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open segment: %w", err)
	}
	if opts.Preallocate > 0 {
		if err := unix.Fallocate(int(f.Fd()), 0, 0, opts.Preallocate); err != nil {
			if err := f.Truncate(opts.Preallocate); err != nil {
				f.Close()
				return nil, fmt.Errorf("diskio: preallocate segment: %w", err)
			}
		}
	}
	logger.Debug().Msg("opened segment on fallback (non-amd64 Linux) path")
	return newFallbackWriter(f, logger), nil
}
