// Package diskio is the durable segment writer underneath pkg/raftlog.
//
// A Writer appends batches of already-encoded bytes to a fixed-size,
// preallocated segment file and reports completion asynchronously once the
// batch is durable. Two submission paths exist:
//
//   - Linux AIO: io_setup/io_submit/io_getevents against aligned, O_DIRECT
//     buffers, with completions signalled through an eventfd the reactor
//     polls alongside its other event sources. See linux_aio.go.
//   - Fallback: a small worker pool issuing ordinary writes, each followed
//     by an fsync. On Linux the file descriptor is opened with O_DSYNC; on
//     non-Linux platforms it is opened without it. Used on non-Linux
//     platforms (other.go), on Linux architectures other than amd64
//     (linux_other_arch.go), whenever the AIO path's capability probe
//     fails at open time, and whenever Options.DisableDirect is set.
//
// Apart from Options.DisableDirect, callers never select a path directly:
// Open probes what the kernel and
// target filesystem actually support and returns whichever Writer
// implementation applies, so the distinction is never a compile-time
// build flag outside of the platform split itself.
package diskio
