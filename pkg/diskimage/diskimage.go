// Package diskimage backs up and restores the flat sector file a
// diskproto.Disk is built on: a zstd-compressed snapshot taken while
// the server is stopped, streamed through a buffered pipe so the
// compressor and the disk reader run as independent goroutines
// instead of lockstep.
package diskimage

import (
	"io"
	"os"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/s7a9/drumfs/pkg/elog"
)

// pipeBufferSize bounds how far the reader goroutine may run ahead of
// the writer before blocking.
const pipeBufferSize = 1 << 20

func viewOrSilent(log elog.View) elog.View {
	if log != nil {
		return log
	}
	return &elog.CLI{DisableTTY: true}
}

// Backup compresses the raw disk file at srcPath into a zstd stream
// at dstPath.
func Backup(srcPath, dstPath string, log elog.View) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "diskimage: opening source disk")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrap(err, "diskimage: statting source disk")
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "diskimage: creating backup file")
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return errors.Wrap(err, "diskimage: starting compressor")
	}

	pr, pw := nio.Pipe(buffer.New(pipeBufferSize))
	go func() {
		_, copyErr := io.Copy(pw, src)
		pw.CloseWithError(copyErr)
	}()

	bar := viewOrSilent(log).NewProgress("backup", "KiB", info.Size())
	defer func() { bar.Finish(err == nil) }()

	if _, err = io.Copy(enc, bar.ProxyReader(pr)); err != nil {
		enc.Close()
		return errors.Wrap(err, "diskimage: compressing disk")
	}
	if err = enc.Close(); err != nil {
		return errors.Wrap(err, "diskimage: flushing compressor")
	}
	return nil
}

// Restore decompresses the zstd stream at srcPath back into the raw
// disk file at dstPath, overwriting it.
func Restore(srcPath, dstPath string, log elog.View) (err error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrap(err, "diskimage: opening backup file")
	}
	defer src.Close()

	dec, err := zstd.NewReader(src)
	if err != nil {
		return errors.Wrap(err, "diskimage: starting decompressor")
	}
	defer dec.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.Wrap(err, "diskimage: creating restored disk")
	}
	defer dst.Close()

	pr, pw := nio.Pipe(buffer.New(pipeBufferSize))
	go func() {
		_, copyErr := io.Copy(pw, dec)
		pw.CloseWithError(copyErr)
	}()

	bar := viewOrSilent(log).NewProgress("restore", "KiB", 0)
	defer func() { bar.Finish(err == nil) }()

	if _, err = io.Copy(dst, bar.ProxyReader(pr)); err != nil {
		return errors.Wrap(err, "diskimage: decompressing backup")
	}
	return nil
}
