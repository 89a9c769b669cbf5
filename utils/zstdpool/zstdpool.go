// Package zstdpool provides pooled zstd encoders and decoders for the
// file store's compressed storage mode. Encoders and decoders are
// expensive to construct, so they are shared through sync.Pools and
// returned on Close.
package zstdpool

import (
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	syncpool "github.com/mostynb/zstdpool-syncpool"
)

// Cache payloads are individual tiles and metadata documents, small and
// written once, so the encoders favor ratio over throughput: the
// default compression level, a window capped well above any tile size,
// and one goroutine per encoder since the save path is already
// parallel across retrieval workers.
const encoderWindowSize = 1 << 20

// maxDecoderMemory bounds a single decode. Files written by this
// module fit in encoderWindowSize, but the store may also hold files
// written elsewhere, so the read side allows more before refusing.
const maxDecoderMemory = 64 << 20

var encoderPool = sync.OnceValue(func() *sync.Pool {
	return syncpool.NewEncoderPool(
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithWindowSize(encoderWindowSize))
})

var decoderPool = sync.OnceValue(func() *sync.Pool {
	return syncpool.NewDecoderPool(
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(maxDecoderMemory))
})

var errEncoderPoolFail = errors.New("zstdpool: failed to get encoder from pool")
var errDecoderPoolFail = errors.New("zstdpool: failed to get decoder from pool")

// encoderWrapper returns its encoder to the pool on Close, after
// flushing the zstd frame to the underlying writer. It does not close
// the underlying writer; the caller still owns that.
type encoderWrapper struct {
	*syncpool.EncoderWrapper
}

func (w *encoderWrapper) Close() error {
	err := w.EncoderWrapper.Close()
	encoderPool().Put(w.EncoderWrapper)
	return err
}

// WrapWriter returns a WriteCloser that zstd-compresses everything
// written to it into out. Close flushes the frame and returns the
// pooled encoder; it does not close out.
func WrapWriter(out io.Writer) (io.WriteCloser, error) {
	enc, ok := encoderPool().Get().(*syncpool.EncoderWrapper)
	if !ok {
		return nil, errEncoderPoolFail
	}
	enc.Reset(out)
	return &encoderWrapper{enc}, nil
}

// WrapReader returns a ReadCloser that decompresses the zstd stream in
// in. Close returns the pooled decoder; the caller remains responsible
// for closing in.
func WrapReader(in io.ReadCloser) (io.ReadCloser, error) {
	dec, ok := decoderPool().Get().(*syncpool.DecoderWrapper)
	if !ok {
		return nil, errDecoderPoolFail
	}
	if err := dec.Reset(in); err != nil {
		decoderPool().Put(dec)
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
