// elPrep: a high-performance tool for analyzing SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

package bgzf

import (
	"context"
	"io"
	"runtime"
	"sort"
	"sync"

	"github.com/exascience/pargo/pipeline"
	"github.com/pkg/errors"

	"github.com/exascience/elhts/utils"
)

type (
	// Writer writes a BGZF stream. With more than one worker, blocks
	// are compressed in parallel and written in their original order.
	//
	// A Writer is not safe for concurrent use.
	Writer struct {
		ctx     context.Context
		w       io.Writer
		closer  io.Closer
		deflate *deflater
		workers int

		block *block
		seq   int
		err   error
		done  bool

		p       pipeline.Pipeline
		wait    sync.WaitGroup
		stopped chan struct{}
		channel chan *block
		data    interface{}

		// written blocks, guarded by mutex
		mutex    sync.Mutex
		cond     *sync.Cond
		nWritten int
		uStart   []int64
		cStart   []int64
		uSize    int64 // uncompressed bytes in written blocks
		cSize    int64 // compressed bytes written
		uSent    int64 // uncompressed bytes handed to the pipeline
	}

	internalWriter Writer
)

func (*internalWriter) Err() error {
	return nil
}

func (bgzf *internalWriter) Prepare(_ context.Context) (size int) {
	return -1
}

func (bgzf *internalWriter) Fetch(size int) (fetched int) {
	if b, ok := <-bgzf.channel; ok {
		bgzf.data = b
		return 1
	}
	bgzf.data = nil
	return 0
}

func (bgzf *internalWriter) Data() interface{} {
	return bgzf.data
}

// NewWriter returns a Writer for the given io.Writer that compresses
// blocks on as many goroutines as GOMAXPROCS.
//
// Following zlib, levels range from 1 (BestSpeed) to 9 (BestCompression);
// higher levels typically run slower but compress more. Level 0
// (NoCompression) does not attempt any compression; it only adds the
// necessary DEFLATE framing.
// Level -1 (DefaultCompression) uses the default compression level.
// Level -2 (HuffmanOnly) will use Huffman compression only, giving
// a very fast compression for all types of input, but sacrificing considerable
// compression efficiency.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	return NewWriterContext(context.Background(), w, level, runtime.GOMAXPROCS(0))
}

// NewWriterWorkers is like NewWriter with an explicit number of
// compression goroutines. With one worker, blocks are compressed on
// the calling goroutine.
func NewWriterWorkers(w io.Writer, level, workers int) (*Writer, error) {
	return NewWriterContext(context.Background(), w, level, workers)
}

// NewWriterContext is like NewWriterWorkers, but stops accepting
// blocks once ctx is done.
func NewWriterContext(ctx context.Context, w io.Writer, level, workers int) (*Writer, error) {
	d, err := newDeflater(level)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	bgzf := &Writer{
		ctx:     ctx,
		w:       w,
		deflate: d,
		workers: workers,
		block:   getBlock(),
	}
	bgzf.cond = sync.NewCond(&bgzf.mutex)
	if workers == 1 {
		return bgzf, nil
	}
	bgzf.channel = make(chan *block, workers)
	bgzf.stopped = make(chan struct{})
	bgzf.p.Source((*internalWriter)(bgzf))
	bgzf.p.Add(pipeline.LimitedPar(workers, pipeline.Receive(func(_ int, data interface{}) interface{} {
		b := data.(*block)
		if err := bgzf.deflate.deflate(b); err != nil {
			bgzf.p.SetErr(err)
		}
		return b
	})), pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
		b := data.(*block)
		if bgzf.p.Err() == nil {
			if err := bgzf.emit(b); err != nil {
				bgzf.p.SetErr(err)
			}
		}
		putBlock(b)
		return nil
	})))
	bgzf.wait.Add(1)
	go func() {
		defer bgzf.wait.Done()
		defer close(bgzf.stopped)
		bgzf.p.Run()
		// wake up Tell if the pipeline stopped early
		bgzf.mutex.Lock()
		bgzf.nWritten = -1
		bgzf.cond.Broadcast()
		bgzf.mutex.Unlock()
	}()
	return bgzf, nil
}

// emit writes a compressed block and records where it went.
func (bgzf *Writer) emit(b *block) error {
	if _, err := bgzf.w.Write(b.raw); err != nil {
		return utils.NewIOError("bgzf: write block", err)
	}
	bgzf.mutex.Lock()
	defer bgzf.mutex.Unlock()
	bgzf.uStart = append(bgzf.uStart, bgzf.uSize)
	bgzf.cStart = append(bgzf.cStart, bgzf.cSize)
	bgzf.uSize += int64(len(b.data))
	bgzf.cSize += int64(len(b.raw))
	if bgzf.nWritten >= 0 {
		bgzf.nWritten++
	}
	bgzf.cond.Broadcast()
	return nil
}

func (bgzf *Writer) fail(err error) error {
	if bgzf.err == nil {
		bgzf.err = err
	}
	return bgzf.err
}

// sendBlock hands the current block to the compressor. It is a
// no-op for an empty block.
func (bgzf *Writer) sendBlock() (err error) {
	b := bgzf.block
	if len(b.data) == 0 {
		return nil
	}
	if err := bgzf.ctx.Err(); err != nil {
		return bgzf.fail(err)
	}
	if bgzf.workers > 1 {
		if err := bgzf.p.Err(); err != nil {
			return bgzf.fail(err)
		}
	}
	bgzf.block = getBlock()
	b.seq = bgzf.seq
	bgzf.seq++
	bgzf.uSent += int64(len(b.data))
	if bgzf.workers == 1 {
		defer putBlock(b)
		if err := bgzf.deflate.deflate(b); err != nil {
			return bgzf.fail(err)
		}
		if err := bgzf.emit(b); err != nil {
			return bgzf.fail(err)
		}
		return nil
	}
	select {
	case bgzf.channel <- b:
		return nil
	case <-bgzf.stopped:
		putBlock(b)
		if err := bgzf.p.Err(); err != nil {
			return bgzf.fail(err)
		}
		return bgzf.fail(errors.New("bgzf: compression stopped"))
	}
}

// Write implements io.Writer.
func (bgzf *Writer) Write(p []byte) (n int, err error) {
	if bgzf.err != nil {
		return 0, bgzf.err
	}
	if bgzf.done {
		return 0, errors.New("bgzf: write to closed Writer")
	}
	if b := bgzf.block; len(p) <= smallSize && len(b.data)+len(p) < BlockDataSize {
		b.data = append(b.data, p...)
		return len(p), nil
	}
	for n < len(p) {
		b := bgzf.block
		free := BlockDataSize - len(b.data)
		k := len(p) - n
		if k > free {
			k = free
		}
		b.data = append(b.data, p[n:n+k]...)
		n += k
		if len(b.data) == BlockDataSize {
			if err = bgzf.sendBlock(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush ends the current block, so that the next byte written starts
// a new block. Flushing an empty block does nothing.
func (bgzf *Writer) Flush() error {
	if bgzf.err != nil {
		return bgzf.err
	}
	return bgzf.sendBlock()
}

// FlushTry ends the current block if n more bytes would not fit into
// it, so that a record of n bytes does not straddle two blocks.
func (bgzf *Writer) FlushTry(n int) error {
	if len(bgzf.block.data)+n > BlockDataSize {
		return bgzf.Flush()
	}
	return bgzf.err
}

// Position returns the number of uncompressed bytes written so far.
func (bgzf *Writer) Position() int64 {
	return bgzf.uSent + int64(len(bgzf.block.data))
}

// Tell returns the virtual offset of the next byte to be written. It
// waits for blocks still being compressed, so in a parallel Writer it
// is a synchronization point; prefer Position and Resolve for
// recording many offsets.
func (bgzf *Writer) Tell() (Offset, error) {
	bgzf.mutex.Lock()
	for bgzf.nWritten >= 0 && bgzf.nWritten < bgzf.seq {
		bgzf.cond.Wait()
	}
	stopped := bgzf.nWritten < 0 && len(bgzf.cStart) < bgzf.seq
	cSize := bgzf.cSize
	bgzf.mutex.Unlock()
	if stopped {
		if err := bgzf.p.Err(); err != nil {
			return 0, bgzf.fail(err)
		}
		return 0, bgzf.fail(errors.New("bgzf: compression stopped"))
	}
	return NewOffset(cSize, uint16(len(bgzf.block.data))), nil
}

// Resolve maps an uncompressed position, as returned by Position, to
// a virtual offset. The block containing the position must have been
// written, which is guaranteed after Flush followed by Tell, or after
// Close. The position just past the last written byte resolves to
// the start of the following block.
func (bgzf *Writer) Resolve(pos int64) (Offset, error) {
	bgzf.mutex.Lock()
	defer bgzf.mutex.Unlock()
	if pos < 0 || pos > bgzf.uSize {
		return 0, errors.Errorf("bgzf: position %v not written yet", pos)
	}
	if pos == bgzf.uSize {
		return NewOffset(bgzf.cSize, 0), nil
	}
	i := sort.Search(len(bgzf.uStart), func(i int) bool {
		return bgzf.uStart[i] > pos
	}) - 1
	return NewOffset(bgzf.cStart[i], uint16(pos-bgzf.uStart[i])), nil
}

// Close flushes the last block, waits for all blocks to be written,
// and writes the EOF block. If the Writer was created by Create, the
// file is closed as well.
func (bgzf *Writer) Close() error {
	if bgzf.done {
		return bgzf.err
	}
	bgzf.done = true
	if bgzf.err == nil {
		bgzf.fail(bgzf.sendBlock())
	}
	if bgzf.workers > 1 {
		close(bgzf.channel)
		bgzf.wait.Wait()
		if err := bgzf.p.Err(); err != nil {
			bgzf.fail(err)
		}
	}
	putBlock(bgzf.block)
	bgzf.block = getBlock()
	if bgzf.err == nil {
		if _, err := bgzf.w.Write(bgzfEOF); err != nil {
			bgzf.fail(utils.NewIOError("bgzf: write EOF block", err))
		}
	}
	if bgzf.closer != nil {
		if err := bgzf.closer.Close(); err != nil {
			bgzf.fail(utils.NewIOError("bgzf: close", err))
		}
	}
	return bgzf.err
}
