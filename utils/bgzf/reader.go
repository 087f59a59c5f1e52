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

	"github.com/exascience/pargo/pipeline"
	"github.com/pkg/errors"

	"github.com/exascience/elhts/utils"
)

// Reader reads a BGZF stream. It decompresses one block at a time,
// or, with more than one worker, reads ahead and decompresses blocks
// in parallel, handing them out in file order.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	ctx    context.Context
	r      io.Reader
	rs     io.ReadSeeker
	closer io.Closer

	offset  int64 // file offset of the next block to read
	block   *block
	cursor  int
	lastEOF bool
	err     error

	ahead *readAhead
}

// NewReader returns a Reader for r. If workers > 1, blocks are
// decompressed in parallel by at most that many goroutines. If r
// also implements io.Seeker, the Reader supports Seek.
func NewReader(r io.Reader, workers int) *Reader {
	return NewReaderContext(context.Background(), r, workers)
}

// NewReaderContext is like NewReader, but stops reading blocks once
// ctx is done. Cancellation is checked between blocks.
func NewReaderContext(ctx context.Context, r io.Reader, workers int) *Reader {
	bgzf := &Reader{ctx: ctx, r: r}
	if rs, ok := r.(io.ReadSeeker); ok {
		bgzf.rs = rs
		if pos, err := rs.Seek(0, io.SeekCurrent); err == nil {
			bgzf.offset = pos
		}
	}
	if workers > 1 {
		bgzf.ahead = newReadAhead(ctx, r, bgzf.offset, workers)
	}
	return bgzf
}

// Tell returns the virtual offset of the next byte to be read.
func (bgzf *Reader) Tell() Offset {
	if b := bgzf.block; b != nil && bgzf.cursor < len(b.data) {
		return NewOffset(b.offset, uint16(bgzf.cursor))
	}
	return NewOffset(bgzf.offset, 0)
}

// Err returns the error that put the Reader in its error state, if
// any.
func (bgzf *Reader) Err() error {
	return bgzf.err
}

func (bgzf *Reader) fail(err error) error {
	bgzf.err = err
	return err
}

// nextBlock makes the following block resident. It returns io.EOF
// at the end of a properly terminated stream.
func (bgzf *Reader) nextBlock() error {
	if err := bgzf.ctx.Err(); err != nil {
		return bgzf.fail(err)
	}
	var (
		b   *block
		err error
	)
	if bgzf.ahead != nil {
		b, err = bgzf.ahead.next()
	} else {
		b = getBlock()
		if err = readRawBlock(bgzf.r, bgzf.offset, b); err == nil {
			err = inflate(b)
		}
	}
	if err != nil {
		putBlock(b)
		if err == io.EOF {
			if !bgzf.lastEOF {
				return bgzf.fail(errors.Wrapf(utils.ErrTruncated, "bgzf: stream ends at offset %v", bgzf.offset))
			}
			return io.EOF
		}
		return bgzf.fail(err)
	}
	putBlock(bgzf.block)
	bgzf.block = b
	bgzf.cursor = 0
	bgzf.offset = b.offset + int64(b.size)
	bgzf.lastEOF = len(b.data) == 0
	return nil
}

// Read implements io.Reader.
func (bgzf *Reader) Read(p []byte) (n int, err error) {
	if bgzf.err != nil {
		return 0, bgzf.err
	}
	if b := bgzf.block; b != nil && len(p) <= smallSize && bgzf.cursor+len(p) <= len(b.data) {
		n = copy(p, b.data[bgzf.cursor:])
		bgzf.cursor += n
		return n, nil
	}
	for n < len(p) {
		if bgzf.block == nil || bgzf.cursor == len(bgzf.block.data) {
			if err = bgzf.nextBlock(); err != nil {
				if err == io.EOF && n > 0 {
					err = nil
				}
				return n, err
			}
			continue
		}
		k := copy(p[n:], bgzf.block.data[bgzf.cursor:])
		bgzf.cursor += k
		n += k
	}
	return n, nil
}

// ReadByte implements io.ByteReader.
func (bgzf *Reader) ReadByte() (byte, error) {
	if b := bgzf.block; bgzf.err == nil && b != nil && bgzf.cursor < len(b.data) {
		c := b.data[bgzf.cursor]
		bgzf.cursor++
		return c, nil
	}
	var p [1]byte
	if _, err := io.ReadFull(bgzf, p[:]); err != nil {
		return 0, err
	}
	return p[0], nil
}

// Seek positions the Reader at the given virtual offset. The
// underlying stream is only repositioned if the target block is not
// the resident one. Seeking stops any read-ahead; reading continues
// block by block afterwards.
func (bgzf *Reader) Seek(off Offset) error {
	if bgzf.err != nil {
		return bgzf.err
	}
	file, within := off.File(), int(off.Block())
	if b := bgzf.block; b != nil && b.offset == file {
		if within > len(b.data) {
			return bgzf.fail(formatError(file, "in-block offset %v beyond block of %v bytes", within, len(b.data)))
		}
		bgzf.cursor = within
		return nil
	}
	if bgzf.rs == nil {
		return bgzf.fail(utils.NewIOError("bgzf: seek", errors.New("underlying reader is not seekable")))
	}
	if bgzf.ahead != nil {
		bgzf.ahead.stop()
		bgzf.ahead = nil
	}
	if _, err := bgzf.rs.Seek(file, io.SeekStart); err != nil {
		return bgzf.fail(utils.NewIOError("bgzf: seek", err))
	}
	putBlock(bgzf.block)
	bgzf.block = nil
	bgzf.offset = file
	bgzf.lastEOF = true
	if err := bgzf.nextBlock(); err != nil {
		if err == io.EOF && within == 0 {
			return nil
		}
		if err == io.EOF {
			return bgzf.fail(formatError(file, "seek beyond end of stream"))
		}
		return err
	}
	if within > len(bgzf.block.data) {
		return bgzf.fail(formatError(file, "in-block offset %v beyond block of %v bytes", within, len(bgzf.block.data)))
	}
	bgzf.cursor = within
	return nil
}

// Close stops any read-ahead and closes the underlying file if the
// Reader was created by Open.
func (bgzf *Reader) Close() (err error) {
	if bgzf.ahead != nil {
		err = bgzf.ahead.stop()
		bgzf.ahead = nil
	}
	putBlock(bgzf.block)
	bgzf.block = nil
	if bgzf.closer != nil {
		if nerr := bgzf.closer.Close(); err == nil {
			err = nerr
		}
		bgzf.closer = nil
	}
	return err
}

type (
	// readAhead decompresses blocks in a pargo pipeline, one block
	// per task, and delivers them in file order.
	readAhead struct {
		r       io.Reader
		offset  int64
		err     error
		p       pipeline.Pipeline
		done    chan struct{}
		channel chan *block
		ctx     context.Context
		cancel  func()
		data    interface{}
	}

	internalReadAhead readAhead
)

// Err implements the corresponding method of pipeline.Source
func (ra *internalReadAhead) Err() error {
	if ra.err != io.EOF {
		return ra.err
	}
	return nil
}

// Prepare implements the corresponding method of pipeline.Source
func (ra *internalReadAhead) Prepare(_ context.Context) (size int) {
	return -1
}

// Fetch implements the corresponding method of pipeline.Source
func (ra *internalReadAhead) Fetch(size int) (fetched int) {
	if ra.err != nil || ra.ctx.Err() != nil {
		return 0
	}
	b := getBlock()
	if err := readRawBlock(ra.r, ra.offset, b); err != nil {
		putBlock(b)
		ra.err = err
		ra.data = nil
		return 0
	}
	ra.offset += int64(b.size)
	ra.data = b
	return 1
}

// Data implements the corresponding method of pipeline.Source
func (ra *internalReadAhead) Data() interface{} {
	return ra.data
}

func newReadAhead(ctx context.Context, r io.Reader, offset int64, workers int) *readAhead {
	ctx, cancel := context.WithCancel(ctx)
	ra := &readAhead{
		r:       r,
		offset:  offset,
		channel: make(chan *block, workers),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	ra.p.Source((*internalReadAhead)(ra))
	ra.p.Add(pipeline.LimitedPar(workers, pipeline.Receive(func(_ int, data interface{}) interface{} {
		b := data.(*block)
		if err := inflate(b); err != nil {
			ra.p.SetErr(err)
		}
		return b
	})), pipeline.StrictOrd(pipeline.ReceiveAndFinalize(func(_ int, data interface{}) interface{} {
		select {
		case <-ra.ctx.Done():
			putBlock(data.(*block))
		case ra.channel <- data.(*block):
		}
		return nil
	}, func() {
		close(ra.channel)
	})))
	go func() {
		defer close(ra.done)
		ra.p.Run()
	}()
	return ra
}

// next returns the following block, or the error that ended the
// pipeline.
func (ra *readAhead) next() (*block, error) {
	select {
	case b, ok := <-ra.channel:
		if ok {
			return ra.deliver(b)
		}
	case <-ra.done:
		select {
		case b, ok := <-ra.channel:
			if ok {
				return ra.deliver(b)
			}
		default:
		}
	}
	<-ra.done
	if err := ra.p.Err(); err != nil {
		return nil, err
	}
	if ra.err != nil {
		return nil, ra.err
	}
	if err := ra.ctx.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (ra *readAhead) deliver(b *block) (*block, error) {
	if err := ra.p.Err(); err != nil {
		putBlock(b)
		return nil, err
	}
	return b, nil
}

func (ra *readAhead) stop() error {
	ra.cancel()
	for {
		select {
		case b, ok := <-ra.channel:
			if !ok {
				<-ra.done
				return ra.p.Err()
			}
			putBlock(b)
		case <-ra.done:
			for {
				select {
				case b, ok := <-ra.channel:
					if ok {
						putBlock(b)
						continue
					}
				default:
				}
				return ra.p.Err()
			}
		}
	}
}
