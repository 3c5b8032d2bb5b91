package fat

import (
	"io"

	"github.com/dsoprea/go-logging"
)

// Run is one contiguous extent of an allocation, expressed in allocation
// units (clusters for FAT, sectors for exFAT).
type Run struct {
	Offset int64
	Length int64
}

// Runlist is an ordered list of runs. Concatenating the runs in order yields
// the logical byte order of the owning file or directory.
type Runlist []Run

// TotalUnits returns the summed length of all runs.
func (rl Runlist) TotalUnits() (total int64) {
	for _, run := range rl {
		total += run.Length
	}

	return total
}

// SizedReadSeeker is a bounded, linear view over some region of an
// underlying byte source.
type SizedReadSeeker interface {
	io.ReadSeeker

	// Size returns the total logical length of the view.
	Size() int64
}

// RunlistReader presents a runlist over a backing reader as one linear,
// size-bounded stream. The runs may be non-contiguous; reads are stitched
// across run boundaries transparently. Not safe for concurrent use.
type RunlistReader struct {
	backing  io.ReaderAt
	runs     Runlist
	size     int64
	unitSize int64
	offset   int64
}

// NewRunlistReader returns a reader over the given runs. Runs are expressed
// in units of unitSize bytes; size bounds the logical stream and may be
// smaller than the total extent of the runs (slack is never exposed).
func NewRunlistReader(backing io.ReaderAt, runs Runlist, size, unitSize int64) *RunlistReader {
	return &RunlistReader{
		backing:  backing,
		runs:     runs,
		size:     size,
		unitSize: unitSize,
	}
}

// Size returns the logical stream length.
func (rr *RunlistReader) Size() int64 {
	return rr.size
}

// Tell returns the current logical position.
func (rr *RunlistReader) Tell() int64 {
	return rr.offset
}

func (rr *RunlistReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += rr.offset
	case io.SeekEnd:
		offset += rr.size
	default:
		return 0, log.Errorf("seek whence not valid: (%d)", whence)
	}

	if offset < 0 {
		return 0, log.Errorf("seek offset is negative: (%d)", offset)
	}

	rr.offset = offset

	return offset, nil
}

func (rr *RunlistReader) Read(p []byte) (n int, err error) {
	if rr.offset >= rr.size {
		return 0, io.EOF
	}

	if remaining := rr.size - rr.offset; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	for len(p) > 0 {
		physical, available, found := rr.translate(rr.offset)
		if found == false {
			return n, log.Errorf("offset (%d) exceeds the runlist extent", rr.offset)
		}

		chunk := int64(len(p))
		if chunk > available {
			chunk = available
		}

		read, err := rr.backing.ReadAt(p[:chunk], physical)

		n += read
		rr.offset += int64(read)

		if err != nil {
			return n, err
		}

		p = p[chunk:]
	}

	return n, nil
}

// translate maps a logical stream offset to a physical byte offset in the
// backing reader, and reports how many bytes remain in the containing run.
func (rr *RunlistReader) translate(logical int64) (physical, available int64, found bool) {
	position := int64(0)
	for _, run := range rr.runs {
		runBytes := run.Length * rr.unitSize
		if logical < position+runBytes {
			within := logical - position
			return run.Offset*rr.unitSize + within, runBytes - within, true
		}

		position += runBytes
	}

	return 0, 0, false
}

// readerAtSeeker is the backing-source contract used internally. The random
// access is needed to serve multiple concurrently-open file views.
type readerAtSeeker interface {
	io.ReaderAt
	io.ReadSeeker
}

// asReaderAtSeeker upgrades a plain ReadSeeker with a ReadAt implemented in
// terms of Seek. The adapter shares the seek cursor with its source and is
// not safe for concurrent use.
func asReaderAtSeeker(rs io.ReadSeeker) readerAtSeeker {
	if ras, ok := rs.(readerAtSeeker); ok == true {
		return ras
	}

	return &seekingReaderAt{rs: rs}
}

type seekingReaderAt struct {
	rs io.ReadSeeker
}

func (sra *seekingReaderAt) Read(p []byte) (int, error) {
	return sra.rs.Read(p)
}

func (sra *seekingReaderAt) Seek(offset int64, whence int) (int64, error) {
	return sra.rs.Seek(offset, whence)
}

func (sra *seekingReaderAt) ReadAt(p []byte, offset int64) (int, error) {
	if _, err := sra.rs.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	return io.ReadFull(sra.rs, p)
}
