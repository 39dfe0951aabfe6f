package compiler

import (
	"fmt"
	"strings"

	"github.com/halcyonml/halcyon/errors"
	"github.com/halcyonml/halcyon/internal/ffi"
)

// Source is a named input buffer owned by a session.
type Source struct {
	h ffi.CSourceHandle
}

// SourceFromFile reads a source from disk.
func (s *Session) SourceFromFile(path string) (*Source, error) {
	h, e := ffi.CSourceOpenFile(s.h, path)
	if e != 0 {
		msg := ffi.CErrorMessage(e)
		ffi.CErrorDestroy(e)
		return nil, errors.Wrap(errors.PhaseParse, errors.KindFileNotFound, nil, msg)
	}
	return &Source{h: h}, nil
}

// SourceFromNulString wraps a string as a NUL-terminated source buffer.
// A NUL byte embedded in the text is rejected, since it would truncate
// the buffer at the foreign boundary.
func (s *Session) SourceFromNulString(name, text string) (*Source, error) {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return nil, errors.InvalidString(errors.PhaseParse,
			fmt.Sprintf("source text contains NUL at byte %d", i))
	}
	return s.SourceWrapBuffer(name, []byte(text))
}

// SourceWrapBuffer wraps an in-memory buffer as a named source.
func (s *Session) SourceWrapBuffer(name string, data []byte) (*Source, error) {
	h, e := ffi.CSourceWrapBuffer(s.h, name, data)
	if e != 0 {
		return nil, cerr(errors.PhaseParse, errors.KindInvalidData, e)
	}
	return &Source{h: h}, nil
}

// Split separates a source at "// -----" document markers, one new
// source per document. The receiver stays valid.
func (s *Source) Split() ([]*Source, error) {
	handles, e := ffi.CSourceSplit(s.h)
	if e != 0 {
		return nil, cerr(errors.PhaseParse, errors.KindInvalidData, e)
	}
	out := make([]*Source, len(handles))
	for i, h := range handles {
		out[i] = &Source{h: h}
	}
	return out, nil
}

// Close destroys the source buffer.
func (s *Source) Close() {
	ffi.CSourceDestroy(s.h)
}

// Output buffers compiler results. Contents reach their destination only
// once Keep is called; closing an unkept file output discards it.
type Output struct {
	h ffi.COutputHandle
}

// OutputToFile creates an output that writes to path on Keep.
func OutputToFile(path string) (*Output, error) {
	h, e := ffi.COutputOpenFile(path)
	if e != 0 {
		return nil, cerr(errors.PhaseOutput, errors.KindInvalidData, e)
	}
	return &Output{h: h}, nil
}

// OutputToFD creates an output that writes through an open descriptor.
func OutputToFD(fd int) (*Output, error) {
	h, e := ffi.COutputOpenFD(fd)
	if e != 0 {
		return nil, cerr(errors.PhaseOutput, errors.KindInvalidData, e)
	}
	return &Output{h: h}, nil
}

// OutputToMemory creates an in-memory output.
func OutputToMemory() (*Output, error) {
	h, e := ffi.COutputOpenMembuffer()
	if e != 0 {
		return nil, cerr(errors.PhaseOutput, errors.KindInvalidData, e)
	}
	return &Output{h: h}, nil
}

// Map returns the bytes written so far to a memory output. The slice is
// only valid until the output is closed.
func (o *Output) Map() ([]byte, error) {
	data, e := ffi.COutputMapMemory(o.h)
	if e != 0 {
		return nil, cerr(errors.PhaseOutput, errors.KindInvalidData, e)
	}
	return data, nil
}

// Keep commits the output to its destination.
func (o *Output) Keep() error {
	return cerr(errors.PhaseOutput, errors.KindInvalidData, ffi.COutputKeep(o.h))
}

// Close destroys the output, discarding unkept file contents.
func (o *Output) Close() {
	ffi.COutputDestroy(o.h)
}
