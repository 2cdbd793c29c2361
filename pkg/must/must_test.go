package must

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

// failingWriter is a writer that writes only a prefix of its input.
type failingWriter struct {
	// limit is the number of bytes accepted per write.
	limit int
	// err is returned from each write.
	err error
}

// Write implements io.Writer.Write.
func (w *failingWriter) Write(buffer []byte) (int, error) {
	if len(buffer) > w.limit {
		return w.limit, w.err
	}
	return len(buffer), nil
}

// closer records closure.
type closer struct {
	// closed indicates whether or not Close was invoked.
	closed bool
}

// Close implements io.Closer.Close.
func (c *closer) Close() error {
	c.closed = true
	return errors.New("close failure")
}

// TestFprintln tests line printing.
func TestFprintln(t *testing.T) {
	buffer := &bytes.Buffer{}
	Fprintln(buffer, nil, "created", "/a")
	if buffer.String() != "created /a\n" {
		t.Error("unexpected output:", buffer.String())
	}

	// Verify that failures don't panic with a nil logger.
	Fprintln(&failingWriter{limit: 2, err: errors.New("write failure")}, nil, "created")
	Fprintln(&failingWriter{limit: 2}, nil, "created")
}

// TestClose tests that closure failures are absorbed.
func TestClose(t *testing.T) {
	c := &closer{}
	Close(c, nil)
	if !c.closed {
		t.Error("closer not closed")
	}
	invoked := false
	Stop(func() error { invoked = true; return errors.New("stop failure") }, nil)
	if !invoked {
		t.Error("stop function not invoked")
	}
}
