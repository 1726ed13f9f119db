package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func TestAppendLinkFrame(t *testing.T) {
	frame, err := AppendLinkFrame(nil, ChanData, 3, 1, []byte{0xde, 0xad})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{ChanData, 3, 1, 0, 2, 0, 0, 0, 0xde, 0xad}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % x, want % x", frame, want)
	}
	if _, err := AppendLinkFrame(nil, ChanMsg, 0, 0, make([]byte, 0x10000)); err == nil {
		t.Error("oversize payload accepted")
	}
}

// tricklingReader returns one byte per call, interleaved with empty reads.
type tricklingReader struct {
	data  []byte
	empty bool
}

func (r *tricklingReader) Read(p []byte) (int, error) {
	r.empty = !r.empty
	if r.empty || len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestReadFull(t *testing.T) {
	r := &tricklingReader{data: []byte{0x5a, 1, 2, 3, 4, 5}}
	buf := make([]byte, 6)
	if err := readFull(r.Read, buf, time.Second); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0x5a || buf[5] != 5 {
		t.Errorf("bad data % x", buf)
	}

	r = &tricklingReader{data: []byte{1}}
	err := readFull(r.Read, buf, 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("want timeout, got %v", err)
	}

	fail := errors.New("unplugged")
	err = readFull(func([]byte) (int, error) { return 0, fail }, buf, time.Second)
	if !errors.Is(err, fail) {
		t.Errorf("want read error, got %v", err)
	}
}

func TestWriteFull(t *testing.T) {
	var got []byte
	write := func(p []byte) (int, error) {
		n := min(len(p), 3)
		got = append(got, p[:n]...)
		return n, nil
	}
	if err := writeFull(write, []byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789" {
		t.Errorf("got %q", got)
	}
	err := writeFull(func([]byte) (int, error) { return 0, nil }, []byte{1})
	if !errors.Is(err, errShortWrite) {
		t.Errorf("want short write, got %v", err)
	}
}
