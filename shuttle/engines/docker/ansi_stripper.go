package docker

import (
	"io"

	"regexp"
)

// regex to match ANSI escape codes (e.g., color codes, cursor moves)
const ansi = "[][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"

var re = regexp.MustCompile(ansi)

type ansiStrippingWriter struct {
	underlying io.Writer
}

func stripAnsi(w io.Writer) io.Writer {
	return &ansiStrippingWriter{underlying: w}
}

func (w *ansiStrippingWriter) Write(p []byte) (int, error) {
	clean := re.ReplaceAll(p, []byte{})
	if _, err := w.underlying.Write(clean); err != nil {
		return 0, err
	}
	return len(p), nil
}
