package commandrunner

import (
	"bytes"
	"io"
)

// pump reads from r in small chunks, appending to buf and forwarding each
// chunk to onChunk, until r returns EOF or an error.
func pump(r io.Reader, buf *bytes.Buffer, onChunk func(string)) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onChunk != nil {
				onChunk(string(chunk[:n]))
			}
		}
		if err != nil {
			return
		}
	}
}
