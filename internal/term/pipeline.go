package term

import (
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// During fast output, yield briefly so the reader can queue more
	// data, reducing the total number of published events.
	fastThreshold = 8 * time.Millisecond
	coalesceYield = 2 * time.Millisecond
)

// readLoop drains r until EOF, forwarding chunks on dataCh. A rune
// split across two reads is held back and prepended to the next chunk
// so subscribers always receive whole UTF-8 sequences. Closing dataCh
// is the emitter's shutdown signal.
func readLoop(r io.Reader, dataCh chan<- string) {
	defer close(dataCh)
	buf := make([]byte, readBufferSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(carry) > 0 {
				chunk = append(carry, chunk...)
			}
			keep := trailingPartialRune(chunk)
			if cut := len(chunk) - keep; cut > 0 {
				dataCh <- string(chunk[:cut])
			}
			carry = append(carry[:0:0], chunk[len(chunk)-keep:]...)
		}
		if err != nil {
			return
		}
	}
}

// trailingPartialRune returns how many bytes at the end of b begin a
// UTF-8 sequence that has not finished arriving. Complete (even
// invalid) sequences return 0 so garbage bytes pass through instead of
// accumulating.
func trailingPartialRune(b []byte) int {
	for back := 1; back <= utf8.UTFMax && back <= len(b); back++ {
		c := b[len(b)-back]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-back:]) {
				return 0
			}
			return back
		}
	}
	return 0
}

// pump receives from dataCh until it closes, batching bursts before
// calling emit. After an emit it yields briefly when output is still
// flowing fast, letting the reader queue more data into the same
// batch. During light activity data is emitted immediately.
func pump(dataCh <-chan string, emit func(string)) {
	var batch strings.Builder
	lastEmit := time.Now().Add(-fastThreshold)
	for {
		data, ok := <-dataCh
		if !ok {
			return
		}
		batch.WriteString(data)
		drain(dataCh, &batch)
		if time.Since(lastEmit) < fastThreshold {
			time.Sleep(coalesceYield)
			drain(dataCh, &batch)
		}
		if batch.Len() > 0 {
			emit(batch.String())
			batch.Reset()
			lastEmit = time.Now()
		}
	}
}

// drain moves everything currently queued on dataCh into batch without
// blocking.
func drain(dataCh <-chan string, batch *strings.Builder) {
	for {
		select {
		case data, ok := <-dataCh:
			if !ok {
				return
			}
			batch.WriteString(data)
		default:
			return
		}
	}
}
