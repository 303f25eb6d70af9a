// Package tail reads the game's log file incrementally. The game appends
// constantly while running and recreates the file on every launch, so the
// reader has to survive rotation, partial writes and the UTF-16 encoding
// the client sometimes emits.
package tail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"ti-tracker/internal/logger"
)

// pollChunk caps how many bytes a single Poll consumes. Anything beyond it
// is picked up by the next poll.
const pollChunk = 4 << 20

// ScanbackBytes is the window LastLines reads from the end of the file when
// the tracker starts against an already-running game.
const ScanbackBytes = 5 << 20

// fpHeadBytes is how much of the file head identifies it across restarts.
// The game stamps a launch timestamp into its first lines, so a replacement
// file differs here even when its size happens to exceed the saved offset.
const fpHeadBytes = 64

type encoding int

const (
	encUnknown encoding = iota
	encUTF8
	encUTF16LE
)

// Reader tails one file from a byte offset. The offset only ever advances
// past complete newline-terminated lines, so a caller that persists it
// together with Fingerprint can resume after a crash without losing or
// repeating lines.
type Reader struct {
	path   string
	offset int64
	enc    encoding
	info   os.FileInfo // stat from the last poll, nil before the first
	fp     string      // head fingerprint of the file the offset belongs to
}

// NewReader resumes tailing path from offset. fingerprint is the head
// fingerprint persisted with the offset, or "" when none was stored; an
// offset whose fingerprint no longer matches the file is discarded.
func NewReader(path string, offset int64, fingerprint string) *Reader {
	return &Reader{path: path, offset: offset, fp: fingerprint}
}

func (r *Reader) Path() string { return r.path }

// Offset is the byte position of the first unconsumed line.
func (r *Reader) Offset() int64 { return r.offset }

// Fingerprint identifies the file the offset was measured against. Persist
// it alongside the offset; "" until the first non-empty poll.
func (r *Reader) Fingerprint() string { return r.fp }

// Poll returns the complete lines appended since the last call. A missing
// file surfaces as an fs.ErrNotExist the caller can treat as "game not
// running". An unterminated final line stays in the file until a later
// poll sees its newline.
func (r *Reader) Poll() ([]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r.checkRotation(f, info)
	r.info = info

	size := info.Size()
	if size <= r.offset {
		return nil, nil
	}
	if cur := fingerprint(f); len(cur) > len(r.fp) {
		r.fp = cur
	}

	if r.enc == encUnknown {
		r.enc = detectEncoding(f)
		if r.enc == encUnknown {
			return nil, nil
		}
	}
	if r.offset == 0 {
		r.offset = int64(bomLength(f, r.enc))
	}

	want := size - r.offset
	if want > pollChunk {
		want = pollChunk
	}
	buf := make([]byte, want)
	n, err := f.ReadAt(buf, r.offset)
	if n == 0 && err != nil {
		return nil, err
	}
	buf = buf[:n]

	// The client can flip to UTF-16 mid-file for certain character names;
	// a chunk of NUL-interleaved bytes in what was a UTF-8 stream is that
	// switchover. Sticks until the next rotation.
	if r.enc == encUTF8 && looksUTF16LE(buf) {
		logger.Warn("Tail", "%s switched to UTF-16 mid-stream", filepath.Base(r.path))
		r.enc = encUTF16LE
	}

	consumed, lines := splitLines(buf, r.enc)
	if consumed == 0 && int64(n) == pollChunk {
		// A line longer than the whole chunk would stall the reader
		// forever. Swallow the chunk as one line and move on.
		lines = []string{decode(buf, r.enc)}
		consumed = n
	}
	r.offset += int64(consumed)
	return lines, nil
}

// checkRotation resets the read position when the file at path is no longer
// the one the offset was measured against: a different inode mid-session, a
// mismatched head fingerprint after a restart, or a shrunken file.
func (r *Reader) checkRotation(f *os.File, info os.FileInfo) {
	switch {
	case r.info != nil:
		if !os.SameFile(r.info, info) {
			logger.Warn("Tail", "%s was replaced, rereading from the start", filepath.Base(r.path))
			r.reset()
			return
		}
	case r.fp != "":
		if cur := fingerprint(f); !sameHead(cur, r.fp) {
			logger.Warn("Tail", "%s no longer matches the saved position, rereading from the start",
				filepath.Base(r.path))
			r.reset()
			return
		}
	}
	if info.Size() < r.offset {
		logger.Warn("Tail", "%s shrank from %d to %d bytes, rereading from the start",
			filepath.Base(r.path), r.offset, info.Size())
		r.reset()
	}
}

func (r *Reader) reset() {
	r.offset = 0
	r.enc = encUnknown
	r.info = nil
	r.fp = ""
}

// fingerprint hex-encodes the file head. The head only ever grows in place,
// so a fingerprint taken from a short file is a prefix of later ones.
func fingerprint(f *os.File) string {
	var head [fpHeadBytes]byte
	n, _ := f.ReadAt(head[:], 0)
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%x", head[:n])
}

// sameHead matches fingerprints taken at different file lengths.
func sameHead(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// looksUTF16LE reports whether buf reads as UTF-16 LE text: a sustained run
// of NUL high bytes at odd offsets, which UTF-8 log text never contains.
func looksUTF16LE(buf []byte) bool {
	n := len(buf)
	if n > 4096 {
		n = 4096
	}
	if n < 16 {
		return false
	}
	nuls := 0
	for i := 1; i < n; i += 2 {
		if buf[i] == 0 {
			nuls++
		}
	}
	return nuls*3 > n
}

// LastLines returns the complete lines within the final maxBytes of the
// file, oldest first. When the window starts mid-file the first line is
// dropped as a likely fragment.
func LastLines(path string, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	enc := detectEncoding(f)
	if enc == encUnknown {
		return nil, nil
	}

	start := size - maxBytes
	midFile := start > int64(bomLength(f, enc))
	if !midFile {
		start = int64(bomLength(f, enc))
	}
	if enc == encUTF16LE {
		start &^= 1
	}

	buf := make([]byte, size-start)
	n, err := f.ReadAt(buf, start)
	if n == 0 && err != nil {
		return nil, err
	}
	_, lines := splitLines(buf[:n], enc)
	if midFile && len(lines) > 0 {
		lines = lines[1:]
	}
	return lines, nil
}

// detectEncoding sniffs the file head. The UE client writes a UTF-16 LE BOM
// when it uses that encoding; failing that, a NUL-heavy sample gives it away.
func detectEncoding(f *os.File) encoding {
	var head [4096]byte
	n, _ := f.ReadAt(head[:], 0)
	if n == 0 {
		return encUnknown
	}
	if n >= 2 && head[0] == 0xFF && head[1] == 0xFE {
		return encUTF16LE
	}
	if n >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		return encUTF8
	}
	nuls := 0
	for _, b := range head[:n] {
		if b == 0 {
			nuls++
		}
	}
	if nuls*3 > n {
		return encUTF16LE
	}
	return encUTF8
}

func bomLength(f *os.File, enc encoding) int {
	var head [3]byte
	n, _ := f.ReadAt(head[:], 0)
	switch {
	case enc == encUTF16LE && n >= 2 && head[0] == 0xFF && head[1] == 0xFE:
		return 2
	case enc == encUTF8 && n >= 3 && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF:
		return 3
	}
	return 0
}

// splitLines cuts buf at newline boundaries and reports how many bytes the
// returned lines (including their terminators) cover. Trailing bytes with
// no newline are left unconsumed.
func splitLines(buf []byte, enc encoding) (consumed int, lines []string) {
	if enc == encUTF16LE {
		limit := len(buf) &^ 1
		start := 0
		for i := 0; i+1 < limit; i += 2 {
			if buf[i] == '\n' && buf[i+1] == 0 {
				lines = append(lines, strings.TrimSuffix(decodeUTF16LE(buf[start:i]), "\r"))
				start = i + 2
			}
		}
		return start, lines
	}

	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			line := buf[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, string(line))
			start = i + 1
		}
	}
	return start, lines
}

func decode(buf []byte, enc encoding) string {
	if enc == encUTF16LE {
		return decodeUTF16LE(buf)
	}
	return string(buf)
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])|uint16(b[i+1])<<8)
	}
	return string(utf16.Decode(units))
}
