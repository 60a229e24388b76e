package frame

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

const (
	// DefaultReaderBufferSize holds the largest uncompressed JSON frame.
	DefaultReaderBufferSize = 80 * 1024

	magicLo = byte(Magic & 0xFF)
	magicHi = byte(Magic >> 8)
)

var ErrJSONTooLarge = errors.New("frame: json message exceeds reader buffer")

// MessageKind classifies one unit split from a byte stream.
type MessageKind int

const (
	MessageFrame MessageKind = iota + 1
	MessageJSON
	MessageRaw
)

func (k MessageKind) String() string {
	switch k {
	case MessageFrame:
		return "frame"
	case MessageJSON:
		return "json"
	case MessageRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Message is one complete frame, one JSON value, or bytes that match neither.
// Raw messages also carry the header of a frame whose length cannot be known
// and the consumed bytes of a compressed frame that failed to inflate.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Reader splits a stream that interleaves JSON control messages and binary frames.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultReaderBufferSize)
}

func NewReaderSize(r io.Reader, size int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, size)}
}

// Next blocks until one message is available.
func (r *Reader) Next() (Message, error) {
	for {
		head, err := r.br.Peek(1)
		if err != nil {
			return Message{}, err
		}
		switch head[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = r.br.Discard(1)
			continue
		case '{', '[':
			return r.readJSON()
		case magicLo:
			return r.readFrame()
		default:
			return r.readRaw()
		}
	}
}

// readRaw consumes buffered bytes up to the next byte that could start a JSON
// value or a frame.
func (r *Reader) readRaw() (Message, error) {
	buf, _ := r.br.Peek(r.br.Buffered())
	n := 1
	for n < len(buf) && !isMessageStart(buf[n]) {
		n++
	}
	return r.readRawN(n)
}

func isMessageStart(c byte) bool {
	return c == '{' || c == '[' || c == magicLo
}

// readJSON takes one JSON value that ends before the first newline. A candidate
// that breaks JSON syntax or crosses a newline gives up only its leading byte as
// raw data, so a stray brace cannot swallow the frames behind it.
func (r *Reader) readJSON() (Message, error) {
	want := max(1, r.br.Buffered())
	for {
		buf, err := r.br.Peek(want)
		switch n, state := scanJSON(buf); state {
		case jsonComplete:
			if !json.Valid(buf[:n]) {
				return r.readRawByte()
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			_, _ = r.br.Discard(n)
			return Message{Kind: MessageJSON, Data: data}, nil
		case jsonInvalid:
			return r.readRawByte()
		}
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return Message{}, ErrJSONTooLarge
			}
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return Message{}, io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
		want = r.br.Buffered() + 1
		if want > r.br.Size() {
			return Message{}, ErrJSONTooLarge
		}
	}
}

func (r *Reader) readFrame() (Message, error) {
	head, err := r.br.Peek(HeaderLen)
	if err != nil {
		return Message{}, err
	}
	if head[1] != magicHi {
		return r.readRawByte()
	}
	typeByte := head[2]
	if typeByte&FlagCompressed != 0 {
		return r.readCompressedFrame()
	}

	t := Type(typeByte & TypeMask)
	payloadLen, ok := FixedPayloadLen(t)
	if !ok {
		if t != TypeGeneric && t != TypeBatch {
			return r.readRawN(HeaderLen)
		}
		jsonHead, err := r.br.Peek(HeaderLen + JSONHeaderLen)
		if err != nil {
			return Message{}, err
		}
		payloadLen = JSONHeaderLen + int(binary.LittleEndian.Uint16(jsonHead[HeaderLen+2:]))
	}
	total := HeaderLen + payloadLen + ChecksumLen
	if total > r.br.Size() {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}
	buf, err := r.br.Peek(total)
	if err != nil {
		return Message{}, err
	}
	data := make([]byte, total)
	copy(data, buf)
	_, _ = r.br.Discard(total)
	return Message{Kind: MessageFrame, Data: data}, nil
}

func (r *Reader) readRawByte() (Message, error) {
	return r.readRawN(1)
}

func (r *Reader) readRawN(n int) (Message, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Message{}, err
	}
	return Message{Kind: MessageRaw, Data: data}, nil
}

// readCompressedFrame consumes exactly one zlib stream; zlib is self-terminating
// and reads byte-wise from an io.ByteReader, so nothing past the stream is consumed.
func (r *Reader) readCompressedFrame() (Message, error) {
	var out bytes.Buffer
	if _, err := io.CopyN(&out, r.br, HeaderLen); err != nil {
		return Message{}, err
	}
	rec := &recorder{br: r.br, buf: &out}
	zr, err := zlib.NewReader(rec)
	if err != nil {
		return r.afterInflateError(&out, err)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(zr, maxInflatedLen+1))
	_ = zr.Close()
	if err != nil {
		return r.afterInflateError(&out, err)
	}
	if n > maxInflatedLen {
		return Message{Kind: MessageRaw, Data: out.Bytes()}, nil
	}
	if _, err := io.CopyN(&out, r.br, ChecksumLen); err != nil {
		return Message{}, err
	}
	return Message{Kind: MessageFrame, Data: out.Bytes()}, nil
}

// afterInflateError surfaces transport errors and turns corrupt streams into raw
// data so the caller can keep reading.
func (r *Reader) afterInflateError(out *bytes.Buffer, err error) (Message, error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if _, perr := r.br.Peek(1); perr != nil {
			return Message{}, perr
		}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return Message{}, err
	}
	return Message{Kind: MessageRaw, Data: out.Bytes()}, nil
}

type recorder struct {
	br  *bufio.Reader
	buf *bytes.Buffer
}

func (r *recorder) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	r.buf.Write(p[:n])
	return n, err
}

func (r *recorder) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err == nil {
		r.buf.WriteByte(b)
	}
	return b, err
}

type jsonState int

const (
	jsonPartial jsonState = iota
	jsonComplete
	jsonInvalid
)

// jsonLiteralBytes may appear outside strings: numbers plus true, false and null.
const jsonLiteralBytes = "0123456789-+.eEtrufalsn"

// scanJSON finds the end of the object or array that starts b. It reports
// jsonInvalid at a newline before the value closes, at a control byte inside a
// string, or at a byte outside strings that JSON cannot contain.
func scanJSON(b []byte) (int, jsonState) {
	depth := 0
	inString := false
	escaped := false
	for i, c := range b {
		if inString {
			switch {
			case c < 0x20:
				return i, jsonInvalid
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, jsonComplete
			}
		case '\n':
			return i, jsonInvalid
		case ' ', '\t', '\r', ',', ':':
		default:
			if strings.IndexByte(jsonLiteralBytes, c) < 0 {
				return i, jsonInvalid
			}
		}
	}
	return len(b), jsonPartial
}
