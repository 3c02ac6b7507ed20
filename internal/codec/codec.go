// Package codec frames MQTT v5 packets over a byte stream using fixed-size
// buffers. The decoder yields one parsed packet per call from a buffer that is
// never resized; byte-slice fields of parsed packets borrow that buffer.
package codec

import (
	"errors"
	"io"

	"github.com/spindlemq/spindle/internal/mqtt"
)

// DefaultBufferSize is the decoder/encoder scratch size when none is given.
const DefaultBufferSize = 1024

var (
	// ErrInvalidLength reports an oversized or malformed length prefix.
	ErrInvalidLength = errors.New("codec: invalid packet length")
	// ErrInvalid reports a parse failure of an otherwise complete packet.
	ErrInvalid = errors.New("codec: invalid packet")
	// ErrBufferTooSmall reports a packet that does not fit the scratch buffer.
	ErrBufferTooSmall = errors.New("codec: buffer too small")
	// ErrConnectionReset reports a transport error.
	ErrConnectionReset = errors.New("codec: connection reset")
)

// Decoder incrementally parses MQTT packets out of r. The buffer is never
// resized; packets as long as it or longer are rejected with ErrInvalidLength.
type Decoder struct {
	r     io.Reader
	buf   []byte
	read  int
	write int
}

// NewDecoder returns a Decoder reading from r with a buffer of size bytes.
func NewDecoder(r io.Reader, size int) *Decoder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Decoder{r: r, buf: make([]byte, size)}
}

// fill issues one read into the free tail of the buffer. When the tail is
// exhausted but the front holds already-consumed bytes, the unconsumed span is
// moved to offset 0 first. Returns io.EOF on a clean zero-byte read.
func (d *Decoder) fill() error {
	if d.write == len(d.buf) && d.read > 0 {
		copy(d.buf, d.buf[d.read:d.write])
		d.write -= d.read
		d.read = 0
	}
	n, err := d.r.Read(d.buf[d.write:])
	if n > 0 {
		d.write += n
		return nil
	}
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return ErrConnectionReset
	}
	return io.EOF
}

// Next reads the next packet from the stream. It returns io.EOF when the peer
// closes cleanly. The returned packet borrows the decoder's buffer and must be
// finished with before Next is called again.
func (d *Decoder) Next() (mqtt.Packet, error) {
	if d.read == d.write {
		d.read, d.write = 0, 0
		if err := d.fill(); err != nil {
			return nil, err
		}
	}

	for {
		total, ok, err := mqtt.PacketLength(d.buf[d.read:d.write])
		if err != nil {
			return nil, ErrInvalidLength
		}
		if !ok {
			if err := d.fill(); err != nil {
				return nil, err
			}
			continue
		}
		if total >= len(d.buf) {
			// Packets must be shorter than the buffer; it is not resized.
			return nil, ErrInvalidLength
		}
		if d.write-d.read < total {
			if err := d.fill(); err != nil {
				return nil, err
			}
			continue
		}

		start := d.read
		d.read += total
		pkt, err := mqtt.DecodePacket(d.buf[start:d.read])
		if err != nil {
			return nil, ErrInvalid
		}
		return pkt, nil
	}
}

// Encoder serializes packets into a fixed scratch buffer and writes each one
// to w in a single call.
type Encoder struct {
	w       io.Writer
	scratch []byte
}

// NewEncoder returns an Encoder writing to w with a scratch buffer of size
// bytes.
func NewEncoder(w io.Writer, size int) *Encoder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Encoder{w: w, scratch: make([]byte, size)}
}

// Write serializes pkt and writes it to the stream. Packets whose wire size
// exceeds the scratch buffer are rejected before any byte reaches the
// transport.
func (e *Encoder) Write(pkt mqtt.Packet) error {
	out, err := pkt.Encode(e.scratch[:0])
	if err != nil {
		return ErrInvalid
	}
	if len(out) > len(e.scratch) {
		return ErrBufferTooSmall
	}
	return e.WriteRaw(out)
}

// WriteRaw writes an already-serialized packet to the stream.
func (e *Encoder) WriteRaw(b []byte) error {
	for len(b) > 0 {
		n, err := e.w.Write(b)
		if err != nil {
			return ErrConnectionReset
		}
		b = b[n:]
	}
	return nil
}
