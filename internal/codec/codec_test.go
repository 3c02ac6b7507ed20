package codec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/spindlemq/spindle/internal/mqtt"
)

// dripReader hands out one byte per Read call.
type dripReader struct {
	data []byte
}

func (r *dripReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func encodePublish(t *testing.T, topic string, payload []byte) []byte {
	t.Helper()
	wire, err := (&mqtt.PublishPacket{Topic: topic, Payload: payload}).Encode(nil)
	if err != nil {
		t.Fatalf("Failed to encode publish: %v", err)
	}
	return wire
}

func TestDecoderSinglePacket(t *testing.T) {
	wire := encodePublish(t, "a/b", []byte{1, 2, 3})
	d := NewDecoder(bytes.NewReader(wire), 64)

	pkt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	pub, ok := pkt.(*mqtt.PublishPacket)
	if !ok {
		t.Fatalf("decoded %T, want publish", pkt)
	}
	if pub.Topic != "a/b" || !bytes.Equal(pub.Payload, []byte{1, 2, 3}) {
		t.Errorf("decoded %+v", pub)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF after last packet, got %v", err)
	}
}

func TestDecoderDripFeed(t *testing.T) {
	wire := encodePublish(t, "a/b", []byte{1, 2, 3})
	d := NewDecoder(&dripReader{data: wire}, 64)

	pkt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if pkt.Type() != mqtt.PUBLISH {
		t.Fatalf("decoded %s", pkt.Type())
	}
	// Exactly one packet came out and the buffer is fully consumed.
	if d.read != d.write {
		t.Errorf("buffer not drained: read=%d write=%d", d.read, d.write)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecoderPipelinedPackets(t *testing.T) {
	var wire []byte
	wire = append(wire, encodePublish(t, "a", []byte{1})...)
	wire = append(wire, encodePublish(t, "b", []byte{2})...)
	wire = append(wire, encodePublish(t, "c", []byte{3})...)
	d := NewDecoder(bytes.NewReader(wire), 64)

	for _, want := range []string{"a", "b", "c"} {
		pkt, err := d.Next()
		if err != nil {
			t.Fatalf("Next(%s): %v", want, err)
		}
		if got := pkt.(*mqtt.PublishPacket).Topic; got != want {
			t.Errorf("topic = %q, want %q", got, want)
		}
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecoderOversizedPacket(t *testing.T) {
	// Remaining length 300 can never fit a 64-byte buffer.
	header := []byte{0x30, 0xAC, 0x02}
	d := NewDecoder(bytes.NewReader(header), 64)

	if _, err := d.Next(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	// No bytes past the header were consumed.
	if d.read != 0 {
		t.Errorf("decoder advanced read to %d", d.read)
	}
}

func TestDecoderMalformedVarint(t *testing.T) {
	wire := []byte{0x30, 0x80, 0x80, 0x80, 0x80, 0x01}
	d := NewDecoder(bytes.NewReader(wire), 64)

	if _, err := d.Next(); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecoderEOFMidPacket(t *testing.T) {
	wire := encodePublish(t, "a/b", []byte{1, 2, 3})
	d := NewDecoder(bytes.NewReader(wire[:4]), 64)

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF on truncated stream, got %v", err)
	}
}

func TestDecoderCompactsWhenTailHitsEnd(t *testing.T) {
	// Fill most of the buffer with small packets, then one whose tail crosses
	// the buffer end. The decoder moves the partial packet to the front
	// instead of wedging.
	small := encodePublish(t, "s", bytes.Repeat([]byte{0xAA}, 10))
	big := encodePublish(t, "big/topic", bytes.Repeat([]byte{0xBB}, 20))

	var wire []byte
	for i := 0; i < 3; i++ {
		wire = append(wire, small...)
	}
	wire = append(wire, big...)

	size := 3*len(small) + len(big)/2 // forces the tail split
	d := NewDecoder(bytes.NewReader(wire), size)

	var topics []string
	for {
		pkt, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		topics = append(topics, pkt.(*mqtt.PublishPacket).Topic)
	}
	want := []string{"s", "s", "s", "big/topic"}
	if len(topics) != len(want) {
		t.Fatalf("decoded %d packets, want %d", len(topics), len(want))
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("packet %d topic = %q, want %q", i, topics[i], want[i])
		}
	}
}

func TestEncoderRejectsOversized(t *testing.T) {
	var sink bytes.Buffer
	e := NewEncoder(&sink, 16)

	pkt := &mqtt.PublishPacket{Topic: "t", Payload: bytes.Repeat([]byte{0}, 64)}
	if err := e.Write(pkt); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("expected ErrBufferTooSmall, got %v", err)
	}
	// Nothing reached the stream.
	if sink.Len() != 0 {
		t.Errorf("encoder wrote %d bytes before rejecting", sink.Len())
	}
}

func TestEncodeDecodeThroughStream(t *testing.T) {
	var pipe bytes.Buffer
	e := NewEncoder(&pipe, 256)
	in := &mqtt.PublishPacket{Topic: "x/y", Payload: []byte("hello")}
	if err := e.Write(in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	d := NewDecoder(&pipe, 256)
	pkt, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	out := pkt.(*mqtt.PublishPacket)
	if out.Topic != in.Topic || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("round trip changed packet: %+v", out)
	}
}
