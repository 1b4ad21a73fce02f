package stream

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeUpdateRoundTrip(t *testing.T) {
	body := make([]byte, 21)
	body[0] = 3
	binary.LittleEndian.PutUint32(body[1:5], math.Float32bits(12.5))
	binary.LittleEndian.PutUint32(body[5:9], math.Float32bits(-4))
	binary.LittleEndian.PutUint32(body[9:13], 1024)
	binary.LittleEndian.PutUint32(body[13:17], 768)
	binary.LittleEndian.PutUint32(body[17:21], math.Float32bits(2))
	msg, err := DecodeUpdate(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Slot != 3 || msg.X != 12.5 || msg.Y != -4 || msg.Width != 1024 || msg.Height != 768 || msg.Zoom != 2 {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeUpdateRejectsWrongLength(t *testing.T) {
	if _, err := DecodeUpdate(make([]byte, 5)); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeOpenResponseDecodesSlotAndID(t *testing.T) {
	id := uuid.New()
	frame := EncodeOpenResponse(2, id, ImageDesc{Width: 4096, Height: 2048, LevelCount: 4})
	if frame[0] != TagOpen {
		t.Fatalf("expected tag byte, got %d", frame[0])
	}
	// Slot byte and slide id come first; the ImageDesc is appended after them.
	open, err := DecodeOpen(frame[1:18])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open.Slot != 2 || open.ID != id {
		t.Fatalf("unexpected round trip: %+v", open)
	}
}

func TestEncodeTileDataHeaderLayout(t *testing.T) {
	body := []byte{1, 2, 3}
	frame := EncodeTileData(7, 1, 2, 3, body)
	if len(frame) != 13+len(body) {
		t.Fatalf("unexpected frame length %d", len(frame))
	}
	if frame[0] != 7 {
		t.Fatalf("expected slot byte 7, got %d", frame[0])
	}
	if string(frame[13:]) != string(body) {
		t.Fatalf("tile body corrupted in frame")
	}
}
