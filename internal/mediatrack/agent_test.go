package mediatrack

import (
	"context"
	"testing"
)

func TestPCMByteConversionRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	back := bytesToInt16(int16ToBytes(samples))
	if len(back) != len(samples) {
		t.Fatalf("length %d, want %d", len(back), len(samples))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d: %d != %d", i, back[i], samples[i])
		}
	}
}

func TestStartRequiresRoomIdentity(t *testing.T) {
	a := &Agent{}
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("start without token/guild/channel should fail")
	}
}
