package dmx

import (
	"testing"
	"time"
)

func frameAt(t *testing.T, u *Universe, now time.Time) [UniverseSize]byte {
	t.Helper()
	frame, _ := u.Tick(now)
	return frame
}

func TestUniverseInstantWithoutDimDuration(t *testing.T) {
	u := NewUniverse(1, "front")
	t0 := time.Now()

	u.Set(0, 0, true, t0)
	u.Set(1, 50, true, t0)
	u.Set(2, 100, true, t0)
	u.Set(3, 150, true, t0)
	u.Set(4, 200, true, t0)

	frame := frameAt(t, u, t0)
	want := []byte{0, 50, 100, 150, 200}
	for i, w := range want {
		if frame[i] != w {
			t.Fatalf("channel %d = %d, want %d", i, frame[i], w)
		}
	}
}

func TestUniverseUndimmedWriteIgnoresDuration(t *testing.T) {
	u := NewUniverse(1, "front")
	u.SetDimDuration(2 * time.Second)
	t0 := time.Now()

	u.Set(0, 200, false, t0)

	frame := frameAt(t, u, t0)
	if frame[0] != 200 {
		t.Fatalf("channel 0 = %d, want immediate 200", frame[0])
	}
}

func TestUniverseDimsOverDuration(t *testing.T) {
	u := NewUniverse(1, "front")
	u.SetDimDuration(2 * time.Second)
	t0 := time.Now()

	u.Set(0, 0, true, t0)
	u.Set(1, 50, true, t0)
	u.Set(2, 100, true, t0)
	u.Set(3, 150, true, t0)
	u.Set(4, 200, true, t0)

	frame := frameAt(t, u, t0.Add(time.Second))
	want := []byte{0, 25, 50, 75, 100}
	for i, w := range want {
		if frame[i] != w {
			t.Fatalf("halfway channel %d = %d, want %d", i, frame[i], w)
		}
	}

	frame = frameAt(t, u, t0.Add(2*time.Second))
	want = []byte{0, 50, 100, 150, 200}
	for i, w := range want {
		if frame[i] != w {
			t.Fatalf("final channel %d = %d, want %d", i, frame[i], w)
		}
	}

	if _, changed := u.Tick(t0.Add(3 * time.Second)); changed {
		t.Fatal("universe reported change after transitions completed")
	}
}

func TestUniverseMidpointValue(t *testing.T) {
	// Program value 5 at a 0.25 speed modifier gives a 1.25s
	// transition; halfway to 126 must land within one step of 63.
	u := NewUniverse(1, "front")
	u.SetDimDuration(1250 * time.Millisecond)
	t0 := time.Now()

	u.Set(7, 126, true, t0)

	frame := frameAt(t, u, t0.Add(625*time.Millisecond))
	if frame[7] < 62 || frame[7] > 64 {
		t.Fatalf("midpoint = %d, want 63 within one step", frame[7])
	}

	frame = frameAt(t, u, t0.Add(1250*time.Millisecond))
	if frame[7] != 126 {
		t.Fatalf("final = %d, want 126", frame[7])
	}
}

func TestUniverseIndependentChannelDurations(t *testing.T) {
	u := NewUniverse(1, "front")
	t0 := time.Now()

	u.SetDimDuration(time.Second)
	u.Set(0, 100, true, t0)

	// Changing the dim duration must not touch channel 0's transition.
	u.SetDimDuration(2 * time.Second)
	u.Set(1, 100, true, t0)

	frame := frameAt(t, u, t0.Add(time.Second))
	if frame[0] != 100 {
		t.Fatalf("channel 0 = %d, want 100 after its 1s transition", frame[0])
	}
	if frame[1] != 50 {
		t.Fatalf("channel 1 = %d, want 50 halfway through 2s", frame[1])
	}

	frame = frameAt(t, u, t0.Add(2*time.Second))
	if frame[0] != 100 || frame[1] != 100 {
		t.Fatalf("final = %d, %d, want 100, 100", frame[0], frame[1])
	}
}

func TestUniverseRetargetRestartsFromCurrent(t *testing.T) {
	u := NewUniverse(1, "front")
	t0 := time.Now()

	u.SetDimDuration(time.Second)
	u.Set(0, 100, true, t0)

	half := t0.Add(500 * time.Millisecond)
	frame := frameAt(t, u, half)
	if frame[0] != 50 {
		t.Fatalf("halfway = %d, want 50", frame[0])
	}

	// A new write starts a fresh transition from the current level
	// under the new duration.
	u.SetDimDuration(2 * time.Second)
	u.Set(0, 100, true, half)

	frame = frameAt(t, u, half.Add(time.Second))
	if frame[0] != 75 {
		t.Fatalf("after 1s of new transition = %d, want 75", frame[0])
	}
	frame = frameAt(t, u, half.Add(2*time.Second))
	if frame[0] != 100 {
		t.Fatalf("final = %d, want 100", frame[0])
	}
}

func TestUniverseZeroDurationMeansInstant(t *testing.T) {
	u := NewUniverse(1, "front")
	u.SetDimDuration(0)
	t0 := time.Now()

	u.Set(0, 255, true, t0)
	frame := frameAt(t, u, t0)
	if frame[0] != 255 {
		t.Fatalf("channel 0 = %d, want instant 255", frame[0])
	}
}

func TestUniverseDimToBlack(t *testing.T) {
	u := NewUniverse(1, "front")
	t0 := time.Now()

	u.Set(0, 200, true, t0)
	frameAt(t, u, t0)

	u.SetDimDuration(time.Second)
	u.Set(0, 0, true, t0)

	frame := frameAt(t, u, t0.Add(500*time.Millisecond))
	if frame[0] != 100 {
		t.Fatalf("halfway down = %d, want 100", frame[0])
	}
	frame = frameAt(t, u, t0.Add(time.Second))
	if frame[0] != 0 {
		t.Fatalf("final = %d, want 0", frame[0])
	}
}

func TestUniverseIgnoresOutOfRangeChannel(t *testing.T) {
	u := NewUniverse(1, "front")
	u.Set(UniverseSize, 255, false, time.Now())
	if _, changed := u.Tick(time.Now()); changed {
		t.Fatal("out-of-range write should not change the frame")
	}
}
