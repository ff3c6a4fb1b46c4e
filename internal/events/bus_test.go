package events

import (
	"testing"
)

func TestOnEmit(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.On(FileChange, func(payload interface{}) {
		p := payload.(FileChangePayload)
		got = append(got, p.Path)
	})

	bus.Emit(FileChange, FileChangePayload{Path: "/a.js", Content: "1"})
	bus.Emit(FileChange, FileChangePayload{Path: "/b.js", Content: "2"})

	if len(got) != 2 || got[0] != "/a.js" || got[1] != "/b.js" {
		t.Errorf("unexpected deliveries: %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	off := bus.On(StatusChange, func(interface{}) { calls++ })

	bus.Emit(StatusChange, "ready")
	off()
	bus.Emit(StatusChange, "error")

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestOnce(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.Once(PreviewReady, func(interface{}) { calls++ })

	bus.Emit(PreviewReady, PreviewReadyPayload{Port: 3000})
	bus.Emit(PreviewReady, PreviewReadyPayload{Port: 3000})

	if calls != 1 {
		t.Errorf("expected once handler to fire once, got %d", calls)
	}
	if n := bus.ListenerCount(PreviewReady); n != 0 {
		t.Errorf("expected 0 listeners after once fired, got %d", n)
	}
}

func TestPanicIsolation(t *testing.T) {
	bus := NewBus(nil)

	second := false
	bus.On(Error, func(interface{}) { panic("handler blew up") })
	bus.On(Error, func(interface{}) { second = true })

	bus.Emit(Error, "boom")

	if !second {
		t.Error("second handler should run despite first panicking")
	}
}

func TestUnsubscribeMidFanout(t *testing.T) {
	bus := NewBus(nil)

	var offSecond func()
	first := 0
	second := 0
	bus.On(FilesUpdate, func(interface{}) {
		first++
		offSecond()
	})
	offSecond = bus.On(FilesUpdate, func(interface{}) { second++ })

	// The fanout snapshot was taken before the first handler ran, so the
	// second handler still sees this emit; the next one it does not.
	bus.Emit(FilesUpdate, nil)
	bus.Emit(FilesUpdate, nil)

	if first != 2 {
		t.Errorf("first handler calls = %d, want 2", first)
	}
	if second != 1 {
		t.Errorf("second handler calls = %d, want 1", second)
	}
}

func TestRemoveAllListeners(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.On(StatusChange, func(interface{}) { calls++ })
	bus.On(FileChange, func(interface{}) { calls++ })

	bus.RemoveAllListeners()
	bus.Emit(StatusChange, nil)
	bus.Emit(FileChange, nil)

	if calls != 0 {
		t.Errorf("expected no calls after RemoveAllListeners, got %d", calls)
	}
}
