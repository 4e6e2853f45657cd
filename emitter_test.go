package orbit

import (
	"testing"
)

func Test_Emitter_Emit_RunsListenersInRegistrationOrder(t *testing.T) {
	var e Emitter
	var got []string

	e.On("change", func(args ...any) { got = append(got, "first:"+args[0].(string)) })
	e.On("change", func(args ...any) { got = append(got, "second:"+args[0].(string)) })
	e.On("other", func(args ...any) { got = append(got, "other") })

	e.Emit("change", "a")
	e.Emit("change", "b")

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if len(got) != len(want) {
		t.Fatalf("emissions got = %v, want = %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emission %d got = %q, want = %q", i, got[i], want[i])
		}
	}
}

func Test_Emitter_One_FiresAtMostOnce(t *testing.T) {
	var e Emitter
	var count int

	e.One("change", func(args ...any) { count++ })
	e.Emit("change")
	e.Emit("change")

	if count != 1 {
		t.Fatalf("one-shot listener ran %d times, want 1", count)
	}
	if got := e.ListenerCount("change"); got != 0 {
		t.Fatalf("ListenerCount got = %d, want = 0", got)
	}
}

func Test_Emitter_Off_RemovesByFunctionIdentity(t *testing.T) {
	var e Emitter
	var a, b int

	listenerA := func(args ...any) { a++ }
	listenerB := func(args ...any) { b++ }
	e.On("change", listenerA)
	e.On("change", listenerB)

	e.Off("change", listenerA)
	e.Emit("change")

	if a != 0 || b != 1 {
		t.Fatalf("after Off: a ran %d times, b ran %d times, want 0 & 1", a, b)
	}
	// Off with a listener that was never registered is a no-op.
	e.Off("change", func(args ...any) {})
	if got := e.ListenerCount("change"); got != 1 {
		t.Fatalf("ListenerCount got = %d, want = 1", got)
	}
}

func Test_Emitter_On_ReturnsDeregistrationClosure(t *testing.T) {
	var e Emitter
	var count int

	off := e.On("change", func(args ...any) { count++ })
	e.Emit("change")
	off()
	e.Emit("change")

	if count != 1 {
		t.Fatalf("listener ran %d times after deregistration, want 1", count)
	}
	// Deregistering twice is harmless.
	off()
}

func Test_Emitter_Emit_RegistrationDuringEmissionTakesEffectNextEmit(t *testing.T) {
	var e Emitter
	var got []string

	e.On("change", func(args ...any) {
		got = append(got, "outer")
		e.On("change", func(args ...any) { got = append(got, "inner") })
	})
	e.Emit("change")
	if len(got) != 1 || got[0] != "outer" {
		t.Fatalf("first emission got = %v, want just outer", got)
	}

	got = nil
	e.Emit("change")
	if len(got) != 3 {
		t.Fatalf("second emission got = %v, want outer + 2 inner", got)
	}
}

func Test_Emitter_Emit_ListenerPanicPropagates(t *testing.T) {
	var e Emitter
	e.One("change", func(args ...any) { panic("boom") })

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("listener panic did not propagate")
		}
		// The one-shot registration is gone even though it panicked.
		if got := e.ListenerCount("change"); got != 0 {
			t.Fatalf("ListenerCount got = %d, want = 0", got)
		}
	}()
	e.Emit("change")
}
