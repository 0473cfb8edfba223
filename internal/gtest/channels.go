package gtest

import (
	"os"
	"strconv"
	"testing"
	"time"
)

// timeFactor scales every timeout in this package.
// Set GSA_TEST_TIME_FACTOR on slow CI machines.
var timeFactor = func() float64 {
	v := os.Getenv("GSA_TEST_TIME_FACTOR")
	if v == "" {
		return 1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		panic("invalid GSA_TEST_TIME_FACTOR: " + v)
	}
	return f
}()

// ScaleMs returns ms milliseconds scaled by the test time factor.
func ScaleMs(ms int64) time.Duration {
	return time.Duration(float64(ms) * timeFactor * float64(time.Millisecond))
}

// ReceiveSoon receives a value from ch,
// failing the test if nothing arrives within a short timeout.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	return ReceiveOrTimeout(t, ch, ScaleMs(250))
}

// ReceiveOrTimeout is like ReceiveSoon with a caller-chosen timeout.
func ReceiveOrTimeout[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before receive")
		}
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", timeout)
	}

	panic("unreachable")
}

// SendSoon sends v on ch, failing the test if the send blocks too long.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(250))
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatal("send did not complete in time")
	}
}

// NotSending fails the test if a value is ready on ch
// within a short grace period.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(25))
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, received %v", v)
	case <-timer.C:
	}
}
