package clock

import (
	"testing"
	"time"
)

type fixed struct{ t time.Time }

func (f fixed) Now() time.Time { return f.t }

func TestNowMs(t *testing.T) {
	at := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	c := fixed{t: at}

	got := NowMs(c)
	want := at.UnixMilli()
	if got != want {
		t.Errorf("NowMs() = %d, want %d", got, want)
	}
}

func TestRealAdvances(t *testing.T) {
	a := Real.Now()
	time.Sleep(time.Millisecond)
	b := Real.Now()
	if !b.After(a) {
		t.Errorf("Real clock did not advance: a=%v b=%v", a, b)
	}
}
