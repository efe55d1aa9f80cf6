package logging

import "testing"

func TestNew(t *testing.T) {
	l, err := New("order-api", "debug", true)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Core().Enabled(-1) {
		t.Error("debug not enabled")
	}
	if _, err := New("order-api", "loud", false); err == nil {
		t.Error("bad level accepted")
	}
}
