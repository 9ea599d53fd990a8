package docdb

import (
	"strings"
	"testing"
)

func splitByte(s string, sep byte) (string, string, bool) {
	i := strings.IndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

func TestMust(t *testing.T) {
	if got := must(42, nil); got != 42 {
		t.Fatalf("must = %d, wanted 42", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("must did not panic on error")
		}
	}()
	must(0, ErrClosed)
}
