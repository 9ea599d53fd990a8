package docdb

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func TestIndexDiffing(t *testing.T) {
	tests := []struct {
		old     string
		new     string
		removed string
	}{
		{"", "", ""},
		{"", "1:a", ""},
		{"1:a", "", "1:a"},
		{"1:abc", "", "1:abc"},
		{"1:a 1:b", "1:a", "1:b"},
		{"1:a 1:b", "1:b", "1:a"},
		{"1:a 1:b", "1:a 1:b", ""},
		{"1:a 2:a 2:b", "", "1:a 2:a 2:b"},
		{"1:a 2:a 2:b", "1:a", "2:a 2:b"},
		{"1:a 2:a 2:b", "2:a", "1:a 2:b"},
		{"1:a 2:a 2:b", "2:b", "1:a 2:a"},
		{"1:a 2:a 2:b", "1:a 2:a", "2:b"},
		{"1:a 2:a 2:b", "2:a 2:b", "1:a"},
		{"1:a 2:a 2:b", "1:a 2:b", "2:a"},
		{"1:a 2:a 2:b", "1:a 2:a 2:b", ""},
		{"1:a 3:x", "2:q 3:y", "1:a 3:x"},
	}
	for _, tt := range tests {
		oldKeys := parseIndexKeys(tt.old)
		newKeys := parseIndexKeys(tt.new)
		oldKeysData := appendIndexKeys(nil, oldKeys)
		var removedKeys []string
		err := findRemovedIndexKeys(oldKeysData, newKeys, func(ord uint64, key []byte) error {
			removedKeys = append(removedKeys, fmt.Sprintf("%d:%s", ord, key))
			return nil
		})
		if err != nil {
			t.Fatalf("** Removed(%s => %s) failed: %v", tt.old, tt.new, err)
		}
		actual := strings.Join(removedKeys, " ")
		if actual != tt.removed {
			t.Errorf("** Removed(%s => %s) == %q, expected %q", tt.old, tt.new, actual, tt.removed)
		}
	}
}

func TestDecodeIndexKeys_Truncated(t *testing.T) {
	data := appendIndexKeys(nil, parseIndexKeys("1:abc 2:def"))
	err := decodeIndexKeys(data[:len(data)-1], func(ord uint64, key []byte) error { return nil })
	if err == nil {
		t.Fatalf("decodeIndexKeys(truncated) = nil, wanted error")
	}
}

func parseIndexKeys(s string) indexRows {
	cc := strings.Fields(s)
	rows := make(indexRows, len(cc))
	for i, c := range cc {
		ordStr, keyStr, ok := splitByte(c, ':')
		if !ok {
			panic("invalid entry: " + c)
		}
		ord := must(strconv.ParseUint(ordStr, 10, 64))
		rows[i] = indexRow{IndexOrd: ord, KeyRaw: []byte(keyStr)}
	}
	return rows
}
