package client

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{`hello world`, []string{"hello", "world"}},
		{`"hello world"`, []string{"hello world"}},
		{`hel"lo wor"ld`, []string{`hel"lo`, `wor"ld`}},
		{`hello\ world`, []string{`hello\ world`}},
		{`\h\e\l\l\o world`, []string{`\h\e\l\l\o`, "world"}},
		{`\"hello world\"`, []string{`"hello`, `world"`}},
		{`\\\"hello world\\\"`, []string{`\"hello`, `world\"`}},
		{``, nil},
		{`trailing\`, []string{`trailing\`}},
		{`"unterminated quote`, []string{"unterminated quote"}},
	}
	for _, tt := range tests {
		if got := SplitCommand(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
