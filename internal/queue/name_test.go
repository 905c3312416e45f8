package queue_test

import (
	"testing"

	"qrun/internal/queue"
)

func TestNameStringIsUnambiguous(t *testing.T) {
	cases := []struct {
		name queue.Name
		want string
	}{
		{queue.Default, "(default)"},
		{queue.Named("build"), "build"},
		{queue.Named(""), `""`},
		{queue.Named("(default)"), `"(default)"`},
		{queue.Named(`"(default)"`), `"\"(default)\""`},
		{queue.Named("two words"), `"two words"`},
		{queue.Named("a(b)"), "a(b)"},
	}
	seen := make(map[string]queue.Name)
	for _, tc := range cases {
		got := tc.name.String()
		if got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
		if prev, ok := seen[got]; ok {
			t.Fatalf("%v and %v both render as %q", prev, tc.name, got)
		}
		seen[got] = tc.name
	}
}
