package llm

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounded", "Here you go: {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
		{"trailing commas", `{"a":[1,2,],"b":3, }`, `{"a":[1,2],"b":3 }`},
		{"braces in strings", `{"a":"}{,]"}`, `{"a":"}{,]"}`},
		{"escaped quote", `{"a":"say \"hi\", }"}`, `{"a":"say \"hi\", }"}`},
	}
	for _, tc := range cases {
		got, err := ExtractJSON(tc.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	for _, raw := range []string{"", "no json", `{"a":`, `{"a" 1}`} {
		if _, err := ExtractJSON(raw); !errors.Is(err, ErrNoJSON) {
			t.Fatalf("ExtractJSON(%q): expected ErrNoJSON, got %v", raw, err)
		}
	}
}
