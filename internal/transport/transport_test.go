package transport

import "testing"

func TestLastUserContent(t *testing.T) {
	cases := []struct {
		name string
		msgs []chatMessage
		want string
	}{
		{"empty", nil, ""},
		{"single user message", []chatMessage{{Role: "user", Content: "restart payments"}}, "restart payments"},
		{
			"picks the last user message past an intervening assistant turn",
			[]chatMessage{
				{Role: "user", Content: "first"},
				{Role: "assistant", Content: "ack"},
				{Role: "user", Content: "second"},
			},
			"second",
		},
		{
			"skips a trailing empty user message",
			[]chatMessage{
				{Role: "user", Content: "real request"},
				{Role: "user", Content: ""},
			},
			"real request",
		},
		{"no user role present", []chatMessage{{Role: "assistant", Content: "hi"}}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := lastUserContent(tc.msgs); got != tc.want {
				t.Errorf("lastUserContent() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDeniedResult(t *testing.T) {
	result, ok := deniedResult().([]map[string]string)
	if !ok || len(result) != 1 {
		t.Fatalf("deniedResult() = %#v, want a one-element []map[string]string", deniedResult())
	}
	if result[0]["type"] != "text" || result[0]["text"] == "" {
		t.Errorf("deniedResult() = %#v, want a text block naming the denial", result)
	}
}
