package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := []struct{ in, want string }{
		{"jane.doe@example.com", "ja***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, c := range cases {
		if got := RedactEmail(c.in); got != c.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactPhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+31 6 1234 5678", "***78"},
		{"555-0100", "***00"},
		{"x", "***"},
	}
	for _, c := range cases {
		if got := RedactPhone(c.in); got != c.want {
			t.Errorf("RedactPhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
