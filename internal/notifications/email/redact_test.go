package email

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"oncall@example.com":        "o***@example.com",
		"a@alerts.io":               "a***@alerts.io",
		"security.team@corp.co.uk":  "s***@corp.co.uk",
		"":                          "",
		"not-an-address":            "***",
		"@example.com":              "***@example.com",
		"first.last+tag@mail.local": "f***@mail.local",
	}
	for in, want := range cases {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
