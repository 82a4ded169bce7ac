package helpers

import "testing"

func TestFormatCitation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   Citation
		want string
	}{
		{"full", Citation{Title: "Acme names  new CFO", URL: "https://www.example.com/news?id=1", Published: "2024-04-15T08:00:00.000Z"}, "Acme names new CFO (example.com, 2024-04-15)"},
		{"no date", Citation{Title: "Filing", URL: "http://sec.gov:80/x"}, "Filing (sec.gov)"},
		{"no title", Citation{URL: "https://news.example.org/a", Published: "2023"}, "news.example.org (2023)"},
		{"title only", Citation{Title: "Interview"}, "Interview"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatCitation(tc.in); got != tc.want {
				t.Fatalf("FormatCitation() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	if got := Domain("not a url"); got != "" {
		t.Fatalf("expected empty domain, got %q", got)
	}
	if got := Domain("https://WWW.Example.com:443/path"); got != "example.com" {
		t.Fatalf("unexpected domain %q", got)
	}
}
