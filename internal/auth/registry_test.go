package auth

import (
	"net/http/httptest"
	"testing"
)

func TestContains(t *testing.T) {
	r := NewRegistry([]string{"alpha", "beta"})

	if !r.Contains("alpha") || !r.Contains("beta") {
		t.Fatal("seeded tokens should be valid")
	}
	if r.Contains("gamma") {
		t.Fatal("unknown token should be rejected")
	}
	if r.Contains("") {
		t.Fatal("empty candidate should be rejected")
	}
	if r.Contains("alph") || r.Contains("alphaa") {
		t.Fatal("near-miss tokens should be rejected")
	}
}

func TestEmptySeedMintsToken(t *testing.T) {
	r := NewRegistry(nil)
	toks := r.Snapshot()
	if len(toks) != 1 {
		t.Fatalf("expected 1 minted token, got %d", len(toks))
	}
	if len(toks[0]) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(toks[0]))
	}
	if !r.Contains(toks[0]) {
		t.Fatal("minted token should be valid")
	}
}

func TestBlankSeedEntriesIgnored(t *testing.T) {
	r := NewRegistry([]string{"", "real", ""})
	toks := r.Snapshot()
	if len(toks) != 1 || toks[0] != "real" {
		t.Fatalf("expected only the real token, got %v", toks)
	}
}

func TestAdd(t *testing.T) {
	r := NewRegistry([]string{"one"})
	r.Add("two")
	r.Add("")
	if !r.Contains("two") {
		t.Fatal("added token should be valid")
	}
	if len(r.Snapshot()) != 2 {
		t.Fatalf("empty Add must be ignored, got %v", r.Snapshot())
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer", "Bearer tok-1", "", "tok-1"},
		{"bare header", "tok-2", "", "tok-2"},
		{"query", "", "tok-3", "tok-3"},
		{"header wins over query", "Bearer tok-4", "tok-5", "tok-4"},
		{"missing", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/?token="+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := ExtractToken(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
