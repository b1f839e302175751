package session_test

import (
	"testing"

	"github.com/MrWong99/voxquill/internal/session"
)

func TestFilter_Apply(t *testing.T) {
	t.Parallel()
	f := session.NewFilter(session.DefaultFillerTokens)

	tests := []struct {
		in   string
		want string
		keep bool
	}{
		{in: "", keep: false},
		{in: "   \n", keep: false},
		{in: "you", keep: false},
		{in: " You. ", keep: false},
		{in: "you know", want: "you know", keep: true},
		{in: "[BLANK_AUDIO]", keep: false},
		{in: "(silence)", keep: false},
		{in: " [Music] ", keep: false},
		{in: "[partial", want: "[partial", keep: true},
		{in: "[Music] hello there [Music]", want: "[Music] hello there [Music]", keep: true},
		{in: "(laughs) ok (applause)", want: "(laughs) ok (applause)", keep: true},
		{in: "[speaker [inaudible]]", keep: false},
		{in: "(a) (b)", want: "(a) (b)", keep: true},
		{in: "[mismatched)", want: "[mismatched)", keep: true},
		{in: "hello world", want: "hello world", keep: true},
		{in: "  padded  ", want: "padded", keep: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, keep := f.Apply(tt.in)
			if keep != tt.keep {
				t.Fatalf("Apply(%q) keep = %v, want %v", tt.in, keep, tt.keep)
			}
			if keep && got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilter_CustomTokens(t *testing.T) {
	t.Parallel()
	f := session.NewFilter([]string{"Thank you.", "bye"})
	for _, in := range []string{"thank you", "THANK YOU!", "Bye"} {
		if _, keep := f.Apply(in); keep {
			t.Errorf("Apply(%q) kept, want dropped", in)
		}
	}
	if _, keep := f.Apply("you"); !keep {
		t.Error("Apply(\"you\") dropped, want kept when not configured")
	}
}

func TestFilter_NilTokensStillDropsAnnotations(t *testing.T) {
	t.Parallel()
	f := session.NewFilter(nil)
	if _, keep := f.Apply("[BLANK_AUDIO]"); keep {
		t.Error("annotation kept with empty token list")
	}
	if got, keep := f.Apply("you"); !keep || got != "you" {
		t.Errorf("Apply(\"you\") = %q, %v; want kept", got, keep)
	}
}
