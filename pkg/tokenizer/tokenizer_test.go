package tokenizer

import "testing"

func TestNilTokenizerEstimates(t *testing.T) {
	var tok *Tokenizer
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := tok.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateMonotonicInLength(t *testing.T) {
	var tok *Tokenizer
	prev := 0
	text := ""
	for i := 0; i < 20; i++ {
		text += "word "
		n := tok.Count(text)
		if n < prev {
			t.Fatalf("estimate decreased at length %d: %d < %d", len(text), n, prev)
		}
		prev = n
	}
}
