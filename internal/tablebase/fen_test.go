package tablebase

import (
	"errors"
	"testing"
)

func TestNormalizeFEN(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"8/8/8/8/8/8/K7/k6Q w - - 0 1", "8/8/8/8/8/8/K7/k6Q w - -"},
		{"  8/8/8/8/8/8/K7/k6Q   b  -  -  12 40 ", "8/8/8/8/8/8/K7/k6Q b - -"},
		{"8/8/8/8/8/8/K7/k6Q w", "8/8/8/8/8/8/K7/k6Q w - -"},
		{"4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 2", "4k3/8/8/3pP3/8/8/8/4K3 w - d6"},
		{"r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1", "r3k2r/8/8/8/8/8/8/R3K2R w KQkq -"},
	}
	for _, tc := range cases {
		got, err := NormalizeFEN(tc.in)
		if err != nil {
			t.Fatalf("NormalizeFEN(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeFEN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeFENRejectsGarbage(t *testing.T) {
	bad := []string{
		"",
		"hello",
		"8/8/8/8/8/8/K7 w - - 0 1",
		"8/8/8/8/8/8/K7/k6Q x - - 0 1",
		"8/8/8/8/8/8/K7/k6X w - - 0 1",
		"8/8/8/8/8/8/K8/k6Q w - - 0 1",
		"8/8/8/8/8/8/8/k6Q w - - 0 1",
		"8/8/8/8/8/8/K7/k6Q w KX - 0 1",
		"8/8/8/8/8/8/K7/k6Q w - e4 0 1",
	}
	for _, in := range bad {
		if _, err := NormalizeFEN(in); !errors.Is(err, ErrInvalidFEN) {
			t.Fatalf("NormalizeFEN(%q) err = %v, want ErrInvalidFEN", in, err)
		}
	}
}

func TestCountPieces(t *testing.T) {
	if n := CountPieces("8/8/8/8/8/8/K7/k6Q w - - 0 1"); n != 3 {
		t.Fatalf("KQK pieces = %d, want 3", n)
	}
	if n := CountPieces("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"); n != 32 {
		t.Fatalf("start pieces = %d, want 32", n)
	}
}

func TestSideToMove(t *testing.T) {
	if s := SideToMove("8/8/8/8/8/8/K7/k6Q b - -"); s != "b" {
		t.Fatalf("side = %q", s)
	}
	if s := SideToMove("8/8/8/8/8/8/K7/k6Q"); s != "" {
		t.Fatalf("side without field = %q", s)
	}
}
