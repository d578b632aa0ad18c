package tablebase

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxPieces is the largest piece count the tablebase serves.
const DefaultMaxPieces = 7

var ErrInvalidFEN = errors.New("invalid fen")

// NormalizeFEN validates fen and returns its first four fields joined by
// single spaces. Missing castling/en-passant fields default to "-".
func NormalizeFEN(fen string) (string, error) {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: expected at least placement and side to move", ErrInvalidFEN)
	}
	for len(fields) < 4 {
		fields = append(fields, "-")
	}
	placement, side, castling, ep := fields[0], fields[1], fields[2], fields[3]

	if err := validatePlacement(placement); err != nil {
		return "", err
	}
	if side != "w" && side != "b" {
		return "", fmt.Errorf("%w: side to move %q", ErrInvalidFEN, side)
	}
	if !validCastling(castling) {
		return "", fmt.Errorf("%w: castling %q", ErrInvalidFEN, castling)
	}
	if !validEnPassant(ep) {
		return "", fmt.Errorf("%w: en passant %q", ErrInvalidFEN, ep)
	}
	return strings.Join([]string{placement, side, castling, ep}, " "), nil
}

// CountPieces counts every non-digit, non-slash character of the placement field.
func CountPieces(fen string) int {
	placement := fen
	if i := strings.IndexByte(strings.TrimSpace(fen), ' '); i >= 0 {
		placement = strings.TrimSpace(fen)[:i]
	}
	n := 0
	for _, r := range placement {
		if r == '/' || (r >= '0' && r <= '9') {
			continue
		}
		n++
	}
	return n
}

// SideToMove returns "w" or "b", or "" when fen has no side field.
func SideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func validatePlacement(placement string) error {
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return fmt.Errorf("%w: expected 8 ranks, got %d", ErrInvalidFEN, len(ranks))
	}
	kings := map[rune]int{}
	for i, rank := range ranks {
		files := 0
		for _, r := range rank {
			switch {
			case r >= '1' && r <= '8':
				files += int(r - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", r):
				files++
				if r == 'k' || r == 'K' {
					kings[r]++
				}
			default:
				return fmt.Errorf("%w: unexpected %q in rank %d", ErrInvalidFEN, r, 8-i)
			}
		}
		if files != 8 {
			return fmt.Errorf("%w: rank %d covers %d files", ErrInvalidFEN, 8-i, files)
		}
	}
	if kings['K'] != 1 || kings['k'] != 1 {
		return fmt.Errorf("%w: each side needs exactly one king", ErrInvalidFEN)
	}
	return nil
}

func validCastling(s string) bool {
	if s == "-" {
		return true
	}
	if len(s) > 4 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("KQkq", r) {
			return false
		}
	}
	return true
}

func validEnPassant(s string) bool {
	if s == "-" {
		return true
	}
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && (s[1] == '3' || s[1] == '6')
}
