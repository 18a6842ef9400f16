package decoder

import (
	"regexp"
	"strconv"
)

var keyLocationRegex = regexp.MustCompile(`str\.charAt\(\s*(\d+)\s*\)`)

// KeyLocations returns the marker positions referenced by str.charAt(n) in
// the deobfuscated script, de-duplicated by first occurrence and kept in
// source order.
func KeyLocations(script string) []int {
	seen := make(map[int]struct{})
	var locations []int

	for _, m := range keyLocationRegex.FindAllStringSubmatch(script, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		locations = append(locations, n)
	}

	return locations
}

// UnscrambleList removes the marker digits named by positions from the
// decrypted list and undoes the character permutation they encode.
//
// Every marker is checked before anything is changed. When a position is out
// of range or does not hold a decimal digit the list is taken to be plain
// already: the input is returned untouched together with false.
func UnscrambleList(text string, positions []int) (string, bool) {
	if len(positions) == 0 {
		return text, false
	}

	s := []rune(text)

	keys := make([]int, len(positions))
	for idx, pos := range positions {
		if pos < 0 || pos >= len(s) || pos-idx < 0 {
			return text, false
		}
		d := s[pos]
		if d < '0' || d > '9' {
			return text, false
		}
		keys[idx] = int(d - '0')
	}

	// each removal shifts the following markers one to the left
	for idx, pos := range positions {
		at := pos - idx
		s = append(s[:at], s[at+1:]...)
	}

	return string(unscrambleRunes(s, keys)), true
}

// Unscramble reverses the swap permutation for the given key sequence.
func Unscramble(text string, keys []int) string {
	return string(unscrambleRunes([]rune(text), keys))
}

func unscrambleRunes(s []rune, keys []int) []rune {
	for j := len(keys) - 1; j >= 0; j-- {
		k := keys[j]
		for i := len(s) - 1; i >= k; i-- {
			if i%2 != 0 {
				s[i-k], s[i] = s[i], s[i-k]
			}
		}
	}
	return s
}
