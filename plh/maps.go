package plh

import "math/bits"

// MaxStates is the largest number of states a partition can have.
// Masks are fixed-width and one bit is used per state.
const MaxStates = 64

// Mask is an ambiguity bitmask, bit s set means state s is admissible.
type Mask uint64

// Has returns true if state s is admissible.
func (m Mask) Has(s int) bool {
	return m&(1<<uint(s)) != 0
}

// Count returns the number of admissible states.
func (m Mask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// Single returns the state index if exactly one state is admissible,
// or -1 otherwise.
func (m Mask) Single() int {
	if m.Count() != 1 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}

// Map maps an input character to its ambiguity mask. A zero mask
// marks an illegal character.
type Map [256]Mask

// newMap builds a map from the character to the mask table; lower
// case letters are mapped as their upper case counterparts.
func newMap(table map[byte]Mask) (m Map) {
	for c, mask := range table {
		m[c] = mask
		if c >= 'A' && c <= 'Z' {
			m[c-'A'+'a'] = mask
		}
	}
	return
}

// NTMap is the IUPAC nucleotide map (A=1, C=2, G=4, T=8).
var NTMap = newMap(map[byte]Mask{
	'A': 1, 'C': 2, 'G': 4, 'T': 8, 'U': 8,
	'M': 3, 'R': 5, 'W': 9, 'S': 6, 'Y': 10, 'K': 12,
	'V': 7, 'H': 11, 'D': 13, 'B': 14,
	'N': 15, 'O': 15, 'X': 15,
	'-': 15, '?': 15, '.': 15,
})

// aaOrder is the amino acid state order used by AAMap.
const aaOrder = "ARNDCQEGHILKMFPSTWYV"

// AAMap is the amino acid map in the ARNDCQEGHILKMFPSTWYV order,
// with B (N|D), Z (Q|E), J (I|L) ambiguities and gaps.
var AAMap = func() Map {
	table := make(map[byte]Mask)
	for i := 0; i < len(aaOrder); i++ {
		table[aaOrder[i]] = 1 << uint(i)
	}
	all := Mask(1)<<uint(len(aaOrder)) - 1
	table['B'] = table['N'] | table['D']
	table['Z'] = table['Q'] | table['E']
	table['J'] = table['I'] | table['L']
	table['U'] = table['C']
	table['X'] = all
	table['-'] = all
	table['?'] = all
	table['*'] = all
	return newMap(table)
}()

// tipCodes is a tip encoding: codes index masks.
type tipCodes struct {
	// masks indexed by code
	masks []Mask
	// code for every character, -1 for illegal ones
	codes [256]int
}

// newTipCodes creates tip codes for a map. For four states the code
// is the mask itself, so a code can be used as a mask directly.
// Otherwise codes enumerate distinct masks in character order.
func newTipCodes(m *Map, states int) (*tipCodes, error) {
	tc := &tipCodes{}
	full := Mask(1)<<uint(states) - 1
	if states == MaxStates {
		full = ^Mask(0)
	}
	if states == 4 {
		tc.masks = make([]Mask, 16)
		for i := range tc.masks {
			tc.masks[i] = Mask(i)
		}
	}
	seen := make(map[Mask]int)
	for c := 0; c < 256; c++ {
		tc.codes[c] = -1
		mask := m[c]
		if mask == 0 {
			continue
		}
		if mask&^full != 0 {
			return nil, errorf(KindInvalidTipData, "character %q maps to states beyond %d", c, states)
		}
		if states == 4 {
			tc.codes[c] = int(mask)
			continue
		}
		code, ok := seen[mask]
		if !ok {
			code = len(tc.masks)
			if code > 255 {
				return nil, errorf(KindInvalidTipData, "map has more than 256 distinct masks")
			}
			tc.masks = append(tc.masks, mask)
			seen[mask] = code
		}
		tc.codes[c] = code
	}
	if len(tc.masks) == 0 {
		return nil, errorf(KindInvalidTipData, "empty map")
	}
	return tc, nil
}

// log2Ceil returns ceil(log2(n)) for n >= 1.
func log2Ceil(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}
