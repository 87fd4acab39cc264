// Package ogm implements Belgian structured payment references
// ("gestructureerde mededeling" / OGM): a 10-digit prefix followed by a
// two-digit mod-97 check. The engine repurposes the prefix to carry a
// discriminator digit plus an obfuscated account identifier, so an
// incoming bank transfer can be routed to an account without exposing
// raw database keys on payment slips.
package ogm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// prePost matches the decorative +++ or *** fencing around a formatted OGM.
const prePost = `(\+\+\+|\*\*\*)?`

const digitGroups = `(\d{3})/?(\d{4})/?(\d{3})(\d\d)`

var (
	// Pattern matches an OGM at the start of a string.
	Pattern = regexp.MustCompile(`^` + prePost + digitGroups + prePost)
	// SearchPattern finds an OGM anywhere in free text.
	SearchPattern = regexp.MustCompile(prePost + digitGroups + prePost)
)

// Modular inverse pair used to obfuscate nine-digit tracking payloads.
// encode(x) = x * trackingMul mod 1e9; decode is the same with trackingInv.
const (
	trackingMul = 783142319
	trackingInv = 289747279
)

// Parse extracts the 10-digit prefix and the check digits from an OGM
// string, validating the mod-97 check. A remainder of zero is written
// as 97 by convention.
func Parse(s string) (prefix int64, check int, err error) {
	m := Pattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid OGM string %q", s)
	}
	return parseGroups(s, m)
}

// Search scans free text (e.g. a bank statement detail column) for the
// first OGM-shaped substring and parses it. Returns an error when no
// valid OGM is present.
func Search(s string) (prefix int64, check int, err error) {
	m := SearchPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("no OGM found in %q", s)
	}
	return parseGroups(s, m)
}

func parseGroups(orig string, m []string) (int64, int, error) {
	prefix, err := strconv.ParseInt(m[2]+m[3]+m[4], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid OGM string %q", orig)
	}
	check, err := strconv.Atoi(m[5])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid OGM string %q", orig)
	}
	rem := int(prefix % 97)
	if check != rem && !(rem == 0 && check == 97) {
		return 0, 0, fmt.Errorf("check digits of %q do not validate", orig)
	}
	return prefix, check, nil
}

// FromPrefix renders a 10-digit prefix as a canonical OGM, computing
// the check digits. With formatted set, the result is fenced and
// slash-grouped like "+++123/4567/89002+++".
func FromPrefix(prefix int64, formatted bool) string {
	prefixStr := fmt.Sprintf("%010d", prefix)
	mod := prefix % 97
	if mod == 0 {
		mod = 97
	}
	full := prefixStr + fmt.Sprintf("%02d", mod)
	if !formatted {
		return full
	}
	return fmt.Sprintf("+++%s/%s/%s+++", full[:3], full[3:7], full[7:12])
}

// Normalize parses s and re-renders it in canonical formatted form, so
// differently punctuated spellings of the same reference compare equal.
func Normalize(s string) (string, error) {
	prefix, _, err := Parse(s)
	if err != nil {
		return "", err
	}
	return FromPrefix(prefix, true), nil
}

// EncodeTracking builds the payment tracking reference for an account:
// one discriminator digit, then nine digits obfuscating the account id
// (mod 1e7) and a token seed (mod 100). The seed acts as a cheap digest
// so a guessed id will not produce a reference that matches the
// account's actual tracking number.
func EncodeTracking(prefixDigit int, accountID int64, tokenSeed byte, formatted bool) string {
	raw := (accountID%10_000_000)*100 + int64(tokenSeed%100)
	obf := (raw * trackingMul) % 1_000_000_000
	prefix, _ := strconv.ParseInt(fmt.Sprintf("%d%09d", prefixDigit, obf), 10, 64)
	return FromPrefix(prefix, formatted)
}

// DecodeTracking recovers the account id candidate from a tracking OGM.
// The embedded token seed is ignored here; it has already served its
// purpose once the decoded id's recomputed tracking number is compared
// against the incoming string.
func DecodeTracking(s string, wantPrefixDigit int) (int64, error) {
	prefix, _, err := Parse(s)
	if err != nil {
		return 0, err
	}
	prefixStr := fmt.Sprintf("%010d", prefix)
	digit := int(prefixStr[0] - '0')
	if digit != wantPrefixDigit {
		return 0, fmt.Errorf("tracking reference %q has prefix digit %d, want %d", s, digit, wantPrefixDigit)
	}
	payload, err := strconv.ParseInt(prefixStr[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tracking reference %q", s)
	}
	unpacked := (payload * trackingInv) % 1_000_000_000
	return unpacked / 100, nil
}
