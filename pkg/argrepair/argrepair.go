// Package argrepair normalizes off-spec numeric arguments produced by a
// higher-level assistant or UI into the canonical atomic decimal strings
// pkg/schema expects (spec §4.7). It never rejects input itself: anything
// it cannot confidently repair is returned unchanged, leaving rejection to
// the schema validator.
//
// Grounded on no direct teacher analogue (the teacher moves int64 lamport
// balances internally and never accepts decimal user input); the
// return-unchanged-on-failure idiom and fmt.Errorf-free plain-value API
// follow the teacher's preference for simple, non-throwing helpers in
// pkg/app/core/account.
package argrepair

import (
	"math/big"
	"regexp"
	"strings"
)

// USDTDecimals and LamportDecimals are the two atomic unit scales named in
// spec §4.7.
const (
	USDTDecimals     = 6
	LamportDecimals  = 9
)

// Options carries the configuration switch for the spec's recorded open
// question: whether a trailing unit suffix ("0.12 usdt") is stripped before
// coercion. params.Config.Argrepair.StripUnitSuffix feeds this.
type Options struct {
	StripUnitSuffix bool
}

var (
	plainIntegerRe = regexp.MustCompile(`^[0-9]+$`)
	decimalRe      = regexp.MustCompile(`^([0-9]+)(?:\.([0-9]+))?$`)
	unitSuffixRe   = regexp.MustCompile(`^(-?[0-9][0-9_,\.]*)\s+\S+$`)
)

// CoerceUSDT normalizes a USDT amount into an atomic decimal string (6
// decimals).
func CoerceUSDT(raw string, opts Options) string {
	return CoerceAtomic(raw, USDTDecimals, opts)
}

// CoerceLamports normalizes a native-chain amount into an atomic decimal
// string (9 decimals).
func CoerceLamports(raw string, opts Options) string {
	return CoerceAtomic(raw, LamportDecimals, opts)
}

// CoerceAtomic applies spec §4.7's rules: integer strings pass through
// untouched (after stripping formatting artifacts); decimal strings are
// multiplied by 10^decimals using arbitrary-precision arithmetic; anything
// that does not parse, is negative, or whose fractional part exceeds
// decimals is returned completely unchanged.
func CoerceAtomic(raw string, decimals int, opts Options) string {
	cleaned := clean(raw, opts)

	if plainIntegerRe.MatchString(cleaned) {
		return cleaned
	}

	m := decimalRe.FindStringSubmatch(cleaned)
	if m == nil {
		return raw
	}
	intPart, fracPart := m[1], m[2]
	if len(fracPart) > decimals {
		return raw
	}

	fracPadded := fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := intPart + fracPadded
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}

	// combined is digits-only by construction; confirm it round-trips
	// through big.Int defensively before returning it as canonical.
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok || n.Sign() < 0 {
		return raw
	}
	return n.String()
}

// clean strips formatting artifacts conservatively: underscores and commas
// are always removed; a trailing "<number> <unit>" suffix is stripped only
// when opts.StripUnitSuffix is set.
func clean(raw string, opts Options) string {
	s := strings.TrimSpace(raw)
	if opts.StripUnitSuffix {
		if m := unitSuffixRe.FindStringSubmatch(s); m != nil {
			s = m[1]
		}
	}
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, ",", "")
	return s
}

// FlattenOffer implements spec §4.7's flattening repair: top-level scalar
// fields named in fieldNames are moved into a single-element offers[]
// array. Values already present on the first element of an existing
// offers[] are never overwritten (no silent override).
func FlattenOffer(body map[string]any, fieldNames []string) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}

	var offers []any
	if existing, ok := out["offers"].([]any); ok {
		offers = existing
	}

	var first map[string]any
	if len(offers) > 0 {
		if m, ok := offers[0].(map[string]any); ok {
			first = m
		}
	}
	if first == nil {
		first = make(map[string]any)
	}

	moved := false
	for _, name := range fieldNames {
		v, present := out[name]
		if !present {
			continue
		}
		if _, already := first[name]; !already {
			first[name] = v
		}
		delete(out, name)
		moved = true
	}

	if moved || len(offers) > 0 {
		newOffers := make([]any, len(offers))
		copy(newOffers, offers)
		if len(newOffers) == 0 {
			newOffers = append(newOffers, first)
		} else {
			newOffers[0] = first
		}
		out["offers"] = newOffers
	}

	return out
}

// RFQOfferFields lists the top-level scalar fields a flattened "offer_post"
// style RFQ request carries (mirroring schema.RFQBody's field set).
var RFQOfferFields = []string{"pair", "direction", "btc_sats", "usdt_amount", "valid_until_unix"}
