package callbacks

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/harun/chainpilot/pkg/agent"
)

const reviewFooter = `<i>Tap Approve or Reject within 60 seconds (typing "yes" or "no" works too)</i>`

// FormatSmartNumber renders amounts for people: thousands separators and
// at most four decimals for values of one or more, four significant digits
// below one. Unparseable input is returned trimmed, empty input as "0".
func FormatSmartNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "0"
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return raw
	}
	if v == 0 {
		return "0"
	}

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v < 1 {
		return sign + trimZeros(strconv.FormatFloat(roundSig(v, 4), 'f', -1, 64))
	}

	s := strconv.FormatFloat(v, 'f', 4, 64)
	whole, frac, _ := strings.Cut(s, ".")
	out := groupThousands(whole)
	if frac = strings.TrimRight(frac, "0"); frac != "" {
		out += "." + frac
	}
	return sign + out
}

func roundSig(v float64, digits int) float64 {
	exp := math.Floor(math.Log10(v))
	scale := math.Pow(10, float64(digits-1)-exp)
	return math.Round(v*scale) / scale
}

func trimZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	return strings.TrimRight(strings.TrimRight(s, "0"), ".")
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// TitleNetwork upper-cases the first letter, "Unknown" when empty.
func TitleNetwork(network string) string {
	if network == "" {
		return "Unknown"
	}
	r, size := utf8.DecodeRuneInString(network)
	return string(unicode.ToUpper(r)) + network[size:]
}

// FormatReview renders the confirmation message for a review event. The
// second result is false for review types without a template.
func FormatReview(r agent.ReviewData) (string, bool) {
	esc := html.EscapeString
	var details string
	switch r.Type {
	case "stake", "supply":
		details = "Please review the following staking details carefully before proceeding:\n" +
			fmt.Sprintf("- <b>Amount:</b> %s %s \n", esc(FormatSmartNumber(r.Amount)), esc(r.Token))
	case "unstake", "withdraw":
		details = "Please review the following unstaking details carefully before proceeding:\n" +
			fmt.Sprintf("- <b>Amount:</b> %s %s \n", esc(FormatSmartNumber(r.Amount)), esc(r.Token))
	case "swap":
		details = "Please review the following transaction details carefully before proceeding:\n" +
			fmt.Sprintf("- <b>From:</b> %s %s \n", esc(FormatSmartNumber(r.FromAmount)), esc(r.FromToken)) +
			fmt.Sprintf("- <b>To:</b> %s %s\n", esc(FormatSmartNumber(r.ToAmount)), esc(r.ToToken))
	default:
		return "", false
	}

	return "📝 <b>Review Transaction</b>\n" + details +
		fmt.Sprintf("- <b>Network:</b> %s\n\n", esc(TitleNetwork(r.Network))) +
		reviewFooter, true
}
