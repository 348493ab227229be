package scanning

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const dateLayout = "2006-01-02"

// ParsedItem is one line item read from receipt text
type ParsedItem struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
}

// ParsedReceipt is the structured data read from receipt text
type ParsedReceipt struct {
	Merchant string       `json:"merchant,omitempty"`
	Date     string       `json:"date,omitempty"` // YYYY-MM-DD
	Total    float64      `json:"total"`
	Items    []ParsedItem `json:"items"`
}

// PurchaseDate returns the printed date, if one was found
func (p *ParsedReceipt) PurchaseDate() (time.Time, bool) {
	if p == nil || p.Date == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RoundCents rounds v to two decimals
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	// Dates, tried in this order at each position of a line
	datePatterns = []struct {
		re    *regexp.Regexp
		order string // which groups hold year, month, day
		short bool   // two digit year
	}{
		{regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`), "ymd", false},
		{regexp.MustCompile(`\b(\d{4})/(\d{1,2})/(\d{1,2})\b`), "ymd", false},
		{regexp.MustCompile(`\b(\d{4})\.(\d{1,2})\.(\d{1,2})\b`), "ymd", false},
		{regexp.MustCompile(`\b(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`), "ymd", false},
		{regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`), "mdy", false},
		{regexp.MustCompile(`\b(\d{2})[.-](\d{2})[.-](\d{2})\b`), "ymd", true},
	}

	amountPattern = regexp.MustCompile(`^(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?$`)

	// "2x3.50", "2 @3.50" -> "2 x 3.50"
	multiplyPattern = regexp.MustCompile(`(\d)\s*([xX×@*])\s*([$₩€£¥]?\d)`)

	totalPattern    = regexp.MustCompile(`(?i)\b(grand\s+total|total|amount\s+due|balance\s+due)\b`)
	notTotalPattern = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total\s+(tax|vat|savings|discount))\b`)

	summaryPattern = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total|tax|vat|gst|hst|change|cash|card|credit|debit|visa|mastercard|amex|tip|gratuity|balance|amount\s+due|payment|paid|tender|tendered|discount|savings|rounding)\b`)
	headerPattern  = regexp.MustCompile(`(?i)\b(receipt|invoice|welcome|thank\s+you)\b`)

	// Reference numbers, contact details and "City, ST 12345" lines
	referencePattern = regexp.MustCompile(`(?i)(\bno\.?\s*\d|#\s*\d|\b(order|store|ref|reference|transaction|trans|auth|approval|terminal|register|cashier|tel|phone|fax)\b\s*(no\.?|number|#|:)?\s*\d)`)
	zipPattern       = regexp.MustCompile(`\b[A-Z]{2},?\s+\d{5}(-\d{4})?\b`)

	totalKeywordsKO   = []string{"합계", "총액", "결제금액", "받을금액"}
	notTotalKeywordKO = "소계"
	summaryKeywordsKO = []string{"합계", "총액", "소계", "결제", "받을금액", "부가세", "세액", "과세", "면세", "거스름돈", "현금", "카드", "할인", "공급가"}
	headerKeywordsKO  = []string{"영수증", "감사합니다"}
)

const currencySymbols = "$₩€£¥"

// ParseReceiptText extracts the merchant, date, total and line items from
// OCR text. Fields it cannot find are left empty; Items is never nil.
func ParseReceiptText(text string) *ParsedReceipt {
	parsed := &ParsedReceipt{Items: []ParsedItem{}}

	var (
		total      float64
		foundTotal bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		date, hasDate := findDate(line)
		if hasDate && parsed.Date == "" {
			parsed.Date = date.Format(dateLayout)
		}

		fields := splitAmounts(line)

		if isTotalLabel(fields.label) && fields.endsInTotal() {
			total = fields.last().value
			foundTotal = true
			continue
		}

		if fields.endsInMoney() && hasLetter(fields.label) && !isSummaryLabel(fields.label) &&
			!isHeaderLine(line) && !isReferenceLine(line) {
			if item, ok := fields.item(); ok {
				parsed.Items = append(parsed.Items, item)
			}
			continue
		}

		if parsed.Merchant == "" && hasLetter(line) && !hasDate && !fields.endsInMoney() &&
			!isSummaryLabel(line) && !isHeaderLine(line) {
			parsed.Merchant = line
		}
	}

	if foundTotal {
		parsed.Total = RoundCents(total)
	} else {
		var sum float64
		for _, item := range parsed.Items {
			sum += item.TotalPrice
		}
		parsed.Total = RoundCents(sum)
	}

	return parsed
}

// findDate returns the leftmost valid calendar date in line
func findDate(line string) (time.Time, bool) {
	var (
		best    time.Time
		bestPos = -1
	)
	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(line, -1) {
			if bestPos >= 0 && m[0] >= bestPos {
				break
			}
			groups := [3]int{}
			for i := range groups {
				n, err := strconv.Atoi(line[m[2+2*i]:m[3+2*i]])
				if err != nil {
					break
				}
				groups[i] = n
			}
			var y, mo, d int
			if p.order == "mdy" {
				mo, d, y = groups[0], groups[1], groups[2]
			} else {
				y, mo, d = groups[0], groups[1], groups[2]
			}
			if p.short {
				y += 2000
			}
			t, ok := calendarDate(y, mo, d)
			if !ok {
				continue
			}
			best, bestPos = t, m[0]
			break
		}
	}
	return best, bestPos >= 0
}

// calendarDate rejects dates like 2024-02-30 that time.Date would normalize
func calendarDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// amount is one number read from the end of a line
type amount struct {
	value   float64
	plain   bool // no currency marker, separators or decimals
	hasMark bool // currency symbol, won suffix, separators or decimals
}

// qty reports whether a can be a quantity
func (a amount) qty() bool {
	return a.plain && a.value >= 1 && a.value <= 99
}

// lineAmounts is a line split into a text label and up to three trailing
// numbers.
type lineAmounts struct {
	label    string
	nums     []amount
	multiply bool // "x" or "@" between the first two numbers
	marked   bool // a currency symbol or code was printed among the numbers
}

func (l lineAmounts) last() amount {
	return l.nums[len(l.nums)-1]
}

// endsInMoney reports whether the last number reads as a price. A bare
// integer counts only next to a currency marker or after a quantity, so
// house numbers, ZIP codes and reference numbers stay out.
func (l lineAmounts) endsInMoney() bool {
	if len(l.nums) == 0 {
		return false
	}
	last := l.last()
	if last.hasMark {
		return true
	}
	if last.value < 100 {
		return false
	}
	return l.marked || l.multiply || (len(l.nums) >= 2 && l.nums[0].qty())
}

// endsInTotal is endsInMoney relaxed for lines already labelled as a total
func (l lineAmounts) endsInTotal() bool {
	return l.endsInMoney() || (len(l.nums) > 0 && l.last().value >= 100)
}

func splitAmounts(line string) lineAmounts {
	line = multiplyPattern.ReplaceAllString(line, "${1} ${2} ${3}")
	tokens := strings.Fields(line)

	var (
		reversed []amount
		sepAt    = -1
		marked   bool
		i        = len(tokens) - 1
	)
	for ; i >= 0 && len(reversed) < 3; i-- {
		tok := tokens[i]
		switch {
		case len(reversed) == 0 && isTaxFlag(tok):
			continue
		case len(reversed) == 0 && isCurrencyCode(tok):
			marked = true
			continue
		case isCurrencySymbol(tok):
			marked = true
			continue
		case isMultiply(tok) && len(reversed) > 0:
			sepAt = len(reversed)
			continue
		}
		a, ok := parseAmount(tok)
		if !ok {
			break
		}
		if a.hasMark {
			marked = true
		}
		reversed = append(reversed, a)
	}

	n := len(reversed)
	nums := make([]amount, n)
	for j, a := range reversed {
		nums[n-1-j] = a
	}

	label := strings.Join(tokens[:i+1], " ")
	label = strings.TrimRight(label, " :.-#")

	return lineAmounts{
		label:    label,
		nums:     nums,
		multiply: n >= 2 && sepAt == n-1,
		marked:   marked,
	}
}

// item interprets the numbers of an item line. Supported layouts:
// "name total", "name qty x unit [total]", "name qty total",
// "name unit qty total" and "name qty unit total".
func (l lineAmounts) item() (ParsedItem, bool) {
	item := ParsedItem{Name: l.label}

	switch len(l.nums) {
	case 1:
		item.Quantity = 1
		item.TotalPrice = l.nums[0].value
		item.UnitPrice = item.TotalPrice

	case 2:
		a, b := l.nums[0], l.nums[1]
		switch {
		case l.multiply && a.qty():
			item.Quantity = int(a.value)
			item.UnitPrice = b.value
			item.TotalPrice = RoundCents(a.value * b.value)
		case a.qty():
			item.Quantity = int(a.value)
			item.TotalPrice = b.value
			item.UnitPrice = RoundCents(b.value / a.value)
		case a.value > 0 && wholeRatio(b.value, a.value) > 0:
			item.Quantity = wholeRatio(b.value, a.value)
			item.UnitPrice = a.value
			item.TotalPrice = b.value
		default:
			item.Quantity = 1
			item.TotalPrice = b.value
			item.UnitPrice = b.value
		}

	case 3:
		a, b, c := l.nums[0], l.nums[1], l.nums[2]
		item.TotalPrice = c.value
		switch {
		case l.multiply && a.qty():
			item.Quantity = int(a.value)
			item.UnitPrice = b.value
		case a.qty() && closeEnough(a.value*b.value, c.value):
			item.Quantity = int(a.value)
			item.UnitPrice = b.value
		case b.qty() && closeEnough(a.value*b.value, c.value):
			item.Quantity = int(b.value)
			item.UnitPrice = a.value
		case b.qty():
			item.Quantity = int(b.value)
			item.UnitPrice = RoundCents(c.value / b.value)
		case a.qty():
			item.Quantity = int(a.value)
			item.UnitPrice = RoundCents(c.value / a.value)
		default:
			item.Quantity = 1
			item.UnitPrice = c.value
		}

	default:
		return ParsedItem{}, false
	}

	if item.TotalPrice <= 0 || item.Quantity <= 0 {
		return ParsedItem{}, false
	}
	return item, true
}

// wholeRatio returns total/unit when it is a small whole number, else 0
func wholeRatio(total, unit float64) int {
	r := total / unit
	q := math.Round(r)
	if q < 1 || q > 99 || math.Abs(r-q) > 1e-6 {
		return 0
	}
	return int(q)
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 0.01
}

// parseAmount reads "$1,234.50", "12,000원", "4.99" and similar tokens
func parseAmount(tok string) (amount, bool) {
	var a amount

	negative := strings.HasPrefix(tok, "-")
	tok = strings.TrimPrefix(tok, "-")

	if trimmed := strings.TrimLeft(tok, currencySymbols); trimmed != tok {
		a.hasMark = true
		tok = trimmed
	}
	if trimmed := strings.TrimSuffix(tok, "원"); trimmed != tok {
		a.hasMark = true
		tok = trimmed
	}

	m := amountPattern.FindStringSubmatch(tok)
	if m == nil {
		return amount{}, false
	}
	if strings.Contains(m[1], ",") || m[2] != "" {
		a.hasMark = true
	}
	a.plain = !a.hasMark && !negative

	v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
	if err != nil {
		return amount{}, false
	}
	if negative {
		v = -v
	}
	a.value = v
	return a, true
}

func isCurrencySymbol(tok string) bool {
	return tok != "" && strings.Trim(tok, currencySymbols) == "" || tok == "원"
}

func isMultiply(tok string) bool {
	switch tok {
	case "x", "X", "×", "@", "*":
		return true
	}
	return false
}

// isTaxFlag matches the single letter tax codes printed after prices
func isTaxFlag(tok string) bool {
	switch tok {
	case "A", "B", "E", "F", "N", "S", "T":
		return true
	}
	return false
}

func isCurrencyCode(tok string) bool {
	switch strings.ToUpper(tok) {
	case "USD", "KRW", "EUR", "GBP", "JPY":
		return true
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isTotalLabel(label string) bool {
	if label == "" || notTotalPattern.MatchString(label) || strings.Contains(label, notTotalKeywordKO) {
		return false
	}
	if totalPattern.MatchString(label) {
		return true
	}
	return containsAny(label, totalKeywordsKO)
}

func isSummaryLabel(label string) bool {
	return summaryPattern.MatchString(label) || containsAny(label, summaryKeywordsKO)
}

func isHeaderLine(line string) bool {
	return headerPattern.MatchString(line) || containsAny(line, headerKeywordsKO)
}

func isReferenceLine(line string) bool {
	return referencePattern.MatchString(line) || zipPattern.MatchString(line)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
