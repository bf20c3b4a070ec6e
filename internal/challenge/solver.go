// Package challenge answers the arithmetic verification puzzles a community
// feed attaches to new comments.
package challenge

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var numberWords = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100,
}

type op int

const (
	opAdd op = iota
	opSubtract
	opMultiply
	opDivide
)

// Checked in this order; the first family with a match wins.
var operations = []struct {
	op      op
	pattern *regexp.Regexp
}{
	{opAdd, regexp.MustCompile(`\b(add|plus|total|sum|combined|gains)`)},
	{opSubtract, regexp.MustCompile(`\b(subtract|minus|difference|less|loses|slows)`)},
	{opMultiply, regexp.MustCompile(`\b(multipl|times|product)`)},
	{opDivide, regexp.MustCompile(`\b(divide|quotient|split)`)},
}

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s.,+\-]`)
	literal    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	joiner     = regexp.MustCompile(`^[\s\-]*$`)
)

type occurrence struct {
	start, end int
	value      float64
	word       bool
}

// Solve returns the answer to the puzzle in text formatted with two
// decimals. Text without two operands, or a division by zero, yields "0.00".
func Solve(text string) string {
	clean := disallowed.ReplaceAllString(strings.ToLower(text), "")

	nums := merge(clean, scan(clean))
	if len(nums) < 2 {
		return "0.00"
	}

	var result float64
	switch detectOp(clean) {
	case opAdd:
		for _, n := range nums {
			result += n
		}
	case opSubtract:
		result = nums[0] - nums[1]
	case opMultiply:
		result = 1
		for _, n := range nums {
			result *= n
		}
	case opDivide:
		if nums[1] == 0 {
			return "0.00"
		}
		result = nums[0] / nums[1]
	}
	return fmt.Sprintf("%.2f", result)
}

func detectOp(text string) op {
	for _, o := range operations {
		if o.pattern.MatchString(text) {
			return o.op
		}
	}
	return opAdd
}

// scan finds number words and numeric literals in text order. Where matches
// overlap ("seven" inside "seventeen") the longest one starting first wins.
func scan(text string) []occurrence {
	var all []occurrence
	for w, v := range numberWords {
		for from := 0; ; {
			i := strings.Index(text[from:], w)
			if i < 0 {
				break
			}
			start := from + i
			all = append(all, occurrence{start: start, end: start + len(w), value: v, word: true})
			from = start + 1
		}
	}
	for _, loc := range literal.FindAllStringIndex(text, -1) {
		v, err := strconv.ParseFloat(text[loc[0]:loc[1]], 64)
		if err != nil {
			continue
		}
		all = append(all, occurrence{start: loc[0], end: loc[1], value: v})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end > all[j].end
	})

	var kept []occurrence
	lastEnd := -1
	for _, o := range all {
		if o.start < lastEnd {
			continue
		}
		kept = append(kept, o)
		lastEnd = o.end
	}
	return kept
}

// merge folds compounds: "thirty two" → 32, "three hundred" → 300. Only
// whitespace or hyphens may separate the parts.
func merge(text string, occ []occurrence) []float64 {
	var out []float64
	for i := 0; i < len(occ); i++ {
		cur := occ[i]
		val := cur.value
		if i+1 < len(occ) {
			next := occ[i+1]
			adjacent := cur.word && next.word && joiner.MatchString(text[cur.end:next.start])
			switch {
			case adjacent && next.value == 100 && val > 0 && val < 10:
				val *= 100
				i++
			case adjacent && isTens(val) && next.value > 0 && next.value < 10:
				val += next.value
				i++
			}
		}
		out = append(out, val)
	}
	return out
}

func isTens(v float64) bool {
	return v >= 20 && v <= 90 && int(v)%10 == 0
}
