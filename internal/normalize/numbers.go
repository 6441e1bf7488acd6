package normalize

import (
	"strconv"
	"strings"
)

// Bases used by the spoken-number converter.
const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	numberBaseMillion  = 1000 * 1000
	numberBaseBillion  = 1000 * 1000 * 1000

	// maxNumberForWords bounds the spoken conversion; larger values are
	// left as digits (a stable result, so idempotence still holds).
	maxNumberForWords = 999999999999

	// Year-reading window. Four-digit numbers in this range are candidates
	// for a year reading when surrounding context suggests one.
	minYear = 1100
	maxYear = 2099
)

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) underTen(num int) string {
	return nc.ones[num]
}

func (nc *numberConverter) underTwenty(num int) string {
	return nc.teens[num-numberBaseTen]
}

func (nc *numberConverter) underHundred(num int) string {
	if num < numberBaseTen {
		return nc.underTen(num)
	}

	if num < numberBaseTwenty {
		return nc.underTwenty(num)
	}

	result := nc.tens[num/numberBaseTen]
	if num%numberBaseTen > 0 {
		result += " " + nc.ones[num%numberBaseTen]
	}

	return result
}

func (nc *numberConverter) underThousand(num int) string {
	if num < numberBaseHundred {
		return nc.underHundred(num)
	}

	result := nc.ones[num/numberBaseHundred] + " hundred"

	remainder := num % numberBaseHundred
	if remainder > 0 {
		result += " " + nc.underHundred(remainder)
	}

	return result
}

// scale groups from largest to smallest, for grouped conversion.
var numberScales = []struct {
	base int64
	name string
}{
	{numberBaseBillion, "billion"},
	{numberBaseMillion, "million"},
	{numberBaseThousand, "thousand"},
}

// integerToWords converts a non-negative integer into its English word
// representation. Values outside the supported range come back as digits.
func integerToWords(number int64) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.FormatInt(number, 10)
	}

	if number == 0 {
		return "zero"
	}

	converter := newNumberConverter()

	var parts []string

	remaining := number
	for _, scale := range numberScales {
		if group := remaining / scale.base; group > 0 {
			parts = append(parts, converter.underThousand(int(group))+" "+scale.name)
		}

		remaining %= scale.base
	}

	if remaining > 0 {
		parts = append(parts, converter.underThousand(int(remaining)))
	}

	return strings.Join(parts, " ")
}

// yearToWords reads a four-digit number the way years are spoken:
// 1984 -> "nineteen eighty four", 1900 -> "nineteen hundred",
// 2007 -> "two thousand seven".
func yearToWords(year int) string {
	converter := newNumberConverter()

	century := year / numberBaseHundred
	remainder := year % numberBaseHundred

	switch {
	case year >= 2000 && year < 2010:
		return integerToWords(int64(year))
	case remainder == 0:
		return converter.underHundred(century) + " hundred"
	case remainder < numberBaseTen:
		return converter.underHundred(century) + " oh " + converter.underTen(remainder)
	default:
		return converter.underHundred(century) + " " + converter.underHundred(remainder)
	}
}

// irregular cardinal -> ordinal final-word forms.
var ordinalIrregulars = map[string]string{
	"one":    "first",
	"two":    "second",
	"three":  "third",
	"five":   "fifth",
	"eight":  "eighth",
	"nine":   "ninth",
	"twelve": "twelfth",
}

// ordinalToWords converts a non-negative integer to its spoken ordinal
// form: 1 -> "first", 22 -> "twenty second", 100 -> "one hundredth".
func ordinalToWords(number int64) string {
	words := integerToWords(number)

	fields := strings.Fields(words)
	if len(fields) == 0 {
		return words
	}

	last := fields[len(fields)-1]

	switch {
	case ordinalIrregulars[last] != "":
		last = ordinalIrregulars[last]
	case strings.HasSuffix(last, "y"):
		last = strings.TrimSuffix(last, "y") + "ieth"
	default:
		last += "th"
	}

	fields[len(fields)-1] = last

	return strings.Join(fields, " ")
}

// digitsToWords reads a digit string one digit at a time, for decimal
// fractions: "14" -> "one four".
func digitsToWords(digits string) string {
	converter := newNumberConverter()

	words := make([]string, 0, len(digits))

	for _, digit := range digits {
		if digit == '0' {
			words = append(words, "zero")

			continue
		}

		words = append(words, converter.underTen(int(digit-'0')))
	}

	return strings.Join(words, " ")
}
