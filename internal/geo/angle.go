// Package geo holds the coordinate primitives used by the reconciliation
// engine: textual angle parsing, the projection definition table and the
// projected-to-geographic converter.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrEmptyAngle is returned for blank input and the "-" placeholder.
	ErrEmptyAngle = errors.New("empty or placeholder value")
	// ErrMalformedAngle is returned when the text cannot be read as an angle.
	ErrMalformedAngle = errors.New("malformed angle")
)

// Axis selects the valid range for a parsed angle.
type Axis int

const (
	AxisLatitude Axis = iota
	AxisLongitude
)

func (a Axis) String() string {
	if a == AxisLatitude {
		return "latitude"
	}
	return "longitude"
}

// Limit is the absolute bound of the axis in degrees.
func (a Axis) Limit() float64 {
	if a == AxisLatitude {
		return 90
	}
	return 180
}

// InRange reports whether a decimal degree value is valid for the axis.
func (a Axis) InRange(value float64) bool {
	return !math.IsNaN(value) && math.Abs(value) <= a.Limit()
}

// separators are replaced with spaces before tokenizing.
var separators = strings.NewReplacer(
	"°", " ", "º", " ", "˚", " ",
	"'", " ", "’", " ", "‘", " ", "′", " ", "`", " ", "´", " ",
	`"`, " ", "”", " ", "“", " ", "″", " ",
	":", " ",
	"−", "-",
)

// ParseAngle converts a degree/minute/second string into signed decimal
// degrees. Accepted shapes include "4:26:17.74208N", `4°00'51.53"S`,
// "-12 30" and plain decimals. A trailing N/S/E/W letter is optional; S and W
// negate the result, as does a leading minus sign on the degrees.
func ParseAngle(raw string) (float64, error) {
	text := strings.TrimSpace(raw)
	if text == "" || text == "-" {
		return 0, ErrEmptyAngle
	}

	text = separators.Replace(text)
	text = strings.TrimSpace(text)

	var direction rune
	if n := len(text); n > 0 {
		last := unicode.ToUpper(rune(text[n-1]))
		switch last {
		case 'N', 'S', 'E', 'W':
			direction = last
			text = strings.TrimSpace(text[:n-1])
		}
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0, fmt.Errorf("%w: no degree value in %q", ErrMalformedAngle, raw)
	}
	if len(tokens) > 3 {
		return 0, fmt.Errorf("%w: expected at most 3 parts, got %d in %q", ErrMalformedAngle, len(tokens), raw)
	}

	parts := [3]float64{}
	for i, token := range tokens {
		value, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not numeric in %q", ErrMalformedAngle, token, raw)
		}
		if i > 0 && value < 0 {
			return 0, fmt.Errorf("%w: negative minutes or seconds in %q", ErrMalformedAngle, raw)
		}
		parts[i] = value
	}

	degrees, minutes, seconds := parts[0], parts[1], parts[2]
	decimal := math.Abs(degrees) + minutes/60 + seconds/3600
	if strings.HasPrefix(tokens[0], "-") || direction == 'S' || direction == 'W' {
		decimal = -decimal
	}

	if math.IsNaN(decimal) || math.IsInf(decimal, 0) {
		return 0, fmt.Errorf("%w: %q does not evaluate to a finite number", ErrMalformedAngle, raw)
	}
	return decimal, nil
}
