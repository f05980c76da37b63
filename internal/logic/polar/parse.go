package polar

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports coordinate text that could not be converted to degrees.
type ParseError struct {
	Field  string // "ra" or "dec"
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %s", e.Field, e.Input, e.Reason)
}

// ParseRightAscension converts mount or solver RA text to degrees.
// Accepted forms: "HH:MM:SS[.ss]" (sexagesimal hours) or a bare decimal hour value.
func ParseRightAscension(text string) (float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, &ParseError{Field: "ra", Input: text, Reason: "empty"}
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return 0, &ParseError{Field: "ra", Input: text, Reason: fmt.Sprintf("want 3 fields, got %d", len(parts))}
		}
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, &ParseError{Field: "ra", Input: text, Reason: "non-numeric hours"}
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, &ParseError{Field: "ra", Input: text, Reason: "non-numeric minutes"}
		}
		sec, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, &ParseError{Field: "ra", Input: text, Reason: "non-numeric seconds"}
		}
		return (float64(h) + float64(m)/60.0 + sec/3600.0) * 15.0, nil
	}

	hours, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ParseError{Field: "ra", Input: text, Reason: "not a decimal hour value"}
	}
	return hours * 15.0, nil
}

// decSeparators are the characters LX200 mounts and solvers use between
// declination fields ("+89*15'30", "+89:15:30").
var decSeparators = strings.NewReplacer("*", ":", "'", ":", "°", ":", `"`, "")

// ParseDeclination converts mount or solver Dec text to degrees.
// Accepted forms: optional sign, then "DD:MM[:SS[.s]]" with ':', '*' or '\''
// as separators, or a bare decimal degree value.
func ParseDeclination(text string) (float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, &ParseError{Field: "dec", Input: text, Reason: "empty"}
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	s = decSeparators.Replace(s)
	if !strings.Contains(s, ":") {
		deg, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, &ParseError{Field: "dec", Input: text, Reason: "not a decimal degree value"}
		}
		return sign * deg, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, &ParseError{Field: "dec", Input: text, Reason: fmt.Sprintf("want 2 or 3 fields, got %d", len(parts))}
	}
	d, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, &ParseError{Field: "dec", Input: text, Reason: "non-numeric degrees"}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, &ParseError{Field: "dec", Input: text, Reason: "non-numeric minutes"}
	}
	sec := 0.0
	if len(parts) == 3 {
		sec, err = strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, &ParseError{Field: "dec", Input: text, Reason: "non-numeric seconds"}
		}
	}
	return sign * (float64(d) + float64(m)/60.0 + sec/3600.0), nil
}
