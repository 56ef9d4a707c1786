package sched

import (
	"fmt"
	"strings"
)

// Granularity selects which captures are recorded on top of the minimal set
// of records needed for replay.
type Granularity uint32

// The granularities. They can be combined.
const (
	GranularityMinimal Granularity = 0x0
	GranularitySwitch  Granularity = 0x1
	GranularityChpt    Granularity = 0x2
	GranularityCapture Granularity = 0x4
)

// Has checks if all bits of g2 are set in g.
func (g Granularity) Has(g2 Granularity) bool {
	return g&g2 == g2
}

func (g Granularity) String() string {
	if g == GranularityMinimal {
		return "minimal"
	}

	parts := []string{}
	if g.Has(GranularitySwitch) {
		parts = append(parts, "switch")
	}

	if g.Has(GranularityChpt) {
		parts = append(parts, "chpt")
	}

	if g.Has(GranularityCapture) {
		parts = append(parts, "capture")
	}

	return strings.Join(parts, "|")
}

// ParseGranularity parses a list such as "chpt|switch".
func ParseGranularity(s string) (Granularity, error) {
	g := GranularityMinimal

	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	}) {
		switch strings.ToLower(part) {
		case "minimal":
		case "switch":
			g |= GranularitySwitch
		case "chpt":
			g |= GranularityChpt
		case "capture":
			g |= GranularityCapture
		default:
			return g, fmt.Errorf("unknown record granularity %q", part)
		}
	}

	return g, nil
}
