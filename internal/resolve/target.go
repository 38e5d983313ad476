package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/star/guidestar/internal/skygeom"
)

// Method records how a target text was interpreted.
type Method string

const (
	MethodSexagesimal Method = "sexagesimal"
	MethodDecimal     Method = "decimal"
	MethodName        Method = "name"
)

// Resolution is a target position and how it was obtained.
type Resolution struct {
	Input      string             `json:"input"`
	Coordinate skygeom.Coordinate `json:"coordinate"`
	Method     Method             `json:"method"`
}

// Target interprets text as a sexagesimal coordinate, then as a decimal
// "ra dec" pair in degrees, and finally as an object name passed to r.
// With a nil resolver, a text that is not a coordinate returns the
// *skygeom.ParseError.
func Target(ctx context.Context, text string, r Resolver) (Resolution, error) {
	text = strings.TrimSpace(text)
	c, err := skygeom.ParseCoordinate(text)
	if err == nil {
		return Resolution{Input: text, Coordinate: c, Method: MethodSexagesimal}, nil
	}
	var perr *skygeom.ParseError
	if !errors.As(err, &perr) {
		return Resolution{}, err
	}

	if c, ok := parseDecimalPair(text); ok {
		return Resolution{Input: text, Coordinate: c, Method: MethodDecimal}, nil
	}

	if r == nil || text == "" {
		return Resolution{}, err
	}
	c, rerr := r.Resolve(ctx, text)
	if rerr != nil {
		return Resolution{}, fmt.Errorf("resolve %q: %w", text, rerr)
	}
	return Resolution{Input: text, Coordinate: c, Method: MethodName}, nil
}

// parseDecimalPair accepts exactly two numbers, RA and Dec in degrees.
func parseDecimalPair(text string) (skygeom.Coordinate, bool) {
	fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
	if len(fields) != 2 {
		return skygeom.Coordinate{}, false
	}
	ra, err1 := strconv.ParseFloat(fields[0], 64)
	dec, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil {
		return skygeom.Coordinate{}, false
	}
	c := skygeom.Coordinate{RA: ra, Dec: dec}
	if ra < 0 || ra >= 360 || !c.Valid() {
		return skygeom.Coordinate{}, false
	}
	return c, true
}
