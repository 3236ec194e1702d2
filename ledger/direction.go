package ledger

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/futdesk/broker"
)

type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown direction %q (want long|short)", s)
}

func (d Direction) Valid() bool { return d == Long || d == Short }

// OpenSide is the order side that opens a position in this direction.
func (d Direction) OpenSide() broker.Side {
	if d == Short {
		return broker.Sell
	}
	return broker.Buy
}

// CloseSide is the order side that reduces a position in this direction.
func (d Direction) CloseSide() broker.Side {
	if d == Short {
		return broker.Buy
	}
	return broker.Sell
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
