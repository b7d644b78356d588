package overlay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Kind selects how an item renders its value.
type Kind int

const (
	// KindText renders the value as text.
	KindText Kind = iota
	// KindIcon renders the value as an on/off status.
	KindIcon
)

// ParseKind maps a configured kind name. Empty means text.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return KindText, nil
	case "icon", "status":
		return KindIcon, nil
	default:
		return KindText, fmt.Errorf("%w: kind %q", ErrInvalidItem, name)
	}
}

func (k Kind) String() string {
	if k == KindIcon {
		return "icon"
	}
	return "text"
}

// DefaultDecimals is used for numeric text when an item does not set it.
const DefaultDecimals = 2

// Placeholder is the text shown for an unknown value.
const Placeholder = "--"

// Status colours of icon items.
const (
	ColorActive   = "lime"
	ColorInactive = "red"
)

// Item binds one element of the overlay to one data key.
type Item struct {
	// Name is the element id the view binding updates.
	Name   string
	Device string
	Key    string
	Scope  telemetry.Scope
	Kind   Kind
	// Decimals formats numeric text; negative leaves the value as received.
	Decimals int
}

// Update is one rendered item handed to the view binding.
type Update struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Value  telemetry.Value `json:"value"`
	Text   string          `json:"text"`
	Active bool            `json:"active"`
	Color  string          `json:"color,omitempty"`
	At     time.Time       `json:"at"`
}

// render turns a resolved value into the item's update.
func (it Item) render(v telemetry.Value, at time.Time) Update {
	u := Update{Name: it.Name, Kind: it.Kind.String(), Value: v, At: at}

	switch it.Kind {
	case KindIcon:
		u.Active = v.Bool()
		u.Color = ColorInactive
		if u.Active {
			u.Color = ColorActive
		}
		u.Text = v.String()
	default:
		u.Text = formatText(v, it.Decimals)
		u.Active = v.IsKnown()
	}
	return u
}

func formatText(v telemetry.Value, decimals int) string {
	if !v.IsKnown() {
		return Placeholder
	}
	if decimals < 0 {
		return v.String()
	}
	f, ok := v.Float64()
	if !ok {
		return v.String()
	}
	if _, isBool := v.Raw().(bool); isBool {
		return v.String()
	}
	return strconv.FormatFloat(f, 'f', decimals, 64)
}
