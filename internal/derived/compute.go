package derived

import (
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Computer turns the collected inputs of one tick into a result.
// inputs holds one entry per declared input key.
type Computer interface {
	Compute(inputs map[string]telemetry.Value) (telemetry.Value, error)
}

// ComputeFunc adapts a function to Computer.
type ComputeFunc func(inputs map[string]telemetry.Value) (telemetry.Value, error)

// Compute calls f.
func (f ComputeFunc) Compute(inputs map[string]telemetry.Value) (telemetry.Value, error) {
	return f(inputs)
}

// Operations lists the names Builtin accepts.
var Operations = []string{"sum", "avg", "min", "max", "product", "diff", "ratio"}

// Builtin returns the named arithmetic computer over keys, in order.
//
// sum, avg, min, max and product fold every numeric input. With
// rejectUnknown set any unknown input fails the tick; otherwise unknown
// inputs are skipped and only an all-unknown tick fails. diff subtracts
// the remaining inputs from the first and ratio divides the first input
// by the second; both always need every input.
func Builtin(operation string, keys []string, rejectUnknown bool) (Computer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s has no inputs", ErrInvalidSpec, operation)
	}
	keys = append([]string(nil), keys...)

	switch strings.ToLower(strings.TrimSpace(operation)) {
	case "sum":
		return fold(keys, rejectUnknown, 0, func(acc, v float64) float64 { return acc + v }, nil), nil
	case "product":
		return fold(keys, rejectUnknown, 1, func(acc, v float64) float64 { return acc * v }, nil), nil
	case "min":
		return fold(keys, rejectUnknown, math.Inf(1), math.Min, nil), nil
	case "max":
		return fold(keys, rejectUnknown, math.Inf(-1), math.Max, nil), nil
	case "avg":
		return fold(keys, rejectUnknown, 0, func(acc, v float64) float64 { return acc + v },
			func(total float64, n int) float64 { return total / float64(n) }), nil
	case "diff":
		return ComputeFunc(func(inputs map[string]telemetry.Value) (telemetry.Value, error) {
			nums, err := numbers(inputs, keys)
			if err != nil {
				return telemetry.Unknown, err
			}
			result := nums[0]
			for _, n := range nums[1:] {
				result -= n
			}
			return telemetry.Known(result), nil
		}), nil
	case "ratio":
		if len(keys) != 2 {
			return nil, fmt.Errorf("%w: ratio needs exactly two inputs, got %d", ErrInvalidSpec, len(keys))
		}
		return ComputeFunc(func(inputs map[string]telemetry.Value) (telemetry.Value, error) {
			nums, err := numbers(inputs, keys)
			if err != nil {
				return telemetry.Unknown, err
			}
			if nums[1] == 0 {
				return telemetry.Unknown, fmt.Errorf("%w: %s / %s", ErrDivideByZero, keys[0], keys[1])
			}
			return telemetry.Known(nums[0] / nums[1]), nil
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
	}
}

func fold(keys []string, rejectUnknown bool, start float64, step func(acc, v float64) float64, finish func(total float64, n int) float64) Computer {
	return ComputeFunc(func(inputs map[string]telemetry.Value) (telemetry.Value, error) {
		acc, n := start, 0
		for _, k := range keys {
			f, ok := inputs[k].Float64()
			if !ok {
				if rejectUnknown {
					return telemetry.Unknown, fmt.Errorf("%w: %s", ErrUnknownInput, k)
				}
				continue
			}
			acc = step(acc, f)
			n++
		}
		if n == 0 {
			return telemetry.Unknown, fmt.Errorf("%w: no numeric inputs", ErrUnknownInput)
		}
		if finish != nil {
			acc = finish(acc, n)
		}
		return telemetry.Known(acc), nil
	})
}

// numbers returns every input in key order, failing on the first one
// that is not numeric.
func numbers(inputs map[string]telemetry.Value, keys []string) ([]float64, error) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		f, ok := inputs[k].Float64()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownInput, k)
		}
		out[i] = f
	}
	return out, nil
}
