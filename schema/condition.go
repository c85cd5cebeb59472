// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionTable holds the most recently decoded value for each CondID
// during one record match. A new value replaces the previous one.
type ConditionTable map[int]any

// Eval reports whether the condition holds against t. A nil condition or
// CondNone always holds.
func (c *Condition) Eval(t ConditionTable) bool {
	if c == nil || c.Type == CondNone {
		return true
	}
	v, ok := t[c.CondID]
	switch c.Type {
	case CondExists:
		return ok
	case CondMissing:
		return !ok
	}
	if !ok {
		return false
	}

	switch c.Type {
	case CondEqual:
		return compare(v, c.Value) == 0
	case CondNot:
		return compare(v, c.Value) != 0
	case CondGreater:
		return numericCompare(v, c.Value, func(d int) bool { return d > 0 })
	case CondLess:
		return numericCompare(v, c.Value, func(d int) bool { return d < 0 })
	case CondGreaterEqual:
		return numericCompare(v, c.Value, func(d int) bool { return d >= 0 })
	case CondLessEqual:
		return numericCompare(v, c.Value, func(d int) bool { return d <= 0 })
	case CondStartsWith:
		return strings.HasPrefix(valueString(v), c.Value)
	case CondEndsWith:
		return strings.HasSuffix(valueString(v), c.Value)
	case CondContains:
		return strings.Contains(valueString(v), c.Value)
	}
	return false
}

// compare orders a decoded value against an operand: numerically when both
// are numbers, as strings otherwise. Only equality is meaningful for the
// string case.
func compare(v any, operand string) int {
	if x, ok := toFloat(v); ok {
		if y, ok := parseNumber(operand); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if valueString(v) == operand {
		return 0
	}
	return 1
}

func numericCompare(v any, operand string, ok func(int) bool) bool {
	x, isNum := toFloat(v)
	y, opNum := parseNumber(operand)
	if !isNum || !opNum {
		return false
	}
	switch {
	case x < y:
		return ok(-1)
	case x > y:
		return ok(1)
	}
	return ok(0)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case uint32:
		return float64(x), true
	}
	return 0, false
}

// parseNumber accepts decimal, 0x-prefixed hex and floating point operands.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), true
	}
	if u, err := strconv.ParseUint(s, 0, 64); err == nil {
		return float64(u), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return 0, false
}

func valueString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case uint32:
		return fmt.Sprintf("%08X", x)
	case []byte:
		return fmt.Sprintf("% X", x)
	}
	return fmt.Sprint(v)
}
