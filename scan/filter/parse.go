package filter

import (
	"fmt"
	"regexp"
	"strings"

	"delta-mirror/chunk"
)

var conditionPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|!=|<>|==|=|<|>)\s*(.*?)\s*$`)

var nullPattern = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)\s+IS\s+(NOT\s+)?NULL\s*$`)

// ParseCondition parses a command line condition such as "year=2023",
// "id >= 10", "name = 'a b'" or "name IS NOT NULL". Constants are VARCHAR
// and cast to the column type when compared.
func ParseCondition(expr string) (column string, f Filter, err error) {
	if m := nullPattern.FindStringSubmatch(expr); m != nil {
		if m[2] != "" {
			return m[1], &IsNotNull{}, nil
		}
		return m[1], &IsNull{}, nil
	}
	m := conditionPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", nil, fmt.Errorf("invalid condition %q: want <column><op><value>", expr)
	}
	op, _ := ParseOp(m[2])
	value := m[3]
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		value = strings.ReplaceAll(value[1:len(value)-1], "''", "'")
	}
	return m[1], &ConstantComparison{Op: op, Value: chunk.VarcharValue(value)}, nil
}
