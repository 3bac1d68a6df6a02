package validation

import (
	"fmt"
	"strconv"
	"strings"
)

// applyRule evaluates one named contract rule against a coerced value. The
// returned error message is the recorded rejection reason.
func applyRule(rule string, fieldName string, value any) error {
	name := rule
	arg := ""
	if i := strings.IndexByte(rule, ':'); i >= 0 {
		name = rule[:i]
		arg = rule[i+1:]
	}

	switch name {
	case "":
		return nil

	case "nonempty":
		s, ok := value.(string)
		if !ok || s != "" {
			return nil
		}
		return fmt.Errorf("rule:nonempty field %q is empty", fieldName)

	case "nonnegative":
		if n, ok := numeric(value); ok && n < 0 {
			return fmt.Errorf("rule:nonnegative field %q is negative (%v)", fieldName, value)
		}
		return nil

	case "positive":
		if n, ok := numeric(value); ok && n <= 0 {
			return fmt.Errorf("rule:positive field %q is not positive (%v)", fieldName, value)
		}
		return nil

	case "oneof":
		allowed := strings.Split(arg, "|")
		s := fmt.Sprintf("%v", value)
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("rule:oneof field %q value %q not in {%s}", fieldName, s, arg)

	case "maxlen":
		max, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("rule:maxlen field %q has bad argument %q", fieldName, arg)
		}
		if s, ok := value.(string); ok && len(s) > max {
			return fmt.Errorf("rule:maxlen field %q exceeds %d characters", fieldName, max)
		}
		return nil
	}

	return fmt.Errorf("rule:%s field %q uses an unknown rule", name, fieldName)
}

func numeric(value any) (float64, bool) {
	switch n := value.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
