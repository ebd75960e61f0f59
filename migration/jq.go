package migration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/itchyny/gojq"

	"github.com/GoCodeAlone/datamigrate/schema"
)

// JQ compiles a jq program into a Transform. The program receives the whole
// document and must produce exactly one object. Parsing and compiling happen
// here so syntax errors are caught at registration time.
func JQ(expression string) (Transform, error) {
	if expression == "" {
		return nil, errors.New("jq: expression is required")
	}
	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq: invalid expression %q: %w", expression, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("jq: failed to compile expression %q: %w", expression, err)
	}

	return func(doc schema.Document) (schema.Document, error) {
		input, err := jqValue(map[string]any(doc))
		if err != nil {
			return nil, fmt.Errorf("jq: %w", err)
		}

		iter := code.Run(input)
		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return nil, fmt.Errorf("jq: %w", err)
			}
			results = append(results, v)
		}

		if len(results) != 1 {
			return nil, fmt.Errorf("jq: expression produced %d results, want 1", len(results))
		}
		m, ok := results[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jq: expression produced %T, want object", results[0])
		}
		return schema.Document(m), nil
	}, nil
}

// jqValue converts v into the value types gojq accepts. Integers stay
// integers so a transform that leaves a field alone returns it unchanged;
// only types gojq cannot read (named maps, typed slices, structs) are
// rebuilt, the last through JSON.
func jqValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int, float64, *big.Int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return intValue(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return intValue(int64(t)), nil
	case uint:
		return uintValue(uint64(t)), nil
	case uint64:
		return uintValue(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return intValue(i), nil
		}
		return t.Float64()
	case schema.Document:
		return jqValue(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			c, err := jqValue(vv)
			if err != nil {
				return nil, err
			}
			m[k] = c
		}
		return m, nil
	case []any:
		return jqSlice(t)
	case []string:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = vv
		}
		return s, nil
	case []map[string]any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = vv
		}
		return jqSlice(s)
	case []schema.Document:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = vv
		}
		return jqSlice(s)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", t, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", t, err)
		}
		return jqValue(out)
	}
}

func jqSlice(in []any) ([]any, error) {
	out := make([]any, len(in))
	for i, v := range in {
		c, err := jqValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func intValue(i int64) any {
	if i >= math.MinInt && i <= math.MaxInt {
		return int(i)
	}
	return new(big.Int).SetInt64(i)
}

func uintValue(u uint64) any {
	if u <= math.MaxInt {
		return int(u)
	}
	return new(big.Int).SetUint64(u)
}

// ExprCheck compiles a boolean expression into a post-migration Check.
func ExprCheck(source string) (Check, error) {
	e, err := schema.CompileExpression(source)
	if err != nil {
		return nil, err
	}
	return func(doc schema.Document) error {
		ok, err := e.Eval(doc)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("validator %q rejected the result", source)
		}
		return nil
	}, nil
}
