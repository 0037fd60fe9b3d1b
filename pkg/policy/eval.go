package policy

import (
	"fmt"
	"reflect"

	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// EvalBool evaluates a compiled condition against a request context and
// reports whether it is satisfied. Missing attributes evaluate to null;
// comparisons against null are false except equality with the null
// literal; a null boolean operand is false. Evaluation never mutates the
// context.
func (c *Compiled) EvalBool(ctx map[string]any) (bool, error) {
	v, err := eval(c.expr, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func eval(e *exprpb.Expr, ctx map[string]any) (any, error) {
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		return constValue(k.ConstExpr)

	case *exprpb.Expr_IdentExpr:
		// missing names are null, not errors
		return ctx[k.IdentExpr.Name], nil

	case *exprpb.Expr_SelectExpr:
		operand, err := eval(k.SelectExpr.Operand, ctx)
		if err != nil {
			return nil, err
		}
		return member(operand, k.SelectExpr.Field), nil

	case *exprpb.Expr_ListExpr:
		out := make([]any, 0, len(k.ListExpr.Elements))
		for _, el := range k.ListExpr.Elements {
			v, err := eval(el, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case *exprpb.Expr_CallExpr:
		return evalCall(k.CallExpr, ctx)

	default:
		return nil, fmt.Errorf("unsupported expression kind %T", e.ExprKind)
	}
}

func evalCall(call *exprpb.Expr_Call, ctx map[string]any) (any, error) {
	switch call.Function {
	case "_&&_":
		left, err := eval(call.Args[0], ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := eval(call.Args[1], ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil

	case "_||_":
		left, err := eval(call.Args[0], ctx)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := eval(call.Args[1], ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil

	case "!_":
		v, err := eval(call.Args[0], ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}

	left, err := eval(call.Args[0], ctx)
	if err != nil {
		return nil, err
	}
	right, err := eval(call.Args[1], ctx)
	if err != nil {
		return nil, err
	}

	switch call.Function {
	case "_==_":
		return looseEqual(left, right), nil
	case "_!=_":
		return !looseEqual(left, right), nil
	case "_<_", "_<=_", "_>_", "_>=_":
		return order(call.Function, left, right), nil
	case "@in":
		return membership(left, right), nil
	case "_[_]":
		return index(left, right), nil
	default:
		return nil, fmt.Errorf("function %q is not allowed", call.Function)
	}
}

func constValue(c *exprpb.Constant) (any, error) {
	switch v := c.ConstantKind.(type) {
	case *exprpb.Constant_NullValue:
		return nil, nil
	case *exprpb.Constant_BoolValue:
		return v.BoolValue, nil
	case *exprpb.Constant_Int64Value:
		return v.Int64Value, nil
	case *exprpb.Constant_Uint64Value:
		return v.Uint64Value, nil
	case *exprpb.Constant_DoubleValue:
		return v.DoubleValue, nil
	case *exprpb.Constant_StringValue:
		return v.StringValue, nil
	default:
		return nil, fmt.Errorf("unsupported literal %T", c.ConstantKind)
	}
}

// member resolves attribute access; anything unresolvable is null.
func member(operand any, field string) any {
	if m, ok := operand.(map[string]any); ok {
		return m[field]
	}
	return nil
}

// index resolves subscripts: string keys on maps, integer offsets on lists.
func index(operand, key any) any {
	switch o := operand.(type) {
	case map[string]any:
		if k, ok := key.(string); ok {
			return o[k]
		}
	case []any:
		if i, ok := asInt(key); ok && i >= 0 && int(i) < len(o) {
			return o[i]
		}
	}
	return nil
}

// membership implements `x in collection`: element equality for lists, key
// presence for maps. A null collection contains nothing.
func membership(item, collection any) bool {
	switch c := collection.(type) {
	case []any:
		for _, el := range c {
			if looseEqual(item, el) {
				return true
			}
		}
	case map[string]any:
		if k, ok := item.(string); ok {
			_, present := c[k]
			return present
		}
	}
	return false
}

// looseEqual compares across the numeric types JSON decoding produces, so
// `count == 3` holds whether count arrived as int, int64, or float64.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := asFloat(a); aok {
		if fb, bok := asFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// order implements the four inequality operators over numbers and strings.
// Any comparison involving null or mixed incomparable types is false.
func order(fn string, a, b any) bool {
	var cmp int
	if fa, aok := asFloat(a); aok {
		fb, bok := asFloat(b)
		if !bok {
			return false
		}
		switch {
		case fa < fb:
			cmp = -1
		case fa > fb:
			cmp = 1
		}
	} else if sa, aok := a.(string); aok {
		sb, bok := b.(string)
		if !bok {
			return false
		}
		switch {
		case sa < sb:
			cmp = -1
		case sa > sb:
			cmp = 1
		}
	} else {
		return false
	}

	switch fn {
	case "_<_":
		return cmp < 0
	case "_<=_":
		return cmp <= 0
	case "_>_":
		return cmp > 0
	case "_>=_":
		return cmp >= 0
	}
	return false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}
