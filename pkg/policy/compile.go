// Package policy turns request contexts into decisions. Rule conditions are
// a side-effect-free boolean expression language: they are parsed with the
// CEL parser (macros cleared), validated against a fixed operator
// whitelist, and evaluated by an in-package visitor. No CEL program is
// built and no runtime code generation occurs.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/arguslabs/argus/core/pkg/errcode"
)

// allowedFunctions is the full operator set of the condition language.
// Anything else in a call position is rejected at compile time.
var allowedFunctions = map[string]bool{
	"_==_": true,
	"_!=_": true,
	"_<_":  true,
	"_<=_": true,
	"_>_":  true,
	"_>=_": true,
	"_&&_": true,
	"_||_": true,
	"!_":   true,
	"@in":  true,
	"_[_]": true,
}

// Compiled is an immutable validated condition AST. Instances are shared
// across rules through the compiler cache and safe for concurrent
// evaluation.
type Compiled struct {
	Source string
	expr   *exprpb.Expr
}

// Compiler parses and validates conditions, caching the result per exact
// source string in a bounded LRU.
type Compiler struct {
	env   *cel.Env
	cache *lru.Cache[string, *Compiled]
}

// NewCompiler builds a compiler whose cache holds at most maxCacheSize
// compiled conditions.
func NewCompiler(maxCacheSize int) (*Compiler, error) {
	// parse-only environment; macros would smuggle comprehensions past the
	// whitelist
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	cache, err := lru.New[string, *Compiled](maxCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ast cache: %w", err)
	}
	return &Compiler{env: env, cache: cache}, nil
}

// Compile returns the validated AST for source, from cache when possible.
// Invalid conditions are E8003 errors and are never cached.
func (c *Compiler) Compile(source string) (*Compiled, error) {
	if hit, ok := c.cache.Get(source); ok {
		return hit, nil
	}

	ast, issues := c.env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, errcode.Wrap(errcode.CodePolicyInvalidCondition, "parse condition", issues.Err())
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, errcode.Wrap(errcode.CodePolicyInvalidCondition, "extract ast", err)
	}

	expr := parsed.GetExpr()
	if err := validate(expr); err != nil {
		return nil, err
	}

	compiled := &Compiled{Source: source, expr: expr}
	c.cache.Add(source, compiled)
	return compiled, nil
}

// CacheLen reports the number of cached conditions; surfaced by Stats().
func (c *Compiler) CacheLen() int { return c.cache.Len() }

// validate walks the parsed AST and rejects everything outside the
// condition grammar: unlisted functions, comprehensions, and struct or map
// construction.
func validate(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr, *exprpb.Expr_IdentExpr:
		return nil

	case *exprpb.Expr_SelectExpr:
		return validate(k.SelectExpr.Operand)

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if !allowedFunctions[call.Function] {
			return errcode.Newf(errcode.CodePolicyInvalidCondition,
				"function %q is not allowed in conditions", call.Function)
		}
		if call.Target != nil {
			// allowed operators are all global; a target means a method call
			return errcode.Newf(errcode.CodePolicyInvalidCondition,
				"method calls are not allowed in conditions")
		}
		for _, arg := range call.Args {
			if err := validate(arg); err != nil {
				return err
			}
		}
		return nil

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := validate(el); err != nil {
				return err
			}
		}
		return nil

	case *exprpb.Expr_StructExpr:
		return errcode.New(errcode.CodePolicyInvalidCondition,
			"struct and map construction is not allowed in conditions")

	case *exprpb.Expr_ComprehensionExpr:
		return errcode.New(errcode.CodePolicyInvalidCondition,
			"comprehensions are not allowed in conditions")

	default:
		return errcode.Newf(errcode.CodePolicyInvalidCondition,
			"unsupported expression kind %T", e.ExprKind)
	}
}
