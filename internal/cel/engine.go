// Package cel compiles and evaluates the when/unless expression bodies of
// the policy language using cel-go, extended with the entity-aware
// functions the policy grammar exposes (hasTag, getTag, like, in, contains).
package cel

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Engine holds the shared CEL environment and a per-Snapshot cache of
// compiled programs keyed by expression source, so repeated policies across
// requests never re-parse.
type Engine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// EvalContext carries the reserved identifiers a when/unless body may
// reference.
type EvalContext struct {
	Principal map[string]interface{}
	Action    string
	Resource  map[string]interface{}
	Context   map[string]interface{}
}

// NewEngine builds the CEL environment with the variables and custom
// functions the policy grammar's expression bodies are compiled against.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("principal", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("action", decls.String),
			decls.NewVar("resource", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("context", decls.NewMapType(decls.String, decls.Dyn)),
		),
		cel.Declarations(
			// entity.hasTag(key) -> bool, a receiver call since every
			// grammar use is e.hasTag("k")/resource.properties.getTag(...).
			decls.NewFunction("hasTag",
				decls.NewInstanceOverload("hasTag_map_string",
					[]*exprpb.Type{decls.NewMapType(decls.String, decls.Dyn), decls.String},
					decls.Bool,
				),
			),
			// entity.getTag(key) -> dyn (errors if the key is absent)
			decls.NewFunction("getTag",
				decls.NewInstanceOverload("getTag_map_string",
					[]*exprpb.Type{decls.NewMapType(decls.String, decls.Dyn), decls.String},
					decls.Dyn,
				),
			),
			// like(value, pattern) -> bool, '*' wildcard only
			decls.NewFunction("like",
				decls.NewOverload("like_string_string",
					[]*exprpb.Type{decls.String, decls.String},
					decls.Bool,
				),
			),
			// list.contains(element) -> bool, plain CEL-equality membership
			// (not ancestor-aware; that's inAncestor, below).
			decls.NewFunction("contains",
				decls.NewInstanceOverload("list_contains_dyn",
					[]*exprpb.Type{decls.NewListType(decls.Dyn), decls.Dyn},
					decls.Bool,
				),
			),
			// inAncestor(entityOrUid, targetOrSet) -> bool, ancestor-closure
			// containment. Named inAncestor rather than "in" because "in" is
			// a CEL-reserved infix operator: a global function named "in"
			// can never actually be invoked (neither call syntax, which CEL
			// rejects as a syntax error on the reserved word, nor infix
			// syntax, which always resolves to CEL's own native membership
			// check). The policy grammar's infix `principal in X` form is
			// lowered to a call to this function before compilation — see
			// lowerInOperator.
			decls.NewFunction("inAncestor",
				decls.NewOverload("inAncestor_dyn_dyn",
					[]*exprpb.Type{decls.Dyn, decls.Dyn},
					decls.Bool,
				),
			),
		),
		cel.Function("hasTag",
			cel.MemberOverload("hasTag_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(hasTagBinding),
			),
		),
		cel.Function("getTag",
			cel.MemberOverload("getTag_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(getTagBinding),
			),
		),
		cel.Function("like",
			cel.Overload("like_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(likeBinding),
			),
		),
		cel.Function("contains",
			cel.MemberOverload("list_contains_dyn",
				[]*cel.Type{cel.ListType(cel.DynType), cel.DynType},
				cel.BoolType,
				cel.BinaryBinding(containsBinding),
			),
		),
		cel.Function("inAncestor",
			cel.Overload("inAncestor_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType},
				cel.BoolType,
				cel.BinaryBinding(inAncestorBinding),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses and type-checks expr, caching the resulting program. The
// policy grammar's infix `X in Y` ancestor-closure check is lowered to an
// inAncestor(X, Y) call before handing the source to cel-go, since "in" is
// reserved and cannot carry custom semantics as written.
func (e *Engine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}
	lowered, err := lowerInOperator(expr)
	if err != nil {
		return nil, fmt.Errorf("lower in operator: %w", err)
	}
	ast, issues := e.env.Compile(lowered)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	e.programs.Store(expr, prog)
	return prog, nil
}

// Evaluate runs a compiled program against ctx and requires a boolean
// result, which is the policy grammar's only well-formed when/unless shape.
func (e *Engine) Evaluate(prog cel.Program, ctx *EvalContext) (bool, error) {
	vars := map[string]interface{}{
		"principal": ctx.Principal,
		"action":    ctx.Action,
		"resource":  ctx.Resource,
		"context":   ctx.Context,
	}
	result, _, err := prog.Eval(vars)
	if err != nil {
		return false, err
	}
	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean, got %T", result.Value())
	}
	return boolVal, nil
}

// EvaluateExpression compiles and evaluates expr in one call.
func (e *Engine) EvaluateExpression(expr string, ctx *EvalContext) (bool, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Evaluate(prog, ctx)
}

// hasTagBinding implements entity.hasTag(key); only tag-bearing entity maps
// carry a non-nil "tags" field, so applying it to the wrong kind simply
// reports false rather than erroring (the grammar expects callers to guard
// getTag with it).
func hasTagBinding(lhs, rhs ref.Val) ref.Val {
	entity, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.False
	}
	key, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	tags, ok := entity["tags"].(map[string]interface{})
	if !ok {
		return types.False
	}
	_, present := tags[key]
	return types.Bool(present)
}

// getTagBinding implements entity.getTag(key); a missing key or a kind that
// does not bear tags at all produces a CEL error, which propagates out of
// Evaluate as the residual-error case the evaluator treats as neither-match.
func getTagBinding(lhs, rhs ref.Val) ref.Val {
	entity, ok := lhs.Value().(map[string]interface{})
	if !ok {
		return types.NewErr("getTag: not an entity")
	}
	key, ok := rhs.Value().(string)
	if !ok {
		return types.NewErr("getTag: key is not a string")
	}
	tags, ok := entity["tags"].(map[string]interface{})
	if !ok {
		return types.NewErr("getTag: entity kind does not bear tags")
	}
	val, present := tags[key]
	if !present {
		return types.NewErr("getTag: tag %q not present", key)
	}
	return types.DefaultTypeAdapter.NativeToValue(val)
}

// likeBinding implements like(value, pattern) with '*' as the sole wildcard
// (zero-or-more characters); '?' is not special.
func likeBinding(lhs, rhs ref.Val) ref.Val {
	value, ok := lhs.Value().(string)
	if !ok {
		return types.False
	}
	pattern, ok := rhs.Value().(string)
	if !ok {
		return types.False
	}
	return types.Bool(matchLike(value, pattern))
}

func matchLike(value, pattern string) bool {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// containsBinding implements list.contains(element): plain CEL-equality
// membership, the same check the "in" operator performs on built-in lists.
// cel-go does not register a contains() member on lists itself (list
// membership is ordinarily only reachable via the "in" operator), so the
// grammar's `<list>.contains(x)` form needs this explicit binding.
func containsBinding(lhs, rhs ref.Val) ref.Val {
	lister, ok := lhs.(traits.Lister)
	if !ok {
		return types.False
	}
	sz, ok := lister.Size().Value().(int64)
	if !ok {
		return types.False
	}
	for i := int64(0); i < sz; i++ {
		if lister.Get(types.Int(i)).Equal(rhs) == types.True {
			return types.True
		}
	}
	return types.False
}

// inAncestorBinding implements inAncestor(entityOrUid, targetOrSet): true if
// the left-hand uid (or any of its ancestors) equals the right-hand uid, or
// any element of the right-hand set. Entity maps carry a precomputed
// "__ancestors" field (self included, since "in" is reflexive) so this
// never needs to reach back into store state.
func inAncestorBinding(lhs, rhs ref.Val) ref.Val {
	ancestors := ancestorSet(lhs)
	targets := targetSet(rhs)
	for _, t := range targets {
		if ancestors[t] {
			return types.True
		}
	}
	return types.False
}

func ancestorSet(v ref.Val) map[string]bool {
	set := make(map[string]bool)
	switch val := v.Value().(type) {
	case string:
		set[val] = true
	case map[string]interface{}:
		if uid, ok := val["uid"].(string); ok {
			set[uid] = true
		}
		if anc, ok := val["__ancestors"].([]interface{}); ok {
			for _, a := range anc {
				if s, ok := a.(string); ok {
					set[s] = true
				}
			}
		}
	}
	return set
}

func targetSet(v ref.Val) []string {
	switch val := v.Value().(type) {
	case string:
		return []string{val}
	case map[string]interface{}:
		if uid, ok := val["uid"].(string); ok {
			return []string{uid}
		}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, e := range val {
			switch ev := e.(type) {
			case string:
				out = append(out, ev)
			case map[string]interface{}:
				if uid, ok := ev["uid"].(string); ok {
					out = append(out, uid)
				}
			}
		}
		return out
	}
	return nil
}
