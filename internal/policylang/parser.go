// Package policylang implements the textual policy language: a
// hand-written recursive-descent parser for the principal/action/resource
// scope grammar and annotations (spec section 4.2), with when/unless bodies
// captured as raw source and handed to the CEL engine (internal/cel) for
// compilation rather than parsed here — no example or ecosystem library in
// the corpus implements this exact scope-clause grammar, so this part of
// the engine is necessarily hand-rolled (see DESIGN.md).
package policylang

import (
	"fmt"

	"github.com/authz-engine/go-core/internal/errs"
	"github.com/authz-engine/go-core/pkg/types"
)

// ParseError reports a syntax or semantic problem found while parsing a
// policy source file, with file/line position for diagnostics.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (e *ParseError) Kind() errs.Kind { return errs.KindLoad }

// Parse parses a UTF-8 policy source file (multiple `;`-terminated policies)
// into a PolicySet.
func Parse(file, src string) (*types.PolicySet, error) {
	p, err := newParser(file, src)
	if err != nil {
		return nil, err
	}
	ps := &types.PolicySet{}
	for p.cur().kind != tokEOF {
		policy, err := p.parsePolicy()
		if err != nil {
			return nil, err
		}
		ps.Policies = append(ps.Policies, policy)
	}
	return ps, nil
}

type parser struct {
	file   string
	src    string
	toks   []token
	idx    int
}

func newParser(file, src string) (*parser, error) {
	lx := newLexer(src)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, &ParseError{File: file, Line: lx.line, Msg: err.Error()}
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	return &parser{file: file, src: src, toks: toks}, nil
}

func (p *parser) cur() token  { return p.toks[p.idx] }
func (p *parser) advance() token {
	t := p.toks[p.idx]
	if p.idx < len(p.toks)-1 {
		p.idx++
	}
	return t
}

func (p *parser) errf(format string, args ...interface{}) error {
	return &ParseError{File: p.file, Line: p.cur().line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectSymbol(sym string) (token, error) {
	t := p.cur()
	if t.kind != tokSymbol || t.text != sym {
		return token{}, p.errf("expected %q, got %q", sym, t.text)
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (token, error) {
	t := p.cur()
	if t.kind != tokIdent {
		return token{}, p.errf("expected identifier, got %q", t.text)
	}
	return p.advance(), nil
}

func (p *parser) expectString() (token, error) {
	t := p.cur()
	if t.kind != tokString {
		return token{}, p.errf("expected string literal, got %q", t.text)
	}
	return p.advance(), nil
}

// parsePolicy parses one `@ann(...)* effect(...) when{}* unless{}* ;` policy.
func (p *parser) parsePolicy() (*types.Policy, error) {
	policy := &types.Policy{Annotations: map[string]string{}, SourceFile: p.file}

	for p.cur().kind == tokSymbol && p.cur().text == "@" {
		if err := p.parseAnnotation(policy); err != nil {
			return nil, err
		}
	}

	effectTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	policy.Line = effectTok.line
	switch effectTok.text {
	case "permit":
		policy.Effect = types.EffectPermit
	case "forbid":
		policy.Effect = types.EffectForbid
	default:
		return nil, p.errf("expected \"permit\" or \"forbid\", got %q", effectTok.text)
	}

	if _, err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if policy.Principal, err = p.parseScope("principal"); err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol(","); err != nil {
		return nil, err
	}
	if policy.Action, err = p.parseActionScope(); err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol(","); err != nil {
		return nil, err
	}
	if policy.Resource, err = p.parseScope("resource"); err != nil {
		return nil, err
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return nil, err
	}

	for p.cur().kind == tokIdent && (p.cur().text == "when" || p.cur().text == "unless") {
		isWhen := p.cur().text == "when"
		p.advance()
		body, err := p.captureBraceBody()
		if err != nil {
			return nil, err
		}
		if isWhen {
			policy.When = append(policy.When, body)
		} else {
			policy.Unless = append(policy.Unless, body)
		}
	}

	if _, err := p.expectSymbol(";"); err != nil {
		return nil, err
	}

	if policy.ID == "" {
		policy.ID = fmt.Sprintf("policy@%s:%d", p.file, policy.Line)
	}
	return policy, nil
}

func (p *parser) parseAnnotation(policy *types.Policy) error {
	if _, err := p.expectSymbol("@"); err != nil {
		return err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return err
	}
	if _, err := p.expectSymbol("("); err != nil {
		return err
	}
	valTok, err := p.expectString()
	if err != nil {
		return err
	}
	if _, err := p.expectSymbol(")"); err != nil {
		return err
	}
	policy.Annotations[nameTok.text] = valTok.text
	if nameTok.text == "id" {
		policy.ID = valTok.text
	}
	return nil
}

// parseScope parses a principal/resource scope clause:
//
//	<var>
//	<var> == Kind::"id"
//	<var> in Kind::"id"
//	<var> is Kind
//	<var> is Kind in Kind::"id"
func (p *parser) parseScope(varName string) (types.ScopeClause, error) {
	t, err := p.expectIdent()
	if err != nil {
		return types.ScopeClause{}, err
	}
	if t.text != varName {
		return types.ScopeClause{}, p.errf("expected %q, got %q", varName, t.text)
	}

	switch {
	case p.cur().kind == tokSymbol && p.cur().text == "==":
		p.advance()
		uid, err := p.parseEntityRef()
		if err != nil {
			return types.ScopeClause{}, err
		}
		return types.ScopeClause{Op: types.ScopeEq, Uid: uid}, nil
	case p.cur().kind == tokIdent && p.cur().text == "in":
		p.advance()
		uid, err := p.parseEntityRef()
		if err != nil {
			return types.ScopeClause{}, err
		}
		return types.ScopeClause{Op: types.ScopeIn, Uid: uid}, nil
	case p.cur().kind == tokIdent && p.cur().text == "is":
		p.advance()
		kindTok, err := p.expectIdent()
		if err != nil {
			return types.ScopeClause{}, err
		}
		kind := types.EntityKind(kindTok.text)
		if p.cur().kind == tokIdent && p.cur().text == "in" {
			p.advance()
			uid, err := p.parseEntityRef()
			if err != nil {
				return types.ScopeClause{}, err
			}
			return types.ScopeClause{Op: types.ScopeIsIn, Kind: kind, Uid: uid}, nil
		}
		return types.ScopeClause{Op: types.ScopeIs, Kind: kind}, nil
	default:
		return types.ScopeClause{Op: types.ScopeAny}, nil
	}
}

// parseActionScope parses the action clause. Actions are symbolic names,
// not entity-uids, so action references use a bare quoted name (optionally
// wrapped as Action::"Name" for readability); the name is stored in
// ScopeClause.Uid.ID (Kind left empty) or ScopeClause.Uids for a set.
func (p *parser) parseActionScope() (types.ScopeClause, error) {
	t, err := p.expectIdent()
	if err != nil {
		return types.ScopeClause{}, err
	}
	if t.text != "action" {
		return types.ScopeClause{}, p.errf("expected \"action\", got %q", t.text)
	}

	switch {
	case p.cur().kind == tokSymbol && p.cur().text == "==":
		p.advance()
		name, err := p.parseActionRef()
		if err != nil {
			return types.ScopeClause{}, err
		}
		return types.ScopeClause{Op: types.ScopeEq, Uid: types.EntityUid{ID: name}}, nil
	case p.cur().kind == tokIdent && p.cur().text == "in":
		p.advance()
		if p.cur().kind == tokSymbol && p.cur().text == "[" {
			p.advance()
			var names []types.EntityUid
			for {
				name, err := p.parseActionRef()
				if err != nil {
					return types.ScopeClause{}, err
				}
				names = append(names, types.EntityUid{ID: name})
				if p.cur().kind == tokSymbol && p.cur().text == "," {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expectSymbol("]"); err != nil {
				return types.ScopeClause{}, err
			}
			return types.ScopeClause{Op: types.ScopeIn, Uids: names}, nil
		}
		name, err := p.parseActionRef()
		if err != nil {
			return types.ScopeClause{}, err
		}
		return types.ScopeClause{Op: types.ScopeIn, Uid: types.EntityUid{ID: name}}, nil
	default:
		return types.ScopeClause{Op: types.ScopeAny}, nil
	}
}

// parseActionRef parses either a bare "Name" string or an Action::"Name"
// qualified form, returning just the action/group name.
func (p *parser) parseActionRef() (string, error) {
	if p.cur().kind == tokIdent {
		if _, err := p.expectIdent(); err != nil {
			return "", err
		}
		if _, err := p.expectSymbol("::"); err != nil {
			return "", err
		}
	}
	strTok, err := p.expectString()
	if err != nil {
		return "", err
	}
	return strTok.text, nil
}

// parseEntityRef parses the Kind::"id" form used by principal/resource
// scope targets.
func (p *parser) parseEntityRef() (types.EntityUid, error) {
	kindTok, err := p.expectIdent()
	if err != nil {
		return types.EntityUid{}, err
	}
	if _, err := p.expectSymbol("::"); err != nil {
		return types.EntityUid{}, err
	}
	idTok, err := p.expectString()
	if err != nil {
		return types.EntityUid{}, err
	}
	kind := types.EntityKind(kindTok.text)
	if !kind.Valid() {
		return types.EntityUid{}, p.errf("unknown entity kind %q", kindTok.text)
	}
	return types.EntityUid{Kind: kind, ID: idTok.text}, nil
}

// captureBraceBody consumes a '{' ... '}' block and returns its raw source
// text (the CEL expression body), tolerating nested braces (record/set
// literals) inside.
func (p *parser) captureBraceBody() (string, error) {
	openTok, err := p.expectSymbol("{")
	if err != nil {
		return "", err
	}
	depth := 1
	startPos := openTok.pos + 1
	var endPos int
	for {
		t := p.cur()
		if t.kind == tokEOF {
			return "", p.errf("unterminated when/unless block")
		}
		if t.kind == tokSymbol && t.text == "{" {
			depth++
		}
		if t.kind == tokSymbol && t.text == "}" {
			depth--
			if depth == 0 {
				endPos = t.pos
				p.advance()
				break
			}
		}
		p.advance()
	}
	return p.src[startPos:endPos], nil
}
