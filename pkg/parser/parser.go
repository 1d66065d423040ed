// Package parser implements a recursive-descent parser for the
// language's surface syntax, targeting the concrete grammar spec.md's
// own scenarios use literally: `let`, `if ... then ... else`,
// `while ... do`, dotted method calls (`1.+(2)`) alongside infix
// operator sugar for the same built-ins (`x > 0`), `object [extends
// <expr>] { ... }` literals, array literals `[size; init]`, index sugar
// (`a[i]`, `a[i] = v`), `function name(params) -> expr` declarations,
// and `print("fmt", args...)`.
//
// Parser Architecture:
//
// The parser is classic Pratt/precedence-climbing recursive descent. It
// keeps two tokens of lookahead (curTok, peekTok) and accumulates
// errors in a slice rather than bailing out on the first one, so a
// single parse pass can report every syntax error at once.
//
// Grammar (informal):
//
//	Top        := Expr (";" Expr)* ";"?
//	Expr       := Assign
//	Assign     := Binary ("=" Assign)?
//	Binary     := Postfix (InfixOp Postfix)*     -- precedence-climbed
//	Postfix    := Primary ( "." Name ["(" Args ")"]
//	                       | "[" Expr "]" ["=" Expr]
//	                       | "(" Args ")" )*
//	Primary    := Integer | "true" | "false" | "null" | Ident
//	            | "(" Expr ")"
//	            | "let" Ident "=" Expr
//	            | "if" Expr "then" Expr "else" Expr
//	            | "while" Expr "do" Expr
//	            | "function" [Ident] "(" Params ")" "->" Expr
//	            | "object" ["extends" Expr] "{" Member* "}"
//	            | "print" "(" String ("," Expr)* ")"
//	            | "[" Expr ";" Expr "]"
//	            | "{" Expr (";" Expr)* "}"
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"taglang/pkg/ast"
	"taglang/pkg/lexer"
)

// precedence levels, weakest to strongest. Assignment is handled
// outside this ladder (see parseAssign) since it is right-associative
// and only legal with certain left-hand shapes.
const (
	_ int = iota
	precLowest
	precLogical // & |
	precEquals  // == !=
	precCompare // < > <= >=
	precSum     // + -
	precProduct // * / %
)

var infixPrecedence = map[lexer.TokenType]int{
	lexer.TokenAmp:     precLogical,
	lexer.TokenPipe:    precLogical,
	lexer.TokenEqEq:    precEquals,
	lexer.TokenNotEq:   precEquals,
	lexer.TokenLt:      precCompare,
	lexer.TokenGt:      precCompare,
	lexer.TokenLe:      precCompare,
	lexer.TokenGe:      precCompare,
	lexer.TokenPlus:    precSum,
	lexer.TokenMinus:   precSum,
	lexer.TokenStar:    precProduct,
	lexer.TokenSlash:   precProduct,
	lexer.TokenPercent: precProduct,
}

// Parser consumes a token stream from a Lexer and produces an ast.Top.
type Parser struct {
	l *lexer.Lexer

	curTok  lexer.Token
	peekTok lexer.Token

	errors []string
}

// New returns a Parser reading from source.
func New(source string) *Parser {
	p := &Parser{l: lexer.New(source)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) curIs(tt lexer.TokenType) bool  { return p.curTok.Type == tt }
func (p *Parser) peekIs(tt lexer.TokenType) bool { return p.peekTok.Type == tt }

func (p *Parser) expect(tt lexer.TokenType) bool {
	if p.curIs(tt) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s (%q)", tt, p.curTok.Type, p.curTok.Literal)
	return false
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("line %d: %s", p.curTok.Line, fmt.Sprintf(format, args...)))
}

// Parse runs the parser to completion and returns the entry-point Top
// node, or a combined error if any syntax errors were recorded.
func (p *Parser) Parse() (*ast.Top, error) {
	exprs := p.parseSequence(lexer.TokenEOF)
	if len(p.errors) > 0 {
		return nil, fmt.Errorf("parser: %s", strings.Join(p.errors, "; "))
	}
	return &ast.Top{Expressions: exprs}, nil
}

// parseSequence parses `Expr (";" Expr)* ";"?` up to (not consuming)
// stop, used for both the top-level program and brace-delimited blocks.
func (p *Parser) parseSequence(stop lexer.TokenType) []ast.Node {
	var exprs []ast.Node
	for !p.curIs(stop) && !p.curIs(lexer.TokenEOF) {
		exprs = append(exprs, p.parseExpr())
		if p.curIs(lexer.TokenSemi) {
			p.nextToken()
			continue
		}
		break
	}
	return exprs
}

func (p *Parser) parseExpr() ast.Node {
	return p.parseAssign()
}

// parseAssign handles `=` as a right-associative, lowest-precedence
// production applied only to lvalue-shaped left-hand sides.
func (p *Parser) parseAssign() ast.Node {
	left := p.parseBinary(precLowest)
	if !p.curIs(lexer.TokenAssign) {
		return left
	}
	p.nextToken()
	right := p.parseAssign()

	switch n := left.(type) {
	case *ast.VariableAccess:
		return &ast.VariableAssignment{Name: n.Name, Value: right}
	case *ast.IndexAccess:
		return &ast.IndexAssignment{Object: n.Object, Index: n.Index, Value: right}
	case *ast.FieldAccess:
		return &ast.FieldAssignment{Object: n.Object, Field: n.Field, Value: right}
	default:
		p.errorf("invalid assignment target")
		return left
	}
}

// parseBinary implements precedence climbing over the infix operator
// table; every infix operator desugars to the same MethodCall node the
// explicit dotted-call syntax produces (spec §4.3's method-call
// compilation applies uniformly to both surface forms).
func (p *Parser) parseBinary(minPrec int) ast.Node {
	left := p.parsePostfix(p.parsePrimary())
	for {
		prec, ok := infixPrecedence[p.curTok.Type]
		if !ok || prec <= minPrec {
			return left
		}
		op := p.curTok.Literal
		p.nextToken()
		right := p.parseBinary(prec)
		left = &ast.MethodCall{Object: left, Name: op, Arguments: []ast.Node{right}}
	}
}

// parsePostfix consumes a chain of `.name[(args)]`, `[index]`, and
// `(args)` suffixes onto an already-parsed primary expression.
func (p *Parser) parsePostfix(left ast.Node) ast.Node {
	for {
		switch p.curTok.Type {
		case lexer.TokenDot:
			p.nextToken()
			name := p.selectorName()
			if p.curIs(lexer.TokenLParen) {
				args := p.parseArgs()
				left = &ast.MethodCall{Object: left, Name: name, Arguments: args}
			} else {
				left = &ast.FieldAccess{Object: left, Field: name}
			}
		case lexer.TokenLBracket:
			p.nextToken()
			idx := p.parseExpr()
			p.expect(lexer.TokenRBracket)
			left = &ast.IndexAccess{Object: left, Index: idx}
		case lexer.TokenLParen:
			args := p.parseArgs()
			left = &ast.FunctionCall{Function: left, Arguments: args}
		default:
			return left
		}
	}
}

// selectorName consumes the name after a `.`, which may be an
// identifier (`o.field`) or one of the operator tokens used as a
// built-in method selector (`1.+(2)`).
func (p *Parser) selectorName() string {
	tok := p.curTok
	switch tok.Type {
	case lexer.TokenIdentifier, lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar,
		lexer.TokenSlash, lexer.TokenPercent, lexer.TokenLe, lexer.TokenGe,
		lexer.TokenLt, lexer.TokenGt, lexer.TokenEqEq, lexer.TokenNotEq,
		lexer.TokenAmp, lexer.TokenPipe:
		p.nextToken()
		return tok.Literal
	default:
		p.errorf("expected a method name after '.', got %s", tok.Type)
		p.nextToken()
		return tok.Literal
	}
}

func (p *Parser) parseArgs() []ast.Node {
	p.expect(lexer.TokenLParen)
	var args []ast.Node
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		args = append(args, p.parseExpr())
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(lexer.TokenRParen)
	return args
}

func (p *Parser) parsePrimary() ast.Node {
	switch p.curTok.Type {
	case lexer.TokenInteger:
		return p.parseInteger()
	case lexer.TokenTrue, lexer.TokenFalse:
		b := &ast.Boolean{Literal: p.curTok.Literal, Value: p.curTok.Type == lexer.TokenTrue}
		p.nextToken()
		return b
	case lexer.TokenNull:
		p.nextToken()
		return &ast.Null{}
	case lexer.TokenIdentifier:
		name := p.curTok.Literal
		p.nextToken()
		return &ast.VariableAccess{Name: name}
	case lexer.TokenLParen:
		p.nextToken()
		e := p.parseExpr()
		p.expect(lexer.TokenRParen)
		return e
	case lexer.TokenLet:
		return p.parseLet()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFunction:
		return p.parseFunction()
	case lexer.TokenObject:
		return p.parseObject()
	case lexer.TokenPrint:
		return p.parsePrint()
	case lexer.TokenLBracket:
		return p.parseArrayLiteral()
	case lexer.TokenLBrace:
		return p.parseBlock()
	default:
		p.errorf("unexpected token %s (%q)", p.curTok.Type, p.curTok.Literal)
		p.nextToken()
		return &ast.Null{}
	}
}

func (p *Parser) parseInteger() ast.Node {
	tok := p.curTok
	v, err := strconv.ParseInt(tok.Literal, 10, 32)
	if err != nil {
		p.errorf("invalid integer literal %q: %v", tok.Literal, err)
	}
	p.nextToken()
	return &ast.Integer{Literal: tok.Literal, Value: int32(v)}
}

func (p *Parser) parseLet() ast.Node {
	p.nextToken() // consume 'let'
	name := p.identName()
	p.expect(lexer.TokenAssign)
	val := p.parseExpr()
	return &ast.Definition{Name: name, Value: val}
}

func (p *Parser) identName() string {
	if !p.curIs(lexer.TokenIdentifier) {
		p.errorf("expected identifier, got %s", p.curTok.Type)
		name := p.curTok.Literal
		p.nextToken()
		return name
	}
	name := p.curTok.Literal
	p.nextToken()
	return name
}

func (p *Parser) parseIf() ast.Node {
	p.nextToken() // 'if'
	cond := p.parseExpr()
	p.expect(lexer.TokenThen)
	cons := p.parseExpr()
	p.expect(lexer.TokenElse)
	alt := p.parseExpr()
	return &ast.Conditional{Condition: cond, Consequent: cons, Alternative: alt}
}

func (p *Parser) parseWhile() ast.Node {
	p.nextToken() // 'while'
	cond := p.parseExpr()
	p.expect(lexer.TokenDo)
	body := p.parseExpr()
	return &ast.Loop{Condition: cond, Body: body}
}

// parseFunction parses both the anonymous function literal and the
// `function name(params) -> expr` declaration sugar. The latter
// desugars here directly into a Definition binding name to the
// function literal (spec §5.7), matching how `let` introduces any other
// binding.
func (p *Parser) parseFunction() ast.Node {
	p.nextToken() // 'function'
	name := ""
	if p.curIs(lexer.TokenIdentifier) {
		name = p.curTok.Literal
		p.nextToken()
	}
	params := p.parseParams()
	p.expect(lexer.TokenArrow)
	body := p.parseExpr()
	fn := &ast.Function{Name: name, Parameters: params, Body: body}
	if name != "" {
		return &ast.Definition{Name: name, Value: fn}
	}
	return fn
}

func (p *Parser) parseParams() []string {
	p.expect(lexer.TokenLParen)
	var params []string
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		params = append(params, p.identName())
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(lexer.TokenRParen)
	return params
}

// parseObject parses `object [extends <expr>] { <members> }`. Each
// member is either `let name = expr` or the `function name(...) ->
// expr` sugar, both of which parsePrimary already reduces to a
// Definition.
func (p *Parser) parseObject() ast.Node {
	p.nextToken() // 'object'
	var extends ast.Node
	if p.curIs(lexer.TokenExtends) {
		p.nextToken()
		extends = p.parseBinary(precLowest)
		extends = p.parsePostfix(extends)
	}
	p.expect(lexer.TokenLBrace)
	var members []*ast.Definition
	for !p.curIs(lexer.TokenRBrace) && !p.curIs(lexer.TokenEOF) {
		member := p.parseExpr()
		def, ok := member.(*ast.Definition)
		if !ok {
			p.errorf("object members must be 'let' or 'function' declarations")
		} else {
			members = append(members, def)
		}
		if p.curIs(lexer.TokenSemi) {
			p.nextToken()
			continue
		}
		break
	}
	p.expect(lexer.TokenRBrace)
	return &ast.Object{Extends: extends, Members: members}
}

func (p *Parser) parsePrint() ast.Node {
	p.nextToken() // 'print'
	p.expect(lexer.TokenLParen)
	if !p.curIs(lexer.TokenString) {
		p.errorf("print expects a format string as its first argument, got %s", p.curTok.Type)
	}
	format := p.curTok.Literal
	p.nextToken()
	var args []ast.Node
	for p.curIs(lexer.TokenComma) {
		p.nextToken()
		args = append(args, p.parseExpr())
	}
	p.expect(lexer.TokenRParen)
	return &ast.Print{Format: format, Arguments: args}
}

// parseArrayLiteral parses `[size; init]`, the only production `[`
// introduces at the primary level (index access is a postfix suffix on
// an already-parsed expression, handled in parsePostfix).
func (p *Parser) parseArrayLiteral() ast.Node {
	p.nextToken() // '['
	size := p.parseExpr()
	p.expect(lexer.TokenSemi)
	init := p.parseExpr()
	p.expect(lexer.TokenRBracket)
	return &ast.Array{Size: size, Initializer: init}
}

func (p *Parser) parseBlock() ast.Node {
	p.nextToken() // '{'
	exprs := p.parseSequence(lexer.TokenRBrace)
	p.expect(lexer.TokenRBrace)
	return &ast.Block{Expressions: exprs}
}
