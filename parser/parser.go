package parser

import (
	"context"
	"io"

	"github.com/ledgerkit/ledgerkit/ast"
)

// Parser turns a token stream produced by Lexer into an *ast.AST. It is a
// hand-rolled recursive-descent parser: each directive keyword dispatches to
// one of the parseX methods in directives.go/transaction.go, while this file
// owns the top-level loop (options, includes, plugins, the tag/meta stacks,
// and standalone comments/blank lines) plus the parser's entrypoints.
//
// The parser is error-recovering: a syntax error inside a directive discards
// tokens up to the next line that can begin a directive (a date or reserved
// top-level keyword in column 1), records the error, and keeps going. The
// returned AST therefore always exists; callers inspect the returned error
// (a *ParseErrors) to decide whether the result is acceptable.
type Parser struct {
	source   []byte
	tokens   []Token
	pos      int
	filename string
	interner *Interner

	// lineIndent maps a line number to the width of its INDENT token. The
	// lexer emits INDENT tokens as a dedicated post-pass artifact; the
	// parser folds them into this table so directive parsers can compare
	// continuation depth without stepping around them.
	lineIndent map[int]int

	errors []*ParseError
}

// NewParser creates a parser over an already-lexed token stream. INDENT
// tokens are stripped from the stream here and recorded per line.
func NewParser(source []byte, tokens []Token, filename string, interner *Interner) *Parser {
	lineIndent := make(map[int]int)
	kept := tokens[:0:0]
	for _, tok := range tokens {
		if tok.Type == INDENT {
			lineIndent[tok.Line] = IndentWidth(tok, source)
			continue
		}
		kept = append(kept, tok)
	}

	return &Parser{
		source:     source,
		tokens:     kept,
		filename:   filename,
		interner:   interner,
		lineIndent: lineIndent,
	}
}

// Errors returns the parse errors recorded so far.
func (p *Parser) Errors() []*ParseError {
	return p.errors
}

// indentAt returns the indent width of the given line, 0 for unindented lines.
func (p *Parser) indentAt(line int) int {
	return p.lineIndent[line]
}

// Parse reads and parses an entire Beancount file from r.
func Parse(ctx context.Context, r io.Reader) (*ast.AST, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(ctx, data)
}

// ParseString parses a Beancount source string.
func ParseString(ctx context.Context, str string) (*ast.AST, error) {
	return ParseBytes(ctx, []byte(str))
}

// ParseBytes parses Beancount source bytes with no filename context.
func ParseBytes(ctx context.Context, data []byte) (*ast.AST, error) {
	return ParseBytesWithFilename(ctx, "", data)
}

// ParseBytesWithFilename parses Beancount source bytes, attaching filename to
// every position recorded in the resulting AST.
//
// On syntax errors the parser recovers and keeps parsing; the returned AST
// holds every directive that parsed cleanly and the returned error is a
// *ParseErrors carrying the rest. Only lexing failures (invalid UTF-8)
// prevent a tree from being produced at all.
func ParseBytesWithFilename(ctx context.Context, filename string, data []byte) (*ast.AST, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	lex := NewLexer(data, filename)
	tokens, err := lex.ScanAll()
	if err != nil {
		return nil, NewParseErrorWithSource(filename, err, data)
	}

	p := NewParser(data, tokens, filename, lex.Interner())

	tree := p.parseFile()

	if err := ast.ApplyPushPopDirectives(tree); err != nil {
		p.errors = append(p.errors, NewParseError(filename, err))
	}

	if err := ast.SortDirectives(tree); err != nil {
		p.errors = append(p.errors, NewParseError(filename, err))
	}

	if len(p.errors) > 0 {
		return tree, &ParseErrors{Errors: p.errors}
	}
	return tree, nil
}

// parseFile runs the top-level dispatch loop over the whole token stream,
// producing every directive, option, include, plugin, tag/meta stack entry,
// comment, and blank line in the file. Errors are recorded and the loop
// resynchronizes at the next directive start.
func (p *Parser) parseFile() *ast.AST {
	tree := &ast.AST{}

	for !p.isAtEnd() {
		tok := p.peek()

		switch tok.Type {
		case NEWLINE:
			p.advance()
			bl := &ast.BlankLine{}
			bl.SetPosition(tokenPosition(tok, p.filename))
			tree.BlankLines = append(tree.BlankLines, bl)

		case COMMENT:
			tree.Comments = append(tree.Comments, p.parseComment())

		case OPTION:
			opt, err := p.parseOption()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Options = append(tree.Options, opt)

		case INCLUDE:
			inc, err := p.parseInclude()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Includes = append(tree.Includes, inc)

		case PLUGIN:
			pl, err := p.parsePlugin()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Plugins = append(tree.Plugins, pl)

		case PUSHTAG:
			pt, err := p.parsePushtag()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Pushtags = append(tree.Pushtags, pt)

		case POPTAG:
			pt, err := p.parsePoptag()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Poptags = append(tree.Poptags, pt)

		case PUSHMETA:
			pm, err := p.parsePushmeta()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Pushmetas = append(tree.Pushmetas, pm)

		case POPMETA:
			pm, err := p.parsePopmeta()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Popmetas = append(tree.Popmetas, pm)

		case DATE:
			directive, err := p.parseDatedDirective()
			if err != nil {
				p.recover(err)
				continue
			}
			tree.Directives = append(tree.Directives, directive)

		default:
			p.recover(p.error("unexpected token %s %q", tok.Type, tok.String(p.source)))
		}
	}

	return tree
}

// recover records the error and skips tokens until the next plausible
// directive start: a DATE or reserved top-level keyword in column 1, or EOF.
// Every directive parser consumes at least its leading token before it can
// fail, so stopping at the current token when it already qualifies cannot
// stall the top-level loop.
func (p *Parser) recover(err error) {
	p.recordError(err)

	for !p.isAtEnd() {
		tok := p.peek()
		if tok.Column == 1 {
			switch tok.Type {
			case DATE, OPTION, INCLUDE, PLUGIN, PUSHTAG, POPTAG, PUSHMETA, POPMETA, NEWLINE, COMMENT:
				return
			}
		}
		p.advance()
	}
}

// recordError appends err to the parser's error list, converting plain errors
// into positioned ParseErrors when needed.
func (p *Parser) recordError(err error) {
	if err == nil {
		return
	}
	if pe, ok := err.(*ParseError); ok {
		p.errors = append(p.errors, pe)
		return
	}
	p.errors = append(p.errors, NewParseError(p.filename, err))
}

// parseDatedDirective parses a DATE token followed by the directive keyword
// that determines its shape. The date and keyword may sit on separate lines,
// with any number of blank lines between them; the directive's position is
// always anchored to the keyword, not the date, so error messages and sort
// order point at the line the reader actually sees the directive on.
func (p *Parser) parseDatedDirective() (ast.Directive, error) {
	date, err := p.parseDate()
	if err != nil {
		return nil, err
	}

	for p.check(NEWLINE) {
		p.advance()
	}

	tok := p.peek()
	pos := tokenPosition(tok, p.filename)

	switch tok.Type {
	case TXN, ASTERISK, EXCLAIM, FLAG, STRING:
		return p.parseTransaction(pos, date)
	case TAG:
		// A bare "#" after a date is the # transaction flag, not a tag.
		if tok.Len() == 1 {
			return p.parseTransaction(pos, date)
		}
		return nil, p.error("expected directive keyword after date, got tag %q", tok.String(p.source))
	case IDENT:
		// Single-letter flags (P, S, T, C, U, R, M) arrive as IDENT tokens.
		if tok.Len() == 1 && isTransactionFlag(p.source[tok.Start]) {
			return p.parseTransaction(pos, date)
		}
		return nil, p.error("expected directive keyword after date, got %s %q", tok.Type, tok.String(p.source))
	case BALANCE:
		return p.parseBalance(pos, date)
	case OPEN:
		return p.parseOpen(pos, date)
	case CLOSE:
		return p.parseClose(pos, date)
	case COMMODITY:
		return p.parseCommodity(pos, date)
	case PAD:
		return p.parsePad(pos, date)
	case NOTE:
		return p.parseNote(pos, date)
	case DOCUMENT:
		return p.parseDocument(pos, date)
	case PRICE:
		return p.parsePrice(pos, date)
	case EVENT:
		return p.parseEvent(pos, date)
	case QUERY:
		return p.parseQuery(pos, date)
	case CUSTOM:
		return p.parseCustom(pos, date)
	default:
		return nil, p.error("expected directive keyword after date, got %s %q", tok.Type, tok.String(p.source))
	}
}

// finishDirective attaches an optional trailing inline comment and any
// indented metadata lines that follow a simple (non-transaction) directive.
func (p *Parser) finishDirective(d ast.Directive) error {
	line := d.Position().Line

	if !p.isAtEnd() && p.peek().Type == COMMENT && p.peek().Line == line {
		d.SetComment(p.parseComment())
	}

	if !p.isAtEnd() && p.peek().Line > line && p.peek().Column > 1 {
		d.AddMetadata(p.parseMetadataFromLine(line)...)
	}

	return nil
}

// parseComment consumes a COMMENT token and returns the trivia node for it.
// The token span includes the trailing newline (it owns its line in the
// lexer's token stream), so that gets trimmed from the stored content.
func (p *Parser) parseComment() *ast.Comment {
	tok := p.advance()
	content := tok.String(p.source)
	for len(content) > 0 && (content[len(content)-1] == '\n' || content[len(content)-1] == '\r') {
		content = content[:len(content)-1]
	}

	c := &ast.Comment{Content: content}
	c.SetPosition(tokenPosition(tok, p.filename))
	return c
}

// MustParseString parses a Beancount source string, panicking on any parse
// error. Intended for tests and examples where the source is known-good.
func MustParseString(ctx context.Context, source string) *ast.AST {
	tree, err := ParseString(ctx, source)
	if err != nil {
		panic(err)
	}
	return tree
}
