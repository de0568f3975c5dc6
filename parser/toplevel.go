package parser

import "github.com/ledgerkit/ledgerkit/ast"

// Parsers for the directive-free top-level constructs: options, includes,
// plugins, and the pushtag/poptag/pushmeta/popmeta stack operators. These
// never carry a date and never accept trailing metadata or comments of
// their own beyond what parseFile already strips.

// parseOption parses: option STRING STRING
func (p *Parser) parseOption() (*ast.Option, error) {
	tok := p.peek()
	p.consume(OPTION, "expected 'option'")

	name, err := p.parseString()
	if err != nil {
		return nil, err
	}

	value, err := p.parseString()
	if err != nil {
		return nil, err
	}

	opt := &ast.Option{Name: name, Value: value}
	opt.SetPosition(tokenPosition(tok, p.filename))
	return opt, nil
}

// parseInclude parses: include STRING
func (p *Parser) parseInclude() (*ast.Include, error) {
	tok := p.peek()
	p.consume(INCLUDE, "expected 'include'")

	filename, err := p.parseString()
	if err != nil {
		return nil, err
	}

	inc := &ast.Include{Filename: filename}
	inc.SetPosition(tokenPosition(tok, p.filename))
	return inc, nil
}

// parsePlugin parses: plugin STRING [STRING]
func (p *Parser) parsePlugin() (*ast.Plugin, error) {
	tok := p.peek()
	p.consume(PLUGIN, "expected 'plugin'")

	name, err := p.parseString()
	if err != nil {
		return nil, err
	}

	pl := &ast.Plugin{Name: name}
	pl.SetPosition(tokenPosition(tok, p.filename))

	if p.check(STRING) {
		config, err := p.parseString()
		if err != nil {
			return nil, err
		}
		pl.Config = config
	}

	return pl, nil
}

// parsePushtag parses: pushtag TAG
func (p *Parser) parsePushtag() (*ast.Pushtag, error) {
	tok := p.peek()
	p.consume(PUSHTAG, "expected 'pushtag'")

	tag, err := p.parseTag()
	if err != nil {
		return nil, err
	}

	pt := &ast.Pushtag{Tag: tag}
	pt.SetPosition(tokenPosition(tok, p.filename))
	return pt, nil
}

// parsePoptag parses: poptag TAG
func (p *Parser) parsePoptag() (*ast.Poptag, error) {
	tok := p.peek()
	p.consume(POPTAG, "expected 'poptag'")

	tag, err := p.parseTag()
	if err != nil {
		return nil, err
	}

	pt := &ast.Poptag{Tag: tag}
	pt.SetPosition(tokenPosition(tok, p.filename))
	return pt, nil
}

// parsePushmeta parses: pushmeta IDENT ':' VALUE
// e.g. pushmeta location: "New York, NY"
func (p *Parser) parsePushmeta() (*ast.Pushmeta, error) {
	tok := p.peek()
	p.consume(PUSHMETA, "expected 'pushmeta'")

	keyTok := p.expect(IDENT, "expected metadata key")
	if keyTok.Type == ILLEGAL {
		return nil, p.errorAtEndOfPrevious("expected metadata key")
	}
	key := keyTok.String(p.source)

	p.consume(COLON, "expected ':'")

	value, err := p.parseMetaStackValue()
	if err != nil {
		return nil, err
	}

	pm := &ast.Pushmeta{Key: key, Value: value}
	pm.SetPosition(tokenPosition(tok, p.filename))
	return pm, nil
}

// parsePopmeta parses: popmeta IDENT ':'
func (p *Parser) parsePopmeta() (*ast.Popmeta, error) {
	tok := p.peek()
	p.consume(POPMETA, "expected 'popmeta'")

	keyTok := p.expect(IDENT, "expected metadata key")
	if keyTok.Type == ILLEGAL {
		return nil, p.errorAtEndOfPrevious("expected metadata key")
	}
	key := keyTok.String(p.source)

	p.consume(COLON, "expected ':'")

	pm := &ast.Popmeta{Key: key}
	pm.SetPosition(tokenPosition(tok, p.filename))
	return pm, nil
}

// parseMetaStackValue parses the value half of a pushmeta entry: a quoted
// string unquotes to its logical value, anything else is taken verbatim as
// the rest of the line.
func (p *Parser) parseMetaStackValue() (string, error) {
	if p.check(STRING) {
		s, err := p.parseString()
		if err != nil {
			return "", err
		}
		return s.Value, nil
	}
	return p.parseRestOfLine(), nil
}
