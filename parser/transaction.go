package parser

import "github.com/ledgerkit/ledgerkit/ast"

// Transaction parsing - the most complex directive type.
// Transactions have postings, which are indented on subsequent lines.

// parseTransaction parses a transaction:
// DATE [txn] FLAG [PAYEE] NARRATION [TAG|LINK]*
//
//	POSTING*
//
// The flag is one of * ! # ? % & P S T C U R M. With the txn keyword the
// flag may be omitted (defaulting to *); without the keyword a flag is
// required unless the header starts directly with a narration string, which
// marks synthesized padding transactions.
func (p *Parser) parseTransaction(pos ast.Position, date *ast.Date) (*ast.Transaction, error) {
	txn := &ast.Transaction{
		Pos:  pos,
		Date: date,
	}

	if p.match(TXN) {
		// Explicit 'txn' keyword; the flag after it is optional.
		if flag, ok := p.matchFlag(STRING); ok {
			txn.Flag = flag
		} else {
			txn.Flag = "*"
		}
	} else if flag, ok := p.matchFlag(STRING); ok {
		txn.Flag = flag
	} else if p.check(STRING) {
		// Padding transaction (no flag, starts with string)
		// This is allowed in some cases
		txn.Flag = "P"
	} else {
		return nil, p.error("expected transaction flag or 'txn'")
	}

	// Parse payee and/or narration
	// If one string: it's the narration
	// If two strings: first is payee, second is narration
	hasNarration := false
	if p.check(STRING) {
		first, err := p.parseString()
		if err != nil {
			return nil, err
		}

		if p.check(STRING) {
			// Two strings: payee and narration
			second, err := p.parseString()
			if err != nil {
				return nil, err
			}
			txn.Payee = first
			txn.Narration = second
			hasNarration = true
		} else {
			// One string: just narration
			txn.Narration = first
			hasNarration = true
		}
	}

	if !hasNarration {
		return nil, p.error("expected transaction payee or narration string")
	}

	// Parse tags and links (can be intermixed)
	for p.check(TAG) || p.check(LINK) {
		if p.check(TAG) {
			tag, err := p.parseTag()
			if err != nil {
				return nil, err
			}
			txn.Tags = append(txn.Tags, tag)
		} else {
			link, err := p.parseLink()
			if err != nil {
				return nil, err
			}
			txn.Links = append(txn.Links, link)
		}
	}

	// Capture inline comment at end of transaction header line
	if !p.isAtEnd() && p.peek().Type == COMMENT && p.peek().Line == txn.Pos.Line {
		txn.SetComment(p.parseComment())
	}

	// Parse transaction-level metadata (only if on new line and properly indented)
	if !p.isAtEnd() && p.peek().Line > txn.Pos.Line && p.peek().Column > 1 {
		txn.Metadata = p.parseMetadataFromLine(txn.Pos.Line)
	}

	// Parse postings (indented lines)
	postings, err := p.parsePostings(txn.Pos.Line)
	if err != nil {
		return nil, err
	}
	txn.Postings = postings

	// Metadata written after the postings at the postings' own depth (not
	// deeper) still belongs to the transaction, not the last posting.
	if !p.isAtEnd() && p.peek().Column > 1 && p.isMetadataKeyNext() {
		txn.Metadata = append(txn.Metadata, p.parseMetadataFromLine(txn.Pos.Line)...)
	}

	return txn, nil
}

// parsePostings parses all postings for a transaction.
// Postings are indented lines following the transaction header.
func (p *Parser) parsePostings(headerLine int) ([]*ast.Posting, error) {
	postings := make([]*ast.Posting, 0, 4)

	// Postings must be indented (column > 1)
	// We detect them by checking if the next token is on a new line,
	// is indented, and looks like it could start a posting
	for !p.isAtEnd() {
		tok := p.peek()

		if tok.Line == headerLine && (tok.Type == ASTERISK || tok.Type == EXCLAIM || tok.Type == FLAG || tok.Type == ACCOUNT) {
			return nil, p.errorAtToken(tok, "postings must start on a new line")
		}

		// Skip blank lines (NEWLINE tokens) that might appear between postings
		// This handles cases like trailing whitespace that creates unwanted blank lines
		// Must check NEWLINE before column check since blank lines have column 1
		// HOWEVER: Don't consume a NEWLINE if it's followed by a directive or end-of-file,
		// as it's a blank line that should be preserved in the AST, not part of the transaction
		if tok.Type == NEWLINE {
			// Peek ahead to see what comes after the blank line
			nextIdx := p.pos + 1
			if nextIdx < len(p.tokens) {
				nextTok := p.tokens[nextIdx]
				// If the next token is at column <= 1 or is EOF, this blank line marks
				// the end of the transaction and should NOT be consumed here
				if nextTok.Column <= 1 || nextTok.Type == EOF {
					break // Don't consume this blank line - let the main parser handle it
				}
			}
			// Safe to consume - it's a blank line between postings
			p.advance() // consume the blank line and continue
			continue
		}

		// Postings must be indented (not at column 1)
		if tok.Column <= 1 {
			break
		}

		// Posting can start with:
		// - Optional flag (any of the flag characters)
		// - Account name
		// If we see anything else, it's not a posting
		if !p.startsPosting(tok) {
			if tok.Type == COMMENT {
				p.advance() // consume comment and continue
				continue
			}
			break
		}

		posting, err := p.parsePosting()
		if err != nil {
			return nil, err
		}

		postings = append(postings, posting)
	}

	return postings, nil
}

// startsPosting reports whether the token can begin a posting: an account,
// or a flag token followed by an account.
func (p *Parser) startsPosting(tok Token) bool {
	switch tok.Type {
	case ACCOUNT:
		return true
	case ASTERISK, EXCLAIM, FLAG:
		return p.peekAhead(1).Type == ACCOUNT
	case TAG:
		return tok.Len() == 1 && p.peekAhead(1).Type == ACCOUNT
	case IDENT:
		return tok.Len() == 1 && isTransactionFlag(p.source[tok.Start]) &&
			p.peekAhead(1).Type == ACCOUNT
	default:
		return false
	}
}

// parsePosting parses a single posting:
// [FLAG] ACCOUNT [AMOUNT] [COST] [PRICE]
//
//	[METADATA]*
//
// The amount may be incomplete (number without currency, currency without
// number, or absent entirely); interpolation completes it later. Metadata
// lines bind to the posting only when indented deeper than the posting line
// itself; metadata at the posting's own depth ends the posting and belongs
// to the enclosing transaction.
func (p *Parser) parsePosting() (*ast.Posting, error) {
	// Track the posting's starting line for inline metadata detection
	postingLine := p.peek().Line
	postingIndent := p.indentAt(postingLine)

	posting := &ast.Posting{}

	// Optional flag
	if flag, ok := p.matchFlag(ACCOUNT); ok {
		posting.Flag = flag
	}

	// Account (required)
	account, err := p.parseAccount()
	if err != nil {
		return nil, err
	}
	posting.Account = account

	// Optional amount: a number, an expression, or a lone currency, any of
	// which may leave the other half unspecified.
	tok := p.peek()
	hasAmount := tok.Line == postingLine &&
		(tok.Type == NUMBER || tok.Type == LPAREN ||
			// A lone IDENT is a currency-only amount, unless it is an
			// inline metadata key (IDENT immediately followed by colon).
			(tok.Type == IDENT && !p.isMetadataKeyNext()))
	if hasAmount {
		amount, err := p.parsePostingAmount(postingLine)
		if err != nil {
			return nil, err
		}
		posting.Amount = amount
	}

	// Optional cost specification
	if p.check(LBRACE) || p.check(LDBRACE) {
		cost, err := p.parseCost()
		if err != nil {
			return nil, err
		}
		posting.Cost = cost
	}

	// Optional price (@ or @@), possibly incomplete or empty
	if p.match(ATAT) {
		posting.PriceTotal = true
		amount, err := p.parsePriceAmount(postingLine)
		if err != nil {
			return nil, err
		}
		posting.Price = amount
	} else if p.match(AT) {
		posting.PriceTotal = false
		amount, err := p.parsePriceAmount(postingLine)
		if err != nil {
			return nil, err
		}
		posting.Price = amount
	}

	// Capture inline comment at end of posting line
	if !p.isAtEnd() && p.peek().Type == COMMENT && p.peek().Line == postingLine {
		posting.SetComment(p.parseComment())
	}

	// Parse posting-level metadata: only lines indented deeper than the
	// posting itself.
	if p.indentAt(p.peek().Line) > postingIndent {
		posting.Metadata = p.parseMetadataFromLine(postingLine)
	}

	return posting, nil
}

// isMetadataKeyNext reports whether the current token begins a metadata
// line (IDENT or keyword immediately followed by a colon).
func (p *Parser) isMetadataKeyNext() bool {
	keyTok := p.peek()
	return (keyTok.Type == IDENT || p.isKeyword(keyTok.Type)) &&
		p.peekAhead(1).Type == COLON &&
		keyTok.Column+keyTok.Len() == p.peekAhead(1).Column
}
