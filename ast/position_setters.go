package ast

// SetPosition and SetDate setters let the parser fill in a directive's
// position and date after construction, since both are determined before
// the directive-specific fields are known.

func (c *Commodity) SetPosition(pos Position) { c.Pos = pos }
func (c *Commodity) SetDate(date *Date)        { c.Date = date }

func (o *Open) SetPosition(pos Position) { o.Pos = pos }
func (o *Open) SetDate(date *Date)        { o.Date = date }

func (c *Close) SetPosition(pos Position) { c.Pos = pos }
func (c *Close) SetDate(date *Date)        { c.Date = date }

func (b *Balance) SetPosition(pos Position) { b.Pos = pos }
func (b *Balance) SetDate(date *Date)        { b.Date = date }

func (p *Pad) SetPosition(pos Position) { p.Pos = pos }
func (p *Pad) SetDate(date *Date)        { p.Date = date }

func (n *Note) SetPosition(pos Position) { n.Pos = pos }
func (n *Note) SetDate(date *Date)        { n.Date = date }

func (d *Document) SetPosition(pos Position) { d.Pos = pos }
func (d *Document) SetDate(date *Date)        { d.Date = date }

func (p *Price) SetPosition(pos Position) { p.Pos = pos }
func (p *Price) SetDate(date *Date)        { p.Date = date }

func (e *Event) SetPosition(pos Position) { e.Pos = pos }
func (e *Event) SetDate(date *Date)        { e.Date = date }

func (c *Custom) SetPosition(pos Position) { c.Pos = pos }
func (c *Custom) SetDate(date *Date)        { c.Date = date }

func (q *Query) SetPosition(pos Position) { q.Pos = pos }
func (q *Query) SetDate(date *Date)        { q.Date = date }

func (t *Transaction) SetPosition(pos Position) { t.Pos = pos }
func (t *Transaction) SetDate(date *Date)        { t.Date = date }
func (t *Transaction) Kind() DirectiveKind       { return KindTransaction }

func (o *Option) SetPosition(pos Position)   { o.Pos = pos }
func (i *Include) SetPosition(pos Position)  { i.Pos = pos }
func (p *Plugin) SetPosition(pos Position)   { p.Pos = pos }
func (p *Pushtag) SetPosition(pos Position)  { p.Pos = pos }
func (p *Poptag) SetPosition(pos Position)   { p.Pos = pos }
func (p *Pushmeta) SetPosition(pos Position) { p.Pos = pos }
func (p *Popmeta) SetPosition(pos Position)  { p.Pos = pos }
func (c *Comment) SetPosition(pos Position)  { c.Pos = pos }
func (b *BlankLine) SetPosition(pos Position) { b.Pos = pos }
