package ast

// RawString holds a parsed string value together with the original source
// text it came from, so the formatter can reproduce the exact quoting and
// escaping style of the input instead of re-escaping from the logical value.
type RawString struct {
	Value string // unquoted, unescaped logical value
	Raw   string // original token text including quotes, empty if built programmatically
}

// NewRawString creates a RawString with no original source text.
func NewRawString(value string) RawString {
	return RawString{Value: value}
}

// NewRawStringWithRaw creates a RawString that retains the original quoted
// source text alongside the unescaped value.
func NewRawStringWithRaw(raw, value string) RawString {
	return RawString{Value: value, Raw: raw}
}

// String returns the logical value.
func (r RawString) String() string {
	return r.Value
}

// IsEmpty reports whether this RawString carries no value at all, as opposed
// to an explicit empty string.
func (r RawString) IsEmpty() bool {
	return r.Value == "" && r.Raw == ""
}

// HasRaw reports whether the original quoted source text is available.
func (r RawString) HasRaw() bool {
	return r.Raw != ""
}

// StringMetadata records the original quoted form of a string so it can be
// reproduced verbatim (EscapeStyleOriginal) instead of re-escaped.
type StringMetadata struct {
	raw string
}

// NewStringMetadata creates a StringMetadata from the original quoted source text.
func NewStringMetadata(raw string) *StringMetadata {
	return &StringMetadata{raw: raw}
}

// HasOriginal reports whether original source text was captured.
func (m *StringMetadata) HasOriginal() bool {
	return m != nil && m.raw != ""
}

// QuotedContent returns the original quoted source text, including quotes.
func (m *StringMetadata) QuotedContent() string {
	if m == nil {
		return ""
	}
	return m.raw
}
