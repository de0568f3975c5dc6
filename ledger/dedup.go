package ledger

import (
	"github.com/ledgerkit/ledgerkit/ast"
	"github.com/mitchellh/hashstructure/v2"
)

// Duplicate detection for document attachments and notes.
//
// Two document directives are duplicates when they attach the same path to
// the same account on the same date; two notes are duplicates when they say
// the same thing about the same account on the same date. Incidental
// differences such as metadata ordering don't matter. Hashing a normalized
// key struct keeps the registry a flat set instead of a nested map per field.

// documentKey is the identity of a document attachment or note.
type documentKey struct {
	Kind    string
	Account string
	Date    string
	Path    string
}

// documentRegistry tracks every document attachment seen so far.
type documentRegistry struct {
	seen map[uint64]bool
}

func newDocumentRegistry() *documentRegistry {
	return &documentRegistry{seen: make(map[uint64]bool)}
}

// record registers a document directive and reports whether an equivalent
// attachment was already present.
func (r *documentRegistry) record(doc *ast.Document) bool {
	return r.recordKey(documentKey{
		Kind:    "document",
		Account: string(doc.Account),
		Date:    doc.Date.Format("2006-01-02"),
		Path:    doc.PathToDocument.Value,
	})
}

// recordNote registers a note directive and reports whether an equivalent
// note was already present.
func (r *documentRegistry) recordNote(note *ast.Note) bool {
	return r.recordKey(documentKey{
		Kind:    "note",
		Account: string(note.Account),
		Date:    note.Date.Format("2006-01-02"),
		Path:    note.Description.Value,
	})
}

func (r *documentRegistry) recordKey(key documentKey) bool {
	hash, err := hashstructure.Hash(key, hashstructure.FormatV2, nil)
	if err != nil {
		// Hashing a flat string struct cannot fail; treat as unseen.
		return false
	}

	if r.seen[hash] {
		return true
	}
	r.seen[hash] = true
	return false
}
