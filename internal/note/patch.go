package note

import "strings"

// Field names a Note field a Patch may carry.
type Field string

const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
	FieldSummary Field = "summary"
	FieldTags    Field = "tags"
	FieldPinned  Field = "pinned"
)

// Patch is a partial update. Only non-nil fields are applied.
//
// Each writer owns a disjoint field set: autosave writes title and content,
// enrichment writes summary or tags, pin toggles write pinned.
type Patch struct {
	Title   *string
	Content *string
	Summary *string
	Tags    []string
	SetTags bool
	Pinned  *bool
}

// TitleContent builds the autosave patch.
func TitleContent(title, content string) Patch {
	return Patch{Title: &title, Content: &content}
}

// ContentOnly builds the patch used when a rewritten body is accepted.
func ContentOnly(content string) Patch {
	return Patch{Content: &content}
}

// SummaryOnly builds the summarize write-back patch.
func SummaryOnly(summary string) Patch {
	return Patch{Summary: &summary}
}

// TagsOnly builds the tag write-back patch. Tags are normalized.
func TagsOnly(tags []string) Patch {
	return Patch{Tags: NormalizeTags(tags), SetTags: true}
}

// PinnedOnly builds the pin toggle patch.
func PinnedOnly(pinned bool) Patch {
	return Patch{Pinned: &pinned}
}

// Fields returns the fields present in the patch, in declaration order.
func (p Patch) Fields() []Field {
	var fields []Field
	if p.Title != nil {
		fields = append(fields, FieldTitle)
	}
	if p.Content != nil {
		fields = append(fields, FieldContent)
	}
	if p.Summary != nil {
		fields = append(fields, FieldSummary)
	}
	if p.SetTags {
		fields = append(fields, FieldTags)
	}
	if p.Pinned != nil {
		fields = append(fields, FieldPinned)
	}
	return fields
}

// Has reports whether the patch carries field f.
func (p Patch) Has(f Field) bool {
	for _, got := range p.Fields() {
		if got == f {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Apply copies the present fields onto n. Timestamps are left to the store.
func (p Patch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Summary != nil {
		s := *p.Summary
		n.Summary = &s
	}
	if p.SetTags {
		n.Tags = NormalizeTags(p.Tags)
	}
	if p.Pinned != nil {
		n.Pinned = *p.Pinned
	}
}

// String renders the field list, e.g. "{title,content}".
func (p Patch) String() string {
	fields := p.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return "{" + strings.Join(names, ",") + "}"
}
