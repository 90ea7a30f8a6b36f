package plugin

import (
	"context"
	"fmt"
	"strings"
)

// Group is the bucket a Selector assigns an order-file entry to.
type Group string

const (
	// GroupTest entries are isolated in the main pass.
	GroupTest Group = "test"

	// GroupPatch entries are isolated after the main pass.
	GroupPatch Group = "patch"

	// GroupSkip entries are never tested.
	GroupSkip Group = "skip"
)

// Validate checks that the group is a known value.
func (g Group) Validate() error {
	switch g {
	case GroupTest, GroupPatch, GroupSkip:
		return nil
	default:
		return fmt.Errorf("invalid candidate group: %q", g)
	}
}

// DefaultPatchKeywords are the substrings that mark a plugin as a patch.
var DefaultPatchKeywords = []string{"patch", "fix", "compat", "merge"}

// Selector classifies a single order-file entry.
type Selector interface {
	Classify(ctx context.Context, name string) (Group, error)
}

// Candidates is the result of classifying an order file.
type Candidates struct {
	// Main holds the ids isolated first, in file order.
	Main []ID

	// Patch holds the ids isolated after Main, in file order.
	Patch []ID

	// Skipped holds every other entry, including required and optional ids.
	Skipped []ID
}

// All returns Main followed by Patch.
func (c *Candidates) All() []ID {
	out := make([]ID, 0, len(c.Main)+len(c.Patch))
	out = append(out, c.Main...)
	return append(out, c.Patch...)
}

// Collect classifies entries with sel. Duplicates are dropped, and ids in
// required or optional are always skipped.
func Collect(ctx context.Context, sel Selector, entries []ID, required, optional *Set) (*Candidates, error) {
	c := &Candidates{}
	for _, id := range Dedupe(entries) {
		if required.Contains(id) || optional.Contains(id) {
			c.Skipped = append(c.Skipped, id)
			continue
		}
		group, err := sel.Classify(ctx, id.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to classify %s: %w", id.Name(), err)
		}
		switch group {
		case GroupTest:
			c.Main = append(c.Main, id)
		case GroupPatch:
			c.Patch = append(c.Patch, id)
		default:
			c.Skipped = append(c.Skipped, id)
		}
	}
	return c, nil
}

// DefaultSelector considers only .esp and .esm entries. Names containing a
// patch keyword are patches, other .esp names are tested and the rest are
// skipped.
type DefaultSelector struct {
	PatchKeywords []string
}

// NewDefaultSelector creates a selector. Empty keywords fall back to
// DefaultPatchKeywords.
func NewDefaultSelector(keywords []string) *DefaultSelector {
	if len(keywords) == 0 {
		keywords = DefaultPatchKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &DefaultSelector{PatchKeywords: lowered}
}

// Classify implements Selector.
func (s *DefaultSelector) Classify(_ context.Context, name string) (Group, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if !IsPluginFile(lower) {
		return GroupSkip, nil
	}
	if s.IsPatch(lower) {
		return GroupPatch, nil
	}
	if strings.HasSuffix(lower, ".esp") {
		return GroupTest, nil
	}
	return GroupSkip, nil
}

// IsPatch reports whether name contains one of the patch keywords.
func (s *DefaultSelector) IsPatch(name string) bool {
	lower := strings.ToLower(name)
	for _, k := range s.PatchKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// IsPluginFile reports whether name has a .esp or .esm extension.
func IsPluginFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".esp") || strings.HasSuffix(lower, ".esm")
}
