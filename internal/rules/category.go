package rules

import (
	"strings"

	"github.com/Skryensya/logdr.io-sub000/internal/domain"
)

const maxCategoryNameLen = 48

// CheckCategoryCreate validates a category draft against the existing
// categories: name uniqueness within the kind, parent sharing the kind, the
// two-level depth limit, and cycle detection on the parent chain.
func CheckCategoryCreate(d domain.CategoryDraft, existing []domain.Category) Result {
	r := newResult()

	name := strings.TrimSpace(d.Name)
	if name == "" {
		r.addError("category name is required")
	}
	if len(name) > maxCategoryNameLen {
		r.addError("category name exceeds %d characters", maxCategoryNameLen)
	}

	byID := make(map[string]domain.Category, len(existing))
	for _, cat := range existing {
		byID[cat.ID] = cat
		if cat.Kind == d.Kind && strings.EqualFold(cat.Name, name) {
			r.addError("category name %q is already in use for kind %s", name, d.Kind)
		}
	}

	if d.ParentCategoryID != nil {
		parent, ok := byID[*d.ParentCategoryID]
		switch {
		case !ok:
			r.addError("parent category %s does not exist", *d.ParentCategoryID)
		case parent.Kind != d.Kind:
			r.addError("parent category %q has kind %s, child has kind %s", parent.Name, parent.Kind, d.Kind)
		case parent.ParentCategoryID != nil:
			// Two levels maximum: a child can never become a parent.
			r.addError("category %q already has a parent; hierarchy is limited to two levels", parent.Name)
		case parent.Archived:
			r.addError("parent category %q is archived", parent.Name)
		}

		if ok && HasCategoryCycle(*d.ParentCategoryID, byID) {
			r.addError("parent chain of %s contains a cycle", *d.ParentCategoryID)
		}
	}

	return r
}

// CheckCategoryRename validates a name change within the category's kind.
func CheckCategoryRename(cat domain.Category, newName string, existing []domain.Category) Result {
	r := newResult()

	name := strings.TrimSpace(newName)
	if name == "" {
		r.addError("category name is required")
	}
	for _, other := range existing {
		if other.ID != cat.ID && other.Kind == cat.Kind && strings.EqualFold(other.Name, name) {
			r.addError("category name %q is already in use for kind %s", name, cat.Kind)
			break
		}
	}
	return r
}

// CheckCategoryArchive blocks archiving a parent that still has active
// children.
func CheckCategoryArchive(cat domain.Category, existing []domain.Category) Result {
	r := newResult()
	for _, other := range existing {
		if other.ParentCategoryID != nil && *other.ParentCategoryID == cat.ID && !other.Archived {
			r.addError("category %q still has active child %q", cat.Name, other.Name)
		}
	}
	return r
}

// HasCategoryCycle walks the parentCategoryId chain from startID with a
// visited set, failing fast on the first revisit. A broken chain (missing
// parent) terminates without a cycle.
func HasCategoryCycle(startID string, byID map[string]domain.Category) bool {
	visited := map[string]bool{}
	id := startID
	for id != "" {
		if visited[id] {
			return true
		}
		visited[id] = true

		cat, ok := byID[id]
		if !ok || cat.ParentCategoryID == nil {
			return false
		}
		id = *cat.ParentCategoryID
	}
	return false
}
