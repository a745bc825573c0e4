package tree

import (
	"sort"

	"github.com/codenotes/notesync/pkg/models"
)

// rootKey stands for "no parent" in the child index. Generated IDs are
// random UUIDs and never zero.
var rootKey models.NoteID

func parentKey(parent *models.NoteID) models.NoteID {
	if parent == nil {
		return rootKey
	}
	return *parent
}

// childIndex maps each parent to its children in sibling order. It holds
// the same *Note values as the store's note map.
type childIndex struct {
	children map[models.NoteID][]*models.Note
}

func newChildIndex() *childIndex {
	return &childIndex{children: make(map[models.NoteID][]*models.Note)}
}

// rebuild replaces the whole index with notes.
func (x *childIndex) rebuild(notes map[models.NoteID]*models.Note) {
	x.children = make(map[models.NoteID][]*models.Note, len(notes)/2+1)
	for _, n := range notes {
		key := parentKey(n.ParentID)
		x.children[key] = append(x.children[key], n)
	}
	for _, list := range x.children {
		sort.Slice(list, func(i, j int) bool { return models.SiblingLess(list[i], list[j]) })
	}
}

func (x *childIndex) insert(n *models.Note) {
	key := parentKey(n.ParentID)
	list := x.children[key]
	i := sort.Search(len(list), func(i int) bool { return models.SiblingLess(n, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = n
	x.children[key] = list
}

func (x *childIndex) remove(n *models.Note) {
	key := parentKey(n.ParentID)
	list := x.children[key]
	for i, c := range list {
		if c.ID == n.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(x.children, key)
		return
	}
	x.children[key] = list
}

// resort restores sibling order under parent after positions changed in
// place.
func (x *childIndex) resort(parent *models.NoteID) {
	list := x.children[parentKey(parent)]
	sort.Slice(list, func(i, j int) bool { return models.SiblingLess(list[i], list[j]) })
}

// of returns the children of parent in sibling order. The slice belongs to
// the index.
func (x *childIndex) of(parent *models.NoteID) []*models.Note {
	return x.children[parentKey(parent)]
}

// descendants returns every transitive child of id, parents before their
// children. Each note is visited once even if remote data holds a cycle.
func (x *childIndex) descendants(id models.NoteID) []*models.Note {
	var out []*models.Note
	seen := map[models.NoteID]bool{id: true}
	queue := []models.NoteID{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, c := range x.children[next] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out
}
