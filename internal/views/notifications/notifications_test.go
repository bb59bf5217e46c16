package notifications

import (
	"strings"
	"testing"
)

func sample() []Item {
	return []Item{
		{ID: 3, Kind: "LIKE", Title: "liked your post", From: "bob"},
		{ID: 2, Kind: "COMMENT", Title: "commented", From: "carol", Read: true},
		{ID: 1, Kind: "SYSTEM", Title: "maintenance tonight"},
	}
}

func TestNavigation(t *testing.T) {
	m := New()
	m.SetItems(sample())

	m.Up()
	if m.Selected != 0 {
		t.Errorf("Up at top should stay at 0, got %d", m.Selected)
	}
	m.Down()
	m.Down()
	m.Down()
	if m.Selected != 2 {
		t.Errorf("Down should stop at last item, got %d", m.Selected)
	}
	it, ok := m.Current()
	if !ok || it.ID != 1 {
		t.Errorf("Current = %+v, %v", it, ok)
	}
}

func TestSetItemsClampsCursor(t *testing.T) {
	m := New()
	m.SetItems(sample())
	m.Selected = 2
	m.SetItems(sample()[:1])
	if m.Selected != 0 {
		t.Errorf("expected cursor clamped to 0, got %d", m.Selected)
	}
	m.SetItems(nil)
	if _, ok := m.Current(); ok {
		t.Error("Current on empty list should report false")
	}
}

func TestPrependKeepsSelection(t *testing.T) {
	m := New()
	m.SetItems(sample())
	m.Down() // on ID 2
	m.Prepend(Item{Kind: "FOLLOW", Title: "followed you"})
	it, _ := m.Current()
	if it.ID != 2 {
		t.Errorf("selection moved to %+v", it)
	}
	if m.Items[0].Kind != "FOLLOW" {
		t.Error("pushed item should be first")
	}

	empty := New()
	empty.Prepend(Item{Kind: "LIKE"})
	if empty.Selected != 0 {
		t.Errorf("first item should be selected, got %d", empty.Selected)
	}
}

func TestPrependCapped(t *testing.T) {
	m := New()
	for i := 0; i < maxItems+10; i++ {
		m.Prepend(Item{Kind: "LIKE"})
	}
	if len(m.Items) != maxItems {
		t.Errorf("expected %d items, got %d", maxItems, len(m.Items))
	}
}

func TestMarkRead(t *testing.T) {
	m := New()
	m.SetItems(sample())
	if m.Unread() != 2 {
		t.Fatalf("expected 2 unread, got %d", m.Unread())
	}
	m.MarkRead(3)
	if m.Unread() != 1 {
		t.Errorf("expected 1 unread, got %d", m.Unread())
	}
	m.MarkAllRead()
	if m.Unread() != 0 {
		t.Errorf("expected 0 unread, got %d", m.Unread())
	}
}

func TestView(t *testing.T) {
	m := New()
	if !strings.Contains(m.View(80, 20), "Nothing here yet.") {
		t.Error("empty view should show placeholder")
	}
	m.SetItems(sample())
	view := m.View(100, 20)
	for _, want := range []string{"2 unread", "bob: liked your post", "maintenance tonight", "♥"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
