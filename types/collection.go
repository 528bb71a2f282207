package types

import (
	"fmt"
	"sort"
)

// TestCollection maps a browser identifier to its ordered sequence of tests.
// Within one browser's sequence test identity is unique.
type TestCollection struct {
	tests map[string][]*Test
}

// NewTestCollection creates an empty collection.
func NewTestCollection() *TestCollection {
	return &TestCollection{tests: make(map[string][]*Test)}
}

// Add appends a test to the given browser's sequence. Adding a second test
// with the same id for the same browser is an error.
func (c *TestCollection) Add(browserID string, test *Test) error {
	for _, t := range c.tests[browserID] {
		if t.ID == test.ID {
			return fmt.Errorf("duplicate test id %q for browser %q", test.ID, browserID)
		}
	}
	c.tests[browserID] = append(c.tests[browserID], test)
	return nil
}

// Tests returns the ordered sequence for one browser.
func (c *TestCollection) Tests(browserID string) []*Test {
	return c.tests[browserID]
}

// BrowserIDs returns the browser identifiers present in the collection,
// sorted for deterministic iteration.
func (c *TestCollection) BrowserIDs() []string {
	ids := make([]string, 0, len(c.tests))
	for id := range c.tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of tests across all browsers.
func (c *TestCollection) Len() int {
	n := 0
	for _, tests := range c.tests {
		n += len(tests)
	}
	return n
}

// EachTest calls fn for every test, browser by browser in sorted browser
// order, tests in sequence order.
func (c *TestCollection) EachTest(fn func(browserID string, test *Test)) {
	for _, id := range c.BrowserIDs() {
		for _, t := range c.tests[id] {
			fn(id, t)
		}
	}
}

// SortTests applies the strict id ordering to one browser's sequence.
func (c *TestCollection) SortTests(browserID string) {
	tests := c.tests[browserID]
	sort.SliceStable(tests, func(i, j int) bool {
		return CompareByID(tests[i], tests[j]) < 0
	})
}

// CompareByID orders a before b only when a's id is strictly less than b's.
// Any other pair, equal ids included, orders a after b. The comparator is
// intentionally strict and non-symmetric; it never reports "equal".
func CompareByID(a, b *Test) int {
	if a.ID < b.ID {
		return -1
	}
	return 1
}
