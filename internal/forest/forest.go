// Package forest holds the in-memory model of the site's physical
// locations: zones, rooms and beds arranged as a set of trees with
// localized display names, deterministic depth-first ordering and
// denormalized patient counts per node and per subtree.
package forest

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"cliniccore/internal/logging"
	"cliniccore/pkg/domain"
)

// Location is a single node of the forest. Instances are immutable and
// identified by UUID; the same pointers survive patient-count refreshes.
type Location struct {
	UUID string
	Name string // localized, annotation-free display name
}

// Forest is an immutable snapshot of all locations. Structure never changes
// after construction; only the patient-count aggregates may be refreshed in
// place via UpdatePatientCounts, under a single internal lock.
type Forest struct {
	locale language.Tag
	log    logging.Logger

	byUUID     map[string]*Location
	parentOf   map[string]string // child uuid -> parent uuid, "" for roots
	childrenOf map[string][]*Location
	nonLeaf    map[string]bool
	pathOf     map[string]string
	nodes      []*Location // global depth-first order
	defaultLoc *Location

	countMu       sync.Mutex
	numAtNode     map[string]int
	numInSubtree  map[string]int
	totalPatients int
}

// Build constructs a forest from an unordered list of location records.
//
// Every node is assigned a path string of '/'-separated short IDs from root
// to self (with a trailing '/'), where short IDs are positions in the
// global alphanumeric name order. pathOf(a) is a prefix of pathOf(b) iff a
// is an ancestor of b or a == b, and sorting nodes by path yields
// depth-first order with siblings in alphanumeric name order.
//
// Records with an unresolvable parent are tolerated: they become roots and
// a warning is logged. Construction never fails structurally.
func Build(records []domain.LocationRecord, locale language.Tag, log logging.Logger) *Forest {
	if log == nil {
		log = logging.Nop()
	}
	f := &Forest{
		locale:       locale,
		log:          log,
		byUUID:       make(map[string]*Location, len(records)),
		parentOf:     make(map[string]string, len(records)),
		childrenOf:   make(map[string][]*Location),
		nonLeaf:      make(map[string]bool),
		pathOf:       make(map[string]string, len(records)),
		numAtNode:    make(map[string]int, len(records)),
		numInSubtree: make(map[string]int, len(records)),
	}

	known := make(map[string]domain.LocationRecord, len(records))
	parsed := make(map[string]parsedName, len(records))
	display := make(map[string]string, len(records))
	for _, rec := range records {
		known[rec.UUID] = rec
		p := parseName(rec.Name)
		parsed[rec.UUID] = p
		display[rec.UUID] = p.resolve(locale)
	}
	for _, rec := range records {
		if rec.ParentUUID == "" {
			continue
		}
		if _, ok := known[rec.ParentUUID]; ok {
			f.nonLeaf[rec.ParentUUID] = true
		}
	}

	// Short IDs are positions in the global alphanumeric name order.
	uuids := make([]string, 0, len(known))
	for uuid := range known {
		uuids = append(uuids, uuid)
	}
	sort.Slice(uuids, func(i, j int) bool {
		if c := compareAlnum(display[uuids[i]], display[uuids[j]]); c != 0 {
			return c < 0
		}
		return uuids[i] < uuids[j]
	})
	shortID := make(map[string]string, len(uuids))
	for i, uuid := range uuids {
		shortID[uuid] = strconv.Itoa(i)
	}

	// Resolve each record's effective parent, demoting records with an
	// unresolvable parent to roots.
	for _, rec := range records {
		parent := rec.ParentUUID
		if parent != "" {
			if _, ok := known[parent]; !ok {
				log.Warn("location has unresolvable parent; treating as root",
					"uuid", rec.UUID, "parent_uuid", parent)
				parent = ""
			}
		}
		f.parentOf[rec.UUID] = parent
	}

	// Walk each node to its root to form the path, accumulating the node's
	// own patient count into every ancestor's subtree total on the way.
	for _, rec := range records {
		segments := []string{shortID[rec.UUID]}
		f.numAtNode[rec.UUID] = rec.NumPatients
		f.numInSubtree[rec.UUID] += rec.NumPatients
		f.totalPatients += rec.NumPatients
		seen := map[string]bool{rec.UUID: true}
		for cur := f.parentOf[rec.UUID]; cur != ""; cur = f.parentOf[cur] {
			if seen[cur] {
				log.Warn("cycle in location parents; truncating path", "uuid", rec.UUID)
				break
			}
			seen[cur] = true
			segments = append(segments, shortID[cur])
			f.numInSubtree[cur] += rec.NumPatients
		}
		for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
			segments[i], segments[j] = segments[j], segments[i]
		}
		f.pathOf[rec.UUID] = strings.Join(segments, "/") + "/"
	}

	for uuid := range known {
		f.byUUID[uuid] = &Location{UUID: uuid, Name: display[uuid]}
	}
	f.nodes = make([]*Location, 0, len(known))
	for uuid := range known {
		f.nodes = append(f.nodes, f.byUUID[uuid])
	}
	sort.Slice(f.nodes, func(i, j int) bool {
		return compareAlnum(f.pathOf[f.nodes[i].UUID], f.pathOf[f.nodes[j].UUID]) < 0
	})
	for _, node := range f.nodes {
		if parent := f.parentOf[node.UUID]; parent != "" {
			f.childrenOf[parent] = append(f.childrenOf[parent], node)
		}
	}

	// The explicit default marker wins; otherwise the first leaf in
	// depth-first order; otherwise (empty forest) none.
	for _, node := range f.nodes {
		if parsed[node.UUID].isDefault {
			f.defaultLoc = node
			break
		}
	}
	if f.defaultLoc == nil {
		for _, node := range f.nodes {
			if !f.nonLeaf[node.UUID] {
				f.defaultLoc = node
				break
			}
		}
	}
	return f
}

// Locale returns the locale the display names were resolved for.
func (f *Forest) Locale() language.Tag { return f.locale }

// Size returns the number of locations.
func (f *Forest) Size() int { return len(f.nodes) }

// IsEmpty reports whether the forest has no locations.
func (f *Forest) IsEmpty() bool { return len(f.nodes) == 0 }

// Get returns the location with the given uuid, or nil.
func (f *Forest) Get(uuid string) *Location { return f.byUUID[uuid] }

// AllNodes returns every location in global depth-first order, siblings in
// alphanumeric name order. The returned slice is a copy.
func (f *Forest) AllNodes() []*Location {
	out := make([]*Location, len(f.nodes))
	copy(out, f.nodes)
	return out
}

// GetParent returns the parent of the node, or nil for roots.
func (f *Forest) GetParent(node *Location) *Location {
	if node == nil {
		return nil
	}
	parent := f.parentOf[node.UUID]
	if parent == "" {
		return nil
	}
	return f.byUUID[parent]
}

// GetChildren returns the node's children in alphanumeric name order.
func (f *Forest) GetChildren(node *Location) []*Location {
	if node == nil {
		return nil
	}
	kids := f.childrenOf[node.UUID]
	out := make([]*Location, len(kids))
	copy(out, kids)
	return out
}

// IsLeaf reports whether no other node declares this node as its parent.
func (f *Forest) IsLeaf(node *Location) bool {
	return node != nil && !f.nonLeaf[node.UUID]
}

// Depth returns 0 for roots, 1 for their children, and so on.
func (f *Forest) Depth(node *Location) int {
	if node == nil {
		return 0
	}
	return strings.Count(f.pathOf[node.UUID], "/") - 1
}

// IsAncestorOf reports whether a is an ancestor of b or a == b.
func (f *Forest) IsAncestorOf(a, b *Location) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.HasPrefix(f.pathOf[b.UUID], f.pathOf[a.UUID])
}

// SubtreeUUIDs returns the uuids of the node and all its descendants, in
// depth-first order. Useful for building location filters.
func (f *Forest) SubtreeUUIDs(node *Location) []string {
	if node == nil {
		return nil
	}
	prefix := f.pathOf[node.UUID]
	var out []string
	for _, n := range f.nodes {
		if strings.HasPrefix(f.pathOf[n.UUID], prefix) {
			out = append(out, n.UUID)
		}
	}
	return out
}

// DefaultLocation returns the default location, or nil for an empty forest.
func (f *Forest) DefaultLocation() *Location { return f.defaultLoc }

// CountPatientsAt returns the number of patients assigned directly to the
// node.
func (f *Forest) CountPatientsAt(node *Location) int {
	if node == nil {
		return 0
	}
	f.countMu.Lock()
	defer f.countMu.Unlock()
	return f.numAtNode[node.UUID]
}

// CountPatientsIn returns the number of patients in the node's entire
// subtree, the node itself included.
func (f *Forest) CountPatientsIn(node *Location) int {
	if node == nil {
		return 0
	}
	f.countMu.Lock()
	defer f.countMu.Unlock()
	return f.numInSubtree[node.UUID]
}

// TotalPatients returns the number of patients across the whole forest.
func (f *Forest) TotalPatients() int {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	return f.totalPatients
}

// UpdatePatientCounts replaces the per-node patient counts and recomputes
// the subtree aggregates in place, without rebuilding structure or
// replacing any Location. Counts for uuids not present in the forest are
// ignored. Readers never observe a partially updated aggregate.
func (f *Forest) UpdatePatientCounts(counts map[string]int) {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	clear(f.numAtNode)
	clear(f.numInSubtree)
	f.totalPatients = 0
	for uuid, n := range counts {
		if _, ok := f.byUUID[uuid]; !ok {
			f.log.Debug("patient count for unknown location ignored", "uuid", uuid)
			continue
		}
		f.numAtNode[uuid] = n
		f.totalPatients += n
		seen := make(map[string]bool)
		for cur := uuid; cur != "" && !seen[cur]; cur = f.parentOf[cur] {
			seen[cur] = true
			f.numInSubtree[cur] += n
		}
	}
}
