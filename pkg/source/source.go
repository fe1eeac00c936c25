// Package source implements Source, the per-source trust configuration
// (status, access rules, blob formats) that the manager rebuilds whenever
// the reserved configuration subtree for that source changes.
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
)

// Status orders sources by how much trust their documents are granted.
// Active is the most permissive; Invalid the least. The ordering itself
// (Active < Withdrawn < Invalid) is significant: CheckAccess takes a
// minimum required status, and a source only passes the check if its
// current status is at least as permissive as that minimum.
type Status int

const (
	StatusActive Status = iota
	StatusWithdrawn
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "invalid"
	}
}

// StatusFromString parses the reserved-key string form of a status,
// defaulting to StatusInvalid for anything unrecognized so that a
// misconfigured or tampered status value cannot accidentally grant trust.
func StatusFromString(s string) Status {
	switch s {
	case "active":
		return StatusActive
	case "withdrawn":
		return StatusWithdrawn
	default:
		return StatusInvalid
	}
}

// meetsMinimum reports whether s is at least as permissive as min.
func (s Status) meetsMinimum(min Status) bool { return s <= min }

// AccessRule grants or denies write access to the subtree rooted at Prefix.
type AccessRule struct {
	Prefix  key.Key
	Granted bool
}

const sourcesKeyspace = "org.chromium.settings.sources"

// NamespaceFor returns the reserved configuration key for the named
// attribute of source sourceID, e.g. NamespaceFor("s1", "status") ->
// "org.chromium.settings.sources.s1.status".
func NamespaceFor(sourceID, attribute string) (key.Key, error) {
	base, err := key.New(sourcesKeyspace)
	if err != nil {
		return key.Key{}, err
	}
	withSource, err := base.Append(sourceID)
	if err != nil {
		return key.Key{}, err
	}
	if attribute == "" {
		return withSource, nil
	}
	return withSource.Extend(key.MustNew(attribute)), nil
}

// MakeSourceKey returns the reserved subtree root for sourceID.
func MakeSourceKey(sourceID string) key.Key {
	k, err := NamespaceFor(sourceID, "")
	if err != nil {
		return key.Root()
	}
	return k
}

// View is the read-only slice of the merged settings namespace that Update
// consults; SettingsMap satisfies it.
type View interface {
	GetValue(k key.Key) ([]byte, bool)
	GetKeys(prefix key.Key) []key.Key
}

// Source is the live trust configuration for one settings source.
type Source struct {
	ID          string
	Name        string
	Status      Status
	Type        string
	BlobFormats []string
	NVRAMIndex  uint32
	HasNVRAM    bool

	accessRules []AccessRule // sorted by Prefix ascending, for longest-prefix lookup
	ruleCache   *lru.Cache[string, int]
}

// New returns a Source in the most restrictive state (StatusInvalid, no
// access rules), to be populated by Update.
func New(id string) *Source {
	cache, _ := lru.New[string, int](256)
	return &Source{ID: id, Status: StatusInvalid, ruleCache: cache}
}

// Update reloads this source's configuration from the reserved key tree in
// view. It returns hasConfig=false if the source has no "status" entry at
// all, signalling to the manager that the source should be purged entirely
// rather than merely marked invalid.
func (s *Source) Update(view View) (hasConfig bool) {
	statusKey, _ := NamespaceFor(s.ID, "status")
	statusVal, ok := view.GetValue(statusKey)
	if !ok {
		s.Status = StatusInvalid
		return false
	}
	s.Status = StatusFromString(string(statusVal))

	if nameKey, err := NamespaceFor(s.ID, "name"); err == nil {
		if v, ok := view.GetValue(nameKey); ok {
			s.Name = string(v)
		}
	}
	if typeKey, err := NamespaceFor(s.ID, "type"); err == nil {
		if v, ok := view.GetValue(typeKey); ok {
			s.Type = string(v)
		}
	}
	if nvramKey, err := NamespaceFor(s.ID, "nvram_index"); err == nil {
		if v, ok := view.GetValue(nvramKey); ok {
			raw, base := string(v), 10
			if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
				raw, base = raw[2:], 16
			}
			if idx, err := strconv.ParseUint(raw, base, 32); err == nil {
				s.NVRAMIndex = uint32(idx)
				s.HasNVRAM = true
			}
		}
	}

	s.BlobFormats = nil
	if blobFormatKey, err := NamespaceFor(s.ID, "blob_format"); err == nil {
		for _, k := range view.GetKeys(blobFormatKey) {
			if v, ok := view.GetValue(k); ok {
				s.BlobFormats = append(s.BlobFormats, string(v))
			}
		}
		if v, ok := view.GetValue(blobFormatKey); ok {
			s.BlobFormats = append([]string{string(v)}, s.BlobFormats...)
		}
	}

	s.accessRules = nil
	if accessKey, err := NamespaceFor(s.ID, "access"); err == nil {
		for _, k := range view.GetKeys(accessKey) {
			suffix := k.Suffix(accessKey)
			if suffix.IsRootKey() {
				continue
			}
			prefixStr, ok := view.GetValue(k)
			if !ok {
				continue
			}
			prefix, err := key.New(string(prefixStr))
			if err != nil {
				continue
			}
			s.accessRules = append(s.accessRules, AccessRule{Prefix: prefix, Granted: true})
		}
	}
	sort.Slice(s.accessRules, func(i, j int) bool { return s.accessRules[i].Prefix.Less(s.accessRules[j].Prefix) })
	if s.ruleCache != nil {
		s.ruleCache.Purge()
	}

	return true
}

// findMatchingAccessRule returns the index of the longest access rule
// prefix covering k, or -1 if none matches.
func (s *Source) findMatchingAccessRule(k key.Key) int {
	if s.ruleCache != nil {
		if idx, ok := s.ruleCache.Get(k.String()); ok {
			return idx
		}
	}
	best := -1
	for i, rule := range s.accessRules {
		if rule.Prefix.IsPrefixOf(k) {
			if best == -1 || s.accessRules[best].Prefix.Less(rule.Prefix) {
				best = i
			}
		}
	}
	if s.ruleCache != nil {
		s.ruleCache.Add(k.String(), best)
	}
	return best
}

// trustConfigurationRoot is the subtree every source is forbidden from
// writing to or deleting, regardless of access rules: a source can never
// grant itself more trust by editing the reserved configuration tree.
func trustConfigurationRoot() key.Key { return key.MustNew(sourcesKeyspace) }

// CheckAccess reports whether this source, in its current state, is
// permitted to contribute doc, given that the manager requires at least
// minimumStatus for the operation being performed (Active for new
// insertions, Withdrawn for revalidating already-accepted documents, so
// that withdrawal alone is sufficient grounds to keep a document valid but
// insertion of new ones stops).
func (s *Source) CheckAccess(doc *document.Document, minimumStatus Status) error {
	if !s.Status.meetsMinimum(minimumStatus) {
		return fmt.Errorf("source %q has status %s, need at least %s", s.ID, s.Status, minimumStatus)
	}

	root := trustConfigurationRoot()
	sourceRoot := MakeSourceKey(s.ID)

	for _, k := range doc.GetKeys(key.Root()) {
		if root.IsPrefixOf(k) && !sourceRoot.IsPrefixOf(k) {
			return fmt.Errorf("source %q may not write foreign trust configuration key %s", s.ID, k)
		}
		if idx := s.findMatchingAccessRule(k); idx < 0 && !sourceRoot.IsPrefixOf(k) {
			return fmt.Errorf("source %q has no access rule permitting key %s", s.ID, k)
		}
	}

	for _, delKey := range doc.GetDeletions() {
		if delKey.IsPrefixOf(root) {
			return fmt.Errorf("source %q may not delete a subtree containing the trust configuration root", s.ID)
		}
		if root.IsPrefixOf(delKey) && !sourceRoot.IsPrefixOf(delKey) {
			return fmt.Errorf("source %q may not delete foreign trust configuration under %s", s.ID, delKey)
		}
		if !sourceRoot.IsPrefixOf(delKey) {
			if idx := s.findMatchingAccessRule(delKey); idx < 0 {
				return fmt.Errorf("source %q has no access rule permitting deletion of %s", s.ID, delKey)
			}
			for _, rule := range s.accessRules {
				if delKey.IsPrefixOf(rule.Prefix) && !rule.Prefix.Equal(delKey) {
					return fmt.Errorf("source %q deletion of %s would remove access-controlled subtree %s", s.ID, delKey, rule.Prefix)
				}
			}
		}
	}

	return nil
}
