// Package manager implements DocumentManager: the orchestrator that turns
// raw blobs into validated documents in the settings map, keeps each
// source's trust configuration in sync with the map's own contents, and
// notifies observers of the net effect of every mutation.
package manager

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/cuemby/fides/pkg/blobstore"
	"github.com/cuemby/fides/pkg/container"
	"github.com/cuemby/fides/pkg/delegate"
	"github.com/cuemby/fides/pkg/document"
	"github.com/cuemby/fides/pkg/key"
	"github.com/cuemby/fides/pkg/log"
	"github.com/cuemby/fides/pkg/metrics"
	"github.com/cuemby/fides/pkg/observer"
	"github.com/cuemby/fides/pkg/settingsmap"
	"github.com/cuemby/fides/pkg/source"
	"github.com/cuemby/fides/pkg/version"
)

// InsertionStatus is the outcome of attempting to insert a blob.
type InsertionStatus int

const (
	Success InsertionStatus = iota
	UnknownSource
	ParseError
	ValidationError
	BadPayload
	StorageFailure
	VersionClash
	AccessViolation
	Collision
)

func (s InsertionStatus) String() string {
	switch s {
	case Success:
		return "success"
	case UnknownSource:
		return "unknown_source"
	case ParseError:
		return "parse_error"
	case ValidationError:
		return "validation_error"
	case BadPayload:
		return "bad_payload"
	case StorageFailure:
		return "storage_failure"
	case VersionClash:
		return "version_clash"
	case AccessViolation:
		return "access_violation"
	case Collision:
		return "collision"
	default:
		return "unknown"
	}
}

// ErrTrustedDocumentMustBeUnstamped is returned by Init when the seed
// document's version stamp is not empty: the trusted document defines the
// sources other documents are compared against, so it cannot itself carry
// a stamp that could be superseded.
var ErrTrustedDocumentMustBeUnstamped = errors.New("manager: trusted document must carry an empty version stamp")

type sourceEntry struct {
	src       *source.Source
	delegate  delegate.Delegate
	documents []*document.Document // sorted by this source's own version component, ascending
}

// Manager is the settings document manager: the single entry point for
// inserting new blobs, reading merged values, and keeping every source's
// trust configuration current.
type Manager struct {
	blobs      *blobstore.Store
	settings   *settingsmap.Map
	containers *container.Registry
	delegates  *delegate.Registry
	observers  *observer.Registry

	sources map[string]*sourceEntry
	queue   *sourceIDQueue

	trustedDoc *document.Document
}

// New builds a Manager backed by the given blob store, with the given
// container format registry and delegate factory registry.
func New(blobs *blobstore.Store, containers *container.Registry, delegates *delegate.Registry) *Manager {
	return &Manager{
		blobs:      blobs,
		settings:   settingsmap.New(),
		containers: containers,
		delegates:  delegates,
		observers:  observer.New(),
		sources:    make(map[string]*sourceEntry),
		queue:      newSourceIDQueue(),
	}
}

// Observers returns the registry other packages (the HTTP API, the CLI)
// register change listeners on.
func (m *Manager) Observers() *observer.Registry { return m.observers }

const sourcesRoot = "org.chromium.settings.sources"

// Init seeds the map with trustedDoc — the bootstrap document declaring
// which sources exist and how much they're trusted — then brings every
// configured source's trust configuration up to date and replays every
// blob already on disk for each of them. Errors replaying an individual
// blob are logged, not fatal: Init always leaves the manager usable with
// whatever blobs did validate.
func (m *Manager) Init(trustedDoc *document.Document) error {
	if !trustedDoc.GetVersionStamp().IsEmpty() {
		return ErrTrustedDocumentMustBeUnstamped
	}
	m.settings.Clear()
	m.sources = make(map[string]*sourceEntry)
	m.trustedDoc = trustedDoc

	if _, err := m.settings.InsertDocument(trustedDoc); err != nil {
		return fmt.Errorf("manager: inserting trusted document: %w", err)
	}

	m.enqueueSourceKeys(trustedDoc.GetKeys(key.MustNew(sourcesRoot)))
	m.runTrustConfigurationUpdate()

	for sourceID := range m.sources {
		handles, err := m.blobs.List(sourceID)
		if err != nil {
			log.WithComponent("manager").Warn().Err(err).Str("source_id", sourceID).Msg("listing blobs for source")
			continue
		}
		for _, h := range handles {
			if _, err := m.insertHandle(sourceID, h); err != nil {
				log.WithComponent("manager").Warn().Err(err).Str("source_id", sourceID).Uint32("blob_id", h.BlobID).Msg("replaying blob at init")
			}
		}
	}
	return nil
}

// GetValue returns the current merged value of k.
func (m *Manager) GetValue(k key.Key) ([]byte, bool) { return m.settings.GetValue(k) }

// GetKeys returns every key currently present under prefix.
func (m *Manager) GetKeys(prefix key.Key) []key.Key { return m.settings.GetKeys(prefix) }

// FindSource returns the live Source for sourceID, if known.
func (m *Manager) FindSource(sourceID string) (*source.Source, bool) {
	e, ok := m.sources[sourceID]
	if !ok {
		return nil, false
	}
	return e.src, true
}

// InsertBlob parses, validates, and inserts a raw blob on behalf of
// sourceID, running the full pipeline described in the package doc:
// lookup the source, parse the container against its configured formats,
// validate the container and its version components, decode the payload,
// persist the blob, check per-source version ordering, check access, and
// finally insert into the settings map — notifying observers exactly once
// with the union of keys that changed, only on success.
func (m *Manager) InsertBlob(sourceID string, raw []byte) (InsertionStatus, error) {
	timer := metrics.NewTimer()
	status, err := m.insertBlob(sourceID, raw)
	timer.ObserveDuration(metrics.InsertBlobDuration)
	metrics.InsertionsTotal.WithLabelValues(sourceID, status.String()).Inc()
	return status, err
}

func (m *Manager) insertBlob(sourceID string, raw []byte) (InsertionStatus, error) {
	entry, ok := m.sources[sourceID]
	if !ok {
		return UnknownSource, fmt.Errorf("manager: unknown source %q", sourceID)
	}

	c, formatTag, status, err := m.parseAndValidateBlob(entry, raw)
	if err != nil {
		return status, err
	}

	decoded, derr, decodeOK := m.containers.DecodePayload(formatTag, c.Payload)
	if !decodeOK || derr != nil {
		return BadPayload, fmt.Errorf("manager: decoding payload: %w", derr)
	}

	stamp := version.New(decoded.Version)
	doc, derr := document.New(decoded.Values, decoded.Deletions, stamp)
	if derr != nil {
		return BadPayload, fmt.Errorf("manager: constructing document: %w", derr)
	}

	h, serr := m.blobs.Store(sourceID, raw)
	if serr != nil {
		return StorageFailure, fmt.Errorf("manager: storing blob: %w", serr)
	}

	status, err = m.insertValidatedDocument(sourceID, entry, doc, h)
	if err != nil {
		m.blobs.Purge(h)
		return status, err
	}
	return Success, nil
}

// insertHandle re-parses and inserts a blob already on disk, used during
// Init to replay a source's prior blobs.
func (m *Manager) insertHandle(sourceID string, h blobstore.Handle) (InsertionStatus, error) {
	entry, ok := m.sources[sourceID]
	if !ok {
		return UnknownSource, fmt.Errorf("manager: unknown source %q", sourceID)
	}
	raw, err := m.blobs.Load(h)
	if err != nil {
		return StorageFailure, err
	}
	c, formatTag, status, err := m.parseAndValidateBlob(entry, raw)
	if err != nil {
		return status, err
	}
	decoded, derr, decodeOK := m.containers.DecodePayload(formatTag, c.Payload)
	if !decodeOK || derr != nil {
		return BadPayload, derr
	}
	doc, derr := document.New(decoded.Values, decoded.Deletions, version.New(decoded.Version))
	if derr != nil {
		return BadPayload, derr
	}
	return m.insertValidatedDocument(sourceID, entry, doc, h)
}

func (m *Manager) parseAndValidateBlob(entry *sourceEntry, raw []byte) (container.Container, string, InsertionStatus, error) {
	formats := entry.src.BlobFormats
	if len(formats) == 0 {
		formats = []string{""}
	}

	var lastErr error
	lastStatus := ParseError
	for _, formatTag := range formats {
		c, perr, ok := m.containers.Parse(formatTag, raw)
		if !ok {
			continue
		}
		if perr != nil {
			lastErr, lastStatus = perr, ParseError
			continue
		}
		if !entry.delegate.ValidateContainer(c.Payload, c.Signature) {
			lastErr, lastStatus = errors.New("manager: container signature validation failed"), ValidationError
			continue
		}
		allComponentsValid := true
		for _, vc := range c.Components {
			namedDelegate := m.delegateForSource(vc.SourceID)
			if !namedDelegate.ValidateVersionComponent(vc) {
				allComponentsValid = false
				break
			}
		}
		if !allComponentsValid {
			lastErr, lastStatus = errors.New("manager: version component validation failed"), ValidationError
			continue
		}
		return c, formatTag, Success, nil
	}
	if lastErr == nil {
		lastErr = errors.New("manager: no registered container format matched")
	}
	return container.Container{}, "", lastStatus, lastErr
}

func (m *Manager) delegateForSource(sourceID string) delegate.Delegate {
	if e, ok := m.sources[sourceID]; ok {
		return e.delegate
	}
	return delegate.Dummy{}
}

func (m *Manager) insertValidatedDocument(sourceID string, entry *sourceEntry, doc *document.Document, h blobstore.Handle) (InsertionStatus, error) {
	newComponent := doc.GetVersionStamp().Component(sourceID)
	for _, existing := range entry.documents {
		if existing.GetVersionStamp().Component(sourceID) >= newComponent {
			return VersionClash, fmt.Errorf("manager: source %q version component %d does not advance past existing document", sourceID, newComponent)
		}
	}

	if err := entry.src.CheckAccess(doc, source.StatusActive); err != nil {
		return AccessViolation, err
	}

	changed, err := m.settings.InsertDocument(doc)
	if err != nil {
		return Collision, err
	}

	doc.SetOwner(document.Owner{SourceID: sourceID, BlobID: h.BlobID})
	entry.documents = appendSortedByComponent(entry.documents, doc, sourceID)

	m.purgeUnreferenced()
	m.enqueueSourceKeys(changed)
	m.runTrustConfigurationUpdate()

	m.observers.Notify(changed)
	metrics.ObserverNotificationsTotal.Inc()
	metrics.ChangedKeysPerNotification.Observe(float64(len(changed)))

	return Success, nil
}

func appendSortedByComponent(docs []*document.Document, doc *document.Document, sourceID string) []*document.Document {
	v := doc.GetVersionStamp().Component(sourceID)
	i := 0
	for i < len(docs) && docs[i].GetVersionStamp().Component(sourceID) < v {
		i++
	}
	docs = append(docs, nil)
	copy(docs[i+1:], docs[i:])
	docs[i] = doc
	return docs
}

// purgeUnreferenced drains newly-unreferenced documents from the settings
// map and removes their backing blobs from disk.
func (m *Manager) purgeUnreferenced() {
	for _, doc := range m.settings.TakeUnreferenced() {
		owner, ok := doc.Owner()
		if !ok {
			continue
		}
		if entry, ok := m.sources[owner.SourceID]; ok {
			entry.documents = removeDocument(entry.documents, doc)
		}
		if err := m.blobs.Purge(blobstore.Handle{SourceID: owner.SourceID, BlobID: owner.BlobID}); err != nil {
			log.WithComponent("manager").Warn().Err(err).Str("source_id", owner.SourceID).Msg("purging unreferenced blob")
		}
		metrics.DocumentsPurgedTotal.WithLabelValues(owner.SourceID, "unreferenced").Inc()
	}
}

func removeDocument(docs []*document.Document, target *document.Document) []*document.Document {
	for i, d := range docs {
		if d == target {
			return append(docs[:i], docs[i+1:]...)
		}
	}
	return docs
}

// enqueueSourceKeys extracts the immediate source-ID segment from any
// changed key that falls under the reserved sources subtree and queues
// that source for a trust configuration refresh.
func (m *Manager) enqueueSourceKeys(changed []key.Key) {
	root := key.MustNew(sourcesRoot)
	for _, k := range changed {
		if !root.IsPrefixOf(k) {
			continue
		}
		suffix := k.Suffix(root)
		if suffix.IsRootKey() {
			continue
		}
		sourceID, _ := suffix.Split()
		m.queue.Push(sourceID)
	}
}

// runTrustConfigurationUpdate drains the priority queue of source IDs
// whose configuration subtree changed, rebuilding each one's Source and
// revalidating its documents, and feeding any keys that revalidation
// itself changes back into the same queue until it drains completely.
func (m *Manager) runTrustConfigurationUpdate() {
	for m.queue.Len() > 0 {
		sourceID := m.queue.Pop()
		metrics.TrustConfigurationUpdatesTotal.Inc()
		m.updateOneSource(sourceID)
	}
}

func (m *Manager) updateOneSource(sourceID string) {
	entry, exists := m.sources[sourceID]
	if !exists {
		entry = &sourceEntry{src: source.New(sourceID)}
		m.sources[sourceID] = entry
	}

	hasConfig := entry.src.Update(m.settings)
	entry.delegate = m.delegates.New(entry.src.Type, sourceID)

	if !hasConfig {
		delete(m.sources, sourceID)
		for _, doc := range entry.documents {
			m.removeDocumentFromMap(doc)
		}
		return
	}

	timer := metrics.NewTimer()
	m.revalidateSourceDocuments(entry)
	timer.ObserveDuration(metrics.RevalidationDuration)
}

func (m *Manager) revalidateSourceDocuments(entry *sourceEntry) {
	var stillValid []*document.Document
	for _, doc := range entry.documents {
		if err := entry.src.CheckAccess(doc, source.StatusWithdrawn); err != nil {
			m.removeDocumentFromMap(doc)
			metrics.DocumentsPurgedTotal.WithLabelValues(entry.src.ID, "revalidation_failed").Inc()
			continue
		}
		stillValid = append(stillValid, doc)
	}
	entry.documents = stillValid
}

func (m *Manager) removeDocumentFromMap(doc *document.Document) {
	changed, err := m.settings.RemoveDocument(doc)
	if err != nil {
		log.WithComponent("manager").Warn().Err(err).Msg("removing document during revalidation")
		return
	}
	m.purgeUnreferenced()
	m.enqueueSourceKeys(changed)
	if len(changed) > 0 {
		m.observers.Notify(changed)
	}
}

// sourceIDQueue is a deduplicating priority queue of source IDs, visited in
// lexicographic order, ignoring a push of an ID that is already queued the
// way repeated changes to the same source's configuration collapse into a
// single revalidation pass.
type sourceIDQueue struct {
	h *idHeap
	in map[string]bool
}

func newSourceIDQueue() *sourceIDQueue {
	h := &idHeap{}
	heap.Init(h)
	return &sourceIDQueue{h: h, in: make(map[string]bool)}
}

func (q *sourceIDQueue) Push(id string) {
	if q.in[id] {
		return
	}
	q.in[id] = true
	heap.Push(q.h, id)
}

func (q *sourceIDQueue) Pop() string {
	id := heap.Pop(q.h).(string)
	delete(q.in, id)
	return id
}

func (q *sourceIDQueue) Len() int { return q.h.Len() }

type idHeap []string

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
