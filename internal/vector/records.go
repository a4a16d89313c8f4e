package vector

import "github.com/hyperjump/apex/internal/models"

// Record pairs an internal id with its document.
type Record struct {
	ID       uint32
	Document *models.Document
}

// RecordStore maps internal graph ids to documents. It is not safe for
// concurrent use; Index guards it with its own lock.
type RecordStore struct {
	docs map[uint32]*models.Document
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{docs: make(map[uint32]*models.Document)}
}

// Put stores doc under id, replacing any previous entry.
func (s *RecordStore) Put(id uint32, doc *models.Document) {
	s.docs[id] = doc
}

// Get returns the document for id.
func (s *RecordStore) Get(id uint32) (*models.Document, bool) {
	doc, ok := s.docs[id]
	return doc, ok
}

// All returns every record in no particular order.
func (s *RecordStore) All() []Record {
	out := make([]Record, 0, len(s.docs))
	for id, doc := range s.docs {
		out = append(out, Record{ID: id, Document: doc})
	}
	return out
}

// Len returns the number of records.
func (s *RecordStore) Len() int { return len(s.docs) }
