package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

// memoryStore is an in-memory ProductStore with the same identity rules as the postgres repository.
type memoryStore struct {
	mu          sync.RWMutex
	products    map[int64]models.Product
	sizes       map[string]models.ProductSize
	nextSerial  int64
	hiddenNmIDs map[int64]bool
	failBarcode map[string]bool
	lookupErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		products:    make(map[int64]models.Product),
		sizes:       make(map[string]models.ProductSize),
		hiddenNmIDs: make(map[int64]bool),
		failBarcode: make(map[string]bool),
	}
}

func (s *memoryStore) UpsertProduct(_ context.Context, p models.Product) (models.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.products {
		if other.NmID != p.NmID && other.VendorCode == p.VendorCode {
			return models.UpsertResult{}, &ConflictError{NmID: p.NmID, Column: "vendor_code", Value: p.VendorCode, Constraint: "products_vendor_code_key"}
		}
	}

	existing, ok := s.products[p.NmID]
	if !ok {
		s.nextSerial++
		p.ID = uuid.New()
		p.SerialNo = s.nextSerial
		s.products[p.NmID] = p
		return models.UpsertResult{ID: p.ID, IsNew: true}, nil
	}

	p.ID = existing.ID
	p.SerialNo = existing.SerialNo
	if p == existing {
		return models.UpsertResult{ID: existing.ID}, nil
	}
	s.products[p.NmID] = p
	return models.UpsertResult{ID: existing.ID, IsChanged: true}, nil
}

func (s *memoryStore) ProductIDsByNmID(_ context.Context, nmIDs []int64) (map[int64]uuid.UUID, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int64]uuid.UUID, len(nmIDs))
	for _, nmID := range nmIDs {
		if s.hiddenNmIDs[nmID] {
			continue
		}
		if p, ok := s.products[nmID]; ok {
			ids[nmID] = p.ID
		}
	}
	return ids, nil
}

func (s *memoryStore) UpsertProductSize(_ context.Context, size models.ProductSize) (models.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failBarcode[size.Barcode] {
		return models.UpsertResult{}, errors.New("failed to upsert product size")
	}

	existing, ok := s.sizes[size.Barcode]
	if !ok {
		s.nextSerial++
		size.ID = uuid.New()
		size.SerialNo = s.nextSerial
		s.sizes[size.Barcode] = size
		return models.UpsertResult{ID: size.ID, IsNew: true}, nil
	}

	size.ID = existing.ID
	size.SerialNo = existing.SerialNo
	if existing.ProductID == size.ProductID && equalLabel(existing.Size, size.Size) {
		return models.UpsertResult{ID: existing.ID}, nil
	}
	s.sizes[size.Barcode] = size
	return models.UpsertResult{ID: existing.ID, IsChanged: true}, nil
}

func (s *memoryStore) product(nmID int64) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[nmID]
	return p, ok
}

func (s *memoryStore) size(barcode string) (models.ProductSize, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, ok := s.sizes[barcode]
	return size, ok
}

func equalLabel(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
