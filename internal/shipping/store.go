package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"usada-checkout/internal/logger"
	"usada-checkout/internal/storage"

	"go.uber.org/zap"
)

const profileStorageKey = "shipping_info"

// Store persists the shipping profile in its own durable slot.
// Last write wins; there is no versioning.
type Store struct {
	mu    sync.Mutex
	info  Info
	store storage.Store
}

// NewStore loads the persisted profile. A missing or corrupt blob
// yields a fresh profile with the default country.
func NewStore(ctx context.Context, st storage.Store) *Store {
	s := &Store{
		store: st,
		info:  Info{Country: DefaultCountry},
	}

	data, err := st.Read(ctx, profileStorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load shipping profile", zap.Error(err))
		return s
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		logger.FromCtx(ctx).Warn("invalid shipping profile in storage, resetting", zap.Error(err))
		return s
	}
	if info.Country == "" {
		info.Country = DefaultCountry
	}
	s.info = info
	return s
}

// Get returns the current profile.
func (s *Store) Get() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Set overwrites the whole profile and persists it.
func (s *Store) Set(ctx context.Context, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info = info
	return s.persist(ctx)
}

// Update merges a partial patch over the stored profile and persists
// the result.
func (s *Store) Update(ctx context.Context, patch Patch) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	apply(&s.info.Phone, patch.Phone)
	apply(&s.info.FirstName, patch.FirstName)
	apply(&s.info.LastName, patch.LastName)
	apply(&s.info.Email, patch.Email)
	apply(&s.info.Address, patch.Address)
	apply(&s.info.City, patch.City)
	apply(&s.info.PostalCode, patch.PostalCode)
	apply(&s.info.Country, patch.Country)
	apply(&s.info.AddressDescription, patch.AddressDescription)

	return s.info, s.persist(ctx)
}

// Clear resets the profile and wipes the slot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.info = Info{Country: DefaultCountry}
	return s.store.Delete(ctx, profileStorageKey)
}

// persist writes the profile; callers must hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.info)
	if err != nil {
		return err
	}
	if err := s.store.Write(ctx, profileStorageKey, data); err != nil {
		logger.FromCtx(ctx).Error("failed to persist shipping profile", zap.Error(err))
		return err
	}
	return nil
}
