package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jmcleod/donorhub/storage"
)

const resetCollection = "password_resets"

type resetCode struct {
	UserID    int64     `json:"userId"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

func (c resetCode) matches(hash string, now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt) &&
		subtle.ConstantTimeCompare([]byte(c.Hash), []byte(hash)) == 1
}

// StorageCodeStore keeps reset codes in a storage.Repository, keyed by
// user id. Consume is a version-checked write, so concurrent consumers
// of one code see exactly one success.
type StorageCodeStore struct {
	codes *storage.Collection[resetCode]
}

// NewStorageCodeStore returns a CodeStore backed by repo.
func NewStorageCodeStore(repo storage.Repository) *StorageCodeStore {
	return &StorageCodeStore{codes: storage.NewCollection[resetCode](repo, resetCollection)}
}

func (s *StorageCodeStore) Save(ctx context.Context, userID int64, hash string, expiresAt time.Time) error {
	return s.codes.Put(ctx, userID, resetCode{UserID: userID, Hash: hash, ExpiresAt: expiresAt})
}

func (s *StorageCodeStore) Valid(ctx context.Context, userID int64, hash string, now time.Time) (bool, error) {
	c, err := s.codes.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.matches(hash, now), nil
}

// Discard overwrites the pending code with a used, empty one.
func (s *StorageCodeStore) Discard(ctx context.Context, userID int64) error {
	return s.codes.Put(ctx, userID, resetCode{UserID: userID, Used: true})
}

func (s *StorageCodeStore) Consume(ctx context.Context, userID int64, hash string, now time.Time) (bool, error) {
	doc, err := s.codes.Load(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !doc.Value.matches(hash, now) {
		return false, nil
	}
	used := doc.Value
	used.Used = true
	err = s.codes.Replace(ctx, userID, doc.Version, used)
	if errors.Is(err, storage.ErrCASFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
