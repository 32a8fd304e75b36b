package user

import (
	"context"
	"errors"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/storage"
)

// claim reserves a unique key for one user. A zero UserID is a released
// claim.
type claim struct {
	UserID int64 `json:"userId"`
}

// claimTx reserves key in coll for userID, failing with a conflict when
// another user holds it.
func claimTx(tx storage.BatchTx, coll, key string, userID int64) error {
	var version uint64
	env, err := tx.Get(coll, key)
	switch {
	case err == nil:
		var c claim
		if err := storage.DecodeJSON(env, &c); err != nil {
			return err
		}
		if c.UserID == userID {
			return nil
		}
		if c.UserID != 0 {
			return derrors.Conflict("%s already in use", claimSubject(coll))
		}
		version = env.Version
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	next, err := storage.EncodeJSON(claim{UserID: userID}, version+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(coll, key, version, next)
}

// releaseTx gives up userID's claim on key.
func releaseTx(tx storage.BatchTx, coll, key string, userID int64) error {
	env, err := tx.Get(coll, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var c claim
	if err := storage.DecodeJSON(env, &c); err != nil {
		return err
	}
	if c.UserID != userID {
		return nil
	}
	next, err := storage.EncodeJSON(claim{}, env.Version+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(coll, key, env.Version, next)
}

// claimOwner returns the user holding key, or 0.
func claimOwner(ctx context.Context, repo storage.Repository, coll, key string) (int64, error) {
	env, err := repo.Get(ctx, coll, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var c claim
	if err := storage.DecodeJSON(env, &c); err != nil {
		return 0, err
	}
	return c.UserID, nil
}

func claimSubject(coll string) string {
	if coll == emailCollection {
		return "email"
	}
	return "username"
}
