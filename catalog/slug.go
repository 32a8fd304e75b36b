package catalog

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/storage"
)

type slugClaim struct {
	ServiceID int64 `json:"serviceId"`
}

func claimSlug(tx storage.BatchTx, slug string, id int64) error {
	var version uint64
	env, err := tx.Get(slugCollection, slug)
	switch {
	case err == nil:
		var c slugClaim
		if err := storage.DecodeJSON(env, &c); err != nil {
			return err
		}
		if c.ServiceID == id {
			return nil
		}
		if c.ServiceID != 0 {
			return derrors.Conflict("slug %q is already in use", slug)
		}
		version = env.Version
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	next, err := storage.EncodeJSON(slugClaim{ServiceID: id}, version+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(slugCollection, slug, version, next)
}

func releaseSlug(tx storage.BatchTx, slug string, id int64) error {
	env, err := tx.Get(slugCollection, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var c slugClaim
	if err := storage.DecodeJSON(env, &c); err != nil {
		return err
	}
	if c.ServiceID != id {
		return nil
	}
	next, err := storage.EncodeJSON(slugClaim{}, env.Version+1)
	if err != nil {
		return err
	}
	return tx.PutCAS(slugCollection, slug, env.Version, next)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, derrors.Validation("invalid service id %q", s)
	}
	return id, nil
}
