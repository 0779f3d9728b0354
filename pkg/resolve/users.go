// Package resolve maps raw ids from the kernel records to names: uids to
// user names and cgroup ids to cgroup paths, containers and services.
package resolve

import (
	"fmt"
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
)

var lookupUser = user.LookupId

// Users caches uid to user name lookups. Unknown uids resolve to the
// numeric uid and are cached as such.
type Users struct {
	cache *lru.Cache
}

// NewUsers creates a cache holding up to size entries.
func NewUsers(size int) (*Users, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating user cache: %w", err)
	}
	return &Users{cache: cache}, nil
}

// Username returns the login name for uid.
func (u *Users) Username(uid uint32) string {
	if name, ok := u.cache.Get(uid); ok {
		return name.(string)
	}
	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if usr, err := lookupUser(id); err == nil && usr.Username != "" {
		name = usr.Username
	}
	u.cache.Add(uid, name)
	return name
}
