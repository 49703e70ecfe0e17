package memory

import (
	"context"
	"strings"
	"sync"

	domainlistings "rentchat/internal/domain/listings"
	domainuser "rentchat/internal/domain/user"
)

// UserDirectory is the in-memory identity collaborator, seeded from fixtures.
type UserDirectory struct {
	mu   sync.RWMutex
	byID map[domainuser.ID]*domainuser.User
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{byID: make(map[domainuser.ID]*domainuser.User)}
}

func (d *UserDirectory) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.byID[domainuser.ID(strings.TrimSpace(string(id)))]; ok {
		return cloneUser(u), nil
	}
	return nil, domainuser.ErrNotFound
}

func (d *UserDirectory) Save(ctx context.Context, u *domainuser.User) error {
	if u == nil || strings.TrimSpace(string(u.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[u.ID] = cloneUser(u)
	return nil
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	copyUser := *u
	copyUser.Roles = append([]domainuser.Role(nil), u.Roles...)
	return &copyUser
}

// ListingDirectory is the in-memory listing collaborator.
type ListingDirectory struct {
	mu   sync.RWMutex
	byID map[domainlistings.ListingID]*domainlistings.Listing
}

func NewListingDirectory() *ListingDirectory {
	return &ListingDirectory{byID: make(map[domainlistings.ListingID]*domainlistings.Listing)}
}

func (d *ListingDirectory) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if l, ok := d.byID[domainlistings.ListingID(strings.TrimSpace(string(id)))]; ok {
		copyListing := *l
		copyListing.Photos = append([]string(nil), l.Photos...)
		return &copyListing, nil
	}
	return nil, domainlistings.ErrNotFound
}

func (d *ListingDirectory) Save(ctx context.Context, l *domainlistings.Listing) error {
	if l == nil || strings.TrimSpace(string(l.ID)) == "" {
		return domainlistings.ErrIDRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copyListing := *l
	copyListing.Photos = append([]string(nil), l.Photos...)
	d.byID[l.ID] = &copyListing
	return nil
}

var _ domainuser.Directory = (*UserDirectory)(nil)
var _ domainlistings.Directory = (*ListingDirectory)(nil)
