package listings

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrIDRequired    = errors.New("listings: id is required")
	ErrHostRequired  = errors.New("listings: host is required")
	ErrTitleRequired = errors.New("listings: title is required")
	ErrNotFound      = errors.New("listings: not found")
)

type ListingID string
type HostID string

type Address struct {
	Line1   string
	Line2   string
	City    string
	Country string
}

func (a Address) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Listing is the property data the messaging core reads from the listing
// collaborator: existence, presentation and the owning landlord.
type Listing struct {
	ID           ListingID
	Host         HostID
	Title        string
	Address      Address
	ThumbnailURL string
	Photos       []string
}

// Directory is the listing collaborator's read side.
type Directory interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
}

type CreateListingParams struct {
	ID           ListingID
	Host         HostID
	Title        string
	Address      Address
	ThumbnailURL string
	Photos       []string
}

func NewListing(params CreateListingParams) (*Listing, error) {
	if strings.TrimSpace(string(params.ID)) == "" {
		return nil, ErrIDRequired
	}
	if strings.TrimSpace(string(params.Host)) == "" {
		return nil, ErrHostRequired
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	thumb := strings.TrimSpace(params.ThumbnailURL)
	if thumb == "" && len(params.Photos) > 0 {
		thumb = params.Photos[0]
	}
	return &Listing{
		ID:           ListingID(strings.TrimSpace(string(params.ID))),
		Host:         HostID(strings.TrimSpace(string(params.Host))),
		Title:        title,
		Address:      params.Address,
		ThumbnailURL: thumb,
		Photos:       append([]string(nil), params.Photos...),
	}, nil
}
