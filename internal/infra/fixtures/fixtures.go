package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	domainauth "rentchat/internal/domain/auth"
	"rentchat/internal/domain/listings"
	domainuser "rentchat/internal/domain/user"
)

// File is the seed document for the in-memory identity and listing
// collaborators.
type File struct {
	Users    []UserFixture    `json:"users"`
	Listings []ListingFixture `json:"listings"`
	Sessions []SessionFixture `json:"sessions"`
}

type UserFixture struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	AvatarURL string   `json:"avatar_url"`
	Roles     []string `json:"roles"`
}

type ListingFixture struct {
	ID           string         `json:"id"`
	Host         string         `json:"host"`
	Title        string         `json:"title"`
	Address      fixtureAddress `json:"address"`
	ThumbnailURL string         `json:"thumbnail_url"`
	Photos       []string       `json:"photos"`
}

type fixtureAddress struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// SessionFixture pre-issues a bearer token for a seeded user.
type SessionFixture struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type UserSaver interface {
	Save(ctx context.Context, u *domainuser.User) error
}

type ListingSaver interface {
	Save(ctx context.Context, l *listings.Listing) error
}

type SessionIssuer interface {
	IssueSession(ctx context.Context, userID domainuser.ID, token string) (string, *domainauth.Session, error)
}

// Load reads a fixtures file. A missing file yields an empty File.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		return File{}, nil
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return f, nil
}

// DefaultPath returns the first fixtures file found in the usual locations.
func DefaultPath() string {
	candidates := []string{
		filepath.Join("data", "fixtures.json"),
		filepath.Join("..", "..", "data", "fixtures.json"),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidates[0]
}

// Seed imports users, then listings, then sessions. Invalid entries are
// logged and skipped; storage failures abort.
func (f File) Seed(ctx context.Context, users UserSaver, lst ListingSaver, sessions SessionIssuer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, fx := range f.Users {
		roles := make([]domainuser.Role, 0, len(fx.Roles))
		for _, r := range fx.Roles {
			roles = append(roles, domainuser.Role(r))
		}
		u, err := domainuser.NewUser(domainuser.CreateParams{
			ID:        domainuser.ID(fx.ID),
			Email:     fx.Email,
			Name:      fx.Name,
			AvatarURL: fx.AvatarURL,
			Roles:     roles,
		})
		if err != nil {
			logger.Error("fixture user invalid", "user_id", fx.ID, "error", err)
			continue
		}
		if err := users.Save(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", fx.ID, err)
		}
	}
	for _, fx := range f.Listings {
		l, err := listings.NewListing(listings.CreateListingParams{
			ID:    listings.ListingID(fx.ID),
			Host:  listings.HostID(fx.Host),
			Title: fx.Title,
			Address: listings.Address{
				Line1:   fx.Address.Line1,
				Line2:   fx.Address.Line2,
				City:    fx.Address.City,
				Country: fx.Address.Country,
			},
			ThumbnailURL: fx.ThumbnailURL,
			Photos:       append([]string(nil), fx.Photos...),
		})
		if err != nil {
			logger.Error("fixture listing invalid", "listing_id", fx.ID, "error", err)
			continue
		}
		if err := lst.Save(ctx, l); err != nil {
			return fmt.Errorf("save listing %s: %w", fx.ID, err)
		}
	}
	if sessions == nil {
		return nil
	}
	for _, fx := range f.Sessions {
		if _, _, err := sessions.IssueSession(ctx, domainuser.ID(fx.UserID), fx.Token); err != nil {
			logger.Error("fixture session rejected", "user_id", fx.UserID, "error", err)
			continue
		}
	}
	logger.Info("fixtures imported", "users", len(f.Users), "listings", len(f.Listings), "sessions", len(f.Sessions))
	return nil
}

// Demo is the built-in data set used when no fixtures file exists and by tests.
func Demo() File {
	return File{
		Users: []UserFixture{
			{ID: "tenant-1", Name: "Tina Tenant", Email: "tina@example.com", Roles: []string{"tenant"}},
			{ID: "tenant-2", Name: "Theo Tenant", Email: "theo@example.com", Roles: []string{"tenant"}},
			{ID: "landlord-1", Name: "Lara Landlord", Email: "lara@example.com", Roles: []string{"landlord"}},
			{ID: "admin-1", Name: "Ada Admin", Email: "ada@example.com", Roles: []string{"admin"}},
		},
		Listings: []ListingFixture{
			{
				ID:           "listing-1",
				Host:         "landlord-1",
				Title:        "Sunny two-bedroom near the park",
				Address:      fixtureAddress{Line1: "12 Park Lane", City: "Lisbon", Country: "PT"},
				ThumbnailURL: "https://img.example.com/listing-1.jpg",
			},
			{
				ID:      "listing-2",
				Host:    "landlord-1",
				Title:   "Studio by the river",
				Address: fixtureAddress{Line1: "3 Quay Street", City: "Porto", Country: "PT"},
			},
		},
		Sessions: []SessionFixture{
			{Token: "tok-tenant-1", UserID: "tenant-1"},
			{Token: "tok-tenant-2", UserID: "tenant-2"},
			{Token: "tok-landlord-1", UserID: "landlord-1"},
			{Token: "tok-admin-1", UserID: "admin-1"},
		},
	}
}
