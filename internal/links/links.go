// Package links holds the minimal link/domain metadata the analytics engine
// needs: resolving filter sets (domain, tag) into link IDs and keeping each
// link's cached unique-visitor total. Full link CRUD lives in the management
// API, not here.
package links

import (
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// LinkNotFoundError represents an error when a link is not found
type LinkNotFoundError struct {
	Domain string
	Slug   string
}

func (e *LinkNotFoundError) Error() string {
	return fmt.Sprintf("link not found: %s/%s", e.Domain, e.Slug)
}

// NewLinkNotFoundError creates a new LinkNotFoundError
func NewLinkNotFoundError(domain, slug string) *LinkNotFoundError {
	return &LinkNotFoundError{Domain: domain, Slug: slug}
}

// Link represents a short link. The ID is a UUID string so it can be
// interpolated into time-series filter predicates after validation.
type Link struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Domain         string    `gorm:"uniqueIndex:idx_domain_slug;not null" json:"domain"`
	Slug           string    `gorm:"uniqueIndex:idx_domain_slug;not null" json:"slug"`
	DestinationURL string    `gorm:"not null" json:"destination_url"`
	Tag            string    `gorm:"index" json:"tag"`
	Clicks         int64     `gorm:"not null;default:0" json:"clicks"`
	UniqueVisitors int64     `gorm:"not null;default:0" json:"unique_visitors"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ShortDomain represents a custom domain short links are served from.
type ShortDomain struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetLinkByDomainAndSlug resolves a link by its short address.
func GetLinkByDomainAndSlug(db *gorm.DB, domain, slug string) (*Link, error) {
	var link Link
	err := db.Where("domain = ? AND slug = ?", strings.ToLower(domain), slug).First(&link).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewLinkNotFoundError(domain, slug)
		}
		return nil, fmt.Errorf("unexpected error querying link: %w", err)
	}
	return &link, nil
}

// GetLinkByID resolves a link by its UUID.
func GetLinkByID(db *gorm.DB, id string) (*Link, error) {
	var link Link
	err := db.Where("id = ?", id).First(&link).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewLinkNotFoundError("", id)
		}
		return nil, fmt.Errorf("unexpected error querying link: %w", err)
	}
	return &link, nil
}

// LinkIDsForDomain returns all link IDs under a short domain. Used to turn a
// domain-scoped report into a link-ID filter when the time-series store
// cannot filter by domain directly.
func LinkIDsForDomain(db *gorm.DB, domain string) ([]string, error) {
	var ids []string
	err := db.Model(&Link{}).
		Where("domain = ?", strings.ToLower(domain)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list link ids for domain %s: %w", domain, err)
	}
	return ids, nil
}

// LinkIDsForTag resolves a tag into the set of link IDs carrying it.
func LinkIDsForTag(db *gorm.DB, tag string) ([]string, error) {
	var ids []string
	err := db.Model(&Link{}).
		Where("tag = ?", tag).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list link ids for tag %s: %w", tag, err)
	}
	return ids, nil
}

// UpdateCachedCounters stores a link's recomputed click and unique-visitor
// totals. Called by the aggregation job after folding a window of raw events.
func UpdateCachedCounters(db *gorm.DB, logger *slog.Logger, linkID string, clicks, uniqueVisitors int64) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Link{}).Where("id = ?", linkID).Updates(map[string]interface{}{
			"clicks":          clicks,
			"unique_visitors": uniqueVisitors,
			"updated_at":      time.Now().UTC(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to update cached counters for link %s: %w", linkID, result.Error)
		}
		return nil
	})
}

// IncrementCachedClicks bumps a link's click counter on the real-time path.
func IncrementCachedClicks(db *gorm.DB, logger *slog.Logger, linkID string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Model(&Link{}).Where("id = ?", linkID).
			UpdateColumn("clicks", gorm.Expr("clicks + 1")).Error
	})
}
