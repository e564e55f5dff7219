package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

const defaultProfileTTL = 10 * time.Minute

// UserDirectory resolves display profiles, caching answers.
type UserDirectory struct {
	client *restClient
	cache  usecase.Cache
	ttl    time.Duration
}

var _ usecase.UserDirectory = (*UserDirectory)(nil)

// NewUserDirectory creates a directory client. cache may be nil.
func NewUserDirectory(opts Options, cache usecase.Cache, ttl time.Duration) *UserDirectory {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &UserDirectory{
		client: newRESTClient("user_directory", opts),
		cache:  cache,
		ttl:    ttl,
	}
}

type profileResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Lookup returns the profile for accountID.
func (d *UserDirectory) Lookup(ctx context.Context, accountID string) (*domain.Profile, error) {
	key := "profile:" + accountID
	if d.cache != nil {
		raw, err := d.cache.Get(ctx, key)
		if err == nil {
			var p domain.Profile
			if json.Unmarshal(raw, &p) == nil {
				return &p, nil
			}
		} else if !errors.Is(err, usecase.ErrCacheMiss) {
			d.client.logger.Debug().Err(err).Msg("profile cache read failed")
		}
	}

	var resp profileResponse
	err := d.client.do(ctx, http.MethodGet, "/users/"+url.PathEscape(accountID), nil, &resp)
	if errors.Is(err, errNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{
		AccountID:   accountID,
		DisplayName: resp.DisplayName,
		AvatarURL:   resp.AvatarURL,
	}
	if d.cache != nil {
		if raw, err := json.Marshal(profile); err == nil {
			if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
				d.client.logger.Debug().Err(err).Msg("profile cache write failed")
			}
		}
	}
	return profile, nil
}
