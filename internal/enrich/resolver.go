package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ZapDesk/console"
	"ZapDesk/entity"
	"ZapDesk/internal/config"
	"ZapDesk/internal/lib/sl"
)

// Resolver looks up display data for identity keys against the profile
// service: group titles for group keys, profile pictures for both.
type Resolver struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewResolver creates a resolver from config. Returns nil when no base
// URL is configured.
func NewResolver(conf *config.Config, log *slog.Logger) *Resolver {
	if conf.Enrichment.BaseURL == "" {
		return nil
	}
	timeout := time.Duration(conf.Enrichment.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{
		baseURL: strings.TrimRight(conf.Enrichment.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With(sl.Module("enrich.resolver")),
	}
}

type profileResponse struct {
	URL string `json:"url"`
}

type groupResponse struct {
	Subject string `json:"subject"`
}

// ResolveIdentity fetches avatar and, for groups, the subject title.
// Either lookup failing is not an error for the other: a partially
// resolved identity is still useful, and the cache treats a fully
// empty result as "resolved to nothing".
func (r *Resolver) ResolveIdentity(ctx context.Context, key string) (entity.Identity, error) {
	id := entity.Identity{Key: key}

	if console.IsGroupKey(key) {
		subject, err := r.groupSubject(ctx, key)
		if err != nil {
			r.log.Debug("group subject lookup failed",
				slog.String("key", key), sl.Err(err))
		} else {
			id.Name = subject
		}
	}

	avatar, err := r.profilePicture(ctx, key)
	if err != nil {
		r.log.Debug("profile picture lookup failed",
			slog.String("key", key), sl.Err(err))
	} else {
		id.Avatar = avatar
	}

	return id, nil
}

func (r *Resolver) profilePicture(ctx context.Context, key string) (string, error) {
	endpoint := fmt.Sprintf("%s/profile-picture/%s", r.baseURL, url.PathEscape(key))

	var parsed profileResponse
	if err := r.getJSON(ctx, endpoint, &parsed); err != nil {
		return "", err
	}
	return parsed.URL, nil
}

func (r *Resolver) groupSubject(ctx context.Context, key string) (string, error) {
	endpoint := fmt.Sprintf("%s/groups/%s", r.baseURL, url.PathEscape(key))

	var parsed groupResponse
	if err := r.getJSON(ctx, endpoint, &parsed); err != nil {
		return "", err
	}
	return strings.TrimSpace(parsed.Subject), nil
}

func (r *Resolver) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d)", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
