package api

import "github.com/postpulse/postpulse/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status          string   `json:"status"`
	CachedProfiles  int      `json:"cached_profiles"`
	DefaultAccount  string   `json:"default_account"`
	TrackedAccounts []string `json:"tracked_accounts"`
}

// ProfileResponse is one entry in GET /api/v1/profiles.
type ProfileResponse struct {
	Account   string                    `json:"account"`
	UpdatedAt string                    `json:"updated_at"` // RFC3339
	Profile   *types.DistributionResult `json:"profile"`
}

type errorResponse struct {
	Error string `json:"error"`
}
