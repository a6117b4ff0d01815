// Package directory reads user-profile data owned by another subsystem.
// The fanout core only consumes the narrow read-only surface below and
// never embeds profile-service detail.
package directory

import "context"

// UserLocation is one user's stored location and radius preference.
// AlertRadiusKm is nil when the user has not overridden the default.
type UserLocation struct {
	UserID        string   `json:"userId"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	AlertRadiusKm *float64 `json:"alertRadiusKm,omitempty"`
}

// Directory resolves role membership and stored user locations.
type Directory interface {
	UsersByRole(ctx context.Context, role string) ([]string, error)
	UserLocations(ctx context.Context) ([]UserLocation, error)
}
