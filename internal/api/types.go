package api

import (
	"time"

	"github.com/wisbric/storeplane/pkg/storerecord"
)

// CreateStoreRequest is the POST /stores body (spec §6.1).
type CreateStoreRequest struct {
	Name          string `json:"name"`
	Engine        string `json:"engine"`
	AdminUsername string `json:"admin_username"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// StoreResponse is the JSON shape returned for a Store Record. AdminPassword
// is intentionally absent (testable property #4: no response ever echoes it).
type StoreResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Engine        string  `json:"engine"`
	Namespace     string  `json:"namespace"`
	HelmRelease   string  `json:"helm_release"`
	Status        string  `json:"status"`
	StoreURL      *string `json:"store_url"`
	FailureReason *string `json:"failure_reason,omitempty"`
	AdminUsername string  `json:"admin_username"`
	AdminEmail    string  `json:"admin_email"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toStoreResponse(rec storerecord.Record) StoreResponse {
	rec = rec.Redacted()
	return StoreResponse{
		ID:            rec.ID,
		Name:          rec.Name,
		Engine:        string(rec.Engine),
		Namespace:     rec.Namespace,
		HelmRelease:   rec.HelmRelease,
		Status:        string(rec.Status),
		StoreURL:      rec.StoreURL,
		FailureReason: rec.FailureReason,
		AdminUsername: rec.AdminUsername,
		AdminEmail:    rec.AdminEmail,
		CreatedAt:     rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// StoreListResponse wraps GET /stores.
type StoreListResponse struct {
	Stores []StoreResponse `json:"stores"`
}

// DeleteStoreResponse is the 202 body returned from DELETE /stores/{id}.
type DeleteStoreResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
