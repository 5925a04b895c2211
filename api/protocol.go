package api

import "dashboard/domain"

const requestMaxSize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /dashboard/items/reorder request body
type reorderRequest struct {
	IDs []string `json:"ids"`
}

// POST /dashboard/items/reorder response body
type itemsResponse struct {
	Items []domain.Item `json:"items"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}
