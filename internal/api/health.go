package api

import "net/http"

// serviceName identifies the service in health responses.
const serviceName = "Pagani Zonda R Enterprise Intelligence"

type healthResponse struct {
	Status                 string `json:"status"`
	Service                string `json:"service"`
	VectorStoreInitialized bool   `json:"vector_store_initialized"`
	RegisteredUsers        int    `json:"registered_users"`
}

// handleHealth reports liveness plus index and user-store state.
// GET /api/health, registered outside the middleware stack.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:                 "operational",
		Service:                serviceName,
		VectorStoreInitialized: s.index.Ready(),
		RegisteredUsers:        s.users.Count(),
	})
}
