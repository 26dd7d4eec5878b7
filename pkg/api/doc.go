// Package api is the HTTP surface over the guarded data layer.
//
// Every authenticated route resolves an authz.Caller in middleware and
// passes it to an access.Session or a domain service; handlers never touch
// the store directly. Errors are rendered through httputil.WriteError, so
// the status and code come from the apperrors taxonomy.
//
// Routes:
//
//	POST   /hooks/identity-created        enrollment hook (hook secret, always 202)
//	GET    /shared/{token}                anonymous share redemption (rate limited)
//	GET    /me
//	GET    /tenants/{id}
//	POST   /principals/{id}/approve|reject|reopen
//	PUT    /principals/{id}/role
//	DELETE /principals/{id}
//	POST   /projects, GET /projects, GET /projects/{id}
//	GET    /projects/{id}/health          ?refresh=true recomputes
//	POST   /projects/{id}/recalculate
//	POST   /estimates, GET /estimates/{id}
//	POST   /estimates/{id}/items, /estimates/{id}/recalculate
//	PUT    /estimate-items/{id}, DELETE /estimate-items/{id}
//	POST   /equipment-logs, /cost-transactions, /rfis
//	GET    /{table}/{id}/history
//	POST   /shares, DELETE /shares/{id}
//
// Probes and metrics are served separately by OpsHandler.
package api
