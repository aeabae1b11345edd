package guard

import (
	"net/http"

	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// WriteDenial renders a denial as the client-facing JSON error. Every
// caller of Check uses this one mapping so a denial looks the same no
// matter which route produced it. Messages stay generic: thresholds,
// pattern names and remaining-attempt internals never leave the server.
func WriteDenial(w http.ResponseWriter, d *Decision) {
	switch d.Reason {
	case DenyInputRejected:
		pkghttp.WriteBadRequest(w, "Request rejected")
	case DenyCSRF:
		pkghttp.WriteForbidden(w, "CSRF validation failed")
	case DenyRateLimited:
		pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.", d.RetryAfter)
	case DenyAccountLocked:
		pkghttp.WriteAccountLocked(w, "Too many failed attempts. Please try again later.", d.RetryAfter)
	case DenyIPBlocked:
		pkghttp.WriteIPBlocked(w, "Access denied", d.RetryAfter)
	case DenyStoreUnavailable:
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteForbidden(w, "Access denied")
	}
}
