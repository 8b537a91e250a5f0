package console

import (
	"net"
	"net/http"
)

// RedirectToCanonicalHost sends page loads that arrive through a loopback alias
// (localhost, ::1) to hostPort, so the page, its Origin and its session token agree.
// Writes are left to RequireWriteAuth.
func RedirectToCanonicalHost(hostPort string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodGet || r.Method == http.MethodHead) && isLoopbackAlias(r.Host) {
			http.Redirect(w, r, "http://"+hostPort+r.URL.RequestURI(), http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopbackAlias(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return host == "localhost" || host == "::1"
}
