package console

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionTokenHeader = "X-Session-Token"

type WriteAuthConfig struct {
	SessionToken   string
	AllowedOrigins []string
}

// GenerateSessionToken returns a random 32 character hex token.
func GenerateSessionToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// RequireWriteAuth guards POST /api/* with a same-origin check and the page's session
// token. Reads pass through.
func RequireWriteAuth(next http.Handler, cfg WriteAuthConfig) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		if apiErr := checkWrite(r, allowed, cfg.SessionToken); apiErr != nil {
			WriteAPIError(w, http.StatusForbidden, *apiErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkWrite(r *http.Request, allowed map[string]struct{}, sessionToken string) *APIError {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "" || origin == "null":
		return &APIError{
			Code:    "ORIGIN_REQUIRED",
			Message: "Origin header is required to run agent actions.",
			Hint:    "Open the ProcessLens console at http://127.0.0.1 and retry from that page.",
		}
	case !hasOrigin(allowed, origin):
		return &APIError{
			Code:    "ORIGIN_NOT_ALLOWED",
			Message: "Origin is not allowed to run agent actions.",
			Hint:    "Use the console page served by this process.",
		}
	}

	token := r.Header.Get(sessionTokenHeader)
	switch {
	case token == "":
		return &APIError{
			Code:    "SESSION_TOKEN_REQUIRED",
			Message: "Session token is required to run agent actions.",
			Hint:    "Reload the console page to receive a session token, then retry.",
		}
	case sessionToken == "" || token != sessionToken:
		return &APIError{
			Code:    "SESSION_TOKEN_INVALID",
			Message: "Session token is invalid.",
			Hint:    "The console was probably restarted. Reload the page and retry.",
		}
	}
	return nil
}

func hasOrigin(allowed map[string]struct{}, origin string) bool {
	_, ok := allowed[origin]
	return ok
}
