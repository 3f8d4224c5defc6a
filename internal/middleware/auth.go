package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	// UserKey holds the authenticated principal (the demo email).
	UserKey contextKey = "user"
)

// Credentials for the single demo account.
type Credentials struct {
	Email    string
	Password string
	Token    string
}

// BearerAuth validates the bearer token from the Authorization header.
func BearerAuth(creds Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				writeDetail(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}
			if !TokenValid(creds.Token, token) {
				writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}
			ctx := context.WithValue(r.Context(), UserKey, creds.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenValid compares in constant time. An empty expected token never matches.
func TokenValid(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Support both "Bearer <token>" and "<token>" formats
func bearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// UserFromContext returns the principal set by BearerAuth.
func UserFromContext(ctx context.Context) string {
	if u, ok := ctx.Value(UserKey).(string); ok {
		return u
	}
	return ""
}

// LoginHandler exchanges the demo credentials for the bearer token. It accepts
// a form body (username, password) or JSON ({"email", "password"}).
func LoginHandler(creds Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var email, password string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body struct {
				Email    string `json:"email"`
				Username string `json:"username"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeDetail(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			email, password = body.Email, body.Password
			if email == "" {
				email = body.Username
			}
		} else {
			if err := r.ParseForm(); err != nil {
				writeDetail(w, http.StatusBadRequest, "invalid form body")
				return
			}
			email, password = r.PostForm.Get("username"), r.PostForm.Get("password")
		}

		emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(creds.Email)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(creds.Password)) == 1
		if !emailOK || !passOK {
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": creds.Token,
			"token_type":   "bearer",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
