package controlpanel

import (
	"crypto/subtle"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"
)

const realm = `Basic realm="mxrelay"`

func (s *Site) auth(r *route) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if !s.authorized(req) {
			w.Header().Set("WWW-Authenticate", realm)
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		if err := r.h(w, req, ps); err != nil {
			s.handleError(w, r, err)
			return
		}
	}
}

// authorized fails closed when no credentials are configured
func (s *Site) authorized(req *http.Request) bool {
	if len(s.username) == 0 || len(s.passwordHash) == 0 {
		return false
	}

	username, password, ok := req.BasicAuth()
	if !ok {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return false
	}

	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
}
