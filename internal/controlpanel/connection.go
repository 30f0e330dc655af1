package controlpanel

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type connectionStatus struct {
	Active    bool     `json:"active"`
	Domains   []string `json:"domains"`
	FromEmail string   `json:"from_email"`
	FromName  string   `json:"from_name,omitempty"`
	HasAPIKey bool     `json:"has_api_key"`
	Error     string   `json:"error,omitempty"`
}

func (s *Site) connectionStatus() connectionStatus {
	settings := s.state.Settings()
	return connectionStatus{
		Active:    s.state.Active(),
		Domains:   s.state.Domains(),
		FromEmail: settings.FromEmail(),
		FromName:  settings.FromName,
		HasAPIKey: len(settings.APIKey) > 0,
	}
}

func (s *Site) getConnection() (*route, error) {
	r := &route{
		path:    "/connection",
		methods: []string{"GET"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		s.writeJSON(w, http.StatusOK, s.connectionStatus())
		return nil
	}

	return r, nil
}

// postConnectionTest reruns the connectivity test and refreshes the
// sending domains
func (s *Site) postConnectionTest() (*route, error) {
	r := &route{
		path:    "/connection/test",
		methods: []string{"POST"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		if s.lister == nil {
			return badRequest("no API client configured")
		}

		err := s.state.Refresh(req.Context(), s.lister)

		status := s.connectionStatus()
		if err != nil {
			s.log.Warn().Err(err).Msg("connection test failed")
			status.Error = err.Error()
		}

		s.writeJSON(w, http.StatusOK, status)
		return nil
	}

	return r, nil
}
