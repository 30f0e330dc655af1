package controlpanel

import (
	"net/http"

	"github.com/jawr/mxrelay/internal/logger"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

func (s *Site) getPutRetention() (*route, error) {
	r := &route{
		path:    "/retention",
		methods: []string{"GET", "PUT"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		if req.Method == "GET" {
			s.writeJSON(w, http.StatusOK, s.sweeper.Policy())
			return nil
		}

		// unset fields keep their current value
		policy := s.sweeper.Policy()
		if err := s.readJSON(req, &policy); err != nil {
			return err
		}

		policy = s.sweeper.SetPolicy(policy)

		s.log.Info().
			Str("mode", string(policy.Mode)).
			Int("days", policy.Days).
			Int("count", policy.Count).
			Msg("retention updated")

		s.writeJSON(w, http.StatusOK, policy)
		return nil
	}

	return r, nil
}

func (s *Site) postRetentionSweep() (*route, error) {
	r := &route{
		path:    "/retention/sweep",
		methods: []string{"POST"},
	}

	type data struct {
		Deleted int64                  `json:"deleted"`
		Policy  logger.RetentionPolicy `json:"policy"`
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		n, err := s.sweeper.Sweep(req.Context())
		if err != nil {
			return errors.WithMessage(err, "Sweep")
		}

		s.cacheClear()

		s.writeJSON(w, http.StatusOK, data{Deleted: n, Policy: s.sweeper.Policy()})
		return nil
	}

	return r, nil
}
