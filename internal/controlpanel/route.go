package controlpanel

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

type handle func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error

type route struct {
	path    string
	methods []string
	h       handle
}

func (r route) String() string { return fmt.Sprintf("%v %s", r.methods, r.path) }

type routeFn func() (*route, error)

func (s *Site) setupRoutes() error {
	s.router = httprouter.New()

	// every route sits behind basic auth
	routes := []routeFn{
		s.postMail,
		s.postMailBatch,
		s.postMailTest,
		s.getLogs,
		s.getSources,
		s.getLogDetail,
		s.getLogContent,
		s.getLogProvider,
		s.deleteLog,
		s.postDeleteLogs,
		s.postPurgeLogs,
		s.getPutRetention,
		s.postRetentionSweep,
		s.getConnection,
		s.postConnectionTest,
	}

	for idx := range routes {
		r, err := routes[idx]()
		if err != nil {
			return errors.WithMessagef(err, "route %d", idx)
		}

		for _, method := range r.methods {
			s.router.Handle(method, r.path, s.auth(r))
		}
	}

	return nil
}
