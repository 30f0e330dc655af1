package controlpanel

import (
	"net/http"
	"strings"

	"github.com/jackc/pgtype"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

// getLogProvider fetches what the email API knows about each message
// recorded against a log entry
func (s *Site) getLogProvider() (*route, error) {
	r := &route{
		path:    "/logs/:id/provider",
		methods: []string{"GET"},
	}

	type data struct {
		ID       int64              `json:"id"`
		Messages []emailit.Response `json:"messages"`
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		if s.provider == nil {
			return badRequest("no API client configured")
		}

		e, err := s.entry(req, ps)
		if err != nil {
			return err
		}

		if e.ProviderMessageID.Status != pgtype.Present || len(e.ProviderMessageID.String) == 0 {
			return &Error{StatusCode: http.StatusNotFound, Message: "no provider message id recorded"}
		}

		out := data{ID: e.ID}
		for _, id := range strings.Split(e.ProviderMessageID.String, ",") {
			id = strings.TrimSpace(id)
			if len(id) == 0 {
				continue
			}

			resp, err := s.provider.GetEmail(req.Context(), id)
			if err != nil {
				var apiErr *emailit.APIError
				if errors.As(err, &apiErr) {
					return &Error{StatusCode: http.StatusBadGateway, Message: apiErr.Error()}
				}
				return errors.WithMessage(err, "GetEmail")
			}
			out.Messages = append(out.Messages, resp)
		}

		s.writeJSON(w, http.StatusOK, out)
		return nil
	}

	return r, nil
}
