package controlpanel

import (
	"net/http"
	"strings"

	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/julienschmidt/httprouter"
)

const (
	testSubject = "EmailIt Test Email"
	testSource  = "Test"
)

func (s *Site) postMail() (*route, error) {
	r := &route{
		path:    "/mail",
		methods: []string{"POST"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		var msg transactional.Message
		if err := s.readJSON(req, &msg); err != nil {
			return err
		}

		errs := newFormErrors()
		if len(msg.To) == 0 {
			errs.Add("to", "at least one recipient is required")
		}
		if len(strings.TrimSpace(msg.Subject)) == 0 {
			errs.Add("subject", "subject is required")
		}
		if errs.Error() {
			return invalid(errs)
		}

		queued := s.mailer.Mail(req.Context(), msg)

		status := http.StatusAccepted
		if !queued {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, map[string]bool{"queued": queued})
		return nil
	}

	return r, nil
}

func (s *Site) postMailBatch() (*route, error) {
	r := &route{
		path:    "/mail/batch",
		methods: []string{"POST"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		var b transactional.Batch
		if err := s.readJSON(req, &b); err != nil {
			return err
		}

		errs := newFormErrors()
		if len(b.Recipients) == 0 {
			errs.Add("recipients", "at least one recipient is required")
		}
		if len(strings.TrimSpace(b.Subject)) == 0 {
			errs.Add("subject", "subject is required")
		}
		if errs.Error() {
			return invalid(errs)
		}

		tasks, err := s.mailer.Broadcast(req.Context(), b)
		if err == transactional.ErrNoRecipients {
			errs.Add("recipients", err.Error())
			return invalid(errs)
		}
		if err != nil {
			return err
		}

		s.writeJSON(w, http.StatusAccepted, map[string]int{"tasks": tasks})
		return nil
	}

	return r, nil
}

// postMailTest queues a test email, optionally marked to fail at the
// provider so the failure path shows up in the log
func (s *Site) postMailTest() (*route, error) {
	r := &route{
		path:    "/mail/test",
		methods: []string{"POST"},
	}

	type body struct {
		To         string `json:"to"`
		ForceError bool   `json:"force_error"`
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		var b body
		if err := s.readJSON(req, &b); err != nil {
			return err
		}

		if len(strings.TrimSpace(b.To)) == 0 {
			errs := newFormErrors()
			errs.Add("to", "recipient is required")
			return invalid(errs)
		}

		lines := []string{headers.SourceHeader + ": " + testSource}
		if b.ForceError {
			lines = append(lines, headers.ForceErrorHeader+": "+headers.ForceErrorMarker)
		}

		html := "<p>This is a test email sent through the EmailIt API.</p>"
		if b.ForceError {
			html = "<p>This test email is expected to fail.</p>"
		}

		queued := s.mailer.Mail(req.Context(), transactional.Message{
			To:      []string{b.To},
			Subject: testSubject,
			HTML:    html,
			Headers: headers.Lines(lines...),
		})

		status := http.StatusAccepted
		if !queued {
			status = http.StatusServiceUnavailable
		}
		s.writeJSON(w, status, map[string]bool{"queued": queued})
		return nil
	}

	return r, nil
}
