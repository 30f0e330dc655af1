package controlpanel

import (
	"net/http"
	"strconv"

	"github.com/araddon/dateparse"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const contentNamespace = "content"

func (s *Site) getLogs() (*route, error) {
	r := &route{
		path:    "/logs",
		methods: []string{"GET"},
	}

	type data struct {
		Entries []logger.Entry `json:"entries"`
		Total   int            `json:"total"`
		Page    int            `json:"page"`
		PerPage int            `json:"per_page"`
		Pages   int            `json:"pages"`
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		q := req.URL.Query()

		filter := logger.Filter{
			Email:   q.Get("email"),
			Subject: q.Get("subject"),
			Status:  logger.Status(q.Get("status")),
			Source:  q.Get("source"),
		}
		if len(filter.Status) > 0 && !filter.Status.Valid() {
			return badRequest("unknown status %q", filter.Status)
		}

		page := logger.Page{
			Number:  atoi(q.Get("page"), 1),
			PerPage: atoi(q.Get("per_page"), logger.DefaultPerPage),
		}
		if page.Number < 1 {
			page.Number = 1
		}
		if page.PerPage < 1 || page.PerPage > 500 {
			page.PerPage = logger.DefaultPerPage
		}

		entries, err := s.store.List(req.Context(), filter, page)
		if err != nil {
			return errors.WithMessage(err, "List")
		}

		total, err := s.store.Count(req.Context(), filter)
		if err != nil {
			return errors.WithMessage(err, "Count")
		}

		s.writeJSON(w, http.StatusOK, data{
			Entries: entries,
			Total:   total,
			Page:    page.Number,
			PerPage: page.PerPage,
			Pages:   (total + page.PerPage - 1) / page.PerPage,
		})
		return nil
	}

	return r, nil
}

func (s *Site) getSources() (*route, error) {
	r := &route{
		path:    "/sources",
		methods: []string{"GET"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		sources, err := s.store.Sources(req.Context())
		if err != nil {
			return errors.WithMessage(err, "Sources")
		}
		s.writeJSON(w, http.StatusOK, map[string][]string{"sources": sources})
		return nil
	}

	return r, nil
}

func (s *Site) getLogDetail() (*route, error) {
	r := &route{
		path:    "/logs/:id",
		methods: []string{"GET"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		e, err := s.entry(req, ps)
		if err != nil {
			return err
		}
		s.writeJSON(w, http.StatusOK, e)
		return nil
	}

	return r, nil
}

// getLogContent serves the stored message body as html
func (s *Site) getLogContent() (*route, error) {
	r := &route{
		path:    "/logs/:id/content",
		methods: []string{"GET"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
		if err != nil {
			return notFound()
		}
		key := strconv.FormatInt(id, 10)

		var content string
		if v, ok := s.cacheGet(key); ok {
			content = v
		} else {
			e, err := s.entry(req, ps)
			if err != nil {
				return err
			}
			content = e.HTMLContent
			s.cacheSet(key, content)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; img-src * data:")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
		return nil
	}

	return r, nil
}

func (s *Site) deleteLog() (*route, error) {
	r := &route{
		path:    "/logs/:id",
		methods: []string{"DELETE"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
		if err != nil {
			return notFound()
		}

		n, err := s.deleteIDs(req, []int64{id})
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound()
		}

		s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
		return nil
	}

	return r, nil
}

func (s *Site) postDeleteLogs() (*route, error) {
	r := &route{
		path:    "/logs/delete",
		methods: []string{"POST"},
	}

	type body struct {
		IDs []int64 `json:"ids"`
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		var b body
		if err := s.readJSON(req, &b); err != nil {
			return err
		}
		if len(b.IDs) == 0 {
			errs := newFormErrors()
			errs.Add("ids", "no log entries selected")
			return invalid(errs)
		}

		n, err := s.deleteIDs(req, b.IDs)
		if err != nil {
			return err
		}

		s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
		return nil
	}

	return r, nil
}

// postPurgeLogs deletes everything created before the given time, which
// may be in any common date format
func (s *Site) postPurgeLogs() (*route, error) {
	r := &route{
		path:    "/logs/purge",
		methods: []string{"POST"},
	}

	r.h = func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		before := req.URL.Query().Get("before")
		if len(before) == 0 {
			return badRequest("before is required")
		}

		cutoff, err := dateparse.ParseAny(before)
		if err != nil {
			return badRequest("unable to parse before %q", before)
		}

		n, err := s.store.PurgeByAge(req.Context(), cutoff)
		if err != nil {
			return errors.WithMessage(err, "PurgeByAge")
		}

		s.cacheClear()

		s.log.Info().Time("before", cutoff).Int64("deleted", n).Msg("logs purged")

		s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
		return nil
	}

	return r, nil
}

func (s *Site) entry(req *http.Request, ps httprouter.Params) (*logger.Entry, error) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		return nil, notFound()
	}

	e, err := s.store.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, logger.ErrNotFound) {
			return nil, notFound()
		}
		return nil, errors.WithMessage(err, "Get")
	}
	return e, nil
}

func (s *Site) deleteIDs(req *http.Request, ids []int64) (int64, error) {
	n, err := s.store.DeleteByIDs(req.Context(), ids)
	if err != nil {
		return 0, errors.WithMessage(err, "DeleteByIDs")
	}
	for _, id := range ids {
		s.cacheDel(strconv.FormatInt(id, 10))
	}
	return n, nil
}

func (s *Site) cacheGet(key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	v, ok := s.cache.Get(contentNamespace, key)
	if !ok {
		return "", false
	}
	content, ok := v.(string)
	return content, ok
}

func (s *Site) cacheSet(key, content string) {
	if s.cache == nil {
		return
	}
	s.cache.Set(contentNamespace, key, content, int64(len(content)))
}

func (s *Site) cacheDel(key string) {
	if s.cache == nil {
		return
	}
	s.cache.Del(contentNamespace, key)
}

func (s *Site) cacheClear() {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
}

func atoi(s string, def int) int {
	if len(s) == 0 {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
