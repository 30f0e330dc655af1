package sender

import (
	"context"
	"fmt"

	"github.com/jawr/mxrelay/internal/account"
	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/emailit"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/metrics"
	"golang.org/x/net/html"
)

// Dispatch resolves, validates and delivers a request, then records the
// outcome against its log row. It never returns an error; every failure
// is reported through the Result.
func (s *Sender) Dispatch(ctx context.Context, req Request) Result {
	logID := req.LogID
	to := address.Normalize(req.To)

	if logID == 0 {
		id, ok, err := s.store.FindPendingByFingerprint(ctx, req.Subject, logger.SerializeRecipients(to))
		if err != nil {
			s.log.Debug().Err(err).Msg("fingerprint lookup")
		}
		if ok {
			logID = id
		}
	}

	settings := s.state.Settings()
	forceError := req.Header.ForceError

	from, result := s.resolve(req, settings, forceError)
	if result == nil {
		result = s.deliver(ctx, req, from, to)
	}

	s.reconcile(ctx, logID, *result)
	s.notify(logID, req, from, len(to), *result)

	return *result
}

// resolve runs the checks that happen before any payload is built. A
// non nil Result means the request already failed.
func (s *Sender) resolve(req Request, settings account.Settings, forceError bool) (address.Entry, *Result) {
	if !forceError && !s.state.Active() {
		return address.Entry{}, failed("API connection is not active")
	}

	if len(settings.APIKey) == 0 {
		return address.Entry{}, failed("API key not configured")
	}

	from := s.resolveFrom(req, settings, forceError)

	if !forceError && !s.state.IsValidSendingDomain(from.Email) {
		return from, failed(fmt.Sprintf("Invalid sending domain: %s", from.Email))
	}

	return from, nil
}

func (s *Sender) resolveFrom(req Request, settings account.Settings, forceError bool) address.Entry {
	name := func(n string) string {
		if len(n) > 0 {
			return n
		}
		return settings.FromName
	}

	switch {
	case forceError:
		return address.Entry{Email: ForceErrorFrom, Name: name(req.Header.FromName)}

	case req.FromOverride != nil && s.state.IsValidSendingDomain(req.FromOverride.Email):
		return address.Entry{Email: req.FromOverride.Email, Name: name(req.FromOverride.Name)}

	case req.Header.HasFrom() && s.state.IsValidSendingDomain(req.Header.FromEmail):
		return address.Entry{Email: req.Header.FromEmail, Name: name(req.Header.FromName)}
	}

	return address.Entry{Email: settings.FromEmail(), Name: settings.FromName}
}

func (s *Sender) deliver(ctx context.Context, req Request, from address.Entry, to []string) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("dispatch panic")
			result = failed(fmt.Sprint(r))
		}
	}()

	payload := s.payload(req, from)

	if len(to) == 0 {
		return failed("No valid recipients found")
	}

	result = &Result{Success: true}

	for idx, recipient := range to {
		email := payload
		email.To = []string{recipient}

		// cc and bcc ride along with the first recipient only
		if idx > 0 {
			email.Cc = nil
			email.Bcc = nil
		}

		resp, err := s.transport.SendEmail(ctx, email)
		if err != nil {
			s.log.Debug().Err(err).Str("to", recipient).Msg("transport failure")
			return &Result{
				Success:      false,
				ErrorMessage: err.Error(),
				MessageIDs:   result.MessageIDs,
			}
		}

		if id := emailit.MessageID(resp); len(id) > 0 {
			result.MessageIDs = append(result.MessageIDs, id)
		}
	}

	return result
}

func (s *Sender) payload(req Request, from address.Entry) emailit.Email {
	replyTo := from.Email
	if len(req.Header.ReplyTo) > 0 {
		replyTo = req.Header.ReplyTo
	}

	text := req.Text
	if len(text) == 0 {
		text = stripTags(req.HTML)
	}

	return emailit.Email{
		From:        from.String(),
		Cc:          address.Normalize(req.Cc),
		Bcc:         address.Normalize(req.Bcc),
		ReplyTo:     replyTo,
		Subject:     html.UnescapeString(req.Subject),
		HTML:        req.HTML,
		Text:        text,
		Headers:     req.Header.Map(),
		Attachments: s.loadAttachments(req.Attachments),
	}
}

func (s *Sender) reconcile(ctx context.Context, logID int64, result Result) {
	if logID == 0 {
		return
	}

	var err error
	if result.Success {
		err = s.store.UpdateStatus(ctx, logID, logger.StatusSent, "", logger.Extra{ProviderMessageID: result.MessageID()})
	} else {
		err = s.store.UpdateStatus(ctx, logID, logger.StatusFailed, result.ErrorMessage, logger.Extra{ProviderMessageID: result.MessageID()})
	}
	if err != nil {
		s.log.Error().Err(err).Int64("log_id", logID).Msg("log status update")
	}
}

func (s *Sender) notify(logID int64, req Request, from address.Entry, recipients int, result Result) {
	var m metrics.Typed
	if result.Success {
		m = metrics.NewDispatchSent(logID, from.Email, req.Header.Source, recipients, result.MessageIDs)
	} else {
		m = metrics.NewDispatchFailed(logID, from.Email, req.Header.Source, result.ErrorMessage, recipients)
	}

	if err := s.notifier.Publish(m); err != nil {
		s.log.Warn().Err(err).Msg("publish metric")
	}
}

func failed(msg string) *Result {
	return &Result{Success: false, ErrorMessage: msg}
}
