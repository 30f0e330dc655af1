package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jawr/mxrelay/internal/address"
	"github.com/jawr/mxrelay/internal/headers"
	"github.com/jawr/mxrelay/internal/logger"
	"github.com/jawr/mxrelay/internal/sender"
	"github.com/jawr/mxrelay/internal/transactional"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	to          []string
	cc          []string
	bcc         []string
	subject     string
	html        string
	text        string
	from        string
	headers     []string
	attachments []string
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Queue a message and deliver it straight away",
	RunE:  runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringSliceVar(&sendFlags.to, "to", nil, "recipient, repeatable")
	f.StringSliceVar(&sendFlags.cc, "cc", nil, "cc recipient, repeatable")
	f.StringSliceVar(&sendFlags.bcc, "bcc", nil, "bcc recipient, repeatable")
	f.StringVar(&sendFlags.subject, "subject", "", "subject")
	f.StringVar(&sendFlags.html, "html", "", "html body")
	f.StringVar(&sendFlags.text, "text", "", "plain text body")
	f.StringVar(&sendFlags.from, "from", "", "from override, used when its domain is verified")
	f.StringArrayVar(&sendFlags.headers, "header", nil, "extra header as 'Name: value', repeatable")
	f.StringArrayVar(&sendFlags.attachments, "attach", nil, "file to attach, repeatable")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if len(sendFlags.to) == 0 || len(sendFlags.subject) == 0 {
		return errors.New("--to and --subject are required")
	}

	// the message is delivered by this process so a persistent queue
	// would only hold it for another runner
	cfg.Scheduler.Path = ""

	ctx := context.Background()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	a.refresh(ctx)

	msg := transactional.Message{
		To:      sendFlags.to,
		Cc:      sendFlags.cc,
		Bcc:     sendFlags.bcc,
		Subject: sendFlags.subject,
		HTML:    sendFlags.html,
		Text:    sendFlags.text,
		Headers: headers.Lines(sendFlags.headers...),
	}
	if len(sendFlags.from) > 0 {
		from := address.Parse(sendFlags.from)
		msg.FromOverride = &from
	}
	for _, path := range sendFlags.attachments {
		msg.Attachments = append(msg.Attachments, sender.Attachment{Path: path})
	}

	logID, ok := a.mailer.Queue(ctx, msg)
	if !ok {
		return errors.New("unable to queue message")
	}
	if logID == 0 {
		return errors.New("no log entry recorded")
	}

	if _, err := a.sched.RunDue(ctx, time.Now().Add(cfg.Scheduler.SendDelay)); err != nil {
		return errors.WithMessage(err, "RunDue")
	}

	entry, err := a.store.Get(ctx, logID)
	if err != nil {
		return errors.WithMessage(err, "Get")
	}

	if entry.Status != logger.StatusSent {
		return errors.Errorf("send failed: %s", entry.ErrorMessage.String)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent (log %d, message %s)\n", entry.ID, entry.ProviderMessageID.String)

	return nil
}
