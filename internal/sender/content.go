package sender

import (
	"encoding/base64"
	"io/ioutil"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jawr/mxrelay/internal/emailit"
	"golang.org/x/net/html"
)

// stripTags derives a text body from html, dropping script and style
// contents along with every tag
func stripTags(body string) string {
	if len(body) == 0 {
		return ""
	}

	var b strings.Builder
	var skip int

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())

		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}

		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawText(name []byte) bool {
	n := string(name)
	return n == "script" || n == "style"
}

// loadAttachments encodes every attachment it can read. Files that are
// missing or unreadable are skipped.
func (s *Sender) loadAttachments(attachments []Attachment) []emailit.Attachment {
	if len(attachments) == 0 {
		return nil
	}

	loaded := make([]emailit.Attachment, 0, len(attachments))

	for _, a := range attachments {
		content := a.Content
		filename := a.Filename

		if len(a.Path) > 0 {
			b, err := ioutil.ReadFile(a.Path)
			if err != nil {
				s.log.Debug().Err(err).Str("path", a.Path).Msg("skipping attachment")
				continue
			}
			content = b
			if len(filename) == 0 {
				filename = filepath.Base(a.Path)
			}
		}

		if len(content) == 0 && len(a.Path) == 0 {
			continue
		}

		contentType := a.ContentType
		if len(contentType) == 0 {
			contentType = mime.TypeByExtension(filepath.Ext(filename))
		}
		if len(contentType) == 0 {
			contentType = http.DetectContentType(content)
		}

		loaded = append(loaded, emailit.Attachment{
			Filename:    filename,
			Content:     base64.StdEncoding.EncodeToString(content),
			ContentType: contentType,
		})
	}

	return loaded
}
