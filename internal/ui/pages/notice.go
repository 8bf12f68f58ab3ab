// Пакет pages — HTML-страницы для браузера, открывшего публичную ссылку.
package pages

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// NoticeKind — вид страницы-уведомления.
type NoticeKind string

const (
	NoticeNotFound    NoticeKind = "not_found"
	NoticeExpired     NoticeKind = "expired"
	NoticeUnavailable NoticeKind = "unavailable"
)

// NoticeData — данные страницы-уведомления.
type NoticeData struct {
	Kind NoticeKind
	// ExpiredAt — момент истечения (только для NoticeExpired)
	ExpiredAt time.Time
}

func (d NoticeData) text() (title, body string) {
	switch d.Kind {
	case NoticeExpired:
		body = "This link has expired. Files are available for 24 hours after upload."
		if !d.ExpiredAt.IsZero() {
			body = fmt.Sprintf("This link expired on %s. Files are available for 24 hours after upload.",
				d.ExpiredAt.UTC().Format(time.RFC1123))
		}
		return "Link expired", body
	case NoticeUnavailable:
		return "File unavailable", "The file cannot be downloaded right now. Please try again later."
	default:
		return "File not found", "The link is invalid or the file does not exist."
	}
}

// LinkNotice — страница, которую получает браузер вместо JSON-ошибки.
func LinkNotice(d NoticeData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		title, body := d.text()
		_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>%s</title>
</head>
<body style="font-family: Arial, sans-serif; color: #222; max-width: 480px; margin: 64px auto; text-align: center;">
  <h1>%s</h1>
  <p>%s</p>
</body>
</html>
`,
			templ.EscapeString(title),
			templ.EscapeString(title),
			templ.EscapeString(body),
		)
		return err
	})
}
