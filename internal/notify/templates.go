package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// ShareSubject — тема письма с переданным файлом.
const ShareSubject = "You've received a file!"

// ShareData — данные письма о переданном файле.
type ShareData struct {
	// SenderEmail — email владельца (может быть пустым)
	SenderEmail string
	DisplayName string
	ExpiresAt   time.Time
	// Link — адрес скачивания для адресата
	Link string
}

// ShareEmail — HTML-тело письма. Все подставляемые значения экранируются.
func ShareEmail(d ShareData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		from := "Someone"
		if d.SenderEmail != "" {
			from = d.SenderEmail
		}
		_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>You've received a file</h2>
  <p>%s shared a file with you.</p>
  <p><strong>File:</strong> %s</p>
  <p><strong>Expires:</strong> %s</p>
  <p><a href="%s">Download file</a></p>
  <p style="color: #888; font-size: 12px;">This link will expire in 24 hours.</p>
</body>
</html>
`,
			templ.EscapeString(from),
			templ.EscapeString(d.DisplayName),
			templ.EscapeString(d.ExpiresAt.UTC().Format(time.RFC1123)),
			templ.EscapeString(d.Link),
		)
		return err
	})
}

// RenderShare формирует письмо адресату.
func RenderShare(ctx context.Context, to string, d ShareData) (Message, error) {
	var buf bytes.Buffer
	if err := ShareEmail(d).Render(ctx, &buf); err != nil {
		return Message{}, fmt.Errorf("ошибка рендеринга письма: %w", err)
	}
	return Message{To: to, Subject: ShareSubject, HTMLBody: buf.String()}, nil
}
