// internal/notification/gateway/composer.go
package gateway

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/net/html"

	"memotag-notifier/internal/models"
)

const subjectPrefix = "🔔 新規メッセージ通知: "

var bodyTemplate = template.Must(template.New("new-message").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.6;">
<h2>新しいメッセージが投稿されました</h2>
<table>
<tr><td><strong>アイテム</strong></td><td>{{.ItemName}} ({{.ItemID}})</td></tr>
<tr><td><strong>投稿者</strong></td><td>{{.Author}}</td></tr>
<tr><td><strong>日時</strong></td><td>{{.PostedAt}}</td></tr>
</table>
<p style="white-space: pre-wrap; padding: 12px; background: #f5f5f5;">{{.Body}}</p>
<p><a href="{{.BoardLink}}">掲示板を開く</a></p>
</body>
</html>
`))

type bodyData struct {
	ItemName  string
	ItemID    string
	Author    string
	PostedAt  string
	Body      string
	BoardLink string
}

// Composer renders the notification subject and HTML body for a message.
type Composer struct {
	boardURL string
	loc      *time.Location
	now      func() time.Time
}

// NewComposer links to <boardURL>/memo/<item id> and formats times in loc.
func NewComposer(boardURL string, loc *time.Location) *Composer {
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{
		boardURL: strings.TrimRight(boardURL, "/"),
		loc:      loc,
		now:      time.Now,
	}
}

// Compose renders the subject and body.
func (c *Composer) Compose(item *models.Item, msg models.Message) (string, string, error) {
	name := item.Name
	if name == "" {
		name = item.ItemID
	}

	postedAt := msg.CreatedAt
	if postedAt.IsZero() {
		postedAt = c.now()
	}

	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, bodyData{
		ItemName:  name,
		ItemID:    item.ItemID,
		Author:    models.NormalizeAuthor(msg.Author),
		PostedAt:  postedAt.In(c.loc).Format("2006年01月02日 15:04"),
		Body:      msg.Body,
		BoardLink: c.BoardLink(item.ItemID),
	})
	if err != nil {
		return "", "", fmt.Errorf("render notification body: %w", err)
	}

	return subjectPrefix + name, buf.String(), nil
}

// BoardLink returns the public board URL for an item.
func (c *Composer) BoardLink(itemID string) string {
	return c.boardURL + "/memo/" + itemID
}

// PlainText extracts the visible text of an HTML body, one line per block.
func PlainText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var lines []string
	var current strings.Builder
	flush := func() {
		if line := strings.TrimSpace(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way keep what was read.
			flush()
			return strings.Join(lines, "\n")
		case html.TextToken:
			current.WriteString(string(z.Text()))
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "br", "tr", "h1", "h2", "h3", "div", "li":
				flush()
			case "td":
				if tt == html.StartTagToken && current.Len() > 0 {
					current.WriteString(" ")
				}
			}
		}
	}
}
