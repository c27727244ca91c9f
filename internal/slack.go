package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alphauslabs/nfsgw/internal/flags"
	"github.com/golang/glog"
)

type SlackAttachment struct {
	// Fallback is our simple fallback text equivalent.
	Fallback string `json:"fallback"`

	// Color can be 'good', 'warning', 'danger', or any hex color code.
	Color string `json:"color,omitempty"`

	// Pretext is our text above the attachment section.
	Pretext string `json:"pretext,omitempty"`

	// Title is the notification title.
	Title string `json:"title,omitempty"`

	// TitleLink is the url link attached to the title.
	TitleLink string `json:"title_link,omitempty"`

	// Text is the main text in the attachment.
	Text string `json:"text"`

	// Footer is a brief text to help contextualize and identify an attachment.
	// Limited to 300 characters, and may be truncated further when displayed
	// to users in environments with limited screen real estate.
	Footer string `json:"footer,omitempty"`

	// Timestamp is an integer Unix timestamp that is used to related your attachment to
	// a specific time. The attachment will display the additional timestamp value as part
	// of the attachment's footer.
	Timestamp int64 `json:"ts,omitempty"`
}

type SlackNotify struct {
	Attachments []SlackAttachment `json:"attachments"`
}

func (sn *SlackNotify) SimpleNotify(slackUrl string) error {
	bp, err := json.Marshal(sn)
	if err != nil {
		return err
	}

	hc := http.DefaultClient
	r, err := http.NewRequest(http.MethodPost, slackUrl, bytes.NewBuffer(bp))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(r)
	if err != nil {
		glog.Errorf("http.Do failed: %v", err)
		return err
	}

	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack: status %v", resp.StatusCode)
	}

	return nil
}

// TraceSlack posts payload to our Slack webhook, if configured.
//
// Optional 'args':
// [0] - color: good, warning, danger
// [1] - webhook override
func TraceSlack(payload, title string, args ...string) {
	channel := *flags.Slack
	if len(args) == 2 {
		channel = args[1]
	}

	if channel == "" {
		return
	}

	t := title
	if t == "" {
		t = "nfsgw error"
	}

	color := "danger"
	if len(args) > 0 {
		color = args[0]
	}

	slackPayload := SlackNotify{
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     t,
				Text:      payload,
				Footer:    fmt.Sprintf("nfsgw/%v", *flags.Hostname),
				Timestamp: time.Now().Unix(),
			},
		},
	}

	if err := slackPayload.SimpleNotify(channel); err != nil {
		glog.Errorf("SimpleNotify failed: %v", err)
	}
}
