package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// formatEvent renders one channel event as a single line for listen.
func formatEvent(ev model.Event) string {
	var b strings.Builder
	if !ev.SentAt.IsZero() {
		b.WriteString(ui.RenderMuted(ev.SentAt.Local().Format(time.TimeOnly)))
		b.WriteByte(' ')
	}
	if ev.Sequence > 0 {
		b.WriteString(ui.RenderMuted(fmt.Sprintf("#%d ", ev.Sequence)))
	}
	b.WriteString(ui.RenderAccent(string(ev.Type)))

	switch ev.Type {
	case model.EventMessage:
		var p model.MessagePayload
		if json.Unmarshal(ev.Payload, &p) == nil && p.Message != nil {
			fmt.Fprintf(&b, " %s: %s", p.Message.SenderID, p.Message.Body)
			return b.String()
		}
	case model.EventError:
		var p model.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			b.WriteString(" " + ui.RenderError(p.Message))
			return b.String()
		}
	}
	if ev.TriggeredBy != nil {
		b.WriteString(" by " + ev.TriggeredBy.UserID)
	}
	if len(ev.Payload) > 0 && string(ev.Payload) != "null" {
		b.WriteString(" " + string(ev.Payload))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
