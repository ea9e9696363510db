package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"aide/internal/agent/ports"
)

// renderAnswer renders a final answer as markdown when stdout is a
// terminal. Piped output gets the raw text so scripts see exactly what
// the model produced.
func renderAnswer(answer string) string {
	if !stdoutIsTTY() {
		return answer
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(renderWidth()),
		glamour.WithEmoji(),
	)
	if err != nil {
		return answer
	}
	rendered, err := renderer.Render(answer)
	if err != nil {
		return answer
	}
	return strings.TrimRight(rendered, "\n")
}

func renderWidth() int {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 4 {
		width = w - 4
	}
	if width > 120 {
		width = 120
	}
	return width
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%.0fms", d.Seconds()*1000)
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// maskKey hides the middle of an API key, keeping enough of the ends to
// recognize which key is loaded.
func maskKey(key string) string {
	runes := []rune(key)
	if len(runes) < 16 {
		return "****"
	}
	return string(runes[:8]) + "..." + string(runes[len(runes)-8:])
}

func statusPainter(status ports.TaskStatus) func(a ...interface{}) string {
	switch status {
	case ports.TaskCompleted:
		return green
	case ports.TaskFailed:
		return red
	case ports.TaskInterrupted:
		return yellow
	case ports.TaskRunning:
		return cyan
	default:
		return gray
	}
}
