package engine

import (
	"path/filepath"
	"time"

	"github.com/vidurai/vidurai-core/internal/event"
)

// content bundles the free-text fields spec.md §4.1-4.4 pull out of an
// Event's payload, ahead of redaction and classification. Event kinds
// without a meaningful "verbatim" (system, hint) still produce one so the
// pipeline has a uniform fingerprinting target.
type content struct {
	Verbatim   string
	FilePath   string
	Language   string
	LineNumber int
}

func extractContent(ev event.Event) content {
	switch p := ev.Payload.(type) {
	case event.FileEditPayload:
		return content{
			Verbatim: p.ChangeType + " " + p.FilePath,
			FilePath: p.FilePath,
			Language: p.Language,
		}
	case event.TerminalPayload:
		return content{Verbatim: p.Command}
	case event.DiagnosticPayload:
		return content{
			Verbatim:   p.Severity + ": " + p.Message,
			FilePath:   p.FilePath,
			LineNumber: p.Line,
		}
	case event.AIMessagePayload:
		return content{Verbatim: p.Role + ": " + p.Content}
	case event.ErrorReportPayload:
		return content{
			Verbatim:   p.Message + "\n" + p.StackTrace,
			FilePath:   p.FilePath,
			LineNumber: p.Line,
		}
	case event.FocusPayload:
		return content{Verbatim: p.Selected, FilePath: p.FilePath, LineNumber: p.Line}
	case event.MemoryOpPayload:
		return content{Verbatim: p.Op + " " + p.Note, FilePath: p.FilePath}
	case event.HintPayload:
		return content{Verbatim: p.Text}
	case event.SystemPayload:
		return content{Verbatim: p.Message}
	default:
		return content{}
	}
}

// languageFromExt guesses a language tag from a file extension for events
// (diagnostics, error reports) whose payload doesn't already carry one.
func languageFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	default:
		return ""
	}
}

func eventTimestamp(ev event.Event) time.Time {
	return time.UnixMilli(ev.Timestamp).UTC()
}
