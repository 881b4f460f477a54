package classifier_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vidurai/vidurai-core/internal/classifier"
	"github.com/vidurai/vidurai-core/internal/event"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

func TestClassifyNonZeroExitIsHigh(t *testing.T) {
	c := classifier.New(nil)

	in := classifier.Input{
		Event: event.Event{
			Kind:    event.KindTerminal,
			Payload: event.TerminalPayload{Command: "go test ./...", ExitCode: 1},
		},
	}

	res := c.Classify(context.Background(), in)
	assert.Equal(t, model.SalienceHigh, res.Salience)
	assert.Contains(t, res.Gist, "failed")
}

func TestClassifyErrorsAreNotCriticalByDefault(t *testing.T) {
	c := classifier.New(nil)

	in := classifier.Input{
		Event: event.Event{
			Kind: event.KindDiagnostic,
			Payload: event.DiagnosticPayload{
				Severity: "error", Message: "TS2304", FilePath: "src/auth.ts", Line: 42,
			},
		},
		FocusFile: "src/other.ts",
	}

	res := c.Classify(context.Background(), in)
	assert.NotEqual(t, model.SalienceCritical, res.Salience)
}

func TestClassifyFocusedErrorIsHigh(t *testing.T) {
	c := classifier.New(nil)

	in := classifier.Input{
		Event: event.Event{
			Kind: event.KindDiagnostic,
			Payload: event.DiagnosticPayload{
				Severity: "error", Message: "boom", FilePath: "src/auth.ts", Line: 42,
			},
		},
		FocusFile: "src/auth.ts",
	}

	res := c.Classify(context.Background(), in)
	assert.Equal(t, model.SalienceHigh, res.Salience)
}

func TestClassifyRepetitionDemotesNotPromotes(t *testing.T) {
	c := classifier.New(nil)

	in := classifier.Input{
		Event: event.Event{
			Kind:    event.KindTerminal,
			Payload: event.TerminalPayload{Command: "flaky-test", ExitCode: 1},
		},
		RepeatCount: 60,
		HighRepeatN: 50,
	}

	res := c.Classify(context.Background(), in)
	assert.Equal(t, model.SalienceNoise, res.Salience)
}

func TestClassifyPinAnnotationIsCritical(t *testing.T) {
	c := classifier.New(nil)

	in := classifier.Input{
		Event: event.Event{
			Kind:    event.KindMemoryOp,
			Payload: event.MemoryOpPayload{Op: "pin", FilePath: "src/auth.ts"},
		},
	}

	res := c.Classify(context.Background(), in)
	assert.Equal(t, model.SalienceCritical, res.Salience)
}

func TestDeadlineGistFallsBackOnTimeout(t *testing.T) {
	slow := slowBackend{delay: true}
	g := classifier.DeadlineGist{Backend: slow, Deadline: 1}

	ev := event.Event{Kind: event.KindFocus, Payload: event.FocusPayload{FilePath: "a.go"}}
	gist := g.Gist(context.Background(), ev)

	assert.Equal(t, "Focused a.go", gist)
}

type slowBackend struct{ delay bool }

func (s slowBackend) Summarize(ctx context.Context, ev event.Event) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
