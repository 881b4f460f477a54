package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/event"
	"github.com/vidurai/vidurai-core/internal/verrors"
)

func TestDecodeFileEdit(t *testing.T) {
	raw := []byte(`{
		"event_id":"evt-1","timestamp":1700000000000,"source":"editor","channel":"human",
		"kind":"file_edit","payload":{"file_path":"src/a.go","change_type":"modified"}
	}`)

	ev, err := event.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, event.KindFileEdit, ev.Kind)

	payload, ok := ev.Payload.(event.FileEditPayload)
	require.True(t, ok)
	assert.Equal(t, "src/a.go", payload.FilePath)
}

func TestDecodeUnknownKindRejected(t *testing.T) {
	raw := []byte(`{
		"event_id":"evt-2","timestamp":1700000000000,"source":"editor","channel":"human",
		"kind":"mystery","payload":{}
	}`)

	_, err := event.Decode(raw)
	require.Error(t, err)

	var bad *verrors.BadEventError
	assert.ErrorAs(t, err, &bad)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	raw := []byte(`{"timestamp":1700000000000,"source":"editor","channel":"human","kind":"focus","payload":{"file_path":"a.go"}}`)

	_, err := event.Decode(raw)
	require.Error(t, err)
}

func TestDecodePayloadShapeMismatch(t *testing.T) {
	raw := []byte(`{
		"event_id":"evt-3","timestamp":1700000000000,"source":"editor","channel":"human",
		"kind":"terminal","payload":{"exit_code":1}
	}`)

	_, err := event.Decode(raw)
	require.Error(t, err)

	var bad *verrors.BadEventError
	assert.ErrorAs(t, err, &bad)
}
