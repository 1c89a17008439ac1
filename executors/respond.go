package executors

import (
	"context"

	"convoflow/runtime"
)

// RespondConfig is the typed config of a "respond" state. Text arrives
// interpolated; Elements are optional interactive attachments (quick
// replies, cards) passed through to the channel adapter untouched.
type RespondConfig struct {
	Text     string                 `json:"text" validate:"required"`
	Elements []runtime.ReplyElement `json:"elements"`
}

// RespondExecutor renders the user-facing reply for the current turn.
// Whether the flow pauses afterwards is the state's call (awaitInput), not
// the executor's: a final respond state completes the run instead.
type RespondExecutor struct{}

var _ runtime.Executor = (*RespondExecutor)(nil)

func NewRespondExecutor() *RespondExecutor {
	return &RespondExecutor{}
}

func (e *RespondExecutor) Execute(_ context.Context, config map[string]any, _ *runtime.Context) (runtime.Result, error) {
	var cfg RespondConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return runtime.Result{}, err
	}

	return runtime.Result{
		Reply: &runtime.Reply{
			Text:     cfg.Text,
			Elements: cfg.Elements,
		},
		Updates: map[string]any{"text": cfg.Text},
	}, nil
}
