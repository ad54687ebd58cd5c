package voice

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"
)

// CommandSpeaker shells out to a platform text-to-speech binary per
// utterance ("say" on macOS, "espeak" elsewhere). Each call is a fresh
// process, so there is no engine state to corrupt across utterances.
type CommandSpeaker struct {
	binary string
	args   []string
}

func NewCommandSpeaker(binary string, args ...string) (*CommandSpeaker, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tts binary %q not found: %w", binary, err)
	}
	return &CommandSpeaker{binary: path, args: args}, nil
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.binary, append(s.args[:len(s.args):len(s.args)], text)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tts command failed: %w", err)
	}
	return nil
}

// DefaultTTSBinary picks the conventional speech command for the platform.
func DefaultTTSBinary() string {
	if runtime.GOOS == "darwin" {
		return "say"
	}
	return "espeak"
}

// NewPlatformFactory returns a SpeakerFactory for the configured binary,
// falling back to a logging no-op speaker when the binary is absent so a
// missing TTS install never takes the service down.
func NewPlatformFactory(binary string, logger *zap.Logger) SpeakerFactory {
	return func() (Speaker, error) {
		speaker, err := NewCommandSpeaker(binary)
		if err != nil {
			logger.Warn("falling back to silent speaker", zap.Error(err))
			return noopSpeaker{logger: logger}, nil
		}
		return speaker, nil
	}
}

type noopSpeaker struct {
	logger *zap.Logger
}

func (n noopSpeaker) Speak(_ context.Context, text string) error {
	n.logger.Debug("voice disabled, would say", zap.String("text", text))
	return nil
}
