package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Engine recognizes text in one image at a time.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
	Close() error
}

// EngineFactory builds an Engine for a set of languages. It fails when any
// language cannot be loaded.
type EngineFactory func(ctx context.Context, languages []string) (Engine, error)

// tesseractEngine shells out to the tesseract CLI for each image.
type tesseractEngine struct {
	binPath   string
	languages []string
	logger    *slog.Logger
}

// NewTesseractFactory returns a factory backed by the tesseract binary at binPath.
// The factory checks that every requested language is installed before returning.
func NewTesseractFactory(binPath string, logger *slog.Logger) EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if binPath == "" {
		binPath = "tesseract"
	}
	return func(ctx context.Context, languages []string) (Engine, error) {
		if len(languages) == 0 {
			return nil, fmt.Errorf("no languages requested")
		}

		args := []string{binPath, "--list-langs"}
		logger.Debug("ocr: probing languages", "cmd", shellquote.Join(args...))

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("tesseract --list-langs: %w: %s", err, strings.TrimSpace(stderr.String()))
		}

		// Older releases print the list on stderr
		installed := parseLanguageList(stdout.String() + "\n" + stderr.String())
		if missing := missingLanguages(languages, installed); len(missing) > 0 {
			return nil, fmt.Errorf("tesseract languages not installed: %s", strings.Join(missing, ", "))
		}

		return &tesseractEngine{
			binPath:   binPath,
			languages: append([]string(nil), languages...),
			logger:    logger,
		}, nil
	}
}

func (e *tesseractEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{e.binPath, imagePath, "stdout", "-l", strings.Join(e.languages, "+")}
	e.logger.Debug("ocr: running", "cmd", shellquote.Join(args...))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", imagePath, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Close is a no-op: each recognition is its own process.
func (e *tesseractEngine) Close() error {
	return nil
}

// parseLanguageList reads the output of `tesseract --list-langs`, skipping the
// "List of available languages" header.
func parseLanguageList(output string) map[string]bool {
	langs := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		if strings.ContainsAny(line, " :") {
			continue
		}
		langs[line] = true
	}
	return langs
}

func missingLanguages(want []string, installed map[string]bool) []string {
	var missing []string
	for _, l := range want {
		if !installed[l] {
			missing = append(missing, l)
		}
	}
	return missing
}
