package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/collabgraph/gitminer/internal/core/ports/driven"
	"github.com/collabgraph/gitminer/internal/logger"
)

// MaxNumberedTokens caps the GITHUB_TOKEN_n environment scan.
const MaxNumberedTokens = 20

// TokenSource loads credential secrets from the environment and an
// optional tokens file (one token per line, # comments allowed).
// Environment tokens come first so their pool IDs stay stable.
type TokenSource struct {
	tokensFile string
}

var _ driven.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a token source. tokensFile may be empty to
// load from the environment only.
func NewTokenSource(tokensFile string) *TokenSource {
	return &TokenSource{tokensFile: tokensFile}
}

// Tokens returns the ordered, de-duplicated credential list: numbered
// GITHUB_TOKEN_1..n variables, then plain GITHUB_TOKEN, then the
// tokens file.
func (t *TokenSource) Tokens(_ context.Context) ([]string, error) {
	var tokens []string
	seen := make(map[string]struct{})

	add := func(token string) {
		token = strings.TrimSpace(token)
		if token == "" {
			return
		}
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	for i := 1; i <= MaxNumberedTokens; i++ {
		add(os.Getenv(fmt.Sprintf("GITHUB_TOKEN_%d", i)))
	}
	add(os.Getenv("GITHUB_TOKEN"))

	if t.tokensFile != "" {
		fileTokens, err := readTokensFile(t.tokensFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, token := range fileTokens {
			add(token)
		}
	}

	return tokens, nil
}

// Append adds a token to the tokens file, creating it if needed.
func (t *TokenSource) Append(token string) error {
	if t.tokensFile == "" {
		return errors.New("no tokens file configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}

	if err := os.MkdirAll(filepath.Dir(t.tokensFile), 0700); err != nil {
		return fmt.Errorf("creating tokens directory: %w", err)
	}

	f, err := os.OpenFile(t.tokensFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening tokens file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

func readTokensFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tokens file: %w", err)
	}
	return tokens, nil
}

// Watch monitors the tokens file and invokes onChange with the full
// reloaded token list whenever it is written. This lets an operator
// add a credential to a multi-hour run without restarting it.
// Watch returns immediately; the watcher stops when ctx is cancelled.
func (t *TokenSource) Watch(ctx context.Context, onChange func([]string)) error {
	if t.tokensFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	// Watch the directory: editors replace files, which drops a watch
	// on the file itself.
	dir := filepath.Dir(t.tokensFile)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != t.tokensFile {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				tokens, err := t.Tokens(ctx)
				if err != nil {
					logger.Warn("reloading tokens: %v", err)
					continue
				}
				onChange(tokens)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("tokens watcher: %v", err)
			}
		}
	}()

	return nil
}
