package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".mudrelay_history"
	historySize     = 500
)

// lineEditor reads console input with readline on a terminal and a plain
// scanner otherwise, and serializes output so server text does not tear the
// prompt.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner

	mu        sync.Mutex
	out       io.Writer
	closeOnce sync.Once
}

func newLineEditor(prompt string) *lineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) || os.Getenv("INSIDE_EMACS") != "" {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin), out: os.Stdout}
	}
	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, historyFileName)
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:                 prompt,
		HistoryFile:            history,
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return &lineEditor{scanner: bufio.NewScanner(os.Stdin), out: os.Stdout}
	}
	return &lineEditor{rl: rl, out: rl}
}

// ReadLine returns the next input line, or io.EOF on end of input or Ctrl-C.
func (le *lineEditor) ReadLine() (string, error) {
	if le.rl == nil {
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}
	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

// Println writes one line of output above the prompt.
func (le *lineEditor) Println(s string) {
	le.mu.Lock()
	defer le.mu.Unlock()
	fmt.Fprintln(le.out, s)
}

// Close releases the terminal. It is safe to call more than once.
func (le *lineEditor) Close() {
	if le.rl == nil {
		return
	}
	le.closeOnce.Do(func() { le.rl.Close() })
}
