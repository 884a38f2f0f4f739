package stage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Confirmer decides whether execution proceeds past a checkpoint. It
// returns false to abort the run.
type Confirmer func(ctx context.Context, waveIndex int, stages []string) (bool, error)

// AutoConfirm always proceeds.
func AutoConfirm(ctx context.Context, waveIndex int, stages []string) (bool, error) {
	return true, nil
}

// TerminalConfirmer prompts on the controlling terminal with a timeout.
// A non-TTY stdin auto-confirms: there is nobody to ask.
func TerminalConfirmer(timeout time.Duration) Confirmer {
	return func(ctx context.Context, waveIndex int, stages []string) (bool, error) {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return true, nil
		}
		if timeout <= 0 {
			timeout = 60 * time.Second
		}

		fmt.Fprintf(os.Stderr, "Continue with stage(s) %s? [Y/n] (auto-continue in %s) ",
			strings.Join(stages, ", "), timeout)

		answers := make(chan string, 1)
		go func() {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				answers <- ""
				return
			}
			answers <- strings.ToLower(strings.TrimSpace(line))
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(timeout):
			fmt.Fprintln(os.Stderr, "\ntimed out, continuing")
			return true, nil
		case answer := <-answers:
			return answer != "n" && answer != "no", nil
		}
	}
}
