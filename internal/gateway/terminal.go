package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// TerminalPrompter は端末でログインの可否を確認するPrompter。
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex
}

var _ Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter はTerminalPrompterを生成する。
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// ConfirmLogin は y/yes の入力でProceedを返す。それ以外や入力の終端はAbandon。
func (p *TerminalPrompter) ConfirmLogin(ctx context.Context, destination string) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil {
		return Abandon
	}
	fmt.Fprintf(p.out, "Sign-in is required to continue to %s. Sign in with Google now? [y/N]: ", destination)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return Abandon
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Proceed
	}
	return Abandon
}

// TerminalNavigator はブラウザで開くURLを端末に表示するNavigator。
type TerminalNavigator struct {
	out io.Writer
}

var _ Navigator = (*TerminalNavigator)(nil)

// NewTerminalNavigator はTerminalNavigatorを生成する。
func NewTerminalNavigator(out io.Writer) *TerminalNavigator {
	return &TerminalNavigator{out: out}
}

// Navigate は遷移先のURLを表示する。
func (n *TerminalNavigator) Navigate(_ context.Context, target string) error {
	_, err := fmt.Fprintf(n.out, "Open this URL in your browser to sign in:\n  %s\n", target)
	return err
}

// ShowLoggedOut はログアウト完了を表示する。
func (n *TerminalNavigator) ShowLoggedOut(context.Context) {
	fmt.Fprintln(n.out, "You have been logged out.")
}
