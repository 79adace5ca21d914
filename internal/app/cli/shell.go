package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// Shell is the interactive operator console over a session.Pool (spec
// §6 "operator shell"): list/enable/disable/debug/help/quit, built on the readline
// instance Init sets up.
type Shell struct {
	pool *session.Pool
}

func NewShell(pool *session.Pool) *Shell {
	return &Shell{pool: pool}
}

// Run reads commands from Rl() until EOF (Ctrl-D or InterruptReadline) or
// ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	if Rl() == nil {
		return errors.New("cli: shell requires Init to have been called first")
	}
	SetPrompt("tgrelay> ")

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := Rl().Readline()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.dispatch(strings.TrimSpace(line))
	}
}

func (s *Shell) dispatch(line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "list":
		s.cmdList()
	case "enable":
		s.cmdEnable(args)
	case "disable":
		s.cmdDisable(args)
	case "debug":
		s.cmdDebug(args)
	case "help":
		Println("commands: list | enable <name> | disable <name> | debug <name> | help | quit")
	case "quit", "exit":
		InterruptReadline()
	default:
		ErrPrintf("unknown command %q (try 'help')\n", cmd)
	}
}

func (s *Shell) cmdList() {
	names := s.pool.Names()
	if len(names) == 0 {
		Println("no sessions registered")
		return
	}
	for _, name := range names {
		sess, ok := s.pool.Get(name)
		if !ok {
			continue
		}
		Printf("%-20s state=%-13s last_active=%s\n", name, sess.State(), sess.LastActive().Format("15:04:05"))
	}
}

func (s *Shell) cmdEnable(args []string) {
	if len(args) != 1 {
		ErrPrintln("usage: enable <name>")
		return
	}
	if err := s.pool.Enable(model.SessionName(args[0])); err != nil {
		ErrPrintln(fmt.Sprintf("enable failed: %v", err))
		return
	}
	Println("enabled", args[0])
}

// cmdDebug pretty-prints a session's identity and liveness snapshot, for
// diagnosing a stuck or flagged session without reaching for a debugger.
func (s *Shell) cmdDebug(args []string) {
	if len(args) != 1 {
		ErrPrintln("usage: debug <name>")
		return
	}
	sess, ok := s.pool.Get(model.SessionName(args[0]))
	if !ok {
		ErrPrintln(fmt.Sprintf("unknown session %q", args[0]))
		return
	}
	PP(struct {
		Name       model.SessionName
		State      string
		LastActive string
		Identity   transport.Identity
		LastError  error
	}{
		Name:       sess.Name,
		State:      sess.State().String(),
		LastActive: sess.LastActive().Format("2006-01-02 15:04:05"),
		Identity:   sess.Identity(),
		LastError:  sess.LastError(),
	})
}

func (s *Shell) cmdDisable(args []string) {
	if len(args) != 1 {
		ErrPrintln("usage: disable <name>")
		return
	}
	if err := s.pool.Disable(model.SessionName(args[0])); err != nil {
		ErrPrintln(fmt.Sprintf("disable failed: %v", err))
		return
	}
	Println("disabled", args[0])
}
