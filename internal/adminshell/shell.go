// Package adminshell implements the interactive operator console of
// SPEC_FULL.md's supplemented features: a readline REPL over one Instance
// offering get/set/save/restore/factory-reset/watch/info.
//
// It is grounded on the teacher's internal/ui.Chat: a chzyer/readline loop
// dispatching parsed input to handlers, signal-driven shutdown, and a
// history file under a dotdir — generalized from free-form chat intent
// parsing (internal/ui/intent.go) to a fixed, small command grammar since
// an operator console has no need for natural-language intent detection.
package adminshell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/paramhub/paramhub/internal/codec"
	"github.com/paramhub/paramhub/internal/instance"
	"github.com/paramhub/paramhub/internal/ptype"
)

// Shell is the interactive console bound to one Instance.
type Shell struct {
	inst *instance.Instance
	rl   *readline.Instance

	ctx    context.Context
	cancel context.CancelFunc
}

// New opens a readline session over inst. historyFile may be empty to
// disable history persistence.
func New(inst *instance.Instance, historyFile string) (*Shell, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mparamhub>\033[0m ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("adminshell: readline: %w", err)
	}

	return &Shell{inst: inst, rl: rl, ctx: ctx, cancel: cancel}, nil
}

// Run executes the read-eval-print loop until EOF, "exit", or SIGINT/SIGTERM.
func (s *Shell) Run() error {
	defer s.rl.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		s.cancel()
		s.rl.Close()
	}()

	for {
		line, err := s.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := s.dispatch(line); err != nil {
			fmt.Fprintf(s.rl.Stderr(), "error: %v\n", err)
		}
	}
}

func (s *Shell) dispatch(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "get":
		return s.cmdGet(args)
	case "set":
		return s.cmdSet(args)
	case "save":
		return s.inst.Save(s.ctx)
	case "restore":
		return s.inst.Restore(s.ctx)
	case "factory-reset":
		return s.inst.FactoryReset(s.ctx)
	case "watch":
		return s.cmdWatch(args)
	case "info":
		return s.cmdInfo(args)
	case "help":
		s.printHelp()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `commands:
  get <group@name>           print a parameter's current value
  set <group@name> <value>   write a new value (JSON literal)
  save                       copy working database to backup
  restore                    copy backup database to working
  factory-reset              clear the working database to defaults
  watch <group@name>         print every future change to a parameter
  info [group@name]          print descriptor metadata
  exit                       leave the shell`)
}

func (s *Shell) resolve(qn string) (ptype.Descriptor, error) {
	return s.inst.Registry.DescriptorByName(qn)
}

func (s *Shell) cmdGet(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <group@name>")
	}
	d, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	v, err := s.inst.Working.Get(s.ctx, d.ID)
	if err != nil {
		return err
	}
	jv, err := codec.ToJSON(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.rl.Stdout(), "%v\n", jv)
	return nil
}

func (s *Shell) cmdSet(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <group@name> <value>")
	}
	d, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	raw := strings.Join(args[1:], " ")
	jv, err := parseLiteral(raw)
	if err != nil {
		return err
	}
	v, err := codec.FromJSON(d.Kind, jv)
	if err != nil {
		return err
	}
	return s.inst.Set(s.ctx, d.ID, v)
}

func (s *Shell) cmdWatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch <group@name>")
	}
	d, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	out := s.rl.Stdout()
	return s.inst.AddCallback(d.ID, s, func(id int, _ any) {
		v, err := s.inst.Working.Get(s.ctx, id)
		if err != nil {
			fmt.Fprintf(out, "%s: error reading new value: %v\n", d.QualifiedName(), err)
			return
		}
		jv, _ := codec.ToJSON(v)
		fmt.Fprintf(out, "%s changed -> %v\n", d.QualifiedName(), jv)
	})
}

func (s *Shell) cmdInfo(args []string) error {
	out := s.rl.Stdout()
	if len(args) == 1 {
		d, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		printDescriptor(out, d)
		return nil
	}
	for _, d := range s.inst.Registry.All() {
		printDescriptor(out, d)
	}
	return nil
}

func printDescriptor(out io.Writer, d ptype.Descriptor) {
	fmt.Fprintf(out, "%s (%s)%s%s%s%s\n", d.QualifiedName(), d.Kind,
		flagSuffix(d.Flags.IsConst, "const"),
		flagSuffix(d.Flags.ReadOnly, "readonly"),
		flagSuffix(d.Flags.Runtime, "runtime"),
		flagSuffix(d.Flags.Internal, "internal"))
}

func flagSuffix(set bool, name string) string {
	if !set {
		return ""
	}
	return " [" + name + "]"
}

// parseLiteral interprets a bare shell argument as JSON when it parses as
// one (numbers, booleans, quoted strings), falling back to treating it as a
// raw string otherwise — so `set device@serial_number ABC-123` works
// without the operator having to quote every string value.
func parseLiteral(raw string) (any, error) {
	if raw == "true" {
		return true, nil
	}
	if raw == "false" {
		return false, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1], nil
	}
	return raw, nil
}
