package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
	"github.com/ChamsBouzaiene/ada/internal/session"
)

const loadingMessage = "Asking your question! This will take a minute..."

var (
	kindColors = map[document.Kind]*color.Color{
		document.KindWebArticle:    color.New(color.FgBlue),
		document.KindImage:         color.New(color.FgGreen),
		document.KindResearchPaper: color.New(color.FgRed),
		document.KindUnknown:       color.New(color.FgHiBlack),
	}
	headerColor = color.New(color.Bold)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

type repl struct {
	env *runtimeEnv
	in  *bufio.Scanner
	out io.Writer
}

func newREPL(env *runtimeEnv, in io.Reader, out io.Writer) *repl {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &repl{env: env, in: s, out: out}
}

func (r *repl) Run(ctx context.Context) error {
	provider, model := r.env.Describe()
	fmt.Fprintf(r.out, "Ask a question, or /help for commands. (answers from %s, %s)\n", provider, model)

	for {
		fmt.Fprint(r.out, "you> ")
		if !r.in.Scan() {
			break
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				errorColor.Fprintf(r.out, "%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.ask(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
	return r.in.Err()
}

func (r *repl) ask(ctx context.Context, text string) {
	dimColor.Fprintln(r.out, loadingMessage)
	res, err := r.env.store.Submit(ctx, text)
	switch {
	case errors.Is(err, session.ErrSuperseded):
		return
	case err != nil:
		errorColor.Fprintf(r.out, "%v (%s)\n", err, answer.KindOf(err))
		return
	case res.Outcome != session.OutcomeAnswered:
		return
	}
	r.render(res.Question)
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	store := r.env.store

	switch name {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, `Commands:
  /history        list answered questions
  /select N       show question N again
  /refs [S]       list all references, or those cited by section S
  /search TEXT    search answered questions
  /show /hide     show or hide the references panel
  /reload         re-read the configuration
  /quit           leave`)

	case "/history":
		snap := store.Snapshot()
		if len(snap.History) == 0 {
			fmt.Fprintln(r.out, "No questions yet.")
			break
		}
		for _, q := range snap.History {
			marker := " "
			if q.ID == snap.ActiveID {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %3d  %s\n", marker, q.ID, q.Text)
		}

	case "/select":
		if len(args) != 1 {
			return false, errors.New("usage: /select N")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("not a question number: %s", args[0])
		}
		if !store.Select(id) {
			return false, fmt.Errorf("no question with id %d", id)
		}
		q, _ := store.Active()
		r.render(q)

	case "/refs":
		doc, ok := store.ActiveDocument()
		if !ok {
			return false, errors.New("no question is active")
		}
		if len(args) == 0 {
			if len(doc.References) == 0 {
				fmt.Fprintln(r.out, "No references used")
			}
			r.renderRefs(doc.References)
			break
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("not a section number: %s", args[0])
		}
		refs, err := document.ResolveAt(doc, i)
		if err != nil {
			return false, err
		}
		r.renderRefs(refs)

	case "/search":
		if len(args) == 0 {
			return false, errors.New("usage: /search TEXT")
		}
		found, err := store.Search(strings.Join(args, " "), 10)
		if err != nil {
			return false, err
		}
		if len(found) == 0 {
			fmt.Fprintln(r.out, "No matches.")
		}
		for _, q := range found {
			fmt.Fprintf(r.out, "  %3d  %s\n", q.ID, q.Text)
		}

	case "/show":
		r.env.panel.Show()
		if doc, ok := store.ActiveDocument(); ok {
			r.renderPanel(doc)
		}

	case "/hide":
		r.env.panel.Hide()

	case "/reload":
		provider, model, err := r.env.Reload(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Now answering from %s, %s\n", provider, model)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) render(q session.Question) {
	doc := q.Document
	fmt.Fprintln(r.out)
	for i, sec := range doc.Sections {
		if sec.Header != "" {
			headerColor.Fprintf(r.out, "%s\n", sec.Header)
		}
		if sec.HasImage() {
			fmt.Fprintf(r.out, "[image: %s]\n", sec.Image)
		}
		fmt.Fprintln(r.out, sec.Body)
		refs, err := document.ResolveAt(doc, i)
		if err == nil && len(refs) > 0 {
			r.renderRefs(refs)
		}
		fmt.Fprintln(r.out)
	}
	if r.env.panel.Visible() {
		r.renderPanel(doc)
	}
}

func (r *repl) renderRefs(refs []document.Reference) {
	for n, ref := range refs {
		c := kindColors[ref.Kind]
		c.Fprintf(r.out, "  [%d] %s (%s) %s\n", n+1, ref.Name, ref.Kind, ref.Link)
	}
}

// renderPanel lists the sources the answer actually cites.
func (r *repl) renderPanel(doc *document.Document) {
	headerColor.Fprintln(r.out, "References")
	cited := doc.Cited()
	if len(cited) == 0 {
		fmt.Fprintln(r.out, "No references used")
		return
	}
	r.renderRefs(cited)
}
