package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/picturebook/internal/api"
	"github.com/jackzampolin/picturebook/internal/server/endpoints"
)

const sessionReadLimit = 4 << 20

var (
	editPage   int
	editServer string
)

var editCmd = &cobra.Command{
	Use:   "edit <book-id>",
	Short: "Edit a book over a live session",
	Long: `Open a live edit session on a book.

Each line typed replaces the current page's text and is committed at once.
Lines starting with a slash are commands:
  /page N        switch to page N (N may be one past the last page)
  /draft TEXT    send TEXT as keystrokes; it commits after typing pauses
  /quit          end the session

Input may also be piped, one page text per line.

Examples:
  picturebook edit 3f2c... --page 0
  printf 'A cat\n/page 1\nA mat\n' | picturebook edit 3f2c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())

		url := sessionURL(editServer, args[0])
		conn, resp, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == 404 {
				return fmt.Errorf("book %s not found", args[0])
			}
			return fmt.Errorf("failed to open session: %w", err)
		}
		defer conn.CloseNow()
		conn.SetReadLimit(sessionReadLimit)

		e := &editor{conn: conn, out: cmd.OutOrStdout(), interactive: interactive, page: editPage}
		readErr := make(chan error, 1)
		go func() {
			readErr <- e.readEvents(ctx)
		}()

		if err := e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageBegin, Page: e.page}); err != nil {
			return err
		}
		if err := e.readInput(ctx, cmd.InOrStdin()); err != nil {
			return err
		}

		_ = e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageEnd, Page: e.page})
		_ = conn.Close(websocket.StatusNormalClosure, "done")
		cancel()
		<-readErr
		return nil
	},
}

func init() {
	editCmd.Flags().IntVar(&editPage, "page", 0, "Page to start editing")
	editCmd.Flags().StringVar(&editServer, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(editCmd)
}

// sessionURL turns an http(s) server URL into the websocket session URL.
func sessionURL(server, bookID string) string {
	base := strings.TrimSuffix(server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/books/" + bookID + "/session"
}

type editor struct {
	conn        *websocket.Conn
	out         io.Writer
	interactive bool
	page        int
}

func (e *editor) send(ctx context.Context, msg endpoints.SessionMessage) error {
	return wsjson.Write(ctx, e.conn, msg)
}

func (e *editor) readInput(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	e.prompt()
	for scanner.Scan() {
		line := scanner.Text()
		quit, err := e.handleLine(ctx, line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
		e.prompt()
	}
	return scanner.Err()
}

func (e *editor) handleLine(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageCommit, Page: e.page, Text: line + "\n"})
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	switch name {
	case "quit", "q":
		return true, nil
	case "page":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 0 {
			fmt.Fprintf(e.out, "invalid page %q\n", arg)
			return false, nil
		}
		if err := e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageEnd, Page: e.page}); err != nil {
			return false, err
		}
		e.page = n
		return false, e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageBegin, Page: e.page})
	case "draft":
		return false, e.send(ctx, endpoints.SessionMessage{Type: endpoints.MessageKeys, Page: e.page, Text: arg})
	default:
		fmt.Fprintf(e.out, "unknown command /%s\n", name)
		return false, nil
	}
}

func (e *editor) prompt() {
	if e.interactive {
		fmt.Fprintf(e.out, "page %d> ", e.page)
	}
}

// readEvents prints server events until the connection closes.
func (e *editor) readEvents(ctx context.Context) error {
	for {
		var ev endpoints.SessionEvent
		if err := wsjson.Read(ctx, e.conn, &ev); err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		switch ev.Type {
		case endpoints.EventBook:
			if e.interactive && ev.Book != nil {
				headers, rows := endpoints.BookView{Book: *ev.Book}.Table()
				fmt.Fprintf(e.out, "\n%s\n", api.RenderTable(headers, rows))
			}
		case endpoints.EventCommitted:
			fmt.Fprintf(e.out, "committed page %d (v%d)\n", ev.Page, ev.Version)
		case endpoints.EventError:
			fmt.Fprintf(e.out, "error: %s\n", ev.Error)
		case endpoints.EventState:
			if e.interactive {
				fmt.Fprintf(e.out, "[%s page %d]\n", ev.State, ev.Page)
			}
		}
	}
}
