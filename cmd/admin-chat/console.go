package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/chat"
	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/rooms"
	"github.com/cwrk-planet/admin-chat/internal/session"
)

const help = `commands:
  /rooms            list rooms
  /join <n|id>      open a room by list number or id
  /search <text>    filter rooms by name or member
  /online           who is online
  /retry <id>       resend a failed message
  /status           connection state
  /quit             leave
anything else is sent to the open room`

// console is a line-oriented front end for one session.
type console struct {
	s   *session.Session
	loc *time.Location

	mu  sync.Mutex
	out io.Writer
}

func newConsole(s *session.Session, out io.Writer, loc *time.Location) *console {
	c := &console{s: s, out: out, loc: loc}
	s.Chat().OnChange(c.printEntry)
	s.OnStatus(func(badge string) { c.printf("* %s\n", badge) })
	return c
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run handles input lines until /quit, end of input or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := c.s.Send(line); err != nil {
				c.printf("! %v\n", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit", "/q":
			return nil
		case "/help", "/h":
			c.printf("%s\n", help)
		case "/rooms":
			c.printRooms()
		case "/search":
			c.printList(c.s.Rooms().Search(arg))
		case "/join":
			c.join(ctx, arg)
		case "/online":
			c.printOnline()
		case "/retry":
			if _, err := c.s.Chat().Resend(arg); err != nil {
				c.printf("! %v\n", err)
			}
		case "/status":
			c.printf("* %s\n", c.s.Status())
		default:
			c.printf("! unknown command %s, try /help\n", cmd)
		}
	}
	return sc.Err()
}

func (c *console) join(ctx context.Context, arg string) {
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		list := c.s.Rooms().Rooms()
		if n < 1 || n > len(list) {
			c.printf("! no room %d\n", n)
			return
		}
		id = list[n-1].ID
	}
	sel, err := c.s.SwitchRoom(ctx, id)
	if err != nil {
		c.printf("! %v\n", err)
		return
	}
	c.printf("== %s\n", c.title(sel))
	c.printHistory()
}

func (c *console) title(sel rooms.Selection) string {
	if sel.Counterpart == nil || sel.GroupMode {
		return fmt.Sprintf("%s (%d members)", roomName(sel.Room), len(sel.Members))
	}
	state := "offline"
	if c.s.Presence().IsOnline(sel.Counterpart.UserID) {
		state = "online"
	}
	return fmt.Sprintf("%s [%s]", sel.Counterpart.Username, state)
}

func roomName(r domain.MessageRoom) string {
	if r.Name != "" {
		return r.Name
	}
	if cp := rooms.Counterpart(r); cp != nil {
		return cp.Username
	}
	return r.ID
}

func (c *console) printRooms() {
	c.printList(c.s.Rooms().Rooms())
}

func (c *console) printList(list []domain.MessageRoom) {
	if err := c.s.Rooms().LoadErr(); err != nil {
		c.printf("(could not load rooms: %v)\n", err)
		return
	}
	if len(list) == 0 {
		c.printf("(no rooms)\n")
		return
	}
	open := c.s.Chat().RoomID()

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range list {
		mark := " "
		if r.ID == open {
			mark = ">"
		}
		dot := ""
		if cp := rooms.Counterpart(r); cp != nil && c.s.Presence().IsOnline(cp.UserID) {
			dot = " *"
		}
		last := ""
		if r.LastMessage != nil {
			last = "  " + truncate(r.LastMessage.Content, 40)
		}
		fmt.Fprintf(c.out, "%s%2d. %s%s%s\n", mark, i+1, roomName(r), dot, last)
	}
}

func (c *console) printOnline() {
	ids := c.s.Presence().Online()
	if len(ids) == 0 {
		c.printf("(nobody online)\n")
		return
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	c.printf("online: %s\n", strings.Join(names, ", "))
}

func (c *console) printHistory() {
	if err := c.s.Chat().LoadErr(); err != nil {
		c.printf("(could not load messages: %v)\n", err)
		return
	}
	for _, e := range c.s.Chat().Messages() {
		c.printEntry(e)
	}
}

func (c *console) printEntry(e chat.Entry) {
	who := e.SenderName
	if e.SenderID == c.s.Self().ID {
		who = "you"
	} else if who == "" {
		who = e.SenderID.String()
	}

	suffix := ""
	switch e.State {
	case domain.Sending:
		suffix = " (sending)"
	case domain.Sent:
		suffix = " (sent)"
	case domain.Failed:
		suffix = fmt.Sprintf(" (failed, /retry %s)", e.ID)
	}
	c.printf("[%s] %s: %s%s\n", e.SentAt.FormatIn(c.loc), who, e.Content, suffix)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
