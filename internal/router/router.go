// Package router maps inbound chat messages to scheduler operations and
// renders the replies.
package router

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"respbot/internal/claims"
	"respbot/internal/claims/scheduler"
	"respbot/internal/render"
	"respbot/internal/slots"
	"respbot/internal/transport"
	logx "respbot/pkg/logx"
)

// Scheduler is the slice of the scheduler service the router needs.
type Scheduler interface {
	Claim(ctx context.Context, actorID int64, actorName, code, rawDuration string) (claims.Claim, error)
	Release(ctx context.Context, actorID int64, code string) error
	Enqueue(ctx context.Context, actorID int64, actorName, code, rawDuration string) (int, error)
	Dequeue(ctx context.Context, actorID int64, code string) error
	Status(code string) (scheduler.SlotView, error)
	StatusAll() []scheduler.SlotView
	AddSlot(ctx context.Context, actorID int64, code, name string, tier int) (slots.Slot, error)
	RemoveSlot(ctx context.Context, actorID int64, code string) error
}

type Config struct {
	BotName  string // for stripping /cmd@BotName in groups
	Owners   []int64
	Location *time.Location
}

type Router struct {
	mu    sync.RWMutex
	cfg   Config
	sched Scheduler
	log   logx.Logger
}

func New(cfg Config, sched Scheduler, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Router{cfg: cfg, sched: sched, log: log.With(logx.String("comp", "router"))}
}

func (r *Router) Apply(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.cfg.Owners {
		if o == id {
			return true
		}
	}
	return false
}

func (r *Router) location() *time.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Location
}

// Handle dispatches one message. It returns the reply text and whether the
// message was a command at all; non-commands are ignored silently so the bot
// can sit in a busy group chat.
func (r *Router) Handle(ctx context.Context, msg transport.Message) (string, bool) {
	verb, args, ok := r.parse(msg.Text)
	if !ok {
		return "", false
	}
	actor := msg.FromID
	name := msg.FromUsername
	if name == "" {
		name = fmt.Sprintf("user%d", actor)
	}

	r.log.Debug("command",
		logx.String("verb", verb),
		logx.Int64("from", actor),
		logx.Int("args", len(args)))

	switch verb {
	case "claim":
		if len(args) < 1 || len(args) > 2 {
			return "Usage: /claim &lt;slot&gt; [duration]", true
		}
		dur := ""
		if len(args) == 2 {
			dur = args[1]
		}
		c, err := r.sched.Claim(ctx, actor, name, args[0], dur)
		if err != nil {
			return render.ErrorText(err), true
		}
		until := c.StartedAt.Add(c.Total).In(r.location())
		return fmt.Sprintf("<b>%s</b> is yours for %s, until %s.",
			c.Slot, slots.FormatDuration(c.Total), until.Format("15:04")), true

	case "release":
		if len(args) != 1 {
			return "Usage: /release &lt;slot&gt;", true
		}
		if err := r.sched.Release(ctx, actor, args[0]); err != nil {
			return render.ErrorText(err), true
		}
		return fmt.Sprintf("Released <b>%s</b>.", slots.Normalize(args[0])), true

	case "enqueue", "queue":
		if len(args) < 1 || len(args) > 2 {
			return "Usage: /enqueue &lt;slot&gt; [duration]", true
		}
		dur := ""
		if len(args) == 2 {
			dur = args[1]
		}
		pos, err := r.sched.Enqueue(ctx, actor, name, args[0], dur)
		if err != nil {
			return render.ErrorText(err), true
		}
		return fmt.Sprintf("You are #%d in line for <b>%s</b>.", pos, slots.Normalize(args[0])), true

	case "dequeue", "leave":
		if len(args) != 1 {
			return "Usage: /dequeue &lt;slot&gt;", true
		}
		if err := r.sched.Dequeue(ctx, actor, args[0]); err != nil {
			return render.ErrorText(err), true
		}
		return fmt.Sprintf("You left the queue for <b>%s</b>.", slots.Normalize(args[0])), true

	case "status":
		if len(args) == 1 {
			v, err := r.sched.Status(args[0])
			if err != nil {
				return render.ErrorText(err), true
			}
			return render.StatusOne(v), true
		}
		return render.StatusAll(r.sched.StatusAll()), true

	case "slot":
		return r.handleSlot(ctx, actor, args), true

	case "help", "start":
		return helpText, true

	default:
		return "", false
	}
}

func (r *Router) handleSlot(ctx context.Context, actor int64, args []string) string {
	if !r.isOwner(actor) {
		return "Only the operator can manage slots."
	}
	if len(args) == 0 {
		return "Usage: /slot add &lt;code&gt; [\"name\"] [tier] | /slot remove &lt;code&gt;"
	}
	switch args[0] {
	case "add":
		if len(args) < 2 || len(args) > 4 {
			return "Usage: /slot add &lt;code&gt; [\"name\"] [tier]"
		}
		code := args[1]
		name := code
		tier := 1
		rest := args[2:]
		// A trailing integer is the tier; anything before it is the name.
		if len(rest) > 0 {
			if n, err := strconv.Atoi(rest[len(rest)-1]); err == nil {
				tier = n
				rest = rest[:len(rest)-1]
			}
		}
		if len(rest) > 0 {
			name = strings.Join(rest, " ")
		}
		sl, err := r.sched.AddSlot(ctx, actor, code, name, tier)
		if err != nil {
			return render.ErrorText(err)
		}
		return fmt.Sprintf("Added <b>%s</b> (%s), tier %d.", html.EscapeString(sl.Name), sl.Code, sl.Tier)
	case "remove":
		if len(args) != 2 {
			return "Usage: /slot remove &lt;code&gt;"
		}
		if err := r.sched.RemoveSlot(ctx, actor, args[1]); err != nil {
			return render.ErrorText(err)
		}
		return fmt.Sprintf("Removed <b>%s</b>.", slots.Normalize(args[1]))
	default:
		return "Usage: /slot add &lt;code&gt; [\"name\"] [tier] | /slot remove &lt;code&gt;"
	}
}

// parse splits a message into verb and arguments. Commands start with "/";
// a "@BotName" suffix on the verb is stripped so group mentions work.
func (r *Router) parse(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	tokens := tokenize(text[1:])
	if len(tokens) == 0 {
		return "", nil, false
	}
	verb := strings.ToLower(tokens[0])
	if at := strings.IndexByte(verb, '@'); at >= 0 {
		r.mu.RLock()
		bot := strings.ToLower(r.cfg.BotName)
		r.mu.RUnlock()
		if bot != "" && verb[at+1:] != bot {
			// Addressed to some other bot in the group.
			return "", nil, false
		}
		verb = verb[:at]
	}
	return verb, tokens[1:], true
}

const helpText = `<b>Respawn slots</b>
/claim &lt;slot&gt; [duration] - take a free slot (duration like 1:30)
/release &lt;slot&gt; - give a slot back early
/enqueue &lt;slot&gt; [duration] - wait in line for a busy slot
/dequeue &lt;slot&gt; - leave the line
/status [slot] - who holds what`
