package livereload

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline/watch"
)

// Broadcaster receives reload messages. *Hub satisfies it.
type Broadcaster interface {
	Broadcast(Message)
}

// Gateway translates rebuild outcomes into browser messages.
type Gateway struct {
	out    Broadcaster
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewGateway maps written files under root to URL paths and sends the result
// to out.
func NewGateway(out Broadcaster, root string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Gateway{out: out, root: root, logger: logger, now: time.Now}
}

// HandleRebuild is shaped for watch.OnRebuild.
func (g *Gateway) HandleRebuild(ev watch.RebuildCompleted) {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	g.notify(ev.Tasks, ev.Success, ev.Changed, errText)
}

// OnRebuildCompleted decides what connected browsers should do. A failure
// keeps the current page and reports the error; a change touching only
// stylesheets is injected in place; anything else reloads. Nothing changed
// means nothing is sent.
func (g *Gateway) OnRebuildCompleted(tasks []string, success bool, changed []string) {
	g.notify(tasks, success, changed, "")
}

func (g *Gateway) notify(tasks []string, success bool, changed []string, errText string) {
	msg, ok := g.message(tasks, success, changed, errText)
	if !ok {
		return
	}
	g.logger.Debug("Notifying browsers.", "type", msg.Type, "paths", msg.Paths)
	g.out.Broadcast(msg)
}

func (g *Gateway) message(tasks []string, success bool, changed []string, errText string) (Message, bool) {
	msg := Message{
		ID:    uuid.NewString(),
		Tasks: append([]string(nil), tasks...),
		Time:  g.now(),
	}
	if !success {
		msg.Type = TypeError
		msg.Error = errText
		if msg.Error == "" {
			msg.Error = "rebuild failed: " + strings.Join(tasks, ", ")
		}
		return msg, true
	}
	if len(changed) == 0 {
		return Message{}, false
	}
	stylesOnly := true
	for _, file := range changed {
		urlPath, ok := g.urlPath(file)
		if !ok || !strings.EqualFold(filepath.Ext(file), ".css") {
			stylesOnly = false
			continue
		}
		msg.Paths = append(msg.Paths, urlPath)
	}
	if stylesOnly {
		msg.Type = TypeInject
		return msg, true
	}
	msg.Type = TypeReload
	msg.Paths = nil
	return msg, true
}

// urlPath maps a file under the served root to its request path.
func (g *Gateway) urlPath(file string) (string, bool) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}
