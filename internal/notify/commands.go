package notify

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Controller is the surface the command listener drives. Implemented by the
// application orchestrator.
type Controller interface {
	StatusText(ctx context.Context) string
	PnLText(ctx context.Context) string
	Kill(ctx context.Context) error
	Pause(strategy string)
	Resume(strategy string)
}

// commandChannel is the two-way chat surface: replies out, updates in.
type commandChannel interface {
	Sender
	getUpdates(ctx context.Context, offset int64) ([]telegramUpdate, error)
}

// CommandListener long-polls the chat channel for operator commands:
// status, pnl, kill <token>, pause <strategy>, resume <strategy>.
// The kill command requires the configured confirmation token so a stray
// message cannot halt the bot.
type CommandListener struct {
	sender       commandChannel
	controller   Controller
	confirmToken string
	logger       *zap.Logger

	wg sync.WaitGroup
}

// NewCommandListener creates a listener. A nil sender disables it.
func NewCommandListener(sender commandChannel, controller Controller, confirmToken string, logger *zap.Logger) *CommandListener {
	return &CommandListener{
		sender:       sender,
		controller:   controller,
		confirmToken: confirmToken,
		logger:       logger,
	}
}

// Run polls until ctx is cancelled.
func (l *CommandListener) Run(ctx context.Context) {
	if l.sender == nil {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.logger.Info("command-listener-started")

		var offset int64
		for {
			select {
			case <-ctx.Done():
				l.logger.Info("command-listener-stopping")
				return
			default:
			}

			updates, err := l.sender.getUpdates(ctx, offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("command-poll-failed", zap.Error(err))
				continue
			}

			for _, update := range updates {
				offset = update.UpdateID + 1
				if update.Message == nil {
					continue
				}
				l.handle(ctx, update.Message.Text)
			}
		}
	}()
}

// Close waits for the poll loop to stop.
func (l *CommandListener) Close() {
	l.wg.Wait()
}

// handle parses and executes one command line.
func (l *CommandListener) handle(ctx context.Context, text string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if len(fields) == 0 {
		return
	}

	cmd := strings.ToLower(fields[0])
	l.logger.Info("command-received", zap.String("command", cmd))

	switch cmd {
	case "status":
		l.reply(ctx, "Status", l.controller.StatusText(ctx))
	case "pnl":
		l.reply(ctx, "P&L", l.controller.PnLText(ctx))
	case "kill":
		token := ""
		if len(fields) > 1 {
			token = fields[1]
		}
		if l.confirmToken != "" && token != l.confirmToken {
			l.reply(ctx, "Kill Rejected", "confirmation token required: kill <token>")
			return
		}
		if err := l.controller.Kill(ctx); err != nil {
			l.reply(ctx, "Kill Failed", err.Error())
			return
		}
		l.reply(ctx, "Kill Confirmed", "Trading halted; restart will not resume it.")
	case "pause":
		if len(fields) < 2 {
			l.reply(ctx, "Usage", "pause <strategy>")
			return
		}
		l.controller.Pause(fields[1])
		l.reply(ctx, "Paused", fields[1])
	case "resume":
		if len(fields) < 2 {
			l.reply(ctx, "Usage", "resume <strategy>")
			return
		}
		l.controller.Resume(fields[1])
		l.reply(ctx, "Resumed", fields[1])
	default:
		l.reply(ctx, "Unknown Command", "Commands: status, pnl, kill <token>, pause <strategy>, resume <strategy>")
	}
}

func (l *CommandListener) reply(ctx context.Context, title, message string) {
	if err := l.sender.Send(ctx, title, message); err != nil {
		l.logger.Warn("command-reply-failed", zap.Error(err))
	}
}
