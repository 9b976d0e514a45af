// Package ddpbot provides the shared types of a Rocket.Chat bot speaking the DDP realtime
// protocol over a persistent websocket.
//
// The bot logs in, subscribes to the stream of messages visible to its account and answers
// prefixed commands ("!ping") and regular-expression patterns. Each accepted message runs in its
// own goroutine, so a slow handler never delays another message.
//
// # Architecture
//
// This package holds the public vocabulary: Client, the handler signatures, CommandSpec and
// ArgSpec, ChatEvent and the error types. The runnable bot lives in the bot package:
//
//	session   one websocket + REST channel, request correlation, keepalive
//	classify  routes every inbound frame: results, subscription acks, pings, chat pushes
//	dispatch  filters chat pushes and runs patterns, then the command, per message
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/ddpbot"
//	    "github.com/luciancaetano/ddpbot/bot"
//	)
//
//	b := bot.New(bot.Config{
//	    URL:      "wss://chat.example.com/websocket",
//	    BaseURL:  "https://chat.example.com",
//	    Username: "bot",
//	    Password: "secret",
//	    Prefix:   "!",
//	}, logger)
//
//	b.Command(ddpbot.CommandSpec{Name: "ping", Help: "pong"},
//	    func(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent, args ddpbot.Args) (string, error) {
//	        return "pong", nil
//	    })
//
//	// Case-insensitive, at most once a week.
//	b.Match(`(?is)^(?:(?!gnu).)*linux(?:(?!gnu).)*$`, 7*24*time.Hour,
//	    func(ctx context.Context, c ddpbot.Client, ev *ddpbot.ChatEvent) (string, error) {
//	        return "I'd just like to interject for a moment.", nil
//	    })
//
//	err := b.Run(ctx)
//
// # Commands
//
// A message starting with the prefix is split shell-style. The first token names the command;
// the rest are its positional arguments, converted to the declared ArgType. Commands may be
// restricted to a set of rooms and are then invisible everywhere else.
//
//   - "help" is reserved and lists the commands visible in the room
//   - unknown names get "invalid command: `name`"
//   - bad arguments get the usage line and the error, each in a code block
//
// Registration errors (duplicate names, bad patterns) are remembered and make Run fail before
// any connection is made.
//
// # Patterns
//
// Patterns support lookaround and inline flags. Every pattern matching a message fires, in
// registration order, before the command runs. A pattern with a cooldown is skipped while it is
// cooling down; skipped attempts do not restart the cooldown.
//
// # Filtering
//
// Messages written by the bot's own account, edited messages and messages carrying reactions
// are ignored.
//
// # Important
//
//   - Handlers execute in goroutines (no ordering between messages)
//   - A returned error is logged and nothing is sent; a panic is recovered and logged
//   - Client methods are safe for concurrent use
package ddpbot
