// Package telegram provides the Telegram bot adapter for imaginebot.
package telegram

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/roelfdiedericks/imaginebot/internal/auth"
	"github.com/roelfdiedericks/imaginebot/internal/config"
	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/session"
)

// TelegramCaptionLimit is Telegram's hard cap on media captions.
const TelegramCaptionLimit = 1024

const welcomeText = `Hello! I turn your descriptions into images.

/imagine - Generate an image from a description
/imaginev2 - Generate with the newer model
/upscale - Upscale an image
/reimagine - Rework an image in a new style
/uncrop - Extend an image beyond its borders
/erase - Remove parts of an image
/inpaint - Repaint masked parts of an image
/search_replace - Replace an object in an image

/skip - Skip an optional step
/cancel - Cancel the current operation
/help - Show this message`

const noSessionHint = "There is no operation in progress. Use /imagine to start creating an image, or /help for the list of commands."

// workflowCommands maps bot commands to the workflow they start.
var workflowCommands = map[string]session.Workflow{
	"/imagine":        session.WorkflowGenerate,
	"/imaginev2":      session.WorkflowGenerateV2,
	"/upscale":        session.WorkflowUpscale,
	"/reimagine":      session.WorkflowReimagine,
	"/uncrop":         session.WorkflowOutpaint,
	"/erase":          session.WorkflowErase,
	"/inpaint":        session.WorkflowInpaint,
	"/search_replace": session.WorkflowSearchReplace,
	"/set_watermark":  session.WorkflowWatermark,
}

// Bot is the Telegram front end. It feeds user input to the
// conversation engine and implements the executor's and supervisor's
// outbound transport.
type Bot struct {
	bot    *tele.Bot
	engine *session.Engine
	gate   *auth.Gate
}

// New creates the bot and registers its handlers.
func New(cfg *config.TelegramConfig, engine *session.Engine, gate *auth.Gate) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	pref := tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_debug("telegram: bot created", "username", bot.Me.Username, "id", bot.Me.ID)

	b := &Bot{
		bot:    bot,
		engine: engine,
		gate:   gate,
	}
	b.setupHandlers()
	L_debug("telegram: handlers registered")

	return b, nil
}

// Start begins long polling. Blocks until Stop.
func (b *Bot) Start() {
	L_info("telegram bot starting", "username", b.bot.Me.Username)
	b.bot.Start()
}

// Stop shuts down polling.
func (b *Bot) Stop() {
	b.bot.Stop()
}

// setupHandlers registers message handlers
func (b *Bot) setupHandlers() {
	for cmd, w := range workflowCommands {
		cmd, w := cmd, w
		b.bot.Handle(cmd, func(c tele.Context) error {
			return b.startWorkflow(c, w)
		})
	}

	b.bot.Handle("/start", b.handleHelp)
	b.bot.Handle("/help", b.handleHelp)

	b.bot.Handle("/cancel", func(c tele.Context) error {
		identity, ok := b.identity(c)
		if !ok {
			return nil
		}
		rep, _ := b.engine.Cancel(identity)
		return b.sendReply(c, rep)
	})

	b.bot.Handle("/skip", func(c tele.Context) error {
		return b.feed(c, session.Input{Kind: session.KindText, Skip: true})
	})

	b.bot.Handle(tele.OnText, b.handleText)
	b.bot.Handle(tele.OnPhoto, b.handlePhoto)
	b.bot.Handle(tele.OnDocument, b.handleDocument)
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

func (b *Bot) handleHelp(c tele.Context) error {
	identity, ok := b.identity(c)
	if !ok {
		return nil
	}
	if !b.gate.IsAuthorized(identity) {
		L_warn("telegram: unauthorized user ignored", "userID", identity)
		return nil
	}
	return c.Send(welcomeText)
}

func (b *Bot) startWorkflow(c tele.Context, w session.Workflow) error {
	identity, ok := b.identity(c)
	if !ok {
		return nil
	}
	rep, err := b.engine.Start(identity, w)
	if err != nil {
		L_debug("workflow start refused", "user", identity, "workflow", string(w), "error", err)
	}
	return b.sendReply(c, rep)
}

// handleText feeds free-form text to the current step
func (b *Bot) handleText(c tele.Context) error {
	return b.feed(c, session.Input{Kind: session.KindText, Text: c.Text()})
}

// handlePhoto downloads the photo and feeds it as an image input
func (b *Bot) handlePhoto(c tele.Context) error {
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}
	return b.feedImage(c, &photo.File)
}

// handleDocument accepts images sent as uncompressed files
func (b *Bot) handleDocument(c tele.Context) error {
	doc := c.Message().Document
	if doc == nil || !strings.HasPrefix(doc.MIME, "image/") {
		return nil
	}
	return b.feedImage(c, &doc.File)
}

func (b *Bot) feedImage(c tele.Context, file *tele.File) error {
	identity, ok := b.identity(c)
	if !ok {
		return nil
	}
	if !b.gate.IsAuthorized(identity) {
		return nil
	}

	_ = c.Notify(tele.Typing)
	data, err := media.DownloadImageInput(b.bot, file)
	if err != nil {
		L_warn("telegram: image download failed", "user", identity, "error", err)
		return c.Send("I couldn't read that image. Please send it again.")
	}
	return b.feed(c, session.Input{Kind: session.KindImage, Image: data})
}

// handleCallback answers inline keyboard presses. telebot prefixes
// callback data with "\f" for handler routing; strip it before use.
func (b *Bot) handleCallback(c tele.Context) error {
	_, ok := b.identity(c)
	if !ok {
		return nil
	}
	defer func() { _ = c.Respond(&tele.CallbackResponse{}) }()

	data := strings.TrimPrefix(c.Callback().Data, "\f")
	return b.feed(c, session.Input{Kind: session.KindChoice, Choice: data})
}

// feed pushes one input into the engine and relays its reply.
func (b *Bot) feed(c tele.Context, in session.Input) error {
	identity, ok := b.identity(c)
	if !ok {
		return nil
	}
	if !b.gate.IsAuthorized(identity) {
		L_warn("telegram: unauthorized user ignored", "userID", identity)
		return nil
	}

	rep, err := b.engine.HandleInput(identity, in)
	if err == session.ErrNoSession {
		// Bare messages outside a workflow get a gentle hint
		return c.Send(noSessionHint)
	}
	return b.sendReply(c, rep)
}

// identity extracts the sender id. Group chats are not supported.
func (b *Bot) identity(c tele.Context) (string, bool) {
	if c.Chat() == nil || c.Sender() == nil {
		return "", false
	}
	if c.Chat().Type != tele.ChatPrivate {
		L_debug("ignoring group message", "chatID", c.Chat().ID)
		return "", false
	}
	return strconv.FormatInt(c.Sender().ID, 10), true
}

// sendReply delivers an engine reply, attaching the step's inline
// keyboard when present.
func (b *Bot) sendReply(c tele.Context, rep *session.Reply) error {
	if rep == nil {
		return nil
	}
	if len(rep.Keyboard) == 0 {
		return c.Send(rep.Text)
	}
	return c.Send(rep.Text, inlineKeyboard(rep.Keyboard))
}

// inlineKeyboard builds a telebot markup from rows of labels. The
// label doubles as the callback data.
func inlineKeyboard(rows [][]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, label := range row {
			btns = append(btns, tele.InlineButton{Text: label, Data: label})
		}
		kb = append(kb, btns)
	}
	markup.InlineKeyboard = kb
	return markup
}

// SendText sends a plain message outside a handler context. Used by
// the executor and the timeout supervisor.
func (b *Bot) SendText(identity, text string) {
	chat, err := chatFor(identity)
	if err != nil {
		L_error("telegram: bad identity", "identity", identity, "error", err)
		return
	}
	if _, err := b.bot.Send(chat, text); err != nil {
		L_error("telegram: failed to send text", "chatID", chat.ID, "error", err)
	}
}

// SendArtifact delivers a finished image. JPEG and PNG go as photos;
// other formats (webp upscales) as documents so Telegram does not
// recompress them.
func (b *Bot) SendArtifact(identity string, art *media.Artifact, caption string) {
	chat, err := chatFor(identity)
	if err != nil {
		L_error("telegram: bad identity", "identity", identity, "error", err)
		return
	}

	caption = truncate(caption, TelegramCaptionLimit)

	switch art.MIME {
	case "image/jpeg", "image/png":
		photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(art.Data)), Caption: caption}
		if _, err := b.bot.Send(chat, photo); err != nil {
			L_warn("telegram: photo send failed, retrying as document", "chatID", chat.ID, "error", err)
			b.sendDocument(chat, art, caption)
		}
	default:
		b.sendDocument(chat, art, caption)
	}
}

func (b *Bot) sendDocument(chat *tele.Chat, art *media.Artifact, caption string) {
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(art.Data)),
		FileName: "image." + art.Ext(),
		Caption:  caption,
	}
	if _, err := b.bot.Send(chat, doc); err != nil {
		L_error("telegram: failed to send document", "chatID", chat.ID, "error", err)
	}
}

func chatFor(identity string) (*tele.Chat, error) {
	chatID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("identity %q is not a chat id: %w", identity, err)
	}
	return &tele.Chat{ID: chatID}, nil
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
