// Package call is the controller between the TUI and the session coordinator.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	appevents "github.com/rescp17/peerCall/internal/app_events"
	callEvent "github.com/rescp17/peerCall/internal/app_events/call"
	"github.com/rescp17/peerCall/pkg/session"
	"github.com/rescp17/peerCall/pkg/webrtc"
)

// Coordinator is the part of session.Coordinator the controller drives.
type Coordinator interface {
	Run(ctx context.Context) error
	OpenLocalIdentity(ctx context.Context) (string, error)
	InitiateSession(ctx context.Context, remoteID string) error
	SendChatMessage(ctx context.Context, text string) error
	ToggleTrack(ctx context.Context, kind session.MediaKind) error
	EndSession(ctx context.Context) error
	AppendAssistantNote(ctx context.Context, seq uint64, text string) error
	Snapshot(ctx context.Context) (session.Snapshot, error)
}

type Assistant interface {
	Summarize(ctx context.Context, history []session.ChatMessage) (string, error)
	SuggestReplies(ctx context.Context, history []session.ChatMessage) ([]string, error)
}

// StatsSource reports remote RTP counters.
type StatsSource interface {
	Snapshot() map[session.MediaKind]webrtc.TrackStats
	Reset()
}

// App owns the coordinator goroutine and translates between TUI intents and
// coordinator operations.
type App struct {
	coordinator Coordinator
	assistant   Assistant
	stats       StatsSource
	statsEvery  time.Duration
	dialTarget  string
	logger      *slog.Logger

	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App

	mu      sync.Mutex
	latest  *session.Snapshot
	notices []session.Notice
	wake    chan struct{}

	tasks sync.WaitGroup
}

type Option func(*App)

func WithAssistant(a Assistant) Option {
	return func(app *App) { app.assistant = a }
}

// WithStats publishes s to the TUI every interval.
func WithStats(s StatsSource, interval time.Duration) Option {
	return func(app *App) {
		app.stats = s
		app.statsEvery = interval
	}
}

// WithInitialRemote dials remoteID as soon as the local identity is known.
func WithInitialRemote(remoteID string) Option {
	return func(app *App) { app.dialTarget = remoteID }
}

func WithLogger(l *slog.Logger) Option {
	return func(app *App) { app.logger = l }
}

// NewApp builds the controller. newCoordinator receives the observer that
// must be installed on the coordinator.
func NewApp(newCoordinator func(session.Observer) Coordinator, opts ...Option) *App {
	a := &App{
		statsEvery: time.Second,
		logger:     slog.Default().With("module", "call"),
		uiMessages: make(chan tea.Msg, 16),
		appEvents:  make(chan appevents.AppEvent, 16),
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	a.coordinator = newCoordinator(a)
	return a
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send intents to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// SessionChanged implements session.Observer. Only the newest snapshot is kept.
func (a *App) SessionChanged(s session.Snapshot) {
	a.mu.Lock()
	a.latest = &s
	a.mu.Unlock()
	a.signal()
}

// SessionNotice implements session.Observer.
func (a *App) SessionNotice(n session.Notice) {
	a.mu.Lock()
	a.notices = append(a.notices, n)
	a.mu.Unlock()
	a.signal()
}

func (a *App) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run starts the coordinator and the controller loops. It returns when ctx
// is cancelled and every spawned request has finished.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coordinator.Run(ctx)
	})
	g.Go(func() error {
		return a.forward(ctx)
	})
	g.Go(func() error {
		a.start(ctx)
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case event := <-a.appEvents:
				a.handle(ctx, event)
			}
		}
	})
	if a.stats != nil && a.statsEvery > 0 {
		g.Go(func() error {
			return a.publishStats(ctx)
		})
	}

	err := g.Wait()
	a.tasks.Wait()
	return err
}

// start opens the local identity and dials the initial remote, if any.
func (a *App) start(ctx context.Context) {
	id, err := a.coordinator.OpenLocalIdentity(ctx)
	if err != nil {
		a.sendAndLogError(ctx, "Failed to open local identity", err)
		return
	}
	a.logger.Info("Local identity ready", "id", id)
	a.send(ctx, callEvent.IdentityMsg{ID: id})
	if a.dialTarget != "" {
		a.join(ctx, a.dialTarget)
	}
}

func (a *App) handle(ctx context.Context, event appevents.AppEvent) {
	switch e := event.(type) {
	case callEvent.JoinMsg:
		a.join(ctx, e.RemoteID)
	case callEvent.SendChatMsg:
		if err := a.coordinator.SendChatMessage(ctx, e.Text); err != nil {
			a.sendAndLogError(ctx, "Failed to send message", err)
		}
	case callEvent.ToggleTrackMsg:
		if err := a.coordinator.ToggleTrack(ctx, e.Kind); err != nil {
			a.sendAndLogError(ctx, "Failed to toggle track", err)
		}
	case callEvent.HangUpMsg:
		if err := a.coordinator.EndSession(ctx); err != nil {
			a.sendAndLogError(ctx, "Failed to end session", err)
		}
	case callEvent.SummarizeMsg:
		a.spawn(ctx, a.summarize)
	case callEvent.SuggestRepliesMsg:
		a.spawn(ctx, a.suggest)
	default:
		a.logger.Warn("Unhandled app event", "type", fmt.Sprintf("%T", event))
	}
}

// join runs off the event loop so a hang-up can cancel a pending acquisition.
func (a *App) join(ctx context.Context, remoteID string) {
	a.spawn(ctx, func(ctx context.Context) {
		err := a.coordinator.InitiateSession(ctx, remoteID)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrCancelled), errors.Is(err, session.ErrStopped):
			a.logger.Info("Session attempt abandoned", "remote", remoteID, "error", err)
		default:
			a.sendAndLogError(ctx, "Failed to start session", err)
		}
	})
}

func (a *App) spawn(ctx context.Context, fn func(context.Context)) {
	a.tasks.Add(1)
	go func() {
		defer a.tasks.Done()
		fn(ctx)
	}()
}

func (a *App) summarize(ctx context.Context) {
	if a.assistant == nil {
		a.sendAndLogError(ctx, "Summary unavailable", errNoAssistant)
		return
	}
	snap, err := a.coordinator.Snapshot(ctx)
	if err != nil {
		a.sendAndLogError(ctx, "Failed to read transcript", err)
		return
	}
	a.send(ctx, callEvent.AssistantBusyMsg{Busy: true})
	text, err := a.assistant.Summarize(ctx, snap.Transcript)
	a.send(ctx, callEvent.AssistantBusyMsg{Busy: false})

	if text != "" {
		if noteErr := a.coordinator.AppendAssistantNote(ctx, snap.SessionSeq, text); noteErr != nil {
			a.logger.Warn("Failed to append summary", "error", noteErr)
		}
	}
	if err != nil {
		a.sendAndLogError(ctx, "Summary failed", err)
	}
}

func (a *App) suggest(ctx context.Context) {
	if a.assistant == nil {
		a.sendAndLogError(ctx, "Suggestions unavailable", errNoAssistant)
		return
	}
	snap, err := a.coordinator.Snapshot(ctx)
	if err != nil {
		a.sendAndLogError(ctx, "Failed to read transcript", err)
		return
	}
	a.send(ctx, callEvent.AssistantBusyMsg{Busy: true})
	suggestions, err := a.assistant.SuggestReplies(ctx, snap.Transcript)
	a.send(ctx, callEvent.AssistantBusyMsg{Busy: false})

	a.send(ctx, callEvent.SuggestionsMsg{Suggestions: suggestions})
	if err != nil {
		a.sendAndLogError(ctx, "Suggestions failed", err)
	}
}

var errNoAssistant = errors.New("assistant not configured")

// forward moves observer output to the TUI off the coordinator goroutine.
func (a *App) forward(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
		}

		a.mu.Lock()
		latest, notices := a.latest, a.notices
		a.latest, a.notices = nil, nil
		a.mu.Unlock()

		if latest != nil {
			a.send(ctx, callEvent.SessionUpdateMsg{Snapshot: *latest})
		}
		for _, n := range notices {
			if n.Kind == session.NoticeSessionEnded && a.stats != nil {
				a.stats.Reset()
			}
			a.send(ctx, callEvent.NoticeMsg{Notice: n})
		}
	}
}

func (a *App) publishStats(ctx context.Context) error {
	ticker := time.NewTicker(a.statsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.send(ctx, callEvent.StatsMsg{Stats: a.stats.Snapshot()})
		}
	}
}

func (a *App) send(ctx context.Context, msg tea.Msg) {
	select {
	case a.uiMessages <- msg:
	case <-ctx.Done():
	}
}

// sendAndLogError both logs an error and sends it to the UI.
func (a *App) sendAndLogError(ctx context.Context, baseMessage string, err error) {
	a.logger.Error(baseMessage, "error", err)
	a.send(ctx, appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
