package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/birkenfeld/arexibo/internal/cache"
	"github.com/birkenfeld/arexibo/internal/logging"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/birkenfeld/arexibo/internal/schedule"
	"github.com/birkenfeld/arexibo/internal/xmds"
	"github.com/birkenfeld/arexibo/internal/xmr"
)

const scheduleCheckInterval = time.Minute

// ErrNotAuthorized means the CMS answered registration but has not
// authorized this display.
var ErrNotAuthorized = errors.New("display is not authorized by the CMS")

// CMS is the part of the protocol client the collect loop drives.
type CMS interface {
	cache.Fetcher
	RegisterDisplay(ctx context.Context) (*model.PlayerSettings, error)
	RequiredFiles(ctx context.Context) (xmds.RequiredFiles, error)
	Schedule(ctx context.Context) (string, error)
	MediaInventory(ctx context.Context, items []model.InventoryItem) error
	SubmitLog(ctx context.Context, entries []xmds.LogRecord) error
	NotifyStatus(ctx context.Context, status model.Status) error
	NotifyCommandResult(ctx context.Context, success bool) error
	SubmitScreenShot(ctx context.Context, image []byte) error
	SubmitStats(ctx context.Context, statXML string) error
}

// Deps wires the collect loop to its collaborators.
type Deps struct {
	CMS          CMS
	Cache        *cache.Cache
	Logs         *logging.Buffer
	Level        *slog.LevelVar
	Updates      chan<- model.Update
	Feedback     <-chan model.Feedback
	Events       <-chan xmr.Event
	SettingsPath string
	SchedulePath string
	AllowOffline bool
	Logger       *slog.Logger

	DiskUsage func(path string) (free, total uint64, err error)
	Now       func() time.Time
}

// Handler owns the player state: settings, schedule, current layouts and
// the resource cache. Only its own goroutine touches that state.
type Handler struct {
	cms      CMS
	cache    *cache.Cache
	logs     *logging.Buffer
	level    *slog.LevelVar
	updates  chan<- model.Update
	feedback <-chan model.Feedback
	events   <-chan xmr.Event
	refresh  chan struct{}
	logger   *slog.Logger

	settingsPath string
	schedulePath string
	diskUsage    func(string) (uint64, uint64, error)
	now          func() time.Time

	settings     model.PlayerSettings
	haveSettings bool
	schedule     *schedule.Schedule
	layouts      []int64
	layoutsSent  bool
	shown        int64
}

// New registers with the CMS and returns a ready handler. When the CMS is
// unreachable and offline start is allowed, the last saved settings and
// schedule are used instead.
func New(ctx context.Context, deps Deps) (*Handler, error) {
	h := &Handler{
		cms:          deps.CMS,
		cache:        deps.Cache,
		logs:         deps.Logs,
		level:        deps.Level,
		updates:      deps.Updates,
		feedback:     deps.Feedback,
		events:       deps.Events,
		refresh:      make(chan struct{}, 1),
		logger:       deps.Logger,
		settingsPath: deps.SettingsPath,
		schedulePath: deps.SchedulePath,
		diskUsage:    deps.DiskUsage,
		now:          deps.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.logs == nil {
		h.logs = logging.NewBuffer(0)
	}
	if h.level == nil {
		h.level = new(slog.LevelVar)
	}
	if h.diskUsage == nil {
		h.diskUsage = diskUsage
	}
	if h.now == nil {
		h.now = time.Now
	}

	settings, err := h.cms.RegisterDisplay(ctx)
	switch {
	case err == nil && settings == nil:
		return nil, ErrNotAuthorized
	case err == nil:
		h.adoptSettings(ctx, *settings)
	case xmds.IsConnectivity(err) && deps.AllowOffline:
		saved, loadErr := loadSettings(h.settingsPath)
		if loadErr != nil {
			return nil, fmt.Errorf("register display: %w (no saved settings: %v)", err, loadErr)
		}
		h.logger.Warn("CMS unreachable, starting from saved settings", "err", err)
		h.adoptSettings(ctx, saved)
	default:
		return nil, fmt.Errorf("register display: %w", err)
	}

	if saved, err := schedule.FromFile(h.schedulePath); err == nil {
		h.schedule = saved
		h.ScheduleCheck(ctx)
	} else if errors.Is(err, os.ErrNotExist) {
		h.logger.Debug("no saved schedule", "err", err)
	} else {
		h.logger.Warn("ignoring unreadable saved schedule", "err", err)
	}
	return h, nil
}

// TriggerCollect asks Run to start a collection cycle now. Requests made
// while one is pending are coalesced.
func (h *Handler) TriggerCollect() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Handler) Settings() model.PlayerSettings {
	return h.settings
}

// Run drives collection, screenshots and schedule checks until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	collectC := time.After(0)
	screenshotC := h.screenshotTimer()
	screenshotEvery := h.settings.ScreenshotEvery()
	checkTicker := time.NewTicker(scheduleCheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-collectC:
			h.collect(ctx)
			collectC = time.After(h.settings.CollectEvery())
			if every := h.settings.ScreenshotEvery(); every != screenshotEvery {
				screenshotEvery = every
				screenshotC = h.screenshotTimer()
			}
		case <-screenshotC:
			h.send(ctx, model.Update{Kind: model.UpdateScreenshot})
			screenshotC = h.screenshotTimer()
		case <-h.refresh:
			collectC = time.After(0)
		case <-checkTicker.C:
			h.ScheduleCheck(ctx)
		case event := <-h.events:
			switch event.Kind {
			case xmr.EventCollectNow:
				collectC = time.After(0)
			case xmr.EventScreenshot:
				screenshotC = time.After(0)
			case xmr.EventPurgeAll:
				h.purgeAll(ctx)
				collectC = time.After(0)
			default:
				h.HandleEvent(ctx, event)
			}
		case fb := <-h.feedback:
			h.HandleFeedback(ctx, fb)
		}
	}
}

func (h *Handler) screenshotTimer() <-chan time.Time {
	every := h.settings.ScreenshotEvery()
	if every <= 0 {
		return nil
	}
	return time.After(every)
}

// HandleEvent processes push events that do not reschedule timers.
func (h *Handler) HandleEvent(ctx context.Context, event xmr.Event) {
	switch event.Kind {
	case xmr.EventPurgeAll:
		h.purgeAll(ctx)
	case xmr.EventWebhook:
		h.send(ctx, model.Update{Kind: model.UpdateWebhook, Code: event.Code})
	case xmr.EventCommand:
		h.send(ctx, model.Update{Kind: model.UpdateCommand, Code: event.Code})
	default:
		h.logger.Debug("push event handled by timers", "kind", event.Kind)
	}
}

// HandleFeedback processes a message from the display.
func (h *Handler) HandleFeedback(ctx context.Context, fb model.Feedback) {
	switch fb.Kind {
	case model.FeedbackShownLayout:
		h.shown = fb.LayoutID
	case model.FeedbackScreenshot:
		if err := h.cms.SubmitScreenShot(ctx, fb.Screenshot); err != nil {
			h.logger.Warn("submitting screenshot failed", "err", err)
		}
	case model.FeedbackCommandResult:
		if err := h.cms.NotifyCommandResult(ctx, fb.Success); err != nil {
			h.logger.Warn("reporting command result failed", "err", err)
		}
	case model.FeedbackStats:
		if !h.settings.StatsEnabled {
			h.logger.Debug("dropping display stats, collection disabled by the CMS")
			return
		}
		if err := h.cms.SubmitStats(ctx, fb.Stats); err != nil {
			h.logger.Warn("submitting stats failed", "err", err)
		}
	}
}

func (h *Handler) purgeAll(ctx context.Context) {
	if err := h.cache.PurgeAll(ctx); err != nil {
		h.logger.Error("purging cache failed", "err", err)
	}
}

// ScheduleCheck recomputes the layouts to show and notifies the display
// when they changed.
func (h *Handler) ScheduleCheck(ctx context.Context) {
	layouts := h.schedule.LayoutsNow(h.now())
	if h.layoutsSent && slices.Equal(layouts, h.layouts) {
		return
	}
	h.layouts, h.layoutsSent = layouts, true
	h.logger.Info("layouts changed", "layouts", layouts)
	h.send(ctx, model.Update{Kind: model.UpdateLayouts, Layouts: slices.Clone(layouts)})
}

func (h *Handler) adoptSettings(ctx context.Context, settings model.PlayerSettings) {
	if h.haveSettings && h.settings.Equal(settings) {
		return
	}
	h.settings, h.haveSettings = settings, true

	if level, ok := logging.ParseLevel(settings.LogLevel); ok {
		h.level.Set(level)
	} else {
		h.logger.Warn("ignoring unknown log level", "level", settings.LogLevel)
	}
	copied := settings
	h.send(ctx, model.Update{Kind: model.UpdateSettings, Settings: &copied})
	if err := saveSettings(h.settingsPath, settings); err != nil {
		h.logger.Warn("saving settings failed", "err", err)
	}
}

func (h *Handler) send(ctx context.Context, update model.Update) {
	if h.updates == nil {
		return
	}
	select {
	case h.updates <- update:
	case <-ctx.Done():
	}
}
