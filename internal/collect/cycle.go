package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/birkenfeld/arexibo/internal/schedule"
	"github.com/birkenfeld/arexibo/internal/xmds"
)

func (h *Handler) collect(ctx context.Context) {
	started := time.Now()
	err := h.CollectOnce(ctx)
	metrics.CollectDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		metrics.CollectCycles.WithLabelValues("ok").Inc()
		h.logger.Debug("collection finished", "duration", time.Since(started))
	case errors.Is(err, ErrNotAuthorized):
		metrics.CollectCycles.WithLabelValues("unauthorized").Inc()
		h.logger.Warn("collection skipped", "err", err)
	case ctx.Err() != nil:
		// shutting down
	default:
		metrics.CollectCycles.WithLabelValues("error").Inc()
		h.logger.Error("collection failed", "err", err)
	}
}

// CollectOnce runs one full synchronisation with the CMS. Failures of
// individual downloads and of the reporting calls are logged and do not
// abort the cycle.
func (h *Handler) CollectOnce(ctx context.Context) error {
	settings, err := h.cms.RegisterDisplay(ctx)
	if err != nil {
		return fmt.Errorf("register display: %w", err)
	}
	if settings == nil {
		return ErrNotAuthorized
	}
	h.adoptSettings(ctx, *settings)

	files, err := h.cms.RequiredFiles(ctx)
	if err != nil {
		return fmt.Errorf("required files: %w", err)
	}
	h.cache.UpdateCodeMap(files.Files)
	if len(files.Purge) > 0 {
		if err := h.cache.PurgeSome(ctx, files.Purge); err != nil {
			h.logger.Warn("purging files failed", "err", err)
		}
	}

	doc, err := h.cms.Schedule(ctx)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	sched, err := schedule.Parse(doc)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	inventory := make([]model.InventoryItem, 0, len(files.Files))
	for _, f := range files.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		complete := h.cache.Has(f)
		if !complete {
			if _, err := h.cache.Invalidate(ctx, f); err != nil {
				h.logger.Warn("dropping outdated file failed", "file", f.Description(), "err", err)
			}
			h.logger.Info("downloading", "file", f.Description(), "size", f.Size)
			if err := h.cache.Download(ctx, h.cms, f); err != nil {
				h.logger.Warn("download failed", "file", f.Description(), "err", err)
			} else {
				complete = true
			}
		}
		inventory = append(inventory, f.Inventory(complete))
	}
	if err := h.cms.MediaInventory(ctx, inventory); err != nil {
		h.logger.Warn("submitting inventory failed", "err", err)
	}

	h.schedule = sched
	if err := sched.ToFile(h.schedulePath); err != nil {
		h.logger.Warn("saving schedule failed", "err", err)
	}
	h.ScheduleCheck(ctx)

	h.submitLogs(ctx)
	h.submitStatus(ctx)
	return nil
}

func (h *Handler) submitLogs(ctx context.Context) {
	entries := h.logs.Drain()
	if len(entries) == 0 {
		return
	}
	records := make([]xmds.LogRecord, len(entries))
	for i, e := range entries {
		category := "audit"
		if e.Level >= slog.LevelWarn {
			category = "error"
		}
		records[i] = xmds.LogRecord{
			Time:     e.Time,
			Category: category,
			Method:   "collect",
			Message:  e.Message,
		}
	}
	if err := h.cms.SubmitLog(ctx, records); err != nil {
		h.logger.Warn("submitting logs failed", "entries", len(records), "err", err)
	}
}

func (h *Handler) submitStatus(ctx context.Context) {
	status := model.Status{
		CurrentLayoutID: h.shown,
		DeviceName:      h.settings.DisplayName,
		TimeZone:        timeZoneName(),
	}
	if free, total, err := h.diskUsage(h.cache.Dir()); err == nil {
		status.AvailableSpace, status.TotalSpace = free, total
	} else {
		h.logger.Debug("disk usage unavailable", "err", err)
	}
	if err := h.cms.NotifyStatus(ctx, status); err != nil {
		h.logger.Warn("reporting status failed", "err", err)
	}
}
