package session

import (
	"fmt"
	"time"

	"github.com/plugsift/plugsift/pkg/config"
	"github.com/plugsift/plugsift/pkg/orderfile"
	"github.com/plugsift/plugsift/pkg/plugin"
)

// RestoreLatest copies the newest backup over the configured order file.
// It returns orderfile.ErrNoBackup when there is nothing to restore.
func RestoreLatest(cfg *config.Config) (*orderfile.Backup, error) {
	latest, err := orderfile.NewBackups(cfg.Paths.Backups()).Latest()
	if err != nil {
		return nil, err
	}
	if err := restoreBackup(latest, cfg.OrderFile); err != nil {
		return nil, err
	}
	return latest, nil
}

func restoreBackup(b *orderfile.Backup, path string) error {
	snap, err := b.Load()
	if err != nil {
		return err
	}
	if err := orderfile.WriteAtomic(path, snap.Bytes()); err != nil {
		return fmt.Errorf("failed to restore %s: %w", b.Session, err)
	}
	return nil
}

// FinalizeReport describes a rebuilt order file.
type FinalizeReport struct {
	// Quarantine is the session the removed plugins came from, or nil.
	Quarantine *orderfile.QuarantineSession

	// Lines is the content written to the order file.
	Lines []string
}

// Finalize rebuilds the order file in its final form, listing the plugins
// of the newest quarantine session as removed.
func Finalize(cfg *config.Config, now time.Time) (*FinalizeReport, error) {
	qs, err := orderfile.LatestQuarantine(cfg.Paths.Quarantine())
	if err != nil {
		return nil, err
	}

	var failed []plugin.ID
	removedAt := now
	if qs != nil {
		failed = plugin.Names(qs.Plugins...)
		if !qs.Time.IsZero() {
			removedAt = qs.Time
		}
	}

	file, _, err := orderfile.Open(cfg.OrderFile)
	if err != nil {
		return nil, err
	}
	lines, err := finalize(file, cfg, failed, removedAt, now)
	if err != nil {
		return nil, err
	}
	return &FinalizeReport{Quarantine: qs, Lines: lines}, nil
}

func finalize(file *orderfile.File, cfg *config.Config, failed []plugin.ID, removedAt, now time.Time) ([]string, error) {
	current, err := file.Read()
	if err != nil {
		return nil, err
	}
	lines := orderfile.Assemble(orderfile.Assembly{
		Current:   current,
		Required:  plugin.Names(cfg.Plugins.Required...),
		Optional:  plugin.Names(cfg.Plugins.Optional...),
		Failed:    failed,
		Marker:    cfg.Isolation.Marker,
		Now:       now,
		RemovedAt: removedAt,
	})
	if err := file.WriteLines(lines); err != nil {
		return nil, fmt.Errorf("failed to write final order: %w", err)
	}
	return lines, nil
}
