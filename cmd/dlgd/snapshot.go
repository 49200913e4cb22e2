package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rexliu/delegate/pkg/core"
	gitvcs "github.com/rexliu/delegate/pkg/vcs/git"
)

const (
	snapshotFile  = "journal.json"
	snapshotLimit = 500
)

// snapshotJournal runs after every interaction: it exports the journal and,
// with versioning enabled, commits the export.
func (d *daemon) snapshotJournal(rec core.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	status, err := d.writeSnapshot(ctx, fmt.Sprintf("interaction %s: %s", rec.ID, rec.Outcome))
	if err != nil {
		d.logger.Printf("snapshot failed: %v", err)
		return
	}
	if status.Committed && d.cfg.VCS.AutoPush && d.cfg.VCS.Remote.URL != "" {
		if err := d.repo.Push(ctx); err != nil {
			d.logger.Printf("auto push failed: %v", err)
		}
	}
}

func (d *daemon) snapshotDir() string {
	if d.repo != nil {
		return d.repo.Path
	}
	return d.profileDir
}

func (d *daemon) writeSnapshot(ctx context.Context, message string) (gitvcs.Status, error) {
	snap, err := d.store.Snapshot(ctx, d.cfg.ProfileName, snapshotLimit)
	if err != nil {
		return gitvcs.Status{}, err
	}
	path := filepath.Join(d.snapshotDir(), snapshotFile)
	if err := writeJSON(path, snap); err != nil {
		return gitvcs.Status{}, err
	}
	if d.repo == nil {
		return gitvcs.Status{Pending: true}, nil
	}
	return d.repo.Commit(ctx, message, snapshotFile)
}

// writeJSON replaces path with the indented encoding of v. The data goes
// to a temporary file first, so a failed write leaves the old file intact.
func writeJSON(path string, v any) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := file.Name()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	err = enc.Encode(v)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
