// Package roundtrip runs a demo event through the desktop database: the raw
// export goes in, the form turns it into upload candidates, and the result
// tables come back out as workbooks in the event folder.
package roundtrip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/deskdb"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// Options name the database objects the round trip uses.
type Options struct {
	ImportTable string
	Form        string
	Cleanup     string
	// MasterOrgTable and MasterOrgDir are optional; with both set the table
	// of unmatched master organisations is exported for review.
	MasterOrgTable string
	MasterOrgDir   string
}

// Export is one table brought back from the database.
type Export struct {
	Table string
	Path  string
	Rows  int
}

// Result describes a completed round trip.
type Result struct {
	FolderExisted bool
	Loaded        int
	Exports       []Export
	// Skipped lists optional tables the database did not have.
	Skipped []string
	// RawMovedTo is the new raw file location, or "" if it was not moved.
	RawMovedTo string
	// MoveErr is set when the raw file could not be moved. The round trip
	// itself still succeeded.
	MoveErr error
}

// MoveFunc relocates a file.
type MoveFunc func(src, dst string) error

// RoundTrip drives the desktop database for one event.
type RoundTrip struct {
	db    deskdb.Database
	store table.Store
	opts  Options
	move  MoveFunc
	log   *zap.Logger
}

// New creates a round trip. A nil move uses os.Rename.
func New(db deskdb.Database, store table.Store, opts Options, move MoveFunc, log *zap.Logger) *RoundTrip {
	if move == nil {
		move = os.Rename
	}
	return &RoundTrip{db: db, store: store, opts: opts, move: move, log: log}
}

// Run performs the round trip for d, reading the raw export from rawPath (or
// its relocated copy) at sheet.
func (rt *RoundTrip) Run(ctx context.Context, d *demo.Demo, rawPath, sheet string) (*Result, error) {
	log := rt.log.With(zap.String("event", d.Key()))
	res := &Result{}

	existed, err := createFolder(d.Dir())
	if err != nil {
		return nil, err
	}
	res.FolderExisted = existed
	if existed {
		log.Warn("the folder for this demo already exists; it may already have been processed", zap.String("dir", d.Dir()))
	}

	src := d.LocateRaw(rt.store, rawPath)
	raw, err := rt.store.Read(src, sheet)
	if err != nil {
		return nil, extern.Wrap("reading raw data", err)
	}

	if err := rt.db.Execute(ctx, rt.opts.Cleanup); err != nil {
		if extern.Classify(err.Error()) != extern.ObjectNotFound {
			return nil, extern.Wrap("clearing staging table", err)
		}
		log.Info("nothing to clear before loading", zap.Error(err))
	}

	if err := rt.db.BulkLoad(ctx, raw, rt.opts.ImportTable); err != nil {
		return nil, extern.Wrap("loading raw data", err)
	}
	res.Loaded = raw.Len()

	params := append([]string{d.Type}, d.TrackingCodes()...)
	params = append(params, d.PubCode)
	if err := rt.db.RunForm(ctx, rt.opts.Form, params...); err != nil {
		return nil, extern.Wrap("running form "+rt.opts.Form, err)
	}

	required := []struct{ table, path string }{
		{d.Roles.CRMUpload, d.CRMPath()},
		{d.Roles.MDBUpload, d.MDBPath()},
		{d.Roles.MDBExclude, d.ExcludePath()},
	}
	for _, x := range required {
		exp, err := rt.export(ctx, x.table, x.path)
		if err != nil {
			return nil, err
		}
		res.Exports = append(res.Exports, *exp)
	}

	if d.Roles.CRMExclude != "" {
		exp, err := rt.export(ctx, d.Roles.CRMExclude, d.CRMExcludePath())
		switch {
		case extern.Is(err, extern.ObjectNotFound):
			log.Info("no CRM exclusion table", zap.String("table", d.Roles.CRMExclude))
			res.Skipped = append(res.Skipped, d.Roles.CRMExclude)
		case err != nil:
			return nil, err
		default:
			res.Exports = append(res.Exports, *exp)
		}
	}

	if rt.opts.MasterOrgTable != "" && rt.opts.MasterOrgDir != "" {
		path := filepath.Join(rt.opts.MasterOrgDir, d.Date.Format("1-2-2006")+".xlsx")
		exp, err := rt.export(ctx, rt.opts.MasterOrgTable, path)
		switch {
		case extern.Is(err, extern.ObjectNotFound):
			log.Info("no master organisation review table", zap.String("table", rt.opts.MasterOrgTable))
			res.Skipped = append(res.Skipped, rt.opts.MasterOrgTable)
		case err != nil:
			return nil, err
		default:
			res.Exports = append(res.Exports, *exp)
		}
	}

	for _, e := range res.Exports {
		log.Info("exported", zap.String("table", e.Table), zap.Int("rows", e.Rows), zap.String("path", e.Path))
	}

	if dst := d.RelocatedRaw(rawPath); src != dst {
		if err := rt.move(src, dst); err != nil {
			res.MoveErr = extern.Wrap("moving raw data", err)
			log.Error("could not move the raw data into the event folder", zap.Error(err))
		} else {
			res.RawMovedTo = dst
		}
	}
	return res, nil
}

func (rt *RoundTrip) export(ctx context.Context, name, path string) (*Export, error) {
	data, err := rt.db.ExportTable(ctx, name)
	if err != nil {
		return nil, extern.Wrap("exporting "+name, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := rt.store.Write(path, table.Overwrite, table.Sheet{Label: name, Data: data}); err != nil {
		return nil, extern.Wrap("writing "+filepath.Base(path), err)
	}
	return &Export{Table: name, Path: path, Rows: data.Len()}, nil
}

// createFolder creates dir and reports whether it was already there.
func createFolder(dir string) (bool, error) {
	err := os.Mkdir(dir, 0o755)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, os.ErrExist):
		return true, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("creating event folder: %w", err)
	}
	return false, nil
}
