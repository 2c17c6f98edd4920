package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/archive"
	"github.com/TobiSchelling/demoproc/internal/config"
	"github.com/TobiSchelling/demoproc/internal/crm"
	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/deskdb"
	"github.com/TobiSchelling/demoproc/internal/finalcount"
	"github.com/TobiSchelling/demoproc/internal/intake"
	"github.com/TobiSchelling/demoproc/internal/mdb"
	"github.com/TobiSchelling/demoproc/internal/report"
	"github.com/TobiSchelling/demoproc/internal/roundtrip"
	"github.com/TobiSchelling/demoproc/internal/table"
)

// ErrStageOutOfOrder is returned when a stage's predecessor has not
// completed for the event.
var ErrStageOutOfOrder = errors.New("stage out of order")

// Stage is one step of the event pipeline.
type Stage int

const (
	Intake Stage = iota + 1
	RoundTrip
	CRMPreValidation
	MDBPreValidation
	PostValidation
	FinalCounts
	Archive
)

var stageInfo = map[Stage]struct{ slug, title string }{
	Intake:           {"intake", "Intake counts"},
	RoundTrip:        {"roundtrip", "Desktop database round trip"},
	CRMPreValidation: {"crm-pre", "CRM pre-validation"},
	MDBPreValidation: {"mdb-pre", "Marketing-DB pre-validation"},
	PostValidation:   {"post", "Post-validation"},
	FinalCounts:      {"final", "Final counts"},
	Archive:          {"archive", "Archive"},
}

// Stages returns every stage in order.
func Stages() []Stage {
	return []Stage{Intake, RoundTrip, CRMPreValidation, MDBPreValidation, PostValidation, FinalCounts, Archive}
}

func (s Stage) String() string {
	if info, ok := stageInfo[s]; ok {
		return info.title
	}
	return fmt.Sprintf("stage %d", int(s))
}

// Slug is the stage's command-line name.
func (s Stage) Slug() string { return stageInfo[s].slug }

// ParseStage accepts a stage slug or number.
func ParseStage(name string) (Stage, error) {
	if n, err := strconv.Atoi(name); err == nil {
		s := Stage(n)
		if _, ok := stageInfo[s]; ok {
			return s, nil
		}
		return 0, fmt.Errorf("no stage %d", n)
	}
	for _, s := range Stages() {
		if strings.EqualFold(s.Slug(), name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// RunLog records stage runs. *database.DB implements it.
type RunLog interface {
	StartStageRun(eventKey string, stage int) (string, error)
	FinishStageRun(id string, status database.RunStatus, summary, errMsg string) error
	LastStageRun(eventKey string, stage int) (*database.StageRun, error)
	DoneStages(eventKey string) (map[int]bool, error)
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	// Warnings are problems that did not stop the step.
	Warnings []error
	Err      error
}

// Result holds the results of a pipeline run.
type Result struct {
	Event string
	Steps []StepResult
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Tables     table.Store
	DeskDB     deskdb.Database
	Summarizer report.Summarizer
	Runs       RunLog
	Archive    archive.Writer
	// Move relocates the raw file; nil means os.Rename.
	Move roundtrip.MoveFunc
	Log  *zap.Logger
}

// Runner executes pipeline stages for demo events.
type Runner struct {
	cfg  *config.Config
	runs RunLog
	log  *zap.Logger

	intake    *intake.Counter
	roundtrip *roundtrip.RoundTrip
	crm       *crm.Processor
	mdb       *mdb.Processor
	final     *finalcount.Counter
	archiver  *archive.Archiver
}

// New wires the stage processors from cfg and deps.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	policy, err := finalcount.ParsePolicy(cfg.Validation.Policy)
	if err != nil {
		return nil, err
	}
	final, err := finalcount.NewCounter(deps.Tables, finalcount.Options{
		Pattern:    cfg.Validation.Pattern,
		SheetIndex: cfg.Validation.SheetIndex,
		Policy:     policy,
	}, log)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:    cfg,
		runs:   deps.Runs,
		log:    log,
		intake: intake.NewCounter(deps.Tables, cfg.InternalDomains, log),
		roundtrip: roundtrip.New(deps.DeskDB, deps.Tables, roundtrip.Options{
			ImportTable:    cfg.DesktopDB.ImportTable,
			Form:           cfg.DesktopDB.Form,
			Cleanup:        cfg.DesktopDB.Cleanup,
			MasterOrgTable: cfg.DesktopDB.MasterOrg,
			MasterOrgDir:   cfg.Paths.MasterOrgReview,
		}, deps.Move, log),
		crm: crm.NewProcessor(deps.Tables, deps.Summarizer, crm.Options{
			LegacyColumns: cfg.CRM.LegacyColumns,
			ReviewMarker:  cfg.CRM.ReviewMarker,
		}, log),
		mdb: mdb.NewProcessor(deps.Tables, deps.Summarizer, mdb.Options{
			ReviewMarker:    cfg.CRM.ReviewMarker,
			BadEmail:        cfg.MDB.BadEmail,
			Undeliverable:   cfg.MDB.Undeliverable,
			InvalidEmail:    cfg.MDB.InvalidEmail,
			InternalColumns: cfg.MDB.InternalColumns,
		}, log),
		final:    final,
		archiver: archive.New(deps.Tables, deps.Archive, log),
	}, nil
}

// Runnable reports whether stage may run given the stages already done: the
// first stage always may, a completed stage may run again, and any other
// stage needs its predecessor done.
func Runnable(stage Stage, done map[int]bool) bool {
	return stage == Intake || done[int(stage)] || done[int(stage)-1]
}

// Run executes one stage for d and records the attempt. Unless force is
// set, a stage whose predecessor has not completed is refused with
// ErrStageOutOfOrder.
func (r *Runner) Run(ctx context.Context, d *demo.Demo, stage Stage, force bool) StepResult {
	step := StepResult{Name: stage.String()}
	if _, ok := stageInfo[stage]; !ok {
		step.Err = fmt.Errorf("no stage %d", int(stage))
		return step
	}
	log := r.log.With(zap.String("event", d.Key()), zap.String("stage", stage.Slug()))

	done, err := r.runs.DoneStages(d.Key())
	if err != nil {
		step.Err = fmt.Errorf("reading stage status: %w", err)
		return step
	}
	if !Runnable(stage, done) {
		if !force {
			step.Err = fmt.Errorf("%w: %s needs %s to be done first", ErrStageOutOfOrder, stage, stage-1)
			return step
		}
		log.Warn("running out of order", zap.Stringer("missing", stage-1))
	}

	id, err := r.runs.StartStageRun(d.Key(), int(stage))
	if err != nil {
		step.Err = err
		return step
	}
	log.Info(fmt.Sprintf("Step %d/%d: %s...", stage, len(stageInfo), stage))

	step.Summary, step.Warnings, step.Err = r.exec(ctx, d, stage)

	status, errMsg := database.StatusDone, ""
	if step.Err != nil {
		status, errMsg = database.StatusFailed, step.Err.Error()
		log.Error("stage failed", zap.Error(step.Err))
	}
	if err := r.runs.FinishStageRun(id, status, step.Summary, errMsg); err != nil {
		log.Error("could not record stage result", zap.Error(err))
		if step.Err == nil {
			step.Err = err
		}
	}
	return step
}

// RunRange executes stages from through to in order, stopping at the first
// failure.
func (r *Runner) RunRange(ctx context.Context, d *demo.Demo, from, to Stage, force bool) *Result {
	res := &Result{Event: d.Key()}
	for s := from; s <= to; s++ {
		step := r.Run(ctx, d, s, force)
		res.Steps = append(res.Steps, step)
		if step.Err != nil {
			break
		}
	}
	return res
}

func (r *Runner) exec(ctx context.Context, d *demo.Demo, stage Stage) (string, []error, error) {
	rawPath, rawSheet := r.cfg.Paths.RawData, r.cfg.Paths.RawSheet

	switch stage {
	case Intake:
		res, err := r.intake.Count(d, rawPath, rawSheet)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%d attendees (%d internal), %d non-attendees (%d internal)",
			res.AttendeeCount, res.AttendeeInternal, res.NonAttendeeCount, res.NonAttendeeInternal), nil, nil

	case RoundTrip:
		res, err := r.roundtrip.Run(ctx, d, rawPath, rawSheet)
		if err != nil {
			return "", nil, err
		}
		var warnings []error
		if res.MoveErr != nil {
			warnings = append(warnings, res.MoveErr)
		}
		parts := make([]string, 0, len(res.Exports))
		for _, e := range res.Exports {
			parts = append(parts, fmt.Sprintf("%s %d", e.Table, e.Rows))
		}
		return fmt.Sprintf("Loaded %d rows; exported %s", res.Loaded, strings.Join(parts, ", ")), warnings, nil

	case CRMPreValidation:
		res, err := r.crm.PreValidate(d)
		if err != nil {
			return "", nil, err
		}
		b := res.Buckets
		return fmt.Sprintf("%d clean, %d null phone, %d dead, %d contact without lead, %d to flip to open",
			b.Clean.Len(), b.NullPhone.Len(), b.Dead.Len(), b.ContactNoLead.Len(), len(b.FlipToOpen)), warningsOf(res.SummaryErr), nil

	case MDBPreValidation:
		res, err := r.mdb.PreValidate(d)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%d to upload, %d excluded", res.Uploaded, res.Excluded), warningsOf(res.SummaryErr), nil

	case PostValidation:
		crmRes, err := r.crm.PostValidate(d)
		if err != nil {
			return "", nil, err
		}
		mdbRes, err := r.mdb.PostValidate(d)
		if err != nil {
			return "", nil, err
		}
		parts := make([]string, 0, len(crmRes.Batches))
		for _, b := range crmRes.Batches {
			parts = append(parts, fmt.Sprintf("%s %d", b.Sheet, b.Rows))
		}
		var warnings []error
		if n := crmRes.Unreviewed + mdbRes.Unreviewed; n > 0 {
			warnings = append(warnings, fmt.Errorf("%d rows still carry the %s marker", n, r.cfg.CRM.ReviewMarker))
		}
		return fmt.Sprintf("CRM batches: %s; marketing-DB upload %d rows",
			orNone(strings.Join(parts, ", ")), mdbRes.Rows), warnings, nil

	case FinalCounts:
		res, err := r.final.Count(d)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%d converted, %d updated, %d requested (%s)",
			res.Converted(), res.UpdatedLeads, res.AsRequested, res.RequestedAssign), nil, nil

	case Archive:
		res, err := r.archiver.Archive(d, rawPath, rawSheet)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Archived %d raw, %d CRM and %d marketing-DB rows", res.Raw, res.CRM, res.MDB), nil, nil
	}
	return "", nil, fmt.Errorf("no stage %d", int(stage))
}

func warningsOf(errs ...error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// StageStatus is the dry-run view of one stage.
type StageStatus struct {
	Stage    Stage
	Last     *database.StageRun
	Runnable bool
}

// Plan returns every stage of an event with its last run and whether it may
// run now.
func (r *Runner) Plan(eventKey string) ([]StageStatus, error) {
	done, err := r.runs.DoneStages(eventKey)
	if err != nil {
		return nil, err
	}
	var out []StageStatus
	for _, s := range Stages() {
		last, err := r.runs.LastStageRun(eventKey, int(s))
		if err != nil {
			return nil, err
		}
		out = append(out, StageStatus{Stage: s, Last: last, Runnable: Runnable(s, done)})
	}
	return out, nil
}

// DryRun shows what would be done without executing.
func (r *Runner) DryRun(eventKey string) (*Result, error) {
	plan, err := r.Plan(eventKey)
	if err != nil {
		return nil, err
	}
	res := &Result{Event: eventKey}
	for _, st := range plan {
		state := "never run"
		if st.Last != nil {
			state = "last run " + string(st.Last.Status)
		}
		next := "blocked"
		if st.Runnable {
			next = "runnable"
		}
		res.Steps = append(res.Steps, StepResult{
			Name:    st.Stage.String(),
			Summary: fmt.Sprintf("[dry-run] %s, %s", state, next),
		})
	}
	return res, nil
}
