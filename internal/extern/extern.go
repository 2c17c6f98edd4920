// Package extern classifies failures coming back from the external systems
// the pipeline drives: the desktop database, its form automation and the
// office-file layer. Those systems only report free text, so a fixed rule
// table maps known fragments to a Kind and an operator-facing message.
package extern

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Kind is the category of an external-system failure.
type Kind int

const (
	Unknown Kind = iota
	AlreadyOpen
	MissingFile
	FormFill
	ObjectNotFound
	ReportAutomation
	FileLocked
)

func (k Kind) String() string {
	switch k {
	case AlreadyOpen:
		return "already-open"
	case MissingFile:
		return "missing-file"
	case FormFill:
		return "form-fill"
	case ObjectNotFound:
		return "object-not-found"
	case ReportAutomation:
		return "report-automation"
	case FileLocked:
		return "file-locked"
	}
	return "unknown"
}

// Rule maps an error message to a Kind when every fragment occurs in it.
// Matching ignores case.
type Rule struct {
	Fragments []string
	Kind      Kind
}

// Rules is evaluated in order; the first matching rule wins.
var Rules = []Rule{
	{[]string{"you already have the database open"}, AlreadyOpen},
	{[]string{"such file or directory"}, MissingFile},
	{[]string{"cannot find the file"}, MissingFile},
	{[]string{"fill", "form"}, FormFill},
	{[]string{"no such table"}, ObjectNotFound},
	{[]string{"no such procedure"}, ObjectNotFound},
	{[]string{"does not exist"}, ObjectNotFound},
	{[]string{"com object"}, ReportAutomation},
	{[]string{"com_error"}, ReportAutomation},
	{[]string{"permission"}, FileLocked},
	{[]string{"database is locked"}, FileLocked},
}

// Classify returns the Kind of the first rule matching msg.
func Classify(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, r := range Rules {
		if matches(lower, r.Fragments) {
			return r.Kind
		}
	}
	return Unknown
}

func matches(msg string, fragments []string) bool {
	for _, f := range fragments {
		if !strings.Contains(msg, f) {
			return false
		}
	}
	return len(fragments) > 0
}

// Error is a classified external-system failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OperatorMessage is the actionable text shown to the operator.
func (e *Error) OperatorMessage() string {
	switch e.Kind {
	case AlreadyOpen:
		return "The desktop database was left open by a previous run. Close it and run this step again."
	case MissingFile:
		return fmt.Sprintf("A file this step needs was not found:\n\n%v\n\nPut the file in place with the same name and run the step again.", e.Err)
	case FormFill:
		return "The database form could not be filled. Open the database, enable its content, close it, and run the step again."
	case ObjectNotFound:
		return fmt.Sprintf("The database has no object the step asked for:\n\n%v\n\nCheck the configured table, procedure and form names.", e.Err)
	case ReportAutomation:
		return "The summary tables could not be generated. The data files were written; build the summary tables manually."
	case FileLocked:
		return "A file this step writes is open elsewhere. Make sure it is closed by all users, then run the step again."
	}
	return fmt.Sprintf("The external system reported an error:\n\n%v\n\nFix the issue and run the step again.", e.Err)
}

// Wrap classifies err and tags it with op. A nil err stays nil and an error
// that is already classified is returned as is. Errors matching
// fs.ErrNotExist are always MissingFile, whatever their text says.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: MissingFile, Op: op, Err: err}
	}
	return &Error{Kind: Classify(err.Error()), Op: op, Err: err}
}

// KindOf returns the Kind of a classified error anywhere in err's chain, or
// Unknown.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return Unknown
}

// Is reports whether err is a classified failure of kind k.
func Is(err error, k Kind) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == k
}
