package extern

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"You already have the database open.", AlreadyOpen},
		{"open C:/data/raw.xlsx: no such file or directory", MissingFile},
		{"The system cannot find the file specified.", MissingFile},
		{"Fill_Form failed: form not loaded", FormFill},
		{"SQL logic error: no such table: LeadImportFile (1)", ObjectNotFound},
		{"query delete_leadimportfile does not exist", ObjectNotFound},
		{"(-2147352567, 'Exception occurred.', com_error)", ReportAutomation},
		{"The COM object failed", ReportAutomation},
		{"[Errno 13] Permission denied: 'archive.xlsx'", FileLocked},
		{"database is locked (5) (SQLITE_BUSY)", FileLocked},
		{"something else went wrong", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.msg); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestRuleOrder(t *testing.T) {
	// A missing file wins over the form rule when both could match.
	msg := "fill form: open form.txt: no such file or directory"
	if got := Classify(msg); got != MissingFile {
		t.Errorf("expected %s, got %s", MissingFile, got)
	}
}

func TestRulesAreNonEmpty(t *testing.T) {
	for i, r := range Rules {
		if len(r.Fragments) == 0 {
			t.Errorf("rule %d has no fragments", i)
		}
		for _, f := range r.Fragments {
			if f != strings.ToLower(f) {
				t.Errorf("rule %d fragment %q must be lower case", i, f)
			}
		}
	}
}

func TestWrap(t *testing.T) {
	if Wrap("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	base := errors.New("You already have the database open")
	err := Wrap("running form", base)

	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ee.Kind != AlreadyOpen {
		t.Errorf("expected %s, got %s", AlreadyOpen, ee.Kind)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to the original")
	}
	if err.Error() != "running form: You already have the database open" {
		t.Errorf("unexpected message %q", err.Error())
	}

	outer := fmt.Errorf("stage 2: %w", err)
	if Wrap("again", outer) != outer {
		t.Error("already classified errors should pass through")
	}
	if !Is(outer, AlreadyOpen) || KindOf(outer) != AlreadyOpen {
		t.Error("expected kind to be found through wrapping")
	}
	if KindOf(base) != Unknown {
		t.Error("unclassified error should report Unknown")
	}
}

func TestOperatorMessage(t *testing.T) {
	for k := Unknown; k <= FileLocked; k++ {
		e := &Error{Kind: k, Op: "op", Err: errors.New("detail")}
		if e.OperatorMessage() == "" {
			t.Errorf("kind %s has no operator message", k)
		}
	}
	e := &Error{Kind: Unknown, Op: "op", Err: errors.New("weird failure")}
	if got := e.OperatorMessage(); !strings.Contains(got, "weird failure") {
		t.Errorf("generic message should surface the raw error, got %q", got)
	}
}

func TestWrapNotExistIsMissingFile(t *testing.T) {
	err := Wrap("reading raw data", fmt.Errorf("open /in/raw.xlsx: %w", fs.ErrNotExist))
	if KindOf(err) != MissingFile {
		t.Errorf("expected MissingFile, got %s", KindOf(err))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("wrapped error should still match fs.ErrNotExist")
	}
}
