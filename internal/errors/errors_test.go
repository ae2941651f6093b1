package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "config error",
			code:    "E100",
			wantMsg: "Config file not found",
			wantCat: CategoryConfig,
		},
		{
			name:    "transport error",
			code:    "E120",
			wantMsg: "Application unreachable",
			wantCat: CategoryTransport,
		},
		{
			name:    "protocol error",
			code:    "E140",
			wantMsg: "Handshake failed",
			wantCat: CategoryProtocol,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategorySession, "session %q not found", "abc")
	if err.Message != `session "abc" not found` {
		t.Errorf("Message = %q, want %q", err.Message, `session "abc" not found`)
	}
	if err.Category != CategorySession {
		t.Errorf("Category = %q, want %q", err.Category, CategorySession)
	}
}

func TestSyncError_Error(t *testing.T) {
	err := New("E100")
	got := err.Error()
	want := "E100: Config file not found"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	// Without code
	err2 := &SyncError{Message: "test error"}
	if err2.Error() != "test error" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "test error")
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := New("E120").Wrap(cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E101") != nil {
		t.Error("FromError(nil) should be nil")
	}

	cause := fmt.Errorf("plain error")
	err := FromError(cause, "E101")
	if err.Code != "E101" {
		t.Errorf("Code = %q, want E101", err.Code)
	}
	if err.Wrapped != cause {
		t.Error("Wrapped should be the original error")
	}

	// A SyncError passes through unchanged.
	se := New("E120")
	if FromError(se, "E101") != se {
		t.Error("FromError should not re-wrap a SyncError")
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E103").WithSuggestion("Set app.endpoint in meshsync.json")
	out := err.Format()

	for _, want := range []string{
		"ERROR E103: Missing application endpoint",
		"Hint: Set app.endpoint in meshsync.json",
		"https://meshsync.dev/docs/errors/E103",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q in:\n%s", want, out)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("E120").Wrap(fmt.Errorf("connection refused"))
	got := err.FormatCompact()
	want := "E120: Application unreachable: connection refused"
	if got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("E102").WithDetail("Port 70000 is out of range")
	out := err.FormatJSON()

	for _, want := range []string{
		`"code":"E102"`,
		`"category":"config"`,
		`"detail":"Port 70000 is out of range"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatJSON() missing %q in %s", want, out)
		}
	}
}

func TestRegister(t *testing.T) {
	Register("E900", ErrorTemplate{
		Category: CategoryCLI,
		Message:  "Custom failure",
	})
	err := New("E900")
	if err.Message != "Custom failure" {
		t.Errorf("Message = %q, want %q", err.Message, "Custom failure")
	}
	if _, ok := Lookup("E900"); !ok {
		t.Error("Lookup should find the registered code")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("a somewhat longer sentence that should wrap onto multiple lines of output", 20)
	if len(lines) < 2 {
		t.Fatalf("expected multiple lines, got %v", lines)
	}
	for _, line := range lines {
		if len(line) > 20 {
			t.Errorf("line %q exceeds width", line)
		}
	}
}
