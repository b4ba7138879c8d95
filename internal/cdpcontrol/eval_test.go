package cdpcontrol

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

func TestJSString(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}
	if got := jsString(`a"</script>`); !strings.HasPrefix(got, `"a\"`) {
		t.Fatalf("jsString = %q; want escaped quote", got)
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
	if !strings.Contains(asyncExpr, "await Promise.resolve(1);") {
		t.Fatalf("async wrapper lost body: %s", asyncExpr)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	var out map[string]any
	if err := decodeEnvelope(`{"ok":true,"data":{"deleted":["cookie:a"]}}`, &out); err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if _, ok := out["deleted"]; !ok {
		t.Fatalf("decodeEnvelope() data = %v; want deleted key", out)
	}

	if err := decodeEnvelope(`{"ok":true}`, &out); err != nil {
		t.Fatalf("decodeEnvelope(no data) error = %v", err)
	}

	var coded *CodedError
	err := decodeEnvelope(`{"ok":false,"error_message":"boom"}`, nil)
	if !errors.As(err, &coded) || coded.Code != CodeEvalFailure || coded.Message != "boom" {
		t.Fatalf("decodeEnvelope(failure) = %v; want EVAL_FAILURE boom", err)
	}
	err = decodeEnvelope(`{"ok":false,"error_code":"VALIDATION","error_message":"empty cookie name"}`, nil)
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("decodeEnvelope(validation) = %v; want VALIDATION", err)
	}
	err = decodeEnvelope(`not json`, nil)
	if !errors.As(err, &coded) || coded.Message != "invalid evaluation envelope" {
		t.Fatalf("decodeEnvelope(garbage) = %v; want invalid envelope", err)
	}
}

func TestCommandScript(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"copy_cookies", []string{"(async function(){", "navigator.clipboard", `command:"copy_cookies"`}},
		{"delete_cookie=session", []string{`var target = "session";`, "var prefix = false;", `command:"delete_cookie"`}},
		{"delete_cookies=ga_", []string{`var target = "ga_";`, "var prefix = true;", "localStorage.removeItem"}},
		{`delete_cookie=a"b`, []string{`var target = "a\"b";`}},
	}
	for _, tt := range tests {
		js, err := commandScript(urlflags.ParseCommand(tt.raw))
		if err != nil {
			t.Fatalf("commandScript(%q) error = %v", tt.raw, err)
		}
		for _, w := range tt.want {
			if !strings.Contains(js, w) {
				t.Fatalf("commandScript(%q) missing %q", tt.raw, w)
			}
		}
	}

	_, err := commandScript(urlflags.ParseCommand("format_disk"))
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("commandScript(unknown) = %v; want VALIDATION", err)
	}
}
