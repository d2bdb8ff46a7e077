package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/verdict/internal/advisory"
)

func testChange() *advisory.Change {
	return &advisory.Change{
		AdvisoryID:  "CVE-2024-1234|openssl",
		CVEID:       "CVE-2024-1234",
		PackageName: "openssl",
		FromState:   advisory.StatePendingUpstream,
		ToState:     advisory.StateFixed,
		ReasonCode:  "UPSTREAM_FIX",
		Confidence:  advisory.ConfidenceHigh,
		Explanation: "Fixed in version 3.0.8. Fix available from upstream.",
		RunID:       "run-42",
		At:          time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.Send(context.Background(), testChange()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}

	// header, divider, fields, divider, explanation, divider, context = 7 blocks
	if len(blocks) != 7 {
		t.Errorf("blocks count = %d, want 7", len(blocks))
	}

	// Verify header contains the CVE and the green emoji for a fixed state
	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "CVE-2024-1234") {
		t.Errorf("header text = %q, want to contain CVE-2024-1234", headerText)
	}
	if !strings.Contains(headerText, "\U0001f7e2") {
		t.Errorf("header should contain green circle for fixed state")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), &advisory.Change{}); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongExplanation(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testChange()
	c.Explanation = strings.Repeat("x", 4000)

	n := New(srv.URL)
	if err := n.Send(context.Background(), c); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	explanationSection := blocks[4].(map[string]any)
	text := explanationSection["text"].(map[string]any)["text"].(string)

	// Text includes the "*Explanation*\n\n" prefix, so the explanation portion
	// is what follows, truncated to maxExplanationLen chars.
	if len(text) > maxExplanationLen+len("*Explanation*\n\n") {
		t.Errorf("explanation text length = %d, expected <= %d", len(text), maxExplanationLen+len("*Explanation*\n\n"))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated explanation to end with ...")
	}
}

func TestHeaderTitle_NewAdvisory(t *testing.T) {
	t.Parallel()

	c := testChange()
	c.FromState = ""

	header := headerBlock(c)
	text := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(text, "New Advisory") {
		t.Errorf("header text = %q, want New Advisory title", text)
	}
}

func TestStateEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		toState    advisory.State
		regression bool
		want       string
	}{
		{"fixed", advisory.StateFixed, false, "\U0001f7e2"},
		{"not_applicable", advisory.StateNotApplicable, false, "\U0001f7e2"},
		{"pending", advisory.StatePendingUpstream, false, "\U0001f7e1"},
		{"unknown", advisory.StateUnknown, false, "\U0001f534"},
		{"regression", advisory.StateFixed, true, "\U0001f534"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := stateEmoji(&advisory.Change{ToState: tt.toState, IsRegression: tt.regression})
			if got != tt.want {
				t.Errorf("stateEmoji(%q, regression=%v) = %q, want %q", tt.toState, tt.regression, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("CVE-2024-1", "openssl", "UPSTREAM_FIX", "Fixed in version 3.0.8.")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "pkg", "*bold* _italic_ ~strike~", "explanation")
	f.Add("cve\x00\x01\x02", "pkg\nline", "code\ttab", "e\x00xpl")
	f.Add(strings.Repeat("A", 5000), "pkg", "CSV_OVERRIDE", strings.Repeat("x", 10000))
	f.Add("test", "pkg", "NEW_CVE", "```code block``` and <http://example.com|link>")

	f.Fuzz(func(t *testing.T, cveID, packageName, reasonCode, explanation string) {
		c := &advisory.Change{
			AdvisoryID:  "fuzz-id",
			CVEID:       cveID,
			PackageName: packageName,
			FromState:   advisory.StatePendingUpstream,
			ToState:     advisory.StateFixed,
			ReasonCode:  reasonCode,
			Confidence:  advisory.ConfidenceMedium,
			Explanation: explanation,
			RunID:       "run-fuzz",
			At:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		// Must not panic
		msg := buildMessage(c)

		// Must produce valid JSON
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		// Must round-trip
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}

		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 7 {
			t.Fatalf("blocks count = %d, want 7", len(blocks))
		}
	})
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.Send(context.Background(), testChange())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
