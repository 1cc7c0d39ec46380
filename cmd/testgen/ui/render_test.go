package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/prd-testgen/pkg/testgen"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr, prevNoColor, prevSpin := Out, ErrOut, color.NoColor, spinEnabled
	Out, ErrOut = &out, &errOut
	InitUI(true, false)
	t.Cleanup(func() {
		Out, ErrOut, color.NoColor, spinEnabled = prevOut, prevErr, prevNoColor, prevSpin
		verboseFlag = false
	})
	return &out, &errOut
}

func event(t *testing.T, typ string, data any) testgen.Event {
	t.Helper()
	ev := testgen.Event{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		ev.Data = raw
	}
	return ev
}

func TestRenderer_Consume(t *testing.T) {
	out, errOut := captureOutput(t)

	events := make(chan testgen.Event, 8)
	events <- testgen.Event{Type: testgen.EventLog, Message: "Parsing inline text"}
	events <- event(t, testgen.EventImages, map[string]string{"1": "data:image/jpeg;base64,AAA"})
	events <- testgen.Event{Type: testgen.EventLog, Message: "Warning: asset img2 unavailable"}
	events <- event(t, testgen.EventAnalysis, testgen.Plan{
		DetectedModules: []string{"Login"},
		AnalysisAndPlan: []testgen.ModulePlan{{ModuleName: "Login", PlannedStreamA: []string{"Login_OK"}}},
	})
	events <- event(t, testgen.EventCases, []testgen.TestCase{{
		ModuleName: "Login", Title: "Login_OK", Type: "A", ExpectedResult: "Home page shown",
	}})
	events <- testgen.Event{Type: testgen.EventDone, Message: "Generated 1 test cases across 1 modules in 3s"}
	close(events)

	outcome := NewRenderer().Consume(events)

	assert.Equal(t, 1, outcome.Images)
	require.NotNil(t, outcome.Plan)
	assert.Len(t, outcome.Cases, 1)
	assert.Nil(t, outcome.Err)

	text := out.String()
	assert.Contains(t, text, "ℹ Parsing inline text")
	assert.Contains(t, text, "⚠ asset img2 unavailable")
	assert.Contains(t, text, "Test Plan")
	assert.Contains(t, text, "Login_OK")
	assert.Contains(t, text, "✓ Generated 1 test cases")
	assert.Empty(t, errOut.String())
}

func TestRenderer_ErrorEvent(t *testing.T) {
	_, errOut := captureOutput(t)

	r := NewRenderer()
	r.Handle(testgen.Event{Type: testgen.EventError, Stage: "plan", Message: "module \"Cart\" detected but not planned"})

	require.NotNil(t, r.outcome.Err)
	assert.Equal(t, "plan", r.outcome.Err.Stage)
	assert.Contains(t, errOut.String(), "plan stage failed")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a  b\n c", 10, "a b c"},
		{"abcdefghij", 5, "abcd…"},
		{"登录成功后跳转首页", 4, "登录成…"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.n))
	}
}

func TestImageProgress_DrawsBarAndFinishes(t *testing.T) {
	_, errOut := captureOutput(t)
	spinEnabled = true

	p := NewImageProgress(nil)
	p.Update(0, 3)
	assert.True(t, p.Active())
	p.Update(1, 3)
	p.Update(3, 3)
	assert.False(t, p.Active())

	assert.Contains(t, errOut.String(), "Downloading images")
	assert.Contains(t, errOut.String(), "3/3")
}

func TestImageProgress_IgnoresEmptyTotal(t *testing.T) {
	_, errOut := captureOutput(t)

	p := NewImageProgress(nil)
	p.Update(0, 0)
	assert.False(t, p.Active())
	assert.Empty(t, errOut.String())
}

func TestImageProgress_SilentWithoutColor(t *testing.T) {
	_, errOut := captureOutput(t)

	p := NewImageProgress(nil)
	p.Update(0, 2)
	p.Update(2, 2)
	assert.Empty(t, errOut.String())
}
