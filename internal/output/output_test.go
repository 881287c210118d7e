package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestPrintJSON(t *testing.T) {
	u, out, _ := newTestUI()
	require.NoError(t, u.PrintJSON(map[string]int{"version": 3}))
	assert.JSONEq(t, `{"version": 3}`, out.String())
	assert.Contains(t, out.String(), "\n  \"version\"")
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestStatusColor(t *testing.T) {
	assert.NotEmpty(t, StatusColor("pending"))
	assert.NotEmpty(t, StatusColor("in_progress"))
	assert.NotEmpty(t, StatusColor("completed"))
	assert.NotEmpty(t, StatusColor("failed"))
	assert.Equal(t, "unknown", StatusColor("unknown"))
}

func TestRiskColor(t *testing.T) {
	assert.Equal(t, "-", RiskColor(nil, ""))

	score := 0.1625
	assert.Contains(t, RiskColor(&score, "low"), "0.16 low")
	score = 0.72
	assert.Contains(t, RiskColor(&score, "critical"), "0.72 critical")
	assert.Contains(t, RiskColor(&score, ""), "0.72")
}

func TestSeverityAndTrendColor(t *testing.T) {
	assert.Contains(t, SeverityColor("high"), "high")
	assert.Contains(t, SeverityColor("low"), "low")
	assert.Equal(t, "info", SeverityColor("info"))
	assert.Contains(t, TrendColor("improving"), "improving")
	assert.Equal(t, "stable", TrendColor("stable"))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Review", "Status"})
	require.NotNil(t, table)

	table.Append([]string{"01HV3K", "completed"})
	table.Append([]string{"01HV3M", "failed"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "01HV3K"), "table output should contain review ids")
	assert.True(t, strings.Contains(result, "01HV3M"), "table output should contain review ids")
}
