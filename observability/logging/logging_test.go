package logging

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setup("icusdd", "test", &buf)
	logger.Info("event appended", "event_type", "open_vault")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "icusdd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "event appended", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "open_vault", line["event_type"])
	require.Contains(t, line, "timestamp")
}

func TestMaskFieldRedactsUnknownKeys(t *testing.T) {
	masked := MaskField("admin_token", "hunter2")
	require.Equal(t, RedactedValue, masked.Value.String())

	passthrough := MaskField("vault_id", "42")
	require.Equal(t, "42", passthrough.Value.String())

	empty := MaskField("admin_token", "")
	require.Equal(t, "", empty.Value.String())
}

func TestRedactionAllowlistIsSortedAndStable(t *testing.T) {
	keys := RedactionAllowlist()
	require.True(t, sort.StringsAreSorted(keys))
	require.Contains(t, keys, "event_type")
	require.True(t, IsAllowlisted("  Event_Type "))
	require.False(t, IsAllowlisted("owner"))
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.Equal(t, "", MaskValue(""))
}
