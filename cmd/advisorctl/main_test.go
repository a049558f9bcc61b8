package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/setpoint/internal/plant"
)

// writeSnapshots writes n snapshots one per line and returns the path.
func writeSnapshots(t *testing.T, n int) string {
	t.Helper()
	start := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		s := plant.Snapshot{
			Timestamp:   start.Add(time.Duration(i) * time.Minute),
			Controls:    plant.ControlVector{7730 + float64(i), 4008, 150, 3.5, 750 + float64(i%3), 4.05},
			Constraints: plant.ConstraintVector{1450, 70, 2.6, 850},
		}
		line, err := json.Marshal(s.Document())
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "kiln.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOptimizeCommand(t *testing.T) {
	path := writeSnapshots(t, 12)

	out, err := execute(t, "optimize", "--snapshots", path, "--budget", "12", "--warmup", "4", "--seed", "5",
		"--override", "kiln_o2_pct=2:3", "--price", "clinker_usd_per_t=80", "--kernel", "rbf", "--summary")
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Clinkerization", rec["segment"])
	assert.Len(t, rec["history"], 24)
	assert.Equal(t, 80.0, rec["pricing"].(map[string]interface{})["clinker_usd_per_t"])
	assert.Contains(t, rec["operating"], "targets")
}

func TestOptimizeCommandPlantFile(t *testing.T) {
	snaps := writeSnapshots(t, 8)
	plantFile := filepath.Join(t.TempDir(), "plant.yaml")
	require.NoError(t, os.WriteFile(plantFile, []byte(`segment: Kiln2
operating_limits:
  - mapping_key: burning_zone_temp_c
    ll: 1440
    hl: 1460
pricing:
  clinker_usd_per_t: 66
`), 0o600))

	out, err := execute(t, "--plant", plantFile, "optimize", "-s", snaps, "--budget", "10", "--warmup", "4", "--seed", "1")
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Kiln2", resp["segment"])
	assert.Equal(t, 66.0, resp["pricing"].(map[string]interface{})["clinker_usd_per_t"])
}

func TestOptimizeCommandErrors(t *testing.T) {
	snaps := writeSnapshots(t, 3)

	tests := []struct {
		name     string
		args     []string
		errorMsg string
	}{
		{"missing snapshots flag", []string{"optimize"}, `required flag(s) "snapshots" not set`},
		{"missing file", []string{"optimize", "-s", "/does/not/exist"}, "read snapshots"},
		{"bad override", []string{"optimize", "-s", snaps, "--override", "kiln_o2_pct=2"}, "expected variable=min:max"},
		{"bad price", []string{"optimize", "-s", snaps, "--price", "clinker=abc"}, `price "clinker=abc"`},
		{"too little history", []string{"optimize", "-s", snaps}, "need at least 5 snapshots"},
		{"warmup over budget", []string{"optimize", "-s", snaps, "--budget", "5", "--warmup", "5"}, "warmup trials"},
		{"unknown kernel", []string{"optimize", "-s", snaps, "--kernel", "periodic"}, `unknown kernel "periodic"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestReadSnapshotsArray(t *testing.T) {
	doc := plant.Snapshot{
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		Controls:    plant.ControlVector{7730, 4008, 150, 3.5, 750, 4.05},
		Constraints: plant.ConstraintVector{1450, 70, 2.6, 850},
	}.Document()
	data, err := json.Marshal([]interface{}{doc, doc})
	require.NoError(t, err)

	snaps, err := readSnapshots(strings.NewReader(string(data)), "-")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	_, err = readSnapshots(strings.NewReader("{\"kiln\": {}}\n"), "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshots line 1")
}

func TestPricingCommand(t *testing.T) {
	out, err := execute(t, "pricing")
	require.NoError(t, err)

	var pricing map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &pricing))
	assert.Contains(t, pricing, "clinker_usd_per_t")
	assert.Contains(t, pricing, "electricity_usd_per_kwh")
}
