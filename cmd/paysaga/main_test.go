package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCmd_Levels(t *testing.T) {
	out, err := execute(t, "plan", "--levels")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "1: validate", lines[0])
	assert.Equal(t, "3: fraud_check, aml_check, sanctions_check", lines[2])
	assert.Equal(t, "8: notify", lines[7])
}

func TestPlanCmd_Dot(t *testing.T) {
	out, err := execute(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "capture")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: tape\n"), 0o644))

	_, err := execute(t, "--config", path, "plan")
	assert.Error(t, err)
}

func TestPrintValue(t *testing.T) {
	sum := paysaga.Summary{
		SagaID:        "payment-1",
		Status:        paysaga.StatusCompleted,
		TransactionID: "txn_1",
		UpdatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var yamlOut bytes.Buffer
	require.NoError(t, printValue(&yamlOut, "yaml", sum))
	assert.Contains(t, yamlOut.String(), "saga_id: payment-1")
	assert.Contains(t, yamlOut.String(), "status: completed")

	var jsonOut bytes.Buffer
	require.NoError(t, printValue(&jsonOut, "json", sum))
	assert.Contains(t, jsonOut.String(), `"transaction_id": "txn_1"`)

	assert.Error(t, printValue(&bytes.Buffer{}, "xml", sum))
}

func TestClosers_ReverseOrder(t *testing.T) {
	var order []int
	c := closers{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("boom") },
	}
	err := c.Close()
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []int{2, 1}, order)
}

func TestApprovalHook(t *testing.T) {
	f := &localFlags{decision: "maybe"}
	_, err := f.approvalHook(strings.NewReader(""), &bytes.Buffer{}, nil)
	assert.Error(t, err)

	f.decision = "none"
	hook, err := f.approvalHook(strings.NewReader(""), &bytes.Buffer{}, nil)
	require.NoError(t, err)
	assert.Nil(t, hook)

	f.decision = "prompt"
	var prompt bytes.Buffer
	hook, err = f.approvalHook(strings.NewReader("y\n"), &prompt, nil)
	require.NoError(t, err)
	assert.NotNil(t, hook)
}
