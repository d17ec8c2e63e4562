package persistence

import (
	"testing"

	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRunThenStartRunTracksStatus(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0001")

	require.NoError(t, store.StartRun(runID))
	status, reason := store.RunStatus(runID)
	assert.Equal(t, "running", status)
	assert.Empty(t, reason)
}

func TestRecordPointAccumulatesInOrder(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0001")

	require.NoError(t, store.RecordPoint(runID, PointMetrics{QPoint: "Q1", Pass: true}))
	require.NoError(t, store.RecordPoint(runID, PointMetrics{QPoint: "Q2", Pass: false}))

	points := store.Points(runID)
	require.Len(t, points, 2)
	assert.Equal(t, "Q1", points[0].QPoint)
	assert.Equal(t, "Q2", points[1].QPoint)
	assert.False(t, points[1].Pass)
}

func TestCompleteRunSetsCompletedStatus(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0001")
	require.NoError(t, store.StartRun(runID))
	require.NoError(t, store.CompleteRun(runID))

	status, _ := store.RunStatus(runID)
	assert.Equal(t, "completed", status)
}

func TestAbortRunRecordsReason(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0001")
	require.NoError(t, store.AbortRun(runID, "OVERPRESSURE"))

	status, reason := store.RunStatus(runID)
	assert.Equal(t, "aborted", status)
	assert.Equal(t, "OVERPRESSURE", reason)
}

func TestIssueCertificateFormatsMeterSerialDateSequence(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0042")

	cert, err := store.IssueCertificate(runID)
	require.NoError(t, err)
	assert.Regexp(t, `^CAL-MTR-0042-\d{8}-1$`, cert)
}

func TestIssueCertificateIncrementsSequencePerSerialAndDate(t *testing.T) {
	store := NewInProcess()

	runA := NewRunID()
	store.RegisterRun(runA, "MTR-0042")
	certA, err := store.IssueCertificate(runA)
	require.NoError(t, err)

	runB := NewRunID()
	store.RegisterRun(runB, "MTR-0042")
	certB, err := store.IssueCertificate(runB)
	require.NoError(t, err)

	assert.NotEqual(t, certA, certB)
	assert.Regexp(t, `-1$`, certA)
	assert.Regexp(t, `-2$`, certB)
}

func TestIssueCertificateSequenceIsIndependentPerMeterSerial(t *testing.T) {
	store := NewInProcess()

	runA := NewRunID()
	store.RegisterRun(runA, "MTR-0001")
	certA, err := store.IssueCertificate(runA)
	require.NoError(t, err)

	runB := NewRunID()
	store.RegisterRun(runB, "MTR-0002")
	certB, err := store.IssueCertificate(runB)
	require.NoError(t, err)

	assert.Regexp(t, `-1$`, certA)
	assert.Regexp(t, `-1$`, certB)
}

func TestRecordSensorTickAndManualEntryAreNoOpsButDoNotError(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID()
	store.RegisterRun(runID, "MTR-0001")

	require.NoError(t, store.RecordSensorTick(runID, sensors.Snapshot{}, "Q1", "periodic", ""))
	require.NoError(t, store.RecordManualEntry(runID, "Q1", "before", 10.5, "operator-1"))
}

func TestUnregisteredRunFallsBackToUnknownSerial(t *testing.T) {
	store := NewInProcess()
	runID := NewRunID() // never registered

	cert, err := store.IssueCertificate(runID)
	require.NoError(t, err)
	assert.Regexp(t, `^CAL-UNKNOWN-\d{8}-1$`, cert)
}

func TestNewRunIDProducesUniqueValues(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
}
