package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(sessionsTotal.WithLabelValues("ok"))
	RecordSession("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsTotal.WithLabelValues("ok")))

	purged := testutil.ToFloat64(tombstonesPurged)
	RecordPurged(0)
	RecordPurged(3)
	assert.Equal(t, purged+3, testutil.ToFloat64(tombstonesPurged))

	conflicts := testutil.ToFloat64(conflictsTotal.WithLabelValues("server", "tie"))
	RecordConflict("server", "tie")
	assert.Equal(t, conflicts+1, testutil.ToFloat64(conflictsTotal.WithLabelValues("server", "tie")))
}
