package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordMirrorIO(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordMirrorRead("obs-a", 1)
	RecordMirrorRead("obs-a", 1)
	RecordMirrorWrite("obs-a", 0)
	RecordRetry("obs-a", "write")
	RecordIOCompleted("obs-a", "read", true)
	RecordIOCompleted("obs-a", "write", false)
	SetMirrorsPresent("obs-a", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(mirrorReads.WithLabelValues("obs-a", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mirrorWrites.WithLabelValues("obs-a", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(retries.WithLabelValues("obs-a", "write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ioCompleted.WithLabelValues("obs-a", "write", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mirrorsPresent.WithLabelValues("obs-a")))
}

func TestForgetArray(t *testing.T) {
	RecordMirrorRead("obs-b", 0)
	RecordMirrorRead("obs-c", 0)

	ForgetArray("obs-b")

	// A forgotten series starts again from zero when next touched.
	assert.Equal(t, 0.0, testutil.ToFloat64(mirrorReads.WithLabelValues("obs-b", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mirrorReads.WithLabelValues("obs-c", "0")))
}
