package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emissions-network/submitx/pkg/chain"
)

type fakeAudit struct {
	active bool
	err    error
}

func (f *fakeAudit) HasActiveSubmission(uint64, string, uint64) (bool, error) {
	return f.active, f.err
}

func testWindow(observed uint64) chain.SubmissionWindow {
	return chain.SubmissionWindow{
		TopicID:          7,
		WorkerAddr:       "worker1",
		WindowStartBlock: 100,
		WindowEndBlock:   110,
		ObservedAtBlock:  observed,
	}
}

func TestIsEligible(t *testing.T) {
	tr := New(6)

	t.Run("open window, no prior record", func(t *testing.T) {
		el, err := tr.IsEligible(testWindow(105), 42, &fakeAudit{})
		require.NoError(t, err)
		assert.True(t, el.Eligible)
		assert.Equal(t, ReasonNone, el.Reason)
	})

	t.Run("closed at end block", func(t *testing.T) {
		el, err := tr.IsEligible(testWindow(110), 42, &fakeAudit{})
		require.NoError(t, err)
		assert.False(t, el.Eligible)
		assert.Equal(t, ReasonWindowClosed, el.Reason)
	})

	t.Run("closed past end block", func(t *testing.T) {
		el, err := tr.IsEligible(testWindow(111), 42, &fakeAudit{})
		require.NoError(t, err)
		assert.False(t, el.Eligible)
		assert.Equal(t, ReasonWindowClosed, el.Reason)
	})

	t.Run("active prior submission blocks", func(t *testing.T) {
		el, err := tr.IsEligible(testWindow(105), 42, &fakeAudit{active: true})
		require.NoError(t, err)
		assert.False(t, el.Eligible)
		assert.Equal(t, ReasonDuplicate, el.Reason)
	})

	t.Run("closed window wins over duplicate check", func(t *testing.T) {
		// The audit reader must not even be consulted for a closed window.
		el, err := tr.IsEligible(testWindow(111), 42, &fakeAudit{err: errors.New("boom")})
		require.NoError(t, err)
		assert.Equal(t, ReasonWindowClosed, el.Reason)
	})

	t.Run("audit read failure propagates", func(t *testing.T) {
		_, err := tr.IsEligible(testWindow(105), 42, &fakeAudit{err: errors.New("boom")})
		require.Error(t, err)
	})
}

func TestSecondsRemaining(t *testing.T) {
	tr := New(6)
	assert.Equal(t, int64(30), tr.SecondsRemaining(testWindow(105)))
	assert.Equal(t, int64(0), tr.SecondsRemaining(testWindow(111)))
}
