package jobs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	incidentrepo "github.com/opsboard/opsboard-backend/internal/incident/repository"
)

func TestScanVerdict_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("attachment-%d", i)
		assert.Equal(t, scanVerdict(id), scanVerdict(id))
	}
}

func TestScanVerdict_TerminalStatuses(t *testing.T) {
	clean, infected := 0, 0
	for i := 0; i < 1000; i++ {
		switch scanVerdict(fmt.Sprintf("attachment-%d", i)) {
		case incidentrepo.ScanClean:
			clean++
		case incidentrepo.ScanInfected:
			infected++
		default:
			t.Fatal("verdict must be CLEAN or INFECTED")
		}
	}

	// Roughly 1 in 20 infected; both outcomes must occur.
	assert.Greater(t, clean, 0)
	assert.Greater(t, infected, 0)
	assert.Greater(t, clean, infected)
}
