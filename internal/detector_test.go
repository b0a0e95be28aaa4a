package internal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

func sampleDeal() *domain.Deal {
	return &domain.Deal{
		ID:            4242,
		Title:         "Boiler retrofit",
		Amount:        decimal.NewFromInt(15300),
		CurrencyID:    "RUB",
		StageID:       "C1:STAGE_2",
		StageSemantic: domain.SemanticProspective,
		Status:        domain.StatusOK,
		AssignedByID:  17,
		CompanyID:     900,
	}
}

func TestDetectIdenticalDealsProduceEmptyDiff(t *testing.T) {
	detector := NewChangeDetector()
	remote := sampleDeal()
	local := sampleDeal()

	diff := detector.Detect(remote, local)
	assert.Empty(t, diff)
}

func TestDetectReportsChangedFields(t *testing.T) {
	detector := NewChangeDetector()
	remote := sampleDeal()
	local := sampleDeal()
	remote.Title = "Boiler retrofit, phase 2"
	remote.Amount = decimal.NewFromInt(18000)

	diff := detector.Detect(remote, local)
	require.Len(t, diff, 2)

	assert.Equal(t, "Boiler retrofit, phase 2", diff["TITLE"].External)
	assert.Equal(t, "Boiler retrofit", diff["TITLE"].Internal)
	assert.Equal(t, "18000", diff["OPPORTUNITY"].External)
}

func TestDetectSkipsVolatileFields(t *testing.T) {
	detector := NewChangeDetector()
	remote := sampleDeal()
	local := sampleDeal()
	remote.Status = domain.StatusOverdue
	remote.CurrentStageID = "C1:STAGE_3"

	diff := detector.Detect(remote, local)
	assert.Empty(t, diff, "scheduler-owned fields must not show up as drift")
}

func TestDetectExtraVolatileFields(t *testing.T) {
	detector := NewChangeDetector("TITLE")
	remote := sampleDeal()
	local := sampleDeal()
	remote.Title = "renamed upstream"

	diff := detector.Detect(remote, local)
	assert.Empty(t, diff)
}

func TestDetectIsDeterministic(t *testing.T) {
	detector := NewChangeDetector()
	remote := sampleDeal()
	local := sampleDeal()
	remote.City = "Tver"

	first := detector.Detect(remote, local)
	second := detector.Detect(remote, local)
	assert.Equal(t, first, second)
}

func TestDetectNilLocalTreatsEverythingAsDrift(t *testing.T) {
	detector := NewChangeDetector()
	remote := sampleDeal()

	diff := detector.Detect(remote, nil)
	assert.NotEmpty(t, diff)
	assert.Equal(t, remote.Title, diff["TITLE"].External)
	assert.Nil(t, diff["TITLE"].Internal)
}

func TestAccumulatorSetIfAbsentAndMerge(t *testing.T) {
	acc := NewUpdateAccumulator()

	acc.Set("STAGE_ID", "C1:STAGE_3")
	assert.False(t, acc.SetIfAbsent("STAGE_ID", "C1:STAGE_1"), "business decision must win over drift")
	assert.True(t, acc.SetIfAbsent("CITY", "Tver"))

	acc.Merge(map[string]any{
		"STAGE_ID": "C1:STAGE_1",
		"TITLE":    "from drift",
	})

	fields := acc.Fields()
	assert.Equal(t, "C1:STAGE_3", fields["STAGE_ID"])
	assert.Equal(t, "Tver", fields["CITY"])
	assert.Equal(t, "from drift", fields["TITLE"])
	assert.Equal(t, 3, acc.Len())
}

func TestAccumulatorFieldsReturnsCopy(t *testing.T) {
	acc := NewUpdateAccumulator()
	acc.Set("TITLE", "a")

	fields := acc.Fields()
	fields["TITLE"] = "mutated"

	assert.Equal(t, "a", acc.Fields()["TITLE"])
}
