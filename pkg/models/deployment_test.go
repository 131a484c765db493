package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAccountedFor_TerminalRequiresFullCoverage(t *testing.T) {
	d := Deployment{
		Status:           DeploymentFailed,
		TotalAssets:      4,
		SuccessfulAssets: 1,
		FailedAssets:     1,
	}
	assert.False(t, d.AccountedFor(), "two skipped assets are missing from Results")

	d.Results.AssetOutcomes = []AssetOutcome{
		{AssetID: uuid.New(), Status: OutcomeSuccess},
		{AssetID: uuid.New(), Status: OutcomeFailed},
		{AssetID: uuid.New(), Status: OutcomeSkipped},
		{AssetID: uuid.New(), Status: OutcomeSkipped},
	}
	assert.True(t, d.AccountedFor(), "skipped outcomes should account for the rest of the batch")
}

func TestAccountedFor_InProgressNeverRequiresEquality(t *testing.T) {
	d := Deployment{
		Status:           DeploymentInProgress,
		TotalAssets:      4,
		SuccessfulAssets: 1,
		FailedAssets:     0,
	}
	assert.True(t, d.AccountedFor())
}

func TestAccountedFor_OverCountIsAlwaysInvalid(t *testing.T) {
	d := Deployment{
		Status:           DeploymentInProgress,
		TotalAssets:      2,
		SuccessfulAssets: 2,
		FailedAssets:     1,
	}
	assert.False(t, d.AccountedFor())
}
