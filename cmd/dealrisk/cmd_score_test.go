package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreRejectsModelWithSaveModel(t *testing.T) {
	scoreModelPath = "model.json"
	scoreSaveModel = "trained.json"
	defer func() {
		scoreModelPath = ""
		scoreSaveModel = ""
	}()

	err := runScore(scoreCmd, nil)
	assert.ErrorContains(t, err, "--save-model conflicts with --model")
}
